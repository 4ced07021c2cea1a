package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/jrsteele09/go-auth-session/auth"
	"github.com/jrsteele09/go-auth-session/internal/config"
	"github.com/jrsteele09/go-auth-session/provider"
	"github.com/jrsteele09/go-auth-session/registration"
	"github.com/jrsteele09/go-auth-session/server"
	"github.com/jrsteele09/go-auth-session/sessions"
	"github.com/jrsteele09/go-auth-session/sessions/filetier"
	"github.com/jrsteele09/go-auth-session/sessions/redistier"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	runWithRestart(run, 1*time.Second)
	log.Info().Msg("Server stopped")
}

// runWithRestart runs fn again after every failure until it returns cleanly
func runWithRestart(fn func() error, pause time.Duration) {
	for {
		err := fn()
		if err == nil {
			return
		}
		log.Error().Err(err).Msg("Error running server, restarting")
		time.Sleep(pause)
	}
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("Recovered from panic")
			debug.PrintStack()
			returnError = errors.New("panic recovered")
		}
	}()

	c, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		return err
	}
	setupLogging(c.GetEnv())
	displayAppname(c.GetAppName())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deps, closeDeps, err := buildDeps(ctx, c)
	if err != nil {
		return err
	}
	defer closeDeps()

	gateway, err := server.New(ctx, c, deps)
	if err != nil {
		return err
	}
	defer gateway.Close()

	if err := deps.Watcher.Start(ctx); err != nil {
		return err
	}
	defer deps.Watcher.Stop()

	httpServer := &http.Server{Addr: c.GetPort(), Handler: gateway, ReadHeaderTimeout: 10 * time.Second}
	serveErr := make(chan error, 1)
	go func() { serveErr <- listenAndServe(httpServer) }()

	select {
	case err := <-serveErr:
		return err
	case <-waitForStopSignal():
	}
	return shutdown(httpServer)
}

func buildDeps(ctx context.Context, c config.Config) (server.Deps, func(), error) {
	httpClient := &http.Client{Timeout: c.GetProviderTimeout()}
	options := provider.Options{
		ClientID:     c.GetClientID(),
		ClientSecret: c.GetClientSecret(),
		AuthURL:      c.GetAuthURL(),
		TokenURL:     c.GetTokenURL(),
		LogoutURL:    c.GetLogoutURL(),
		RedirectURL:  c.GetBaseURL() + server.RouteAuthCallback,
		Scopes:       c.GetScopes(),
		HTTPClient:   httpClient,
	}

	var p *provider.Client
	if c.GetLoginStrategy() == config.RedirectStrategy {
		discovered, err := provider.Discover(ctx, c.GetIssuerURL(), options)
		if err != nil {
			return server.Deps{}, nil, fmt.Errorf("[main buildDeps] %w", err)
		}
		p = discovered
	} else {
		p = provider.New(options)
	}

	durable, closeTiers, err := durableTiers(c)
	if err != nil {
		return server.Deps{}, nil, err
	}

	deps := server.Deps{
		Provider:      p,
		ProviderHosts: append(c.GetProviderHosts(), p.Hosts()...),
		DurableTier:   durable,
		Watcher:       auth.NewWatcher(c.GetPollInterval()),
	}
	if c.GetRegistrationEnabled() {
		deps.Registrar = registration.New(registration.Options{
			ProviderURL:  c.GetProviderURL(),
			Realm:        c.GetRealm(),
			AdminRealm:   c.GetAdminRealm(),
			ClientID:     c.GetAdminClientID(),
			ClientSecret: c.GetAdminClientSecret(),
			HTTPClient:   httpClient,
		})
	}
	return deps, closeTiers, nil
}

// durableTiers stores remembered sessions in Redis when configured, otherwise one
// file per profile. Either way every profile shares one change subscription.
func durableTiers(c config.Config) (server.DurableTierFunc, func(), error) {
	if addr := c.GetRedisAddr(); addr != "" {
		client := redis.NewClient(&redis.Options{Addr: addr})
		hub := redistier.NewHub(client, "")
		log.Info().Str("addr", addr).Str("pattern", hub.Pattern()).Msg("durable sessions stored in redis")
		open := func(profileID string) (sessions.Tier, error) {
			return hub.Tier(profileID), nil
		}
		closeAll := func() {
			_ = hub.Close()
			_ = client.Close()
		}
		return open, closeAll, nil
	}

	var fileOptions []filetier.Option
	if hexKey := c.GetSessionKey(); hexKey != "" {
		key, err := filetier.ParseKey(hexKey)
		if err != nil {
			return nil, nil, fmt.Errorf("[main durableTiers] %w", err)
		}
		fileOptions = append(fileOptions, filetier.WithKey(key))
	}
	path := filepath.Join(c.GetDataFolder(), "profiles")
	dir, err := filetier.NewDir(path, fileOptions...)
	if err != nil {
		return nil, nil, fmt.Errorf("[main durableTiers] %w", err)
	}
	log.Info().Str("dir", path).Bool("encrypted", len(fileOptions) > 0).Msg("durable sessions stored on disk")
	return func(profileID string) (sessions.Tier, error) {
		return dir.Tier(profileID)
	}, func() { _ = dir.Close() }, nil
}

func setupLogging(env string) {
	zerolog.TimeFieldFormat = time.RFC3339
	if env == "DEV" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
		return
	}
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

func listenAndServe(server *http.Server) error {
	log.Info().Str("addr", server.Addr).Msg("Server listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server.ListenAndServe %w", err)
	}
	return nil
}

func waitForStopSignal() <-chan os.Signal {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	return stop
}

func shutdown(server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
