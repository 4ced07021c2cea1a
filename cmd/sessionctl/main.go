// Package main is sessionctl, a command line client that logs in against the
// identity provider and keeps the session in the same durable store the
// gateway and other sessionctl processes use.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"strings"

	"github.com/jrsteele09/go-auth-session/auth"
	"github.com/jrsteele09/go-auth-session/httpclient"
	"github.com/jrsteele09/go-auth-session/internal/config"
	"github.com/jrsteele09/go-auth-session/provider"
	"github.com/jrsteele09/go-auth-session/sessions"
	"github.com/jrsteele09/go-auth-session/sessions/filetier"
	"github.com/jrsteele09/go-auth-session/sessions/memtier"
	"github.com/jrsteele09/go-auth-session/sessions/redistier"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const appName = "sessionctl"

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app is what every command works with; it is built once the flags are parsed
type app struct {
	config    config.Config
	store     *sessions.Store
	manager   *auth.Manager
	transport *httpclient.Transport
	closers   []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func rootCmd() *cobra.Command {
	var (
		configPath string
		logLevel   string
		a          = &app{}
	)

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Log in to the bank and manage the stored session",
		Long: `sessionctl logs in with the direct grant and stores the session in the
durable tier (a file, or Redis when REDIS_ADDR is set). Every process using the
same store sees logins, refreshes and logouts made by the others.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := setupLogging(logLevel); err != nil {
				return err
			}
			return a.open(cmd.Context(), configPath)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.close()
		},
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("CONFIG_FILE"), "Config file path (YAML)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")

	cmd.AddCommand(
		loginCmd(a),
		logoutCmd(a),
		statusCmd(a),
		refreshCmd(a),
		tokenCmd(a),
		customersCmd(a),
		watchCmd(a),
	)
	return cmd
}

func (a *app) open(ctx context.Context, configPath string) error {
	c, err := config.Load(configPath)
	if err != nil {
		return err
	}
	a.config = c

	durable, err := a.durableTier(c)
	if err != nil {
		return err
	}
	// A process has no tab to outlive; sessions not remembered end with it
	a.store = sessions.NewStore(durable, memtier.New(), sessions.WithPollInterval(c.GetPollInterval()))

	p := provider.New(provider.Options{
		ClientID:     c.GetClientID(),
		ClientSecret: c.GetClientSecret(),
		AuthURL:      c.GetAuthURL(),
		TokenURL:     c.GetTokenURL(),
		LogoutURL:    c.GetLogoutURL(),
		Scopes:       c.GetScopes(),
		HTTPClient:   &http.Client{Timeout: c.GetProviderTimeout()},
	})

	a.transport = httpclient.NewTransport(a.store, httpclient.WithProviderHosts(append(c.GetProviderHosts(), p.Hosts()...)...))
	a.manager, err = auth.NewManager(a.store, p, auth.DirectStrategy,
		auth.WithBinding(a.transport),
		auth.WithRefreshSkew(c.GetRefreshSkew()),
	)
	if err != nil {
		return err
	}
	a.transport.SetSource(a.manager)
	a.closers = append(a.closers, a.manager.Close)
	return nil
}

func (a *app) durableTier(c config.Config) (sessions.Tier, error) {
	if addr := c.GetRedisAddr(); addr != "" {
		client := redis.NewClient(&redis.Options{Addr: addr})
		a.closers = append(a.closers, func() { _ = client.Close() })
		return redistier.New(client, "", c.GetRedisProfile()), nil
	}

	var options []filetier.Option
	if hexKey := c.GetSessionKey(); hexKey != "" {
		key, err := filetier.ParseKey(hexKey)
		if err != nil {
			return nil, err
		}
		options = append(options, filetier.WithKey(key))
	}
	return filetier.New(c.GetSessionFile(), options...)
}

func (a *app) api() *httpclient.APIClient {
	return httpclient.NewAPIClient(a.config.GetAPIBaseURL(), a.transport)
}

func setupLogging(level string) error {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	return nil
}
