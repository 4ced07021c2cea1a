package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/jrsteele09/go-auth-session/auth"
	"github.com/jrsteele09/go-auth-session/sessions"
	"github.com/spf13/cobra"
)

func loginCmd(a *app) *cobra.Command {
	var (
		username   string
		password   string
		rememberMe bool
	)
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in with phone number and password",
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				password = os.Getenv("SESSIONCTL_PASSWORD")
			}
			if password == "" {
				var err error
				if password, err = readLine(cmd.InOrStdin(), cmd.ErrOrStderr(), "Password: "); err != nil {
					return err
				}
			}
			session, err := a.manager.Login(cmd.Context(), username, password, rememberMe)
			if err != nil {
				return err
			}
			return printSession(cmd.OutOrStdout(), a.manager.State(), session, false)
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "Phone number or username")
	cmd.Flags().StringVarP(&password, "password", "p", "", "Password (SESSIONCTL_PASSWORD or a prompt when empty)")
	cmd.Flags().BoolVar(&rememberMe, "remember", true, "Keep the session in the durable store")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}

func logoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.manager.Logout(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
			return nil
		},
	}
}

func statusCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the stored session, refreshing it when it is about to expire",
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := a.manager.Current(cmd.Context())
			if err != nil {
				return err
			}
			return printSession(cmd.OutOrStdout(), a.manager.State(), session, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print as JSON")
	return cmd
}

func refreshCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Exchange the refresh token for a new access token",
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := a.manager.Refresh(cmd.Context())
			if session == nil {
				return err
			}
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
			}
			return printSession(cmd.OutOrStdout(), a.manager.State(), session, false)
		},
	}
}

func tokenCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "token",
		Short: "Print the current access token",
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := a.manager.Current(cmd.Context())
			if err != nil {
				return err
			}
			if session == nil {
				return fmt.Errorf("not logged in")
			}
			fmt.Fprintln(cmd.OutOrStdout(), session.AccessToken)
			return nil
		},
	}
}

func customersCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "customers",
		Short: "List customers through the banking API",
		RunE: func(cmd *cobra.Command, args []string) error {
			customers, err := a.api().Customers(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tEMAIL\tPHONE")
			for _, c := range customers {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", c.ID, c.FullName, c.Email, c.Phone)
			}
			return w.Flush()
		},
	}
}

func watchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Keep the session alive and print every change, including those made by other processes",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			unsubscribe := a.manager.Subscribe(func(ev auth.Event) {
				subject := ""
				if ev.Session != nil {
					subject = ev.Session.Subject
				}
				fmt.Fprintf(out, "%s  %-12s %-14s %s\n", ev.At.Format(time.TimeOnly), ev.Type, ev.State, subject)
			})
			defer unsubscribe()

			if err := a.store.Watch(ctx); err != nil {
				return err
			}
			watcher := auth.NewWatcher(a.config.GetPollInterval())
			watcher.Add(a.manager)
			if err := watcher.Start(ctx); err != nil {
				return err
			}
			defer watcher.Stop()

			fmt.Fprintf(out, "Watching session (state %s), Ctrl-C to stop\n", a.manager.State())
			<-ctx.Done()
			return nil
		},
	}
}

type sessionStatus struct {
	State       string     `json:"state"`
	Subject     string     `json:"subject,omitempty"`
	DisplayName string     `json:"display_name,omitempty"`
	Roles       []string   `json:"roles,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	Tier        string     `json:"tier,omitempty"`
}

func printSession(w io.Writer, state auth.State, session *sessions.Session, asJSON bool) error {
	status := sessionStatus{State: state.String()}
	if session != nil {
		status.Subject = session.Subject
		status.DisplayName = session.DisplayName
		status.Roles = session.Roles
		status.ExpiresAt = session.ExpiresAt
		status.Tier = string(session.Tier)
	}

	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	}

	if session == nil {
		fmt.Fprintf(w, "State:   %s\n", status.State)
		return nil
	}
	expires := "never"
	if status.ExpiresAt != nil {
		expires = fmt.Sprintf("%s (in %s)", status.ExpiresAt.Local().Format(time.DateTime), time.Until(*status.ExpiresAt).Round(time.Second))
	}
	fmt.Fprintf(w, "State:   %s\n", status.State)
	fmt.Fprintf(w, "Subject: %s\n", status.Subject)
	if status.DisplayName != "" {
		fmt.Fprintf(w, "Name:    %s\n", status.DisplayName)
	}
	fmt.Fprintf(w, "Roles:   %s\n", strings.Join(status.Roles, ", "))
	fmt.Fprintf(w, "Expires: %s\n", expires)
	fmt.Fprintf(w, "Stored:  %s\n", status.Tier)
	return nil
}

func readLine(in io.Reader, prompt io.Writer, label string) (string, error) {
	fmt.Fprint(prompt, label)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", fmt.Errorf("read %s: %w", strings.TrimSuffix(strings.ToLower(label), ": "), err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
