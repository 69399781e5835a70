// Package main is the authrelay CLI: exercises the session-authenticated
// client against an auth backend, or against the bundled mock backend in
// demo mode.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"authrelay/config"
	"authrelay/internal/domain"
	"authrelay/internal/gateway"
	"authrelay/internal/infrastructure/queue"
	sessionstore "authrelay/internal/infrastructure/session"
	tokenstore "authrelay/internal/infrastructure/token"
	"authrelay/internal/mockauth"
	"authrelay/internal/transport"
	"authrelay/internal/usecase"
	"authrelay/utils/logger"

	"github.com/labstack/echo/v4"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Stderr.WriteString("Error: " + err.Error() + "\n")
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "authrelay",
		Short:         "Session-authenticated HTTP client with refresh and replay",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newLoginCmd(), newWhoamiCmd(), newLogoutCmd(), newDemoCmd())
	return root
}

// app bundles the wired session stack.
type app struct {
	controller *usecase.SessionController
	client     *transport.Client
	closer     func()
}

// buildApp wires stores, transport, gateway and controller from config.
func buildApp(cfg *config.Config, signals usecase.Signals, onReauth func()) (*app, error) {
	log := slog.Default()

	var sessions domain.SessionStore
	closer := func() {}
	if cfg.SessionDBPath != "" {
		bolt, err := sessionstore.NewBoltStore(cfg.SessionDBPath)
		if err != nil {
			return nil, err
		}
		sessions = bolt
		closer = func() { bolt.Close() }
	} else {
		sessions = sessionstore.NewMemoryStore()
	}

	tokens := tokenstore.NewMemoryStore()
	q := queue.New(cfg.QueueTTL, log)
	storeCloser := closer
	closer = func() {
		q.Stop()
		storeCloser()
	}

	client, err := transport.NewClient(transport.Options{
		BaseURL:           cfg.BaseURL,
		Tokens:            tokens,
		Sessions:          sessions,
		Queue:             q,
		RefreshRate:       rate.Every(cfg.RefreshInterval),
		RefreshBurst:      cfg.RefreshBurst,
		RefreshTimeout:    cfg.RefreshTimeout,
		TokenExpiryBuffer: cfg.TokenExpiryBuffer,
		OnReauthRequired:  onReauth,
		Logger:            log,
	})
	if err != nil {
		closer()
		return nil, err
	}

	gw := gateway.New(cfg.BaseURL, client, log)
	controller := usecase.NewSessionController(gw, tokens, sessions, q, client, signals, log)
	return &app{controller: controller, client: client, closer: closer}, nil
}

func newLoginCmd() *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate and persist the session",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger.Init()

			a, err := buildApp(cfg, usecase.Signals{}, nil)
			if err != nil {
				return err
			}
			defer a.closer()

			ctx := cmd.Context()
			_ = a.controller.Bootstrap(ctx)
			if err := a.controller.Login(ctx, email, password, ""); err != nil {
				return err
			}

			s := a.controller.Session()
			fmt.Fprintf(cmd.OutOrStdout(), "logged in as %s\n", s.Email)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password")
	cmd.MarkFlagRequired("email")
	cmd.MarkFlagRequired("password")
	return cmd
}

func newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Probe the current session",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger.Init()

			a, err := buildApp(cfg, usecase.Signals{}, nil)
			if err != nil {
				return err
			}
			defer a.closer()

			_ = a.controller.Bootstrap(cmd.Context())
			s := a.controller.Session()
			if !s.LoggedIn {
				fmt.Fprintln(cmd.OutOrStdout(), "not logged in")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s %s)\n", s.Email, s.User.FirstName, s.User.LastName)
			return nil
		},
	}
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Tear down the session locally and server-side",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger.Init()

			a, err := buildApp(cfg, usecase.Signals{}, nil)
			if err != nil {
				return err
			}
			defer a.closer()

			_ = a.controller.Bootstrap(cmd.Context())
			a.controller.Logout(cmd.Context(), false)
			fmt.Fprintln(cmd.OutOrStdout(), "logged out")
			return nil
		},
	}
}

// newDemoCmd runs the bundled mock backend and walks through the recovery
// paths: silent refresh with replay, then queue-and-reauth via a terminal
// prompt.
func newDemoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "demo",
		Short: "Run the mock backend and demonstrate refresh and replay",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger.Init()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			mock := mockauth.New(mockauth.WithAccessTTL(1 * time.Minute))
			mock.Protected(http.MethodGet, "/api/items", func(c echo.Context) error {
				return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
			})

			listener, err := net.Listen("tcp", "127.0.0.1:0")
			if err != nil {
				return err
			}
			server := &http.Server{Handler: mock.Handler()}
			baseURL := "http://" + listener.Addr().String()
			slog.Info("mock auth backend listening", "url", baseURL)

			g, gCtx := errgroup.WithContext(ctx)
			g.Go(func() error {
				if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-gCtx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return server.Shutdown(shutdownCtx)
			})
			g.Go(func() error {
				defer stop()
				return runDemo(gCtx, cmd.OutOrStdout(), cmd.InOrStdin(), baseURL, mock)
			})

			return g.Wait()
		},
	}
}

func runDemo(ctx context.Context, out io.Writer, in io.Reader, baseURL string, mock *mockauth.Server) error {
	cfg := &config.Config{
		BaseURL:         baseURL,
		RequestTimeout:  10 * time.Second,
		RefreshTimeout:  5 * time.Second,
		RefreshInterval: time.Second,
		RefreshBurst:    2,
	}

	var a *app
	prompt := func() {
		fmt.Fprint(out, "session expired, re-enter password for user@example.com: ")
		scanner := bufio.NewScanner(in)
		if !scanner.Scan() {
			a.controller.AbandonReauth()
			return
		}
		password := strings.TrimSpace(scanner.Text())
		if err := a.controller.Login(ctx, "user@example.com", password, ""); err != nil {
			fmt.Fprintf(out, "re-login failed: %v\n", err)
			a.controller.AbandonReauth()
		}
	}

	a, err := buildApp(cfg, usecase.Signals{
		QueueDrained: func() { fmt.Fprintln(out, "queued requests replayed") },
	}, prompt)
	if err != nil {
		return err
	}
	defer a.closer()

	_ = a.controller.Bootstrap(ctx)
	if err := a.controller.Login(ctx, "user@example.com", "secret", ""); err != nil {
		return err
	}
	fmt.Fprintln(out, "logged in")

	// Silent refresh: revoke the access token, the next call recovers
	// transparently through one refresh.
	mock.RevokeAccess()
	if err := callItems(ctx, a.client, baseURL); err != nil {
		return err
	}
	fmt.Fprintf(out, "silent refresh worked (refresh calls: %d)\n", mock.RefreshCalls())

	// Broken refresh: the call parks in the queue and the prompt fires.
	mock.RevokeAccess()
	mock.FailRefresh(true)
	if err := callItems(ctx, a.client, baseURL); err != nil {
		return fmt.Errorf("queued call failed: %w", err)
	}
	fmt.Fprintln(out, "queued call replayed after re-login")

	a.controller.Logout(ctx, false)
	fmt.Fprintln(out, "demo finished")
	return nil
}

func callItems(ctx context.Context, client *transport.Client, baseURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/api/items", nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
