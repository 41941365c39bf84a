package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
	_ "time/tzdata"

	"calpal/internal/config"
	"calpal/internal/google"
	"calpal/internal/logging"
	"calpal/internal/store"
	"calpal/internal/syncer"
	"calpal/internal/web"

	"github.com/urfave/cli/v2"
	"golang.org/x/oauth2"
)

func main() {
	app := &cli.App{
		Name:  "calpal",
		Usage: "Mirror a Google Calendar into a local store and serve it over HTTP.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "env-file", Value: ".env", Usage: "Load settings from this file; existing environment variables win."},
		},
		Commands: []*cli.Command{
			authCommand(),
			syncCommand(),
			serveCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("Application failed", "error", err)
		os.Exit(1)
	}
}

// setup loads configuration and builds the process logger.
func setup(c *cli.Context) (*config.Config, *slog.Logger, io.Closer, error) {
	cfg, err := config.Load(c.String("env-file"))
	if err != nil {
		return nil, nil, nil, err
	}
	logger, closer := logging.New(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile})
	return cfg, logger, closer, nil
}

func authFiles(cfg *config.Config) google.AuthFiles {
	return google.AuthFiles{
		CredentialsPath: cfg.CredentialsPath,
		TokenPath:       cfg.TokenPath,
		ClientID:        cfg.ClientID,
		ClientSecret:    cfg.ClientSecret,
	}
}

func authCommand() *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Authenticate with a Google account and save the API token.",
		Action: func(c *cli.Context) error {
			cfg, logger, closer, err := setup(c)
			if err != nil {
				return err
			}
			defer closer.Close()
			logger.Info("Starting Google authentication flow.")

			files := authFiles(cfg)
			oauthConfig, err := files.OAuthConfig()
			if err != nil {
				return fmt.Errorf("failed to get google oauth config: %w", err)
			}

			authURL := oauthConfig.AuthCodeURL("state-token", oauth2.AccessTypeOffline)
			fmt.Printf("Go to the following link in your browser then type the "+
				"authorization code: \n%v\n", authURL)

			fmt.Print("Enter Authorization Code: ")
			authCode, err := bufio.NewReader(os.Stdin).ReadString('\n')
			if err != nil && !errors.Is(err, io.EOF) {
				return fmt.Errorf("failed to read authorization code: %w", err)
			}
			authCode = strings.TrimSpace(authCode)
			if authCode == "" {
				return errors.New("no authorization code entered")
			}

			token, err := files.Exchange(c.Context, authCode)
			if err != nil {
				return fmt.Errorf("unable to retrieve token from web: %w", err)
			}
			if err := google.SaveToken(cfg.TokenPath, token); err != nil {
				return fmt.Errorf("failed to save token: %w", err)
			}

			logger.Info("Successfully authenticated and saved token.", "file", cfg.TokenPath)
			return nil
		},
	}
}

func newGateway(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*google.CalendarClient, error) {
	gw, err := google.NewClient(ctx, logger, authFiles(cfg), google.Options{
		CalendarID:  cfg.CalendarID,
		HorizonDays: cfg.HorizonDays,
		MaxResults:  cfg.MaxResults,
		CallTimeout: cfg.CallTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create google client: %w", err)
	}
	return gw, nil
}

func syncCommand() *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Run one reconciliation pass and print a summary.",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "dry-run", Usage: "Report what would be written without touching the store."},
		},
		Action: func(c *cli.Context) error {
			cfg, logger, closer, err := setup(c)
			if err != nil {
				return err
			}
			defer closer.Close()

			dryRun := c.Bool("dry-run")
			if dryRun {
				logger.Info("Performing a dry run. No changes will be made.")
			}

			db, err := store.Open(c.Context, cfg.DBPath)
			if err != nil {
				return err
			}
			defer db.Close()

			gw, err := newGateway(c.Context, cfg, logger)
			if err != nil {
				return err
			}

			s := syncer.NewSyncer(logger, gw, db, syncer.Options{Timeout: cfg.SyncTimeout, DryRun: dryRun})
			res, err := s.Sync(c.Context)
			if err != nil {
				return fmt.Errorf("sync cycle failed: %w", err)
			}

			printSummary(c.App.Writer, res, dryRun)
			if err := res.Err(); err != nil {
				return fmt.Errorf("%d event(s) failed to sync: %w", res.Count(syncer.ActionFailed), err)
			}
			return nil
		},
	}
}

func printSummary(w io.Writer, res *syncer.Result, dryRun bool) {
	if dryRun {
		for _, o := range res.Outcomes {
			if o.Action == syncer.ActionWouldInsert || o.Action == syncer.ActionWouldUpdate {
				fmt.Fprintf(w, "%-12s %s\n", o.Action, o.ID)
			}
		}
		fmt.Fprintf(w, "would insert %d, would update %d, failed %d\n",
			res.Count(syncer.ActionWouldInsert), res.Count(syncer.ActionWouldUpdate), res.Count(syncer.ActionFailed))
		return
	}
	fmt.Fprintf(w, "inserted %d, updated %d, failed %d\n",
		res.Count(syncer.ActionInserted), res.Count(syncer.ActionUpdated), res.Count(syncer.ActionFailed))
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the mirror over HTTP.",
		Action: func(c *cli.Context) error {
			cfg, logger, closer, err := setup(c)
			if err != nil {
				return err
			}
			defer closer.Close()

			ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			db, err := store.Open(ctx, cfg.DBPath)
			if err != nil {
				return err
			}
			defer db.Close()
			logger.Info("Opened event store.", "path", db.Path())

			gw, err := newGateway(ctx, cfg, logger)
			if err != nil {
				return err
			}

			s := syncer.NewSyncer(logger, gw, db, syncer.Options{Timeout: cfg.SyncTimeout})
			o := syncer.NewOrchestrator(logger, gw, db, s, syncer.WriteOptions{
				UTCOffset:      cfg.UTCOffset,
				TimeZone:       cfg.TimeZone,
				SettleInterval: cfg.SettleInterval,
				SettleAttempts: cfg.SettleAttempts,
			})

			if cfg.SyncSchedule != "" {
				if _, err := syncer.Schedule(ctx, logger, s, cfg.SyncSchedule); err != nil {
					return err
				}
			}

			srv := &http.Server{
				Addr: cfg.ListenAddr,
				Handler: web.NewServer(logger, s, o, db, web.Options{
					CORSOrigin:        cfg.CORSOrigin,
					BasicAuthUser:     cfg.BasicAuthUser,
					BasicAuthPassword: cfg.BasicAuthPassword,
				}).Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("Starting HTTP server.", "listen", cfg.ListenAddr)
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("http server failed: %w", err)
				}
				return nil
			case <-ctx.Done():
				logger.Info("Signal received, shutting down.")
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("http server shutdown: %w", err)
			}
			return nil
		},
	}
}
