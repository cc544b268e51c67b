package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/ghprofiler/ghprofiler/internal/auth"
	"github.com/ghprofiler/ghprofiler/internal/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	_ "go.uber.org/automaxprocs"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the read-only user query API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the schema and apply pending data migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			// Opening the database migrates it.
			app, err := openApplication()
			if err != nil {
				return err
			}
			defer app.Close()
			fmt.Fprintln(cmd.OutOrStdout(), "Database is up to date")
			return nil
		},
	}
}

func newTokenCommand() *cobra.Command {
	var subject string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the query API",
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, logger, err := loadConfigAndLogger()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
				SigningSecret: []byte(appConfig.AuthSigningSecret),
				Issuer:        appConfig.AuthIssuer,
				TokenTTL:      minutes(appConfig.AuthTokenTTLMinutes),
			})
			if err != nil {
				return err
			}
			token, expiresAt, err := issuer.Issue(cmd.Context(), subject)
			if err != nil {
				return err
			}
			logger.Info("api token issued", zap.String("subject", subject), zap.Time("expires_at", expiresAt))
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "Subject the token is issued to")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

func runServer(ctx context.Context) error {
	app, err := openApplication()
	if err != nil {
		return err
	}
	defer app.Close()
	logger := app.logger

	var validator server.TokenValidator
	if app.config.AuthEnabled() {
		tokenValidator, err := auth.NewTokenValidator(auth.TokenValidatorConfig{
			SigningSecret: []byte(app.config.AuthSigningSecret),
			Issuer:        app.config.AuthIssuer,
		})
		if err != nil {
			return err
		}
		validator = tokenValidator
	} else {
		logger.Warn("auth.signing_secret is empty; /users is served without authentication")
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		ProfileService: app.profiles,
		TokenValidator: validator,
		Logger:         logger,
		RateLimit: server.RateLimit{
			RequestsPerSecond: app.config.RateLimitRPS,
			Burst:             app.config.RateLimitBurst,
		},
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              app.config.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", app.config.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.Info("server shutting down")
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
