package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"tracelayer/internal/app"
	"tracelayer/internal/server"
)

func serveCmd() *cobra.Command {
	var addr string
	var legacyActor, devLogin bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := app.Open(ctx, app.Options{
				Workspace:   viper.GetString("workspace"),
				ConfigPath:  viper.GetString("config"),
				Logger:      slog.Default(),
				Telemetry:   true,
				RecoverRuns: true,
			})
			if err != nil {
				return err
			}
			authCfg := server.AuthConfig{
				JWTSecret:              viper.GetString("jwt-secret"),
				AllowLegacyActorHeader: legacyActor,
				EnableDevLogin:         devLogin,
			}
			if authCfg.JWTSecret == "" {
				a.Close(context.Background())
				return fmt.Errorf("TRACELAYER_JWT_SECRET is required for bearer auth")
			}
			handler, err := a.Handler(authCfg)
			if err != nil {
				a.Close(context.Background())
				return err
			}
			if addr == "" {
				addr = a.Config.Server.Addr
			}
			if addr == "" {
				addr = "127.0.0.1:8080"
			}
			server.StartWebhookDispatcher(ctx, a.Engine, slog.Default())

			srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			done := make(chan struct{})
			go func() {
				defer close(done)
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				// Runs end as cancelled before the listener goes away.
				if err := a.Close(shutdownCtx); err != nil {
					slog.Error("close workspace", "err", err)
				}
				srv.Shutdown(shutdownCtx)
			}()
			basePath := a.Config.Server.BasePath
			fmt.Fprintf(cmd.OutOrStdout(), "Serving TraceLayer API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.Close(context.Background())
				return err
			}
			<-done
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.Flags().String("jwt-secret", "", "HS256 secret for bearer tokens")
	cmd.Flags().BoolVar(&legacyActor, "allow-legacy-actor-header", false, "accept X-Actor-Id without credentials")
	cmd.Flags().BoolVar(&devLogin, "dev-login", false, "enable the dev login endpoint")
	_ = viper.BindPFlag("jwt-secret", cmd.Flags().Lookup("jwt-secret"))
	return cmd
}
