package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"taskdesk/internal/db"
	"taskdesk/internal/migrate"
	"taskdesk/internal/server"
	"taskdesk/internal/service"
)

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			logger := newLogger()
			dataDir, err := db.EnsureDataDir(cfg.Server.DataDir)
			if err != nil {
				return err
			}
			conn, err := db.Open(db.Config{DataDir: dataDir})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			if v, err := migrate.Latest(); err == nil {
				logger.Info("database ready", "data_dir", dataDir, "schema_version", v)
			}
			svc := service.New(conn, cfg)
			created, err := svc.BootstrapAdmin(cmd.Context())
			if err != nil {
				return fmt.Errorf("bootstrap admin: %w", err)
			}
			if created {
				logger.Warn("created bootstrap admin; change its password", "username", cfg.BootstrapAdmin.Username)
			}

			secret := viper.GetString("jwt-secret")
			if secret == "" {
				secret = cfg.Server.JWTSecret
			}
			if secret == "" {
				secret, err = randomSecret()
				if err != nil {
					return err
				}
				logger.Warn("no jwt secret configured; tokens will not survive a restart")
			}
			handler, err := server.New(server.Config{
				Service:  svc,
				BasePath: cfg.Server.BasePath,
				Auth: server.AuthConfig{
					JWTSecret: secret,
					Issuer:    cfg.Server.Issuer,
					TokenTTL:  cfg.TokenTTL(),
					Logger:    logger,
				},
				Registration: cfg.Server.Registration,
				Logger:       logger,
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: cfg.Server.Addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving taskdesk API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", cfg.Server.Addr, cfg.Server.BasePath, cfg.Server.BasePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	cmd.Flags().String("jwt-secret", "", "token signing secret (or TASKDESK_JWT_SECRET)")
	_ = viper.BindPFlag("jwt-secret", cmd.Flags().Lookup("jwt-secret"))
	return cmd
}

func randomSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
