package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"taskdesk/internal/app"
	"taskdesk/internal/config"
	"taskdesk/internal/engine"
)

var rootCmd = &cobra.Command{
	Use:   "taskdesk",
	Short: "taskdesk CLI",
	Long: `taskdesk tracks departmental tasks on a shared server.
- Accounts have a role (user, manager, admin) and a department.
- Users edit their own tasks, managers also edit their department's tasks, admins edit everything.
- Only admins change roles and departments or delete accounts; nobody deletes themselves.
- Every change is checked locally first, then sent to the server, and only the server's answer is shown.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", engine.Message(err))
		stop()
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("TASKDESK")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default ./"+config.FileName+" if present)")
	rootCmd.PersistentFlags().String("server", "", "API base URL, e.g. http://127.0.0.1:8080/api")
	rootCmd.PersistentFlags().String("token", "", "bearer token (default: the one saved by login)")
	rootCmd.PersistentFlags().Duration("timeout", 0, "per-request timeout")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("data-dir", "", "server data directory")
	rootCmd.PersistentFlags().String("log-level", "warn", "log level: debug, info, warn, error")
	for _, name := range []string{"config", "server", "token", "timeout", "json", "data-dir", "log-level"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(loginCmd())
	rootCmd.AddCommand(registerCmd())
	rootCmd.AddCommand(logoutCmd())
	rootCmd.AddCommand(whoamiCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(configCmd())
}

// --- helpers ---

// loadConfig reads --config, or ./taskdesk.yml when present, and applies the
// flag and environment overrides.
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path := viper.GetString("config"); path != "" {
		cfg, err = config.FromFile(path)
	} else {
		cfg, err = config.LoadOptional(".")
	}
	if err != nil {
		return nil, err
	}
	if v := viper.GetString("server"); v != "" {
		cfg.Client.BaseURL = v
	}
	if v := viper.GetDuration("timeout"); v > 0 {
		cfg.Client.RequestTimeout = v.String()
	}
	if v := viper.GetString("data-dir"); v != "" {
		cfg.Server.DataDir = v
	}
	return cfg, cfg.Validate()
}

func newLogger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(viper.GetString("log-level"))); err != nil {
		level = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func currentToken() (string, error) {
	if tok := strings.TrimSpace(viper.GetString("token")); tok != "" {
		return tok, nil
	}
	path, err := app.TokenPath()
	if err != nil {
		return "", err
	}
	return app.LoadToken(path)
}

func requestTimeout(cfg *config.Config) time.Duration {
	return cfg.RequestTimeout()
}

func withSession(ctx context.Context, fn func(context.Context, *app.Session) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	token, err := currentToken()
	if err != nil {
		return err
	}
	logger := newLogger()
	sess, err := app.Open(ctx, app.Options{
		BaseURL: cfg.Client.BaseURL,
		Token:   token,
		Timeout: requestTimeout(cfg),
		Logger:  logger,
		OnTransition: func(t engine.Transition) {
			level := slog.LevelDebug
			if t.To.Terminal() {
				level = slog.LevelInfo
			}
			logger.Log(ctx, level, "request transition", "op", t.Op, "id", t.ID, "from", t.From.String(), "to", t.To.String())
		},
	})
	if err != nil {
		return err
	}
	return fn(ctx, sess)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printJSONOrText(v any, text string) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	fmt.Println(text)
	return nil
}
