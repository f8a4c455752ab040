/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"github.com/andrewhowdencom/drip/internal/otel"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "drip",
	Short: "A tool to run drip campaigns.",
	Long: `A tool to run drip campaigns.

Campaigns are ordered sequences of timed messages. Contacts are enrolled
into a campaign and the dispatcher advances each of them through its steps,
delivering every message over Slack or email.`,
	PersistentPreRun: func(*cobra.Command, []string) { InitConfig() },
}

// Execute runs the command tree. It is called once, by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is $XDG_CONFIG_HOME/drip/config.yaml)")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.String("otel-endpoint", "", "OTLP/HTTP endpoint for traces and metrics")

	viper.BindPFlag("log.level", flags.Lookup("log-level"))
	viper.BindPFlag("otel.endpoint", flags.Lookup("otel-endpoint"))

	setDefaults()
}

func setDefaults() {
	viper.SetDefault("datastore.type", "bbolt")
	viper.SetDefault("datastore.path", "")
	viper.SetDefault("datastore.project_id", "")

	viper.SetDefault("engine.schedule", "*/5 * * * *")
	viper.SetDefault("engine.interval", "0s")
	viper.SetDefault("engine.send_timeout", "30s")
	viper.SetDefault("engine.claim_ttl", "10m")
	viper.SetDefault("engine.max_failures", 10)
	viper.SetDefault("engine.concurrency", 1)

	viper.SetDefault("templates.urls", []string{})
	viper.SetDefault("templates.refresh_interval", "1h")
	viper.SetDefault("templates.fetch_timeout", "30s")
	viper.SetDefault("git.tokens", map[string]string{})

	viper.SetDefault("slack.app.token", "")
	viper.SetDefault("email.host", "")
	viper.SetDefault("email.port", 587)
	viper.SetDefault("email.username", "")
	viper.SetDefault("email.password", "")
	viper.SetDefault("email.from", "")

	viper.SetDefault("dispatcher.dry_run", false)
	viper.SetDefault("dispatcher.default_scheme", "email")
	viper.SetDefault("api.port", 8080)

	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.headers", map[string]string{})
	viper.SetDefault("otel.insecure", false)
}

// InitConfig loads configuration, then sets up logging and telemetry from it.
// Keys resolve in order: flags, DRIP_* environment variables, the config file,
// defaults.
func InitConfig() {
	readErr := readConfig()
	slog.SetDefault(newLogger(viper.GetString("log.level")))

	var notFound viper.ConfigFileNotFoundError
	switch {
	case errors.As(readErr, &notFound):
		slog.Debug("no config file found, using defaults and environment")
	case readErr != nil:
		slog.Warn("could not read config file, using defaults", "error", readErr)
	default:
		slog.Debug("loaded config", "file", viper.ConfigFileUsed())
	}

	shutdown, err := otel.Init(context.Background(), otel.ConfigFromViper())
	if err != nil {
		slog.Error("could not setup OpenTelemetry", "error", err)
		os.Exit(1)
	}
	cobra.OnFinalize(func() {
		if err := shutdown(context.Background()); err != nil {
			slog.Error("could not shutdown OpenTelemetry", "error", err)
		}
	})
}

func readConfig() error {
	viper.SetEnvPrefix("DRIP")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		return viper.ReadInConfig()
	}

	path, err := xdg.ConfigFile("drip/config.yaml")
	if err != nil {
		return err
	}
	viper.AddConfigPath(filepath.Dir(path))
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	return viper.ReadInConfig()
}

var logLevels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

// newLogger returns a text logger on stderr. Unknown levels fall back to info.
func newLogger(level string) *slog.Logger {
	lvl, ok := logLevels[strings.ToLower(level)]
	if !ok {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
