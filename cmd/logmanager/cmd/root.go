package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/sushazhi/fnos-logmanager/internal/config"
)

// Version is reported by the version command, the banner and /api/health.
var Version = "dev"

var configFile string

var rootCmd = &cobra.Command{
	Use:   "logmanager",
	Short: "Log manager for fnOS applications",
	Long: `A password-protected web console for browsing, searching and pruning
application logs and docker container output on an fnOS NAS.`,
	SilenceUsage: true,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default <data-dir>/config/config.json)")
	rootCmd.PersistentFlags().String("data-dir", config.DefaultDataDir, "Directory for persistent data")
}

// flagKeys maps command-line flags to config keys.
var flagKeys = map[string]string{
	"data-dir":        "data_dir",
	"port":            "port",
	"log-dirs":        "log_dirs",
	"tls-cert":        "tls.cert",
	"tls-key":         "tls.key",
	"log-format":      "log_format",
	"log-level":       "log_level",
	"trusted-proxies": "trusted_proxies",
	"docker-binary":   "docker.binary",
}

// loadConfig resolves the configuration, letting only flags the user
// actually set override the file and environment.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	values := map[string]any{}
	cmd.Flags().Visit(func(f *pflag.Flag) {
		key, ok := flagKeys[f.Name]
		if !ok {
			return
		}
		if sv, isSlice := f.Value.(pflag.SliceValue); isSlice {
			values[key] = sv.GetSlice()
			return
		}
		values[key] = f.Value.String()
	})

	opts := []config.Option{config.WithFlags(values)}
	if configFile != "" {
		opts = append(opts, config.WithConfigFile(configFile))
	}
	cfg, err := config.NewLoader(opts...).Load()
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	level, _ := config.ParseLevel(cfg.LogLevel)
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
