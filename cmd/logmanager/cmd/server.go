package cmd

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sushazhi/fnos-logmanager/api"
	"github.com/sushazhi/fnos-logmanager/audit"
	"github.com/sushazhi/fnos-logmanager/credential"
	"github.com/sushazhi/fnos-logmanager/docker"
	"github.com/sushazhi/fnos-logmanager/internal/config"
	"github.com/sushazhi/fnos-logmanager/logfiles"
	"github.com/sushazhi/fnos-logmanager/pathguard"
	"github.com/sushazhi/fnos-logmanager/redact"
	"github.com/sushazhi/fnos-logmanager/throttle"
	"github.com/sushazhi/fnos-logmanager/web"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the log manager web console",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		logger := newLogger(cfg)

		repo, err := openRepository(cfg)
		if err != nil {
			return err
		}
		defer repo.Close()

		creds := credential.NewStore(repo, credential.WithLogger(logger))
		if _, err := creds.ImportFile(cmd.Context(), cfg.PasswordFile()); err != nil {
			logger.Warn("legacy password file not imported", "error", err)
		}

		guard, err := pathguard.New(cfg.LogDirs)
		if err != nil {
			return fmt.Errorf("invalid log directories: %w", err)
		}

		sink, err := audit.NewFileSink(cfg.AuditFile(), cfg.Audit.MaxRecords)
		if err != nil {
			return fmt.Errorf("failed to open audit log: %w", err)
		}

		proxies, err := api.ParseTrustedProxies(cfg.TrustedProxies)
		if err != nil {
			return fmt.Errorf("invalid trusted_proxies: %w", err)
		}

		opts := []api.Option{
			api.WithLogger(logger),
			api.WithVersion(Version),
			api.WithSessionTTL(cfg.SessionTTL),
			api.WithCSRFTTL(cfg.CSRFTTL),
			api.WithLoginThrottle(throttle.LoginConfig{
				MaxAttempts: cfg.Login.MaxAttempts,
				Lockout:     cfg.Login.Lockout,
				IdleTTL:     cfg.Login.IdleTTL,
			}),
			api.WithRateLimit(throttle.WindowConfig{
				Window:      cfg.RateLimit.Window,
				MaxRequests: cfg.RateLimit.MaxRequests,
			}),
			api.WithAuditSink(sink),
			api.WithTrustedProxies(proxies),
			api.WithForceSecureCookie(cfg.ForceSecureCookie),
			api.WithFilter(redact.New(cfg.FilterSensitive)),
			api.WithDocker(docker.NewClient(
				docker.WithBinary(cfg.Docker.Binary),
				docker.WithTimeouts(min(docker.DefaultListTimeout, cfg.Docker.Timeout), cfg.Docker.Timeout),
			)),
		}
		if cfg.Audit.WebhookURL != "" {
			hook := audit.NewWebhook(cfg.Audit.WebhookURL, cfg.Audit.WebhookAuthHeader)
			defer hook.Close()
			opts = append(opts, api.WithAuditWebhook(hook))
		}

		a := api.New(creds, logfiles.NewService(guard, logfiles.WithLogger(logger)), opts...)

		webHandler, err := web.Handler(func(r *http.Request) string {
			return api.NonceFromContext(r.Context())
		})
		if err != nil {
			return err
		}

		var tlsConfig *tls.Config
		if cfg.TLS.Cert != "" {
			cert, err := tls.LoadX509KeyPair(cfg.TLS.Cert, cfg.TLS.Key)
			if err != nil {
				return fmt.Errorf("failed to load TLS key pair: %w", err)
			}
			tlsConfig = &tls.Config{
				Certificates: []tls.Certificate{cert},
				MinVersion:   tls.VersionTLS12,
			}
		}

		server := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           a.Handler(webHandler),
			TLSConfig:         tlsConfig,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			// docker logs may legitimately run up to the configured timeout.
			WriteTimeout: cfg.Docker.Timeout + 30*time.Second,
			IdleTimeout:  60 * time.Second,
			ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
		}

		ctx, stop := context.WithCancel(context.Background())
		defer stop()
		go a.Run(ctx)

		// Graceful shutdown on SIGINT/SIGTERM.
		done := make(chan error, 1)
		go func() {
			var err error
			if tlsConfig != nil {
				err = server.ListenAndServeTLS("", "")
			} else {
				err = server.ListenAndServe()
			}
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				done <- fmt.Errorf("server failed: %w", err)
				return
			}
			done <- nil
		}()

		printBanner()
		logger.Info("server starting",
			"port", cfg.Port,
			"tls", tlsConfig != nil,
			"data_dir", cfg.DataDir,
			"log_dirs", guard.Roots())

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			logger.Info("shutting down", "signal", sig.String())
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("server shutdown failed: %w", err)
			}
			return nil
		case err := <-done:
			return err
		}
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
	serverCmd.Flags().IntP("port", "p", config.DefaultPort, "Port to listen on")
	serverCmd.Flags().StringSlice("log-dirs", config.DefaultLogDirs, "Directories whose logs may be browsed")
	serverCmd.Flags().String("tls-cert", "", "Path to TLS certificate file")
	serverCmd.Flags().String("tls-key", "", "Path to TLS key file")
	serverCmd.Flags().String("log-format", "json", "Log format: json or text")
	serverCmd.Flags().String("log-level", "info", "Log level: debug, info, warn or error")
	serverCmd.Flags().StringSlice("trusted-proxies", nil, "CIDRs whose forwarding headers are trusted")
	serverCmd.Flags().String("docker-binary", "docker", "Path to the docker CLI")
}
