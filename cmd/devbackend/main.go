// Package main runs the in-memory phone login backend for local development.
// Codes are written to the log instead of being sent by SMS.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/tendant/chi-demo/app"

	"github.com/tendant/phone-login/pkg/config"
	"github.com/tendant/phone-login/pkg/devbackend"
	"github.com/tendant/phone-login/pkg/ratelimit"
)

func main() {
	envFile := flag.String("env", ".env", "env file to load")
	flag.Parse()

	var cfg config.DevBackendConfig
	if err := config.Load(*envFile, &cfg); err != nil {
		slog.Error("Failed to load configuration", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: config.ParseLogLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	backendConfig, err := cfg.BackendConfig()
	if err != nil {
		slog.Error("Invalid configuration", "err", err)
		os.Exit(1)
	}

	opts := []devbackend.Option{
		devbackend.WithLogger(logger),
		devbackend.WithCodeSender(devbackend.LogCodeSender{Logger: logger}),
	}
	if cfg.RateLimitEnabled {
		opts = append(opts, devbackend.WithRateLimit(ratelimit.DefaultConfig()))
	}
	backend := devbackend.New(backendConfig, opts...)

	server := app.NewApp(app.WithPort(cfg.Port))
	backend.RegisterRoutes(server.R)

	baseURL := fmt.Sprintf("http://localhost:%d", cfg.Port)
	slog.Info(strings.Repeat("=", 60))
	slog.Info("Phone login dev backend ready")
	slog.Info("Base URL: " + baseURL)
	slog.Info("App", "id", backendConfig.AppID, "project", backendConfig.ProjectID)
	slog.Info("")
	slog.Info("API Endpoints:")
	slog.Info("  POST   /apps/{appID}/users          - Register app user (Basic TOTP)")
	slog.Info("  GET    /tokens?project=&role=       - Fetch token (Basic TOTP + app user)")
	slog.Info("  POST   /{appID}/phone/auth          - Send code (Bearer)")
	slog.Info("  POST   /{appID}/phone/login         - Verify code (Bearer)")
	slog.Info("  DELETE /{appID}/phone/users         - Delete account (Bearer)")
	slog.Info("  POST   /{appID}/verification/sms[/otp|/delete]")
	slog.Info(strings.Repeat("=", 60))

	server.Run()
}
