// ABOUTME: Entry point for otto-fake-backend, a scripted Otto streaming server
// ABOUTME: Used to drive the otto CLI and end-to-end tests without the real backend

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/2389/otto/internal/auth"
	"github.com/2389/otto/internal/config"
	"github.com/2389/otto/internal/fakebackend"
	"github.com/2389/otto/internal/logging"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "config file (yaml or toml)")
	addr := flag.String("addr", "", "listen address (overrides fake_backend.addr)")
	token := flag.String("token", "", "accepted token (overrides fake_backend.token)")
	delay := flag.Duration("delay", -1, "pause between frames (overrides fake_backend.step_delay)")
	flag.Parse()

	// .env is optional
	_ = godotenv.Load()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if *addr != "" {
		cfg.FakeBackend.Addr = *addr
	}
	if *token != "" {
		cfg.FakeBackend.Token = *token
	}
	if *delay >= 0 {
		cfg.FakeBackend.StepDelay = *delay
	}

	logger := logging.New(cfg.Logging, os.Stderr)
	gin.SetMode(gin.ReleaseMode)

	srvCfg := fakebackend.Config{
		Token:        cfg.FakeBackend.Token,
		StepDelay:    cfg.FakeBackend.StepDelay,
		ReplayWindow: cfg.FakeBackend.ReplayWindow,
		Logger:       logger,
	}
	if cfg.FakeBackend.JWTSecret != "" {
		srvCfg.Verifier = auth.NewJWTVerifier([]byte(cfg.FakeBackend.JWTSecret))
	}

	green := color.New(color.FgGreen)
	green.Print("▶ ")
	fmt.Printf("otto fake backend on http://%s%s\n", cfg.FakeBackend.Addr, config.DefaultStreamPath)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return fakebackend.New(srvCfg).ListenAndServe(ctx, cfg.FakeBackend.Addr)
}

// loadConfig reads only the sections the fake backend uses, so the client
// settings need not be valid.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Parse(nil, config.FormatYAML)
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return config.Parse(data, config.FormatOf(path))
}
