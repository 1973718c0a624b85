// ABOUTME: Entry point for otto, a terminal client for the Otto conversational backend
// ABOUTME: Wires config, credentials, transport, persistence and the conversation engine

package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/2389/otto/internal/auth"
	"github.com/2389/otto/internal/config"
	"github.com/2389/otto/internal/conversation"
	"github.com/2389/otto/internal/logging"
	"github.com/2389/otto/internal/registry"
	"github.com/2389/otto/internal/store"
	"github.com/2389/otto/internal/transcript"
)

// Version is set at build time.
var version = "dev"

const banner = `
       _   _
  ___ | |_| |_ ___
 / _ \| __| __/ _ \
| (_) | |_| || (_) |
 \___/ \__|\__\___/
`

type options struct {
	configPath string
	url        string
	token      string
	page       string
	resume     string
	debug      bool
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", "", "config file (default $OTTO_CONFIG, ./otto.yaml, ~/.config/otto/config.yaml)")
	flag.StringVar(&opts.url, "url", "", "backend base URL (overrides server.url)")
	flag.StringVar(&opts.token, "token", "", "bearer token (overrides auth.token)")
	flag.StringVar(&opts.page, "page", "", "page key sent with each message (overrides page.key)")
	flag.StringVar(&opts.resume, "resume", "", "resume a saved conversation by key")
	flag.BoolVar(&opts.debug, "debug", false, "debug logging")
	flag.Parse()

	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(opts options) error {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	logger := logging.New(cfg.Logging, os.Stderr)
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer cancel()

	client := newHTTPClient(cfg.Server.DialTimeout)
	if cfg.Tailscale.Enabled {
		var closeNode func() error
		client, closeNode, err = tailnetClient(ctx, cfg.Tailscale, logger)
		if err != nil {
			return err
		}
		defer closeNode() //nolint:errcheck // best effort on exit
	}

	var st store.Store
	if cfg.Storage.Path != "" {
		sqlStore, err := store.NewSQLiteStore(cfg.Storage.Path)
		if err != nil {
			return fmt.Errorf("opening store: %w", err)
		}
		defer sqlStore.Close()
		st = sqlStore
	}

	key := opts.resume
	var initial transcript.Transcript
	if key != "" {
		if st == nil {
			return errors.New("-resume needs storage.path to be configured")
		}
		saved, err := st.LoadConversation(ctx, key)
		if err != nil {
			return fmt.Errorf("loading conversation %s: %w", key, err)
		}
		initial = saved.Messages
	} else {
		key = uuid.NewString()
	}

	eng, err := conversation.New(conversation.Config{
		BaseURL:     cfg.Server.URL,
		StreamPath:  cfg.Server.StreamPath,
		HTTPClient:  client,
		Credentials: credentials(cfg),
		Logger:      logger,
		Initial:     initial,
	})
	if err != nil {
		return fmt.Errorf("creating engine: %w", err)
	}
	defer eng.Close()

	printBanner(cfg, key)

	reg := registry.Builtins(logger)
	p := newPrinter(os.Stdout, reg)
	if len(initial) > 0 {
		p.Replay(eng.State())
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	defer signal.Stop(interrupt)

	a := &app{
		eng:       eng,
		updates:   eng.Subscribe(ctx),
		printer:   p,
		store:     st,
		key:       key,
		page:      cfg.Page.Key,
		lines:     readLines(os.Stdin),
		interrupt: interrupt,
		out:       os.Stdout,
		logger:    logger,
	}
	a.drain()
	return a.run(ctx)
}

func loadConfig(opts options) (*config.Config, error) {
	path := opts.configPath
	if path == "" {
		path = config.DefaultPath()
	}

	var cfg *config.Config
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		cfg, err = config.Parse(data, config.FormatOf(path))
		if err != nil {
			return nil, err
		}
	case errors.Is(err, os.ErrNotExist) && opts.configPath == "":
		cfg, _ = config.Parse(nil, config.FormatYAML)
	default:
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if opts.url != "" {
		cfg.Server.URL = opts.url
	}
	if opts.token != "" {
		cfg.Auth.Token = opts.token
	}
	if opts.page != "" {
		cfg.Page.Key = opts.page
	}
	if opts.debug {
		cfg.Logging.Level = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// credentials resolves the token from config first, then OTTO_TOKEN or the
// token file. Expired JWTs are refused before any request is made.
func credentials(cfg *config.Config) auth.CredentialProvider {
	return auth.JWTGuard{
		Provider: auth.First(
			auth.StaticToken(cfg.Auth.Token),
			auth.EnvFileToken{Path: cfg.Auth.TokenFile},
		),
	}
}

func printBanner(cfg *config.Config, key string) {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Backend:   %s%s\n", cfg.Server.URL, cfg.Server.StreamPath)
	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Print("Tailscale: ")
		cyan.Println(cfg.Tailscale.Hostname)
	}
	if cfg.Page.Key != "" {
		green.Print("    ▶ ")
		fmt.Printf("Página:    %s\n", cfg.Page.Key)
	}
	green.Print("    ▶ ")
	fmt.Printf("Conversa:  %s\n", key)
	gray.Println("\n    /help para ver os comandos")
	fmt.Println()
}

// readLines feeds stdin lines to a channel, closed at end of input.
func readLines(f *os.File) <-chan string {
	ch := make(chan string)
	go func() {
		defer close(ch)
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			ch <- scanner.Text()
		}
	}()
	return ch
}

