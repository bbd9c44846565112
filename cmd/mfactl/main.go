// Command mfactl enrolls users and runs the four-step login from a terminal.
// It builds the engine in-process from the same configuration as
// mfa-server; camera and microphone input come from image and WAV files.
//
// Run:
//
//	go run ./cmd/mfactl -store sqlite -dsn 'file:mfa.db' enroll alice +15551234567 alice.wav alice.png
//	go run ./cmd/mfactl -store sqlite -dsn 'file:mfa.db' login alice alice.wav alice.png
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/JasonStuckless/SecurityProject/internal/app"
	"github.com/JasonStuckless/SecurityProject/internal/config"
	"github.com/JasonStuckless/SecurityProject/internal/logging"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "mfactl: %v\n", err)
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func run() error {
	cfg, args, err := config.LoadArgs("mfactl", os.Args[1:])
	if err != nil {
		return err
	}
	if len(args) == 0 {
		return errUsage
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, app.Options{Logger: logger, NotifyWriter: os.Stderr})
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("close", zap.Error(err))
		}
	}()

	in := bufio.NewReader(os.Stdin)
	c := &cli{
		engine:   a.Engine,
		detector: a.Detector,
		in:       in,
		out:      os.Stdout,
		password: passwordPrompt(in),
		logger:   logger,
	}
	return c.run(ctx, args)
}

// passwordPrompt reads without echo on a terminal and falls back to a plain
// line read when stdin is piped.
func passwordPrompt(in *bufio.Reader) func(string) (string, error) {
	fd := int(os.Stdin.Fd())
	return func(prompt string) (string, error) {
		fmt.Fprint(os.Stderr, prompt)
		if !term.IsTerminal(fd) {
			return readLine(in)
		}
		raw, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(raw), nil
	}
}
