package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/iplinks/iplinks-go/internal/accounts"
	"github.com/iplinks/iplinks-go/internal/client"
	"github.com/iplinks/iplinks-go/internal/config"
	apperrors "github.com/iplinks/iplinks-go/internal/errors"
)

const usage = `usage: iplinks <command> [flags]

commands:
  receive      show a pairing code and wait for credentials
  send         send credentials to a waiting receiver
  accounts     list|add|remove|select|check|check-all|fastest|clear
  categories   list live categories of the selected account
  channels     list channels in a category
  play         print the stream URL of a channel

environment:
  IPLINKS_SERVER_URL      pairing server (default http://localhost:8080)
  IPLINKS_STATE_PATH      account file (default <config dir>/iplinks/state.json)
  IPLINKS_ENCRYPTION_KEY  passphrase or 64-char hex key for stored passwords
`

type app struct {
	cfg      *config.ClientConfig
	api      *client.Client
	registry *accounts.Registry
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := config.LoadClient()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	setLogLevel(cfg.LogLevel)

	api := client.New(cfg.ServerURL)
	a := &app{
		cfg:      cfg,
		api:      api,
		registry: accounts.NewRegistry(accounts.NewFileStorage(cfg.StatePath, cfg.EncryptionKey), api),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd, args := os.Args[1], os.Args[2:]
	switch cmd {
	case "receive":
		err = a.receive(ctx, args)
	case "send":
		err = a.send(ctx, args)
	case "accounts":
		err = a.accounts(ctx, args)
	case "categories":
		err = a.categories(ctx, args)
	case "channels":
		err = a.channels(ctx, args)
	case "play":
		err = a.play(ctx, args)
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}

	if err != nil {
		stop()
		fmt.Fprintln(os.Stderr, "Error:", describe(err))
		os.Exit(1)
	}
}

// describe turns server error codes into something a person can act on.
func describe(err error) string {
	switch {
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, accounts.ErrLocked):
		return err.Error()
	}

	switch apperrors.GetCode(err) {
	case apperrors.ErrCodePairingExpired, apperrors.ErrCodeNotFound:
		return "code not found or expired"
	case apperrors.ErrCodeRateLimitExceeded:
		return "too many requests, wait a minute and retry"
	case apperrors.ErrCodeGenerationExhausted:
		return "server has no free pairing codes, try again shortly"
	}
	return err.Error()
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	}
}
