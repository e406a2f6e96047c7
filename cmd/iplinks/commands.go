package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/iplinks/iplinks-go/internal/config"
	apperrors "github.com/iplinks/iplinks-go/internal/errors"
	"github.com/iplinks/iplinks-go/internal/model"
	"github.com/iplinks/iplinks-go/internal/playback"
	"github.com/iplinks/iplinks-go/internal/poller"
	"github.com/iplinks/iplinks-go/internal/sender"
)

func (a *app) receive(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("receive", flag.ExitOnError)
	interval := fs.Duration("interval", config.PollInterval, "poll interval")
	noSave := fs.Bool("no-save", false, "do not store the received account")
	fs.Parse(args)

	p := poller.New(a.api,
		poller.WithInterval(*interval),
		poller.WithStateFunc(func(s poller.Snapshot) {
			switch s.State {
			case poller.StateLoading:
				fmt.Println("Requesting pairing code...")
			case poller.StateWaiting:
				if s.Status == model.PairingStatusConnected {
					fmt.Println("Sender connected, waiting for credentials...")
					return
				}
				fmt.Printf("\n  Pairing code: %s\n\n", s.Code)
				fmt.Printf("Enter it on your phone. Valid until %s.\n", s.ExpiresAt.Local().Format(time.Kitchen))
			}
		}),
	)

	creds, err := p.Run(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Credentials received for %s\n", creds.Host)

	if *noSave {
		return nil
	}
	acc, err := a.registry.Add(model.AddAccountParams{
		Host:     creds.Host,
		Username: creds.Username,
		Password: creds.Password,
	})
	if err != nil {
		return err
	}
	fmt.Printf("Saved and selected account %s (%s)\n", acc.DisplayName(), acc.ID)
	return nil
}

func (a *app) send(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	code := fs.String("code", "", "3-digit code shown on the receiver")
	file := fs.String("file", "", "read credentials from file instead of stdin")
	announce := fs.Bool("connect", true, "mark the session connected before sending")
	fs.Parse(args)

	raw, err := readInput(*file)
	if err != nil {
		return err
	}

	creds, err := sender.New(a.api, *announce).Send(ctx, *code, raw)
	if err != nil {
		return err
	}
	fmt.Printf("Credentials for %s sent to %s\n", creds.Host, *code)
	return nil
}

func readInput(path string) (string, error) {
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", path, err)
		}
		return string(data), nil
	}

	if info, err := os.Stdin.Stat(); err == nil && info.Mode()&os.ModeCharDevice != 0 {
		fmt.Fprintln(os.Stderr, "Paste credentials, then press Ctrl-D:")
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return string(data), nil
}

func (a *app) accounts(ctx context.Context, args []string) error {
	if len(args) == 0 {
		args = []string{"list"}
	}
	sub, rest := args[0], args[1:]

	switch sub {
	case "list":
		all, err := a.registry.All()
		if err != nil {
			return err
		}
		selected, err := a.registry.Selected()
		if err != nil {
			return err
		}
		printAccounts(all, selected)
		return nil

	case "add":
		fs := flag.NewFlagSet("accounts add", flag.ExitOnError)
		host := fs.String("host", "", "panel host")
		user := fs.String("user", "", "username")
		pass := fs.String("pass", "", "password")
		name := fs.String("name", "", "display name")
		fs.Parse(rest)

		acc, err := a.registry.Add(model.AddAccountParams{Host: *host, Username: *user, Password: *pass, Name: *name})
		if err != nil {
			return err
		}
		fmt.Printf("Saved and selected account %s (%s)\n", acc.DisplayName(), acc.ID)
		return nil

	case "remove", "select", "check":
		if len(rest) != 1 {
			return apperrors.MissingRequired("account id")
		}
		id := rest[0]
		switch sub {
		case "remove":
			if err := a.registry.Remove(id); err != nil {
				return err
			}
			fmt.Println("Account removed")
		case "select":
			acc, err := a.registry.Select(id)
			if err != nil {
				return err
			}
			fmt.Printf("Selected %s\n", acc.DisplayName())
		case "check":
			acc, err := a.registry.Check(ctx, id)
			if err != nil {
				return err
			}
			printAccounts([]model.IptvAccount{*acc}, nil)
		}
		return nil

	case "check-all":
		all, err := a.registry.CheckAll(ctx)
		if err != nil {
			return err
		}
		selected, err := a.registry.Selected()
		if err != nil {
			return err
		}
		printAccounts(all, selected)
		return nil

	case "fastest":
		acc, err := a.registry.Fastest()
		if err != nil {
			return err
		}
		if acc == nil {
			return apperrors.NotFound("Active account")
		}
		if _, err := a.registry.Select(acc.ID); err != nil {
			return err
		}
		fmt.Printf("Selected %s (%s)\n", acc.DisplayName(), acc.Host)
		return nil

	case "clear":
		if err := a.registry.ClearAll(); err != nil {
			return err
		}
		fmt.Println("All accounts removed")
		return nil
	}

	return apperrors.ValidationError(fmt.Sprintf("unknown accounts command %q", sub))
}

func printAccounts(all []model.IptvAccount, selected *model.IptvAccount) {
	if len(all) == 0 {
		fmt.Println("No accounts")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "\tID\tNAME\tHOST\tSTATUS\tLATENCY\tEXPIRES")
	for _, acc := range all {
		mark := ""
		if selected != nil && selected.ID == acc.ID {
			mark = "*"
		}
		latency := "-"
		if acc.LatencyMs != nil {
			latency = fmt.Sprintf("%dms", *acc.LatencyMs)
		}
		expires := acc.ExpiresAt
		if expires == "" {
			expires = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			mark, acc.ID, acc.DisplayName(), acc.Host, acc.Status, latency, expires)
	}
	w.Flush()
}

// selectedCredentials resolves the account to talk to: an explicit id, or
// the selected account.
func (a *app) selectedCredentials(id string) (*model.IptvAccount, error) {
	if id != "" {
		return a.registry.Get(id)
	}
	acc, err := a.registry.Selected()
	if err != nil {
		return nil, err
	}
	if acc == nil {
		return nil, errors.New("no account selected, run `iplinks receive` or `iplinks accounts add`")
	}
	return acc, nil
}

func upstream(acc *model.IptvAccount) model.UpstreamCredentials {
	return model.UpstreamCredentials{Host: acc.Host, Username: acc.Username, Password: acc.Password}
}

func (a *app) categories(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("categories", flag.ExitOnError)
	id := fs.String("account", "", "account id (default: selected)")
	fs.Parse(args)

	acc, err := a.selectedCredentials(*id)
	if err != nil {
		return err
	}

	result, err := a.api.Categories(ctx, upstream(acc))
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME")
	for _, c := range result.Categories {
		fmt.Fprintf(w, "%s\t%s\n", c.CategoryID, c.CategoryName)
	}
	return w.Flush()
}

func (a *app) channels(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("channels", flag.ExitOnError)
	id := fs.String("account", "", "account id (default: selected)")
	category := fs.String("category", "", "category id")
	search := fs.String("search", "", "filter by channel name")
	fs.Parse(args)

	if *category == "" {
		return apperrors.MissingRequired("category")
	}

	acc, err := a.selectedCredentials(*id)
	if err != nil {
		return err
	}

	result, err := a.api.Streams(ctx, upstream(acc), *category)
	if err != nil {
		return err
	}

	needle := strings.ToLower(*search)
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME")
	for _, s := range result.Streams {
		if needle != "" && !strings.Contains(strings.ToLower(s.Name.String()), needle) {
			continue
		}
		fmt.Fprintf(w, "%s\t%s\n", s.StreamID, s.Name)
	}
	return w.Flush()
}

func (a *app) play(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("play", flag.ExitOnError)
	id := fs.String("account", "", "account id (default: selected)")
	stream := fs.String("stream", "", "stream id")
	intent := fs.Bool("intent", false, "print an Android intent URI instead of the plain URL")
	fs.Parse(args)

	if *stream == "" {
		return apperrors.MissingRequired("stream")
	}

	acc, err := a.selectedCredentials(*id)
	if err != nil {
		return err
	}

	creds := upstream(acc)
	serverURL := acc.Host
	if result, err := a.api.Categories(ctx, creds); err == nil {
		serverURL = result.ServerURL
	}

	url := playback.StreamURL(serverURL, acc.Host, acc.Username, acc.Password, *stream)
	if *intent {
		url = playback.IntentURI(url)
	}
	fmt.Println(url)
	return nil
}
