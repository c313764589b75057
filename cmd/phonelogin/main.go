// Package main is an interactive terminal client for the phone login flow.
//
// Start cmd/devbackend, then:
//
//	PHONE_LOGIN_BASE_URL=http://localhost:4000 go run ./cmd/phonelogin
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/tendant/phone-login/pkg/actionlog"
	"github.com/tendant/phone-login/pkg/config"
	"github.com/tendant/phone-login/pkg/loginflow"
	"github.com/tendant/phone-login/pkg/network"
	"github.com/tendant/phone-login/pkg/preferences"
)

const helpText = `Commands:
  phone <number>    set the phone number, e.g. "phone 0177 1234567"
  country <code>    select the country, e.g. "country AT"
  countries         list supported countries
  send              request a code
  code <digits>     log in with a code
  delete            delete the account
  logout            forget app user and phone number
  state             show the current state
  log               show the action log
  help              show this help
  quit              exit`

func main() {
	envFile := flag.String("env", ".env", "env file to load")
	flag.Parse()

	var cfg config.PhoneLoginConfig
	var storageCfg config.StorageConfig
	for _, c := range []interface{}{&cfg, &storageCfg} {
		if err := config.Load(*envFile, c); err != nil {
			slog.Error("Failed to load configuration", "err", err)
			os.Exit(1)
		}
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: config.ParseLogLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	if err := run(context.Background(), cfg, storageCfg, logger, os.Stdin, os.Stdout); err != nil {
		slog.Error("Phone login failed", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.PhoneLoginConfig, storageCfg config.StorageConfig, logger *slog.Logger, in io.Reader, out io.Writer) error {
	networkCfg, err := cfg.NetworkConfiguration()
	if err != nil {
		return err
	}
	waitInterval, requestTimeout, err := cfg.Durations()
	if err != nil {
		return err
	}

	store, err := storageCfg.NewStore()
	if err != nil {
		return fmt.Errorf("failed to create preferences store: %w", err)
	}
	if closer, ok := store.(io.Closer); ok {
		defer closer.Close()
	}
	prefs := preferences.New(store)

	if selected, err := prefs.SelectedCountry(ctx); err == nil && selected == "" && cfg.DefaultCountry != "" {
		if err := prefs.SetSelectedCountry(ctx, cfg.DefaultCountry); err != nil {
			return err
		}
	}

	opts := []loginflow.Option{
		loginflow.WithLogger(logger),
		loginflow.WithWaitInterval(waitInterval),
		loginflow.WithRequestTimeout(requestTimeout),
		loginflow.WithManager(network.NewManager(network.WithLogger(logger))),
	}
	var actions *actionlog.Logger
	if cfg.LogActions {
		actions = actionlog.New(logger)
		restored, err := prefs.LogActions(ctx)
		if err != nil {
			logger.Warn("Failed to restore action log", "err", err)
		}
		actions.Restore(restored)
		actions.Subscribe(func(actionlog.LogAction) {
			if err := prefs.SetLogActions(context.Background(), actions.Actions()); err != nil {
				logger.Warn("Failed to persist action log", "err", err)
			}
		})
		opts = append(opts, loginflow.WithActionLog(actions))
	}

	flow, err := loginflow.NewPhoneLogin(ctx, networkCfg, prefs, opts...)
	if err != nil {
		return err
	}
	defer flow.Close()

	var mu sync.Mutex
	last := flow.State()
	flow.Subscribe(func(s loginflow.Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		if s.State == last {
			return
		}
		last = s.State
		fmt.Fprintf(out, "state: %s\n", describe(s))
		if err := prefs.SetLastPage(context.Background(), string(s.State)); err != nil {
			logger.Warn("Failed to persist last page", "err", err)
		}
	})

	if page, err := prefs.LastPage(ctx); err == nil && page != "" {
		fmt.Fprintf(out, "last session ended in %s\n", page)
	}
	fmt.Fprintf(out, "state: %s\n", describe(flow.Snapshot()))
	fmt.Fprintln(out, `type "help" for commands`)

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			break
		}
		command, arg, _ := strings.Cut(strings.TrimSpace(scanner.Text()), " ")
		arg = strings.TrimSpace(arg)

		switch strings.ToLower(command) {
		case "":
		case "phone":
			flow.SetPhoneNumber(arg)
			fmt.Fprintf(out, "phone number: %s\n", flow.PhoneNumberPrettyPrint())
		case "country":
			if err := flow.SetCountry(arg); err != nil {
				fmt.Fprintf(out, "unknown country %q\n", arg)
				continue
			}
			c := flow.Country()
			fmt.Fprintf(out, "country: %s %s +%d\n", c.FlagSymbol(), c.CountryName(), c.CallingCode)
		case "countries":
			for _, c := range flow.Countries() {
				fmt.Fprintf(out, "  %s %s %-20s +%d\n", c.FlagSymbol(), c.CountryCode, c.CountryName(), c.CallingCode)
			}
		case "send":
			if !flow.SendPhoneNumber() {
				fmt.Fprintln(out, sendHint(flow))
			}
		case "code":
			if !flow.LoginWithCode(arg) {
				fmt.Fprintf(out, "enter the %d digit code after requesting it\n", loginflow.PinCodeLength)
			}
		case "delete":
			if !flow.DeleteAccount() {
				fmt.Fprintln(out, "log in first")
			}
		case "logout":
			flow.Logout()
		case "state":
			fmt.Fprintf(out, "state: %s\n", describe(flow.Snapshot()))
		case "log":
			if actions == nil {
				fmt.Fprintln(out, "action log disabled")
				continue
			}
			for _, a := range actions.Actions() {
				fmt.Fprintf(out, "  %s %s\n", a.Timestamp.Format("15:04:05"), a)
			}
		case "help":
			fmt.Fprintln(out, helpText)
		case "quit", "exit":
			return nil
		default:
			fmt.Fprintf(out, "unknown command %q\n", command)
		}
	}
	return scanner.Err()
}

func describe(s loginflow.Snapshot) string {
	var b strings.Builder
	b.WriteString(string(s.State))
	if s.PhoneNumber != "" {
		fmt.Fprintf(&b, " phone=%s", s.Country.PrettyPrint(s.PhoneNumber))
	}
	if s.AppUser != nil {
		fmt.Fprintf(&b, " appUser=%s", s.AppUser.ID)
	}
	if s.TimerRunning {
		b.WriteString(" (waiting before next code)")
	}
	if s.ErrorMessage != "" {
		fmt.Fprintf(&b, " error=%q", s.ErrorMessage)
	}
	return b.String()
}

func sendHint(flow *loginflow.PhoneLogin) string {
	switch {
	case !flow.CanSendPhoneNumber():
		return "enter a phone number first"
	case flow.TimerIsRunning():
		return fmt.Sprintf("wait %s before requesting another code", flow.WaitTimer().Remaining().Round(time.Second))
	}
	return "cannot request a code now"
}
