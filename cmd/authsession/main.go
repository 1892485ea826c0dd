package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/yessloyalty/authsession"
	"github.com/yessloyalty/authsession/internal/config"
	"github.com/yessloyalty/authsession/internal/logging"
)

func main() {
	envFile := flag.String("env", ".env", "Path of an optional .env file")
	username := flag.String("user", config.GetEnv("YESS_USERNAME", ""), "Account username (YESS_USERNAME)")
	password := flag.String("password", config.GetEnv("YESS_PASSWORD", ""), "Account password (YESS_PASSWORD)")
	watch := flag.Bool("watch", false, "Keep the session alive until interrupted or ended")
	logout := flag.Bool("logout", false, "Log out and clear stored credentials before exiting")
	flag.Parse()

	cfg, err := authsession.LoadConfig(*envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	log := logging.New(cfg.LogLevel, cfg.LogPretty)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log, *username, *password, *watch, *logout); err != nil {
		log.Error().Err(err).Msg("session client failed")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg authsession.Config, log zerolog.Logger, username, password string, watch, logout bool) error {
	client, err := authsession.New(ctx, cfg, authsession.WithLogger(log))
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}
	defer client.Close()

	session := client.Session()
	ended, err := client.SessionEnded(ctx)
	if err != nil {
		return err
	}

	if !session.Snapshot().Authenticated {
		if username == "" {
			return errors.New("no stored session: pass -user and -password")
		}
		snap, err := session.Login(ctx, authsession.Credentials{Username: username, Password: password})
		if err != nil {
			return fmt.Errorf("login failed: %w", err)
		}
		log.Info().Str("subject", snap.SubjectID).Strs("roles", snap.Roles).Msg("logged in")
	} else {
		log.Info().Str("subject", session.Snapshot().SubjectID).Msg("restored stored session")
	}

	balance, currency, err := fetchWallet(ctx, client.HTTPClient(), cfg.APIBaseURL)
	if err != nil {
		return err
	}
	snap := session.Snapshot()
	fmt.Printf("subject:  %s\nstatus:   %s\nexpires:  %s\nbalance:  %s %s\n",
		snap.SubjectID, snap.Status, snap.ExpiresAt.Local().Format("2006-01-02 15:04:05"), balance.StringFixed(2), currency)

	if watch {
		log.Info().Msg("watching session, press Ctrl+C to stop")
		select {
		case <-ctx.Done():
		case event, ok := <-ended:
			if ok {
				log.Warn().Time("ended_at", event.EndedAt).Msg("session ended, log in again")
			}
		}
	}

	if logout {
		if err := session.Logout(context.WithoutCancel(ctx)); err != nil {
			return fmt.Errorf("logout failed: %w", err)
		}
		log.Info().Msg("logged out")
	}
	return nil
}

func fetchWallet(ctx context.Context, httpClient *http.Client, baseURL string) (decimal.Decimal, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(baseURL, "/")+"/wallet", nil)
	if err != nil {
		return decimal.Decimal{}, "", err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return decimal.Decimal{}, "", fmt.Errorf("failed to fetch wallet: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Decimal{}, "", fmt.Errorf("failed to fetch wallet: status %d", resp.StatusCode)
	}

	var body struct {
		Balance  decimal.Decimal `json:"balance"`
		Currency string          `json:"currency"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return decimal.Decimal{}, "", fmt.Errorf("failed to decode wallet: %w", err)
	}
	return body.Balance, body.Currency, nil
}
