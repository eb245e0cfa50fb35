// Package main is the terminal inbox for the messaging API.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"github.com/rentease/messaging/internal/client"
	"github.com/rentease/messaging/internal/config"
	"github.com/rentease/messaging/internal/model"
	"github.com/rentease/messaging/internal/session"
	"github.com/rentease/messaging/internal/tui"
	"github.com/rentease/messaging/pkg/logger"
)

func main() {
	cfg := config.LoadClient()

	to := flag.String("to", "", "open a conversation with `userID` on start")
	toName := flag.String("to-name", "", "display name for -to")
	unit := flag.String("unit", "", "landlords: only provision conversations for tenants of `unitID`")
	flag.StringVar(&cfg.APIURL, "api", cfg.APIURL, "messaging API base URL")
	flag.StringVar(&cfg.Token, "token", cfg.Token, "bearer token (default $MESSAGING_TOKEN)")
	flag.Parse()

	if err := run(cfg, *to, *toName, *unit); err != nil {
		fmt.Fprintf(os.Stderr, "inbox: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg *config.ClientConfig, to, toName, unit string) error {
	if cfg.Token == "" {
		return fmt.Errorf("a token is required; set MESSAGING_TOKEN or pass -token")
	}

	// The terminal belongs to the UI, so logs go to a file.
	log, err := logger.New(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	viewer, err := client.ViewerFromToken(cfg.Token)
	if err != nil {
		return err
	}

	c, err := client.New(cfg.APIURL, cfg.Token,
		client.WithTimeout(cfg.Timeout),
		client.WithLogger(log),
	)
	if err != nil {
		return err
	}
	var api session.API = c
	if unit != "" {
		api = c.ForUnit(unit)
	}

	notifier, notices := tui.ChannelNotifier(16)
	manager := session.New(api, viewer,
		session.WithNotifier(notifier),
		session.WithLogger(log),
	)
	defer manager.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	opts := []tui.Option{tui.WithContext(ctx)}
	if to != "" {
		opts = append(opts, tui.WithDeepLink(model.Participant{ID: to, Name: toName}))
	}

	log.Info("inbox started",
		zap.String("user_id", viewer.UserID),
		zap.String("role", string(viewer.Role)),
		zap.String("api", cfg.APIURL),
	)

	p := tea.NewProgram(tui.New(manager, notices, opts...), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("ui error: %w", err)
	}
	return nil
}
