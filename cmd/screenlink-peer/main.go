// screenlink-peer is a headless participant: it joins a room on the
// signaling relay and negotiates a media transport with whichever peer shares
// it. Useful for soaking the relay and for receiving a shared screen without
// a browser.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/screenlink/signaling/internal/peer"
)

func main() {
	fs := flag.NewFlagSet("screenlink-peer", flag.ContinueOnError)
	serverURL := fs.String("server", "http://127.0.0.1:3000", "signaling server base URL")
	roomID := fs.String("room", "", "room to join (required)")
	userID := fs.String("user", "", "participant id (default: random)")
	verbose := fs.Bool("v", false, "debug logging")

	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		os.Exit(2)
	}
	if *roomID == "" {
		fmt.Fprintln(os.Stderr, "-room is required")
		os.Exit(2)
	}
	if *userID == "" {
		*userID = uuid.NewString()
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *serverURL, *roomID, *userID); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("peer exited", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, serverURL, roomID, userID string) error {
	fetchCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	iceServers, err := peer.FetchICEServers(fetchCtx, nil, serverURL)
	cancel()
	if err != nil {
		logger.Warn("falling back to default ICE servers", "err", err)
		iceServers = peer.DefaultICEServers()
	}

	link, err := peer.DialLink(ctx, signalingURL(serverURL), logger)
	if err != nil {
		return err
	}
	defer link.Close()

	negotiator, err := peer.NewNegotiator(peer.NegotiatorConfig{
		RoomID: roomID,
		UserID: userID,
		Link:   link,
		NewSession: peer.NewSessionFactory(peer.SessionConfig{
			ICEServers: iceServers,
			Log:        logger,
		}),
		TURNConfigured: peer.HasTURN(iceServers),
		OnStateChange: func(state peer.State, err error) {
			if err != nil {
				logger.Error("negotiation failed", "state", state, "err", err)
				return
			}
			logger.Info("negotiation state", "state", state)
		},
		Log: logger,
	})
	if err != nil {
		return err
	}

	logger.Info("joining room", "server", serverURL, "room", roomID, "user", userID)
	return negotiator.Run(ctx, link.Messages())
}

// signalingURL maps the server's http(s) base URL to its WebSocket endpoint.
func signalingURL(base string) string {
	url := strings.TrimRight(base, "/")
	switch {
	case strings.HasPrefix(url, "https://"):
		url = "wss://" + strings.TrimPrefix(url, "https://")
	case strings.HasPrefix(url, "http://"):
		url = "ws://" + strings.TrimPrefix(url, "http://")
	}
	return url + "/ws"
}
