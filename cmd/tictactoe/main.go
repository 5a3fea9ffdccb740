package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"tictactoe/internal/app"
	"tictactoe/internal/config"
	"tictactoe/internal/domain"
	"tictactoe/internal/logging"
	"tictactoe/internal/ports"
	"tictactoe/internal/ports/nakama"
	"tictactoe/internal/ports/redisstore"

	"github.com/google/uuid"
	"github.com/heroiclabs/nakama-common/runtime"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "path to the client config file")
	nickname := flag.String("nickname", "", "display name used when authenticating")
	flag.Parse()

	if err := run(*configPath, *nickname); err != nil {
		fmt.Fprintf(os.Stderr, "tictactoe: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, nickname string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger, syncLogs, err := logging.New(logging.Config{Level: cfg.Log.Level, Development: cfg.Log.Development})
	if err != nil {
		return err
	}
	defer func() { _ = syncLogs() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deviceID, err := loadDeviceID(cfg.DeviceIDPath)
	if err != nil {
		return err
	}
	if nickname == "" {
		nickname = "player-" + deviceID
		if len(deviceID) > 8 {
			nickname = "player-" + deviceID[:8]
		}
	}

	endpoint := nakama.Endpoint{
		Host:      cfg.Server.Host,
		Port:      cfg.Server.Port,
		ServerKey: cfg.Server.ServerKey,
		UseSSL:    cfg.Server.UseSSL,
	}
	client := nakama.NewAPIClient(endpoint, nil, cfg.Server.RequestTimeout())

	store, closeStore, err := openStore(ctx, cfg, client)
	if err != nil {
		return err
	}
	defer func() { _ = closeStore() }()

	socket := nakama.NewSocket(endpoint, nakama.SocketConfig{
		Format:       cfg.Server.Format,
		PingInterval: cfg.Server.PingInterval(),
		EventBuffer:  cfg.Session.EventBuffer,
		OnError: func(err error) {
			logger.Error("Realtime connection lost: %v", err)
		},
	}, logger)

	ctrl, err := app.NewController(app.Deps{
		Auth:        nakama.NewNakamaAuthAdapter(client),
		Profiles:    nakama.NewNakamaProfileAdapter(client),
		Leaderboard: nakama.NewNakamaLeaderboardAdapter(client),
		Store:       store,
		Realtime:    socket,
		Games:       nakama.NewNakamaGameAdapter(client),
		Logger:      logger,
	}, app.Options{
		Query:           cfg.Matchmaking.Query,
		MinCount:        cfg.Matchmaking.MinCount,
		MaxCount:        cfg.Matchmaking.MaxCount,
		PollAttempts:    cfg.Matchmaking.PollAttempts,
		PollInterval:    cfg.Matchmaking.PollInterval(),
		DisplayDelay:    cfg.Session.DisplayDelay(),
		OptimisticMoves: cfg.Session.OptimisticMoves,
		EventBuffer:     cfg.Session.EventBuffer,
	})
	if err != nil {
		return err
	}
	defer func() { _ = ctrl.Close(context.Background()) }()

	res, err := ctrl.Login(ctx, domain.Credential{DeviceID: deviceID, Nickname: nickname})
	if err != nil {
		return err
	}
	p := res.Session.Profile
	fmt.Printf("Logged in as %s (rating %d, %d-%d-%d)\n", res.Session.Username, p.Rating, p.Wins, p.Losses, p.Draws)

	if _, err := ctrl.FindMatch(ctx, ""); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return renderEvents(gctx, ctrl) })
	g.Go(func() error { return readCommands(gctx, ctrl, os.Stdin, logger) })
	if err := g.Wait(); err != nil && !errors.Is(err, errQuit) && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func openStore(ctx context.Context, cfg config.Config, client *nakama.APIClient) (ports.CoordinationStore, func() error, error) {
	if cfg.Matchmaking.StoreBackend == config.StoreRedis {
		store, err := redisstore.Open(ctx, cfg.Matchmaking.RedisURL, cfg.Matchmaking.RecordTTL())
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	}
	return nakama.NewNakamaCoordinationAdapter(client), func() error { return nil }, nil
}

// loadDeviceID returns the id stored at path, creating one on first run.
func loadDeviceID(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id, nil
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("failed to read device id: %w", err)
	}

	id := uuid.NewString()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create device id dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(id+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("failed to write device id: %w", err)
	}
	return id, nil
}

var errQuit = errors.New("quit")

// readCommands accepts "row col", "again", "cancel", "resign", "sync" and "q".
func readCommands(ctx context.Context, ctrl *app.Controller, in io.Reader, logger runtime.Logger) error {
	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		var line string
		select {
		case <-ctx.Done():
			return ctx.Err()
		case l, ok := <-lines:
			if !ok {
				return errQuit
			}
			line = strings.TrimSpace(l)
		}

		switch fields := strings.Fields(line); {
		case len(fields) == 0:
		case fields[0] == "q" || fields[0] == "quit":
			return errQuit
		case fields[0] == "again":
			if _, err := ctrl.PlayAgain(ctx); err != nil {
				fmt.Printf("cannot queue: %v\n", err)
			}
		case fields[0] == "resign":
			if err := ctrl.Resign(ctx); err != nil {
				fmt.Printf("cannot resign: %v\n", err)
			}
		case fields[0] == "sync":
			if err := ctrl.Resync(ctx); err != nil {
				fmt.Printf("cannot sync: %v\n", err)
			}
		case fields[0] == "cancel":
			if err := ctrl.CancelMatchmaking(ctx); err != nil {
				logger.Warn("Cancel failed: %v", err)
			}
		case len(fields) == 2:
			row, errRow := strconv.Atoi(fields[0])
			col, errCol := strconv.Atoi(fields[1])
			if errRow != nil || errCol != nil {
				fmt.Println("usage: <row> <col> | again | resign | sync | cancel | q")
				continue
			}
			sent, err := ctrl.RequestMove(ctx, row, col)
			switch {
			case err != nil:
				fmt.Printf("move failed: %v\n", err)
			case !sent:
				fmt.Println("not a legal move right now")
			}
		default:
			fmt.Println("usage: <row> <col> | again | resign | sync | cancel | q")
		}
	}
}

func renderEvents(ctx context.Context, ctrl *app.Controller) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-ctrl.Events():
			render(ev)
		}
	}
}

func render(ev app.Event) {
	switch p := ev.Payload.(type) {
	case app.QueuedPayload:
		fmt.Printf("Searching for an opponent (ticket %s)...\n", p.Ticket.TicketID)
	case app.QueueCancelledPayload:
		fmt.Println("Search cancelled.")
	case app.MatchmakingFailedPayload:
		fmt.Printf("Matchmaking failed: %v (type \"again\" to retry)\n", p.Err)
	case app.SessionJoinedPayload:
		fmt.Printf("Joined game %s\n", p.Ref.SessionID)
	case app.PresenceChangedPayload:
		fmt.Printf("Opponent: %s\n", p.OpponentName)
	case app.SnapshotUpdatedPayload:
		printBoard(p.Snapshot, p.LocalMark, p.OpponentName)
	case app.GameOverPayload:
		fmt.Printf("Game over: you %s (%+d)\n", p.Result.Outcome, p.Result.ScoreDelta)
	case app.FinishedPayload:
		printLeaderboard(p.Leaderboard)
		fmt.Println("Type \"again\" to play another game or \"q\" to quit.")
	case app.LeaderboardUpdatedPayload:
		printLeaderboard(p.Entries)
	case app.DisconnectedPayload:
		fmt.Printf("Disconnected: %v\n", p.Err)
	}
}

func printBoard(s domain.GameSnapshot, local domain.Mark, opponent string) {
	var b strings.Builder
	for r, row := range s.Board {
		for c, cell := range row {
			if cell == domain.MarkEmpty {
				b.WriteByte('.')
			} else {
				b.WriteString(string(cell))
			}
			if c < len(row)-1 {
				b.WriteByte(' ')
			}
		}
		if r < len(s.Board)-1 {
			b.WriteByte('\n')
		}
	}
	fmt.Println(b.String())
	switch {
	case s.Status != domain.StatusActive:
	case s.TurnHolder == local:
		fmt.Printf("Your move (%s)\n", local)
	default:
		fmt.Printf("Waiting for %s\n", opponent)
	}
}

func printLeaderboard(entries []domain.LeaderboardEntry) {
	if len(entries) == 0 {
		return
	}
	fmt.Println("Leaderboard:")
	for _, e := range entries {
		fmt.Printf("%3d. %-20s %d\n", e.Rank, e.DisplayName, e.Rating)
	}
}
