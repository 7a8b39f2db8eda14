package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/rocketscienceinc/tictactoe-stake/internal/config"
	"github.com/rocketscienceinc/tictactoe-stake/internal/escrow"
	"github.com/rocketscienceinc/tictactoe-stake/internal/ledger"
	"github.com/rocketscienceinc/tictactoe-stake/internal/repository"
	"github.com/rocketscienceinc/tictactoe-stake/internal/repository/storage"
	"github.com/rocketscienceinc/tictactoe-stake/internal/service"
	"github.com/rocketscienceinc/tictactoe-stake/internal/tictactoe"
	"github.com/rocketscienceinc/tictactoe-stake/internal/usecase"
	"github.com/rocketscienceinc/tictactoe-stake/transport/rest"
	"github.com/rocketscienceinc/tictactoe-stake/transport/websocket"
)

var ErrAddrNotFound = errors.New("redis address string is empty")

// appLedger is what the application needs from a ledger backend: the escrow
// contract plus seeding for the development faucet.
type appLedger interface {
	escrow.Ledger
	Mint(ctx context.Context, account string, amount uint64) error
	Approve(ctx context.Context, owner, spender string, amount uint64) error
}

// RunApp - runs the application.
func RunApp(logger *slog.Logger, conf *config.Config) error {
	log := logger.With("component", "app")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigs
		log.Info("Received signal, shutting down", "signal", sig)
		cancel()
	}()

	redisAddrString := conf.Redis.GetRedisAddr()
	if redisAddrString == "" {
		return ErrAddrNotFound
	}

	redisStorage, err := storage.NewRedisStorage(ctx, redisAddrString)
	if err != nil {
		return fmt.Errorf("could not connect to redis storage: %w", err)
	}

	defer func() {
		if err = redisStorage.Close(); err != nil {
			log.Error("could not close redis storage", "error", err)
		}
	}()

	sqliteStorage, err := storage.NewSQLiteStorage(conf.SQLiteStoragePath)
	if err != nil {
		return fmt.Errorf("could not open sqlite storage: %w", err)
	}

	defer func() {
		if err = sqliteStorage.Close(); err != nil {
			log.Error("could not close sqlite storage", "error", err)
		}
	}()

	if err = sqliteStorage.Init(ctx); err != nil {
		return fmt.Errorf("could not init sqlite storage: %w", err)
	}

	var tokenLedger appLedger
	switch conf.Ledger.Driver {
	case config.LedgerDriverMemory:
		log.Warn("Using in-memory ledger, balances are lost on restart")
		tokenLedger = ledger.NewMemory()
	default:
		tokenLedger = ledger.NewRedis(redisStorage.Connection, conf.Ledger.Token)
	}

	matchRepo := repository.NewMatchRepository(redisStorage.Connection)
	roundRepo := repository.NewRoundRepository(sqliteStorage.Connection)

	escrowController := escrow.NewController(logger, tokenLedger)
	gameController := tictactoe.NewGameController(logger, escrowController)
	matchManager := usecase.NewMatchManager(logger, matchRepo, roundRepo, escrowController, gameController, conf.Ledger.Token)

	authService := service.NewAuthService(conf.Auth.JWTSecretKey)
	handlers := rest.NewHandlers(logger, matchManager, authService, tokenLedger, conf.Auth.AllowIssue)

	// run HTTP server
	httpErrCh := make(chan error, 1)
	go func() {
		log.Info("Starting HTTP server", "port", conf.HTTPPort, "ledger", conf.Ledger.Driver, "token", conf.Ledger.Token)
		httpErrCh <- rest.Start(ctx, conf.HTTPPort, handlers.Routes())
	}()

	// run Websocket server
	wsErrCh := make(chan error, 1)
	go func() {
		log.Info("Starting WebSocket server", "port", conf.SocketPort)
		wsServer := websocket.New(logger, matchManager, authService)
		wsErrCh <- wsServer.Start(ctx, conf.SocketPort)
	}()

	select {
	case err = <-httpErrCh:
		if err != nil {
			return fmt.Errorf("HTTP server error: %w", err)
		}
	case err = <-wsErrCh:
		if err != nil {
			return fmt.Errorf("WebSocket server error: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info("Application context canceled, shutting down")

	return nil
}
