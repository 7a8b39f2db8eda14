package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rocketscienceinc/tictactoe-stake/internal/entity"
)

const (
	readLimit       = 4096
	writeTimeout    = 10 * time.Second
	shutdownTimeout = 5 * time.Second
)

type matchManager interface {
	GetMatch(ctx context.Context, matchID string) (*entity.Match, error)
	StakeTokens(ctx context.Context, matchID, caller string) (*entity.Match, error)
	Play(ctx context.Context, matchID, caller string, cell int) (*entity.Match, *entity.RoundResult, error)
}

type authService interface {
	ParseToken(token string) (string, error)
}

type handlerFunc func(ctx context.Context, c *client, msg *Message) error

// Server pushes match updates to every connection subscribed to a match and
// accepts stake and play actions from the authenticated caller.
type Server struct {
	logger *slog.Logger

	matches matchManager
	auth    authService

	upgrader websocket.Upgrader
	hub      *hub

	handlers map[string]handlerFunc
}

func New(logger *slog.Logger, matches matchManager, auth authService) *Server {
	server := &Server{
		logger:  logger.With("component", "websocket"),
		matches: matches,
		auth:    auth,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		hub: newHub(),
	}

	server.handlers = map[string]handlerFunc{
		actionSubscribe: server.handleSubscribe,
		actionStake:     server.handleStake,
		actionPlay:      server.handlePlay,
	}

	return server
}

// Start - starts WebSocket server and stops it when ctx is canceled.
func (that *Server) Start(ctx context.Context, port string) error {
	mux := http.NewServeMux()
	mux.Handle("GET /ws", that)

	srv := &http.Server{
		Addr:        ":" + port,
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 30 * time.Second,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shutdown server: %w", err)
		}
		return nil
	}
}

// ServeHTTP authenticates the caller and upgrades the connection. The token
// comes from the Authorization header or, for browsers, the token query param.
func (that *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := that.logger.With("method", "ServeHTTP")

	account, err := that.auth.ParseToken(bearerToken(r))
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := that.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error("failed to upgrade connection", "error", err)
		return
	}

	c := &client{conn: conn, account: account}
	defer func() {
		that.hub.UnsubscribeAll(c)
		_ = conn.Close()
	}()

	stop := context.AfterFunc(r.Context(), func() { _ = conn.Close() })
	defer stop()

	log.Info("WebSocket connection established", "account", account)

	if err = that.handleMessages(r.Context(), c); err != nil {
		log.Info("WebSocket connection closed", "account", account, "reason", err)
	}
}

// handleMessages - processes messages from the client until it disconnects.
func (that *Server) handleMessages(ctx context.Context, c *client) error {
	log := that.logger.With("method", "handleMessages", "account", c.account)

	c.conn.SetReadLimit(readLimit)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return err
		}

		var message Message
		if err = json.Unmarshal(data, &message); err != nil {
			that.sendError(c, "", "malformed message")
			continue
		}

		handler, ok := that.handlers[message.Action]
		if !ok {
			that.sendError(c, message.Action, ErrUnknownAction.Error())
			continue
		}

		if err = handler(ctx, c, &message); err != nil {
			log.Warn("action failed", "action", message.Action, "error", err)
			that.sendError(c, message.Action, err.Error())
		}
	}
}

func bearerToken(r *http.Request) string {
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return token
	}

	return r.URL.Query().Get("token")
}
