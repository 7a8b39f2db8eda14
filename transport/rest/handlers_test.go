package rest_test

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rocketscienceinc/tictactoe-stake/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-stake/internal/entity"
	"github.com/rocketscienceinc/tictactoe-stake/internal/escrow"
	"github.com/rocketscienceinc/tictactoe-stake/internal/ledger"
	"github.com/rocketscienceinc/tictactoe-stake/internal/service"
	"github.com/rocketscienceinc/tictactoe-stake/internal/tictactoe"
	"github.com/rocketscienceinc/tictactoe-stake/internal/usecase"
	"github.com/rocketscienceinc/tictactoe-stake/testing/suite"
	"github.com/rocketscienceinc/tictactoe-stake/transport/rest"
)

type memMatchRepo struct {
	mu      sync.Mutex
	matches map[string]*entity.Match
}

func (that *memMatchRepo) CreateOrUpdate(_ context.Context, match *entity.Match) error {
	that.mu.Lock()
	defer that.mu.Unlock()

	that.matches[match.ID] = match.Clone()
	return nil
}

func (that *memMatchRepo) GetByID(_ context.Context, id string) (*entity.Match, error) {
	that.mu.Lock()
	defer that.mu.Unlock()

	match, ok := that.matches[id]
	if !ok {
		return nil, apperror.ErrMatchNotFound
	}
	return match.Clone(), nil
}

type memRoundRepo struct {
	mu     sync.Mutex
	rounds []*entity.RoundResult
}

func (that *memRoundRepo) Save(_ context.Context, result *entity.RoundResult) error {
	that.mu.Lock()
	defer that.mu.Unlock()

	that.rounds = append(that.rounds, result)
	return nil
}

func (that *memRoundRepo) ListByMatch(_ context.Context, matchID string) ([]*entity.RoundResult, error) {
	that.mu.Lock()
	defer that.mu.Unlock()

	var out []*entity.RoundResult
	for _, round := range that.rounds {
		if round.MatchID == matchID {
			out = append(out, round)
		}
	}
	return out, nil
}

type api struct {
	t      *testing.T
	server *httptest.Server
	ledger *ledger.Memory
	auth   *service.AuthService
}

func newAPI(t *testing.T, allowIssue bool) *api {
	t.Helper()

	logger := suite.NewLogger()
	mem := ledger.NewMemory()
	escrowController := escrow.NewController(logger, mem)
	manager := usecase.NewMatchManager(logger,
		&memMatchRepo{matches: make(map[string]*entity.Match)},
		&memRoundRepo{},
		escrowController,
		tictactoe.NewGameController(logger, escrowController),
		"PSP22",
	)
	auth := service.NewAuthService("secret")

	server := httptest.NewServer(rest.NewHandlers(logger, manager, auth, mem, allowIssue).Routes())
	t.Cleanup(server.Close)

	return &api{t: t, server: server, ledger: mem, auth: auth}
}

func (that *api) do(method, path, account string, body any, out any) int {
	that.t.Helper()

	var reader bytes.Buffer
	if body != nil {
		require.NoError(that.t, json.NewEncoder(&reader).Encode(body))
	}

	req, err := http.NewRequest(method, that.server.URL+path, &reader)
	require.NoError(that.t, err)

	if account != "" {
		token, err := that.auth.GenerateToken(account)
		require.NoError(that.t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(that.t, err)
	defer resp.Body.Close()

	if out != nil {
		require.NoError(that.t, json.NewDecoder(resp.Body).Decode(out))
	}

	return resp.StatusCode
}

func (that *api) fund(match entity.MatchView, accounts ...string) {
	that.t.Helper()

	ctx := context.Background()
	for _, account := range accounts {
		require.NoError(that.t, that.ledger.Mint(ctx, account, 1000))
		require.NoError(that.t, that.ledger.Approve(ctx, account, entity.MatchAccount(match.ID), 1000))
	}
}

func (that *api) balance(account string) uint64 {
	that.t.Helper()

	balance, err := that.ledger.BalanceOf(context.Background(), account)
	require.NoError(that.t, err)
	return balance
}

func createParams() entity.MatchParams {
	return entity.MatchParams{
		PlayerOne:       "alice",
		PlayerTwo:       "bob",
		PlayerOneSymbol: entity.SymbolOne,
		PlayerTwoSymbol: entity.SymbolTwo,
		StakeAmount:     100,
	}
}

func cell(n int) map[string]int {
	return map[string]int{"cell": n}
}

func TestHandlers_FullRound(t *testing.T) {
	// Given: a funded match
	a := newAPI(t, false)

	var match entity.MatchView
	require.Equal(t, http.StatusCreated, a.do(http.MethodPost, "/matches", "", createParams(), &match))
	a.fund(match, "alice", "bob")
	path := "/matches/" + match.ID

	// When: both stake and alice completes the top row
	require.Equal(t, http.StatusOK, a.do(http.MethodPost, path+"/stake", "alice", nil, nil))
	require.Equal(t, http.StatusOK, a.do(http.MethodPost, path+"/stake", "bob", nil, &match))
	assert.Equal(t, uint64(100), match.PlayerOneStake)
	assert.Equal(t, uint64(100), match.PlayerTwoStake)

	var resp struct {
		Match  entity.MatchView    `json:"match"`
		Result *entity.RoundResult `json:"result"`
	}
	for i, move := range []struct {
		account string
		cell    int
	}{{"alice", 0}, {"bob", 3}, {"alice", 1}, {"bob", 4}, {"alice", 2}} {
		require.Equal(t, http.StatusOK, a.do(http.MethodPost, path+"/play", move.account, cell(move.cell), &resp), "move %d", i)
	}

	// Then: alice takes the pot, the board is reset and the round is journaled
	require.NotNil(t, resp.Result)
	assert.Equal(t, "alice", resp.Result.Winner)
	assert.Equal(t, "alice", resp.Match.LastWinner)
	assert.Equal(t, "alice", resp.Match.CurrentTurn)
	assert.Equal(t, entity.Board{}, resp.Match.Board)
	assert.Zero(t, resp.Match.PlayerOneStake)
	assert.Equal(t, uint64(1100), a.balance("alice"))
	assert.Equal(t, uint64(900), a.balance("bob"))

	var rounds []entity.RoundResult
	require.Equal(t, http.StatusOK, a.do(http.MethodGet, path+"/rounds", "", nil, &rounds))
	require.Len(t, rounds, 1)
	assert.Equal(t, entity.OutcomeWin, rounds[0].Outcome)
}

func TestHandlers_Errors(t *testing.T) {
	a := newAPI(t, false)

	var match entity.MatchView
	require.Equal(t, http.StatusCreated, a.do(http.MethodPost, "/matches", "", createParams(), &match))
	path := "/matches/" + match.ID

	t.Run("Missing bearer token", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, a.do(http.MethodPost, path+"/stake", "", nil, nil))
	})

	t.Run("Stranger cannot stake", func(t *testing.T) {
		assert.Equal(t, http.StatusForbidden, a.do(http.MethodPost, path+"/stake", "carol", nil, nil))
	})

	t.Run("Unfunded player cannot stake", func(t *testing.T) {
		assert.Equal(t, http.StatusUnprocessableEntity, a.do(http.MethodPost, path+"/stake", "alice", nil, nil))
	})

	t.Run("Play before stakes are complete", func(t *testing.T) {
		assert.Equal(t, http.StatusConflict, a.do(http.MethodPost, path+"/play", "alice", cell(0), nil))
	})

	t.Run("Cell out of range", func(t *testing.T) {
		assert.Equal(t, http.StatusBadRequest, a.do(http.MethodPost, path+"/play", "alice", cell(9), nil))
	})

	t.Run("Play without a cell", func(t *testing.T) {
		assert.Equal(t, http.StatusBadRequest, a.do(http.MethodPost, path+"/play", "alice", map[string]int{}, nil))
	})

	t.Run("Unknown match", func(t *testing.T) {
		assert.Equal(t, http.StatusNotFound, a.do(http.MethodGet, "/matches/nope", "", nil, nil))
		assert.Equal(t, http.StatusNotFound, a.do(http.MethodGet, "/matches/nope/rounds", "", nil, nil))
	})

	t.Run("Invalid configuration", func(t *testing.T) {
		params := createParams()
		params.PlayerTwoSymbol = params.PlayerOneSymbol
		assert.Equal(t, http.StatusBadRequest, a.do(http.MethodPost, "/matches", "", params, nil))
	})

	t.Run("Token issuance is disabled", func(t *testing.T) {
		assert.Equal(t, http.StatusNotFound, a.do(http.MethodPost, "/tokens", "", map[string]string{"account": "alice"}, nil))
	})
}

func TestHandlers_IssueToken(t *testing.T) {
	// Given: token issuance is enabled
	a := newAPI(t, true)

	// When: a token is requested for alice
	var resp map[string]string
	status := a.do(http.MethodPost, "/tokens", "", map[string]string{"account": "alice"}, &resp)

	// Then: the token resolves to alice
	require.Equal(t, http.StatusOK, status)
	account, err := a.auth.ParseToken(resp["token"])
	require.NoError(t, err)
	assert.Equal(t, "alice", account)
}

func TestHandlers_Faucet(t *testing.T) {
	t.Run("Funds an account for a match", func(t *testing.T) {
		// Given: a match and an enabled faucet
		a := newAPI(t, true)
		var match entity.MatchView
		require.Equal(t, http.StatusCreated, a.do(http.MethodPost, "/matches", "", createParams(), &match))

		// When: alice asks for 500 units for the match
		status := a.do(http.MethodPost, "/faucet", "", map[string]any{
			"account": "alice", "match_id": match.ID, "amount": 500,
		}, nil)

		// Then: she can stake with them
		require.Equal(t, http.StatusNoContent, status)
		assert.Equal(t, uint64(500), a.balance("alice"))
		assert.Equal(t, http.StatusOK, a.do(http.MethodPost, "/matches/"+match.ID+"/stake", "alice", nil, nil))
		assert.Equal(t, uint64(400), a.balance("alice"))
	})

	t.Run("Unknown match is not approved", func(t *testing.T) {
		a := newAPI(t, true)

		status := a.do(http.MethodPost, "/faucet", "", map[string]any{
			"account": "alice", "match_id": "nope", "amount": 500,
		}, nil)

		assert.Equal(t, http.StatusNotFound, status)
	})

	t.Run("Balance that would wrap is refused", func(t *testing.T) {
		// Given: alice already holds the largest balance
		a := newAPI(t, true)
		body := map[string]any{"account": "alice", "amount": uint64(math.MaxUint64)}
		require.Equal(t, http.StatusNoContent, a.do(http.MethodPost, "/faucet", "", body, nil))

		// When: one more unit is requested
		status := a.do(http.MethodPost, "/faucet", "", map[string]any{"account": "alice", "amount": 1}, nil)

		// Then: the request is rejected and the balance is unchanged
		assert.Equal(t, http.StatusUnprocessableEntity, status)
		assert.Equal(t, uint64(math.MaxUint64), a.balance("alice"))
	})

	t.Run("Disabled", func(t *testing.T) {
		a := newAPI(t, false)

		status := a.do(http.MethodPost, "/faucet", "", map[string]any{"account": "alice", "amount": 500}, nil)

		assert.Equal(t, http.StatusNotFound, status)
	})
}

func TestHandlers_Ping(t *testing.T) {
	a := newAPI(t, false)

	resp, err := http.Get(a.server.URL + "/ping")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
