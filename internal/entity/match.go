package entity

import (
	"fmt"
	"math"
	"time"

	"github.com/rocketscienceinc/tictactoe-stake/internal/apperror"
)

type Symbol uint8

const (
	EmptyCell Symbol = 0
	SymbolOne Symbol = 1
	SymbolTwo Symbol = 2
)

const BoardSize = 9

// MaxStakeAmount keeps the sum of both stakes within uint64.
const MaxStakeAmount = math.MaxUint64 / 2

type RoundState string

const (
	StateAwaitingStakes RoundState = "awaiting_stakes"
	StateInProgress     RoundState = "in_progress"
)

type Outcome string

const (
	OutcomeWin  Outcome = "win"
	OutcomeDraw Outcome = "draw"
)

// WinCombos lists the rows, columns and diagonals of the board.
var WinCombos = [8][3]int{
	{0, 1, 2},
	{3, 4, 5},
	{6, 7, 8},
	{0, 3, 6},
	{1, 4, 7},
	{2, 5, 8},
	{0, 4, 8},
	{2, 4, 6},
}

func (that Symbol) IsValid() bool {
	return that == SymbolOne || that == SymbolTwo
}

type Board [BoardSize]Symbol

// HasWon reports whether symbol occupies all three cells of any winning line.
// The empty cell never wins.
func (that Board) HasWon(symbol Symbol) bool {
	if symbol == EmptyCell {
		return false
	}

	for _, combo := range WinCombos {
		if that[combo[0]] == symbol && that[combo[1]] == symbol && that[combo[2]] == symbol {
			return true
		}
	}

	return false
}

func (that Board) IsFilled() bool {
	for _, cell := range that {
		if cell == EmptyCell {
			return false
		}
	}

	return true
}

func (that Board) IsEmpty() bool {
	return that == Board{}
}

type Payout struct {
	Account string `json:"account"`
	Amount  uint64 `json:"amount"`
}

// RoundResult is the terminal outcome of one round.
type RoundResult struct {
	MatchID    string    `json:"match_id"`
	Round      int       `json:"round"`
	Outcome    Outcome   `json:"outcome"`
	Winner     string    `json:"winner,omitempty"`
	Payouts    []Payout  `json:"payouts"`
	Board      Board     `json:"board"`
	FinishedAt time.Time `json:"finished_at"`
}

// Settlement is a round outcome whose payouts have not all landed yet.
// Payouts are delivered in order; Delivered counts the ones already credited.
type Settlement struct {
	Caller    string   `json:"caller"`
	Cell      int      `json:"cell"`
	Payouts   []Payout `json:"payouts"`
	Delivered int      `json:"delivered"`
}

func (that *Settlement) Remaining() []Payout {
	return that.Payouts[that.Delivered:]
}

func (that *Settlement) RemainingTotal() uint64 {
	var total uint64
	for _, payout := range that.Remaining() {
		total += payout.Amount
	}

	return total
}

func (that *Settlement) IsComplete() bool {
	return that.Delivered >= len(that.Payouts)
}

type MatchParams struct {
	PlayerOne       string `json:"player_one"`
	PlayerTwo       string `json:"player_two"`
	PlayerOneSymbol Symbol `json:"player_one_symbol"`
	PlayerTwoSymbol Symbol `json:"player_two_symbol"`
	StakingToken    string `json:"staking_token"`
	StakeAmount     uint64 `json:"stake_amount"`
}

// Match is one persistent game between two fixed accounts, spanning many rounds.
type Match struct {
	ID              string            `json:"id"`
	Board           Board             `json:"board"`
	PlayerOne       string            `json:"player_one"`
	PlayerTwo       string            `json:"player_two"`
	PlayerOneSymbol Symbol            `json:"player_one_symbol"`
	PlayerTwoSymbol Symbol            `json:"player_two_symbol"`
	StakingToken    string            `json:"staking_token"`
	Account         string            `json:"account"`
	StakeAmount     uint64            `json:"stake_amount"`
	Turn            string            `json:"turn"`
	LastWinner      string            `json:"last_winner,omitempty"`
	Stakes          map[string]uint64 `json:"stakes"`
	Status          RoundState        `json:"status"`
	Round           int               `json:"round"`
	LastResult      *RoundResult      `json:"last_result,omitempty"`
	Settlement      *Settlement       `json:"settlement,omitempty"`
}

// MatchAccount returns the ledger account that holds the escrow of a match.
func MatchAccount(id string) string {
	return "match:" + id
}

func NewMatch(id string, params MatchParams) (*Match, error) {
	switch {
	case id == "":
		return nil, fmt.Errorf("%w: match id is empty", apperror.ErrInvalidConfiguration)
	case params.PlayerOne == "" || params.PlayerTwo == "":
		return nil, fmt.Errorf("%w: both players are required", apperror.ErrInvalidConfiguration)
	case params.PlayerOne == params.PlayerTwo:
		return nil, fmt.Errorf("%w: players must be distinct", apperror.ErrInvalidConfiguration)
	case params.PlayerOneSymbol == params.PlayerTwoSymbol:
		return nil, fmt.Errorf("%w: symbols must be distinct", apperror.ErrInvalidConfiguration)
	case !params.PlayerOneSymbol.IsValid() || !params.PlayerTwoSymbol.IsValid():
		return nil, fmt.Errorf("%w: symbols must be 1 or 2", apperror.ErrInvalidConfiguration)
	case params.StakeAmount > MaxStakeAmount:
		return nil, fmt.Errorf("%w: stake amount exceeds %d", apperror.ErrInvalidConfiguration, uint64(MaxStakeAmount))
	}

	return &Match{
		ID:              id,
		PlayerOne:       params.PlayerOne,
		PlayerTwo:       params.PlayerTwo,
		PlayerOneSymbol: params.PlayerOneSymbol,
		PlayerTwoSymbol: params.PlayerTwoSymbol,
		StakingToken:    params.StakingToken,
		Account:         MatchAccount(id),
		StakeAmount:     params.StakeAmount,
		Turn:            params.PlayerOne,
		Stakes:          map[string]uint64{},
		Status:          StateAwaitingStakes,
		Round:           1,
	}, nil
}

func (that *Match) IsPlayer(account string) bool {
	return account == that.PlayerOne || account == that.PlayerTwo
}

func (that *Match) SymbolOf(account string) Symbol {
	switch account {
	case that.PlayerOne:
		return that.PlayerOneSymbol
	case that.PlayerTwo:
		return that.PlayerTwoSymbol
	default:
		return EmptyCell
	}
}

func (that *Match) Opponent(account string) string {
	if account == that.PlayerOne {
		return that.PlayerTwo
	}
	return that.PlayerOne
}

func (that *Match) StakeOf(account string) uint64 {
	return that.Stakes[account]
}

func (that *Match) PlayerOneStake() uint64 {
	return that.StakeOf(that.PlayerOne)
}

func (that *Match) PlayerTwoStake() uint64 {
	return that.StakeOf(that.PlayerTwo)
}

// HasStaked reports whether account has an escrow recorded for the current round.
func (that *Match) HasStaked(account string) bool {
	_, ok := that.Stakes[account]
	return ok
}

// StakesComplete reports whether both players escrowed exactly the stake amount.
func (that *Match) StakesComplete() bool {
	for _, player := range []string{that.PlayerOne, that.PlayerTwo} {
		amount, ok := that.Stakes[player]
		if !ok || amount != that.StakeAmount {
			return false
		}
	}

	return true
}

func (that *Match) EscrowTotal() uint64 {
	return that.PlayerOneStake() + that.PlayerTwoStake()
}

func (that *Match) RecordStake(account string, amount uint64) {
	if that.Stakes == nil {
		that.Stakes = map[string]uint64{}
	}

	that.Stakes[account] = amount

	if that.StakesComplete() {
		that.Status = StateInProgress
	}
}

func (that *Match) ResetStakes() {
	that.Stakes = map[string]uint64{}
	that.Status = StateAwaitingStakes
}

func (that *Match) IsAwaitingStakes() bool {
	return that.Status == StateAwaitingStakes
}

func (that *Match) IsInProgress() bool {
	return that.Status == StateInProgress
}

// FinishRound clears the board and opens the next round. The last winner is
// only replaced on a win.
func (that *Match) FinishRound(result *RoundResult, nextTurn string) {
	if result.Outcome == OutcomeWin {
		that.LastWinner = result.Winner
	}

	that.Board = Board{}
	that.Settlement = nil
	that.Turn = nextTurn
	that.Status = StateAwaitingStakes
	that.LastResult = result
	that.Round++
}

func (that *Match) Clone() *Match {
	clone := *that

	clone.Stakes = make(map[string]uint64, len(that.Stakes))
	for account, amount := range that.Stakes {
		clone.Stakes[account] = amount
	}

	if that.LastResult != nil {
		result := *that.LastResult
		result.Payouts = append([]Payout(nil), that.LastResult.Payouts...)
		clone.LastResult = &result
	}

	if that.Settlement != nil {
		settlement := *that.Settlement
		settlement.Payouts = append([]Payout(nil), that.Settlement.Payouts...)
		clone.Settlement = &settlement
	}

	return &clone
}

// MatchView is the public rendering of a match.
type MatchView struct {
	ID              string       `json:"id"`
	Board           Board        `json:"board"`
	CurrentTurn     string       `json:"current_turn"`
	StakeAmount     uint64       `json:"stake_amount"`
	LastWinner      string       `json:"last_winner"`
	StakingToken    string       `json:"staking_token"`
	PlayerOne       string       `json:"player_one"`
	PlayerTwo       string       `json:"player_two"`
	PlayerOneSymbol Symbol       `json:"player_one_symbol"`
	PlayerTwoSymbol Symbol       `json:"player_two_symbol"`
	PlayerOneStake  uint64       `json:"player_one_stake"`
	PlayerTwoStake  uint64       `json:"player_two_stake"`
	Status          RoundState   `json:"status"`
	Round           int          `json:"round"`
	LastResult      *RoundResult `json:"last_result,omitempty"`
	Settlement      *Settlement  `json:"settlement,omitempty"`
}

// View renders the match with every public query answered.
func (that *Match) View() MatchView {
	return MatchView{
		ID:              that.ID,
		Board:           that.Board,
		CurrentTurn:     that.Turn,
		StakeAmount:     that.StakeAmount,
		LastWinner:      that.LastWinner,
		StakingToken:    that.StakingToken,
		PlayerOne:       that.PlayerOne,
		PlayerTwo:       that.PlayerTwo,
		PlayerOneSymbol: that.PlayerOneSymbol,
		PlayerTwoSymbol: that.PlayerTwoSymbol,
		PlayerOneStake:  that.PlayerOneStake(),
		PlayerTwoStake:  that.PlayerTwoStake(),
		Status:          that.Status,
		Round:           that.Round,
		LastResult:      that.LastResult,
		Settlement:      that.Settlement,
	}
}
