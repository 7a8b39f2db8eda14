package apperror

import "errors"

var (
	ErrInvalidConfiguration  = errors.New("invalid match configuration")
	ErrMatchNotFound         = errors.New("match not found")
	ErrNotAPlayer            = errors.New("caller is not a player of this match")
	ErrAlreadyStaked         = errors.New("already staked for this round")
	ErrStakeInProgress       = errors.New("stake is already in progress")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrTransferFailed        = errors.New("transfer failed")
	ErrEscrowMismatch        = errors.New("ledger holds less than the escrowed stakes")
	ErrStakesIncomplete      = errors.New("both players must stake before playing")
	ErrCellOutOfRange        = errors.New("cell index out of range")
	ErrCellOccupied          = errors.New("cell is already occupied")
	ErrNotYourTurn           = errors.New("it's not your turn")
)

var (
	ErrUnauthorized      = errors.New("unauthorized")
	ErrSettlementPending = errors.New("round settlement is pending for another move")
)
