package ledger

import (
	"math"
	"testing"

	"github.com/rocketscienceinc/tictactoe-stake/internal/entity"
	"github.com/rocketscienceinc/tictactoe-stake/testing/suite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedis_TransferFrom(t *testing.T) {
	t.Run("TransferFrom_Success", func(t *testing.T) {
		ctx, st := suite.New(t)

		ledger := NewRedis(st.Storage, "PSP22")

		// Given: alice owns 500 and allowed the match to spend 300
		require.NoError(t, ledger.Mint(ctx, "alice", 500))
		require.NoError(t, ledger.Approve(ctx, "alice", "match:m1", 300))

		// When: the match pulls 100 into its account
		err := ledger.TransferFrom(ctx, "match:m1", "alice", "match:m1", 100)

		// Then: balances and allowance are updated in one step
		require.NoError(t, err)
		assertBalance(ctx, t, ledger, "alice", 400)
		assertBalance(ctx, t, ledger, "match:m1", 100)

		allowance, err := ledger.Allowance(ctx, "alice", "match:m1")
		require.NoError(t, err)
		assert.Equal(t, uint64(200), allowance)
	})

	t.Run("TransferFrom_InsufficientAllowance", func(t *testing.T) {
		ctx, st := suite.New(t)

		ledger := NewRedis(st.Storage, "PSP22")
		require.NoError(t, ledger.Mint(ctx, "alice", 500))
		require.NoError(t, ledger.Approve(ctx, "alice", "match:m1", 50))

		err := ledger.TransferFrom(ctx, "match:m1", "alice", "match:m1", 100)

		require.ErrorIs(t, err, ErrInsufficientAllowance)
		assertBalance(ctx, t, ledger, "alice", 500)
	})

	t.Run("TransferFrom_InsufficientFunds", func(t *testing.T) {
		ctx, st := suite.New(t)

		ledger := NewRedis(st.Storage, "PSP22")
		require.NoError(t, ledger.Mint(ctx, "alice", 10))
		require.NoError(t, ledger.Approve(ctx, "alice", "match:m1", 500))

		err := ledger.TransferFrom(ctx, "match:m1", "alice", "match:m1", 100)

		require.ErrorIs(t, err, ErrInsufficientFunds)

		allowance, err := ledger.Allowance(ctx, "alice", "match:m1")
		require.NoError(t, err)
		assert.Equal(t, uint64(500), allowance)
	})
}

func TestRedis_TransferBatch(t *testing.T) {
	t.Run("TransferBatch_Success", func(t *testing.T) {
		ctx, st := suite.New(t)

		ledger := NewRedis(st.Storage, "PSP22")
		require.NoError(t, ledger.Mint(ctx, "match:m1", 200))

		// When: the match refunds both players
		err := ledger.TransferBatch(ctx, "", "match:m1", []entity.Payout{
			{Account: "alice", Amount: 100},
			{Account: "bob", Amount: 100},
		})

		// Then: both are credited and the match is empty
		require.NoError(t, err)
		assertBalance(ctx, t, ledger, "alice", 100)
		assertBalance(ctx, t, ledger, "bob", 100)
		assertBalance(ctx, t, ledger, "match:m1", 0)
	})

	t.Run("TransferBatch_InsufficientFunds", func(t *testing.T) {
		ctx, st := suite.New(t)

		ledger := NewRedis(st.Storage, "PSP22")
		require.NoError(t, ledger.Mint(ctx, "match:m1", 150))

		err := ledger.TransferBatch(ctx, "", "match:m1", []entity.Payout{
			{Account: "alice", Amount: 100},
			{Account: "bob", Amount: 100},
		})

		require.ErrorIs(t, err, ErrInsufficientFunds)
		assertBalance(ctx, t, ledger, "alice", 0)
		assertBalance(ctx, t, ledger, "match:m1", 150)
	})

	t.Run("Transfer_ZeroAmount", func(t *testing.T) {
		ctx, st := suite.New(t)

		ledger := NewRedis(st.Storage, "PSP22")

		err := ledger.Transfer(ctx, "match:m1", "alice", 0)

		require.NoError(t, err)
		assertBalance(ctx, t, ledger, "alice", 0)
	})
}

func TestRedis_TransferBatchRef(t *testing.T) {
	ctx, st := suite.New(t)

	ledger := NewRedis(st.Storage, "PSP22")
	require.NoError(t, ledger.Mint(ctx, "match:m1", 400))
	payouts := []entity.Payout{{Account: "alice", Amount: 100}, {Account: "bob", Amount: 100}}

	// Given: a batch applied under a reference
	require.NoError(t, ledger.TransferBatch(ctx, "m1/1", "match:m1", payouts))

	// When: the same reference is submitted again
	err := ledger.TransferBatch(ctx, "m1/1", "match:m1", payouts)

	// Then: nothing moves a second time
	require.NoError(t, err)
	assertBalance(ctx, t, ledger, "alice", 100)
	assertBalance(ctx, t, ledger, "match:m1", 200)

	applied, err := ledger.Applied(ctx, "m1/1")
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = ledger.Applied(ctx, "m1/2")
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestRedis_AmountLimits(t *testing.T) {
	t.Run("Amounts above the signed range are rejected", func(t *testing.T) {
		ctx, st := suite.New(t)

		ledger := NewRedis(st.Storage, "PSP22")

		// When: an amount whose signed form would be negative is minted
		err := ledger.Mint(ctx, "alice", math.MaxInt64+1)

		// Then: it is refused and the balance is untouched
		require.ErrorIs(t, err, ErrAmountTooLarge)
		assertBalance(ctx, t, ledger, "alice", 0)

		require.ErrorIs(t, ledger.Approve(ctx, "alice", "match:m1", math.MaxUint64), ErrAmountTooLarge)
		require.ErrorIs(t, ledger.TransferFrom(ctx, "match:m1", "alice", "match:m1", math.MaxInt64+1), ErrAmountTooLarge)
	})

	t.Run("Batch total above the signed range is rejected", func(t *testing.T) {
		ctx, st := suite.New(t)

		ledger := NewRedis(st.Storage, "PSP22")
		require.NoError(t, ledger.Mint(ctx, "match:m1", math.MaxInt64))

		err := ledger.TransferBatch(ctx, "", "match:m1", []entity.Payout{
			{Account: "alice", Amount: math.MaxInt64},
			{Account: "bob", Amount: 1},
		})

		require.ErrorIs(t, err, ErrAmountTooLarge)
		assertBalance(ctx, t, ledger, "match:m1", math.MaxInt64)
	})

	t.Run("Credit that would overflow a balance moves nothing", func(t *testing.T) {
		ctx, st := suite.New(t)

		ledger := NewRedis(st.Storage, "PSP22")
		require.NoError(t, ledger.Mint(ctx, "match:m1", 200))
		require.NoError(t, ledger.Mint(ctx, "bob", math.MaxInt64))

		err := ledger.TransferBatch(ctx, "", "match:m1", []entity.Payout{
			{Account: "alice", Amount: 100},
			{Account: "bob", Amount: 100},
		})

		require.ErrorIs(t, err, ErrBalanceOverflow)
		assertBalance(ctx, t, ledger, "alice", 0)
		assertBalance(ctx, t, ledger, "match:m1", 200)
	})
}

func TestRedis_TokensAreIsolated(t *testing.T) {
	ctx, st := suite.New(t)

	psp := NewRedis(st.Storage, "PSP22")
	other := NewRedis(st.Storage, "OTHER")

	require.NoError(t, psp.Mint(ctx, "alice", 100))

	assertBalance(ctx, t, psp, "alice", 100)
	assertBalance(ctx, t, other, "alice", 0)
}
