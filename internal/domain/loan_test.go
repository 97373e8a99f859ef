package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransitionTo(t *testing.T) {
	cases := []struct {
		from, to LoanStatus
		want     bool
	}{
		{StatusNew, StatusActive, true},
		{StatusActive, StatusLiquidating, true},
		{StatusLiquidating, StatusLiquidated, true},
		{StatusNew, StatusLiquidating, false},
		{StatusActive, StatusNew, false},
		{StatusLiquidated, StatusActive, false},
		{StatusLiquidating, StatusActive, false},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, CanTransitionTo(c.from, c.to), "%s -> %s", c.from, c.to)
	}
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, StatusLiquidated.IsTerminal())
	assert.False(t, StatusLiquidating.IsTerminal())
	assert.False(t, StatusActive.IsTerminal())
	assert.False(t, StatusNew.IsTerminal())
}

func TestOutstandingBalanceNeverNegative(t *testing.T) {
	loan := Loan{
		Principal:  decimal.NewFromInt(1000),
		ProceedsGC: decimal.NewFromInt(1500),
	}
	require.True(t, loan.OutstandingBalance().IsZero())
}

func TestRemainingCollateralNeverNegative(t *testing.T) {
	loan := Loan{
		Collateral:     decimal.NewFromInt(40),
		CollateralSold: decimal.NewFromInt(40),
	}
	require.True(t, loan.RemainingCollateral().IsZero())
}
