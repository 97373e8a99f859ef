package events

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeterministicEventIDStableForSameInputs(t *testing.T) {
	id1 := DeterministicEventID("L1", "active", 2)
	id2 := DeterministicEventID("L1", "active", 2)
	assert.Equal(t, id1, id2)
}

func TestDeterministicEventIDDiffersOnAnyInputChange(t *testing.T) {
	base := DeterministicEventID("L1", "active", 2)

	assert.NotEqual(t, base, DeterministicEventID("L2", "active", 2), "loanId must affect the id")
	assert.NotEqual(t, base, DeterministicEventID("L1", "liquidating", 2), "status must affect the id")
	assert.NotEqual(t, base, DeterministicEventID("L1", "active", 3), "logical version must affect the id")
}

func TestLoanEventMarshalOmitsUnsetAmountFields(t *testing.T) {
	e := LoanEvent{
		EventID:   "abc",
		EventType: EventApplication,
		LoanID:    "L1",
		Status:    "new",
	}
	raw, err := e.Marshal()
	require.NoError(t, err)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &out))

	_, present := out["amount"]
	assert.False(t, present, "omitempty fields left unset must not serialize")
	assert.Equal(t, "L1", out["loanId"])
}
