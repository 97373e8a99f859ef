// Package events is the Event Publisher (C5): it emits application,
// activation and liquidation events to the bus with at-least-once
// delivery and a deterministic eventId so retried publishes of the same
// transition de-duplicate downstream.
package events

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// EventType names the lifecycle transition an event represents.
type EventType string

const (
	EventApplication EventType = "application"
	EventActivation  EventType = "activation"
	EventLiquidation EventType = "liquidation"
)

// LoanEvent is the outbound wire schema for topic coruscant-bank-loan-events.
// Not every field is populated for every EventType; see §6 for the
// required-field table per type.
type LoanEvent struct {
	EventID   string    `json:"eventId"`
	EventType EventType `json:"eventType"`
	LoanID    string    `json:"loanId"`
	Status    string    `json:"status"`

	Amount              string `json:"amount,omitempty"`
	OutstandingBalance  string `json:"outstandingBalance,omitempty"`
	CollateralSold      string `json:"collateralSold,omitempty"`
	CollateralValue     string `json:"collateralValue,omitempty"`
	RemainingCollateral string `json:"remainingCollateral,omitempty"`
}

// DeterministicEventID derives eventId = hash(loanId, status, logical-version)
// so every publish attempt for the same transition carries an identical
// eventId, giving consumers a de-duplication key even though the bus is
// only at-least-once.
func DeterministicEventID(loanID, status string, logicalVersion int) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%d", loanID, status, logicalVersion)
	return hex.EncodeToString(h.Sum(nil))
}

// Marshal serializes the event to its wire JSON form.
func (e LoanEvent) Marshal() ([]byte, error) {
	return json.Marshal(e)
}
