// Package ingest defines the transaction model and the feature extraction
// step that turns a raw transaction into the normalized record the risk
// engine consumes.
//
// Validation happens here, at the boundary: a transaction that fails
// Validate never reaches the graph, the forecaster, or the scorer, so a
// rejected input mutates no state.
package ingest

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrInvalidTransaction is returned when a transaction is missing required
// fields or carries a negative amount.
var ErrInvalidTransaction = errors.New("ingest: invalid transaction")

// Transaction is a single observed transfer. Immutable once created.
type Transaction struct {
	SourceID    string    `json:"sourceId" binding:"required"`
	DestID      string    `json:"destId" binding:"required"`
	Amount      float64   `json:"amount"`
	Tick        uint64    `json:"tick"`
	Type        string    `json:"type"`
	TokenSymbol string    `json:"tokenSymbol,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// FeatureRecord is the normalized, derived view of a transaction.
// Owned solely by the call that produced it.
type FeatureRecord struct {
	Amount         float64   `json:"amount"`
	AmountLog      float64   `json:"amountLog"`
	IsSelfTransfer bool      `json:"isSelfTransfer"`
	Type           string    `json:"type"`
	Timestamp      time.Time `json:"timestamp"`
}

// Validate rejects malformed transactions. Nil error means the transaction
// is safe to process.
func Validate(tx *Transaction) error {
	if tx == nil {
		return fmt.Errorf("%w: nil transaction", ErrInvalidTransaction)
	}
	if tx.SourceID == "" {
		return fmt.Errorf("%w: missing source id", ErrInvalidTransaction)
	}
	if tx.DestID == "" {
		return fmt.Errorf("%w: missing destination id", ErrInvalidTransaction)
	}
	if tx.Amount < 0 {
		return fmt.Errorf("%w: negative amount %f", ErrInvalidTransaction, tx.Amount)
	}
	return nil
}

// Extract computes the feature record for a validated transaction.
// Pure function: no state, no I/O, never fails on a valid input.
func Extract(tx *Transaction) FeatureRecord {
	fr := FeatureRecord{
		Amount:         tx.Amount,
		IsSelfTransfer: tx.SourceID == tx.DestID,
		Type:           tx.Type,
		Timestamp:      tx.Timestamp,
	}
	if fr.Type == "" {
		fr.Type = "transfer"
	}
	if fr.Timestamp.IsZero() {
		fr.Timestamp = time.Now()
	}
	// Safe log: zero and sub-unit amounts map to 0 instead of a domain error.
	if tx.Amount > 0 {
		fr.AmountLog = math.Log1p(tx.Amount)
	}
	return fr
}
