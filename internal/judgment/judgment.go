// Package judgment integrates an optional external judgment provider into
// the scoring pipeline.
//
// A provider receives the transaction and its context and returns a complete
// assessment. Responses are validated against a strict schema at the
// boundary; anything malformed, out of range, or late counts as provider
// failure and the caller falls back to deterministic scoring. A circuit
// breaker stops hammering a provider that keeps failing.
package judgment

import (
	"context"
	"errors"

	"github.com/qubicsec/aegis/internal/graph"
	"github.com/qubicsec/aegis/internal/ingest"
	"github.com/qubicsec/aegis/internal/risk"
)

// ErrUnavailable is returned when the provider cannot produce a usable
// verdict. Callers fall back to rule-based scoring.
var ErrUnavailable = errors.New("judgment: provider unavailable")

// Provider produces a risk assessment for a transaction.
type Provider interface {
	Assess(ctx context.Context, tx *ingest.Transaction, features ingest.FeatureRecord, insights graph.Insights) (*risk.Assessment, error)
}
