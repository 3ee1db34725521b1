package signals

import (
	"fmt"
	"testing"
	"time"

	"github.com/qubicsec/aegis/internal/pagination"
	"github.com/qubicsec/aegis/internal/risk"
)

func assessment(wallet string, score float64) *risk.Assessment {
	return &risk.Assessment{
		ID:             "risk_test",
		WalletID:       wallet,
		Score:          score,
		Level:          risk.LevelFromScore(score),
		Category:       risk.CategoryWashTrading,
		Recommendation: risk.ActionAlert,
	}
}

func TestMaybeEmitBelowHighSeverity(t *testing.T) {
	e := NewEmitter(10)

	if sig := e.MaybeEmit(assessment("W1", 10)); sig != nil {
		t.Errorf("LOW assessment emitted signal %v", sig)
	}
	if sig := e.MaybeEmit(assessment("W1", 55)); sig != nil {
		t.Errorf("MEDIUM assessment emitted signal %v", sig)
	}
	if e.Count() != 0 {
		t.Errorf("count = %d, want 0", e.Count())
	}
}

func TestMaybeEmitHighAndCritical(t *testing.T) {
	e := NewEmitter(10)

	high := e.MaybeEmit(assessment("W1", 75))
	if high == nil {
		t.Fatal("HIGH assessment did not emit")
	}
	if high.Level != risk.LevelHigh {
		t.Errorf("level = %s, want HIGH", high.Level)
	}
	if high.ID == "" {
		t.Error("signal missing ID")
	}
	if high.Message == "" {
		t.Error("signal missing message")
	}

	crit := e.MaybeEmit(assessment("W2", 95))
	if crit == nil {
		t.Fatal("CRITICAL assessment did not emit")
	}
	if e.Count() != 2 {
		t.Errorf("count = %d, want 2", e.Count())
	}
}

func TestRecentMostRecentFirst(t *testing.T) {
	e := NewEmitter(10)
	for i := 0; i < 3; i++ {
		e.MaybeEmit(assessment(fmt.Sprintf("W%d", i), 80))
	}

	got := e.Recent(0)
	if len(got) != 3 {
		t.Fatalf("recent = %d signals, want 3", len(got))
	}
	if got[0].WalletID != "W2" || got[2].WalletID != "W0" {
		t.Errorf("order = [%s %s %s], want most recent first",
			got[0].WalletID, got[1].WalletID, got[2].WalletID)
	}

	limited := e.Recent(2)
	if len(limited) != 2 || limited[0].WalletID != "W2" {
		t.Errorf("limited query returned wrong window")
	}
}

func TestRecentBeforeCursor(t *testing.T) {
	e := NewEmitter(10)
	for i := 0; i < 5; i++ {
		e.MaybeEmit(assessment(fmt.Sprintf("W%d", i), 80))
	}

	// Nil cursor behaves like Recent.
	first := e.RecentBefore(nil, 2)
	if len(first) != 2 || first[0].WalletID != "W4" || first[1].WalletID != "W3" {
		t.Fatalf("first page = %v, want [W4 W3]", walletIDs(first))
	}

	cur := &pagination.Cursor{CreatedAt: first[1].CreatedAt, ID: first[1].ID}
	second := e.RecentBefore(cur, 2)
	if len(second) != 2 || second[0].WalletID != "W2" || second[1].WalletID != "W1" {
		t.Fatalf("second page = %v, want [W2 W1]", walletIDs(second))
	}

	cur = &pagination.Cursor{CreatedAt: second[1].CreatedAt, ID: second[1].ID}
	last := e.RecentBefore(cur, 2)
	if len(last) != 1 || last[0].WalletID != "W0" {
		t.Fatalf("last page = %v, want [W0]", walletIDs(last))
	}
}

func TestRecentBeforeEvictedCursor(t *testing.T) {
	e := NewEmitter(10)
	e.MaybeEmit(assessment("W0", 80))
	page := e.RecentBefore(nil, 1)

	// Cursor points at a signal that no longer exists; resume by timestamp.
	cur := &pagination.Cursor{CreatedAt: page[0].CreatedAt.Add(time.Millisecond), ID: "sig_gone"}
	got := e.RecentBefore(cur, 5)
	if len(got) != 1 || got[0].WalletID != "W0" {
		t.Errorf("resume by timestamp = %v, want [W0]", walletIDs(got))
	}
}

func walletIDs(sigs []*Signal) []string {
	out := make([]string, len(sigs))
	for i, s := range sigs {
		out[i] = s.WalletID
	}
	return out
}

func TestCapacityEviction(t *testing.T) {
	e := NewEmitter(5)
	for i := 0; i < 8; i++ {
		e.MaybeEmit(assessment(fmt.Sprintf("W%d", i), 90))
	}

	if e.Count() != 5 {
		t.Fatalf("count = %d, want 5", e.Count())
	}
	got := e.Recent(0)
	if got[0].WalletID != "W7" {
		t.Errorf("newest = %s, want W7", got[0].WalletID)
	}
	if got[len(got)-1].WalletID != "W3" {
		t.Errorf("oldest retained = %s, want W3", got[len(got)-1].WalletID)
	}
}
