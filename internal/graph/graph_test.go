package graph

import (
	"fmt"
	"testing"
	"time"

	"github.com/qubicsec/aegis/internal/ingest"
)

func tx(src, dst string, amount float64) *ingest.Transaction {
	return &ingest.Transaction{
		SourceID:  src,
		DestID:    dst,
		Amount:    amount,
		Type:      "transfer",
		Timestamp: time.Now(),
	}
}

func TestRecordTransactionBothDirections(t *testing.T) {
	l := NewLedger(RoleThresholds{})

	l.RecordTransaction(tx("A", "B", 100))
	l.RecordTransaction(tx("B", "A", 50))

	a := l.WalletInsights("A", 5)
	b := l.WalletInsights("B", 5)

	if !a.Exists || !b.Exists {
		t.Fatal("both wallets should exist")
	}
	if a.UniqueCounterparts != 1 {
		t.Errorf("A.UniqueCounterparts = %d, want 1", a.UniqueCounterparts)
	}
	if b.UniqueCounterparts != 1 {
		t.Errorf("B.UniqueCounterparts = %d, want 1", b.UniqueCounterparts)
	}
	// Edge weight is symmetric: both sides count both transactions.
	if got := a.TopCounterparts[0].Count; got != 2 {
		t.Errorf("A→B counterpart count = %d, want 2", got)
	}
	if got := b.TopCounterparts[0].Count; got != 2 {
		t.Errorf("B→A counterpart count = %d, want 2", got)
	}
	if a.TotalVolume != 100 {
		t.Errorf("A.TotalVolume = %f, want 100 (outgoing only)", a.TotalVolume)
	}
	if b.TotalVolume != 50 {
		t.Errorf("B.TotalVolume = %f, want 50", b.TotalVolume)
	}
	if a.TxCount != 2 {
		t.Errorf("A.TxCount = %d, want 2", a.TxCount)
	}
}

func TestEdgeReportedOnce(t *testing.T) {
	l := NewLedger(RoleThresholds{})
	l.RecordTransaction(tx("A", "B", 100))
	l.RecordTransaction(tx("B", "A", 50))

	snap := l.GraphSnapshot(10)
	if len(snap.Edges) != 1 {
		t.Fatalf("edges = %d, want 1", len(snap.Edges))
	}
	if snap.Edges[0].Weight != 2 {
		t.Errorf("edge weight = %d, want 2", snap.Edges[0].Weight)
	}
}

func TestSelfTransferSingleNode(t *testing.T) {
	l := NewLedger(RoleThresholds{})
	l.RecordTransaction(tx("A", "A", 100))

	a := l.WalletInsights("A", 5)
	if a.TxCount != 1 {
		t.Errorf("TxCount = %d, want 1 (self-transfer counted once)", a.TxCount)
	}
	if a.UniqueCounterparts != 1 {
		t.Errorf("UniqueCounterparts = %d, want 1", a.UniqueCounterparts)
	}

	// No self-loop edge in the snapshot.
	snap := l.GraphSnapshot(10)
	if len(snap.Edges) != 0 {
		t.Errorf("edges = %d, want 0", len(snap.Edges))
	}
}

func TestRiskTouchHighWaterMark(t *testing.T) {
	l := NewLedger(RoleThresholds{})
	l.RecordTransaction(tx("A", "B", 100))

	l.RiskTouch("A", 60)
	l.RiskTouch("A", 40) // lower, must not regress

	if got := l.WalletInsights("A", 0).RiskPeak; got != 60 {
		t.Errorf("RiskPeak = %f, want 60", got)
	}

	l.RiskTouch("A", 85)
	if got := l.WalletInsights("A", 0).RiskPeak; got != 85 {
		t.Errorf("RiskPeak = %f, want 85", got)
	}
}

func TestTopByVolumeOrderingAndTies(t *testing.T) {
	l := NewLedger(RoleThresholds{})
	l.RecordTransaction(tx("first", "x", 500))
	l.RecordTransaction(tx("second", "x", 500)) // tie, inserted later
	l.RecordTransaction(tx("big", "x", 900))

	top := l.TopByVolume(3)
	if len(top) != 3 {
		t.Fatalf("len = %d, want 3", len(top))
	}
	if top[0].ID != "big" || top[1].ID != "first" || top[2].ID != "second" {
		t.Errorf("order = %s,%s,%s, want big,first,second", top[0].ID, top[1].ID, top[2].ID)
	}
}

func TestWalletInsightsUnknown(t *testing.T) {
	l := NewLedger(RoleThresholds{})
	ins := l.WalletInsights("ghost", 5)
	if ins.Exists {
		t.Error("Exists = true for unknown wallet")
	}
}

func TestAvgOutAmount(t *testing.T) {
	l := NewLedger(RoleThresholds{})
	l.RecordTransaction(tx("A", "B", 100))
	l.RecordTransaction(tx("A", "C", 300))

	if got := l.WalletInsights("A", 0).AvgOutAmount; got != 200 {
		t.Errorf("AvgOutAmount = %f, want 200", got)
	}
	// Receive-only wallet has no outgoing average.
	if got := l.WalletInsights("B", 0).AvgOutAmount; got != 0 {
		t.Errorf("B.AvgOutAmount = %f, want 0", got)
	}
}

func TestRoleClassification(t *testing.T) {
	l := NewLedger(RoleThresholds{WhaleVolume: 1000, HubDegree: 3})

	l.RecordTransaction(tx("whale", "x", 5000))
	for i := 0; i < 5; i++ {
		l.RecordTransaction(tx("hub", fmt.Sprintf("peer%d", i), 10))
	}
	l.RecordTransaction(tx("plain", "x", 10))
	l.RecordTransaction(tx("risky", "x", 10))
	l.RiskTouch("risky", 95)

	roles := make(map[string]Role)
	for _, nv := range l.TopByVolume(0) {
		roles[nv.ID] = nv.Role
	}

	if roles["whale"] != RoleWhale {
		t.Errorf("whale role = %s", roles["whale"])
	}
	if roles["hub"] != RoleHub {
		t.Errorf("hub role = %s", roles["hub"])
	}
	if roles["plain"] != RoleNormal {
		t.Errorf("plain role = %s", roles["plain"])
	}
	if roles["risky"] != RoleHighRisk {
		t.Errorf("risky role = %s", roles["risky"])
	}
}
