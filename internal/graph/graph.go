// Package graph maintains the in-memory wallet interaction graph: per-wallet
// aggregates plus an undirected adjacency relation between counterparties.
// All access is serialized by a sync.RWMutex; reads return copies.
package graph

import (
	"sort"
	"sync"

	"github.com/qubicsec/aegis/internal/ingest"
	"github.com/qubicsec/aegis/internal/metrics"
)

// WalletNode tracks aggregate state for a single wallet. Nodes are created
// on first reference and never deleted.
type WalletNode struct {
	ID           string
	TotalVolume  float64        // cumulative outgoing volume
	OutCount     int            // outgoing transaction count
	TxCount      int            // transactions the wallet participated in
	Counterparts map[string]int // counterpart id → interaction count
	RiskPeak     float64        // high-water-mark of assessed risk
	LastSeenTick uint64

	seq int // insertion order, for stable tie-breaks
}

// Insights is a read-only summary of a wallet's history.
type Insights struct {
	Exists             bool               `json:"exists"`
	WalletID           string             `json:"walletId"`
	TxCount            int                `json:"txCount"`
	TotalVolume        float64            `json:"totalVolume"`
	AvgOutAmount       float64            `json:"avgOutAmount"`
	UniqueCounterparts int                `json:"uniqueCounterparts"`
	RiskPeak           float64            `json:"riskPeak"`
	LastSeenTick       uint64             `json:"lastSeenTick"`
	TopCounterparts    []CounterpartCount `json:"topCounterparts,omitempty"`
}

// CounterpartCount pairs a counterpart wallet with its interaction count.
type CounterpartCount struct {
	WalletID string `json:"walletId"`
	Count    int    `json:"count"`
}

// Role classifies a wallet for the graph query surface.
type Role string

const (
	RoleWhale    Role = "whale"
	RoleHub      Role = "hub"
	RoleHighRisk Role = "high_risk"
	RoleNormal   Role = "normal"
)

// RoleThresholds configures wallet role classification.
type RoleThresholds struct {
	WhaleVolume float64 // volume above which a wallet is a whale
	HubDegree   int     // counterpart count above which a wallet is a hub
}

// NodeView is a point-in-time copy of a node for graph queries.
type NodeView struct {
	ID          string  `json:"id"`
	TotalVolume float64 `json:"totalVolume"`
	TxCount     int     `json:"txCount"`
	Degree      int     `json:"degree"`
	RiskPeak    float64 `json:"riskPeak"`
	Role        Role    `json:"role"`
}

// Edge is an undirected link between two wallets. Weight is the number of
// transactions observed between the pair, in either direction.
type Edge struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Weight int    `json:"weight"`
}

// Snapshot is the result of a top-N graph query.
type Snapshot struct {
	Nodes []NodeView `json:"nodes"`
	Edges []Edge     `json:"edges"`
}

// Ledger is the wallet graph store.
type Ledger struct {
	mu    sync.RWMutex
	nodes map[string]*WalletNode
	roles RoleThresholds
	next  int
}

// NewLedger creates an empty wallet ledger.
func NewLedger(roles RoleThresholds) *Ledger {
	return &Ledger{
		nodes: make(map[string]*WalletNode),
		roles: roles,
	}
}

// RecordTransaction updates both endpoint nodes and the adjacency relation.
// The edge count is kept symmetric: each side's counterpart map holds the
// total number of transactions between the pair regardless of direction.
func (l *Ledger) RecordTransaction(tx *ingest.Transaction) {
	l.mu.Lock()
	defer l.mu.Unlock()

	src := l.getOrCreate(tx.SourceID)
	src.TotalVolume += tx.Amount
	src.OutCount++
	src.TxCount++
	src.LastSeenTick = tx.Tick
	src.Counterparts[tx.DestID]++

	if tx.DestID == tx.SourceID {
		// Self-transfer: one node, one interaction.
		metrics.TrackedWallets.Set(float64(len(l.nodes)))
		return
	}

	dst := l.getOrCreate(tx.DestID)
	dst.TxCount++
	dst.LastSeenTick = tx.Tick
	dst.Counterparts[tx.SourceID]++

	metrics.TrackedWallets.Set(float64(len(l.nodes)))
}

// RiskTouch raises the wallet's risk high-water-mark if score is greater.
func (l *Ledger) RiskTouch(walletID string, score float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	node := l.getOrCreate(walletID)
	if score > node.RiskPeak {
		node.RiskPeak = score
	}
}

// WalletInsights returns a summary for a wallet. Exists is false for wallets
// never observed; the rest of the struct is zero in that case.
func (l *Ledger) WalletInsights(walletID string, topN int) Insights {
	l.mu.RLock()
	defer l.mu.RUnlock()

	node, ok := l.nodes[walletID]
	if !ok {
		return Insights{WalletID: walletID}
	}

	ins := Insights{
		Exists:             true,
		WalletID:           walletID,
		TxCount:            node.TxCount,
		TotalVolume:        node.TotalVolume,
		UniqueCounterparts: len(node.Counterparts),
		RiskPeak:           node.RiskPeak,
		LastSeenTick:       node.LastSeenTick,
	}
	if node.OutCount > 0 {
		ins.AvgOutAmount = node.TotalVolume / float64(node.OutCount)
	}
	if topN > 0 {
		ins.TopCounterparts = topCounterparts(node, topN)
	}
	return ins
}

// TopByVolume returns up to n node views ordered by outgoing volume,
// ties broken by insertion order.
func (l *Ledger) TopByVolume(n int) []NodeView {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.topLocked(n)
}

// GraphSnapshot returns the top-n nodes by volume plus every edge between
// them. Each pair appears exactly once regardless of direction.
func (l *Ledger) GraphSnapshot(n int) Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()

	nodes := l.topLocked(n)
	included := make(map[string]bool, len(nodes))
	for _, nv := range nodes {
		included[nv.ID] = true
	}

	var edges []Edge
	seen := make(map[[2]string]bool)
	for _, nv := range nodes {
		node := l.nodes[nv.ID]
		for counterpart, count := range node.Counterparts {
			if !included[counterpart] || counterpart == nv.ID {
				continue
			}
			key := pairKey(nv.ID, counterpart)
			if seen[key] {
				continue
			}
			seen[key] = true
			edges = append(edges, Edge{Source: key[0], Target: key[1], Weight: count})
		}
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].Source != edges[j].Source {
			return edges[i].Source < edges[j].Source
		}
		return edges[i].Target < edges[j].Target
	})

	return Snapshot{Nodes: nodes, Edges: edges}
}

// Size returns the number of tracked wallets.
func (l *Ledger) Size() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.nodes)
}

// topLocked computes the top-n node views. Caller holds at least a read lock.
func (l *Ledger) topLocked(n int) []NodeView {
	all := make([]*WalletNode, 0, len(l.nodes))
	for _, node := range l.nodes {
		all = append(all, node)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].TotalVolume != all[j].TotalVolume {
			return all[i].TotalVolume > all[j].TotalVolume
		}
		return all[i].seq < all[j].seq
	})

	if n > 0 && len(all) > n {
		all = all[:n]
	}

	views := make([]NodeView, len(all))
	for i, node := range all {
		views[i] = NodeView{
			ID:          node.ID,
			TotalVolume: node.TotalVolume,
			TxCount:     node.TxCount,
			Degree:      len(node.Counterparts),
			RiskPeak:    node.RiskPeak,
			Role:        l.classify(node),
		}
	}
	return views
}

// classify maps a node to its role. High-risk wins over whale/hub so that
// flagged wallets stay visible even when they are also large.
func (l *Ledger) classify(node *WalletNode) Role {
	switch {
	case node.RiskPeak >= 70:
		return RoleHighRisk
	case l.roles.WhaleVolume > 0 && node.TotalVolume > l.roles.WhaleVolume:
		return RoleWhale
	case l.roles.HubDegree > 0 && len(node.Counterparts) > l.roles.HubDegree:
		return RoleHub
	default:
		return RoleNormal
	}
}

// getOrCreate returns the node for id, creating it if needed.
// Caller must hold the write lock.
func (l *Ledger) getOrCreate(id string) *WalletNode {
	node, ok := l.nodes[id]
	if !ok {
		node = &WalletNode{
			ID:           id,
			Counterparts: make(map[string]int),
			seq:          l.next,
		}
		l.next++
		l.nodes[id] = node
	}
	return node
}

func topCounterparts(node *WalletNode, n int) []CounterpartCount {
	list := make([]CounterpartCount, 0, len(node.Counterparts))
	for id, count := range node.Counterparts {
		list = append(list, CounterpartCount{WalletID: id, Count: count})
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].Count != list[j].Count {
			return list[i].Count > list[j].Count
		}
		return list[i].WalletID < list[j].WalletID
	})
	if len(list) > n {
		list = list[:n]
	}
	return list
}

func pairKey(a, b string) [2]string {
	if a < b {
		return [2]string{a, b}
	}
	return [2]string{b, a}
}
