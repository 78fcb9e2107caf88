package models

import (
	"fmt"
	"strings"
)

// SignalKind names one risk check
type SignalKind string

const (
	SignalKnownRisk   SignalKind = "known_risk"
	SignalFanAnomaly  SignalKind = "fan_anomaly"
	SignalPassthrough SignalKind = "passthrough"
	SignalPathCycle   SignalKind = "path_cycle"
)

// SignalKinds lists every kind in aggregation order
var SignalKinds = []SignalKind{SignalKnownRisk, SignalFanAnomaly, SignalPassthrough, SignalPathCycle}

// EdgeRef identifies a flow edge by its endpoints and transaction
type EdgeRef struct {
	From   Address `json:"from"`
	To     Address `json:"to"`
	TxHash string  `json:"txHash"`
}

func (e EdgeRef) String() string {
	return fmt.Sprintf("%s->%s@%s", e.From.Value, e.To.Value, e.TxHash)
}

// RiskSignal is one finding about a node or an edge.
// Exactly one of Address and Edge is set.
type RiskSignal struct {
	Kind     SignalKind `json:"kind"`
	Address  *Address   `json:"address,omitempty"`
	Edge     *EdgeRef   `json:"edge,omitempty"`
	Severity float64    `json:"severity"` // 0.0-1.0
	Evidence string     `json:"evidence"`
}

// Subject renders the signal target for display and ordering
func (s RiskSignal) Subject() string {
	if s.Edge != nil {
		return "edge:" + s.Edge.String()
	}
	if s.Address != nil {
		return "node:" + s.Address.String()
	}
	return ""
}

// CompareSignals orders by severity desc, then kind, subject and evidence
func CompareSignals(a, b RiskSignal) int {
	switch {
	case a.Severity > b.Severity:
		return -1
	case a.Severity < b.Severity:
		return 1
	}
	if c := strings.Compare(string(a.Kind), string(b.Kind)); c != 0 {
		return c
	}
	if c := strings.Compare(a.Subject(), b.Subject()); c != 0 {
		return c
	}
	return strings.Compare(a.Evidence, b.Evidence)
}

// RiskLevel is the coarse bucket of an aggregate score
type RiskLevel string

const (
	RiskClean    RiskLevel = "clean"
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// RationaleEntry is one line of the opinion's explanation
type RationaleEntry struct {
	Kind        SignalKind `json:"kind"`
	Subject     string     `json:"subject"`
	Severity    float64    `json:"severity"`
	Description string     `json:"description"`
}

// ScoreComponent shows how one term contributed to the aggregate score
type ScoreComponent struct {
	Name         string  `json:"name"`
	Weight       float64 `json:"weight"`
	Value        float64 `json:"value"`
	Contribution float64 `json:"contribution"`
}

// RiskOpinion is the terminal artifact of one investigation.
// It carries no timestamps so identical inputs produce identical opinions.
type RiskOpinion struct {
	Seed            Address          `json:"seed"`
	Score           float64          `json:"score"` // 0.0-1.0
	Level           RiskLevel        `json:"level"`
	Signals         []RiskSignal     `json:"signals"` // severity descending
	Rationale       []RationaleEntry `json:"rationale"`
	Summary         string           `json:"summary"`
	Breakdown       []ScoreComponent `json:"breakdown"`
	PathCount       int              `json:"pathCount"`
	Complete        bool             `json:"complete"`
	FailedBranches  int              `json:"failedBranches"`
	FailedAddresses []Address        `json:"failedAddresses,omitempty"`
	CoverageNotes   []string         `json:"coverageNotes,omitempty"`
}
