// Package risk implements deterministic transaction risk scoring.
//
// Every transaction is evaluated against 5 additive factors: amount-to-baseline
// ratio, self-transfer, transaction-type risk, activity frequency, and
// historical deviation. Scores range from 0 (safe) to 100 (high risk) and map
// to four severity levels. The current sensitivity state can escalate a result
// by one level when the system is on high alert.
package risk

import (
	"time"
)

// Level is the severity band of an assessment.
type Level string

const (
	LevelLow      Level = "LOW"
	LevelMedium   Level = "MEDIUM"
	LevelHigh     Level = "HIGH"
	LevelCritical Level = "CRITICAL"
)

// Level band boundaries.
const (
	CriticalThreshold = 90.0
	HighThreshold     = 70.0
	MediumThreshold   = 40.0
)

// LevelFromScore maps a score in [0, 100] to its severity level.
func LevelFromScore(score float64) Level {
	switch {
	case score >= CriticalThreshold:
		return LevelCritical
	case score >= HighThreshold:
		return LevelHigh
	case score >= MediumThreshold:
		return LevelMedium
	default:
		return LevelLow
	}
}

// IsHighSeverity reports whether a level feeds the sensitivity controller
// and the signal emitter.
func (l Level) IsHighSeverity() bool {
	return l == LevelHigh || l == LevelCritical
}

// escalate bumps a level one step. CRITICAL stays CRITICAL.
func escalate(l Level) Level {
	switch l {
	case LevelLow:
		return LevelMedium
	case LevelMedium:
		return LevelHigh
	default:
		return LevelCritical
	}
}

// Origin tells which path produced an assessment.
type Origin string

const (
	OriginRuleBased Origin = "rule_based"
	OriginProvider  Origin = "provider"
)

// Threat categories, derived from the dominant factor.
const (
	CategoryWashTrading   = "WASH_TRADING"
	CategoryWhaleDump     = "WHALE_DUMP"
	CategoryHighFrequency = "HIGH_FREQUENCY"
	CategoryFlashLoan     = "FLASH_LOAN"
	CategoryDustNoise     = "DUST_NOISE"
	CategoryMixer         = "MIXER_ACTIVITY"
	CategoryAnomaly       = "ANOMALY"
	CategoryNone          = "NONE"
)

// Recommended actions, derived from the final level.
const (
	ActionMonitor     = "MONITOR"
	ActionInvestigate = "INVESTIGATE"
	ActionAlert       = "ALERT"
	ActionBlock       = "BLOCK"
)

// Factor is a single contribution to a score.
type Factor struct {
	Name   string  `json:"name"`
	Impact float64 `json:"impact"`
	Detail string  `json:"detail"`
}

// Assessment is the result of evaluating a single transaction.
type Assessment struct {
	ID               string    `json:"id"`
	WalletID         string    `json:"walletId"`
	TokenSymbol      string    `json:"tokenSymbol,omitempty"`
	Score            float64   `json:"score"`
	RawScore         float64   `json:"rawScore"`
	Level            Level     `json:"level"`
	Factors          []Factor  `json:"factors"`
	Category         string    `json:"category"`
	Recommendation   string    `json:"recommendation"`
	Origin           Origin    `json:"origin"`
	SensitivityLevel int       `json:"sensitivityLevel"`
	Escalated        bool      `json:"escalated,omitempty"`
	EvaluatedAt      time.Time `json:"evaluatedAt"`
}

// SensitivityState is the controller snapshot the scorer evaluates against.
type SensitivityState struct {
	Level     int
	Threshold float64
}

// escalationBump is the fixed score increase applied on escalation.
const escalationBump = 8.0

// ApplySensitivity escalates the assessment one level and bumps its score
// when the controller is in its two most alert states and the raw score
// exceeds the effective threshold. Applies to both rule-based and
// provider-sourced assessments.
func (a *Assessment) ApplySensitivity(s SensitivityState) {
	a.SensitivityLevel = s.Level
	if s.Level > 0 && s.Level <= 2 && a.RawScore > s.Threshold {
		a.Level = escalate(LevelFromScore(a.RawScore))
		a.Score = clampScore(a.RawScore + escalationBump)
		a.Escalated = true
		a.Recommendation = recommendationForLevel(a.Level)
	}
}

// recommendationForLevel maps a final level to an action.
func recommendationForLevel(l Level) string {
	switch l {
	case LevelCritical:
		return ActionBlock
	case LevelHigh:
		return ActionAlert
	case LevelMedium:
		return ActionInvestigate
	default:
		return ActionMonitor
	}
}
