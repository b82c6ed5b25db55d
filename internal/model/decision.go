package model

import "time"

// DecisionType is the kind of tier decision
type DecisionType string

const (
	DecisionPreload  DecisionType = "PRELOAD"
	DecisionPromote  DecisionType = "PROMOTE"
	DecisionDemote   DecisionType = "DEMOTE"
	DecisionOptimize DecisionType = "OPTIMIZE"
)

// Valid reports whether d is a known decision type
func (d DecisionType) Valid() bool {
	switch d {
	case DecisionPreload, DecisionPromote, DecisionDemote, DecisionOptimize:
		return true
	default:
		return false
	}
}

// DefaultDecisionConfidence is used when a decision carries no confidence
const DefaultDecisionConfidence = 50

// TierDecision is a recorded placement decision and its validated outcome
type TierDecision struct {
	ID           string       `json:"id"`
	CallerID     string       `json:"orgId,omitempty"`
	Component    string       `json:"moduleName"`
	FromTier     string       `json:"fromTier,omitempty"`
	ToTier       string       `json:"toTier"`
	DecisionType DecisionType `json:"type"`
	AgentID      string       `json:"agentId,omitempty"`
	Reason       string       `json:"reason,omitempty"`
	Confidence   int          `json:"confidence"`
	WasEffective *bool        `json:"wasEffective"`
	TimeToUseMs  *int64       `json:"timeToUseMs,omitempty"`
	DecidedAt    time.Time    `json:"decidedAt"`
	ValidatedAt  *time.Time   `json:"validatedAt,omitempty"`
}

// Validated reports whether the decision outcome has been recorded
func (d *TierDecision) Validated() bool {
	return d.WasEffective != nil
}

// DecisionEffectiveness summarizes validated decisions
type DecisionEffectiveness struct {
	Total             int   `json:"total"`
	Validated         int   `json:"validated"`
	Effective         int   `json:"effective"`
	EffectivenessRate int   `json:"effectivenessRate"`
	AvgTimeToUseMs    int64 `json:"avgTimeToUseMs"`
}
