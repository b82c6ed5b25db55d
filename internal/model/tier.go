package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Tier is the loading priority class of a component. Lower values load first.
type Tier int

const (
	TierInstant Tier = iota
	TierEssential
	TierBackground
	TierLazy
	TierDormant
)

// MinTier and MaxTier bound the tier range
const (
	MinTier = TierInstant
	MaxTier = TierDormant
)

var tierNames = [...]string{"INSTANT", "ESSENTIAL", "BACKGROUND", "LAZY", "DORMANT"}

// AllTiers returns every tier in priority order
func AllTiers() []Tier {
	return []Tier{TierInstant, TierEssential, TierBackground, TierLazy, TierDormant}
}

func (t Tier) String() string {
	if !t.Valid() {
		return fmt.Sprintf("TIER(%d)", int(t))
	}
	return tierNames[t]
}

// Valid reports whether t is inside the tier range
func (t Tier) Valid() bool {
	return t >= MinTier && t <= MaxTier
}

// ParseTier parses a tier name case-insensitively
func ParseTier(s string) (Tier, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	for i, n := range tierNames {
		if n == name {
			return Tier(i), nil
		}
	}
	return 0, fmt.Errorf("unknown tier %q", s)
}

// MarshalText lets tiers act as readable map keys
func (t Tier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText parses a tier name
func (t *Tier) UnmarshalText(text []byte) error {
	parsed, err := ParseTier(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// MarshalJSON encodes the tier by name
func (t Tier) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON accepts either the tier name or its numeric value
func (t *Tier) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		parsed, err := ParseTier(name)
		if err != nil {
			return err
		}
		*t = parsed
		return nil
	}

	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid tier: %s", string(data))
	}
	if !Tier(n).Valid() {
		return fmt.Errorf("tier out of range: %d", n)
	}
	*t = Tier(n)
	return nil
}
