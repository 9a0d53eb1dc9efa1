package domain

import (
	"bytes"
	"encoding/json"
)

// TapValue unmarshals a lifetime tap counter that is either a plain number
// (the current shape) or a legacy {key, value} object. It always marshals
// back to a plain number.
type TapValue struct {
	N      int64
	legacy bool
}

// NewTapValue wraps a plain numeric counter.
func NewTapValue(n int64) *TapValue {
	return &TapValue{N: n}
}

// Legacy reports whether the value was stored in the legacy object shape.
func (v *TapValue) Legacy() bool {
	return v.legacy
}

func (v *TapValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] != '{' {
		v.legacy = false
		return json.Unmarshal(data, &v.N)
	}

	// Legacy shape: {"key": "...", "value": 42}. A missing or broken value
	// coerces to zero.
	var obj struct {
		Value json.Number `json:"value"`
	}
	v.legacy = true
	v.N = 0
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil
	}
	if n, err := obj.Value.Int64(); err == nil {
		v.N = n
	}
	return nil
}

func (v TapValue) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.N)
}

// TapCounters is the taps document on a player record. Only All is
// maintained by the server; the per-period fields existed before the
// leaderboard entries took over and survive only on records that have not
// been normalized yet.
type TapCounters struct {
	All     *TapValue       `json:"all,omitempty"`
	Daily   json.RawMessage `json:"daily,omitempty"`
	Weekly  json.RawMessage `json:"weekly,omitempty"`
	Monthly json.RawMessage `json:"monthly,omitempty"`
}

// AllCount returns the lifetime tap count, treating an absent counter as
// zero.
func (t *TapCounters) AllCount() int64 {
	if t == nil || t.All == nil {
		return 0
	}
	return t.All.N
}

// NeedsNormalization reports whether the document still carries legacy
// per-period fields or a non-numeric all counter.
func (t *TapCounters) NeedsNormalization() bool {
	if t == nil {
		return false
	}
	if t.Daily != nil || t.Weekly != nil || t.Monthly != nil {
		return true
	}
	return t.All != nil && t.All.Legacy()
}

// Normalized returns the clean shape: per-period fields dropped and the all
// counter coerced to a number. An absent all counter stays absent so
// normalization never seeds one.
func (t *TapCounters) Normalized() TapCounters {
	clean := TapCounters{}
	if t != nil && t.All != nil {
		clean.All = NewTapValue(t.All.N)
	}
	return clean
}
