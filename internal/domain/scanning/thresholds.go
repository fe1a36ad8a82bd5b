package scanning

import "fmt"

// Thresholds caps the number of findings tolerated per severity. A nil entry
// means "no limit" for that severity, except critical which defaults to zero
// allowed findings when unset (fail-closed).
type Thresholds struct {
	Critical *int `json:"critical,omitempty" yaml:"critical,omitempty"`
	High     *int `json:"high,omitempty" yaml:"high,omitempty"`
	Medium   *int `json:"medium,omitempty" yaml:"medium,omitempty"`
	Low      *int `json:"low,omitempty" yaml:"low,omitempty"`
	Info     *int `json:"info,omitempty" yaml:"info,omitempty"`
}

// DefaultThresholds returns the limits applied when neither the trigger
// request nor the application configuration sets any: no critical findings,
// up to five high and twenty medium, low and info unlimited.
func DefaultThresholds() Thresholds {
	critical, high, medium := 0, 5, 20
	return Thresholds{Critical: &critical, High: &high, Medium: &medium}
}

// Validate returns an error if any configured threshold is negative.
func (t Thresholds) Validate() error {
	for _, sev := range Severities() {
		limit := t.Limit(sev)
		if limit != nil && *limit < 0 {
			return fmt.Errorf("%w: threshold for %q must be >= 0, got %d", ErrInvalidThresholds, sev, *limit)
		}
	}
	return nil
}

// Limit returns the configured cap for the given severity, or nil when unset.
func (t Thresholds) Limit(sev Severity) *int {
	switch sev {
	case SeverityCritical:
		return t.Critical
	case SeverityHigh:
		return t.High
	case SeverityMedium:
		return t.Medium
	case SeverityLow:
		return t.Low
	case SeverityInfo:
		return t.Info
	default:
		return nil
	}
}
