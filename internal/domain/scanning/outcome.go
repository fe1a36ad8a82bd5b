package scanning

// BuildOutcome is the ternary verdict derived from finding counts and
// configured thresholds, independent of the scan's own lifecycle status.
type BuildOutcome string

const (
	// OutcomeSuccess means every configured threshold held.
	OutcomeSuccess BuildOutcome = "success"

	// OutcomeUnstable means a non-critical threshold was exceeded.
	OutcomeUnstable BuildOutcome = "unstable"

	// OutcomeFailure means the critical threshold was exceeded.
	OutcomeFailure BuildOutcome = "failure"
)

func (o BuildOutcome) String() string { return string(o) }

// EvaluateThresholds maps finding counts and configured limits to a build
// outcome. It is pure and deterministic; severities are checked in
// decreasing urgency order and the first exceeded tier wins.
//
// An unset threshold means "no limit" for that tier, except critical: an
// unset critical threshold is treated as zero allowed findings. That default
// is deliberately fail-closed.
func EvaluateThresholds(stats Statistics, thresholds Thresholds) BuildOutcome {
	criticalLimit := 0
	if thresholds.Critical != nil {
		criticalLimit = *thresholds.Critical
	}
	if stats.Critical > criticalLimit {
		return OutcomeFailure
	}

	if thresholds.High != nil && stats.High > *thresholds.High {
		return OutcomeUnstable
	}

	if thresholds.Medium != nil && stats.Medium > *thresholds.Medium {
		return OutcomeUnstable
	}

	return OutcomeSuccess
}
