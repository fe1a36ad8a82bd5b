package scanning

// Severity classifies a finding by decreasing urgency.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

func (s Severity) String() string { return string(s) }

// Severities lists all severities in decreasing urgency order.
func Severities() []Severity {
	return []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo}
}

// ParseSeverity converts a string to a Severity, returning "" for unknown
// values.
func ParseSeverity(s string) Severity {
	switch s {
	case "critical":
		return SeverityCritical
	case "high":
		return SeverityHigh
	case "medium":
		return SeverityMedium
	case "low":
		return SeverityLow
	case "info":
		return SeverityInfo
	default:
		return ""
	}
}

// SeverityFromRisk maps an engine risk code (0-4) to a Severity. Unknown
// codes degrade to info rather than dropping the finding.
func SeverityFromRisk(risk int) Severity {
	switch risk {
	case 4:
		return SeverityCritical
	case 3:
		return SeverityHigh
	case 2:
		return SeverityMedium
	case 1:
		return SeverityLow
	default:
		return SeverityInfo
	}
}

// Statistics aggregates finding counts per severity for a completed scan.
type Statistics struct {
	Critical int `json:"critical"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`
	Info     int `json:"info"`
	Total    int `json:"total"`
}

// Add increments the count for the given severity and the running total.
func (s *Statistics) Add(sev Severity) {
	switch sev {
	case SeverityCritical:
		s.Critical++
	case SeverityHigh:
		s.High++
	case SeverityMedium:
		s.Medium++
	case SeverityLow:
		s.Low++
	default:
		s.Info++
	}
	s.Total++
}

// Count returns the count for the given severity.
func (s Statistics) Count(sev Severity) int {
	switch sev {
	case SeverityCritical:
		return s.Critical
	case SeverityHigh:
		return s.High
	case SeverityMedium:
		return s.Medium
	case SeverityLow:
		return s.Low
	case SeverityInfo:
		return s.Info
	default:
		return 0
	}
}

// IsZero reports whether no findings have been recorded.
func (s Statistics) IsZero() bool { return s == Statistics{} }

// StatisticsFromFindings tallies findings into per-severity counts.
func StatisticsFromFindings(findings []Finding) Statistics {
	var stats Statistics
	for _, f := range findings {
		stats.Add(f.Severity)
	}
	return stats
}
