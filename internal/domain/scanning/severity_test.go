package scanning

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSeverityFromRisk(t *testing.T) {
	tests := []struct {
		risk int
		want Severity
	}{
		{risk: 4, want: SeverityCritical},
		{risk: 3, want: SeverityHigh},
		{risk: 2, want: SeverityMedium},
		{risk: 1, want: SeverityLow},
		{risk: 0, want: SeverityInfo},
		{risk: -1, want: SeverityInfo},
		{risk: 99, want: SeverityInfo},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, SeverityFromRisk(tt.risk), "risk %d", tt.risk)
	}
}

func TestParseSeverity(t *testing.T) {
	for _, sev := range Severities() {
		assert.Equal(t, sev, ParseSeverity(sev.String()))
	}
	assert.Equal(t, Severity(""), ParseSeverity("CRITICAL"))
	assert.Equal(t, Severity(""), ParseSeverity("bogus"))
}

func TestSeveritiesDecreasingUrgency(t *testing.T) {
	want := []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo}
	assert.Equal(t, want, Severities())
}

func TestStatisticsAdd(t *testing.T) {
	var stats Statistics
	stats.Add(SeverityCritical)
	stats.Add(SeverityHigh)
	stats.Add(SeverityHigh)
	stats.Add(SeverityMedium)
	stats.Add(SeverityLow)
	stats.Add(SeverityInfo)
	stats.Add(Severity("unknown")) // unknown severities count as info

	assert.Equal(t, Statistics{Critical: 1, High: 2, Medium: 1, Low: 1, Info: 2, Total: 7}, stats)
	assert.Equal(t, 2, stats.Count(SeverityHigh))
	assert.Equal(t, 2, stats.Count(SeverityInfo))
	assert.False(t, stats.IsZero())
}

func TestStatisticsFromFindings(t *testing.T) {
	findings := []Finding{
		{Severity: SeverityHigh, Type: "SQL Injection", Location: "https://shop.local/search?q="},
		{Severity: SeverityHigh, Type: "XSS", Location: "https://shop.local/comment"},
		{Severity: SeverityMedium, Type: "Missing CSP Header", Location: "https://shop.local/"},
	}

	stats := StatisticsFromFindings(findings)
	assert.Equal(t, Statistics{High: 2, Medium: 1, Total: 3}, stats)

	assert.True(t, StatisticsFromFindings(nil).IsZero())
}
