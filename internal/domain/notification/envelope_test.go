package notification

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnvelopeReportURLPrefersHTML(t *testing.T) {
	env := Envelope{
		ReportLinks: map[string]string{
			"json": "https://scanwarden.local/reports/42.json",
			"html": "https://scanwarden.local/reports/42.html",
			"pdf":  "https://scanwarden.local/reports/42.pdf",
		},
	}
	assert.Equal(t, "https://scanwarden.local/reports/42.html", env.ReportURL())
}

func TestEnvelopeReportURLFallsBack(t *testing.T) {
	env := Envelope{
		ReportLinks: map[string]string{
			"pdf": "https://scanwarden.local/reports/42.pdf",
		},
	}
	assert.Equal(t, "https://scanwarden.local/reports/42.pdf", env.ReportURL())
}

func TestEnvelopeReportURLEmpty(t *testing.T) {
	assert.Empty(t, Envelope{}.ReportURL())
	assert.Empty(t, Envelope{ReportLinks: map[string]string{}}.ReportURL())
}
