package scanning

// Finding is a single raw vulnerability reported by the scan engine.
type Finding struct {
	// Severity classifies the finding's urgency.
	Severity Severity `json:"severity"`

	// Type names the vulnerability class (e.g. "SQL Injection").
	Type string `json:"type"`

	// Location identifies where the finding was observed, typically a URL
	// plus parameter.
	Location string `json:"location"`

	// Evidence carries the engine's proof for the finding, when available.
	Evidence string `json:"evidence,omitempty"`
}
