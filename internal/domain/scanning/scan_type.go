package scanning

// ScanType selects the depth of a scan run.
type ScanType string

const (
	// ScanTypeFull runs spider plus active scan against the whole target.
	ScanTypeFull ScanType = "full"

	// ScanTypeQuick limits crawling depth and skips the slowest attack
	// categories.
	ScanTypeQuick ScanType = "quick"

	// ScanTypeIncremental only re-tests surfaces changed since the previous
	// scan.
	ScanTypeIncremental ScanType = "incremental"
)

func (t ScanType) String() string { return string(t) }

// ParseScanType converts a string to a ScanType, returning "" for unknown
// values.
func ParseScanType(s string) ScanType {
	switch s {
	case "full":
		return ScanTypeFull
	case "quick":
		return ScanTypeQuick
	case "incremental":
		return ScanTypeIncremental
	default:
		return ""
	}
}
