package domain

import "strings"

// SeverityBucket is the normalized severity tier a raw scan severity maps
// into. STIG CAT tiers and scanner High/Medium/Low labels collapse into the
// same three buckets; anything unrecognized lands in BucketUnknown, which is
// reported but excluded from the named three.
type SeverityBucket string

const (
	BucketCatI    SeverityBucket = "CAT_I"
	BucketCatII   SeverityBucket = "CAT_II"
	BucketCatIII  SeverityBucket = "CAT_III"
	BucketUnknown SeverityBucket = "UNKNOWN"
)

// NormalizeSeverity maps a raw source severity onto its bucket. Matching is
// case-insensitive and tolerant of underscore/space variants.
func NormalizeSeverity(raw string) SeverityBucket {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.ReplaceAll(s, "_", " ")
	switch s {
	case "high", "cat i", "cat1", "cat 1":
		return BucketCatI
	case "medium", "cat ii", "cat2", "cat 2":
		return BucketCatII
	case "low", "cat iii", "cat3", "cat 3":
		return BucketCatIII
	default:
		return BucketUnknown
	}
}

// SeverityRank orders raw severities for display sorting, most severe first.
// Unknown severities sort last.
func SeverityRank(raw string) int {
	switch NormalizeSeverity(raw) {
	case BucketCatI:
		return 3
	case BucketCatII:
		return 2
	case BucketCatIII:
		return 1
	default:
		return 0
	}
}
