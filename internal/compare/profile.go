package compare

import "x12ack/internal/domain"

// DefaultProfile returns the comparison constants for X12 004010-style envelopes:
// HL/CTT/SE anchors, GE/IEA trailers ignored, ISA date/time/control/usage and
// GS date/time/control elements ignored.
func DefaultProfile() domain.ComparisonProfile {
	return domain.ComparisonProfile{
		AnchorTags:      TagSet("HL", "CTT", "SE"),
		IgnoredTrailers: TagSet("GE", "IEA"),
		IgnoredElements: map[string]map[int]struct{}{
			"ISA": IndexSet(8, 9, 12, 14),
			"GS":  IndexSet(3, 4, 5),
		},
	}
}

func TagSet(tags ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		out[t] = struct{}{}
	}
	return out
}

func IndexSet(idx ...int) map[int]struct{} {
	out := make(map[int]struct{}, len(idx))
	for _, i := range idx {
		out[i] = struct{}{}
	}
	return out
}

func has[K comparable](set map[K]struct{}, k K) bool {
	_, ok := set[k]
	return ok
}
