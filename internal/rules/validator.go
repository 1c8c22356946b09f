package rules

import "x12ack/internal/domain"

// ValidateSegments checks one stream against rs. Mandatory-segment findings come
// first, then max-use findings, each group in declaration order.
func ValidateSegments(stream domain.Stream, rs domain.RuleSet) []domain.Diagnostic {
	counts := make(map[string]int, len(stream))
	for _, s := range stream {
		counts[s.Tag]++
	}

	var out []domain.Diagnostic
	for _, tag := range rs.MandatorySegments {
		if counts[tag] == 0 {
			out = append(out, domain.Diagnostic{Tag: tag, Kind: domain.KindMissingMandatorySegment, Severity: domain.SeverityFatal})
		}
	}
	for _, mu := range rs.MaxUse {
		if found := counts[mu.Tag]; found > mu.Limit {
			out = append(out, domain.Diagnostic{Tag: mu.Tag, Kind: domain.KindMaxUseExceeded, Severity: domain.SeverityError}.WithCounts(found, mu.Limit))
		}
	}
	return out
}
