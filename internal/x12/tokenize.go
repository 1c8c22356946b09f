package x12

import (
	"strings"

	"x12ack/internal/domain"
)

const (
	SegmentTerminator = "~"
	ElementSeparator  = "*"

	// Envelope tags.
	TagInterchangeHeader  = "ISA"
	TagInterchangeTrailer = "IEA"
	TagGroupHeader        = "GS"
	TagGroupTrailer       = "GE"
	TagTransactionHeader  = "ST"
	TagTransactionTrailer = "SE"
)

// Tokenize splits a raw document into segments. Blank segments are dropped and
// positions count only retained segments, starting at 1.
func Tokenize(content string) domain.Stream {
	raw := strings.Split(strings.TrimSpace(content), SegmentTerminator)
	out := make(domain.Stream, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		parts := strings.Split(r, ElementSeparator)
		out = append(out, domain.Segment{
			Position: len(out) + 1,
			Tag:      parts[0],
			Elements: parts[1:],
		})
	}
	return out
}

// TransactionID returns the first element of the first ST segment that has
// elements.
func TransactionID(stream domain.Stream) (string, bool) {
	for _, s := range stream {
		if s.Tag == TagTransactionHeader && len(s.Elements) > 0 {
			return s.Elements[0], true
		}
	}
	return "", false
}
