package ack

import (
	"strconv"
	"strings"
	"time"

	"x12ack/internal/domain"
	"x12ack/internal/x12"
)

const (
	TransactionSet = "997"
	controlNumber  = "0001"
	segmentCount   = 6
)

// Document is a rendered 997 functional acknowledgment.
type Document struct {
	Segments []domain.Segment
	// GeneratedAt is the encoding time. It is not part of the segments.
	GeneratedAt time.Time
}

// Encode maps a validation result onto the fixed six segment 997 layout:
// ST, AK1, AK2, AK5, AK9, SE.
func Encode(result domain.ValidationResult, transactionID string, now time.Time) Document {
	code, accepted := "A", 1
	if result.AckStatus == domain.AckRejected {
		code, accepted = "R", 0
	}
	rows := [][]string{
		{x12.TagTransactionHeader, TransactionSet, controlNumber},
		{"AK1", transactionID, "1"},
		{"AK2", transactionID, controlNumber},
		{"AK5", code},
		{"AK9", code, "1", "1", strconv.Itoa(accepted)},
		{x12.TagTransactionTrailer, strconv.Itoa(segmentCount), controlNumber},
	}
	doc := Document{Segments: make([]domain.Segment, 0, len(rows)), GeneratedAt: now.UTC()}
	for k, r := range rows {
		doc.Segments = append(doc.Segments, domain.Segment{Position: k + 1, Tag: r[0], Elements: r[1:]})
	}
	return doc
}

// Render writes every segment followed by term, joined by sep.
func (d Document) Render(term, sep string) string {
	lines := make([]string, 0, len(d.Segments))
	for _, s := range d.Segments {
		lines = append(lines, s.String()+term)
	}
	return strings.Join(lines, sep)
}

// String renders one terminated segment per line.
func (d Document) String() string {
	return d.Render(x12.SegmentTerminator, "\n")
}
