package ack

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"x12ack/internal/domain"
	"x12ack/internal/x12"
)

func TestEncodeAccepted(t *testing.T) {
	res := domain.ValidationResult{AckStatus: domain.AckAccepted}
	doc := Encode(res, "850", time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))

	want := "ST*997*0001~\n" +
		"AK1*850*1~\n" +
		"AK2*850*0001~\n" +
		"AK5*A~\n" +
		"AK9*A*1*1*1~\n" +
		"SE*6*0001~"
	assert.Equal(t, want, doc.String())
}

func TestEncodeRejected(t *testing.T) {
	res := domain.ValidationResult{
		AckStatus:   domain.AckRejected,
		FatalErrors: []domain.Diagnostic{{Tag: "BEG", Kind: domain.KindMissingMandatorySegment, Severity: domain.SeverityFatal}},
	}
	doc := Encode(res, "850", time.Now())

	require.Len(t, doc.Segments, 6)
	assert.Equal(t, []string{"R"}, doc.Segments[3].Elements)
	assert.Equal(t, []string{"R", "1", "1", "0"}, doc.Segments[4].Elements)
}

func TestEncodeWithoutTransaction(t *testing.T) {
	doc := Encode(domain.ValidationResult{AckStatus: domain.AckRejected}, "", time.Now())
	assert.Equal(t, "AK1**1", doc.Segments[1].String())
	assert.Equal(t, "AK2**0001", doc.Segments[2].String())
}

func TestEncodeIsDeterministicApartFromTimestamp(t *testing.T) {
	res := domain.ValidationResult{AckStatus: domain.AckAccepted}
	a := Encode(res, "810", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	b := Encode(res, "810", time.Date(2027, 6, 1, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, a.Segments, b.Segments)
	assert.NotEqual(t, a.GeneratedAt, b.GeneratedAt)
}

func TestRenderRoundTripsThroughTokenizer(t *testing.T) {
	doc := Encode(domain.ValidationResult{AckStatus: domain.AckAccepted}, "856", time.Now())
	stream := x12.Tokenize(doc.Render("~", ""))
	require.Len(t, stream, 6)
	for k, s := range stream {
		assert.Equal(t, doc.Segments[k].Tag, s.Tag)
		assert.Equal(t, doc.Segments[k].Elements, s.Elements)
	}
	id, ok := x12.TransactionID(stream)
	require.True(t, ok)
	assert.Equal(t, "997", id)
}
