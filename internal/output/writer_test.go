package output

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"x12ack/internal/domain"
)

func TestAckFileName(t *testing.T) {
	assert.Equal(t, "ack_997_850_ACCEPTED.x12", AckFileName("850", domain.AckAccepted))
	assert.Equal(t, "ack_997_none_REJECTED.x12", AckFileName("", domain.AckRejected))
	assert.Equal(t, "ack_997_a_b_ACCEPTED.x12", AckFileName("a/b", domain.AckAccepted))
	assert.Equal(t, "ack_997____x_REJECTED.x12", AckFileName("../x", domain.AckRejected))
	assert.Equal(t, "ack_997_8_5_0_REJECTED.x12", AckFileName("8 5\x000", domain.AckRejected))
}

func TestWriteOutcomeKeepsSlashedTransactionDistinct(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir)
	require.NoError(t, err)

	tx := "a/b"
	paths, err := w.WriteOutcome(context.Background(), domain.Outcome{
		Result: domain.ValidationResult{TransactionID: &tx, AckStatus: domain.AckAccepted},
		Ack:    "ISA~",
	})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "ack_997_a_b_ACCEPTED.x12"), paths.Ack)
}

func TestWriteOutcome(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir)
	require.NoError(t, err)

	tx := "850"
	out := domain.Outcome{
		Result: domain.ValidationResult{TransactionID: &tx, AckStatus: domain.AckAccepted},
		Ack:    "ST*997*0001~",
		Report: "END OF REPORT",
	}
	paths, err := w.WriteOutcome(context.Background(), out)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "ack_997_850_ACCEPTED.x12"), paths.Ack)
	assert.Equal(t, filepath.Join(dir, ReportFileName), paths.Report)

	data, err := os.ReadFile(paths.Ack)
	require.NoError(t, err)
	assert.Equal(t, "ST*997*0001~", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "temp files must not be left behind")
}

func TestWriteOutcomeSkipsEmptyReport(t *testing.T) {
	w, err := NewWriter(t.TempDir())
	require.NoError(t, err)
	paths, err := w.WriteOutcome(context.Background(), domain.Outcome{Ack: "x"})
	require.NoError(t, err)
	assert.Empty(t, paths.Report)
}

func TestWriteOverwrites(t *testing.T) {
	w, err := NewWriter(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	_, err = w.Write(ctx, "a.txt", strings.NewReader("first"))
	require.NoError(t, err)
	p, err := w.Write(ctx, "a.txt", strings.NewReader("second"))
	require.NoError(t, err)

	data, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))
}

func TestWriteFlattensNames(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir)
	require.NoError(t, err)

	p, err := w.Write(context.Background(), "../../escape.txt", strings.NewReader("x"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "escape.txt"), p)

	_, err = w.Write(context.Background(), "..", strings.NewReader("x"))
	assert.ErrorIs(t, err, ErrPathInvalid)
}

func TestWriteHonoursCancellation(t *testing.T) {
	w, err := NewWriter(t.TempDir())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = w.Write(ctx, "a.txt", strings.NewReader("x"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewWriterRequiresDir(t *testing.T) {
	_, err := NewWriter("  ")
	assert.ErrorIs(t, err, os.ErrInvalid)
}
