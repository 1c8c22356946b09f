// Package output writes acknowledgment and report files under a root directory.
package output

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"x12ack/internal/domain"
)

// ReportFileName is the fixed name of the text comparison report.
const ReportFileName = "x12_compare_result.txt"

var ErrPathInvalid = errors.New("output: invalid file name")

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// Writer places files flat under its root. Writes go to a temp file in the
// same directory followed by a rename.
type Writer struct {
	root    string
	permF   os.FileMode
	permD   os.FileMode
	bufSize int
}

func NewWriter(dir string) (*Writer, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, os.ErrInvalid
	}
	return &Writer{root: dir, permF: 0o644, permD: 0o755, bufSize: 64 * 1024}, nil
}

func (w *Writer) Root() string { return w.root }

// AckFileName returns ack_997_<transaction>_<ack_status>.x12. The transaction
// comes from ST01, so anything outside [A-Za-z0-9_-] becomes '_'.
func AckFileName(transaction string, status domain.AckStatus) string {
	if transaction == "" {
		transaction = "none"
	}
	return fmt.Sprintf("ack_997_%s_%s.x12", unsafeNameChars.ReplaceAllString(transaction, "_"), status)
}

// Paths are the destinations written for one outcome.
type Paths struct {
	Ack    string
	Report string
}

// WriteOutcome writes the acknowledgment and, when present, the text report.
func (w *Writer) WriteOutcome(ctx context.Context, out domain.Outcome) (Paths, error) {
	var paths Paths
	ackPath, err := w.Write(ctx, AckFileName(out.Result.Transaction(), out.Result.AckStatus), strings.NewReader(out.Ack))
	if err != nil {
		return paths, fmt.Errorf("write ack: %w", err)
	}
	paths.Ack = ackPath
	if out.Report == "" {
		return paths, nil
	}
	reportPath, err := w.Write(ctx, ReportFileName, strings.NewReader(out.Report))
	if err != nil {
		return paths, fmt.Errorf("write report: %w", err)
	}
	paths.Report = reportPath
	return paths, nil
}

// Write stores all of r under name and returns the destination path.
func (w *Writer) Write(ctx context.Context, name string, r io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	dest, err := w.mapPath(name)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(dest), w.permD); err != nil {
		return "", err
	}
	if err := w.writeAtomic(ctx, dest, r); err != nil {
		return "", err
	}
	return dest, nil
}

// mapPath keeps only the base name so nothing lands outside root.
func (w *Writer) mapPath(name string) (string, error) {
	rel := filepath.Base(filepath.Clean(name))
	if rel == "." || rel == ".." || rel == "" || rel == string(filepath.Separator) {
		return "", ErrPathInvalid
	}
	return filepath.Join(w.root, rel), nil
}

func (w *Writer) writeAtomic(ctx context.Context, dest string, r io.Reader) error {
	dir := filepath.Dir(dest)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	_ = os.Chmod(tmpPath, w.permF)

	fail := func(err error) error {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}

	bw := bufio.NewWriterSize(tmp, w.bufSize)
	if _, err := io.Copy(bw, &ctxReader{ctx: ctx, r: r}); err != nil {
		return fail(err)
	}
	if err := bw.Flush(); err != nil {
		return fail(err)
	}
	if err := tmp.Sync(); err != nil {
		return fail(err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	_ = syncDir(dir)
	return nil
}

func syncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr *ctxReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	return cr.r.Read(p)
}
