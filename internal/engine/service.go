// Package engine runs comparison jobs end to end: tokenize both documents,
// decide acceptance, encode the 997, render the report, then archive and
// write the artifacts when those sinks are configured.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"x12ack/internal/ack"
	"x12ack/internal/core"
	"x12ack/internal/domain"
	"x12ack/internal/logging"
	"x12ack/internal/metrics"
	"x12ack/internal/output"
	"x12ack/internal/report"
	"x12ack/internal/rules"
	"x12ack/internal/storage"
	"x12ack/internal/x12"
)

var ErrArchiveDisabled = errors.New("engine: run archive not configured")

// OutcomeWriter persists the acknowledgment and report files of an outcome.
type OutcomeWriter interface {
	WriteOutcome(ctx context.Context, out domain.Outcome) (output.Paths, error)
}

type Options struct {
	Lookup  rules.Lookup
	Archive storage.RunArchive
	Writer  OutcomeWriter
	Logger  *zap.Logger

	Now      func() time.Time
	NewRunID func() string
}

type Service struct {
	lookup   rules.Lookup
	archive  storage.RunArchive
	writer   OutcomeWriter
	log      *zap.Logger
	now      func() time.Time
	newRunID func() string
}

func NewService(opts Options) (*Service, error) {
	if opts.Lookup == nil {
		return nil, errors.New("engine: rule lookup is required")
	}
	s := &Service{
		lookup:   opts.Lookup,
		archive:  opts.Archive,
		writer:   opts.Writer,
		log:      logging.OrNop(opts.Logger),
		now:      opts.Now,
		newRunID: opts.NewRunID,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newRunID == nil {
		s.newRunID = uuid.NewString
	}
	return s, nil
}

// Process validates one job. Rule violations are carried in the outcome;
// an error means the job itself could not be processed.
func (s *Service) Process(ctx context.Context, job domain.ComparisonJob) (domain.Outcome, error) {
	started := s.now()
	runID := s.newRunID()
	correlationID := job.CorrelationID
	if correlationID == "" {
		correlationID = runID
	}
	log := s.log.With(zap.String("run_id", runID), zap.String("correlation_id", correlationID))

	result, err := core.Decide(ctx, x12.Tokenize(job.ProdDocument), x12.Tokenize(job.TestDocument), s.lookup)
	if err != nil {
		log.Error("validation failed", zap.Error(err))
		return domain.Outcome{}, temporary(err)
	}

	tx := result.Transaction()
	out := domain.Outcome{
		RunID:           runID,
		CorrelationID:   correlationID,
		Result:          result,
		Status:          result.Status(),
		FatalErrorCount: len(result.FatalErrors),
		ErrorCount:      len(result.AllErrors),
		Ack:             ack.Encode(result, tx, started).String(),
		Report: report.Render(report.Header{
			ProdName:    nameOr(job.ProdName, "prod"),
			TestName:    nameOr(job.TestName, "test"),
			Transaction: nameOr(tx, "-"),
			ComparedAt:  started,
		}, reported(result)),
		Source:       job.Source,
		SourceRef:    job.SourceRef,
		CreatedAtUTC: started.UTC(),
	}

	if s.writer != nil {
		paths, err := s.writer.WriteOutcome(ctx, out)
		if err != nil {
			log.Error("write outcome files", zap.Error(err))
			return domain.Outcome{}, temporary(err)
		}
		out.AckPath, out.ReportPath = paths.Ack, paths.Report
	}
	if s.archive != nil {
		if err := s.archive.AppendRun(ctx, out); err != nil {
			log.Error("archive run", zap.Error(err))
			return domain.Outcome{}, temporary(fmt.Errorf("archive run: %w", err))
		}
	}

	took := s.now().Sub(started)
	metrics.ObserveResult(result, took)
	log.Info("validation complete",
		zap.String("transaction", tx),
		zap.String("ack_status", string(result.AckStatus)),
		zap.String("status", string(out.Status)),
		zap.Int("fatal_error_count", out.FatalErrorCount),
		zap.Int("error_count", out.ErrorCount),
		zap.Duration("took", took),
	)
	return out, nil
}

func (s *Service) GetRun(ctx context.Context, runID string) (domain.Outcome, bool, error) {
	if s.archive == nil {
		return domain.Outcome{}, false, ErrArchiveDisabled
	}
	return s.archive.GetRun(ctx, runID)
}

func (s *Service) Health(ctx context.Context) (bool, string) {
	if err := ctx.Err(); err != nil {
		return false, err.Error()
	}
	return true, "ok"
}

// reported lists the findings shown in the text report. Envelope rejections
// leave AllErrors empty, so their fatal diagnostics are shown instead.
func reported(result domain.ValidationResult) []domain.Diagnostic {
	if len(result.AllErrors) == 0 {
		return result.FatalErrors
	}
	return result.AllErrors
}

func nameOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

// TemporaryError marks failures worth retrying: rule lookup, file and archive errors.
type TemporaryError struct{ Err error }

func (e *TemporaryError) Error() string   { return e.Err.Error() }
func (e *TemporaryError) Unwrap() error   { return e.Err }
func (e *TemporaryError) Temporary() bool { return true }

func temporary(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &TemporaryError{Err: err}
}
