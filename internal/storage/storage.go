package storage

import (
	"context"

	"x12ack/internal/domain"
)

// RunRecord is the storage representation of one archived validation run.
type RunRecord struct {
	RunID           string
	CorrelationID   string
	TransactionID   string
	AckStatus       string
	Status          string
	FatalErrorCount int
	ErrorCount      int
	ResultJSON      string
	Ack997          string
	Report          string
	Source          string
	SourceRef       string
	CreatedAtUTCNs  int64
}

// RuleStore persists rule sets and serves them to the acceptance decision.
type RuleStore interface {
	PutRuleSet(ctx context.Context, rs domain.RuleSet) error
	Lookup(ctx context.Context, transactionID string) (domain.RuleSet, bool, error)
	ListTransactions(ctx context.Context) ([]string, error)
}

// RunArchive is the append-only log of validation outcomes.
type RunArchive interface {
	AppendRun(ctx context.Context, out domain.Outcome) error
	GetRun(ctx context.Context, runID string) (domain.Outcome, bool, error)
}
