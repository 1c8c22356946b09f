package sqlite

import (
	"context"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"x12ack/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "db", "x12ack.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSchemaInitializationCreatesExpectedTables(t *testing.T) {
	s := newTestStore(t)
	for _, name := range []string{"rule_sets", "rule_mandatory", "rule_max_use", "validation_runs"} {
		var cnt int
		if err := s.db.QueryRow(`SELECT count(*) FROM sqlite_master WHERE type='table' AND name=?`, name).Scan(&cnt); err != nil {
			t.Fatal(err)
		}
		if cnt != 1 {
			t.Fatalf("%s table missing", name)
		}
	}
}

func TestRuleSetRoundTripKeepsOrder(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	off := false
	in := domain.RuleSet{
		TransactionID:     "850",
		MandatorySegments: []string{"ST", "BEG", "PO1", "SE"},
		MaxUse:            []domain.MaxUse{{Tag: "SE", Limit: 1}, {Tag: "BEG", Limit: 1}, {Tag: "CTT", Limit: 1}},
		Compare: &domain.ProfileOverride{
			AnchorSegments:  []string{"LX", "SE"},
			IgnoredElements: map[string][]int{"ISA": {8, 9}},
			ReportTrailing:  &off,
		},
	}
	if err := s.PutRuleSet(ctx, in); err != nil {
		t.Fatal(err)
	}
	got, ok, err := s.Lookup(ctx, "850")
	if err != nil || !ok {
		t.Fatalf("lookup: ok=%t err=%v", ok, err)
	}
	if !reflect.DeepEqual(got, in) {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, in)
	}
}

func TestPutRuleSetReplaces(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.PutRuleSet(ctx, domain.RuleSet{TransactionID: "810", MandatorySegments: []string{"ST", "BIG"}, MaxUse: []domain.MaxUse{{Tag: "BIG", Limit: 1}}}); err != nil {
		t.Fatal(err)
	}
	if err := s.PutRuleSet(ctx, domain.RuleSet{TransactionID: "810", MandatorySegments: []string{"ST"}}); err != nil {
		t.Fatal(err)
	}
	got, _, err := s.Lookup(ctx, "810")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got.MandatorySegments, []string{"ST"}) || len(got.MaxUse) != 0 || got.Compare != nil {
		t.Fatalf("expected replaced rule set, got %+v", got)
	}
}

func TestLookupMissingIsNotAnError(t *testing.T) {
	s := newTestStore(t)
	_, ok, err := s.Lookup(context.Background(), "999")
	if err != nil || ok {
		t.Fatalf("expected absent rule set, ok=%t err=%v", ok, err)
	}
}

func TestImportAndListTransactions(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	sets := []domain.RuleSet{{TransactionID: "856"}, {TransactionID: "810"}, {TransactionID: "850"}}
	if err := s.ImportRuleSets(ctx, sets); err != nil {
		t.Fatal(err)
	}
	ids, err := s.ListTransactions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(ids, []string{"810", "850", "856"}) {
		t.Fatalf("unexpected ids %v", ids)
	}
	if err := s.PutRuleSet(ctx, domain.RuleSet{}); err == nil {
		t.Fatalf("expected error for empty transaction id")
	}
}

func sampleOutcome(runID string) domain.Outcome {
	tx := "850"
	result := domain.ValidationResult{
		TransactionID: &tx,
		AckStatus:     domain.AckAccepted,
		FatalErrors:   []domain.Diagnostic{},
		AllErrors: []domain.Diagnostic{
			domain.Diagnostic{Tag: "N1", Kind: domain.ElementMismatch(2), Severity: domain.SeverityError, Position: 3}.WithValues("Acme", "Acme2"),
		},
	}
	return domain.Outcome{
		RunID:         runID,
		CorrelationID: "corr-1",
		Result:        result,
		Status:        result.Status(),
		ErrorCount:    1,
		Ack:           "ST*997*0001~",
		Report:        "END OF REPORT",
		Source:        "socket",
		SourceRef:     "127.0.0.1:1",
		CreatedAtUTC:  time.Date(2026, 1, 2, 3, 4, 5, 6, time.UTC),
	}
}

func TestRunArchiveRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	in := sampleOutcome("run-1")
	if err := s.AppendRun(ctx, in); err != nil {
		t.Fatal(err)
	}
	got, ok, err := s.GetRun(ctx, "run-1")
	if err != nil || !ok {
		t.Fatalf("get run: ok=%t err=%v", ok, err)
	}
	if !reflect.DeepEqual(got, in) {
		t.Fatalf("run mismatch:\n got %+v\nwant %+v", got, in)
	}
	if _, ok, err := s.GetRun(ctx, "run-2"); err != nil || ok {
		t.Fatalf("expected missing run, ok=%t err=%v", ok, err)
	}
}

func TestRunsAreAppendOnlyViaTriggers(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	if err := s.AppendRun(ctx, sampleOutcome("run-1")); err != nil {
		t.Fatal(err)
	}
	_, err := s.db.Exec(`UPDATE validation_runs SET status='x' WHERE run_id='run-1'`)
	if err == nil || !strings.Contains(err.Error(), "append-only") {
		t.Fatalf("expected append-only update error, got %v", err)
	}
	_, err = s.db.Exec(`DELETE FROM validation_runs WHERE run_id='run-1'`)
	if err == nil || !strings.Contains(err.Error(), "append-only") {
		t.Fatalf("expected append-only delete error, got %v", err)
	}
}

func TestAppendRunDedupAndCorrelation(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	first := sampleOutcome("run-1")
	dup := sampleOutcome("run-1")
	dup.Status = domain.StatusRejected
	second := sampleOutcome("run-2")
	second.CreatedAtUTC = first.CreatedAtUTC.Add(time.Second)

	for _, o := range []domain.Outcome{first, dup, second} {
		if err := s.AppendRun(ctx, o); err != nil {
			t.Fatal(err)
		}
	}
	got, _, err := s.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != first.Status {
		t.Fatalf("duplicate append overwrote run: %s", got.Status)
	}
	if _, ok, err := s.GetRun(ctx, "run-2"); err != nil || !ok {
		t.Fatalf("second run: ok=%t err=%v", ok, err)
	}
	if err := s.AppendRun(ctx, domain.Outcome{}); err == nil {
		t.Fatalf("expected error for empty run id")
	}
}
