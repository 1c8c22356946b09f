package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"

	"x12ack/internal/domain"
	"x12ack/internal/engine"
)

const jobBody = `{"correlation_id":"c1","prod_name":"p.x12","test_name":"t.x12","prod_document":"ST*850~","test_document":"ST*850~"}`

type stubProcessor struct {
	mu     sync.Mutex
	jobs   []domain.ComparisonJob
	err    error
	waitCh chan struct{}
}

func (s *stubProcessor) Process(_ context.Context, job domain.ComparisonJob) (domain.Outcome, error) {
	if s.waitCh != nil {
		<-s.waitCh
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, job)
	if s.err != nil {
		return domain.Outcome{}, s.err
	}
	return domain.Outcome{RunID: "run-1", CorrelationID: job.CorrelationID, Status: domain.StatusAcceptedClean}, nil
}

func newTestAdapter(proc Processor, capacity int) *Adapter {
	a := &Adapter{
		cfg:     Config{Topics: []string{"jobs"}},
		log:     zap.NewNop(),
		proc:    proc,
		records: make(chan *kgo.Record, capacity),
		acks:    make(chan recordAck, capacity),
	}
	a.markCommit = func(*kgo.Record) {}
	a.commitMarked = func(context.Context) error { return nil }
	a.pauseFetch = func(...string) {}
	a.resumeFetch = func(...string) {}
	a.produce = func(context.Context, *kgo.Record) error { return nil }
	return a
}

func TestConfigValidate(t *testing.T) {
	cfg := Config{Enabled: true, Brokers: []string{"127.0.0.1:9092"}, Topics: []string{"jobs"}, GroupID: "g1"}
	cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cfg.WorkerCount != 4 || cfg.QueueCapacity != 1024 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	cfg.ReplyTopic = "jobs"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected reply topic loop to be rejected")
	}
	cfg.ReplyTopic = ""
	cfg.Auth.SASL = SASLConfig{Enabled: true, Mechanism: "GSSAPI"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected unsupported mechanism error")
	}
}

func TestSASLMechanisms(t *testing.T) {
	for _, m := range []string{MechanismPlain, MechanismSCRAMSHA256, "scram-sha-512"} {
		mech, err := saslMechanism(SASLConfig{Mechanism: m, Username: "u", Password: "p"})
		if err != nil {
			t.Fatalf("%s: %v", m, err)
		}
		if mech == nil || mech.Name() == "" {
			t.Fatalf("%s: empty mechanism", m)
		}
	}
}

func TestHandleRecordSetsProvenanceAndReplies(t *testing.T) {
	proc := &stubProcessor{}
	a := newTestAdapter(proc, 1)
	a.cfg.ReplyTopic = "outcomes"
	var reply *kgo.Record
	a.produce = func(_ context.Context, r *kgo.Record) error { reply = r; return nil }

	rec := &kgo.Record{Topic: "jobs", Partition: 2, Offset: 7, Value: []byte(jobBody)}
	if err := a.handleRecord(context.Background(), rec); err != nil {
		t.Fatalf("handle: %v", err)
	}
	job := proc.jobs[0]
	if job.Source != "kafka" || job.SourceRef != "jobs/2/7" || job.CorrelationID != "c1" {
		t.Fatalf("unexpected job provenance: %+v", job)
	}
	if reply == nil || reply.Topic != "outcomes" || string(reply.Key) != "c1" {
		t.Fatalf("unexpected reply: %+v", reply)
	}
	var out domain.Outcome
	if err := json.Unmarshal(reply.Value, &out); err != nil {
		t.Fatal(err)
	}
	if out.RunID != "run-1" || out.Status != domain.StatusAcceptedClean {
		t.Fatalf("unexpected reply body: %+v", out)
	}
}

func TestRecordKeyIsFallbackCorrelation(t *testing.T) {
	proc := &stubProcessor{}
	a := newTestAdapter(proc, 1)
	rec := &kgo.Record{Topic: "jobs", Key: []byte("k-9"), Value: []byte(`{"prod_document":"ST*850~","test_document":"ST*850~"}`)}
	if err := a.handleRecord(context.Background(), rec); err != nil {
		t.Fatal(err)
	}
	if proc.jobs[0].CorrelationID != "k-9" {
		t.Fatalf("correlation = %q", proc.jobs[0].CorrelationID)
	}
}

func TestOffsetCommitOnlyAfterProcessing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	wait := make(chan struct{})
	a := newTestAdapter(&stubProcessor{waitCh: wait}, 1)
	committed := make(chan struct{}, 1)
	a.markCommit = func(*kgo.Record) { committed <- struct{}{} }

	go a.handleAcks(ctx)
	go a.runWorker(ctx)

	a.records <- &kgo.Record{Topic: "jobs", Partition: 0, Offset: 1, Value: []byte(jobBody)}

	select {
	case <-committed:
		t.Fatalf("offset committed before the job was processed")
	case <-time.After(75 * time.Millisecond):
	}
	close(wait)
	select {
	case <-committed:
	case <-time.After(time.Second):
		t.Fatalf("expected commit after processing")
	}
}

func TestMalformedJobIsCommitted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	proc := &stubProcessor{}
	a := newTestAdapter(proc, 1)
	committed := make(chan struct{}, 1)
	a.markCommit = func(*kgo.Record) { committed <- struct{}{} }

	go a.handleAcks(ctx)
	go a.runWorker(ctx)
	a.records <- &kgo.Record{Topic: "jobs", Offset: 2, Value: []byte(`{not json`)}
	select {
	case <-committed:
	case <-time.After(time.Second):
		t.Fatal("expected malformed job to be committed")
	}
	if len(proc.jobs) != 0 {
		t.Fatal("malformed job reached the processor")
	}
}

func TestBlankDocumentReachesProcessor(t *testing.T) {
	proc := &stubProcessor{}
	a := newTestAdapter(proc, 1)
	body := `{"correlation_id":"c2","prod_document":"","test_document":"ST*850~"}`
	if err := a.handleRecord(context.Background(), &kgo.Record{Value: []byte(body)}); err != nil {
		t.Fatalf("blank document must be processed, got %v", err)
	}
	proc.mu.Lock()
	defer proc.mu.Unlock()
	if len(proc.jobs) != 1 || proc.jobs[0].ProdDocument != "" {
		t.Fatalf("unexpected jobs %+v", proc.jobs)
	}
}

func TestCommitSkipsOnProcessFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a := newTestAdapter(&stubProcessor{err: &engine.TemporaryError{Err: errors.New("db locked")}}, 1)
	commits := make(chan struct{}, 1)
	a.markCommit = func(*kgo.Record) { commits <- struct{}{} }
	go a.handleAcks(ctx)
	go a.runWorker(ctx)
	a.records <- &kgo.Record{Topic: "jobs", Offset: 1, Value: []byte(jobBody)}
	select {
	case <-commits:
		t.Fatalf("expected no offset commit on process failure")
	case <-time.After(60 * time.Millisecond):
	}
}

func TestCommitSkipsOnReplyFailure(t *testing.T) {
	a := newTestAdapter(&stubProcessor{}, 1)
	a.cfg.ReplyTopic = "outcomes"
	a.produce = func(context.Context, *kgo.Record) error { return errors.New("broker down") }
	if err := a.handleRecord(context.Background(), &kgo.Record{Value: []byte(jobBody)}); err == nil {
		t.Fatal("expected produce error to surface")
	}
}

func TestBackpressurePauseAndResume(t *testing.T) {
	a := newTestAdapter(&stubProcessor{}, 2)
	paused := 0
	resumed := 0
	a.pauseFetch = func(...string) { paused++ }
	a.resumeFetch = func(...string) { resumed++ }

	a.records <- &kgo.Record{}
	a.records <- &kgo.Record{}
	a.maybePause()
	if paused != 1 {
		t.Fatalf("expected pause, got %d", paused)
	}
	<-a.records
	a.maybeResume()
	if resumed != 1 {
		t.Fatalf("expected resume, got %d", resumed)
	}
}
