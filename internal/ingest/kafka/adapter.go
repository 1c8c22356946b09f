package kafka

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/sasl"
	"github.com/twmb/franz-go/pkg/sasl/plain"
	"github.com/twmb/franz-go/pkg/sasl/scram"
	"go.uber.org/zap"

	"x12ack/internal/domain"
	"x12ack/internal/ingest"
	"x12ack/internal/logging"
	"x12ack/internal/metrics"
)

const (
	MechanismPlain       = "PLAIN"
	MechanismSCRAMSHA256 = "SCRAM-SHA-256"
	MechanismSCRAMSHA512 = "SCRAM-SHA-512"
)

var ErrMalformedJob = ingest.ErrMalformedJob

type Processor interface {
	Process(context.Context, domain.ComparisonJob) (domain.Outcome, error)
}

type Config struct {
	Enabled        bool
	Brokers        []string
	Topics         []string
	GroupID        string
	ClientID       string
	ReplyTopic     string
	WorkerCount    int
	MaxPollRecords int
	QueueCapacity  int
	Auth           AuthConfig
	Fetch          FetchConfig
	Logger         *zap.Logger
}

type AuthConfig struct {
	SASL SASLConfig
	TLS  ingest.TLSConfig
}

type SASLConfig struct {
	Enabled   bool
	Mechanism string
	Username  string
	Password  string
}

type FetchConfig struct {
	MinBytes int32
	MaxBytes int32
	MaxWait  time.Duration
}

type Adapter struct {
	cfg Config
	log *zap.Logger

	client  *kgo.Client
	records chan *kgo.Record
	acks    chan recordAck
	closed  atomic.Bool

	pauseMux sync.Mutex
	paused   bool

	proc         Processor
	markCommit   func(*kgo.Record)
	commitMarked func(context.Context) error
	pauseFetch   func(...string)
	resumeFetch  func(...string)
	produce      func(context.Context, *kgo.Record) error
}

type recordAck struct {
	record *kgo.Record
	err    error
}

func NewAdapter(cfg Config, proc Processor, opts ...kgo.Opt) (*Adapter, error) {
	cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if proc == nil {
		return nil, errors.New("kafka processor is required")
	}
	kopts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.GroupID),
		kgo.ConsumeTopics(cfg.Topics...),
		kgo.DisableAutoCommit(),
		kgo.BlockRebalanceOnPoll(),
		kgo.FetchMaxWait(cfg.Fetch.MaxWait),
		kgo.FetchMinBytes(cfg.Fetch.MinBytes),
		kgo.FetchMaxBytes(cfg.Fetch.MaxBytes),
	}
	if cfg.ClientID != "" {
		kopts = append(kopts, kgo.ClientID(cfg.ClientID))
	}
	tlsCfg, err := cfg.Auth.TLS.Build()
	if err != nil {
		return nil, fmt.Errorf("kafka tls: %w", err)
	}
	if tlsCfg != nil {
		kopts = append(kopts, kgo.DialTLSConfig(tlsCfg))
	}
	if cfg.Auth.SASL.Enabled {
		mech, err := saslMechanism(cfg.Auth.SASL)
		if err != nil {
			return nil, err
		}
		kopts = append(kopts, kgo.SASL(mech))
	}
	kopts = append(kopts, opts...)

	cl, err := kgo.NewClient(kopts...)
	if err != nil {
		return nil, fmt.Errorf("new kafka client: %w", err)
	}

	a := &Adapter{
		cfg:     cfg,
		log:     logging.OrNop(cfg.Logger),
		client:  cl,
		proc:    proc,
		records: make(chan *kgo.Record, cfg.QueueCapacity),
		acks:    make(chan recordAck, cfg.QueueCapacity),
	}
	a.markCommit = func(r *kgo.Record) { cl.MarkCommitRecords(r) }
	a.commitMarked = func(ctx context.Context) error { return cl.CommitMarkedOffsets(ctx) }
	a.pauseFetch = func(topics ...string) { _ = cl.PauseFetchTopics(topics...) }
	a.resumeFetch = func(topics ...string) { cl.ResumeFetchTopics(topics...) }
	a.produce = func(ctx context.Context, r *kgo.Record) error { return cl.ProduceSync(ctx, r).FirstErr() }
	return a, nil
}

func saslMechanism(c SASLConfig) (sasl.Mechanism, error) {
	switch strings.ToUpper(c.Mechanism) {
	case MechanismPlain:
		return plain.Auth{User: c.Username, Pass: c.Password}.AsMechanism(), nil
	case MechanismSCRAMSHA256:
		return scram.Auth{User: c.Username, Pass: c.Password}.AsSha256Mechanism(), nil
	case MechanismSCRAMSHA512:
		return scram.Auth{User: c.Username, Pass: c.Password}.AsSha512Mechanism(), nil
	default:
		return nil, fmt.Errorf("unsupported kafka sasl mechanism %q", c.Mechanism)
	}
}

func (c *Config) withDefaults() {
	if c.WorkerCount <= 0 {
		c.WorkerCount = 4
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = 1024
	}
	if c.MaxPollRecords <= 0 {
		c.MaxPollRecords = 500
	}
	if c.Fetch.MaxWait <= 0 {
		c.Fetch.MaxWait = time.Second
	}
	if c.Fetch.MinBytes <= 0 {
		c.Fetch.MinBytes = 1
	}
	if c.Fetch.MaxBytes <= 0 {
		c.Fetch.MaxBytes = 50 << 20
	}
}

func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if len(c.Brokers) == 0 {
		return errors.New("kafka.brokers is required")
	}
	if len(c.Topics) == 0 {
		return errors.New("kafka.topics is required")
	}
	if c.GroupID == "" {
		return errors.New("kafka.group_id is required")
	}
	for _, t := range c.Topics {
		if c.ReplyTopic != "" && t == c.ReplyTopic {
			return fmt.Errorf("kafka.reply_topic %q must differ from consumed topics", t)
		}
	}
	if c.Auth.SASL.Enabled {
		if _, err := saslMechanism(c.Auth.SASL); err != nil {
			return err
		}
	}
	return nil
}

func (a *Adapter) Start(ctx context.Context) error {
	defer a.client.Close()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.handleAcks(ctx)
	}()

	for i := 0; i < a.cfg.WorkerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.runWorker(ctx)
		}()
	}

	a.log.Info("kafka consuming", zap.Strings("topics", a.cfg.Topics), zap.String("group_id", a.cfg.GroupID))
	for {
		if ctx.Err() != nil || a.closed.Load() {
			close(a.records)
			wg.Wait()
			return ctx.Err()
		}
		fetches := a.client.PollRecords(ctx, a.cfg.MaxPollRecords)
		if errs := fetches.Errors(); len(errs) > 0 {
			if ctx.Err() != nil {
				continue
			}
			close(a.records)
			wg.Wait()
			return errs[0].Err
		}
		fetches.EachPartition(func(p kgo.FetchTopicPartition) {
			for _, rec := range p.Records {
				for {
					select {
					case a.records <- rec:
						a.maybeResume()
						goto next
					default:
						a.maybePause()
						time.Sleep(5 * time.Millisecond)
					}
				}
			next:
			}
		})
		a.client.AllowRebalance()
	}
}

func (a *Adapter) Close() {
	a.closed.Store(true)
}

func (a *Adapter) runWorker(ctx context.Context) {
	for rec := range a.records {
		a.acks <- recordAck{record: rec, err: a.handleRecord(ctx, rec)}
	}
}

// handleRecord runs one job and produces the reply. A nil error or
// ErrMalformedJob lets the offset commit; anything else holds it back.
func (a *Adapter) handleRecord(ctx context.Context, rec *kgo.Record) error {
	job, err := ingest.ParseJob(rec.Value, string(rec.Key))
	if err != nil {
		metrics.IncIngest("kafka", metrics.OutcomeMalformed)
		a.log.Warn("dropping malformed job", zap.String("source_ref", sourceRef(rec)), zap.Error(err))
		return err
	}
	job.Source = "kafka"
	job.SourceRef = sourceRef(rec)

	out, err := a.proc.Process(ctx, job)
	if err != nil {
		metrics.IncIngest("kafka", metrics.OutcomeFailed)
		a.log.Warn("job failed", zap.String("source_ref", job.SourceRef), zap.Bool("retryable", ingest.IsRetryable(err)), zap.Error(err))
		return err
	}
	if a.cfg.ReplyTopic != "" {
		body, err := ingest.EncodeOutcome(out)
		if err != nil {
			return err
		}
		reply := &kgo.Record{Topic: a.cfg.ReplyTopic, Key: []byte(out.CorrelationID), Value: body}
		if err := a.produce(ctx, reply); err != nil {
			metrics.IncIngest("kafka", metrics.OutcomeFailed)
			a.log.Warn("produce reply", zap.String("run_id", out.RunID), zap.Error(err))
			return err
		}
	}
	metrics.IncIngest("kafka", metrics.OutcomeProcessed)
	return nil
}

func (a *Adapter) handleAcks(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ack := <-a.acks:
			if ack.record == nil {
				continue
			}
			if ack.err != nil && !errors.Is(ack.err, ErrMalformedJob) {
				continue
			}
			a.markCommit(ack.record)
			if err := a.commitMarked(ctx); err != nil && ctx.Err() == nil {
				a.log.Warn("commit offsets", zap.Error(err))
			}
		}
	}
}

func sourceRef(rec *kgo.Record) string {
	return fmt.Sprintf("%s/%d/%d", rec.Topic, rec.Partition, rec.Offset)
}

func (a *Adapter) maybePause() {
	a.pauseMux.Lock()
	defer a.pauseMux.Unlock()
	if a.paused {
		return
	}
	if len(a.records) < cap(a.records) {
		return
	}
	a.pauseFetch(a.cfg.Topics...)
	a.paused = true
}

func (a *Adapter) maybeResume() {
	a.pauseMux.Lock()
	defer a.pauseMux.Unlock()
	if !a.paused {
		return
	}
	if len(a.records) > cap(a.records)/2 {
		return
	}
	a.resumeFetch(a.cfg.Topics...)
	a.paused = false
}
