package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"x12ack/internal/domain"
	"x12ack/internal/ingest"
	"x12ack/internal/logging"
	"x12ack/internal/metrics"
)

type Processor interface {
	Process(context.Context, domain.ComparisonJob) (domain.Outcome, error)
}

type Config struct {
	Enabled         bool
	URL             string
	Endpoints       []string
	Exchange        string
	Queue           string
	RoutingKeys     []string
	ReplyExchange   string
	ReplyRoutingKey string
	ConsumerTag     string
	PrefetchCount   int
	ManualAck       bool
	TLS             ingest.TLSConfig
	Auth            AuthConfig
	Workers         int
	DeliveryQueue   int
	Logger          *zap.Logger
}

type AuthConfig struct {
	Username string
	Password string
}

type publishFunc func(ctx context.Context, exchange, key string, msg amqp091.Publishing) error

type Adapter struct {
	cfg      Config
	log      *zap.Logger
	proc     Processor
	publish  publishFunc
	conn     *amqp091.Connection
	ch       *amqp091.Channel
	deliver  <-chan amqp091.Delivery
	ops      chan deliveryTask
	closed   chan struct{}
	closeErr atomic.Value
	wg       sync.WaitGroup
}

type deliveryTask struct {
	ctx      context.Context
	delivery amqp091.Delivery
}

func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if !c.ManualAck {
		return fmt.Errorf("rabbitmq manual_ack must be true")
	}
	if c.Queue == "" {
		return fmt.Errorf("rabbitmq queue is required")
	}
	if c.Exchange == "" {
		return fmt.Errorf("rabbitmq exchange is required")
	}
	if c.PrefetchCount < 1 {
		return fmt.Errorf("rabbitmq prefetch_count must be >= 1")
	}
	if c.Workers < 1 {
		return fmt.Errorf("rabbitmq workers must be >= 1")
	}
	if c.DeliveryQueue < 1 {
		return fmt.Errorf("rabbitmq delivery_queue must be >= 1")
	}
	if c.endpoint() == "" {
		return fmt.Errorf("rabbitmq url or endpoints is required")
	}
	return nil
}

func (c Config) endpoint() string {
	if strings.TrimSpace(c.URL) != "" {
		return strings.TrimSpace(c.URL)
	}
	for _, e := range c.Endpoints {
		if strings.TrimSpace(e) != "" {
			return strings.TrimSpace(e)
		}
	}
	return ""
}

func NewAdapter(cfg Config, proc Processor) (*Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if proc == nil {
		return nil, fmt.Errorf("processor is required")
	}
	if cfg.ConsumerTag == "" {
		cfg.ConsumerTag = "x12ack-rabbitmq"
	}
	a := &Adapter{cfg: cfg, log: logging.OrNop(cfg.Logger), proc: proc, closed: make(chan struct{}), ops: make(chan deliveryTask, cfg.DeliveryQueue)}
	a.publish = func(ctx context.Context, exchange, key string, msg amqp091.Publishing) error {
		if a.ch == nil {
			return errors.New("rabbitmq channel not open")
		}
		return a.ch.PublishWithContext(ctx, exchange, key, false, false, msg)
	}
	return a, nil
}

func (a *Adapter) Start(ctx context.Context) error {
	dialCfg := amqp091.Config{}
	if a.cfg.Auth.Username != "" {
		dialCfg.SASL = []amqp091.Authentication{&amqp091.PlainAuth{Username: a.cfg.Auth.Username, Password: a.cfg.Auth.Password}}
	}
	if tlsCfg, err := a.cfg.TLS.Build(); err != nil {
		return fmt.Errorf("rabbitmq tls: %w", err)
	} else if tlsCfg != nil {
		dialCfg.TLSClientConfig = tlsCfg
	}
	conn, err := amqp091.DialConfig(a.cfg.endpoint(), dialCfg)
	if err != nil {
		return fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open rabbitmq channel: %w", err)
	}
	if err := ch.Qos(a.cfg.PrefetchCount, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("set prefetch: %w", err)
	}
	if err := ch.ExchangeDeclare(a.cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("declare exchange: %w", err)
	}
	if _, err := ch.QueueDeclare(a.cfg.Queue, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("declare queue: %w", err)
	}
	routingKeys := a.cfg.RoutingKeys
	if len(routingKeys) == 0 {
		routingKeys = []string{"#"}
	}
	for _, key := range routingKeys {
		if err := ch.QueueBind(a.cfg.Queue, key, a.cfg.Exchange, false, nil); err != nil {
			ch.Close()
			conn.Close()
			return fmt.Errorf("bind queue key=%s: %w", key, err)
		}
	}
	deliveries, err := ch.Consume(a.cfg.Queue, a.cfg.ConsumerTag, false, false, false, false, nil)
	if err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("consume queue: %w", err)
	}
	a.conn, a.ch, a.deliver = conn, ch, deliveries
	a.log.Info("rabbitmq consuming", zap.String("queue", a.cfg.Queue), zap.String("exchange", a.cfg.Exchange), zap.Strings("routing_keys", routingKeys))

	a.wg.Add(1)
	go a.readLoop(ctx)
	for i := 0; i < a.cfg.Workers; i++ {
		a.wg.Add(1)
		go a.workerLoop(ctx)
	}
	return nil
}

func (a *Adapter) Close() error {
	select {
	case <-a.closed:
		if v := a.closeErr.Load(); v != nil {
			return v.(error)
		}
		return nil
	default:
		close(a.closed)
	}
	if a.ch != nil {
		_ = a.ch.Cancel(a.cfg.ConsumerTag, false)
	}
	a.wg.Wait()
	var errs []error
	if a.ch != nil {
		if err := a.ch.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.conn != nil {
		if err := a.conn.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	err := errors.Join(errs...)
	a.closeErr.Store(err)
	return err
}

func (a *Adapter) readLoop(ctx context.Context) {
	defer a.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.closed:
			return
		case d, ok := <-a.deliver:
			if !ok {
				return
			}
			task := deliveryTask{ctx: ctx, delivery: d}
			select {
			case a.ops <- task:
			case <-ctx.Done():
				return
			case <-a.closed:
				return
			}
		}
	}
}

func (a *Adapter) workerLoop(ctx context.Context) {
	defer a.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.closed:
			return
		case task := <-a.ops:
			a.processDelivery(task.ctx, task.delivery)
		}
	}
}

// processDelivery acks processed jobs, requeues temporary failures and
// drops everything else.
func (a *Adapter) processDelivery(ctx context.Context, d amqp091.Delivery) {
	job, err := a.parseDelivery(d)
	if err != nil {
		metrics.IncIngest("rabbitmq", metrics.OutcomeMalformed)
		a.log.Warn("dropping malformed job", zap.Uint64("delivery_tag", d.DeliveryTag), zap.Error(err))
		_ = d.Nack(false, false)
		return
	}
	out, err := a.proc.Process(ctx, job)
	if err != nil {
		if ingest.IsRetryable(err) {
			metrics.IncIngest("rabbitmq", metrics.OutcomeFailed)
			a.log.Warn("requeueing job", zap.String("source_ref", job.SourceRef), zap.Error(err))
			_ = d.Nack(false, true)
			return
		}
		metrics.IncIngest("rabbitmq", metrics.OutcomeFailed)
		a.log.Warn("dropping job", zap.String("source_ref", job.SourceRef), zap.Error(err))
		_ = d.Nack(false, false)
		return
	}
	if err := a.reply(ctx, d, out); err != nil {
		metrics.IncIngest("rabbitmq", metrics.OutcomeFailed)
		a.log.Warn("publish reply", zap.String("run_id", out.RunID), zap.Error(err))
		_ = d.Nack(false, true)
		return
	}
	metrics.IncIngest("rabbitmq", metrics.OutcomeProcessed)
	_ = d.Ack(false)
}

// reply publishes to the delivery's ReplyTo queue, else to the configured
// reply routing key. Neither set means no reply.
func (a *Adapter) reply(ctx context.Context, d amqp091.Delivery, out domain.Outcome) error {
	exchange, key := a.cfg.ReplyExchange, a.cfg.ReplyRoutingKey
	if d.ReplyTo != "" {
		exchange, key = "", d.ReplyTo
	}
	if key == "" {
		return nil
	}
	body, err := ingest.EncodeOutcome(out)
	if err != nil {
		return err
	}
	correlationID := d.CorrelationId
	if correlationID == "" {
		correlationID = out.CorrelationID
	}
	return a.publish(ctx, exchange, key, amqp091.Publishing{
		ContentType:   "application/json",
		CorrelationId: correlationID,
		MessageId:     out.RunID,
		Timestamp:     out.CreatedAtUTC,
		Body:          body,
	})
}

func (a *Adapter) parseDelivery(d amqp091.Delivery) (domain.ComparisonJob, error) {
	fallback := d.CorrelationId
	if fallback == "" {
		fallback = d.MessageId
	}
	if fallback == "" {
		fallback = headerString(d.Headers, "correlation_id")
	}
	job, err := ingest.ParseJob(d.Body, fallback)
	if err != nil {
		return domain.ComparisonJob{}, err
	}
	job.Source = "rabbitmq"
	job.SourceRef = fmt.Sprintf("%s/%s/%d", d.Exchange, d.RoutingKey, d.DeliveryTag)
	return job, nil
}

func headerString(table amqp091.Table, key string) string {
	if table == nil {
		return ""
	}
	v, ok := table[key]
	if !ok {
		return ""
	}
	return fmt.Sprint(v)
}
