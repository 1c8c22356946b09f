package socket

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"x12ack/internal/domain"
	"x12ack/internal/engine"
	"x12ack/internal/hashroute"
	"x12ack/internal/logging"
	"x12ack/internal/metrics"
)

// Processor is the validation service behind the socket.
type Processor interface {
	Process(context.Context, domain.ComparisonJob) (domain.Outcome, error)
	GetRun(context.Context, string) (domain.Outcome, bool, error)
	Health(context.Context) (bool, string)
}

// MaxFrameBytes bounds request frames; see FrameLimit.
type Config struct {
	Network, Address, UnixSocketPath, AuthToken  string
	MaxInflight, GlobalQueueLimit, MaxFrameBytes int
	TLSConfig                                    *tls.Config
	Logger                                       *zap.Logger
}

type Server struct {
	cfg     Config
	proc    Processor
	log     *zap.Logger
	ln      net.Listener
	addr    atomic.Value
	globalQ chan struct{}
	shardQ  []chan queuedRequest
	closed  atomic.Bool
	mu      sync.RWMutex
	conns   map[net.Conn]struct{}
	wg      sync.WaitGroup
}

type queuedRequest struct {
	ctx     context.Context
	req     *SocketRequest
	conn    *connection
	release func()
}
type connection struct {
	c        net.Conn
	writerQ  chan *SocketResponse
	inflight chan struct{}
}

func NewServer(cfg Config, proc Processor) *Server {
	if cfg.MaxInflight <= 0 {
		cfg.MaxInflight = 64
	}
	if cfg.GlobalQueueLimit <= 0 {
		cfg.GlobalQueueLimit = 4096
	}
	if cfg.Network == "" {
		cfg.Network = "tcp"
	}
	if cfg.MaxFrameBytes <= 0 {
		cfg.MaxFrameBytes = FrameLimit(DefaultMaxDocumentBytes)
	}
	s := &Server{cfg: cfg, proc: proc, log: logging.OrNop(cfg.Logger), globalQ: make(chan struct{}, cfg.GlobalQueueLimit), shardQ: make([]chan queuedRequest, hashroute.ShardCount), conns: map[net.Conn]struct{}{}}
	for i := range s.shardQ {
		s.shardQ[i] = make(chan queuedRequest, 128)
	}
	return s
}

func (s *Server) Addr() string {
	if v := s.addr.Load(); v != nil {
		return v.(string)
	}
	return ""
}

func (s *Server) Start(ctx context.Context) error {
	addr := s.cfg.Address
	if s.cfg.Network == "unix" {
		addr = s.cfg.UnixSocketPath
	}
	ln, err := net.Listen(s.cfg.Network, addr)
	if err != nil {
		return err
	}
	if s.cfg.TLSConfig != nil {
		ln = tls.NewListener(ln, s.cfg.TLSConfig)
	}
	s.ln = ln
	s.addr.Store(ln.Addr().String())
	s.log.Info("socket listening", zap.String("network", s.cfg.Network), zap.String("address", ln.Addr().String()))

	for i := range s.shardQ {
		s.wg.Add(1)
		go s.runShardWorker(s.shardQ[i])
	}
	go func() { <-ctx.Done(); _ = s.Close() }()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.closed.Load() {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return err
		}
		s.handleConn(ctx, conn)
	}
}

func (s *Server) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if s.ln != nil {
		_ = s.ln.Close()
	}
	s.mu.Lock()
	for c := range s.conns {
		_ = c.Close()
	}
	for _, q := range s.shardQ {
		close(q)
	}
	s.mu.Unlock()
	s.wg.Wait()
	return nil
}

func (s *Server) handleConn(ctx context.Context, raw net.Conn) {
	s.mu.Lock()
	if s.closed.Load() {
		s.mu.Unlock()
		_ = raw.Close()
		return
	}
	s.conns[raw] = struct{}{}
	s.wg.Add(2)
	s.mu.Unlock()
	conn := &connection{c: raw, writerQ: make(chan *SocketResponse, 256), inflight: make(chan struct{}, s.cfg.MaxInflight)}
	go func() { defer s.wg.Done(); s.writeLoop(conn) }()
	go func() {
		defer s.wg.Done()
		defer s.forget(raw)
		defer close(conn.writerQ)
		s.readLoop(ctx, conn)
	}()
}

func (s *Server) forget(c net.Conn) {
	_ = c.Close()
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

func (s *Server) writeLoop(conn *connection) {
	w := bufio.NewWriter(conn.c)
	for res := range conn.writerQ {
		payload, err := MarshalMessage(res)
		if err != nil {
			s.log.Warn("marshal response", zap.Error(err))
			continue
		}
		err = WriteFrame(w, payload, 0)
		if errors.Is(err, ErrFrameTooLarge) {
			s.log.Warn("response too large", zap.String("request_id", res.RequestId), zap.Int("bytes", len(payload)))
			payload, _ = MarshalMessage(&SocketResponse{RequestId: res.RequestId, ErrorCode: int32(ErrorCodeInternal), ErrorMessage: err.Error()})
			err = WriteFrame(w, payload, 0)
		}
		if err != nil {
			return
		}
		if err := w.Flush(); err != nil {
			return
		}
	}
}

func (s *Server) readLoop(ctx context.Context, conn *connection) {
	r := bufio.NewReader(conn.c)
	var pending sync.WaitGroup
	// writerQ is closed by the caller after readLoop returns; queued work must finish first.
	defer pending.Wait()
	for {
		payload, err := ReadFrame(r, s.cfg.MaxFrameBytes)
		if Recoverable(err) {
			metrics.IncIngest("socket", metrics.OutcomeMalformed)
			s.send(conn, &SocketResponse{ErrorCode: int32(ErrorCodeBadRequest), ErrorMessage: err.Error()})
			continue
		}
		if err != nil {
			return
		}
		req, err := UnmarshalRequest(payload)
		if err != nil {
			metrics.IncIngest("socket", metrics.OutcomeMalformed)
			s.send(conn, &SocketResponse{ErrorCode: int32(ErrorCodeBadRequest), ErrorMessage: err.Error()})
			continue
		}
		if err := ValidateRequest(req); err != nil {
			metrics.IncIngest("socket", metrics.OutcomeMalformed)
			s.send(conn, &SocketResponse{RequestId: req.RequestId, ErrorCode: int32(ErrorCodeBadRequest), ErrorMessage: err.Error()})
			continue
		}
		if s.cfg.AuthToken != "" && req.AuthToken != s.cfg.AuthToken {
			s.send(conn, &SocketResponse{RequestId: req.RequestId, ErrorCode: int32(ErrorCodeUnauthenticated), ErrorMessage: "invalid auth token"})
			continue
		}

		select {
		case conn.inflight <- struct{}{}:
		default:
			metrics.IncIngest("socket", metrics.OutcomeRejected)
			s.send(conn, &SocketResponse{RequestId: req.RequestId, ErrorCode: int32(ErrorCodeOverloaded), ErrorMessage: "connection inflight limit exceeded"})
			continue
		}
		releaseInflight := func() { <-conn.inflight }
		select {
		case s.globalQ <- struct{}{}:
		default:
			releaseInflight()
			metrics.IncIngest("socket", metrics.OutcomeRejected)
			s.send(conn, &SocketResponse{RequestId: req.RequestId, ErrorCode: int32(ErrorCodeOverloaded), ErrorMessage: "adapter queue overloaded"})
			continue
		}

		pending.Add(1)
		qr := queuedRequest{ctx: ctx, req: req, conn: conn, release: func() { <-s.globalQ; releaseInflight(); pending.Done() }}
		if !s.enqueue(qr) {
			qr.release()
			if s.closed.Load() {
				return
			}
			metrics.IncIngest("socket", metrics.OutcomeRejected)
			s.send(conn, &SocketResponse{RequestId: req.RequestId, ErrorCode: int32(ErrorCodeOverloaded), ErrorMessage: "shard queue overloaded"})
		}
	}
}

func (s *Server) enqueue(qr queuedRequest) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed.Load() {
		return false
	}
	select {
	case s.shardQ[shardFor(qr.req)] <- qr:
		return true
	default:
		return false
	}
}

func (s *Server) runShardWorker(q chan queuedRequest) {
	defer s.wg.Done()
	for req := range q {
		res := s.handleRequest(req.ctx, req.req, req.conn)
		s.send(req.conn, res)
		req.release()
	}
}

func (s *Server) send(conn *connection, res *SocketResponse) {
	select {
	case conn.writerQ <- res:
	default:
	}
}

// shardFor keeps requests for one correlation id on one worker.
func shardFor(req *SocketRequest) int {
	switch {
	case req.Validate != nil && req.Validate.CorrelationId != "":
		return hashroute.ShardFor(req.Validate.CorrelationId)
	case req.GetRun != nil:
		return hashroute.ShardFor(req.GetRun.RunId)
	case req.Validate != nil:
		return hashroute.ShardFor(req.RequestId)
	}
	return 0
}

func (s *Server) handleRequest(ctx context.Context, req *SocketRequest, conn *connection) *SocketResponse {
	res := &SocketResponse{RequestId: req.RequestId, ErrorCode: int32(ErrorCodeOK)}
	switch Operation(req.Operation) {
	case OperationPing:
		res.Pong = &PongResponse{UnixTimeNs: time.Now().UTC().UnixNano()}
	case OperationHealth:
		ok, msg := s.proc.Health(ctx)
		res.Health = &HealthResponse{Ok: ok, Message: msg}
	case OperationValidate:
		return s.handleValidate(ctx, req, res, conn.c.RemoteAddr().String())
	case OperationGetRun:
		if req.GetRun == nil || req.GetRun.RunId == "" {
			return badReq(req, "get_run run_id required")
		}
		out, found, err := s.proc.GetRun(ctx, req.GetRun.RunId)
		if errors.Is(err, engine.ErrArchiveDisabled) {
			return errResponse(req, ErrorCodeUnavailable, err.Error())
		}
		if err != nil {
			return errResponse(req, ErrorCodeInternal, err.Error())
		}
		res.Run = &RunResponse{Found: found}
		if found {
			res.Run.Run = ToValidationResponse(out, true)
		}
	default:
		return badReq(req, "unknown operation")
	}
	return res
}

func (s *Server) handleValidate(ctx context.Context, req *SocketRequest, res *SocketResponse, peer string) *SocketResponse {
	if req.Validate == nil {
		return badReq(req, "validate request required")
	}
	out, err := s.proc.Process(ctx, toJob(req.Validate, peer))
	if err != nil {
		metrics.IncIngest("socket", metrics.OutcomeFailed)
		s.log.Warn("validate failed", zap.String("request_id", req.RequestId), zap.Error(err))
		return errResponse(req, ErrorCodeInternal, err.Error())
	}
	metrics.IncIngest("socket", metrics.OutcomeProcessed)
	res.Validation = ToValidationResponse(out, req.Validate.IncludeReport)
	return res
}

func badReq(req *SocketRequest, msg string) *SocketResponse {
	return errResponse(req, ErrorCodeBadRequest, msg)
}

func errResponse(req *SocketRequest, code ErrorCode, msg string) *SocketResponse {
	return &SocketResponse{RequestId: req.RequestId, ErrorCode: int32(code), ErrorMessage: msg}
}

func DialAndRequest(ctx context.Context, network, address string, req *SocketRequest) (*SocketResponse, error) {
	conn, err := (&net.Dialer{}).DialContext(ctx, network, address)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	payload, err := MarshalMessage(req)
	if err != nil {
		return nil, err
	}
	if err := WriteFrame(conn, payload, 0); err != nil {
		return nil, err
	}
	frame, err := ReadFrame(bufio.NewReader(conn), 0)
	if err != nil {
		return nil, err
	}
	return UnmarshalResponse(frame)
}

func Retryable(code int32) bool              { return ErrorCode(code) == ErrorCodeOverloaded }
func Error(code ErrorCode, msg string) error { return fmt.Errorf("%d:%s", code, msg) }
