package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/josephwmusso/IntraNest/internal/core/domain"
	"github.com/josephwmusso/IntraNest/internal/core/ports"
	"github.com/josephwmusso/IntraNest/internal/infrastructure/queue/memory"
	"github.com/josephwmusso/IntraNest/internal/infrastructure/resilience"
)

var (
	_ ports.JobQueue    = (*Queue)(nil)
	_ ports.JobConsumer = (*Queue)(nil)
)

const workerGroup = "ingest-workers"

// Queue hands jobs from the API to worker processes with a request/accept exchange:
// the worker replies only after its local bounded buffer took the job, so a full
// worker surfaces as domain.ErrOverloaded instead of a silently dropped message.
type Queue struct {
	conn           *nats.Conn
	subject        string
	requestTimeout time.Duration
	executor       *resilience.Executor
	local          memory.Options
	logger         *slog.Logger
}

type Options struct {
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	RequestTimeout       time.Duration
	ResilienceExecutor   *resilience.Executor
	// Local configures the worker-side buffer and pool used by Consume.
	Local  memory.Options
	Logger *slog.Logger
}

func New(url, subject string) (*Queue, error) {
	return NewWithOptions(url, subject, Options{})
}

func NewWithOptions(url, subject string, options Options) (*Queue, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}
	requestTimeout := options.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = 3 * time.Second
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if options.Local.Logger == nil {
		options.Local.Logger = logger
	}

	conn, err := nats.Connect(
		url,
		nats.Name("intranest-ingest"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Queue{
		conn:           conn,
		subject:        subject,
		requestTimeout: requestTimeout,
		executor:       options.ResilienceExecutor,
		local:          options.Local,
		logger:         logger,
	}, nil
}

func (q *Queue) Close() {
	if q.conn != nil {
		q.conn.Close()
	}
}

func (q *Queue) Ping() error {
	if q.conn == nil || !q.conn.IsConnected() {
		return domain.WrapError(domain.ErrTemporary, "nats ping", nats.ErrConnectionClosed)
	}
	return nil
}

func (q *Queue) Enqueue(ctx context.Context, job domain.ProcessingJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	var reply acceptReply
	call := func(callCtx context.Context) error {
		reqCtx, cancel := context.WithTimeout(callCtx, q.requestTimeout)
		defer cancel()
		msg, err := q.conn.RequestWithContext(reqCtx, q.subject, payload)
		if err != nil {
			return fmt.Errorf("nats request: %w", err)
		}
		if err := json.Unmarshal(msg.Data, &reply); err != nil {
			return fmt.Errorf("decode worker reply: %w", err)
		}
		return nil
	}

	if q.executor != nil {
		err = q.executor.Execute(ctx, "nats.request", call, classifyNATSError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return wrapTemporaryIfNeeded(err)
	}
	return reply.err(job.DocumentID)
}

// Consume buffers accepted jobs locally and processes them with the local worker pool.
// Once ctx ends new requests are refused and already accepted jobs drain through the
// local buffer before the subscription is closed.
func (q *Queue) Consume(ctx context.Context, handler func(context.Context, domain.ProcessingJob) error) error {
	local := memory.New(q.local)

	sub, err := q.conn.QueueSubscribe(q.subject, workerGroup, func(msg *nats.Msg) {
		reply := acceptJob(ctx, local, msg.Data)
		if reply.Reason != "" {
			q.logger.Warn("job_rejected", "reason", reply.Reason, "error", reply.Error)
		}
		data, _ := json.Marshal(reply)
		if err := msg.Respond(data); err != nil {
			q.logger.Error("job_reply_failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}
	if err := q.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	consumeErr := local.Consume(ctx, handler)

	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := q.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return consumeErr
}

const (
	reasonOverloaded = "overloaded"
	reasonInvalid    = "invalid"
	reasonStopping   = "stopping"
)

type acceptReply struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
	Error    string `json:"error,omitempty"`
}

func acceptJob(ctx context.Context, local ports.JobQueue, data []byte) acceptReply {
	if ctx.Err() != nil {
		return acceptReply{Reason: reasonStopping}
	}
	var job domain.ProcessingJob
	if err := json.Unmarshal(data, &job); err != nil || job.DocumentID == "" {
		return acceptReply{Reason: reasonInvalid, Error: "malformed job payload"}
	}
	if err := local.Enqueue(ctx, job); err != nil {
		if domain.IsKind(err, domain.ErrOverloaded) {
			return acceptReply{Reason: reasonOverloaded, Error: err.Error()}
		}
		return acceptReply{Reason: reasonStopping, Error: err.Error()}
	}
	return acceptReply{Accepted: true}
}

func (r acceptReply) err(documentID string) error {
	if r.Accepted {
		return nil
	}
	cause := fmt.Errorf("worker rejected job %s (%s): %s", documentID, r.Reason, r.Error)
	switch r.Reason {
	case reasonOverloaded:
		return domain.WrapError(domain.ErrOverloaded, "nats enqueue", cause)
	case reasonInvalid:
		return domain.WrapError(domain.ErrInvalidInput, "nats enqueue", cause)
	default:
		return domain.WrapError(domain.ErrTemporary, "nats enqueue", cause)
	}
}
