package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/mlejeune/papierflow/internal/core/domain"
	"github.com/mlejeune/papierflow/internal/infrastructure/resilience"
)

// Queue carries batch submissions from the api to the worker (queue-group
// subscription), control commands (request/reply), and lifecycle events
// (fire-and-forget publish).
type Queue struct {
	conn           *nats.Conn
	submitSubject  string
	controlSubject string
	eventsSubject  string
	executor       *resilience.Executor
	controlTimeout time.Duration
	lagObserver    func(time.Duration)
}

type Options struct {
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	ControlTimeout       time.Duration
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
	// LagObserver, when set, receives the time each submission spent on the
	// queue before a worker picked it up.
	LagObserver func(time.Duration)
}

func New(url, submitSubject, controlSubject, eventsSubject string) (*Queue, error) {
	return NewWithOptions(url, submitSubject, controlSubject, eventsSubject, Options{})
}

func NewWithOptions(url, submitSubject, controlSubject, eventsSubject string, options Options) (*Queue, error) {
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
	controlTimeout := options.ControlTimeout
	if controlTimeout <= 0 {
		controlTimeout = 5 * time.Second
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}

	conn, err := nats.Connect(
		url,
		nats.Name("papierflow"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Queue{
		conn:           conn,
		submitSubject:  submitSubject,
		controlSubject: controlSubject,
		eventsSubject:  eventsSubject,
		executor:       options.ResilienceExecutor,
		controlTimeout: controlTimeout,
		lagObserver:    options.LagObserver,
	}, nil
}

// submitMessage is the payload on the submit subject. EnqueuedAt lets the
// consumer measure how long the submission sat on the queue.
type submitMessage struct {
	BatchID    string    `json:"batch_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

func encodeSubmitMessage(batchID string, enqueuedAt time.Time) ([]byte, error) {
	payload, err := json.Marshal(submitMessage{BatchID: batchID, EnqueuedAt: enqueuedAt})
	if err != nil {
		return nil, fmt.Errorf("marshal submit message: %w", err)
	}
	return payload, nil
}

// decodeSubmitMessage accepts both the JSON payload and a bare batch id, so
// messages published by an older api survive a rolling deploy.
func decodeSubmitMessage(data []byte) submitMessage {
	var msg submitMessage
	if err := json.Unmarshal(data, &msg); err == nil && msg.BatchID != "" {
		return msg
	}
	return submitMessage{BatchID: string(data)}
}

func (q *Queue) Close() {
	if q.conn != nil {
		q.conn.Close()
	}
}

func (q *Queue) PublishBatchSubmitted(ctx context.Context, batchID string) error {
	payload, err := encodeSubmitMessage(batchID, time.Now().UTC())
	if err != nil {
		return err
	}

	call := func(_ context.Context) error {
		if err := q.conn.Publish(q.submitSubject, payload); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}

	if q.executor != nil {
		err = q.executor.Execute(ctx, "nats.publish_submit", call, classifyNATSError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return wrapTemporaryIfNeeded("publish batch submitted", err)
	}
	return nil
}

// SubscribeBatchSubmitted consumes batch submissions in the "workers"
// queue group and blocks until ctx is cancelled, then drains.
func (q *Queue) SubscribeBatchSubmitted(ctx context.Context, handler func(context.Context, string) error) error {
	sub, err := q.conn.QueueSubscribe(q.submitSubject, "workers", func(msg *nats.Msg) {
		if errors.Is(ctx.Err(), context.Canceled) {
			return
		}

		submit := decodeSubmitMessage(msg.Data)
		if q.lagObserver != nil && !submit.EnqueuedAt.IsZero() {
			q.lagObserver(time.Since(submit.EnqueuedAt))
		}

		handlerCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		if err := handler(handlerCtx, submit.BatchID); err != nil {
			slog.Error("batch_handler_error", "batch_id", submit.BatchID, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}

	if err := q.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := q.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}

// RequestControl sends a pause/resume/rollback command and waits for the
// owning worker's reply.
func (q *Queue) RequestControl(ctx context.Context, cmd domain.ControlCommand) (domain.ControlReply, error) {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return domain.ControlReply{}, fmt.Errorf("marshal control command: %w", err)
	}

	requestCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		requestCtx, cancel = context.WithTimeout(ctx, q.controlTimeout)
		defer cancel()
	}

	msg, err := q.conn.RequestWithContext(requestCtx, q.controlSubject, payload)
	if err != nil {
		return domain.ControlReply{}, wrapTemporaryIfNeeded("request batch control", fmt.Errorf("nats request: %w", err))
	}

	var reply domain.ControlReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return domain.ControlReply{}, fmt.Errorf("unmarshal control reply: %w", err)
	}
	return reply, nil
}

// SubscribeControl answers control requests until ctx is cancelled.
func (q *Queue) SubscribeControl(ctx context.Context, handler func(context.Context, domain.ControlCommand) domain.ControlReply) error {
	sub, err := q.conn.Subscribe(q.controlSubject, func(msg *nats.Msg) {
		if errors.Is(ctx.Err(), context.Canceled) {
			return
		}

		var cmd domain.ControlCommand
		reply := domain.ControlReply{}
		if err := json.Unmarshal(msg.Data, &cmd); err != nil {
			reply.Error = fmt.Sprintf("unmarshal control command: %v", err)
		} else {
			handlerCtx, cancel := context.WithCancel(ctx)
			reply = handler(handlerCtx, cmd)
			cancel()
		}

		payload, err := json.Marshal(reply)
		if err != nil {
			slog.Error("control_reply_marshal_error", "error", err)
			return
		}
		if err := msg.Respond(payload); err != nil {
			slog.Error("control_reply_error", "batch_id", cmd.BatchID, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("nats subscribe control: %w", err)
	}

	if err := q.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain control subscription: %w", err)
	}
	return nil
}

// PublishBatchEvent is best-effort: dashboards tolerate gaps, so publish
// errors are logged by callers rather than failing the pipeline.
func (q *Queue) PublishBatchEvent(ctx context.Context, event domain.BatchEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal batch event: %w", err)
	}

	call := func(_ context.Context) error {
		if err := q.conn.Publish(q.eventsSubject, payload); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}

	if q.executor != nil {
		err = q.executor.Execute(ctx, "nats.publish_event", call, classifyNATSError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return wrapTemporaryIfNeeded("publish batch event", err)
	}
	return nil
}
