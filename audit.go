package agbac

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// AuditEvent is the immutable record of one evaluation. Exactly one event is
// produced per terminal state; it is never mutated after emission and
// ownership transfers to the sink on delivery.
type AuditEvent struct {
	ID             string            `json:"id"`
	Timestamp      time.Time         `json:"timestamp"`
	AgentIdentity  string            `json:"agent_identity"`
	HumanIdentity  string            `json:"human_identity,omitempty"`
	Action         string            `json:"action"`
	Resource       string            `json:"resource"`
	DelegationType string            `json:"delegation_type,omitempty"`
	Decision       Decision          `json:"decision"`
	ReasonCode     ReasonCode        `json:"reason_code"`
	CorrelationID  string            `json:"correlation_id"`
	// IntentSummary is free-form issuer text. Populated only when verbose
	// capture is explicitly enabled; redacted by default.
	IntentSummary string            `json:"intent_summary,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// Sink receives audit events. Delivery is at-least-once from the PEP side;
// sinks deduplicate downstream by correlation ID if needed.
type Sink interface {
	Emit(ctx context.Context, event AuditEvent) error
}

// WriterSink writes audit events as JSON lines to an io.Writer. It is the
// default sink (stdout) and suits log-shipper pipelines.
type WriterSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterSink creates a WriterSink. A nil writer falls back to stdout.
func NewWriterSink(w io.Writer) *WriterSink {
	if w == nil {
		w = os.Stdout
	}
	return &WriterSink{w: w}
}

// Emit implements Sink.
func (s *WriterSink) Emit(_ context.Context, event AuditEvent) error {
	line, err := json.Marshal(event)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.w.Write(append(line, '\n'))
	return err
}

const meterName = "github.com/agbac-io/agbac-go"

// emitter buffers audit events and delivers them to the sink off the
// request path. The verdict is never blocked on sink latency, but an event
// dropped after retry exhaustion is counted and logged, never silent.
type emitter struct {
	sink    Sink
	logger  *slog.Logger
	verbose bool

	maxRetries   int
	baseInterval time.Duration
	maxInterval  time.Duration

	queue   chan AuditEvent
	mu      sync.Mutex
	closed  bool
	stopped chan struct{}

	delivered metric.Int64Counter
	dropped   metric.Int64Counter
}

func newEmitter(sink Sink, cfg AuditConfig, logger *slog.Logger) *emitter {
	meter := otel.Meter(meterName)
	delivered, _ := meter.Int64Counter("agbac.audit.delivered",
		metric.WithDescription("Audit events delivered to the sink"),
		metric.WithUnit("{event}"))
	dropped, _ := meter.Int64Counter("agbac.audit.dropped",
		metric.WithDescription("Audit events dropped after retry exhaustion or queue overflow"),
		metric.WithUnit("{event}"))

	e := &emitter{
		sink:         sink,
		logger:       logger,
		verbose:      cfg.Verbose,
		maxRetries:   cfg.MaxRetries,
		baseInterval: 100 * time.Millisecond,
		maxInterval:  5 * time.Second,
		queue:        make(chan AuditEvent, cfg.Buffer),
		stopped:      make(chan struct{}),
		delivered:    delivered,
		dropped:      dropped,
	}
	go e.deliverLoop()
	return e
}

// record finalizes and enqueues an event. The evaluation is complete once
// the event is handed over here; delivery happens asynchronously.
func (e *emitter) record(event AuditEvent) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if !e.verbose {
		event.IntentSummary = ""
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		e.drop(event, "emitter closed")
		return
	}
	select {
	case e.queue <- event:
	default:
		e.drop(event, "queue full")
	}
}

func (e *emitter) drop(event AuditEvent, cause string) {
	e.dropped.Add(context.Background(), 1)
	e.logger.Warn("audit event dropped",
		"cause", cause,
		"correlation_id", event.CorrelationID,
		"decision", event.Decision,
		"reason_code", event.ReasonCode,
	)
}

func (e *emitter) deliverLoop() {
	defer close(e.stopped)
	for event := range e.queue {
		e.deliver(event)
	}
}

func (e *emitter) deliver(event AuditEvent) {
	err := retryWithBackoff(context.Background(), func(ctx context.Context) error {
		return e.sink.Emit(ctx, event)
	}, e.baseInterval, e.maxInterval, e.maxRetries)
	if err != nil {
		e.drop(event, "sink unavailable after retries")
		return
	}
	e.delivered.Add(context.Background(), 1)
}

// close stops intake and waits for the queue to drain, up to the deadline
// carried by ctx.
func (e *emitter) close(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	close(e.queue)
	e.mu.Unlock()

	select {
	case <-e.stopped:
		return nil
	case <-ctx.Done():
		return errorf("audit drain interrupted: %w", ctx.Err())
	}
}
