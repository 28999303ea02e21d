package auth

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"gatehouse/internal/config"
)

// Recorder appends audit events off the request path. Record never blocks
// and never returns an error: a logging outage must not veto or delay a
// security decision. Events are retried on store failure and the queue is
// drained on shutdown.
type Recorder struct {
	store   AuditStore
	log     *zap.Logger
	metrics *Metrics

	retryInterval time.Duration
	maxRetries    int

	events chan *AuditEvent
	done   chan struct{}
	wg     sync.WaitGroup

	closeOnce sync.Once
}

func NewRecorder(cfg *config.AuditConfig, log *zap.Logger, store AuditStore, metrics *Metrics) *Recorder {
	buffer := cfg.BufferSize
	if buffer <= 0 {
		buffer = 256
	}
	retry := cfg.RetryInterval
	if retry <= 0 {
		retry = time.Second
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	r := &Recorder{
		store:         store,
		log:           log,
		metrics:       metrics,
		retryInterval: retry,
		maxRetries:    maxRetries,
		events:        make(chan *AuditEvent, buffer),
		done:          make(chan struct{}),
	}

	r.wg.Add(1)
	go r.worker()

	return r
}

// Record enqueues one event. Each event carries its own id, so a retried
// append stays deduplicatable downstream. If the buffer is full the event is
// dropped, counted, and logged.
func (r *Recorder) Record(event *AuditEvent) {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	select {
	case r.events <- event:
	default:
		r.metrics.AuditDropped.Inc()
		r.log.Error("audit buffer full, event dropped",
			zap.String("action", string(event.Action)),
			zap.String("status", string(event.Status)))
	}
}

// Close stops the worker after draining queued events.
func (r *Recorder) Close() {
	r.closeOnce.Do(func() {
		close(r.done)
		r.wg.Wait()
	})
}

func (r *Recorder) worker() {
	defer r.wg.Done()

	for {
		select {
		case event := <-r.events:
			r.append(event)
		case <-r.done:
			for {
				select {
				case event := <-r.events:
					r.append(event)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) append(event *AuditEvent) {
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := r.store.Append(ctx, event)
		cancel()
		if err == nil {
			return
		}
		r.log.Warn("audit append failed",
			zap.Int("attempt", attempt+1),
			zap.Error(err))
		if attempt < r.maxRetries {
			time.Sleep(r.retryInterval)
		}
	}

	r.metrics.AuditDropped.Inc()
	r.log.Error("audit event lost after retries",
		zap.String("event_id", event.ID.String()),
		zap.String("action", string(event.Action)))
}

// Event is a convenience constructor for the orchestrator's per-branch
// audit calls.
func Event(accountID *uuid.UUID, action AuditAction, status AuditStatus, ip, userAgent, errMsg string) *AuditEvent {
	return &AuditEvent{
		ID:           uuid.New(),
		AccountID:    accountID,
		Action:       action,
		Resource:     "auth",
		Status:       status,
		ErrorMessage: errMsg,
		IP:           ip,
		UserAgent:    userAgent,
		Metadata:     datatypes.JSONMap{},
		CreatedAt:    time.Now(),
	}
}
