package jobs

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/goliatone/go-appstore-connect/core"
	glog "github.com/goliatone/go-logger/glog"
)

const (
	defaultWorkerAttempts   = 3
	defaultWorkerRetryDelay = 250 * time.Millisecond
)

// Handler executes one maintenance job.
type Handler func(ctx context.Context, msg *core.JobExecutionMessage) error

type WorkerConfig struct {
	// MaxAttempts bounds in-process retries per delivery.
	MaxAttempts int
	// RetryDelay is the pause between attempts and after dequeue failures.
	RetryDelay time.Duration
}

// Worker drains the maintenance queue and runs the registered handler for
// each job id. Failed handlers retry in process up to MaxAttempts; exhausted
// deliveries are nacked to the dead letter list.
type Worker struct {
	dequeuer    core.JobDequeuer
	handlers    map[string]Handler
	hook        core.JobWorkerHook
	logger      core.Logger
	maxAttempts int
	retryDelay  time.Duration
}

func NewWorker(dequeuer core.JobDequeuer, cfg WorkerConfig, logger core.Logger) *Worker {
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultWorkerAttempts
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = defaultWorkerRetryDelay
	}
	return &Worker{
		dequeuer:    dequeuer,
		handlers:    map[string]Handler{},
		logger:      glog.Ensure(logger),
		maxAttempts: maxAttempts,
		retryDelay:  retryDelay,
	}
}

// Register maps a job id to its handler. The last registration wins.
func (w *Worker) Register(jobID string, handler Handler) *Worker {
	if w == nil {
		return nil
	}
	jobID = strings.TrimSpace(jobID)
	if jobID == "" || handler == nil {
		return w
	}
	w.handlers[jobID] = handler
	return w
}

// WithHook installs the lifecycle hook notified around each delivery.
func (w *Worker) WithHook(hook core.JobWorkerHook) *Worker {
	if w == nil {
		return nil
	}
	w.hook = hook
	return w
}

// Run drains the queue until the context ends. A context cancellation is a
// clean stop, not an error.
func (w *Worker) Run(ctx context.Context) error {
	if w == nil || w.dequeuer == nil {
		return fmt.Errorf("jobs: worker dequeuer is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		delivery, err := w.dequeuer.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.logError(ctx, "dequeue maintenance job", map[string]any{"error": err.Error()})
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(w.retryDelay):
			}
			continue
		}
		w.process(ctx, delivery)
	}
}

func (w *Worker) process(ctx context.Context, delivery core.JobDelivery) {
	if delivery == nil {
		return
	}
	msg := delivery.Message()
	if msg == nil || strings.TrimSpace(msg.JobID) == "" {
		_ = delivery.Nack(ctx, core.JobNackOptions{Reason: "empty delivery"})
		return
	}

	startedAt := time.Now().UTC()
	handler := w.handlers[msg.JobID]
	if handler == nil {
		err := fmt.Errorf("jobs: no handler registered for %s", msg.JobID)
		_ = delivery.Nack(ctx, core.JobNackOptions{DeadLetter: true, Reason: err.Error()})
		w.emitFailure(ctx, msg, 1, err, startedAt)
		return
	}

	w.emitStart(ctx, msg, startedAt)
	attempt := 1
	var err error
	for {
		err = handler(ctx, msg)
		if err == nil {
			if ackErr := delivery.Ack(ctx); ackErr != nil {
				w.logError(ctx, "ack maintenance job", map[string]any{
					"job_id": msg.JobID,
					"error":  ackErr.Error(),
				})
			}
			w.emitSuccess(ctx, msg, attempt, startedAt)
			return
		}
		if attempt >= w.maxAttempts || ctx.Err() != nil {
			break
		}
		w.emitRetry(ctx, msg, attempt, err, startedAt)
		select {
		case <-ctx.Done():
		case <-time.After(w.retryDelay):
			attempt++
			continue
		}
		break
	}
	_ = delivery.Nack(ctx, core.JobNackOptions{DeadLetter: true, Reason: err.Error()})
	w.emitFailure(ctx, msg, attempt, err, startedAt)
}

func (w *Worker) emitStart(ctx context.Context, msg *core.JobExecutionMessage, startedAt time.Time) {
	if w.hook == nil {
		return
	}
	w.hook.OnStart(ctx, core.JobWorkerEvent{Message: msg, Attempt: 1, StartedAt: startedAt})
}

func (w *Worker) emitSuccess(ctx context.Context, msg *core.JobExecutionMessage, attempt int, startedAt time.Time) {
	if w.hook == nil {
		return
	}
	w.hook.OnSuccess(ctx, core.JobWorkerEvent{
		Message:   msg,
		Attempt:   attempt,
		StartedAt: startedAt,
		Duration:  time.Since(startedAt),
	})
}

func (w *Worker) emitRetry(ctx context.Context, msg *core.JobExecutionMessage, attempt int, err error, startedAt time.Time) {
	if w.hook == nil {
		return
	}
	w.hook.OnRetry(ctx, core.JobWorkerEvent{
		Message:   msg,
		Attempt:   attempt,
		Delay:     w.retryDelay,
		Err:       err,
		StartedAt: startedAt,
	})
}

func (w *Worker) emitFailure(ctx context.Context, msg *core.JobExecutionMessage, attempt int, err error, startedAt time.Time) {
	if w.hook == nil {
		return
	}
	w.hook.OnFailure(ctx, core.JobWorkerEvent{
		Message:   msg,
		Attempt:   attempt,
		Err:       err,
		StartedAt: startedAt,
		Duration:  time.Since(startedAt),
	})
}

func (w *Worker) logError(ctx context.Context, msg string, fields map[string]any) {
	if w == nil || w.logger == nil {
		return
	}
	logger := w.logger.WithContext(ctx)
	if fieldsLogger, ok := logger.(core.FieldsLogger); ok {
		logger = fieldsLogger.WithFields(fields)
	}
	logger.Error(msg, jobLogFields(fields)...)
}

// LogHook writes structured lifecycle events for every processed delivery.
type LogHook struct {
	logger core.Logger
}

func NewLogHook(logger core.Logger) *LogHook {
	return &LogHook{logger: glog.Ensure(logger)}
}

func (h *LogHook) OnStart(ctx context.Context, event core.JobWorkerEvent) {
	h.write(ctx, "maintenance job started", event, hookLevelInfo)
}

func (h *LogHook) OnSuccess(ctx context.Context, event core.JobWorkerEvent) {
	h.write(ctx, "maintenance job finished", event, hookLevelInfo)
}

func (h *LogHook) OnRetry(ctx context.Context, event core.JobWorkerEvent) {
	h.write(ctx, "maintenance job retrying", event, hookLevelWarn)
}

func (h *LogHook) OnFailure(ctx context.Context, event core.JobWorkerEvent) {
	h.write(ctx, "maintenance job failed", event, hookLevelError)
}

type hookLevel int

const (
	hookLevelInfo hookLevel = iota
	hookLevelWarn
	hookLevelError
)

func (h *LogHook) write(ctx context.Context, msg string, event core.JobWorkerEvent, level hookLevel) {
	if h == nil || h.logger == nil {
		return
	}
	fields := map[string]any{
		"event_type": "maintenance_job",
		"attempt":    event.Attempt,
	}
	if event.Message != nil {
		fields["job_id"] = event.Message.JobID
	}
	if event.Duration > 0 {
		fields["duration_ms"] = event.Duration.Milliseconds()
	}
	if event.Delay > 0 {
		fields["delay_ms"] = event.Delay.Milliseconds()
	}
	if event.Err != nil {
		fields["error"] = event.Err.Error()
	}
	logger := h.logger.WithContext(ctx)
	if fieldsLogger, ok := logger.(core.FieldsLogger); ok {
		logger = fieldsLogger.WithFields(fields)
	}
	switch level {
	case hookLevelError:
		logger.Error(msg, jobLogFields(fields)...)
	case hookLevelWarn:
		logger.Warn(msg, jobLogFields(fields)...)
	default:
		logger.Info(msg, jobLogFields(fields)...)
	}
}

func jobLogFields(fields map[string]any) []any {
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	out := make([]any, 0, len(fields)*2)
	for _, key := range keys {
		out = append(out, key, fields[key])
	}
	return out
}

var _ core.JobWorkerHook = (*LogHook)(nil)
