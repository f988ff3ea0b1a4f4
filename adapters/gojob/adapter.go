package gojob

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"
	glog "github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-wxopen/core"
)

const (
	JobIDComponentRefresh  = "wxopen.component.refresh"
	JobIDAuthorizerRefresh = "wxopen.authorizer.refresh"
)

const (
	paramComponentAppID  = "component_app_id"
	paramAuthorizerAppID = "authorizer_app_id"
)

// RefreshTarget names the credential a refresh job renews. A blank
// AuthorizerAppID targets the component access token.
type RefreshTarget struct {
	ComponentAppID  string
	AuthorizerAppID string
}

func (t RefreshTarget) JobID() string {
	if strings.TrimSpace(t.AuthorizerAppID) == "" {
		return JobIDComponentRefresh
	}
	return JobIDAuthorizerRefresh
}

func (t RefreshTarget) IdempotencyKey() string {
	key := t.JobID() + ":" + strings.TrimSpace(t.ComponentAppID)
	if authorizer := strings.TrimSpace(t.AuthorizerAppID); authorizer != "" {
		key += ":" + authorizer
	}
	return key
}

// RetryPolicy defines queue retry bounds to avoid unbounded retry loops.
type RetryPolicy struct {
	MaxAttempts     int
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	DeadLetterOnMax bool
}

// NormalizeAttempt enforces bounded retry behavior for a nack operation.
func (p RetryPolicy) NormalizeAttempt(opts queue.NackOptions, attempt int) queue.NackOptions {
	out := opts
	out.Reason = strings.TrimSpace(out.Reason)
	if out.Delay < 0 {
		out.Delay = 0
	}
	if p.MaxDelay > 0 && out.Delay > p.MaxDelay {
		out.Delay = p.MaxDelay
	}
	if out.DeadLetter {
		out.Requeue = false
	}
	if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
		out.Requeue = false
		if p.DeadLetterOnMax || out.DeadLetter {
			out.DeadLetter = true
		}
	}
	if !out.Requeue && !out.DeadLetter {
		out.Requeue = true
	}
	return out
}

// ToExecutionMessage maps a refresh target to a go-job message.
func ToExecutionMessage(target RefreshTarget) *job.ExecutionMessage {
	params := map[string]any{paramComponentAppID: strings.TrimSpace(target.ComponentAppID)}
	if authorizer := strings.TrimSpace(target.AuthorizerAppID); authorizer != "" {
		params[paramAuthorizerAppID] = authorizer
	}
	return &job.ExecutionMessage{
		JobID:          target.JobID(),
		ScriptPath:     target.JobID(),
		Parameters:     params,
		IdempotencyKey: target.IdempotencyKey(),
		DedupPolicy:    job.DeduplicationPolicy("drop"),
	}
}

// FromExecutionMessage reads a refresh target back from a go-job message.
func FromExecutionMessage(msg *job.ExecutionMessage) (RefreshTarget, error) {
	if msg == nil {
		return RefreshTarget{}, fmt.Errorf("gojob: execution message is required")
	}
	target := RefreshTarget{
		ComponentAppID:  stringParam(msg.Parameters, paramComponentAppID),
		AuthorizerAppID: stringParam(msg.Parameters, paramAuthorizerAppID),
	}
	if target.ComponentAppID == "" {
		return RefreshTarget{}, fmt.Errorf("gojob: %s parameter is required", paramComponentAppID)
	}
	switch strings.TrimSpace(msg.JobID) {
	case JobIDComponentRefresh:
		target.AuthorizerAppID = ""
	case JobIDAuthorizerRefresh:
		if target.AuthorizerAppID == "" {
			return RefreshTarget{}, fmt.Errorf("gojob: %s parameter is required", paramAuthorizerAppID)
		}
	default:
		return RefreshTarget{}, fmt.Errorf("gojob: unsupported job id %q", msg.JobID)
	}
	return target, nil
}

// Refresher forces a credential renewal. core.Service satisfies it.
type Refresher interface {
	RefreshComponentAccessToken(ctx context.Context, componentAppID string) (string, error)
	RefreshAuthorizerAccessToken(ctx context.Context, componentAppID, authorizerAppID string) (string, error)
}

type EnqueuerAdapter struct {
	enqueuer queue.Enqueuer
}

func NewEnqueuerAdapter(enqueuer queue.Enqueuer) *EnqueuerAdapter {
	return &EnqueuerAdapter{enqueuer: enqueuer}
}

func (a *EnqueuerAdapter) EnqueueComponentRefresh(ctx context.Context, componentAppID string) error {
	return a.enqueue(ctx, RefreshTarget{ComponentAppID: componentAppID})
}

func (a *EnqueuerAdapter) EnqueueAuthorizerRefresh(ctx context.Context, componentAppID, authorizerAppID string) error {
	if strings.TrimSpace(authorizerAppID) == "" {
		return fmt.Errorf("gojob: authorizer app id is required")
	}
	return a.enqueue(ctx, RefreshTarget{ComponentAppID: componentAppID, AuthorizerAppID: authorizerAppID})
}

func (a *EnqueuerAdapter) enqueue(ctx context.Context, target RefreshTarget) error {
	if a == nil || a.enqueuer == nil {
		return fmt.Errorf("gojob: enqueuer is not configured")
	}
	if strings.TrimSpace(target.ComponentAppID) == "" {
		return fmt.Errorf("gojob: component app id is required")
	}
	return a.enqueuer.Enqueue(ctx, ToExecutionMessage(target))
}

type WorkerOption func(*RefreshWorker)

func WithWorkerLogger(logger glog.Logger) WorkerOption {
	return func(w *RefreshWorker) {
		w.logger = glog.Ensure(logger)
	}
}

func WithWorkerPolicy(policy RetryPolicy) WorkerOption {
	return func(w *RefreshWorker) {
		w.policy = policy
	}
}

func WithWorkerHooks(hooks ...worker.Hook) WorkerOption {
	return func(w *RefreshWorker) {
		for _, hook := range hooks {
			if hook != nil {
				w.hooks = append(w.hooks, hook)
			}
		}
	}
}

// RefreshWorker consumes refresh deliveries and settles each one.
type RefreshWorker struct {
	refresher Refresher
	policy    RetryPolicy
	logger    glog.Logger
	hooks     []worker.Hook
}

func NewRefreshWorker(refresher Refresher, opts ...WorkerOption) *RefreshWorker {
	w := &RefreshWorker{
		refresher: refresher,
		policy: RetryPolicy{
			MaxAttempts:     5,
			BaseDelay:       30 * time.Second,
			MaxDelay:        10 * time.Minute,
			DeadLetterOnMax: true,
		},
		logger: glog.Nop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	return w
}

// ProcessNext dequeues one delivery and processes it. Deliveries that do
// not report their attempt count as the first attempt.
func (w *RefreshWorker) ProcessNext(ctx context.Context, dequeuer queue.Dequeuer) error {
	if dequeuer == nil {
		return fmt.Errorf("gojob: dequeuer is not configured")
	}
	delivery, err := dequeuer.Dequeue(ctx)
	if err != nil {
		return err
	}
	return w.Process(ctx, delivery, deliveryAttempt(delivery))
}

// Run processes deliveries until ctx is done or the dequeuer is closed.
// Refresh failures are settled through the retry policy and do not stop
// the loop.
func (w *RefreshWorker) Run(ctx context.Context, dequeuer queue.Dequeuer) error {
	if dequeuer == nil {
		return fmt.Errorf("gojob: dequeuer is not configured")
	}
	for {
		delivery, err := dequeuer.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrQueueClosed) {
				return nil
			}
			w.logger.Error("refresh dequeue failed", "error", err.Error())
			continue
		}
		_ = w.Process(ctx, delivery, deliveryAttempt(delivery))
	}
}

func deliveryAttempt(delivery queue.Delivery) int {
	if counted, ok := delivery.(interface{ Attempt() int }); ok && counted.Attempt() > 0 {
		return counted.Attempt()
	}
	return 1
}

// Process runs the refresh named by delivery, acking on success and nacking
// with the retry policy otherwise. The returned error is the refresh error.
func (w *RefreshWorker) Process(ctx context.Context, delivery queue.Delivery, attempt int) error {
	if w == nil || w.refresher == nil {
		return fmt.Errorf("gojob: refresher is not configured")
	}
	if delivery == nil {
		return fmt.Errorf("gojob: delivery is required")
	}
	event := worker.Event{
		Message:   delivery.Message(),
		Delivery:  delivery,
		Attempt:   attempt,
		StartedAt: time.Now(),
	}
	target, err := FromExecutionMessage(delivery.Message())
	if err != nil {
		w.logger.Warn("refresh job rejected", "error", err.Error())
		w.emit(ctx, "failure", event, err)
		if nackErr := delivery.Nack(ctx, queue.NackOptions{DeadLetter: true, Reason: err.Error()}); nackErr != nil {
			return nackErr
		}
		return err
	}
	w.emit(ctx, "start", event, nil)

	if target.AuthorizerAppID == "" {
		_, err = w.refresher.RefreshComponentAccessToken(ctx, target.ComponentAppID)
	} else {
		_, err = w.refresher.RefreshAuthorizerAccessToken(ctx, target.ComponentAppID, target.AuthorizerAppID)
	}
	if err == nil {
		w.emit(ctx, "success", event, nil)
		return delivery.Ack(ctx)
	}

	w.logger.Warn("refresh job failed",
		"job_id", target.JobID(),
		"component_app_id", target.ComponentAppID,
		"authorizer_app_id", target.AuthorizerAppID,
		"attempt", attempt,
		"error", err.Error(),
	)
	opts := queue.NackOptions{
		Delay:   w.retryDelay(attempt),
		Requeue: true,
		Reason:  err.Error(),
	}
	if permanentFailure(err) {
		opts = queue.NackOptions{DeadLetter: true, Reason: err.Error()}
	}
	opts = w.policy.NormalizeAttempt(opts, attempt)
	if opts.Requeue {
		event.Delay = opts.Delay
		w.emit(ctx, "retry", event, err)
	} else {
		w.emit(ctx, "failure", event, err)
	}
	if nackErr := delivery.Nack(ctx, opts); nackErr != nil {
		return nackErr
	}
	return err
}

func (w *RefreshWorker) emit(ctx context.Context, phase string, event worker.Event, err error) {
	if len(w.hooks) == 0 {
		return
	}
	event.Err = err
	if phase != "start" {
		event.Duration = time.Since(event.StartedAt)
	}
	for _, hook := range w.hooks {
		switch phase {
		case "start":
			hook.OnStart(ctx, event)
		case "success":
			hook.OnSuccess(ctx, event)
		case "retry":
			hook.OnRetry(ctx, event)
		default:
			hook.OnFailure(ctx, event)
		}
	}
}

func (w *RefreshWorker) retryDelay(attempt int) time.Duration {
	delay := w.policy.BaseDelay
	for i := 1; i < attempt && delay > 0; i++ {
		delay *= 2
		if w.policy.MaxDelay > 0 && delay >= w.policy.MaxDelay {
			return w.policy.MaxDelay
		}
	}
	return delay
}

// unknown tenants and missing configuration never heal by retrying
func permanentFailure(err error) bool {
	return core.IsUnknownTenant(err) || core.IsUnknownAuthorizer(err) || core.IsConfigurationError(err)
}

// MetricsHook reports worker lifecycle events as wxopen job metrics.
type MetricsHook struct {
	metrics core.MetricsRecorder
}

func NewMetricsHook(metrics core.MetricsRecorder) *MetricsHook {
	if metrics == nil {
		metrics = core.NopMetricsRecorder{}
	}
	return &MetricsHook{metrics: metrics}
}

func (h *MetricsHook) OnStart(ctx context.Context, event worker.Event) {
	h.record(ctx, "start", event)
}

func (h *MetricsHook) OnSuccess(ctx context.Context, event worker.Event) {
	h.record(ctx, "success", event)
}

func (h *MetricsHook) OnFailure(ctx context.Context, event worker.Event) {
	h.record(ctx, "failure", event)
}

func (h *MetricsHook) OnRetry(ctx context.Context, event worker.Event) {
	h.record(ctx, "retry", event)
}

func (h *MetricsHook) record(ctx context.Context, phase string, event worker.Event) {
	if h == nil || h.metrics == nil {
		return
	}
	tags := map[string]string{"job_id": eventJobID(event), "phase": phase}
	h.metrics.IncCounter(ctx, core.MetricJobEventsTotal, 1, tags)
	if event.Duration > 0 {
		h.metrics.ObserveHistogram(ctx, core.MetricJobDuration, float64(event.Duration.Milliseconds()), tags)
	}
}

func eventJobID(event worker.Event) string {
	message := event.Message
	if message == nil && event.Delivery != nil {
		message = event.Delivery.Message()
	}
	if message == nil {
		return "unknown"
	}
	return strings.TrimSpace(message.JobID)
}

func stringParam(params map[string]any, key string) string {
	value, ok := params[key]
	if !ok || value == nil {
		return ""
	}
	if s, ok := value.(string); ok {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(fmt.Sprint(value))
}

var (
	_ worker.Hook = (*MetricsHook)(nil)
	_ Refresher   = (*core.Service)(nil)
)
