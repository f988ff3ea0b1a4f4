package gojob

import (
	"context"
	"errors"
	"testing"
	"time"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"
	"github.com/goliatone/go-wxopen/core"
)

func TestMessageMappingRoundTrip(t *testing.T) {
	original := RefreshTarget{ComponentAppID: "wxcomponent", AuthorizerAppID: "wxauth"}

	converted := ToExecutionMessage(original)
	if converted.JobID != JobIDAuthorizerRefresh {
		t.Fatalf("expected job id %q, got %q", JobIDAuthorizerRefresh, converted.JobID)
	}
	if converted.IdempotencyKey != "wxopen.authorizer.refresh:wxcomponent:wxauth" {
		t.Fatalf("unexpected idempotency key %q", converted.IdempotencyKey)
	}
	roundTrip, err := FromExecutionMessage(converted)
	if err != nil {
		t.Fatalf("from execution message: %v", err)
	}
	if roundTrip != original {
		t.Fatalf("expected %+v, got %+v", original, roundTrip)
	}

	component := ToExecutionMessage(RefreshTarget{ComponentAppID: "wxcomponent"})
	if component.JobID != JobIDComponentRefresh {
		t.Fatalf("expected component job id, got %q", component.JobID)
	}
	if _, ok := component.Parameters[paramAuthorizerAppID]; ok {
		t.Fatalf("expected no authorizer parameter on component job")
	}
}

func TestFromExecutionMessage_RejectsMalformed(t *testing.T) {
	cases := map[string]*job.ExecutionMessage{
		"nil":                nil,
		"missing component":  {JobID: JobIDComponentRefresh},
		"missing authorizer": {JobID: JobIDAuthorizerRefresh, Parameters: map[string]any{paramComponentAppID: "wx"}},
		"unknown job":        {JobID: "wxopen.other", Parameters: map[string]any{paramComponentAppID: "wx"}},
	}
	for name, msg := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := FromExecutionMessage(msg); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestEnqueuerAdapter(t *testing.T) {
	enqueuer := &stubQueueEnqueuer{}
	adapter := NewEnqueuerAdapter(enqueuer)
	ctx := context.Background()

	if err := adapter.EnqueueComponentRefresh(ctx, "wxcomponent"); err != nil {
		t.Fatalf("enqueue component: %v", err)
	}
	if enqueuer.last == nil || enqueuer.last.JobID != JobIDComponentRefresh {
		t.Fatalf("expected component refresh message, got %+v", enqueuer.last)
	}
	if err := adapter.EnqueueAuthorizerRefresh(ctx, "wxcomponent", " "); err == nil {
		t.Fatalf("expected blank authorizer to be rejected")
	}
	if err := NewEnqueuerAdapter(nil).EnqueueComponentRefresh(ctx, "wxcomponent"); err == nil {
		t.Fatalf("expected missing enqueuer error")
	}
}

func TestRefreshWorker_AcksSuccessfulRefresh(t *testing.T) {
	refresher := &stubRefresher{}
	delivery := &stubQueueDelivery{msg: ToExecutionMessage(RefreshTarget{ComponentAppID: "wxcomponent", AuthorizerAppID: "wxauth"})}
	dequeuer := &stubQueueDequeuer{delivery: delivery}

	if err := NewRefreshWorker(refresher).ProcessNext(context.Background(), dequeuer); err != nil {
		t.Fatalf("process: %v", err)
	}
	if !delivery.acked {
		t.Fatalf("expected ack")
	}
	if len(refresher.calls) != 1 || refresher.calls[0] != "wxcomponent/wxauth" {
		t.Fatalf("unexpected refresh calls %v", refresher.calls)
	}
}

func TestRefreshWorker_RequeuesTransientFailures(t *testing.T) {
	refresher := &stubRefresher{err: core.NetworkError(errors.New("timeout"), "api_component_token")}
	delivery := &stubQueueDelivery{msg: ToExecutionMessage(RefreshTarget{ComponentAppID: "wxcomponent"})}
	w := NewRefreshWorker(refresher, WithWorkerPolicy(RetryPolicy{
		MaxAttempts:     3,
		BaseDelay:       time.Second,
		MaxDelay:        3 * time.Second,
		DeadLetterOnMax: true,
	}))

	if err := w.Process(context.Background(), delivery, 2); !core.IsNetworkError(err) {
		t.Fatalf("expected refresh error to surface, got %v", err)
	}
	if delivery.acked {
		t.Fatalf("expected no ack on failure")
	}
	if !delivery.nackOpts.Requeue || delivery.nackOpts.Delay != 2*time.Second {
		t.Fatalf("expected requeue after 2s, got %+v", delivery.nackOpts)
	}

	if err := w.Process(context.Background(), delivery, 3); err == nil {
		t.Fatalf("expected error on final attempt")
	}
	if delivery.nackOpts.Requeue || !delivery.nackOpts.DeadLetter {
		t.Fatalf("expected dead letter at max attempts, got %+v", delivery.nackOpts)
	}
	if delivery.nackOpts.Delay != 3*time.Second {
		t.Fatalf("expected delay bounded by max delay, got %s", delivery.nackOpts.Delay)
	}
}

func TestRefreshWorker_DeadLettersPermanentFailures(t *testing.T) {
	refresher := &stubRefresher{err: core.UnknownTenantError("wxmissing")}
	delivery := &stubQueueDelivery{msg: ToExecutionMessage(RefreshTarget{ComponentAppID: "wxmissing"})}

	if err := NewRefreshWorker(refresher).Process(context.Background(), delivery, 1); !core.IsUnknownTenant(err) {
		t.Fatalf("expected unknown tenant, got %v", err)
	}
	if !delivery.nackOpts.DeadLetter || delivery.nackOpts.Requeue {
		t.Fatalf("expected dead letter, got %+v", delivery.nackOpts)
	}

	malformed := &stubQueueDelivery{msg: &job.ExecutionMessage{JobID: "wxopen.other"}}
	if err := NewRefreshWorker(refresher).Process(context.Background(), malformed, 1); err == nil {
		t.Fatalf("expected malformed message error")
	}
	if !malformed.nackOpts.DeadLetter {
		t.Fatalf("expected malformed message to be dead lettered")
	}
}

func TestMetricsHook_RecordsPhases(t *testing.T) {
	metrics := &capturingMetrics{}
	hook := NewMetricsHook(metrics)

	hook.OnSuccess(context.Background(), worker.Event{
		Message:  ToExecutionMessage(RefreshTarget{ComponentAppID: "wxcomponent"}),
		Duration: 250 * time.Millisecond,
	})
	hook.OnRetry(context.Background(), worker.Event{Err: errors.New("retry")})

	if len(metrics.counters) != 2 {
		t.Fatalf("expected 2 counters, got %d", len(metrics.counters))
	}
	if metrics.counters[0]["job_id"] != JobIDComponentRefresh || metrics.counters[0]["phase"] != "success" {
		t.Fatalf("unexpected success tags %v", metrics.counters[0])
	}
	if metrics.counters[1]["job_id"] != "unknown" || metrics.counters[1]["phase"] != "retry" {
		t.Fatalf("unexpected retry tags %v", metrics.counters[1])
	}
	if len(metrics.histograms) != 1 || metrics.histograms[0] != 250 {
		t.Fatalf("expected one duration sample, got %v", metrics.histograms)
	}
}

type stubRefresher struct {
	err   error
	calls []string
}

func (s *stubRefresher) RefreshComponentAccessToken(_ context.Context, componentAppID string) (string, error) {
	s.calls = append(s.calls, componentAppID)
	return "token", s.err
}

func (s *stubRefresher) RefreshAuthorizerAccessToken(_ context.Context, componentAppID, authorizerAppID string) (string, error) {
	s.calls = append(s.calls, componentAppID+"/"+authorizerAppID)
	return "token", s.err
}

type capturingMetrics struct {
	counters   []map[string]string
	histograms []float64
}

func (m *capturingMetrics) IncCounter(_ context.Context, _ string, _ int64, tags map[string]string) {
	m.counters = append(m.counters, tags)
}

func (m *capturingMetrics) ObserveHistogram(_ context.Context, _ string, value float64, _ map[string]string) {
	m.histograms = append(m.histograms, value)
}

type stubQueueEnqueuer struct {
	last *job.ExecutionMessage
}

func (s *stubQueueEnqueuer) Enqueue(_ context.Context, msg *job.ExecutionMessage) error {
	s.last = msg
	return nil
}

type stubQueueDequeuer struct {
	delivery queue.Delivery
}

func (s *stubQueueDequeuer) Dequeue(context.Context) (queue.Delivery, error) {
	return s.delivery, nil
}

type stubQueueDelivery struct {
	msg      *job.ExecutionMessage
	acked    bool
	nackOpts queue.NackOptions
}

func (s *stubQueueDelivery) Message() *job.ExecutionMessage {
	return s.msg
}

func (s *stubQueueDelivery) Ack(context.Context) error {
	s.acked = true
	return nil
}

func (s *stubQueueDelivery) Nack(_ context.Context, opts queue.NackOptions) error {
	s.nackOpts = opts
	return nil
}
