package webhooks

import (
	"context"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-wxopen/core"
)

// Ack is the body every delivery is answered with.
const Ack = "success"

// Request is one inbound delivery with its signature query parameters.
type Request struct {
	TenantID     string
	Timestamp    string
	Nonce        string
	MsgSignature string
	EncryptType  string
	Body         []byte
}

type RouterOption func(*Router)

func WithVerifier(verifier Verifier) RouterOption {
	return func(r *Router) {
		r.verifier = verifier
	}
}

func WithDedupe(dedupe *DedupeController) RouterOption {
	return func(r *Router) {
		r.dedupe = dedupe
	}
}

func WithLogger(logger core.Logger) RouterOption {
	return func(r *Router) {
		r.logger = glog.Ensure(logger)
	}
}

func WithMetrics(recorder core.MetricsRecorder) RouterOption {
	return func(r *Router) {
		if recorder != nil {
			r.metrics = recorder
		}
	}
}

// Router resolves the component for a delivery, decrypts it and hands the
// notification to the component agent.
type Router struct {
	registry *core.ComponentRegistry
	verifier Verifier
	dedupe   *DedupeController
	logger   core.Logger
	metrics  core.MetricsRecorder
}

func NewRouter(registry *core.ComponentRegistry, opts ...RouterOption) *Router {
	router := &Router{
		registry: registry,
		verifier: MsgSignatureVerifier{},
		logger:   glog.Nop(),
		metrics:  core.NopMetricsRecorder{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(router)
		}
	}
	return router
}

// Dispatch routes a raw delivery body to tenantID, or to the envelope AppId
// when tenantID is empty.
func (r *Router) Dispatch(ctx context.Context, tenantID string, body []byte) (string, error) {
	return r.DispatchRequest(ctx, Request{TenantID: tenantID, Body: body})
}

func (r *Router) DispatchRequest(ctx context.Context, req Request) (string, error) {
	startedAt := time.Now()
	tenantID, err := r.dispatch(ctx, req)
	outcome := "ok"
	if err != nil {
		outcome = "error"
		r.report(ctx, tenantID, err)
	}
	tags := map[string]string{"outcome": outcome}
	r.metrics.IncCounter(ctx, core.MetricWebhookDispatchTotal, 1, tags)
	r.metrics.ObserveHistogram(ctx, core.MetricWebhookDispatchDuration, float64(time.Since(startedAt).Milliseconds()), tags)
	return Ack, err
}

func (r *Router) dispatch(ctx context.Context, req Request) (string, error) {
	tenantID := strings.TrimSpace(req.TenantID)
	if r.registry == nil {
		return tenantID, core.ConfigurationError("webhooks: router requires a component registry", nil)
	}

	envelope, err := ParseEnvelope(req.Body)
	if tenantID == "" {
		tenantID = envelope.AppID
	}
	if err != nil {
		return tenantID, err
	}

	agent, ok := r.registry.Lookup(tenantID)
	if !ok {
		return tenantID, core.UnknownTenantError(tenantID)
	}
	req.TenantID = tenantID
	notification, err := r.open(ctx, agent, req, envelope)
	if err != nil {
		return tenantID, err
	}

	if !r.dedupe.Allow(NotificationKey(tenantID, notification)) {
		r.logger.Debug("duplicate notification coalesced",
			"component_app_id", tenantID,
			"info_type", string(notification.InfoType),
		)
		return tenantID, nil
	}
	return tenantID, agent.HandleNotification(ctx, notification)
}

// open returns the notification carried by the delivery, decrypting it when
// the envelope holds ciphertext. A verifier that requires signatures rejects
// plaintext deliveries.
func (r *Router) open(ctx context.Context, agent *core.ComponentAgent, req Request, envelope Envelope) (core.Notification, error) {
	if !envelope.Encrypted() {
		if policy, ok := r.verifier.(plaintextPolicy); ok && !policy.AcceptsPlaintext() {
			return core.Notification{}, webhooksError("webhooks: plaintext delivery rejected, encryption required",
				map[string]any{"tenant_id": req.TenantID})
		}
		return ParseNotification(req.Body)
	}

	crypter := agent.Crypter()
	if crypter == nil {
		return core.Notification{}, core.ConfigurationError("webhooks: component has no message crypter", map[string]any{
			"component_app_id": req.TenantID,
		})
	}
	if r.verifier != nil {
		if err := r.verifier.Verify(ctx, crypter, req, envelope.Encrypt); err != nil {
			return core.Notification{}, err
		}
	}
	plaintext, err := crypter.Decrypt(envelope.Encrypt)
	if err != nil {
		return core.Notification{}, core.DecodeError(err, "webhooks: decrypt notification", map[string]any{
			"component_app_id": req.TenantID,
		})
	}
	return ParseNotification(plaintext)
}

func (r *Router) report(ctx context.Context, tenantID string, err error) {
	r.logger.Error("webhook dispatch failed", "component_app_id", tenantID, "error", err.Error())
	if r.registry == nil {
		return
	}
	bus := r.registry.Bus()
	if agent, ok := r.registry.Lookup(tenantID); ok {
		bus = agent.Bus()
	}
	bus.Publish(ctx, core.ErrorEvent{
		ComponentAppID: tenantID,
		Operation:      "dispatch_notification",
		Err:            err,
	})
}
