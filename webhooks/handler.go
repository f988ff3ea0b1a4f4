package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-wxopen/core"
)

const forbiddenNotice = "<h1>The route is used to receive WeChat open platform authorization events, do not visit!</h1>"

const defaultMaxBodyBytes int64 = 1 << 20

type HandlerOption func(*Handler)

func WithMaxBodyBytes(limit int64) HandlerOption {
	return func(h *Handler) {
		if limit > 0 {
			h.maxBodyBytes = limit
		}
	}
}

func WithErrorMapper(mapper core.ErrorMapper) HandlerOption {
	return func(h *Handler) {
		if mapper != nil {
			h.mapError = mapper
		}
	}
}

func WithHandlerLogger(logger core.Logger) HandlerOption {
	return func(h *Handler) {
		h.logger = glog.Ensure(logger)
	}
}

// Handler exposes the notification endpoints and the authorization redirect.
type Handler struct {
	router       *Router
	maxBodyBytes int64
	mapError     core.ErrorMapper
	logger       core.Logger
	inflight     sync.WaitGroup
}

func NewHandler(router *Router, opts ...HandlerOption) *Handler {
	h := &Handler{
		router:       router,
		maxBodyBytes: defaultMaxBodyBytes,
		mapError:     defaultMapError,
		logger:       glog.Nop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Mount registers the webhook routes on r.
func (h *Handler) Mount(r chi.Router) {
	r.HandleFunc("/wechat/notify", h.Notify)
	r.HandleFunc("/wechat/notify/{componentAppID}", h.Notify)
	r.Get("/wechat/{componentAppID}/authorize", h.Authorize)
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	h.Mount(r)
	return r
}

func (h *Handler) Notify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, forbiddenNotice)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		h.logger.Warn("webhook body read failed", "error", err.Error())
		body = nil
	}
	query := r.URL.Query()
	req := Request{
		TenantID:     chi.URLParam(r, "componentAppID"),
		Timestamp:    query.Get("timestamp"),
		Nonce:        query.Get("nonce"),
		MsgSignature: query.Get("msg_signature"),
		EncryptType:  query.Get("encrypt_type"),
		Body:         body,
	}

	// ack before dispatch, whatever its outcome
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(len(Ack)))
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, Ack)
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}

	ctx := context.WithoutCancel(r.Context())
	h.inflight.Add(1)
	go func() {
		defer h.inflight.Done()
		_, _ = h.router.DispatchRequest(ctx, req)
	}()
}

// Drain waits for dispatches started by Notify to finish or for ctx to end.
func (h *Handler) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Authorize redirects the browser to the component login page for a fresh
// pre-auth code.
func (h *Handler) Authorize(w http.ResponseWriter, r *http.Request) {
	componentAppID := chi.URLParam(r, "componentAppID")
	redirectURI := strings.TrimSpace(r.URL.Query().Get("redirect_uri"))
	if redirectURI == "" {
		h.writeError(w, core.ConfigurationError("webhooks: redirect_uri is required", nil))
		return
	}
	agent, err := h.router.registry.Get(componentAppID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	target, err := agent.AuthorizationURL(r.Context(), redirectURI)
	if err != nil {
		h.writeError(w, err)
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	mapped := h.mapError(err)
	status := mapped.Code
	if status == 0 {
		status = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"text_code": mapped.TextCode,
			"message":   mapped.Message,
		},
	})
}

func defaultMapError(err error) *goerrors.Error {
	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		return rich
	}
	return goerrors.Wrap(err, goerrors.CategoryInternal, "webhooks: request failed").
		WithCode(http.StatusInternalServerError).
		WithTextCode(core.ErrorInternal)
}
