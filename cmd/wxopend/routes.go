package main

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	wxopen "github.com/goliatone/go-wxopen"
	"github.com/goliatone/go-wxopen/adapters/gocommand"
	"github.com/goliatone/go-wxopen/adapters/gojob"
	"github.com/goliatone/go-wxopen/adapters/prommetrics"
	wxcommand "github.com/goliatone/go-wxopen/command"
	"github.com/goliatone/go-wxopen/core"
	wxquery "github.com/goliatone/go-wxopen/query"
)

type api struct {
	runtime   *wxopen.Runtime
	refreshes *gojob.EnqueuerAdapter
}

// newHTTPHandler mounts the notify and authorize routes next to the
// operational endpoints. Authorizer management goes through the command
// dispatcher, so gocommand.RegisterService must have run first.
func newHTTPHandler(runtime *wxopen.Runtime, gatherer prometheus.Gatherer, refreshes *gojob.EnqueuerAdapter) http.Handler {
	a := &api{runtime: runtime, refreshes: refreshes}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	runtime.Handler.Mount(r)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	r.Method(http.MethodGet, "/metrics", prommetrics.Handler(gatherer))

	r.Get("/wechat/status", a.status)
	r.Get("/wechat/status/{componentAppID}", a.status)
	r.Post("/wechat/{componentAppID}/refresh", a.refreshComponent)
	r.Route("/wechat/{componentAppID}/authorizers/{authorizerAppID}", func(r chi.Router) {
		r.Delete("/", a.removeAuthorizer)
		r.Post("/refresh", a.refreshAuthorizer)
		r.Get("/jsapi", a.jsapiConfig)
	})
	return r
}

func (a *api) status(w http.ResponseWriter, r *http.Request) {
	statuses, err := a.runtime.Facade.Queries().ComponentStatus.Query(r.Context(), wxquery.ComponentStatusMessage{
		ComponentAppID: chi.URLParam(r, "componentAppID"),
	})
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"components": statuses})
}

func (a *api) refreshComponent(w http.ResponseWriter, r *http.Request) {
	componentAppID := chi.URLParam(r, "componentAppID")
	if _, err := a.runtime.Service.Component(componentAppID); err != nil {
		a.writeError(w, err)
		return
	}
	if err := a.refreshes.EnqueueComponentRefresh(r.Context(), componentAppID); err != nil {
		a.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (a *api) refreshAuthorizer(w http.ResponseWriter, r *http.Request) {
	componentAppID := chi.URLParam(r, "componentAppID")
	authorizerAppID := chi.URLParam(r, "authorizerAppID")
	if _, err := a.runtime.Service.Authorizer(componentAppID, authorizerAppID); err != nil {
		a.writeError(w, err)
		return
	}
	if err := a.refreshes.EnqueueAuthorizerRefresh(r.Context(), componentAppID, authorizerAppID); err != nil {
		a.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (a *api) removeAuthorizer(w http.ResponseWriter, r *http.Request) {
	err := gocommand.Dispatch(r.Context(), wxcommand.RemoveAuthorizerMessage{
		ComponentAppID:  chi.URLParam(r, "componentAppID"),
		AuthorizerAppID: chi.URLParam(r, "authorizerAppID"),
	})
	if err != nil {
		a.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) jsapiConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := gocommand.Query[wxquery.JSAPIConfigMessage, core.JSAPIConfig](r.Context(), wxquery.JSAPIConfigMessage{
		ComponentAppID:  chi.URLParam(r, "componentAppID"),
		AuthorizerAppID: chi.URLParam(r, "authorizerAppID"),
		PageURL:         r.URL.Query().Get("url"),
	})
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (a *api) writeError(w http.ResponseWriter, err error) {
	mapped := a.runtime.Service.MapError(err)
	code := mapped.Code
	if code == 0 {
		code = http.StatusInternalServerError
	}
	writeJSON(w, code, map[string]any{
		"error": map[string]any{"text_code": mapped.TextCode, "message": mapped.Message},
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
