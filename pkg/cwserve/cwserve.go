// Copyright 2025, Gregg Coppen
// SPDX-License-Identifier: Apache-2.0

// Package cwserve exposes the loaded bundles as a read-only JSON API with a
// WebSocket stream of rescan events
package cwserve

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/greggcoppen/cwbundle/pkg/cwbundle"
	"github.com/greggcoppen/cwbundle/pkg/cwmonitor"
	"github.com/greggcoppen/cwbundle/pkg/cwregistry"
)

const (
	writeWait    = 10 * time.Second
	pingInterval = 30 * time.Second
)

// Provider supplies the registry to serve. *cwregistry.Watcher satisfies it.
type Provider interface {
	Current() *cwregistry.Registry
}

// Subscriber supplies scan events for /api/events. *cwregistry.Watcher satisfies it.
type Subscriber interface {
	Subscribe() (<-chan cwregistry.ScanEvent, func())
}

type staticProvider struct {
	reg *cwregistry.Registry
}

func (p staticProvider) Current() *cwregistry.Registry {
	return p.reg
}

// Static serves a fixed registry with no event stream
func Static(reg *cwregistry.Registry) Provider {
	return staticProvider{reg: reg}
}

// BundleSummary is the list form of a bundle
type BundleSummary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Author      string `json:"author,omitempty"`
	Description string `json:"description,omitempty"`
	GitRepo     string `json:"git_repo,omitempty"`
	Embedded    bool   `json:"embedded,omitempty"`
	Menus       int    `json:"menus"`
	Commands    int    `json:"commands"`
}

// Status reports the served registry and the server process
type Status struct {
	ScanID    string                    `json:"scanId,omitempty"`
	ScannedAt time.Time                 `json:"scannedAt,omitempty"`
	Root      string                    `json:"root,omitempty"`
	Bundles   int                       `json:"bundles"`
	Problems  int                       `json:"problems"`
	Watching  bool                      `json:"watching"`
	Uptime    string                    `json:"uptime,omitempty"`
	Process   *cwmonitor.ProcessMetrics `json:"process,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Server serves bundle data from a Provider
type Server struct {
	provider Provider
	events   Subscriber
	log      *zap.Logger
	upgrader websocket.Upgrader
}

// New creates a server. When provider also implements Subscriber the
// /api/events stream is enabled.
func New(provider Provider, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		provider: provider,
		log:      log.With(zap.String("component", "server")),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	if sub, ok := provider.(Subscriber); ok {
		s.events = sub
	}
	return s
}

// AddHandlers registers the API routes on r
func (s *Server) AddHandlers(r *mux.Router) {
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/bundles", s.bundlesHandler).Methods("GET")
	api.HandleFunc("/bundles/{id}", s.bundleHandler).Methods("GET")
	api.HandleFunc("/commands", s.commandsHandler).Methods("GET")
	api.HandleFunc("/scopes/{scope}/menus", s.scopeMenusHandler).Methods("GET")
	api.HandleFunc("/problems", s.problemsHandler).Methods("GET")
	api.HandleFunc("/schema", s.schemaHandler).Methods("GET")
	api.HandleFunc("/status", s.statusHandler).Methods("GET")
	api.HandleFunc("/events", s.eventsHandler).Methods("GET")
}

// Handler returns a router with every route registered
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	s.AddHandlers(r)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reportError(w, "not found", http.StatusNotFound)
	})
	return r
}

// ListenAndServe serves on addr until ctx is cancelled
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("serving bundles", zap.String("addr", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func sendJSONResponse(w http.ResponseWriter, log *zap.Logger, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error("failed to write response", zap.Error(err))
	}
}

func reportError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(errorResponse{Error: message})
}

// registry returns the current registry or writes a 503
func (s *Server) registry(w http.ResponseWriter) *cwregistry.Registry {
	reg := s.provider.Current()
	if reg == nil {
		reportError(w, cwregistry.ErrRegistryNotLoaded.Error(), http.StatusServiceUnavailable)
	}
	return reg
}

// Summarize returns the list form of b
func Summarize(b *cwregistry.Bundle) BundleSummary {
	d := b.Descriptor
	return BundleSummary{
		ID:          b.ID,
		Name:        d.Name,
		Author:      d.Author,
		Description: d.Description,
		GitRepo:     d.GitRepo,
		Embedded:    b.Embedded,
		Menus:       len(d.Menus),
		Commands:    len(cwbundle.CommandNames(d)),
	}
}

func (s *Server) bundlesHandler(w http.ResponseWriter, r *http.Request) {
	reg := s.registry(w)
	if reg == nil {
		return
	}
	rtn := []BundleSummary{}
	for _, b := range reg.Search(r.URL.Query().Get("q")) {
		rtn = append(rtn, Summarize(b))
	}
	sendJSONResponse(w, s.log, http.StatusOK, rtn)
}

func (s *Server) bundleHandler(w http.ResponseWriter, r *http.Request) {
	reg := s.registry(w)
	if reg == nil {
		return
	}
	id := mux.Vars(r)["id"]
	b, err := reg.Get(id)
	if err != nil {
		reportError(w, "bundle "+id+" not found", http.StatusNotFound)
		return
	}
	sendJSONResponse(w, s.log, http.StatusOK, b)
}

func (s *Server) commandsHandler(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		reportError(w, "missing name parameter", http.StatusBadRequest)
		return
	}
	reg := s.registry(w)
	if reg == nil {
		return
	}
	refs := reg.FindCommand(name)
	if refs == nil {
		refs = []cwregistry.CommandRef{}
	}
	sendJSONResponse(w, s.log, http.StatusOK, refs)
}

func (s *Server) scopeMenusHandler(w http.ResponseWriter, r *http.Request) {
	scope := mux.Vars(r)["scope"]
	if !cwbundle.IsScopeIdentifier(scope) {
		reportError(w, "invalid scope "+scope, http.StatusBadRequest)
		return
	}
	reg := s.registry(w)
	if reg == nil {
		return
	}
	menus := reg.MenusForScope(scope)
	if menus == nil {
		menus = []cwregistry.MenuRef{}
	}
	sendJSONResponse(w, s.log, http.StatusOK, menus)
}

func (s *Server) problemsHandler(w http.ResponseWriter, r *http.Request) {
	reg := s.registry(w)
	if reg == nil {
		return
	}
	problems := reg.Problems
	if problems == nil {
		problems = []cwregistry.LoadProblem{}
	}
	sendJSONResponse(w, s.log, http.StatusOK, problems)
}

// statusHandler answers even before the registry is loaded
func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	status := Status{Watching: s.events != nil}
	if reg := s.provider.Current(); reg != nil {
		status.ScanID = reg.ScanID
		status.ScannedAt = reg.ScannedAt
		status.Root = reg.Root
		status.Bundles = len(reg.Bundles())
		status.Problems = len(reg.Problems)
	}
	if m, err := cwmonitor.SelfMetrics(); err == nil {
		status.Process = m
		status.Uptime = m.Uptime(time.Now()).Round(time.Second).String()
	} else {
		s.log.Debug("process metrics unavailable", zap.Error(err))
	}
	sendJSONResponse(w, s.log, http.StatusOK, status)
}

func (s *Server) schemaHandler(w http.ResponseWriter, r *http.Request) {
	data, err := cwbundle.SchemaJSON()
	if err != nil {
		reportError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/schema+json")
	w.Write(data)
}

// eventsHandler streams one JSON ScanEvent per rescan. The current registry
// is sent first so clients need no separate fetch.
func (s *Server) eventsHandler(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		reportError(w, "event stream not available", http.StatusNotImplemented)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	events, cancel := s.events.Subscribe()
	defer cancel()

	// reads only detect the client going away
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(ev cwregistry.ScanEvent) error {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(ev)
	}
	if reg := s.provider.Current(); reg != nil {
		if err := send(reg.Event()); err != nil {
			return
		}
	}

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "watcher stopped"),
					time.Now().Add(writeWait))
				return
			}
			if err := send(ev); err != nil {
				s.log.Debug("event client gone", zap.Error(err))
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
