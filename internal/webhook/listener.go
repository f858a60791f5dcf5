package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sells-group/lead-enrich/internal/store"
	"github.com/sells-group/lead-enrich/pkg/apollo"
)

// Listener is the HTTP boundary for provider callbacks. It always
// acknowledges 200 regardless of processing outcome so the provider never
// retries a delivery into an endless loop; a delivery arriving while no
// enrichment is active is acknowledged as ignored.
type Listener struct {
	correlator *Correlator

	mu sync.RWMutex
	st store.Store

	srv *http.Server
}

// NewListener creates a listener. Bind a store before deliveries are
// expected; until then every payload is acknowledged and dropped.
func NewListener(correlator *Correlator) *Listener {
	return &Listener{correlator: correlator}
}

// Bind attaches the store callbacks are correlated against.
func (l *Listener) Bind(st store.Store) {
	l.mu.Lock()
	l.st = st
	l.mu.Unlock()
}

// Unbind detaches the store; subsequent deliveries are acknowledged as
// ignored.
func (l *Listener) Unbind() {
	l.mu.Lock()
	l.st = nil
	l.mu.Unlock()
}

func (l *Listener) boundStore() store.Store {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.st
}

// Routes returns the callback routes for mounting into a larger router.
func (l *Listener) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/webhooks/apollo", l.handleApollo)
	r.Get("/healthz", l.handleHealth)
	return r
}

// Start serves the callback routes on the given port in a background
// goroutine. Use Shutdown to stop it.
func (l *Listener) Start(port int) {
	l.srv = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           l.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	zap.L().Info("starting webhook listener", zap.Int("port", port))
	go func() {
		if err := l.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zap.L().Error("webhook listener failed", zap.Error(err))
		}
	}()
}

// Shutdown gracefully stops a listener started with Start.
func (l *Listener) Shutdown(ctx context.Context) error {
	if l.srv == nil {
		return nil
	}
	return l.srv.Shutdown(ctx)
}

func (l *Listener) handleApollo(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		zap.L().Error("read callback body", zap.Error(err))
		writeAck(w, map[string]any{"status": "error"})
		return
	}

	st := l.boundStore()
	if st == nil {
		zap.L().Warn("callback received with no active enrichment")
		writeAck(w, map[string]any{"status": "ignored"})
		return
	}

	var payload apollo.WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		zap.L().Error("decode callback payload",
			zap.Error(err),
			zap.Int("body_bytes", len(body)))
		writeAck(w, map[string]any{"status": "error"})
		return
	}

	processed, err := l.correlator.Correlate(r.Context(), &payload, st)
	if err != nil {
		zap.L().Error("correlate callback", zap.Error(err))
		writeAck(w, map[string]any{"status": "error"})
		return
	}

	zap.L().Info("callback processed",
		zap.Int("people", len(payload.People)),
		zap.Int("correlated", processed))
	writeAck(w, map[string]any{"status": "received", "processed": processed})
}

func (l *Listener) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeAck(w, map[string]any{"status": "ok"})
}

// writeAck responds 200 with a small JSON body. The callback contract
// never surfaces processing failures as HTTP errors.
func writeAck(w http.ResponseWriter, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		zap.L().Error("write callback ack", zap.Error(err))
	}
}
