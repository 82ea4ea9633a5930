// Package ingress implements the two ways a MarketSignal enters the engine:
// an HTTP webhook and a Redis Pub/Sub subscription. Both funnel validated
// signals onto one channel the Engine consumes.
package ingress

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/quantdesk/tradeengine/internal/domain"
)

// Webhook is a stdlib net/http.ServeMux handler exposing
// POST /v1/send-order. It responds 200 on accepted enqueue, 400 on
// validation failure, matching spec.md §6 exactly.
type Webhook struct {
	log     *slog.Logger
	signals chan<- domain.MarketSignal
	mux     *http.ServeMux
}

// NewWebhook returns a Webhook that pushes accepted signals onto signals.
func NewWebhook(log *slog.Logger, signals chan<- domain.MarketSignal) *Webhook {
	w := &Webhook{log: log, signals: signals, mux: http.NewServeMux()}
	w.mux.HandleFunc("POST /v1/send-order", w.handleSendOrder)
	return w
}

// Handler returns the http.Handler to mount on an *http.Server.
func (w *Webhook) Handler() http.Handler {
	return w.mux
}

func (w *Webhook) handleSendOrder(rw http.ResponseWriter, r *http.Request) {
	var signal domain.MarketSignal
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&signal); err != nil {
		w.log.Warn("webhook: decode failed", "error", err)
		http.Error(rw, "invalid JSON body", http.StatusBadRequest)
		return
	}
	signal.Source = domain.SourceWebHook

	if err := signal.Validate(); err != nil {
		w.log.Warn("webhook: validation failed", "error", err)
		http.Error(rw, err.Error(), http.StatusBadRequest)
		return
	}

	select {
	case w.signals <- signal:
		rw.WriteHeader(http.StatusOK)
	case <-r.Context().Done():
		http.Error(rw, "request cancelled", http.StatusRequestTimeout)
	}
}
