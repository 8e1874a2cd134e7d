// Package webhook is the ingress gate for payment processor events.
//
// Inbound traffic runs through a strict chain: rate limit, structural
// validation, idempotency, signature verification, and only then the
// lifecycle service. Validation runs before the idempotency check so
// malformed noise never pollutes the dedup cache, and the signature
// check runs over the exact raw body bytes.
//
// Once an event clears ingress the gateway acknowledges it
// unconditionally: a failing HTTP status would trigger provider
// retries with exponential backoff and amplify load. Failed business
// processing is dead-lettered and logged instead of surfaced.
package webhook

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/priceradar/billingkit/pkg/billing"
	"github.com/priceradar/billingkit/pkg/clientip"
	"github.com/priceradar/billingkit/pkg/idempotency"
	"github.com/priceradar/billingkit/pkg/ratelimit"
	"github.com/priceradar/billingkit/pkg/signature"
)

// Config holds gateway settings loaded from the environment.
type Config struct {
	Secret            string        `env:"WEBHOOK_SECRET,required"`
	SignatureHeader   string        `env:"WEBHOOK_SIGNATURE_HEADER" envDefault:"X-Signature"`
	MaxBodyBytes      int64         `env:"WEBHOOK_MAX_BODY_BYTES" envDefault:"1048576"`
	IdempotencyWindow time.Duration `env:"WEBHOOK_IDEMPOTENCY_WINDOW" envDefault:"5m"`
}

// Gateway orchestrates the ingress chain and hands validated events to
// the lifecycle service.
type Gateway struct {
	cfg         Config
	svc         *billing.Service
	guard       *idempotency.Guard
	deadLetters billing.DeadLetterStore
	log         *slog.Logger
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithLogger sets the gateway logger.
func WithLogger(log *slog.Logger) Option {
	return func(g *Gateway) {
		if log != nil {
			g.log = log
		}
	}
}

// WithDeadLetterStore sets where failed business processing is
// recorded for operator replay.
func WithDeadLetterStore(store billing.DeadLetterStore) Option {
	return func(g *Gateway) {
		if store != nil {
			g.deadLetters = store
		}
	}
}

// NewGateway creates a Gateway. Panics if svc or guard is nil to fail
// fast during initialization.
func NewGateway(cfg Config, svc *billing.Service, guard *idempotency.Guard, opts ...Option) *Gateway {
	if svc == nil {
		panic("webhook: billing service is required")
	}
	if guard == nil {
		panic("webhook: idempotency guard is required")
	}

	g := &Gateway{
		cfg:         cfg,
		svc:         svc,
		guard:       guard,
		deadLetters: billing.NewMemoryDeadLetterStore(),
		log:         slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Router mounts the webhook endpoint with the rate limiter applied.
func (g *Gateway) Router(limiter *ratelimit.Limiter) chi.Router {
	r := chi.NewRouter()
	r.Use(ratelimit.Middleware(limiter, clientip.GetIP, g.log))
	r.Post("/webhooks/{provider}", g.Handle)
	return r
}

// envelope is the inbound event wrapper.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// eventData is the provider's data object for order and subscription
// events.
type eventData struct {
	OrderID   string           `json:"order_id"`
	ProductID string           `json:"product_id"`
	Currency  string           `json:"currency"`
	Customer  billing.Customer `json:"customer"`
	Payment   billing.Payment  `json:"payment"`
}

type response struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Handle processes one inbound webhook delivery.
func (g *Gateway) Handle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	provider := chi.URLParam(r, "provider")

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, g.cfg.MaxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, response{Success: false, Error: "unreadable request body"})
		return
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		writeJSON(w, http.StatusBadRequest, response{Success: false, Error: "malformed JSON payload"})
		return
	}

	var data eventData
	if len(env.Data) > 0 {
		// Field errors surface during structural validation below.
		_ = json.Unmarshal(env.Data, &data)
	}

	// Audit every delivery before any rejection so rejected and
	// duplicate traffic stays forensically visible.
	g.log.InfoContext(ctx, "webhook received",
		slog.String("provider", provider),
		slog.String("event", env.Event),
		slog.String("order_id", data.OrderID),
		slog.String("email", data.Customer.Email))

	if err := validateEnvelope(env, data); err != nil {
		writeJSON(w, http.StatusBadRequest, response{Success: false, Error: err.Error()})
		return
	}

	// Dedup before the signature check mirrors provider retry
	// behavior: the same signed payload is re-sent verbatim, so a
	// duplicate is short-circuited without burning an HMAC.
	if data.OrderID != "" {
		duplicate, err := g.guard.Check(ctx, data.OrderID)
		if err != nil {
			g.log.ErrorContext(ctx, "idempotency store failure, processing anyway",
				slog.String("order_id", data.OrderID),
				slog.Any("error", err))
		} else if duplicate {
			g.log.InfoContext(ctx, "duplicate delivery ignored",
				slog.String("order_id", data.OrderID))
			writeJSON(w, http.StatusOK, response{Success: true, Message: "duplicate event ignored"})
			return
		}
	}

	provided := r.Header.Get(g.cfg.SignatureHeader)
	if err := signature.Verify(g.cfg.Secret, body, provided); err != nil {
		g.log.WarnContext(ctx, "signature verification failed",
			slog.String("order_id", data.OrderID),
			slog.Any("error", err))
		writeJSON(w, http.StatusUnauthorized, response{Success: false, Error: "invalid signature"})
		return
	}

	ev := billing.Event{
		Type:      billing.EventType(env.Event),
		OrderID:   data.OrderID,
		ProductID: data.ProductID,
		Currency:  data.Currency,
		Customer:  data.Customer,
		Payment:   data.Payment,
		Raw:       env.Data,
	}

	// Past this point the processor always gets a 200: its retry
	// policy must not be driven by our internal failures.
	if err := g.svc.HandleEvent(ctx, ev); err != nil {
		g.log.ErrorContext(ctx, "event processing failed",
			slog.String("event", env.Event),
			slog.String("order_id", data.OrderID),
			slog.Any("error", err))

		if dlErr := g.deadLetters.Add(ctx, &billing.DeadLetter{
			Event:  ev,
			Reason: err.Error(),
		}); dlErr != nil {
			g.log.ErrorContext(ctx, "failed to dead-letter event",
				slog.String("order_id", data.OrderID),
				slog.Any("error", dlErr))
		}

		writeJSON(w, http.StatusOK, response{Success: true, Message: "event accepted"})
		return
	}

	writeJSON(w, http.StatusOK, response{Success: true, Message: "event processed"})
}

// validateEnvelope enforces structural completeness before any state
// is touched.
func validateEnvelope(env envelope, data eventData) error {
	if strings.TrimSpace(env.Event) == "" {
		return errors.New("event name is required")
	}
	if len(env.Data) == 0 {
		return errors.New("event data is required")
	}

	if strings.HasPrefix(env.Event, "order.") || strings.HasPrefix(env.Event, "subscription.") {
		if data.OrderID == "" {
			return errors.New("data.order_id is required")
		}
		if data.Customer.Email == "" {
			return errors.New("data.customer.email is required")
		}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, resp response) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
