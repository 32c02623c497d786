package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"repairsync/internal/domain"
	"repairsync/internal/engine"
	"repairsync/internal/metrics"
	"repairsync/internal/middleware"
)

const maxBodyBytes = 1 << 20

// AuditSink stores webhook audit records.
type AuditSink interface {
	Append(ctx context.Context, rec domain.WebhookAuditRecord) error
}

// Dispatcher runs a classified event.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev Event) (engine.Result, error)
}

type Options struct {
	Verifier        Verifier
	SignatureHeader string
	DefaultLocale   string
	Logger          *zap.Logger
	Metrics         *metrics.Metrics
	// Limiter throttles deliveries; nil disables throttling.
	Limiter *rate.Limiter
}

// Handler is the inbound RemOnline webhook endpoint.
type Handler struct {
	dispatcher Dispatcher
	sink       AuditSink
	verifier   Verifier
	header     string
	locale     string
	logger     *zap.Logger
	metrics    *metrics.Metrics
	limiter    *rate.Limiter
}

func NewHandler(d Dispatcher, sink AuditSink, opts Options) *Handler {
	h := &Handler{
		dispatcher: d,
		sink:       sink,
		verifier:   opts.Verifier,
		header:     opts.SignatureHeader,
		locale:     opts.DefaultLocale,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
		limiter:    opts.Limiter,
	}
	if h.header == "" {
		h.header = DefaultSignatureHeader
	}
	if h.locale == "" {
		h.locale = "uk"
	}
	if h.logger == nil {
		h.logger = zap.NewNop()
	}
	return h
}

type successResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type errorResponse struct {
	Success *bool  `json:"success,omitempty"`
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// delivery carries what every audit record of one request shares.
type delivery struct {
	eventType string
	group     string
	payload   string
	requestID string
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	body, readErr := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	d := delivery{
		eventType: "unknown",
		group:     groupUnknown,
		payload:   string(body),
		requestID: middleware.GetRequestID(ctx),
	}

	env, err := Parse(body)
	if readErr != nil {
		err = readErr
	}
	var invalid error
	if errors.Is(err, ErrFieldType) {
		invalid, err = err, nil
	}
	if err == nil {
		d.eventType = env.EventType()
		d.group = env.Group()
	}
	h.audit(ctx, d, domain.AuditReceived, "Webhook received", nil)
	h.logger.Info("webhook_received",
		zap.String("event_type", d.eventType),
		zap.String("request_id", d.requestID),
	)

	if h.limiter != nil && !h.limiter.Allow() {
		h.logger.Warn("webhook_throttled", zap.String("event_type", d.eventType), zap.String("request_id", d.requestID))
		w.Header().Set("Retry-After", "1")
		h.finish(ctx, w, d, domain.AuditFailed, "Too many requests", nil,
			http.StatusTooManyRequests, errorResponse{Error: "Too many requests"})
		return
	}

	if err != nil {
		h.logger.Error("webhook_parse_failed", zap.String("request_id", d.requestID), zap.Error(err))
		h.finish(ctx, w, d, domain.AuditError, "Failed to parse webhook: "+err.Error(), nil,
			http.StatusInternalServerError, failure("Failed to process webhook", err.Error()))
		return
	}

	switch h.verifier.Check(r.Header.Get(h.header), body) {
	case signatureInvalid:
		h.logger.Warn("webhook_signature_invalid", zap.String("event_type", d.eventType), zap.String("request_id", d.requestID))
		h.finish(ctx, w, d, domain.AuditFailed, "Invalid signature", nil,
			http.StatusUnauthorized, errorResponse{Error: "Invalid signature"})
		return
	case signatureBypassed:
		h.logger.Warn("webhook_signature_bypassed", zap.String("event_type", d.eventType), zap.String("request_id", d.requestID))
	}

	if env.EventName == "" {
		h.finish(ctx, w, d, domain.AuditFailed, "No event type", nil,
			http.StatusBadRequest, errorResponse{Error: "No event type"})
		return
	}
	if invalid == nil {
		invalid = env.Validate()
	}
	if invalid != nil {
		h.finish(ctx, w, d, domain.AuditFailed, invalid.Error(), nil,
			http.StatusBadRequest, errorResponse{Error: "Invalid payload", Details: invalid.Error()})
		return
	}

	locale := strings.TrimSpace(r.URL.Query().Get("locale"))
	if locale == "" {
		locale = h.locale
	}
	start := time.Now()
	res, err := h.dispatcher.Dispatch(ctx, Classify(env, locale))
	took := time.Since(start)
	ms := took.Milliseconds()
	h.metrics.ObserveWebhook(d.group, terminalStatus(err), took)

	if err != nil {
		h.logger.Error("webhook_processing_failed",
			zap.String("event_type", d.eventType),
			zap.String("request_id", d.requestID),
			zap.Duration("duration", took),
			zap.Error(err),
		)
		h.finish(ctx, w, d, domain.AuditError, err.Error(), &ms,
			http.StatusInternalServerError, failure("Failed to process webhook", err.Error()))
		return
	}
	h.logger.Info("webhook_processed",
		zap.String("event_type", d.eventType),
		zap.Bool("processed", res.Processed),
		zap.String("request_id", d.requestID),
		zap.Duration("duration", took),
	)
	h.finish(ctx, w, d, domain.AuditSuccess, res.Message, &ms,
		http.StatusOK, successResponse{Success: true, Message: res.Message})
}

func terminalStatus(err error) string {
	if err != nil {
		return domain.AuditError
	}
	return domain.AuditSuccess
}

func failure(msg, details string) errorResponse {
	f := false
	return errorResponse{Success: &f, Error: msg, Details: details}
}

// finish writes the terminal audit record and the response.
func (h *Handler) finish(ctx context.Context, w http.ResponseWriter, d delivery, status, message string, ms *int64, code int, body any) {
	h.audit(ctx, d, status, message, ms)
	if ms == nil {
		h.metrics.ObserveWebhook(d.group, status, 0)
	}
	writeJSON(w, code, body)
}

// audit is the single best-effort write to the sink. Failures are
// logged and never change the response.
func (h *Handler) audit(ctx context.Context, d delivery, status, message string, ms *int64) {
	if h.sink == nil {
		return
	}
	rec := domain.WebhookAuditRecord{
		EventType:        d.eventType,
		Status:           status,
		Message:          message,
		ProcessingTimeMs: ms,
		WebhookData:      d.payload,
		RequestID:        d.requestID,
	}
	if err := h.sink.Append(context.WithoutCancel(ctx), rec); err != nil {
		h.logger.Error("audit_write_failed",
			zap.String("status", status),
			zap.String("event_type", d.eventType),
			zap.String("request_id", d.requestID),
			zap.Error(err),
		)
	}
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
