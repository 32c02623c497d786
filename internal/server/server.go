package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"repairsync/internal/domain"
	"repairsync/internal/engine"
	"repairsync/internal/metrics"
	"repairsync/internal/middleware"
	"repairsync/internal/repo"
	"repairsync/internal/status"
)

// Config for the HTTP handler: the admin API plus the webhook route.
type Config struct {
	Engine   engine.Engine
	Statuses *status.Lookup
	BasePath string
	Auth     AuthConfig

	// Webhook is mounted at WebhookPath outside the authenticated API.
	Webhook     http.Handler
	WebhookPath string

	Metrics        *metrics.Metrics
	Logger         *zap.Logger
	CORSOrigins    []string
	TrustRequestID bool
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"order 42 not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"external_id\":42}"`
}

// apiError models the required error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the repairsync API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Auth.Logger == nil {
		cfg.Auth.Logger = cfg.Logger
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the requested envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID(cfg.TrustRequestID))
	router.Use(middleware.AccessLog(cfg.Logger, cfg.Metrics))
	if len(cfg.CORSOrigins) > 0 {
		router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.CORSOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", middleware.RequestIDHeader},
			ExposedHeaders:   []string{middleware.RequestIDHeader},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}
	router.Use(newAuthMiddleware(basePath, cfg.Auth))

	if cfg.Webhook != nil {
		webhookPath := cfg.WebhookPath
		if webhookPath == "" {
			webhookPath = "/webhooks/remonline"
		}
		router.Post(webhookPath, cfg.Webhook.ServeHTTP)
	}
	router.Handle("/metrics", cfg.Metrics.Handler())

	hcfg := huma.DefaultConfig("repairsync API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerOrders(group, cfg.Engine, cfg.Logger)
	registerWebhookLogs(group, cfg.Engine.Repo)
	registerStatuses(group, cfg.Engine.Repo, cfg.Statuses)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	if errors.Is(err, repo.ErrNotFound) || errors.Is(err, engine.ErrOrderNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	if errors.Is(err, repo.ErrDuplicate) {
		return newAPIError(http.StatusConflict, "conflict", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	security := []map[string][]string{{"bearerAuth": {}}}
	oas.Security = security
	healthPath := path.Join("/", basePath, "health")
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>repairsync API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; (see <code>repairsync token</code>).
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerOrders(api huma.API, e engine.Engine, logger *zap.Logger) {
	huma.Register(api, huma.Operation{
		OperationID: "list-orders",
		Method:      http.MethodGet,
		Path:        "/orders",
		Summary:     "List synchronized repair orders",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Status string `query:"status" doc:"RemOnline status id"`
		Limit  int    `query:"limit" default:"50"`
		Cursor string `query:"cursor"`
	}) (*struct {
		Body paginatedOrders `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		cursorUpdated, cursorID, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		orders, err := e.Repo.ListOrders(ctx, repo.OrderFilters{
			StatusCode:      input.Status,
			Limit:           limit + 1,
			CursorUpdatedAt: cursorUpdated,
			CursorID:        cursorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedOrders{}
		if len(orders) > limit {
			last := orders[limit-1]
			resp.NextCursor = composeCursor(last.UpdatedAt, last.ID)
			orders = orders[:limit]
		}
		resp.Items = mapOrders(orders)
		return &struct {
			Body paginatedOrders `json:"body"`
		}{Body: resp}, nil
	})

	type orderPath struct {
		ExternalID int64 `path:"external_id" minimum:"1"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "get-order",
		Method:      http.MethodGet,
		Path:        "/orders/{external_id}",
		Summary:     "Get a repair order with its service lines",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *orderPath) (*struct {
		Body OrderResponse `json:"body"`
	}, error) {
		resp, err := loadOrder(ctx, e.Repo, input.ExternalID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body OrderResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-order-status",
		Method:      http.MethodPost,
		Path:        "/orders/{external_id}/status",
		Summary:     "Set the status of a synchronized order",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ExternalID int64 `path:"external_id" minimum:"1"`
		Body       UpdateOrderStatusRequest
	}) (*struct {
		Body OrderResponse `json:"body"`
	}, error) {
		if input.Body.StatusID <= 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "status_id is required", map[string]any{"field": "status_id"})
		}
		err := e.Orders.UpdateOrderStatus(ctx, engine.StatusUpdate{
			ExternalID:  input.ExternalID,
			StatusID:    input.Body.StatusID,
			Locale:      strings.TrimSpace(input.Body.Locale),
			BypassCache: input.Body.BypassCache,
		})
		if err != nil {
			return nil, handleError(err)
		}
		if p, ok := principalFromContext(ctx); ok {
			logger.Info("admin_status_override",
				zap.String("subject", p.Subject),
				zap.Int64("external_id", input.ExternalID),
				zap.Int64("status_id", input.Body.StatusID),
				zap.String("request_id", middleware.GetRequestID(ctx)),
			)
		}
		resp, err := loadOrder(ctx, e.Repo, input.ExternalID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body OrderResponse `json:"body"`
		}{Body: resp}, nil
	})
}

func loadOrder(ctx context.Context, r repo.Repo, externalID int64) (OrderResponse, error) {
	o, err := r.FindByExternalID(ctx, externalID)
	if err != nil {
		return OrderResponse{}, fmt.Errorf("order %d: %w", externalID, err)
	}
	lines, err := r.ListLineItems(ctx, o.ID)
	if err != nil {
		return OrderResponse{}, err
	}
	return orderResponse(o, lines), nil
}

func registerWebhookLogs(api huma.API, r repo.Repo) {
	huma.Register(api, huma.Operation{
		OperationID: "list-webhook-logs",
		Method:      http.MethodGet,
		Path:        "/webhook-logs",
		Summary:     "List webhook delivery audit records",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Status      string `query:"status" enum:"received,success,failed,error"`
		EventType   string `query:"event_type"`
		RequestID   string `query:"request_id"`
		WithPayload bool   `query:"with_payload"`
		Limit       int    `query:"limit" default:"50"`
		Cursor      string `query:"cursor"`
	}) (*struct {
		Body paginatedWebhookLogs `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := r.ListWebhookLogs(ctx, repo.WebhookLogFilters{
			Status:    input.Status,
			EventType: input.EventType,
			RequestID: input.RequestID,
			Limit:     limit + 1,
			CursorID:  cursorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedWebhookLogs{Items: []WebhookLogResponse{}}
		if len(items) > limit {
			resp.NextCursor = strconv.FormatInt(items[limit-1].ID, 10)
			items = items[:limit]
		}
		for _, rec := range items {
			resp.Items = append(resp.Items, webhookLogResponse(rec, input.WithPayload))
		}
		return &struct {
			Body paginatedWebhookLogs `json:"body"`
		}{Body: resp}, nil
	})
}

func registerStatuses(api huma.API, r repo.Repo, lookup *status.Lookup) {
	huma.Register(api, huma.Operation{
		OperationID: "list-statuses",
		Method:      http.MethodGet,
		Path:        "/statuses",
		Summary:     "List the localized status catalog",
	}, func(ctx context.Context, input *struct {
		Locale string `query:"locale"`
	}) (*struct {
		Body []StatusResponse `json:"body"`
	}, error) {
		items, err := r.ListStatuses(ctx, strings.TrimSpace(input.Locale))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []StatusResponse `json:"body"`
		}{Body: mapStatuses(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "put-status",
		Method:      http.MethodPut,
		Path:        "/statuses/{status_id}/{locale}",
		Summary:     "Create or replace a status definition",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		StatusID int64  `path:"status_id" minimum:"1"`
		Locale   string `path:"locale"`
		Body     PutStatusRequest
	}) (*struct {
		Body StatusResponse `json:"body"`
	}, error) {
		name := strings.TrimSpace(input.Body.Name)
		if name == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "name is required", map[string]any{"field": "name"})
		}
		color := strings.TrimSpace(input.Body.Color)
		if color == "" {
			color = status.FallbackColor
		}
		def := domain.StatusDefinition{
			StatusID:  input.StatusID,
			Locale:    strings.TrimSpace(input.Locale),
			Name:      name,
			Color:     color,
			UpdatedAt: time.Now().UTC().Format(time.RFC3339),
		}
		if err := r.UpsertStatus(ctx, def); err != nil {
			return nil, handleError(err)
		}
		if lookup != nil && lookup.Cache() != nil {
			lookup.Cache().InvalidateStatus(def.StatusID)
		}
		return &struct {
			Body StatusResponse `json:"body"`
		}{Body: statusResponse(def)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "clear-status-cache",
		Method:      http.MethodDelete,
		Path:        "/statuses/cache",
		Summary:     "Drop every cached status resolution",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body CacheClearResponse `json:"body"`
	}, error) {
		resp := CacheClearResponse{}
		if lookup != nil && lookup.Cache() != nil {
			resp.Cleared = lookup.Cache().Len()
			lookup.Cache().Invalidate()
		}
		return &struct {
			Body CacheClearResponse `json:"body"`
		}{Body: resp}, nil
	})
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}

func parseCompositeCursor(cursor string) (string, int64, error) {
	if cursor == "" {
		return "", 0, nil
	}
	parts := strings.SplitN(cursor, "|", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", 0, fmt.Errorf("invalid cursor")
	}
	id, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || id <= 0 {
		return "", 0, fmt.Errorf("invalid cursor")
	}
	return parts[0], id, nil
}

func composeCursor(ts string, id int64) string {
	if ts == "" || id == 0 {
		return ""
	}
	return ts + "|" + strconv.FormatInt(id, 10)
}
