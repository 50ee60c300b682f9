package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"taxline/internal/derive"
	"taxline/internal/domain"
	"taxline/internal/engine"
	"taxline/internal/metadata"
	"taxline/internal/providers"
	"taxline/internal/reconcile"
	"taxline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine     engine.Engine
	Signatures providers.SignatureProvider
	Payments   providers.PaymentProvider
	BasePath   string
	Auth       AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"invalid_status_transition"`
	Message string         `json:"message" example:"invalid agreement status transition DRAFT -> COMPLETED"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"status\":\"COMPLETED\"}"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the required error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Taxline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
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
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Taxline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerClients(group, cfg.Engine)
	registerClientStatus(group, cfg.Engine)
	registerAgreements(group, cfg.Engine)
	registerSigning(group, cfg.Engine, cfg.Signatures)
	registerTodos(group, cfg.Engine)
	registerDocuments(group, cfg.Engine)
	registerCharges(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerMe(group)
	registerDevAuth(group, cfg.Auth)
	registerOpenAPI(router, api, basePath)

	startWebhookDispatcher(cfg.Engine)

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
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "transition"):
		return newAPIError(http.StatusConflict, "invalid_status_transition", msg, nil)
	case strings.Contains(lowered, "already paid"):
		return newAPIError(http.StatusConflict, "conflict", msg, nil)
	case strings.Contains(lowered, "outstanding"),
		strings.Contains(lowered, "not approved"),
		strings.Contains(lowered, "cannot send strategy"),
		strings.Contains(lowered, "cannot charge"):
		return newAPIError(http.StatusUnprocessableEntity, "validation_failed", msg, nil)
	case strings.Contains(lowered, "invalid") ||
		strings.Contains(lowered, "unknown") ||
		strings.Contains(lowered, "missing") ||
		strings.Contains(lowered, "required") ||
		strings.Contains(lowered, "must be"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
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
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	healthPath := path.Join(basePath, "health")
	devLoginPath := path.Join(basePath, "auth/dev/login")
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
	if !strings.HasPrefix(devLoginPath, "/") {
		devLoginPath = "/" + devLoginPath
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath || route == devLoginPath {
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
    <title>Taxline API Docs</title>
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
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
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

func registerClients(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-client",
		Method:        http.MethodPost,
		Path:          "/clients",
		Summary:       "Create client",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateClientRequest `json:"body"`
	}) (*struct {
		Body ClientResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.Name == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "name is required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.CreateClient(ctx, input.Body.Name, input.Body.Email, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ClientResponse `json:"body"`
		}{Body: clientResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-clients",
		Method:      http.MethodGet,
		Path:        "/clients",
		Summary:     "List clients",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []ClientResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListClients(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ClientResponse `json:"body"`
		}{Body: mapClients(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-client",
		Method:      http.MethodGet,
		Path:        "/clients/{client_id}",
		Summary:     "Get client",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ClientID string `path:"client_id"`
	}) (*struct {
		Body ClientResponse `json:"body"`
	}, error) {
		c, err := e.Repo.GetClient(ctx, input.ClientID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ClientResponse `json:"body"`
		}{Body: clientResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "link-compliance-reviewer",
		Method:        http.MethodPost,
		Path:          "/clients/{client_id}/compliance-reviewers",
		Summary:       "Link compliance reviewer",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ClientID string                        `path:"client_id"`
		Body     LinkComplianceReviewerRequest `json:"body"`
	}) (*struct {
		Body ComplianceLinkResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		l, err := e.LinkComplianceReviewer(ctx, input.ClientID, input.Body.ReviewerID, input.Body.Name, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ComplianceLinkResponse `json:"body"`
		}{Body: complianceLinkResponse(l)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-compliance-reviewers",
		Method:      http.MethodGet,
		Path:        "/clients/{client_id}/compliance-reviewers",
		Summary:     "List compliance reviewers",
	}, func(ctx context.Context, input *struct {
		ClientID string `path:"client_id"`
	}) (*struct {
		Body []ComplianceLinkResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListComplianceLinks(ctx, input.ClientID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ComplianceLinkResponse `json:"body"`
		}{Body: mapComplianceLinks(items)}, nil
	})
}

func registerClientStatus(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "client-status",
		Method:      http.MethodGet,
		Path:        "/clients/{client_id}/status",
		Summary:     "Derived status for each of the client's agreements",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ClientID string `path:"client_id"`
	}) (*struct {
		Body ClientStatusResponse `json:"body"`
	}, error) {
		if _, err := e.Repo.GetClient(ctx, input.ClientID); err != nil {
			return nil, handleError(err)
		}
		agreements, err := e.Repo.ListAgreements(ctx, input.ClientID)
		if err != nil {
			return nil, handleError(err)
		}
		resp := ClientStatusResponse{ClientID: input.ClientID, Agreements: []AgreementProjection{}}
		for _, ag := range agreements {
			proj, err := projectAgreement(ctx, e, ag)
			if err != nil {
				return nil, handleError(err)
			}
			resp.Agreements = append(resp.Agreements, proj)
		}
		return &struct {
			Body ClientStatusResponse `json:"body"`
		}{Body: resp}, nil
	})
}

// projectAgreement recomputes the derived view for one agreement from its
// raw records.
func projectAgreement(ctx context.Context, e engine.Engine, ag domain.Agreement) (AgreementProjection, error) {
	todos, err := e.Repo.ListTodos(ctx, ag.ID)
	if err != nil {
		return AgreementProjection{}, err
	}
	docs, err := e.Repo.ListDocuments(ctx, ag.ID)
	if err != nil {
		return AgreementProjection{}, err
	}
	byID := make(map[string]domain.Document, len(docs))
	for _, d := range docs {
		byID[d.ID] = d
	}
	counts := derive.CountDocuments(todos, byID)

	var strategyDoc *domain.Document
	if meta := metadata.Extract(ag.Description); meta != nil && meta.StrategyDocumentID != "" {
		if doc, ok := byID[meta.StrategyDocumentID]; ok {
			strategyDoc = &doc
		}
	}
	step5 := derive.ResolveStep5(ag.Status, strategyDoc)

	paid := domain.StatusPaid(ag.Status)
	if !paid {
		charges, err := e.Repo.ListCharges(ctx, ag.ID)
		if err != nil {
			return AgreementProjection{}, err
		}
		for _, ch := range charges {
			if ch.Status == domain.ChargePaid {
				paid = true
				break
			}
		}
	}

	return AgreementProjection{
		AgreementID:     ag.ID,
		Status:          ag.Status,
		StatusKey:       derive.ComputeStatusKey(ag, paid, counts, step5),
		WorkflowGroup:   derive.ComputeWorkflowGroup(ag, step5),
		PaymentReceived: paid,
		Documents: DocumentsProgress{
			Total:     counts.Total,
			Uploaded:  counts.Uploaded,
			Accepted:  counts.Accepted,
			Satisfied: counts.AllAccepted(),
		},
		Step5: step5,
	}, nil
}

func registerAgreements(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-agreement",
		Method:        http.MethodPost,
		Path:          "/clients/{client_id}/agreements",
		Summary:       "Create agreement",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ClientID string                 `path:"client_id"`
		Body     CreateAgreementRequest `json:"body"`
	}) (*struct {
		Body AgreementResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		desc := ""
		if input.Body.Description != nil {
			desc = *input.Body.Description
		}
		a, err := e.CreateAgreement(ctx, input.ClientID, desc, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AgreementResponse `json:"body"`
		}{Body: agreementResponse(a)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-agreements",
		Method:      http.MethodGet,
		Path:        "/clients/{client_id}/agreements",
		Summary:     "List agreements, newest first",
	}, func(ctx context.Context, input *struct {
		ClientID string `path:"client_id"`
	}) (*struct {
		Body []AgreementResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListAgreements(ctx, input.ClientID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []AgreementResponse `json:"body"`
		}{Body: mapAgreements(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-agreement",
		Method:      http.MethodGet,
		Path:        "/agreements/{id}",
		Summary:     "Get agreement",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body AgreementResponse `json:"body"`
	}, error) {
		a, err := e.Repo.GetAgreement(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AgreementResponse `json:"body"`
		}{Body: agreementResponse(a)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "send-agreement",
		Method:      http.MethodPost,
		Path:        "/agreements/{id}/send",
		Summary:     "Send agreement for signature",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID   string               `path:"id"`
		Body SendAgreementRequest `json:"body"`
	}) (*struct {
		Body AgreementResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.SendAgreement(ctx, input.ID, input.Body.EnvelopeID, input.Body.Price, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AgreementResponse `json:"body"`
		}{Body: agreementResponse(a)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-agreement-status",
		Method:      http.MethodPatch,
		Path:        "/agreements/{id}/status",
		Summary:     "Update agreement status",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID   string                    `path:"id"`
		Body SetAgreementStatusRequest `json:"body"`
	}) (*struct {
		Body AgreementResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.Status == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "status is required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.UpdateAgreementStatus(ctx, input.ID, input.Body.Status, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AgreementResponse `json:"body"`
		}{Body: agreementResponse(a)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cancel-agreement",
		Method:      http.MethodPost,
		Path:        "/agreements/{id}/cancel",
		Summary:     "Cancel agreement",
		Errors: []int{
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body AgreementResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.CancelAgreement(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AgreementResponse `json:"body"`
		}{Body: agreementResponse(a)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "advance-to-strategy",
		Method:      http.MethodPost,
		Path:        "/agreements/{id}/advance",
		Summary:     "Advance to strategy once all documents are accepted",
		Errors: []int{
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body AgreementResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.AdvanceToStrategy(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AgreementResponse `json:"body"`
		}{Body: agreementResponse(a)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "send-strategy",
		Method:        http.MethodPost,
		Path:          "/agreements/{id}/strategy",
		Summary:       "Send or resend the strategy document for review",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ID   string              `path:"id"`
		Body SendStrategyRequest `json:"body"`
	}) (*struct {
		Body DocumentResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		d, err := e.SendStrategy(ctx, input.ID, input.Body.Name, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DocumentResponse `json:"body"`
		}{Body: documentResponse(d)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "finalize-agreement",
		Method:      http.MethodPost,
		Path:        "/agreements/{id}/finalize",
		Summary:     "Complete the engagement after both approvals",
		Errors: []int{
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body AgreementResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.FinalizeAgreement(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AgreementResponse `json:"body"`
		}{Body: agreementResponse(a)}, nil
	})
}

func registerSigning(api huma.API, e engine.Engine, signatures providers.SignatureProvider) {
	huma.Register(api, huma.Operation{
		OperationID: "agreement-signing-info",
		Method:      http.MethodGet,
		Path:        "/agreements/{id}/signing",
		Summary:     "Signing snapshot, reconciled against the signature host",
		Errors: []int{
			http.StatusNotFound,
			http.StatusBadGateway,
		},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body SigningInfoResponse `json:"body"`
	}, error) {
		if signatures == nil {
			return nil, newAPIError(http.StatusBadGateway, "provider_unavailable", "signature provider not configured", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ag, err := e.Repo.GetAgreement(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		signing := reconcile.Signing{
			Envelopes: signatures,
			Status:    engineStatusUpdater{e: e, actorID: actorID},
		}
		reload, err := signing.CheckEnvelope(ctx, ag)
		if err != nil {
			return nil, newAPIError(http.StatusBadGateway, "provider_unavailable", err.Error(), nil)
		}
		if reload {
			if ag, err = e.Repo.GetAgreement(ctx, input.ID); err != nil {
				return nil, handleError(err)
			}
		}
		info, err := signing.SigningInfo(ctx, ag)
		if err != nil {
			return nil, newAPIError(http.StatusBadGateway, "provider_unavailable", err.Error(), nil)
		}
		return &struct {
			Body SigningInfoResponse `json:"body"`
		}{Body: SigningInfoResponse{
			StrategistHasSigned:   info.StrategistHasSigned,
			ClientHasSigned:       info.ClientHasSigned,
			StrategistCeremonyURL: info.StrategistCeremonyURL,
			SignedDocumentURL:     info.SignedDocumentURL,
			ReloadNeeded:          reload,
		}}, nil
	})
}

// engineStatusUpdater lets the reconcilers issue their auto-advance through
// the engine's guarded status writer.
type engineStatusUpdater struct {
	e       engine.Engine
	actorID string
}

func (u engineStatusUpdater) UpdateAgreementStatus(ctx context.Context, agreementID, status string) error {
	_, err := u.e.UpdateAgreementStatus(ctx, agreementID, status, u.actorID)
	return err
}

func registerTodos(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-todos",
		Method:      http.MethodGet,
		Path:        "/agreements/{id}/todos",
		Summary:     "List todos",
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body []TodoResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListTodos(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []TodoResponse `json:"body"`
		}{Body: mapTodos(items)}, nil
	})
}

func registerDocuments(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "request-document",
		Method:        http.MethodPost,
		Path:          "/agreements/{id}/documents",
		Summary:       "Request a document from the client",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID   string                 `path:"id"`
		Body RequestDocumentRequest `json:"body"`
	}) (*struct {
		Body TodoResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		todo, err := e.RequestDocument(ctx, input.ID, input.Body.Title, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TodoResponse `json:"body"`
		}{Body: todoResponse(todo)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-documents",
		Method:      http.MethodGet,
		Path:        "/agreements/{id}/documents",
		Summary:     "List documents",
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body []DocumentResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListDocuments(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []DocumentResponse `json:"body"`
		}{Body: mapDocuments(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "upload-document",
		Method:      http.MethodPost,
		Path:        "/documents/{id}/upload",
		Summary:     "Record a client upload",
		Errors: []int{
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID   string                `path:"id"`
		Body UploadDocumentRequest `json:"body"`
	}) (*struct {
		Body DocumentResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		d, err := e.MarkDocumentUploaded(ctx, input.ID, input.Body.Name, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DocumentResponse `json:"body"`
		}{Body: documentResponse(d)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-document-acceptance",
		Method:      http.MethodPatch,
		Path:        "/documents/{id}/acceptance",
		Summary:     "Update document acceptance",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID   string               `path:"id"`
		Body SetAcceptanceRequest `json:"body"`
	}) (*struct {
		Body DocumentResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		d, err := e.UpdateDocumentAcceptance(ctx, input.ID, input.Body.Status, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DocumentResponse `json:"body"`
		}{Body: documentResponse(d)}, nil
	})
}

func registerCharges(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-charge",
		Method:        http.MethodPost,
		Path:          "/agreements/{id}/charges",
		Summary:       "Create charge",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID   string              `path:"id"`
		Body CreateChargeRequest `json:"body"`
	}) (*struct {
		Body ChargeResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.CreateCharge(ctx, input.ID, input.Body.Amount, input.Body.Currency, input.Body.Description, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ChargeResponse `json:"body"`
		}{Body: chargeResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-charges",
		Method:      http.MethodGet,
		Path:        "/agreements/{id}/charges",
		Summary:     "List charges",
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body []ChargeResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListCharges(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ChargeResponse `json:"body"`
		}{Body: mapCharges(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "charge-payment-link",
		Method:      http.MethodPost,
		Path:        "/charges/{id}/payment-link",
		Summary:     "Generate payment link",
		Errors: []int{
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body PaymentLinkResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		url, err := e.GeneratePaymentLink(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PaymentLinkResponse `json:"body"`
		}{Body: PaymentLinkResponse{ChargeID: input.ID, URL: url}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "mark-charge-paid",
		Method:      http.MethodPost,
		Path:        "/charges/{id}/paid",
		Summary:     "Record a settled charge",
		Errors: []int{
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body ChargeResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.MarkChargePaid(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ChargeResponse `json:"body"`
		}{Body: chargeResponse(c)}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		AgreementID string `query:"agreement_id"`
		Limit       int    `query:"limit" default:"50"`
		Cursor      string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
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
		items, err := e.Repo.EventsAfter(ctx, limit+1, cursorID, input.AgreementID)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			resp.NextCursor = fmt.Sprintf("%d", items[limit].ID)
			items = items[:limit]
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

func registerMe(api huma.API) {
	type meResponse struct {
		ActorID string `json:"actor_id"`
		Source  string `json:"source"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
		Errors: []int{
			http.StatusUnauthorized,
		},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body meResponse `json:"body"`
	}, error) {
		p, ok := principalFromContext(ctx)
		if !ok || p.ActorID == "" {
			return nil, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
		}
		return &struct {
			Body meResponse `json:"body"`
		}{Body: meResponse{ActorID: p.ActorID, Source: p.Source}}, nil
	})
}

func registerDevAuth(api huma.API, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actor := strings.TrimSpace(input.Body.ActorID)
		if actor == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		token, err := signDevToken(authCfg.JWTSecret, actor)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}

func bodyBytes(ctx context.Context) []byte {
	if buf, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return buf
	}
	req, ok := ctx.Value(requestKey{}).(*http.Request)
	if !ok || req == nil {
		return nil
	}
	data, _ := io.ReadAll(req.Body)
	return data
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
