package middleware

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"chat-broker/internal/domain"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/gorillamux"
)

// OpenAPIValidatorConfig holds configuration for OpenAPI validation middleware
type OpenAPIValidatorConfig struct {
	// Enabled controls whether validation is active
	Enabled bool
	// SpecPath is the path to the OpenAPI document of the room API
	SpecPath string
}

// DefaultOpenAPIValidatorConfig returns the configuration for an environment.
// Validation runs everywhere except production.
func DefaultOpenAPIValidatorConfig(environment string) *OpenAPIValidatorConfig {
	return &OpenAPIValidatorConfig{
		Enabled:  environment != "production" && environment != "prod",
		SpecPath: "api/openapi.yaml",
	}
}

// OpenAPIValidator rejects room API requests that do not match the OpenAPI
// document, answering with the same {error, code} bodies the room handlers
// use. Mount it on the routes the document describes; requests it cannot
// match are left to the router.
func OpenAPIValidator(config *OpenAPIValidatorConfig) func(next http.Handler) http.Handler {
	if config == nil {
		config = DefaultOpenAPIValidatorConfig("development")
	}

	passThrough := func(next http.Handler) http.Handler { return next }

	if !config.Enabled {
		slog.Info("OpenAPI validation disabled")
		return passThrough
	}

	router, err := loadRouter(config.SpecPath)
	if err != nil {
		// A broken document must not take the API down
		slog.Error("OpenAPI validation unavailable",
			slog.String("path", config.SpecPath),
			slog.String("error", err.Error()))
		return passThrough
	}

	slog.Info("OpenAPI validation enabled", slog.String("spec_path", config.SpecPath))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			route, pathParams, err := router.FindRoute(r)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}

			input := &openapi3filter.RequestValidationInput{
				Request:    r,
				PathParams: pathParams,
				Route:      route,
				Options: &openapi3filter.Options{
					AuthenticationFunc: openapi3filter.NoopAuthenticationFunc,
				},
			}
			if err := openapi3filter.ValidateRequest(r.Context(), input); err != nil {
				code, message := classifyValidationError(err)
				slog.Warn("request validation failed",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("code", code),
					slog.String("error", err.Error()))
				writeValidationError(w, code, message)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func loadRouter(specPath string) (routers.Router, error) {
	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = true

	doc, err := loader.LoadFromFile(specPath)
	if err != nil {
		return nil, fmt.Errorf("load spec: %w", err)
	}
	if err := doc.Validate(loader.Context); err != nil {
		return nil, fmt.Errorf("invalid spec: %w", err)
	}
	return gorillamux.NewRouter(doc)
}

// classifyValidationError maps a failed check to an error code of the room
// API. A missing text is an empty message, as the broker would report it.
func classifyValidationError(err error) (code, message string) {
	var reqErr *openapi3filter.RequestError
	if !errors.As(err, &reqErr) {
		return "invalid_request", err.Error()
	}

	if p := reqErr.Parameter; p != nil {
		switch p.Name {
		case "room":
			return string(domain.KindInvalidRoom), domain.ErrInvalidRoom.Error()
		case "since":
			return "invalid_request", "since must be a non-negative integer"
		default:
			return "invalid_request", fmt.Sprintf("invalid parameter %q", p.Name)
		}
	}

	var schemaErr *openapi3.SchemaError
	if errors.As(err, &schemaErr) {
		field := strings.Join(schemaErr.JSONPointer(), ".")
		if field == "text" && schemaErr.SchemaField == "required" {
			return string(domain.KindEmptyMessage), "message text is required"
		}
		if field != "" {
			return "invalid_request", fmt.Sprintf("%s: %s", field, schemaErr.Reason)
		}
		return "invalid_request", schemaErr.Reason
	}

	if reqErr.RequestBody != nil {
		return "invalid_request", "Invalid request body"
	}
	return "invalid_request", reqErr.Error()
}

func writeValidationError(w http.ResponseWriter, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error": message,
		"code":  code,
	})
}
