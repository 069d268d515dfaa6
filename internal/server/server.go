// Package server exposes the HTTP API: rule management, the service catalog,
// the firing audit log and the webhook ingestion endpoints.
package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"area/internal/domain"
	"area/internal/engine"
	"area/internal/registry"
	"area/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"bad_request"`
	Message string         `json:"message" example:"action_id is required"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError is the error envelope every endpoint returns.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns the HTTP handler for the whole API surface. Webhook ingestion
// is mounted outside the authenticated base path because third parties
// authenticate with signatures, not tokens.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		return newAPIError(status, "", msg, nil)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	registerWebhooks(router, cfg.Engine)

	hcfg := huma.DefaultConfig("AREA API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerServices(group, cfg.Engine)
	registerAreas(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerDevAuth(group, cfg.Auth)

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
	var se *registry.StatusError
	if errors.As(err, &se) {
		return newAPIError(se.Code, "", se.Message, nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	if strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required") {
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
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

func registerServices(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-services",
		Method:      http.MethodGet,
		Path:        "/services",
		Summary:     "List services with their actions and reactions",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []ServiceResponse `json:"body"`
	}, error) {
		services, err := e.Repo.ListServices(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]ServiceResponse, 0, len(services))
		for _, svc := range services {
			actions, err := e.Repo.ListActionsByService(ctx, svc.ID)
			if err != nil {
				return nil, handleError(err)
			}
			reactions, err := e.Repo.ListReactionsByService(ctx, svc.ID)
			if err != nil {
				return nil, handleError(err)
			}
			resp := ServiceResponse{
				ID:          svc.ID,
				Name:        svc.Name,
				DisplayName: svc.DisplayName,
				Description: svc.Description,
				Actions:     []ActionResponse{},
				Reactions:   []ReactionResponse{},
			}
			for _, a := range actions {
				resp.Actions = append(resp.Actions, actionResponse(a))
			}
			for _, re := range reactions {
				resp.Reactions = append(resp.Reactions, reactionResponse(re))
			}
			out = append(out, resp)
		}
		return &struct {
			Body []ServiceResponse `json:"body"`
		}{Body: out}, nil
	})
}

func registerAreas(api huma.API, e engine.Engine) {
	type AreaPath struct {
		AreaID int64 `path:"area_id"`
	}

	huma.Register(api, huma.Operation{
		OperationID:   "create-area",
		Method:        http.MethodPost,
		Path:          "/areas",
		Summary:       "Create a rule",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body CreateAreaRequest `json:"body"`
	}) (*struct {
		Body AreaResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if input.Body.ActionID == 0 || input.Body.ReactionID == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "action_id and reaction_id are required", nil)
		}
		action, err := e.Repo.GetAction(ctx, input.Body.ActionID)
		if err != nil {
			return nil, handleError(err)
		}
		reaction, err := e.Repo.GetReaction(ctx, input.Body.ReactionID)
		if err != nil {
			return nil, handleError(err)
		}
		now := e.Now().UTC().Format(time.RFC3339)
		area := domain.Area{
			UserID:            userID,
			Name:              input.Body.Name,
			ActionServiceID:   action.ServiceID,
			ActionID:          action.ID,
			ReactionServiceID: reaction.ServiceID,
			ReactionID:        reaction.ID,
			ParamsAction:      input.Body.ParamsAction,
			ParamsReaction:    input.Body.ParamsReaction,
			IsActive:          true,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		id, err := e.Repo.InsertArea(ctx, area)
		if err != nil {
			return nil, handleError(err)
		}
		created, err := e.Repo.GetArea(ctx, id)
		if err != nil {
			return nil, handleError(err)
		}
		setupWebhookForArea(ctx, e, created, action)
		return &struct {
			Body AreaResponse `json:"body"`
		}{Body: areaResponse(created)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-areas",
		Method:      http.MethodGet,
		Path:        "/areas",
		Summary:     "List the caller's rules",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []AreaResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		areas, err := e.Repo.ListAreasByUser(ctx, userID)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]AreaResponse, 0, len(areas))
		for _, a := range areas {
			out = append(out, areaResponse(a))
		}
		return &struct {
			Body []AreaResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-area",
		Method:      http.MethodGet,
		Path:        "/areas/{area_id}",
		Summary:     "Get one rule",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *AreaPath) (*struct {
		Body AreaResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		area, err := ownedArea(ctx, e, input.AreaID, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AreaResponse `json:"body"`
		}{Body: areaResponse(area)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-area-active",
		Method:      http.MethodPatch,
		Path:        "/areas/{area_id}",
		Summary:     "Enable or disable a rule",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		AreaPath
		Body SetAreaActiveRequest `json:"body"`
	}) (*struct {
		Body AreaResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		area, err := ownedArea(ctx, e, input.AreaID, userID)
		if err != nil {
			return nil, handleError(err)
		}
		// Setting the current state again is a no-op, not an error.
		now := e.Now().UTC().Format(time.RFC3339)
		if err := e.Repo.SetAreaActive(ctx, area.ID, input.Body.IsActive, now); err != nil {
			return nil, handleError(err)
		}
		updated, err := e.Repo.GetArea(ctx, area.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if input.Body.IsActive && !area.IsActive {
			if action, err := e.Repo.GetAction(ctx, updated.ActionID); err == nil {
				setupWebhookForArea(ctx, e, updated, action)
			}
		}
		return &struct {
			Body AreaResponse `json:"body"`
		}{Body: areaResponse(updated)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-area",
		Method:        http.MethodDelete,
		Path:          "/areas/{area_id}",
		Summary:       "Delete a rule",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *AreaPath) (*struct{}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		area, err := ownedArea(ctx, e, input.AreaID, userID)
		if err != nil {
			return nil, handleError(err)
		}
		cleanupWebhookForArea(ctx, e, area)
		if err := e.Repo.DeleteArea(ctx, area.ID); err != nil {
			return nil, handleError(err)
		}
		return nil, nil
	})
}

// ownedArea loads an area and hides other users' rules behind not-found.
func ownedArea(ctx context.Context, e engine.Engine, areaID, userID int64) (domain.Area, error) {
	area, err := e.Repo.GetArea(ctx, areaID)
	if err != nil {
		return area, err
	}
	if area.UserID != userID {
		return area, repo.ErrNotFound
	}
	return area, nil
}

// setupWebhookForArea registers the remote subscription for webhook-driven
// triggers. Best effort: a rule stays usable even when the remote hook could
// not be created yet.
func setupWebhookForArea(ctx context.Context, e engine.Engine, area domain.Area, action domain.Action) {
	svc, err := e.Repo.GetService(ctx, action.ServiceID)
	if err != nil {
		return
	}
	handler, ok := e.Registry.WebhookHandler(svc.Name, domain.TechnicalKey(action.Name))
	if !ok {
		return
	}
	acct, err := e.Repo.ServiceAccount(ctx, area.UserID, svc.Name)
	if err != nil {
		return
	}
	if err := handler.SetupWebhook(ctx, e.Repo, acct, area.ParamsAction); err != nil {
		e.Log.Warn("webhook setup failed", "area_id", area.ID, "service", svc.Name, "err", err)
	}
}

func cleanupWebhookForArea(ctx context.Context, e engine.Engine, area domain.Area) {
	action, err := e.Repo.GetAction(ctx, area.ActionID)
	if err != nil {
		return
	}
	svc, err := e.Repo.GetService(ctx, action.ServiceID)
	if err != nil {
		return
	}
	handler, ok := e.Registry.WebhookHandler(svc.Name, domain.TechnicalKey(action.Name))
	if !ok {
		return
	}
	acct, err := e.Repo.ServiceAccount(ctx, area.UserID, svc.Name)
	if err != nil {
		return
	}
	if err := handler.CleanupWebhook(ctx, e.Repo, acct, area.ParamsAction); err != nil {
		e.Log.Warn("webhook cleanup failed", "area_id", area.ID, "service", svc.Name, "err", err)
	}
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Recent firing audit log",
	}, func(ctx context.Context, input *struct {
		Limit int    `query:"limit"`
		Type  string `query:"type"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		if _, authErr := userIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		limit := input.Limit
		if limit <= 0 || limit > 500 {
			limit = 50
		}
		events, err := e.Repo.LatestEvents(ctx, limit, input.Type)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]EventResponse, 0, len(events))
		for _, evt := range events {
			out = append(out, eventResponse(evt))
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: out}, nil
	})
}

func registerDevAuth(api huma.API, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors:      []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		if input.Body.UserID == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "user_id is required", nil)
		}
		token, err := signToken(authCfg.JWTSecret, input.Body.UserID, 24*time.Hour)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}
