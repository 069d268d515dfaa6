package domain

import (
	"regexp"
	"strings"
)

type Service struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	DisplayName   string `json:"display_name"`
	Description   string `json:"description,omitempty"`
	OAuthProvider string `json:"oauth_provider,omitempty"`
	IsActive      bool   `json:"is_active"`
	CreatedAt     string `json:"created_at" format:"date-time"`
}

// Action is a triggerable capability of a Service (the "if" side).
// IsPolling actions are driven by the polling worker; all others by webhooks.
type Action struct {
	ID          int64          `json:"id"`
	ServiceID   int64          `json:"service_id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	ParamSchema map[string]any `json:"param_schema,omitempty"`
	IsPolling   bool           `json:"is_polling"`
	IsActive    bool           `json:"is_active"`
}

// Reaction is an invokable effect of a Service (the "then" side).
type Reaction struct {
	ID          int64          `json:"id"`
	ServiceID   int64          `json:"service_id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	ParamSchema map[string]any `json:"param_schema,omitempty"`
	IsActive    bool           `json:"is_active"`
}

// Area binds one Action to one Reaction for a user. ParamsAction is the
// condition map (path -> expected literal) gating the trigger; for timer areas
// it also carries the schedule under the "timer" key. ParamsReaction is the
// template map fed to the interpolator before the executor runs.
type Area struct {
	ID                int64          `json:"id"`
	UserID            int64          `json:"user_id"`
	Name              string         `json:"name"`
	ActionServiceID   int64          `json:"action_service_id"`
	ActionID          int64          `json:"action_id"`
	ReactionServiceID int64          `json:"reaction_service_id"`
	ReactionID        int64          `json:"reaction_id"`
	ParamsAction      map[string]any `json:"params_action"`
	ParamsReaction    map[string]any `json:"params_reaction"`
	IsActive          bool           `json:"is_active"`
	CreatedAt         string         `json:"created_at" format:"date-time"`
	UpdatedAt         string         `json:"updated_at" format:"date-time"`
}

// ServiceAccount holds a user's credential grant for a Service. The dispatch
// core only reads these; refresh flows live outside the engine.
type ServiceAccount struct {
	ID           int64  `json:"id"`
	UserID       int64  `json:"user_id"`
	ServiceID    int64  `json:"service_id"`
	AccessToken  string `json:"-"`
	RefreshToken string `json:"-"`
	TokenType    string `json:"token_type"`
	ExpiresAt    string `json:"expires_at,omitempty" format:"date-time"`
	RemoteEmail  string `json:"remote_email,omitempty"`
	IsActive     bool   `json:"is_active"`
	LastError    string `json:"last_error,omitempty"`
	ErrorCount   int    `json:"error_count"`
}

type Event struct {
	ID       int64  `json:"id"`
	TS       string `json:"ts" format:"date-time"`
	Type     string `json:"type"`
	AreaID   int64  `json:"area_id,omitempty"`
	UserID   int64  `json:"user_id,omitempty"`
	Service  string `json:"service,omitempty"`
	Delivery string `json:"delivery,omitempty"`
	Payload  string `json:"payload_json"`
}

var technicalKeyStrip = regexp.MustCompile(`[^a-z0-9_]`)

// TechnicalKey derives the registry lookup key from an Action/Reaction display
// name: drop the "Service - " prefix, lower-case, spaces to underscores, keep
// [a-z0-9_]. Display names are the source of truth; stored keys are a cache of
// this function's output and are recomputed rather than trusted.
func TechnicalKey(name string) string {
	if _, rest, ok := strings.Cut(name, " - "); ok {
		name = rest
	}
	key := strings.ReplaceAll(strings.ToLower(name), " ", "_")
	return technicalKeyStrip.ReplaceAllString(key, "")
}
