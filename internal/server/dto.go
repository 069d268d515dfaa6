package server

import (
	"area/internal/domain"
)

// Request payloads

type CreateAreaRequest struct {
	Name           string         `json:"name,omitempty"`
	ActionID       int64          `json:"action_id"`
	ReactionID     int64          `json:"reaction_id"`
	ParamsAction   map[string]any `json:"params_action,omitempty"`
	ParamsReaction map[string]any `json:"params_reaction,omitempty"`
}

type SetAreaActiveRequest struct {
	IsActive bool `json:"is_active"`
}

type DevLoginRequest struct {
	UserID int64 `json:"user_id"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

// Responses

type ActionResponse struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	TechnicalKey string `json:"technical_key"`
	Description  string `json:"description,omitempty"`
	IsPolling    bool   `json:"is_polling"`
}

type ReactionResponse struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	TechnicalKey string `json:"technical_key"`
	Description  string `json:"description,omitempty"`
}

type ServiceResponse struct {
	ID          int64              `json:"id"`
	Name        string             `json:"name"`
	DisplayName string             `json:"display_name"`
	Description string             `json:"description,omitempty"`
	Actions     []ActionResponse   `json:"actions"`
	Reactions   []ReactionResponse `json:"reactions"`
}

type AreaResponse struct {
	ID             int64          `json:"id"`
	UserID         int64          `json:"user_id"`
	Name           string         `json:"name,omitempty"`
	ActionID       int64          `json:"action_id"`
	ReactionID     int64          `json:"reaction_id"`
	ParamsAction   map[string]any `json:"params_action"`
	ParamsReaction map[string]any `json:"params_reaction"`
	IsActive       bool           `json:"is_active"`
	CreatedAt      string         `json:"created_at"`
	UpdatedAt      string         `json:"updated_at"`
}

type EventResponse struct {
	ID       int64  `json:"id"`
	TS       string `json:"ts"`
	Type     string `json:"type"`
	AreaID   int64  `json:"area_id,omitempty"`
	UserID   int64  `json:"user_id,omitempty"`
	Service  string `json:"service,omitempty"`
	Delivery string `json:"delivery,omitempty"`
	Payload  string `json:"payload_json"`
}

type WebhookResponse struct {
	Status            string `json:"status"`
	Event             string `json:"event"`
	Delivery          string `json:"delivery,omitempty"`
	HandlersTriggered int    `json:"handlers_triggered"`
}

func actionResponse(a domain.Action) ActionResponse {
	return ActionResponse{
		ID:           a.ID,
		Name:         a.Name,
		TechnicalKey: domain.TechnicalKey(a.Name),
		Description:  a.Description,
		IsPolling:    a.IsPolling,
	}
}

func reactionResponse(re domain.Reaction) ReactionResponse {
	return ReactionResponse{
		ID:           re.ID,
		Name:         re.Name,
		TechnicalKey: domain.TechnicalKey(re.Name),
		Description:  re.Description,
	}
}

func areaResponse(a domain.Area) AreaResponse {
	return AreaResponse{
		ID:             a.ID,
		UserID:         a.UserID,
		Name:           a.Name,
		ActionID:       a.ActionID,
		ReactionID:     a.ReactionID,
		ParamsAction:   a.ParamsAction,
		ParamsReaction: a.ParamsReaction,
		IsActive:       a.IsActive,
		CreatedAt:      a.CreatedAt,
		UpdatedAt:      a.UpdatedAt,
	}
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:       e.ID,
		TS:       e.TS,
		Type:     e.Type,
		AreaID:   e.AreaID,
		UserID:   e.UserID,
		Service:  e.Service,
		Delivery: e.Delivery,
		Payload:  e.Payload,
	}
}
