package trello

import (
	"context"
	"net/http"
	"net/url"

	"area/internal/registry"
)

// createCard creates a card in a list. Parameters: list_id and name
// required, desc optional.
type createCard struct {
	svc *service
}

func (e createCard) Execute(ctx context.Context, store registry.Store, userID int64, params map[string]any) error {
	acct, err := account(ctx, store, userID)
	if err != nil {
		return err
	}
	listID, err := requireString(params, "list_id")
	if err != nil {
		return err
	}
	name, err := requireString(params, "name")
	if err != nil {
		return err
	}
	q := url.Values{"idList": {listID}, "name": {name}}
	if desc, _ := params["desc"].(string); desc != "" {
		q.Set("desc", desc)
	}
	return e.svc.do(ctx, http.MethodPost, "/1/cards", acct.AccessToken, q, nil)
}

// addComment comments on a card.
type addComment struct {
	svc *service
}

func (e addComment) Execute(ctx context.Context, store registry.Store, userID int64, params map[string]any) error {
	acct, err := account(ctx, store, userID)
	if err != nil {
		return err
	}
	cardID, err := requireString(params, "card_id")
	if err != nil {
		return err
	}
	text, err := requireString(params, "text")
	if err != nil {
		return err
	}
	q := url.Values{"text": {text}}
	return e.svc.do(ctx, http.MethodPost, "/1/cards/"+cardID+"/actions/comments", acct.AccessToken, q, nil)
}

// updateBoardTitle renames a board.
type updateBoardTitle struct {
	svc *service
}

func (e updateBoardTitle) Execute(ctx context.Context, store registry.Store, userID int64, params map[string]any) error {
	acct, err := account(ctx, store, userID)
	if err != nil {
		return err
	}
	boardID, err := requireString(params, "board_id")
	if err != nil {
		return err
	}
	name, err := requireString(params, "name")
	if err != nil {
		return err
	}
	q := url.Values{"name": {name}}
	return e.svc.do(ctx, http.MethodPut, "/1/boards/"+boardID, acct.AccessToken, q, nil)
}

// moveCard moves a card to another list.
type moveCard struct {
	svc *service
}

func (e moveCard) Execute(ctx context.Context, store registry.Store, userID int64, params map[string]any) error {
	acct, err := account(ctx, store, userID)
	if err != nil {
		return err
	}
	cardID, err := requireString(params, "card_id")
	if err != nil {
		return err
	}
	listID, err := requireString(params, "list_id")
	if err != nil {
		return err
	}
	q := url.Values{"idList": {listID}}
	return e.svc.do(ctx, http.MethodPut, "/1/cards/"+cardID, acct.AccessToken, q, nil)
}
