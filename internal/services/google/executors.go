package google

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"area/internal/registry"
)

// sendEmail sends through the Gmail API. The message travels as a
// base64url-encoded RFC 2822 payload.
type sendEmail struct {
	svc *service
}

func (e sendEmail) Execute(ctx context.Context, store registry.Store, userID int64, params map[string]any) error {
	acct, err := account(ctx, store, userID)
	if err != nil {
		return err
	}
	to, err := requireString(params, "to")
	if err != nil {
		return err
	}
	subject, _ := params["subject"].(string)
	body, _ := params["body"].(string)
	cc, _ := params["cc"].(string)

	var msg strings.Builder
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	if cc != "" {
		fmt.Fprintf(&msg, "Cc: %s\r\n", cc)
	}
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n\r\n")
	msg.WriteString(body)

	raw := base64.URLEncoding.EncodeToString([]byte(msg.String()))
	return e.svc.do(ctx, http.MethodPost, e.svc.gmailBase+"/gmail/v1/users/me/messages/send",
		acct.AccessToken, nil, map[string]any{"raw": raw}, nil)
}

// createFolder creates a Drive folder, optionally under parent_folder_id.
type createFolder struct {
	svc *service
}

func (e createFolder) Execute(ctx context.Context, store registry.Store, userID int64, params map[string]any) error {
	acct, err := account(ctx, store, userID)
	if err != nil {
		return err
	}
	name, err := requireString(params, "folder_name")
	if err != nil {
		return err
	}
	body := map[string]any{
		"name":     name,
		"mimeType": "application/vnd.google-apps.folder",
	}
	if parent, _ := params["parent_folder_id"].(string); parent != "" {
		body["parents"] = []string{parent}
	}
	return e.svc.do(ctx, http.MethodPost, e.svc.driveBase+"/drive/v3/files",
		acct.AccessToken, nil, body, nil)
}

// createEvent creates a Calendar event on the primary calendar. Datetimes
// accept "2006-01-02 15:04:05" or RFC 3339; a missing zone is treated as UTC
// and a reversed range is swapped rather than rejected.
type createEvent struct {
	svc *service
}

func (e createEvent) Execute(ctx context.Context, store registry.Store, userID int64, params map[string]any) error {
	acct, err := account(ctx, store, userID)
	if err != nil {
		return err
	}
	title, _ := params["title"].(string)
	if title == "" {
		title, _ = params["summary"].(string)
	}
	start, _ := params["start_datetime"].(string)
	end, _ := params["end_datetime"].(string)
	if title == "" || start == "" || end == "" {
		return registry.NewStatusError(http.StatusBadRequest,
			"missing required parameters: title, start_datetime, end_datetime")
	}
	startISO := normalizeISO(start)
	endISO := normalizeISO(end)
	if startISO > endISO {
		startISO, endISO = endISO, startISO
	}
	body := map[string]any{
		"summary": title,
		"start":   map[string]any{"dateTime": startISO, "timeZone": "UTC"},
		"end":     map[string]any{"dateTime": endISO, "timeZone": "UTC"},
	}
	if desc, _ := params["description"].(string); desc != "" {
		body["description"] = desc
	}
	if loc, _ := params["location"].(string); loc != "" {
		body["location"] = loc
	}
	return e.svc.do(ctx, http.MethodPost, e.svc.calendarBase+"/calendar/v3/calendars/primary/events",
		acct.AccessToken, nil, body, nil)
}

func normalizeISO(v string) string {
	v = strings.Replace(v, " ", "T", 1)
	if !strings.HasSuffix(v, "Z") && !strings.Contains(v, "+") {
		v += "Z"
	}
	return v
}
