// Package events appends firing audit records: every dispatch outcome lands
// here so "area log tail" can reconstruct what fired and why.
package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

// Append records one audit event. Callers treat failures as non-fatal; losing
// an audit row must never abort a firing.
func (w Writer) Append(ctx context.Context, evtType string, areaID, userID int64, service, delivery string, payload EventPayload) error {
	now := w.Now
	if now == nil {
		now = time.Now
	}
	ts := now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = w.DB.ExecContext(ctx,
		`INSERT INTO events(ts,type,area_id,user_id,service,delivery,payload_json) VALUES (?,?,?,?,?,?,?)`,
		ts, evtType, nullableID(areaID), nullableID(userID), nullableStr(service), nullableStr(delivery), string(data))
	return err
}

func nullableID(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}

func nullableStr(v string) any {
	if v == "" {
		return nil
	}
	return v
}
