package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"area/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func marshalParams(m map[string]any) (string, error) {
	if m == nil {
		m = map[string]any{}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("marshal params: %w", err)
	}
	return string(b), nil
}

func unmarshalParams(s string) map[string]any {
	m := map[string]any{}
	if s != "" {
		_ = json.Unmarshal([]byte(s), &m)
	}
	return m
}

// --- services ---

func (r Repo) InsertService(ctx context.Context, s domain.Service) (int64, error) {
	res, err := r.DB.ExecContext(ctx,
		`INSERT INTO services(name,display_name,description,oauth_provider,is_active,created_at) VALUES (?,?,?,?,?,?)`,
		s.Name, s.DisplayName, nullable(s.Description), nullable(s.OAuthProvider), s.IsActive, s.CreatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func scanService(row *sql.Row) (domain.Service, error) {
	var s domain.Service
	err := row.Scan(&s.ID, &s.Name, &s.DisplayName, &s.Description, &s.OAuthProvider, &s.IsActive, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	return s, err
}

const serviceCols = `id,name,display_name,COALESCE(description,''),COALESCE(oauth_provider,''),is_active,created_at`

func (r Repo) GetService(ctx context.Context, id int64) (domain.Service, error) {
	return scanService(r.DB.QueryRowContext(ctx, `SELECT `+serviceCols+` FROM services WHERE id=?`, id))
}

func (r Repo) GetServiceByName(ctx context.Context, name string) (domain.Service, error) {
	return scanService(r.DB.QueryRowContext(ctx, `SELECT `+serviceCols+` FROM services WHERE name=?`, name))
}

func (r Repo) ListServices(ctx context.Context) ([]domain.Service, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+serviceCols+` FROM services ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Service
	for rows.Next() {
		var s domain.Service
		if err := rows.Scan(&s.ID, &s.Name, &s.DisplayName, &s.Description, &s.OAuthProvider, &s.IsActive, &s.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// --- actions ---

func (r Repo) InsertAction(ctx context.Context, a domain.Action) (int64, error) {
	schema, err := marshalParams(a.ParamSchema)
	if err != nil {
		return 0, err
	}
	res, err := r.DB.ExecContext(ctx,
		`INSERT INTO actions(service_id,name,description,param_schema,is_polling,is_active) VALUES (?,?,?,?,?,?)`,
		a.ServiceID, a.Name, nullable(a.Description), schema, a.IsPolling, a.IsActive)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

const actionCols = `id,service_id,name,COALESCE(description,''),COALESCE(param_schema,'{}'),is_polling,is_active`

func scanAction(scan func(...any) error) (domain.Action, error) {
	var a domain.Action
	var schema string
	err := scan(&a.ID, &a.ServiceID, &a.Name, &a.Description, &schema, &a.IsPolling, &a.IsActive)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	a.ParamSchema = unmarshalParams(schema)
	return a, err
}

func (r Repo) GetAction(ctx context.Context, id int64) (domain.Action, error) {
	return scanAction(r.DB.QueryRowContext(ctx, `SELECT `+actionCols+` FROM actions WHERE id=?`, id).Scan)
}

func (r Repo) ListActionsByService(ctx context.Context, serviceID int64) ([]domain.Action, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+actionCols+` FROM actions WHERE service_id=? ORDER BY id ASC`, serviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Action
	for rows.Next() {
		a, err := scanAction(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// ListPollingActions returns every active action that must be polled.
func (r Repo) ListPollingActions(ctx context.Context) ([]domain.Action, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+actionCols+` FROM actions WHERE is_polling=1 AND is_active=1 ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Action
	for rows.Next() {
		a, err := scanAction(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// --- reactions ---

func (r Repo) InsertReaction(ctx context.Context, re domain.Reaction) (int64, error) {
	schema, err := marshalParams(re.ParamSchema)
	if err != nil {
		return 0, err
	}
	res, err := r.DB.ExecContext(ctx,
		`INSERT INTO reactions(service_id,name,description,param_schema,is_active) VALUES (?,?,?,?,?)`,
		re.ServiceID, re.Name, nullable(re.Description), schema, re.IsActive)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

const reactionCols = `id,service_id,name,COALESCE(description,''),COALESCE(param_schema,'{}'),is_active`

func scanReaction(scan func(...any) error) (domain.Reaction, error) {
	var re domain.Reaction
	var schema string
	err := scan(&re.ID, &re.ServiceID, &re.Name, &re.Description, &schema, &re.IsActive)
	if err == sql.ErrNoRows {
		return re, ErrNotFound
	}
	re.ParamSchema = unmarshalParams(schema)
	return re, err
}

func (r Repo) GetReaction(ctx context.Context, id int64) (domain.Reaction, error) {
	return scanReaction(r.DB.QueryRowContext(ctx, `SELECT `+reactionCols+` FROM reactions WHERE id=?`, id).Scan)
}

func (r Repo) ListReactionsByService(ctx context.Context, serviceID int64) ([]domain.Reaction, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+reactionCols+` FROM reactions WHERE service_id=? ORDER BY id ASC`, serviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Reaction
	for rows.Next() {
		re, err := scanReaction(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, re)
	}
	return res, rows.Err()
}

// --- service accounts ---

func (r Repo) InsertServiceAccount(ctx context.Context, a domain.ServiceAccount) (int64, error) {
	res, err := r.DB.ExecContext(ctx,
		`INSERT INTO service_accounts(user_id,service_id,access_token,refresh_token,token_type,expires_at,remote_email,is_active,last_error,error_count)
		 VALUES (?,?,?,?,?,?,?,?,?,?)`,
		a.UserID, a.ServiceID, a.AccessToken, nullable(a.RefreshToken), a.TokenType,
		nullable(a.ExpiresAt), nullable(a.RemoteEmail), a.IsActive, nullable(a.LastError), a.ErrorCount)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ServiceAccount resolves the active credential grant for (user, service
// name). Implements the persistence handle consumed by handlers and
// executors.
func (r Repo) ServiceAccount(ctx context.Context, userID int64, serviceName string) (domain.ServiceAccount, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT sa.id,sa.user_id,sa.service_id,sa.access_token,COALESCE(sa.refresh_token,''),sa.token_type,
		        COALESCE(sa.expires_at,''),COALESCE(sa.remote_email,''),sa.is_active,COALESCE(sa.last_error,''),sa.error_count
		 FROM service_accounts sa
		 JOIN services s ON s.id = sa.service_id
		 WHERE sa.user_id=? AND s.name=? AND sa.is_active=1
		 ORDER BY sa.id DESC LIMIT 1`, userID, serviceName)
	var a domain.ServiceAccount
	err := row.Scan(&a.ID, &a.UserID, &a.ServiceID, &a.AccessToken, &a.RefreshToken, &a.TokenType,
		&a.ExpiresAt, &a.RemoteEmail, &a.IsActive, &a.LastError, &a.ErrorCount)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	return a, err
}

// RecordAccountError bumps the health counters on a credential grant after a
// failed outbound call.
func (r Repo) RecordAccountError(ctx context.Context, accountID int64, msg string) error {
	_, err := r.DB.ExecContext(ctx,
		`UPDATE service_accounts SET last_error=?, error_count=error_count+1 WHERE id=?`, msg, accountID)
	return err
}

// --- events ---

// LatestEvents returns the most recent firing audit records, newest first.
func (r Repo) LatestEvents(ctx context.Context, limit int, evtType string) ([]domain.Event, error) {
	query := `SELECT id,ts,type,COALESCE(area_id,0),COALESCE(user_id,0),COALESCE(service,''),COALESCE(delivery,''),payload_json FROM events`
	var args []any
	if evtType != "" {
		query += ` WHERE type=?`
		args = append(args, evtType)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.AreaID, &e.UserID, &e.Service, &e.Delivery, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
