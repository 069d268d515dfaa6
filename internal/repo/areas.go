package repo

import (
	"context"
	"database/sql"

	"area/internal/domain"
)

const areaCols = `id,user_id,name,action_service_id,action_id,reaction_service_id,reaction_id,params_action,params_reaction,is_active,created_at,updated_at`

func scanArea(scan func(...any) error) (domain.Area, error) {
	var a domain.Area
	var pa, pr string
	err := scan(&a.ID, &a.UserID, &a.Name, &a.ActionServiceID, &a.ActionID, &a.ReactionServiceID,
		&a.ReactionID, &pa, &pr, &a.IsActive, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	a.ParamsAction = unmarshalParams(pa)
	a.ParamsReaction = unmarshalParams(pr)
	return a, err
}

func (r Repo) InsertArea(ctx context.Context, a domain.Area) (int64, error) {
	pa, err := marshalParams(a.ParamsAction)
	if err != nil {
		return 0, err
	}
	pr, err := marshalParams(a.ParamsReaction)
	if err != nil {
		return 0, err
	}
	res, err := r.DB.ExecContext(ctx,
		`INSERT INTO areas(user_id,name,action_service_id,action_id,reaction_service_id,reaction_id,params_action,params_reaction,is_active,created_at,updated_at)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		a.UserID, a.Name, a.ActionServiceID, a.ActionID, a.ReactionServiceID, a.ReactionID, pa, pr, a.IsActive, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) GetArea(ctx context.Context, id int64) (domain.Area, error) {
	return scanArea(r.DB.QueryRowContext(ctx, `SELECT `+areaCols+` FROM areas WHERE id=?`, id).Scan)
}

func (r Repo) ListAreasByUser(ctx context.Context, userID int64) ([]domain.Area, error) {
	return r.queryAreas(ctx, `SELECT `+areaCols+` FROM areas WHERE user_id=? ORDER BY id ASC`, userID)
}

func (r Repo) ListAreas(ctx context.Context) ([]domain.Area, error) {
	return r.queryAreas(ctx, `SELECT `+areaCols+` FROM areas ORDER BY id ASC`)
}

// ListActiveAreasByAction returns active areas bound to an action, id
// ascending so sibling firings are deterministic.
func (r Repo) ListActiveAreasByAction(ctx context.Context, actionID int64) ([]domain.Area, error) {
	return r.queryAreas(ctx, `SELECT `+areaCols+` FROM areas WHERE action_id=? AND is_active=1 ORDER BY id ASC`, actionID)
}

// ListActiveAreasByActionService returns active areas whose trigger belongs
// to the given service, id ascending.
func (r Repo) ListActiveAreasByActionService(ctx context.Context, serviceID int64) ([]domain.Area, error) {
	return r.queryAreas(ctx, `SELECT `+areaCols+` FROM areas WHERE action_service_id=? AND is_active=1 ORDER BY id ASC`, serviceID)
}

func (r Repo) queryAreas(ctx context.Context, query string, args ...any) ([]domain.Area, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Area
	for rows.Next() {
		a, err := scanArea(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// FindActiveAreasForAction resolves the active rules for a (service, technical
// key) pair. Keys are recomputed from the action display names rather than
// read from a stored column, so renames cannot leave stale keys behind.
func (r Repo) FindActiveAreasForAction(ctx context.Context, serviceName, technicalKey string) ([]domain.Area, error) {
	svc, err := r.GetServiceByName(ctx, serviceName)
	if err != nil {
		return nil, err
	}
	actions, err := r.ListActionsByService(ctx, svc.ID)
	if err != nil {
		return nil, err
	}
	var res []domain.Area
	for _, action := range actions {
		if !action.IsActive || domain.TechnicalKey(action.Name) != technicalKey {
			continue
		}
		areas, err := r.ListActiveAreasByAction(ctx, action.ID)
		if err != nil {
			return nil, err
		}
		res = append(res, areas...)
	}
	return res, nil
}

// SetAreaActive toggles the active flag. Idempotent: re-enabling an enabled
// area is a no-op, history is preserved.
func (r Repo) SetAreaActive(ctx context.Context, id int64, active bool, now string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE areas SET is_active=?, updated_at=? WHERE id=?`, active, now, id)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateAreaParamsAction rewrites the condition/schedule map, used by the
// scheduler to persist timer run-state.
func (r Repo) UpdateAreaParamsAction(ctx context.Context, id int64, paramsAction map[string]any, now string) error {
	pa, err := marshalParams(paramsAction)
	if err != nil {
		return err
	}
	res, err := r.DB.ExecContext(ctx, `UPDATE areas SET params_action=?, updated_at=? WHERE id=?`, pa, now, id)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteArea(ctx context.Context, id int64) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM areas WHERE id=?`, id)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
