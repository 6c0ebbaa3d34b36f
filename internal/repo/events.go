package repo

import (
	"context"

	"grantmaster/internal/domain"
)

// ListEvents returns an application's events after the given id, oldest first.
func (r Repo) ListEvents(ctx context.Context, applicationID string, afterID int64, limit int) ([]domain.Event, error) {
	query := `SELECT id,ts,type,COALESCE(application_id,''),entity_kind,COALESCE(entity_id,''),actor_id,payload_json
FROM events WHERE application_id=? AND id>? ORDER BY id ASC`
	args := []any{applicationID, afterID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, r.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Event{}
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.ApplicationID, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
