package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"promo-rewards/internal/model"
)

func recordAdminAction(ctx context.Context, q querier, a *model.AdminAction) error {
	details := []byte("{}")
	if a.Details != nil {
		var err error
		if details, err = json.Marshal(a.Details); err != nil {
			return fmt.Errorf("encode admin action details: %w", err)
		}
	}

	_, err := q.Exec(ctx, `
		INSERT INTO admin_actions (id, actor_id, target_user_id, kind, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, a.ID, a.ActorID, a.TargetUserID, a.Kind, details, a.CreatedAt)
	if err != nil {
		return storeErr("record admin action", err)
	}
	return nil
}

// AdminActions returns the audit notes for a target user, newest first.
func (s *Store) AdminActions(ctx context.Context, targetUserID int64, limit int) ([]*model.AdminAction, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, actor_id, target_user_id, kind, details, created_at
		FROM admin_actions
		WHERE target_user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, targetUserID, limit)
	if err != nil {
		return nil, storeErr("get admin actions", err)
	}
	defer rows.Close()

	var out []*model.AdminAction
	for rows.Next() {
		var a model.AdminAction
		var raw []byte
		if err := rows.Scan(&a.ID, &a.ActorID, &a.TargetUserID, &a.Kind, &raw, &a.CreatedAt); err != nil {
			return nil, storeErr("scan admin action", err)
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &a.Details); err != nil {
				return nil, fmt.Errorf("decode admin action %s details: %w", a.ID, err)
			}
		}
		out = append(out, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate admin actions", err)
	}
	return out, nil
}
