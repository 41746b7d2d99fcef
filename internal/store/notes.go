package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// ListNotesSince はcutoff以降に作成されたノートを新しい順に最大limit件返す。
// afterを指定した場合はその位置より後（古い側）のノートを返す。
func (s *Store) ListNotesSince(ctx context.Context, cutoff time.Time, after *Cursor, limit int) ([]Note, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("取得件数が不正です: %d", limit)
	}

	d := s.dialect
	createdAt := d.timeExpr("created_at")
	var q strings.Builder
	fmt.Fprintf(&q, "SELECT id, owner_id, title, summary, type, created_at FROM notes WHERE %s >= %s",
		createdAt, d.timeExpr(d.placeholder(1)))
	args := []any{d.encodeTime(cutoff)}
	if after != nil {
		fmt.Fprintf(&q, " AND (%s, id) < (%s, %s)", createdAt, d.timeExpr(d.placeholder(2)), d.placeholder(3))
		args = append(args, d.encodeTime(after.CreatedAt), after.ID)
	}
	fmt.Fprintf(&q, " ORDER BY %s DESC, id DESC LIMIT %s", createdAt, d.placeholder(len(args)+1))
	args = append(args, limit)

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, q.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("ノート一覧の取得に失敗: %w", err)
	}
	defer func() { _ = rows.Close() }()

	notes := make([]Note, 0, limit)
	for rows.Next() {
		var (
			n         Note
			ownerID   sql.NullString
			summary   sql.NullString
			createdAt any
		)
		if err := rows.Scan(&n.ID, &ownerID, &n.Title, &summary, &n.Type, &createdAt); err != nil {
			return nil, fmt.Errorf("ノートの読み取りに失敗: %w", err)
		}
		if n.CreatedAt, err = scanTime(createdAt); err != nil {
			return nil, fmt.Errorf("ノート %s の作成日時が不正: %w", n.ID, err)
		}
		n.OwnerID = strings.TrimSpace(ownerID.String)
		n.Summary = summary.String
		notes = append(notes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ノート一覧の読み取りに失敗: %w", err)
	}
	return notes, nil
}
