package store

import (
	"context"
	"fmt"
)

// ProfilesWithTokens は指定したIDのうち、プッシュトークンが設定されているプロフィールを返す。
// 返却順は保証しない。
func (s *Store) ProfilesWithTokens(ctx context.Context, ids []string) ([]Profile, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := fmt.Sprintf(
		"SELECT id, push_token, notification_preferences FROM profiles"+
			" WHERE push_token IS NOT NULL AND push_token <> '' AND id IN (%s)",
		s.dialect.placeholders(1, len(ids)),
	)
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("プロフィールの取得に失敗: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var profiles []Profile
	for rows.Next() {
		var (
			p     Profile
			prefs []byte
		)
		if err := rows.Scan(&p.ID, &p.PushToken, &prefs); err != nil {
			return nil, fmt.Errorf("プロフィールの読み取りに失敗: %w", err)
		}
		if p.Preferences, err = decodePreferences(prefs); err != nil {
			return nil, fmt.Errorf("プロフィール %s: %w", p.ID, err)
		}
		profiles = append(profiles, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("プロフィールの読み取りに失敗: %w", err)
	}
	return profiles, nil
}
