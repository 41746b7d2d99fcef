package store

import (
	"encoding/json"
	"fmt"
	"time"
)

// Note はモバイルアプリで作成されたノート。
type Note struct {
	// ID はノートの一意識別子。
	ID string
	// OwnerID は所有者のユーザーID。所有者が無い場合は空文字列。
	OwnerID string
	// Title はノートのタイトル。
	Title string
	// Summary はノートの要約。未設定の場合は空文字列。
	Summary string
	// Type はノートの種類（text、url、file、image）。
	Type string
	// CreatedAt はノートの作成日時（UTC）。
	CreatedAt time.Time
}

// Cursor はノート一覧のページ位置を表す。直前のページの最後のノートを指す。
type Cursor struct {
	// CreatedAt は最後のノートの作成日時。
	CreatedAt time.Time
	// ID は最後のノートのID。
	ID string
}

// NotificationPreferences はユーザーの通知設定。
type NotificationPreferences struct {
	// DailySummary は日次サマリー通知の受信可否。未設定の場合はnil。
	DailySummary *bool `json:"daily_summary,omitempty"`
}

// Profile はユーザーのプロフィール。
type Profile struct {
	// ID はユーザーID。
	ID string
	// PushToken はプッシュ通知の宛先トークン。
	PushToken string
	// Preferences は通知設定。
	Preferences NotificationPreferences
}

// decodePreferences はJSON形式の通知設定をデコードする。NULLや空の場合はゼロ値を返す。
func decodePreferences(raw []byte) (NotificationPreferences, error) {
	var prefs NotificationPreferences
	if len(raw) == 0 || string(raw) == "null" {
		return prefs, nil
	}
	if err := json.Unmarshal(raw, &prefs); err != nil {
		return prefs, fmt.Errorf("通知設定のデシリアライズに失敗: %w", err)
	}
	return prefs, nil
}
