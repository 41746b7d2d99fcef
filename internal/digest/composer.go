package digest

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/nao1215/notedigest/internal/store"
)

const (
	// maxPushTitle は通知タイトルの最大文字数。
	maxPushTitle = 100
	// maxPushBody は通知本文の最大文字数。
	maxPushBody = 500
	// maxSummaryPreview は1件通知の本文に含める要約の最大文字数。
	maxSummaryPreview = 100

	// notificationKind は日次サマリー通知の種別。
	notificationKind = "daily_summary"
	// notificationSource は通知の発行元。
	notificationSource = "daily_notification_job"
)

// pushTokenPattern はExpoのプッシュトークンの形式に一致する。
var pushTokenPattern = regexp.MustCompile(`^Expo(nent)?PushToken\[.+\]$`)

// ValidPushToken はtokenがExpoのプッシュトークンの形式かどうかを返す。
func ValidPushToken(token string) bool {
	return pushTokenPattern.MatchString(token)
}

// Payload はプッシュ通知プロバイダに送信する1件分のメッセージ。
type Payload struct {
	// To は宛先のプッシュトークン。
	To string `json:"to"`
	// Sound は通知音。
	Sound string `json:"sound"`
	// Title は通知タイトル（最大100文字）。
	Title string `json:"title"`
	// Body は通知本文（最大500文字）。
	Body string `json:"body"`
	// Badge はアプリアイコンのバッジ数。ノート数を設定する。
	Badge int `json:"badge"`
	// Data はアプリに渡す付加情報。
	Data PayloadData `json:"data"`
}

// PayloadData は通知の付加情報。
type PayloadData struct {
	// ID は通知ごとに一意な識別子。
	ID string `json:"id"`
	// Type は通知の種別。
	Type string `json:"type"`
	// Priority は通知の優先度。
	Priority string `json:"priority"`
	// Metadata は通知のメタデータ。
	Metadata PayloadMetadata `json:"metadata"`
}

// PayloadMetadata は通知のメタデータ。
type PayloadMetadata struct {
	// NoteID は最新のノートのID。
	NoteID string `json:"noteId"`
	// GeneratedAt は通知の生成日時（RFC3339形式）。
	GeneratedAt string `json:"generatedAt"`
	// Source は通知の発行元。
	Source string `json:"source"`
}

// Compose はユーザーのノートから通知を1件組み立てる。notesは新しい順で1件以上あること。
// プッシュトークンの形式は呼び出し側で検証する。
func Compose(profile store.Profile, notes []store.Note, now time.Time) Payload {
	latest := notes[0]

	var title, body string
	if len(notes) == 1 {
		title = "📝 New Note Created"
		preview := strings.TrimSpace(latest.Summary)
		if preview == "" {
			preview = "Tap to view details"
		} else {
			preview = truncate(preview, maxSummaryPreview)
		}
		body = fmt.Sprintf("\"%s\" - %s", latest.Title, preview)
	} else {
		title = fmt.Sprintf("📝 %d New Notes Created", len(notes))
		body = fmt.Sprintf("Latest: \"%s\" and %d more. Tap to view all your recent notes.", latest.Title, len(notes)-1)
	}

	return Payload{
		To:    profile.PushToken,
		Sound: "default",
		Title: truncate(title, maxPushTitle),
		Body:  truncate(body, maxPushBody),
		Badge: len(notes),
		Data: PayloadData{
			ID:       fmt.Sprintf("%s_%d_%s", notificationKind, now.UnixMilli(), profile.ID),
			Type:     notificationKind,
			Priority: "normal",
			Metadata: PayloadMetadata{
				NoteID:      latest.ID,
				GeneratedAt: now.UTC().Format(time.RFC3339),
				Source:      notificationSource,
			},
		},
	}
}

// truncate はsを最大n文字（rune単位）に切り詰める。
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
