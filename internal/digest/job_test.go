package digest

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"slices"
	"testing"
	"time"

	"github.com/nao1215/notedigest/internal/store"
	"github.com/nao1215/notedigest/pkg/audit"
	"github.com/nao1215/notedigest/pkg/httpclient"
)

// testNow はジョブのテストで使用する現在時刻。
var testNow = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

// setupTestStore はインメモリSQLiteでマイグレーション済みのStoreを構築する。
func setupTestStore(t *testing.T) (*sql.DB, *store.Store) {
	t.Helper()

	db, err := sql.Open(store.DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("インメモリDBの作成に失敗: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	st, err := store.New(db, store.DriverSQLite)
	if err != nil {
		t.Fatalf("store.New()でエラーが発生: %v", err)
	}
	if err := st.Migrate(); err != nil {
		t.Fatalf("Migrate()でエラーが発生: %v", err)
	}
	return db, st
}

// sqliteTime はSQLiteに保存する形式の時刻文字列を返す。
func sqliteTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000000Z")
}

// seedNote はテスト用のノートを登録する。ownerIDが空の場合はNULLとする。
func seedNote(t *testing.T, db *sql.DB, id, ownerID, title string, age time.Duration) {
	t.Helper()

	var owner any
	if ownerID != "" {
		owner = ownerID
	}
	if _, err := db.Exec(
		"INSERT INTO notes (id, owner_id, title, summary, type, created_at) VALUES (?, ?, ?, ?, 'text', ?)",
		id, owner, title, "about "+title, sqliteTime(testNow.Add(-age)),
	); err != nil {
		t.Fatalf("ノートの登録に失敗: %v", err)
	}
}

// seedProfile はテスト用のプロフィールを登録する。tokenやprefsが空の場合はNULLとする。
func seedProfile(t *testing.T, db *sql.DB, id, token, prefs string) {
	t.Helper()

	var tok, pr any
	if token != "" {
		tok = token
	}
	if prefs != "" {
		pr = prefs
	}
	if _, err := db.Exec(
		"INSERT INTO profiles (id, push_token, notification_preferences, created_at) VALUES (?, ?, ?, ?)",
		id, tok, pr, sqliteTime(testNow),
	); err != nil {
		t.Fatalf("プロフィールの登録に失敗: %v", err)
	}
}

// newTestJob はテスト用のジョブを生成する。
func newTestJob(notes NoteSource, profiles ProfileSource, endpoint string, w AuditWriter) *Job {
	j := NewJob(
		NewFetcher(notes, 2),
		NewAggregator(profiles),
		NewDispatcher(httpclient.New(endpoint), 100, nil),
		NewAuditor(w, JobName),
		24*time.Hour,
	)
	j.now = func() time.Time { return testNow }
	return j
}

// TestJobRun は日次通知ジョブの一連の処理を検証する。
func TestJobRun(t *testing.T) {
	t.Parallel()

	t.Run("ノートが無い場合は送信せずに完了すること", func(t *testing.T) {
		t.Parallel()

		db, st := setupTestStore(t)
		seedNote(t, db, "old", "u1", "Old", 25*time.Hour)
		seedProfile(t, db, "u1", "ExponentPushToken[1]", "")
		push := newPushServer(t, http.StatusOK, nil)
		w := &memoryAudit{}

		got, err := newTestJob(st, st, push.endpoint, w).Run(context.Background())
		if err != nil {
			t.Fatalf("Run()でエラーが発生: %v", err)
		}
		if got != (Summary{}) {
			t.Errorf("Summary = %+v, want zero", got)
		}
		if push.requests() != 0 {
			t.Errorf("プッシュ送信回数 = %d, want 0", push.requests())
		}
		if want := []audit.Status{audit.StatusStarted, audit.StatusCompleted}; !slices.Equal(w.statuses(), want) {
			t.Errorf("監査ログ = %v, want %v", w.statuses(), want)
		}
	})

	t.Run("対象ユーザーに1人1件の通知をまとめて送信すること", func(t *testing.T) {
		t.Parallel()

		db, st := setupTestStore(t)
		seedProfile(t, db, "u1", "ExponentPushToken[1]", `{"daily_summary":true}`)
		seedProfile(t, db, "u2", "ExpoPushToken[2]", `{}`)
		seedProfile(t, db, "u3", "ExponentPushToken[3]", `{"daily_summary":false}`)
		seedProfile(t, db, "u4", "invalid-token", "")
		seedProfile(t, db, "u5", "", "")

		seedNote(t, db, "n1", "u1", "Groceries", time.Hour)
		seedNote(t, db, "n2", "u1", "Meeting", 2*time.Hour)
		seedNote(t, db, "n3", "u1", "Books", 3*time.Hour)
		seedNote(t, db, "n4", "u2", "Trip plan", 4*time.Hour)
		seedNote(t, db, "n5", "u3", "Secret", 5*time.Hour)
		seedNote(t, db, "n6", "u4", "Broken", 6*time.Hour)
		seedNote(t, db, "n7", "u5", "No token", 7*time.Hour)
		seedNote(t, db, "n8", "", "Orphan", 8*time.Hour)
		seedNote(t, db, "n9", "u1", "Too old", 30*time.Hour)

		push := newPushServer(t, http.StatusOK, nil)
		w := &memoryAudit{}

		got, err := newTestJob(st, st, push.endpoint, w).Run(context.Background())
		if err != nil {
			t.Fatalf("Run()でエラーが発生: %v", err)
		}
		want := Summary{
			NotesFound:            8,
			UsersWithTokens:       4,
			EligibleUsers:         3,
			NotificationsPrepared: 2,
			NotificationsSent:     2,
		}
		if got != want {
			t.Errorf("Summary = %+v, want %+v", got, want)
		}

		if push.requests() != 1 {
			t.Fatalf("プッシュ送信回数 = %d, want 1", push.requests())
		}
		batch := push.batches[0]
		if len(batch) != 2 {
			t.Fatalf("バッチの件数 = %d, want 2", len(batch))
		}
		if batch[0].To != "ExponentPushToken[1]" || batch[0].Badge != 3 {
			t.Errorf("u1の通知 = %+v", batch[0])
		}
		if batch[0].Body != `Latest: "Groceries" and 2 more. Tap to view all your recent notes.` {
			t.Errorf("u1の本文 = %q", batch[0].Body)
		}
		if batch[1].To != "ExpoPushToken[2]" || batch[1].Body != `"Trip plan" - about Trip plan` {
			t.Errorf("u2の通知 = %+v", batch[1])
		}

		if want := []audit.Status{audit.StatusStarted, audit.StatusCompleted}; !slices.Equal(w.statuses(), want) {
			t.Fatalf("監査ログ = %v, want %v", w.statuses(), want)
		}
		counts, err := audit.DecodeDetails[Summary](w.records[1])
		if err != nil || *counts != want {
			t.Errorf("監査ログの集計 = %+v, %v", counts, err)
		}
	})

	t.Run("日次サマリーを拒否したユーザーには送信しないこと", func(t *testing.T) {
		t.Parallel()

		db, st := setupTestStore(t)
		seedProfile(t, db, "u1", "ExponentPushToken[1]", `{"daily_summary":false}`)
		seedNote(t, db, "n1", "u1", "Diary", time.Hour)
		push := newPushServer(t, http.StatusOK, nil)

		got, err := newTestJob(st, st, push.endpoint, &memoryAudit{}).Run(context.Background())
		if err != nil {
			t.Fatalf("Run()でエラーが発生: %v", err)
		}
		if got.EligibleUsers != 0 || got.NotificationsSent != 0 || got.UsersWithTokens != 1 {
			t.Errorf("Summary = %+v", got)
		}
		if push.requests() != 0 {
			t.Errorf("プッシュ送信回数 = %d, want 0", push.requests())
		}
	})

	t.Run("ノートの取得に失敗した場合はエラーを監査ログに記録すること", func(t *testing.T) {
		t.Parallel()

		push := newPushServer(t, http.StatusOK, nil)
		w := &memoryAudit{}
		src := &pagedSource{err: errors.New("no such table: notes")}

		_, err := newTestJob(src, &profileSource{}, push.endpoint, w).Run(context.Background())
		if !errors.Is(err, ErrStore) {
			t.Fatalf("err = %v, want ErrStore", err)
		}
		if want := []audit.Status{audit.StatusStarted, audit.StatusError}; !slices.Equal(w.statuses(), want) {
			t.Fatalf("監査ログ = %v, want %v", w.statuses(), want)
		}
		if d := w.records[1].ErrorDetail; d == nil || *d != err.Error() {
			t.Errorf("ErrorDetail = %v", d)
		}
		if push.requests() != 0 {
			t.Errorf("プッシュ送信回数 = %d, want 0", push.requests())
		}
	})

	t.Run("プロフィールの取得に失敗した場合はジョブが失敗すること", func(t *testing.T) {
		t.Parallel()

		src := &pagedSource{notes: []store.Note{{ID: "n1", OwnerID: "u1", CreatedAt: testNow}}}
		w := &memoryAudit{}
		_, err := newTestJob(src, &profileSource{err: errors.New("timeout")}, "http://127.0.0.1:1", w).Run(context.Background())
		if !errors.Is(err, ErrStore) {
			t.Fatalf("err = %v, want ErrStore", err)
		}
		if want := []audit.Status{audit.StatusStarted, audit.StatusError}; !slices.Equal(w.statuses(), want) {
			t.Errorf("監査ログ = %v, want %v", w.statuses(), want)
		}
	})

	t.Run("バッチ送信に失敗した場合はジョブが失敗すること", func(t *testing.T) {
		t.Parallel()

		db, st := setupTestStore(t)
		seedProfile(t, db, "u1", "ExponentPushToken[1]", "")
		seedNote(t, db, "n1", "u1", "Diary", time.Hour)
		push := newPushServer(t, http.StatusBadGateway, nil)
		w := &memoryAudit{}

		got, err := newTestJob(st, st, push.endpoint, w).Run(context.Background())
		if !errors.Is(err, ErrDispatch) {
			t.Fatalf("err = %v, want ErrDispatch", err)
		}
		if got.NotificationsPrepared != 1 || got.NotificationsSent != 0 {
			t.Errorf("Summary = %+v", got)
		}
		if want := []audit.Status{audit.StatusStarted, audit.StatusError}; !slices.Equal(w.statuses(), want) {
			t.Errorf("監査ログ = %v, want %v", w.statuses(), want)
		}
	})

	t.Run("監査ログの書き込みに失敗してもジョブは完了すること", func(t *testing.T) {
		t.Parallel()

		_, st := setupTestStore(t)
		push := newPushServer(t, http.StatusOK, nil)

		if _, err := newTestJob(st, st, push.endpoint, &memoryAudit{err: errors.New("read-only")}).Run(context.Background()); err != nil {
			t.Errorf("Run()でエラーが発生: %v", err)
		}
	})

	t.Run("実行中のジョブは多重に起動できないこと", func(t *testing.T) {
		t.Parallel()

		_, st := setupTestStore(t)
		w := &memoryAudit{}
		j := newTestJob(st, st, "http://127.0.0.1:1", w)

		j.running.Lock()
		_, err := j.Run(context.Background())
		j.running.Unlock()
		if !errors.Is(err, ErrAlreadyRunning) {
			t.Fatalf("err = %v, want ErrAlreadyRunning", err)
		}
		if len(w.statuses()) != 0 {
			t.Errorf("監査ログ = %v, want none", w.statuses())
		}
	})
}
