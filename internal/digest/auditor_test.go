package digest

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/nao1215/notedigest/pkg/audit"
)

// memoryAudit はテスト用のAuditWriter。
type memoryAudit struct {
	mu      sync.Mutex
	records []*audit.Record
	err     error
}

func (m *memoryAudit) AppendAudit(ctx context.Context, r *audit.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.records = append(m.records, r)
	return nil
}

func (m *memoryAudit) ListAudit(_ context.Context, jobName string, limit int) ([]audit.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	var out []audit.Record
	for i := len(m.records) - 1; i >= 0 && len(out) < limit; i-- {
		if m.records[i].JobName == jobName {
			out = append(out, *m.records[i])
		}
	}
	return out, nil
}

// statuses は記録された状態を順に返す。
func (m *memoryAudit) statuses() []audit.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]audit.Status, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, r.Status)
	}
	return out
}

// TestAuditorRecord は監査レコードの記録を検証する。
func TestAuditorRecord(t *testing.T) {
	t.Parallel()

	t.Run("ジョブ名と状態を記録すること", func(t *testing.T) {
		t.Parallel()

		w := &memoryAudit{}
		NewAuditor(w, JobName).Record(context.Background(), audit.StatusError, "失敗", "boom", Summary{NotesFound: 1})

		if len(w.records) != 1 {
			t.Fatalf("件数 = %d, want 1", len(w.records))
		}
		r := w.records[0]
		if r.JobName != JobName || r.Status != audit.StatusError || r.Message != "失敗" {
			t.Errorf("Record = %+v", r)
		}
		if r.ErrorDetail == nil || *r.ErrorDetail != "boom" {
			t.Errorf("ErrorDetail = %v", r.ErrorDetail)
		}
		got, err := audit.DecodeDetails[Summary](r)
		if err != nil || got.NotesFound != 1 {
			t.Errorf("Details = %+v, %v", got, err)
		}
	})

	t.Run("キャンセル済みのコンテキストでも記録すること", func(t *testing.T) {
		t.Parallel()

		w := &memoryAudit{}
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		NewAuditor(w, JobName).Record(ctx, audit.StatusStarted, "開始", "", nil)

		if len(w.records) != 1 {
			t.Errorf("件数 = %d, want 1", len(w.records))
		}
	})

	t.Run("書き込みの失敗を呼び出し元に伝えないこと", func(t *testing.T) {
		t.Parallel()

		w := &memoryAudit{err: errors.New("disk full")}
		NewAuditor(w, JobName).Record(context.Background(), audit.StatusCompleted, "完了", "", nil)
		NewAuditor(w, JobName).Record(context.Background(), audit.Status("unknown"), "", "", nil)
	})
}

// TestRecentRuns は監査レコードから実行履歴を復元できることを検証する。
func TestRecentRuns(t *testing.T) {
	t.Parallel()

	t.Run("新しい順に件数とエラー詳細を復元すること", func(t *testing.T) {
		t.Parallel()

		w := &memoryAudit{}
		a := NewAuditor(w, JobName)
		a.Record(context.Background(), audit.StatusStarted, "開始", "", nil)
		a.Record(context.Background(), audit.StatusError, "失敗", "push endpoint returned 503", Summary{NotesFound: 4, NotificationsPrepared: 2})
		NewAuditor(w, "other-job").Record(context.Background(), audit.StatusStarted, "別ジョブ", "", nil)

		runs, err := RecentRuns(context.Background(), w, JobName, 10)
		if err != nil {
			t.Fatalf("RecentRuns()でエラーが発生: %v", err)
		}
		if len(runs) != 2 {
			t.Fatalf("件数 = %d, want 2 (%+v)", len(runs), runs)
		}
		failed, started := runs[0], runs[1]
		if failed.Status != audit.StatusError || failed.Error != "push endpoint returned 503" {
			t.Errorf("runs[0] = %+v", failed)
		}
		if failed.Summary == nil || *failed.Summary != (Summary{NotesFound: 4, NotificationsPrepared: 2}) {
			t.Errorf("runs[0].Summary = %+v", failed.Summary)
		}
		if started.Status != audit.StatusStarted || started.Summary != nil || started.Error != "" {
			t.Errorf("runs[1] = %+v", started)
		}
	})

	t.Run("limit件までに絞り込むこと", func(t *testing.T) {
		t.Parallel()

		w := &memoryAudit{}
		a := NewAuditor(w, JobName)
		for range 3 {
			a.Record(context.Background(), audit.StatusStarted, "開始", "", nil)
		}
		runs, err := RecentRuns(context.Background(), w, JobName, 2)
		if err != nil {
			t.Fatalf("RecentRuns()でエラーが発生: %v", err)
		}
		if len(runs) != 2 {
			t.Errorf("件数 = %d, want 2", len(runs))
		}
	})

	t.Run("件数を復元できないレコードはSummaryを省略すること", func(t *testing.T) {
		t.Parallel()

		w := &memoryAudit{}
		w.records = append(w.records, &audit.Record{
			ID:      "broken",
			JobName: JobName,
			Status:  audit.StatusCompleted,
			Details: []byte(`{"notesFound":"many"}`),
		})
		runs, err := RecentRuns(context.Background(), w, JobName, 10)
		if err != nil {
			t.Fatalf("RecentRuns()でエラーが発生: %v", err)
		}
		if len(runs) != 1 || runs[0].Summary != nil {
			t.Errorf("runs = %+v", runs)
		}
	})

	t.Run("読み出しに失敗した場合はErrStoreを返すこと", func(t *testing.T) {
		t.Parallel()

		w := &memoryAudit{err: errors.New("database is locked")}
		if _, err := RecentRuns(context.Background(), w, JobName, 10); !errors.Is(err, ErrStore) {
			t.Errorf("err = %v, want ErrStore", err)
		}
	})
}
