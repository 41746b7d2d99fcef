package digest

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nao1215/notedigest/pkg/audit"
)

// AuditWriter は監査レコードを追記する。
type AuditWriter interface {
	AppendAudit(ctx context.Context, r *audit.Record) error
}

// Auditor はジョブの開始と終了を監査ログに記録する。
// 記録の失敗はログに残すのみで、ジョブの成否には影響させない。
type Auditor struct {
	// writer は監査レコードの書き込み先。
	writer AuditWriter
	// jobName は記録するジョブ名。
	jobName string
}

// NewAuditor は新しいAuditorを生成する。
func NewAuditor(writer AuditWriter, jobName string) *Auditor {
	return &Auditor{writer: writer, jobName: jobName}
}

// Record は監査レコードを1件書き込む。
// 呼び出し元のコンテキストがキャンセルされていても書き込みを試みる。
func (a *Auditor) Record(ctx context.Context, status audit.Status, message, errorDetail string, details any) {
	r, err := audit.New(a.jobName, status, message, errorDetail, details)
	if err != nil {
		log.Error().Err(err).Str("job", a.jobName).Msg("[Digest] 監査レコードの生成に失敗しました")
		return
	}

	if err := a.writer.AppendAudit(context.WithoutCancel(ctx), r); err != nil {
		log.Error().
			Err(err).
			Str("job", a.jobName).
			Str("status", string(status)).
			Msg("[Digest] 監査ログの書き込みに失敗しました")
	}
}

// AuditReader は監査レコードを新しい順に読み出す。
type AuditReader interface {
	ListAudit(ctx context.Context, jobName string, limit int) ([]audit.Record, error)
}

// Run はジョブ実行履歴の1件。監査レコード1件に対応する。
type Run struct {
	// ID は監査レコードのID。
	ID string `json:"id"`
	// Status はジョブの状態。
	Status audit.Status `json:"status"`
	// Message は記録時の説明。
	Message string `json:"message"`
	// Error は失敗時のエラー詳細。
	Error string `json:"error,omitempty"`
	// Summary は終了時点の件数。開始レコードではnil。
	Summary *Summary `json:"summary,omitempty"`
	// CreatedAt は記録日時。
	CreatedAt time.Time `json:"createdAt"`
}

// RecentRuns はjobNameの監査レコードを新しい順に最大limit件、実行履歴として返す。
// 件数を復元できないレコードはSummaryを省略する。
func RecentRuns(ctx context.Context, reader AuditReader, jobName string, limit int) ([]Run, error) {
	records, err := reader.ListAudit(ctx, jobName, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStore, err)
	}

	runs := make([]Run, 0, len(records))
	for i := range records {
		r := &records[i]
		run := Run{
			ID:        r.ID,
			Status:    r.Status,
			Message:   r.Message,
			CreatedAt: r.CreatedAt,
		}
		if r.ErrorDetail != nil {
			run.Error = *r.ErrorDetail
		}
		if len(r.Details) > 0 {
			summary, err := audit.DecodeDetails[Summary](r)
			if err != nil {
				log.Warn().Err(err).Str("audit_id", r.ID).Msg("[Digest] 監査レコードの件数を復元できませんでした")
			} else {
				run.Summary = summary
			}
		}
		runs = append(runs, run)
	}
	return runs, nil
}
