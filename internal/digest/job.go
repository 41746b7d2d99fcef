package digest

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nao1215/notedigest/internal/store"
	"github.com/nao1215/notedigest/pkg/audit"
)

const (
	// JobName は監査ログに記録するジョブ名。
	JobName = "daily-notifications"
	// DefaultWindow は集計対象とする既定の期間。
	DefaultWindow = 24 * time.Hour
)

// State はジョブの処理段階。
type State string

// ジョブの処理段階。completed と failed が終端。
const (
	StateStarted     State = "started"
	StateFetching    State = "fetching"
	StateGrouping    State = "grouping"
	StateFiltering   State = "filtering"
	StateComposing   State = "composing"
	StateDispatching State = "dispatching"
	StateCompleted   State = "completed"
	StateFailed      State = "failed"
)

// Summary はジョブ1回分の集計結果。
type Summary struct {
	// NotesFound は期間内に作成されたノート数。
	NotesFound int `json:"notesFound"`
	// UsersWithTokens はプッシュトークンを持つユーザー数。
	UsersWithTokens int `json:"usersWithTokens"`
	// EligibleUsers は日次サマリーを拒否していないユーザー数。
	EligibleUsers int `json:"eligibleUsers"`
	// NotificationsPrepared は組み立てた通知数。
	NotificationsPrepared int `json:"notificationsPrepared"`
	// NotificationsSent は送信に成功した通知数。
	NotificationsSent int `json:"notificationsSent"`
}

// Job は日次通知ジョブ。
// 同時に複数回実行されることはなく、実行中の起動はErrAlreadyRunningで拒否する。
type Job struct {
	fetcher    *Fetcher
	aggregator *Aggregator
	dispatcher *Dispatcher
	auditor    *Auditor
	// window は集計対象とする期間。
	window time.Duration
	// now は現在時刻を返す関数。テストで差し替える。
	now func() time.Time
	// running は実行中に保持するロック。
	running sync.Mutex
}

// NewJob は新しいJobを生成する。windowが0以下の場合は24時間とする。
func NewJob(fetcher *Fetcher, aggregator *Aggregator, dispatcher *Dispatcher, auditor *Auditor, window time.Duration) *Job {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Job{
		fetcher:    fetcher,
		aggregator: aggregator,
		dispatcher: dispatcher,
		auditor:    auditor,
		window:     window,
		now:        time.Now,
	}
}

// Run はジョブを1回実行する。
// ストアの読み出しやバッチ送信に失敗した場合は監査ログにエラーを記録して返す。
// ジョブ内での再試行は行わない。
func (j *Job) Run(ctx context.Context) (Summary, error) {
	if !j.running.TryLock() {
		return Summary{}, ErrAlreadyRunning
	}
	defer j.running.Unlock()

	start := j.now()
	var summary Summary
	j.enter(StateStarted)
	j.auditor.Record(ctx, audit.StatusStarted, "日次通知ジョブを開始しました", "", nil)

	j.enter(StateFetching)
	notes, err := j.fetcher.FetchSince(ctx, start.Add(-j.window))
	if err != nil {
		return j.fail(ctx, summary, err)
	}
	summary.NotesFound = len(notes)
	if len(notes) == 0 {
		return j.complete(ctx, summary, "期間内に作成されたノートはありません")
	}

	j.enter(StateGrouping)
	groups := j.aggregator.GroupByOwner(notes)
	if len(groups) == 0 {
		return j.complete(ctx, summary, "通知対象のユーザーはいません")
	}
	notesByOwner := make(map[string][]store.Note, len(groups))
	ownerIDs := make([]string, 0, len(groups))
	for _, g := range groups {
		notesByOwner[g.OwnerID] = g.Notes
		ownerIDs = append(ownerIDs, g.OwnerID)
	}

	j.enter(StateFiltering)
	eligibility, err := j.aggregator.ResolveEligible(ctx, ownerIDs)
	if err != nil {
		return j.fail(ctx, summary, err)
	}
	summary.UsersWithTokens = len(eligibility.WithTokens)
	summary.EligibleUsers = len(eligibility.Eligible)

	j.enter(StateComposing)
	payloads := make([]Payload, 0, len(eligibility.Eligible))
	for _, p := range eligibility.Eligible {
		if !ValidPushToken(p.PushToken) {
			log.Warn().Str("user_id", p.ID).Msg("[Digest] プッシュトークンの形式が不正なため通知を作成しません")
			continue
		}
		payloads = append(payloads, Compose(p, notesByOwner[p.ID], start))
	}
	summary.NotificationsPrepared = len(payloads)
	if len(payloads) == 0 {
		return j.complete(ctx, summary, "通知対象のユーザーはいません")
	}

	j.enter(StateDispatching)
	result, err := j.dispatcher.Dispatch(ctx, payloads)
	summary.NotificationsSent = result.Sent
	if err != nil {
		return j.fail(ctx, summary, err)
	}
	for _, f := range result.Failures {
		log.Warn().Str("to", f.Payload.To).Str("reason", f.Reason).Msg("[Digest] 通知の送信に失敗しました")
	}

	return j.complete(ctx, summary, "日次通知を送信しました")
}

// enter は処理段階の遷移をログに記録する。
func (j *Job) enter(s State) {
	log.Debug().Str("job", JobName).Str("state", string(s)).Msg("[Digest] 処理段階を遷移しました")
}

// complete はジョブを成功として終了する。
func (j *Job) complete(ctx context.Context, summary Summary, message string) (Summary, error) {
	j.enter(StateCompleted)
	j.auditor.Record(ctx, audit.StatusCompleted, message, "", summary)
	log.Info().
		Int("notes_found", summary.NotesFound).
		Int("users_with_tokens", summary.UsersWithTokens).
		Int("eligible_users", summary.EligibleUsers).
		Int("notifications_prepared", summary.NotificationsPrepared).
		Int("notifications_sent", summary.NotificationsSent).
		Msg("[Digest] " + message)
	return summary, nil
}

// fail はジョブを失敗として終了する。
func (j *Job) fail(ctx context.Context, summary Summary, err error) (Summary, error) {
	j.enter(StateFailed)
	j.auditor.Record(ctx, audit.StatusError, "日次通知ジョブが失敗しました", err.Error(), summary)
	log.Error().Err(err).Msg("[Digest] 日次通知ジョブが失敗しました")
	return summary, err
}
