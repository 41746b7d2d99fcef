package digest

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/nao1215/notedigest/pkg/httpclient"
)

const (
	// defaultBatchSize はプロバイダへの1リクエストあたりの既定の最大件数。
	defaultBatchSize = 100
	// statusOK は送信に成功した項目の状態。
	statusOK = "ok"
)

// pushTicket はプロバイダが返す1件分の送信結果。
type pushTicket struct {
	// Status は送信結果（ok または error）。
	Status string `json:"status"`
	// Message はエラー時の説明。
	Message string `json:"message,omitempty"`
	// Details はエラー時の詳細。
	Details map[string]any `json:"details,omitempty"`
}

// pushResponse はプロバイダの応答ボディ。
type pushResponse struct {
	// Data は送信した順に並んだ項目ごとの結果。
	Data []pushTicket `json:"data"`
}

// Failure はプロバイダが失敗を報告した1件分の通知。
type Failure struct {
	// Payload は失敗した通知。
	Payload Payload
	// Reason は失敗の理由。
	Reason string
}

// DispatchResult はバッチ送信の結果。
type DispatchResult struct {
	// Sent は送信に成功した件数。
	Sent int
	// Failures はプロバイダが失敗を報告した通知。
	Failures []Failure
}

// Dispatcher は通知をプッシュ通知プロバイダへまとめて送信する。
type Dispatcher struct {
	// client はプロバイダの送信エンドポイントへのクライアント。
	client *httpclient.Client
	// batchSize は1リクエストあたりの最大件数。
	batchSize int
	// limiter はリクエストの送信間隔を制御する。nilの場合は制御しない。
	limiter *rate.Limiter
}

// NewDispatcher は新しいDispatcherを生成する。
// clientのベースURLには送信エンドポイントのURLをそのまま指定する。
func NewDispatcher(client *httpclient.Client, batchSize int, limiter *rate.Limiter) *Dispatcher {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Dispatcher{
		client:    client,
		batchSize: batchSize,
		limiter:   limiter,
	}
}

// Dispatch は通知をバッチで送信し、項目ごとの結果を集計する。
//
// プロバイダの上限件数を超える場合は複数のリクエストに分割する。
// リクエスト自体が失敗した場合（通信エラーや2xx以外の応答）はErrDispatchでラップして返し、
// それまでに送信できた件数を結果に含める。
// 応答に項目ごとの結果が無い場合は全件送信できたものとみなす。
func (d *Dispatcher) Dispatch(ctx context.Context, payloads []Payload) (DispatchResult, error) {
	var result DispatchResult
	for i, batch := range chunk(payloads, d.batchSize) {
		if d.limiter != nil {
			if err := d.limiter.Wait(ctx); err != nil {
				return result, fmt.Errorf("%w: %w", ErrDispatch, err)
			}
		}

		var resp pushResponse
		if err := d.client.PostJSON(ctx, "", batch, &resp); err != nil {
			return result, fmt.Errorf("%w: バッチ %d: %w", ErrDispatch, i+1, err)
		}
		reconcile(&result, batch, resp.Data)
	}

	if len(result.Failures) > 0 {
		log.Warn().
			Int("sent", result.Sent).
			Int("failed", len(result.Failures)).
			Msg("[Digest] 一部の通知の送信に失敗しました")
	}
	return result, nil
}

// reconcile はバッチの送信結果をresultに加える。
// ticketsがbatchより短い場合、結果の無い項目は送信できたものとみなす。
func reconcile(result *DispatchResult, batch []Payload, tickets []pushTicket) {
	for i, p := range batch {
		if i >= len(tickets) || tickets[i].Status == statusOK {
			result.Sent++
			continue
		}
		result.Failures = append(result.Failures, Failure{
			Payload: p,
			Reason:  failureReason(tickets[i]),
		})
	}
}

// failureReason はプロバイダの結果から失敗の理由を組み立てる。
func failureReason(t pushTicket) string {
	reason := t.Message
	if reason == "" {
		reason = fmt.Sprintf("status %q", t.Status)
	}
	if code, ok := t.Details["error"].(string); ok && code != "" {
		reason = fmt.Sprintf("%s (%s)", reason, code)
	}
	return reason
}
