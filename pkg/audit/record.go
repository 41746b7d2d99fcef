// Package audit はバッチジョブの実行監査レコードを定義する。
//
// 監査レコードは不変（immutable）であり、追記のみ（append-only）で運用される。
// ジョブの開始・完了・失敗をそれぞれ1件のレコードとして記録する。
package audit

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status はジョブ実行の状態を表す。
type Status string

const (
	// StatusStarted はジョブが開始されたことを表す。
	StatusStarted Status = "started"
	// StatusCompleted はジョブが正常に完了したことを表す。
	StatusCompleted Status = "completed"
	// StatusError はジョブが失敗したことを表す。
	StatusError Status = "error"
)

// Valid はStatusが定義済みの値かどうかを返す。
func (s Status) Valid() bool {
	switch s {
	case StatusStarted, StatusCompleted, StatusError:
		return true
	}
	return false
}

// Record はジョブ実行の監査レコード。
type Record struct {
	// ID はレコードの一意識別子（UUID）。
	ID string `json:"id"`
	// JobName はジョブ名。
	JobName string `json:"job_name"`
	// Status はジョブの状態。
	Status Status `json:"status"`
	// Message は人間向けの説明。
	Message string `json:"message"`
	// ErrorDetail は失敗時のエラー詳細。成功時はnil。
	ErrorDetail *string `json:"error_details,omitempty"`
	// Details は件数などの付加情報（JSON形式）。
	Details json.RawMessage `json:"details,omitempty"`
	// CreatedAt はレコードが作成された日時。
	CreatedAt time.Time `json:"created_at"`
}

// New は新しい監査レコードを生成する。
// errorDetailが空文字列の場合はErrorDetailをnilにする。
// detailsにnil以外を渡した場合はJSON形式にシリアライズされる。
func New(jobName string, status Status, message, errorDetail string, details any) (*Record, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("不明なジョブ状態です: %q", status)
	}

	r := &Record{
		ID:        uuid.New().String(),
		JobName:   jobName,
		Status:    status,
		Message:   message,
		CreatedAt: time.Now().UTC(),
	}
	if errorDetail != "" {
		r.ErrorDetail = &errorDetail
	}
	if details != nil {
		jsonData, err := json.Marshal(details)
		if err != nil {
			return nil, fmt.Errorf("監査データのシリアライズに失敗: %w", err)
		}
		r.Details = jsonData
	}
	return r, nil
}

// DecodeDetails はレコードのDetailsフィールドを指定された型にデシリアライズする。
func DecodeDetails[T any](r *Record) (*T, error) {
	var data T
	if len(r.Details) == 0 {
		return &data, nil
	}
	if err := json.Unmarshal(r.Details, &data); err != nil {
		return nil, fmt.Errorf("監査データのデシリアライズに失敗: %w", err)
	}
	return &data, nil
}
