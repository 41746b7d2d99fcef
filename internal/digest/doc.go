// Package digest は日次通知ジョブを実装する。
//
// 直近24時間に作成されたノートをユーザーごとに集約し、通知設定とプッシュトークンで
// 対象を絞り込んだうえで、1ユーザーにつき1件のプッシュ通知を送信する。
// ジョブの開始と終了は監査ログに記録する。
//
// 処理の流れ:
//
//	started → fetching → grouping → filtering → composing → dispatching → completed | failed
//
// ジョブは自身では再試行しない。次回の起動は外部のスケジューラ（またはcron設定）に任せる。
package digest

import "errors"

var (
	// ErrStore はストアへのアクセスに失敗したことを表す。ジョブは失敗として終了する。
	ErrStore = errors.New("ストアへのアクセスに失敗しました")
	// ErrDispatch はプッシュ通知のバッチ送信自体に失敗したことを表す。ジョブは失敗として終了する。
	ErrDispatch = errors.New("プッシュ通知の送信に失敗しました")
	// ErrAlreadyRunning はジョブが既に実行中であることを表す。
	ErrAlreadyRunning = errors.New("ジョブは既に実行中です")
)
