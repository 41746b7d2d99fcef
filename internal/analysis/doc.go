// Package analysis はノート内容の解析サービスの内部実装を提供する。
//
// ユーザーが入力したテキスト・URL・ファイル・画像から、タイトル・要約・タグを生成する。
// 呼び出し元ごとのレート制限を適用したうえでAI補完APIを呼び出し、
// 失敗した場合は決定的なローカル解析にフォールバックする。
// 呼び出し元にはどちらの経路で生成された結果かを通知しない。
package analysis
