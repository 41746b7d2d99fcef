// Package httpclient は外部HTTP APIとJSONでやり取りするクライアントを提供する。
//
// プッシュ通知プロバイダへのバッチ送信など、JSONボディのPOSTと
// レスポンスのデシリアライズを伴う通信パターンを統一する。
// 2xx以外のレスポンスは *StatusError として返す。
package httpclient
