// Package store はノート、プロフィール、ジョブ監査ログを保持するリレーショナルストアへのアクセスを提供する。
//
// database/sql 経由でSQLite（modernc.org/sqlite）とPostgreSQL（pgx）の両方に対応する。
// ノートとプロフィールはモバイルアプリ側で作成されるため、本パッケージからは読み取りのみを行う。
// ジョブ監査ログは追記のみで、更新や削除は行わない。
package store
