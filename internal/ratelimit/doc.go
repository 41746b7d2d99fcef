// Package ratelimit は呼び出し元ごとの固定ウィンドウ型レートリミッタを提供する。
//
// Memoryはプロセス内のマップでウィンドウを管理し、各インスタンスが独立して上限を適用する。
// 複数インスタンスで上限を共有する場合はRedisを使用する。
package ratelimit
