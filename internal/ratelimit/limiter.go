package ratelimit

import (
	"context"
	"sync"
	"time"
)

const (
	// DefaultLimit はウィンドウあたりの既定リクエスト上限。
	DefaultLimit = 10
	// DefaultWindow は既定のウィンドウ長。
	DefaultWindow = 60 * time.Second
)

// Limiter は呼び出し元ごとにリクエストの受け入れ可否を判定する。
type Limiter interface {
	// Admit はcallerIDのリクエストを受け入れる場合にtrueを返す。
	Admit(ctx context.Context, callerID string) bool
	// Window はウィンドウ長を返す。再試行までの目安として使用する。
	Window() time.Duration
}

// window は1呼び出し元分のウィンドウ状態。
type window struct {
	// count はウィンドウ内で受け付けたリクエスト数。
	count int
	// resetAt はウィンドウがリセットされる日時。
	resetAt time.Time
}

// Memory はプロセス内メモリで状態を保持する固定ウィンドウ型リミッタ。
// プロセスごとに一度だけ生成し、リクエスト間で共有する。
type Memory struct {
	// mu はwindowsへの並行アクセスを保護するミューテックス。
	mu sync.Mutex
	// windows は呼び出し元IDごとのウィンドウ状態。
	windows map[string]*window
	// limit はウィンドウあたりの上限。
	limit int
	// size はウィンドウ長。
	size time.Duration
	// now は現在時刻を返す関数。テストで差し替える。
	now func() time.Time
}

// MemoryOption はMemoryの設定を変更する関数。
type MemoryOption func(*Memory)

// WithClock は現在時刻の取得関数を差し替える。
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		m.now = now
	}
}

// NewMemory は上限limit、ウィンドウ長sizeのMemoryを生成する。
// 0以下の値を渡した場合は既定値を使用する。
func NewMemory(limit int, size time.Duration, opts ...MemoryOption) *Memory {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if size <= 0 {
		size = DefaultWindow
	}
	m := &Memory{
		windows: make(map[string]*window),
		limit:   limit,
		size:    size,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Admit はcallerIDのリクエストを受け入れる場合にtrueを返す。
// 初回、またはリセット日時を過ぎている場合は新しいウィンドウを開始する。
// callerIDが空の場合は常に拒否する。
func (m *Memory) Admit(_ context.Context, callerID string) bool {
	if callerID == "" {
		return false
	}

	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.windows[callerID]
	if !ok || now.After(w.resetAt) {
		m.windows[callerID] = &window{count: 1, resetAt: now.Add(m.size)}
		m.sweep(now)
		return true
	}

	w.count++
	return w.count <= m.limit
}

// Window はウィンドウ長を返す。
func (m *Memory) Window() time.Duration {
	return m.size
}

// sweep は期限切れのウィンドウを削除する。
// 呼び出し元が増え続けてもマップが際限なく大きくならないよう、
// 新しいウィンドウを開始するタイミングでまとめて掃除する。
// m.muを保持した状態で呼び出すこと。
func (m *Memory) sweep(now time.Time) {
	if len(m.windows) < sweepThreshold {
		return
	}
	for id, w := range m.windows {
		if now.After(w.resetAt) {
			delete(m.windows, id)
		}
	}
}

// sweepThreshold は掃除を開始するエントリ数。
const sweepThreshold = 1024
