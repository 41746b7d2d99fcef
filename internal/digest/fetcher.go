package digest

import (
	"context"
	"fmt"
	"time"

	"github.com/nao1215/notedigest/internal/store"
)

// defaultPageSize はノート取得1ページあたりの既定件数。
const defaultPageSize = 500

// NoteSource はノートをページ単位で読み出す。
type NoteSource interface {
	ListNotesSince(ctx context.Context, cutoff time.Time, after *store.Cursor, limit int) ([]store.Note, error)
}

// Fetcher は集計期間内に作成されたノートを取得する。
type Fetcher struct {
	// source はノートの読み出し元。
	source NoteSource
	// pageSize は1ページあたりの件数。
	pageSize int
}

// NewFetcher は新しいFetcherを生成する。pageSizeが0以下の場合は既定値を使用する。
func NewFetcher(source NoteSource, pageSize int) *Fetcher {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	return &Fetcher{source: source, pageSize: pageSize}
}

// FetchSince はcutoff以降に作成されたノートを新しい順にすべて返す。
// 件数に上限は設けず、キーセットページングで末尾まで読み進める。
// 読み出しに失敗した場合はErrStoreでラップして返す。
func (f *Fetcher) FetchSince(ctx context.Context, cutoff time.Time) ([]store.Note, error) {
	var (
		notes  []store.Note
		cursor *store.Cursor
	)
	for {
		page, err := f.source.ListNotesSince(ctx, cutoff, cursor, f.pageSize)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrStore, err)
		}
		notes = append(notes, page...)
		if len(page) < f.pageSize {
			return notes, nil
		}

		last := page[len(page)-1]
		cursor = &store.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}
	}
}
