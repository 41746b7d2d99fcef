package digest

import (
	"context"
	"fmt"
	"slices"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/nao1215/notedigest/internal/store"
)

const (
	// defaultLookupBatch はプロフィール取得1回あたりの最大ID数。
	defaultLookupBatch = 200
	// defaultLookupConcurrency はプロフィール取得の最大同時実行数。
	defaultLookupConcurrency = 4
)

// ProfileSource はプッシュトークン付きのプロフィールを読み出す。
type ProfileSource interface {
	ProfilesWithTokens(ctx context.Context, ids []string) ([]store.Profile, error)
}

// UserNotes は1ユーザー分のノート。
type UserNotes struct {
	// OwnerID はノートの所有者のユーザーID。
	OwnerID string
	// Notes は所有者のノート（新しい順）。
	Notes []store.Note
}

// Eligibility はプロフィールの絞り込み結果。
type Eligibility struct {
	// WithTokens はプッシュトークンを持つプロフィール。
	WithTokens []store.Profile
	// Eligible は日次サマリーを拒否していないプロフィール。
	Eligible []store.Profile
}

// Aggregator はノートをユーザーごとに集約し、通知対象のユーザーを絞り込む。
type Aggregator struct {
	// profiles はプロフィールの読み出し元。
	profiles ProfileSource
	// batchSize はプロフィール取得1回あたりの最大ID数。
	batchSize int
	// concurrency はプロフィール取得の最大同時実行数。
	concurrency int
}

// NewAggregator は新しいAggregatorを生成する。
func NewAggregator(profiles ProfileSource) *Aggregator {
	return &Aggregator{
		profiles:    profiles,
		batchSize:   defaultLookupBatch,
		concurrency: defaultLookupConcurrency,
	}
}

// GroupByOwner はノートを所有者ごとにまとめる。
// 所有者の順序は最初に現れた順、各ユーザーのノートは入力の順序（新しい順）を保つ。
// 所有者の無いノートは除外してログに記録する。
func (a *Aggregator) GroupByOwner(notes []store.Note) []UserNotes {
	index := make(map[string]int)
	var (
		groups  []UserNotes
		dropped int
	)
	for _, n := range notes {
		if n.OwnerID == "" {
			dropped++
			continue
		}
		i, ok := index[n.OwnerID]
		if !ok {
			i = len(groups)
			index[n.OwnerID] = i
			groups = append(groups, UserNotes{OwnerID: n.OwnerID})
		}
		groups[i].Notes = append(groups[i].Notes, n)
	}

	if dropped > 0 {
		log.Warn().Int("dropped", dropped).Msg("[Digest] 所有者の無いノートを除外しました")
	}
	return groups
}

// ResolveEligible はownerIDsのうちプッシュトークンを持つプロフィールを取得し、
// 日次サマリーを明示的に拒否していないものを通知対象とする。
// 設定が無い場合は通知対象とする。結果はownerIDsの順序に並ぶ。
// 読み出しに失敗した場合はErrStoreでラップして返す。
func (a *Aggregator) ResolveEligible(ctx context.Context, ownerIDs []string) (Eligibility, error) {
	batches := chunk(ownerIDs, a.batchSize)
	results := make([][]store.Profile, len(batches))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)
	for i, batch := range batches {
		g.Go(func() error {
			profiles, err := a.profiles.ProfilesWithTokens(gctx, batch)
			if err != nil {
				return err
			}
			results[i] = profiles
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Eligibility{}, fmt.Errorf("%w: %w", ErrStore, err)
	}

	order := make(map[string]int, len(ownerIDs))
	for i, id := range ownerIDs {
		order[id] = i
	}
	var withTokens []store.Profile
	for _, profiles := range results {
		withTokens = append(withTokens, profiles...)
	}
	slices.SortFunc(withTokens, func(x, y store.Profile) int {
		return order[x.ID] - order[y.ID]
	})

	var eligible []store.Profile
	for _, p := range withTokens {
		if p.Preferences.DailySummary != nil && !*p.Preferences.DailySummary {
			continue
		}
		eligible = append(eligible, p)
	}

	return Eligibility{WithTokens: withTokens, Eligible: eligible}, nil
}

// chunk はsをsize件ずつに分割する。
func chunk[T any](s []T, size int) [][]T {
	if size <= 0 {
		size = len(s)
	}
	var out [][]T
	for size > 0 && len(s) > 0 {
		n := min(size, len(s))
		out = append(out, s[:n:n])
		s = s[n:]
	}
	return out
}
