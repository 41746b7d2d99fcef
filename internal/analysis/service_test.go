package analysis

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/nao1215/notedigest/internal/ratelimit"
)

// countingLimiter は呼び出し回数を数えるテスト用リミッタ。
type countingLimiter struct {
	mu    sync.Mutex
	calls int
	allow bool
}

func (l *countingLimiter) Admit(_ context.Context, _ string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	return l.allow
}

func (l *countingLimiter) Window() time.Duration { return time.Minute }

// TestServiceAnalyze は解析サービスの処理順序とフォールバックを検証する。
func TestServiceAnalyze(t *testing.T) {
	t.Parallel()

	t.Run("AI解析が成功した場合はその結果を返すこと", func(t *testing.T) {
		t.Parallel()

		fc := &fakeCompleter{reply: `{"title":"Trip plan","summary":"Book flights","tags":["travel","Travel","todo"]}`}
		s := NewService(&countingLimiter{allow: true}, NewAIAnalyzer(fc, "m", "v", time.Second), nil)

		got, err := s.Analyze(context.Background(), "user-1", Request{Content: "book flights", ContentType: ContentTypeText})
		if err != nil {
			t.Fatalf("Analyze()でエラーが発生: %v", err)
		}
		want := Result{Title: "Trip plan", Summary: "Book flights", Tags: []string{"travel", "todo"}}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("Analyze() = %+v, want %+v", got, want)
		}
	})

	t.Run("AI解析が失敗した場合はローカル解析と同じ結果を返すこと", func(t *testing.T) {
		t.Parallel()

		failures := map[string]*fakeCompleter{
			"通信エラー":   {err: errors.New("dial tcp: connection refused")},
			"不正な応答":   {reply: "not json"},
			"必須項目の欠落": {reply: `{"title":"only title"}`},
		}
		req := Request{Content: "Weekly grocery list. Milk, eggs and bread!", ContentType: ContentTypeText}
		want := NewLocalAnalyzer().Run(req)

		for name, fc := range failures {
			s := NewService(&countingLimiter{allow: true}, NewAIAnalyzer(fc, "m", "v", time.Second), nil)
			got, err := s.Analyze(context.Background(), "user-1", req)
			if err != nil {
				t.Fatalf("%s: Analyze()でエラーが発生: %v", name, err)
			}
			if !reflect.DeepEqual(got, want) {
				t.Errorf("%s: Analyze() = %+v, want %+v", name, got, want)
			}
		}
	})

	t.Run("AIが未設定の場合はローカル解析を使うこと", func(t *testing.T) {
		t.Parallel()

		req := Request{Content: "a cat", ContentType: ContentTypeImage, ImageURL: "https://cdn.example.com/cat.gif"}
		s := NewService(&countingLimiter{allow: true}, nil, nil)
		got, err := s.Analyze(context.Background(), "user-1", req)
		if err != nil {
			t.Fatalf("Analyze()でエラーが発生: %v", err)
		}
		if got.Title != "Image: cat" {
			t.Errorf("Title = %q, want %q", got.Title, "Image: cat")
		}
	})

	t.Run("コンテンツが長すぎる場合はリミッタやAIを呼ばずにErrValidationを返すこと", func(t *testing.T) {
		t.Parallel()

		limiter := &countingLimiter{allow: true}
		fc := &fakeCompleter{reply: `{"title":"T","summary":"S"}`}
		s := NewService(limiter, NewAIAnalyzer(fc, "m", "v", time.Second), nil)

		_, err := s.Analyze(context.Background(), "user-1", Request{
			Content:     strings.Repeat("a", MaxContentLength+1),
			ContentType: ContentTypeText,
		})
		if !errors.Is(err, ErrValidation) {
			t.Fatalf("err = %v, want ErrValidation", err)
		}
		if limiter.calls != 0 {
			t.Errorf("リミッタの呼び出し回数 = %d, want 0", limiter.calls)
		}
		if fc.callCount() != 0 {
			t.Errorf("AIの呼び出し回数 = %d, want 0", fc.callCount())
		}
	})

	t.Run("ちょうど上限の長さは受け付けること", func(t *testing.T) {
		t.Parallel()

		s := NewService(&countingLimiter{allow: true}, nil, nil)
		_, err := s.Analyze(context.Background(), "user-1", Request{
			Content:     strings.Repeat("あ", MaxContentLength),
			ContentType: ContentTypeText,
		})
		if err != nil {
			t.Fatalf("Analyze()でエラーが発生: %v", err)
		}
	})

	t.Run("不正なリクエストはErrValidationになること", func(t *testing.T) {
		t.Parallel()

		s := NewService(&countingLimiter{allow: true}, nil, nil)
		for _, req := range []Request{
			{Content: "", ContentType: ContentTypeText},
			{Content: "x"},
			{Content: "x", ContentType: "video"},
		} {
			if _, err := s.Analyze(context.Background(), "user-1", req); !errors.Is(err, ErrValidation) {
				t.Errorf("Analyze(%+v) err = %v, want ErrValidation", req, err)
			}
		}
	})

	t.Run("レート制限を超過した場合はAIを呼ばずにErrRateLimitedを返すこと", func(t *testing.T) {
		t.Parallel()

		fc := &fakeCompleter{reply: `{"title":"T","summary":"S"}`}
		s := NewService(&countingLimiter{allow: false}, NewAIAnalyzer(fc, "m", "v", time.Second), nil)

		_, err := s.Analyze(context.Background(), "user-1", Request{Content: "x", ContentType: ContentTypeText})
		if !errors.Is(err, ErrRateLimited) {
			t.Fatalf("err = %v, want ErrRateLimited", err)
		}
		if fc.callCount() != 0 {
			t.Errorf("AIの呼び出し回数 = %d, want 0", fc.callCount())
		}
		if s.RetryAfter() != 60 {
			t.Errorf("RetryAfter() = %d, want 60", s.RetryAfter())
		}
	})

	t.Run("11回目の呼び出しはレート制限されること", func(t *testing.T) {
		t.Parallel()

		s := NewService(ratelimit.NewMemory(10, time.Minute), nil, nil)
		req := Request{Content: "hello world", ContentType: ContentTypeText}
		for i := range 10 {
			if _, err := s.Analyze(context.Background(), "user-1", req); err != nil {
				t.Fatalf("%d回目の呼び出しでエラーが発生: %v", i+1, err)
			}
		}
		if _, err := s.Analyze(context.Background(), "user-1", req); !errors.Is(err, ErrRateLimited) {
			t.Errorf("11回目の err = %v, want ErrRateLimited", err)
		}
		if _, err := s.Analyze(context.Background(), "user-2", req); err != nil {
			t.Errorf("別の呼び出し元は制限されないはず: %v", err)
		}
	})
}

// TestServiceAnalyzeBounds は有効なリクエストに対して結果が常に上限内であることを検証する。
func TestServiceAnalyzeBounds(t *testing.T) {
	t.Parallel()

	longTags := `["a","A","b","c","d","e","f","g","h","i","j","k","l"]`
	replies := []string{
		`{"title":"` + strings.Repeat("t", 300) + `","summary":"` + strings.Repeat("s", 900) + `","tags":` + longTags + `}`,
		"broken",
	}
	inputs := []Request{
		{Content: strings.Repeat("word ", 2000), ContentType: ContentTypeText},
		{Content: strings.Repeat("sentence with several distinct keywords inside. ", 200), ContentType: ContentTypeFile},
		{Content: "https://example.com/" + strings.Repeat("x", 500), ContentType: ContentTypeURL},
		{Content: "photo", ContentType: ContentTypeImage, ImageURL: "https://cdn.example.com/" + strings.Repeat("long_name-", 30) + ".png"},
	}

	for _, reply := range replies {
		for _, req := range inputs {
			fc := &fakeCompleter{reply: reply}
			s := NewService(&countingLimiter{allow: true}, NewAIAnalyzer(fc, "m", "v", time.Second), nil)

			got, err := s.Analyze(context.Background(), "user-1", req)
			if err != nil {
				t.Fatalf("Analyze()でエラーが発生: %v", err)
			}
			if n := utf8.RuneCountInString(got.Title); n > MaxTitleLength {
				t.Errorf("Titleの文字数 = %d", n)
			}
			if n := utf8.RuneCountInString(got.Summary); n > MaxSummaryLength {
				t.Errorf("Summaryの文字数 = %d", n)
			}
			if len(got.Tags) > MaxTags {
				t.Errorf("Tagsの件数 = %d", len(got.Tags))
			}
			seen := make(map[string]bool)
			for _, tag := range got.Tags {
				key := strings.ToLower(tag)
				if seen[key] {
					t.Errorf("タグが重複している: %v", got.Tags)
				}
				seen[key] = true
			}
		}
	}
}
