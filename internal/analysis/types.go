package analysis

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

const (
	// MaxContentLength は解析対象コンテンツの最大文字数。
	MaxContentLength = 10000
	// MaxTitleLength はタイトルの最大文字数。
	MaxTitleLength = 100
	// MaxSummaryLength は要約の最大文字数。
	MaxSummaryLength = 500
	// MaxTags はタグの最大件数。
	MaxTags = 10
	// maxImageURLLength は画像URLの最大文字数。
	maxImageURLLength = 2048
)

var (
	// ErrValidation はリクエストの形式や長さが不正であることを表す。
	ErrValidation = errors.New("リクエストが不正です")
	// ErrRateLimited は呼び出し元がレート制限を超過したことを表す。
	ErrRateLimited = errors.New("レート制限を超過しました")
	// ErrUpstream はAI補完APIの呼び出しまたは応答の解析に失敗したことを表す。
	ErrUpstream = errors.New("AI解析に失敗しました")
)

// ContentType は解析対象コンテンツの種類を表す。
type ContentType string

const (
	// ContentTypeText はプレーンテキスト。
	ContentTypeText ContentType = "text"
	// ContentTypeURL はWebページのURL。
	ContentTypeURL ContentType = "url"
	// ContentTypeFile はファイル。
	ContentTypeFile ContentType = "file"
	// ContentTypeImage は画像。
	ContentTypeImage ContentType = "image"
)

// Request は解析リクエスト。
type Request struct {
	// Content は解析対象のコンテンツ。
	Content string `json:"content"`
	// ContentType はコンテンツの種類。
	ContentType ContentType `json:"type"`
	// ImageURL は画像の参照先。画像解析時のみ使用する。
	ImageURL string `json:"imageUrl,omitempty"`
}

// Validate はリクエストの形式と長さを検証する。
// 検証エラーはErrValidationでラップして返す。
func (r *Request) Validate() error {
	err := validation.ValidateStruct(r,
		validation.Field(&r.Content, validation.Required, validation.RuneLength(1, MaxContentLength)),
		validation.Field(&r.ContentType, validation.Required,
			validation.In(ContentTypeText, ContentTypeURL, ContentTypeFile, ContentTypeImage)),
		validation.Field(&r.ImageURL, validation.RuneLength(0, maxImageURLLength)),
	)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}
	return nil
}

// wantsVision は画像解析用のモデルを使うべきリクエストかを返す。
func (r *Request) wantsVision() bool {
	return r.ContentType == ContentTypeImage && strings.TrimSpace(r.ImageURL) != ""
}

// Result は解析結果。
type Result struct {
	// Title はタイトル（最大100文字）。
	Title string `json:"title"`
	// Summary は要約（最大500文字）。
	Summary string `json:"summary"`
	// Tags はタグ（最大10件、重複なし）。
	Tags []string `json:"tags"`
}

// normalize はタイトル・要約・タグを上限に収め、タグの重複を除く。
func (r Result) normalize() Result {
	return Result{
		Title:   truncate(strings.TrimSpace(r.Title), MaxTitleLength),
		Summary: truncate(strings.TrimSpace(r.Summary), MaxSummaryLength),
		Tags:    dedupeTags(r.Tags, MaxTags),
	}
}

// truncate はsを最大n文字（rune単位）に切り詰める。
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

// dedupeTags は大文字小文字を区別せずにタグの重複を除き、最大limit件に制限する。
// 空白のみのタグは除外する。
func dedupeTags(tags []string, limit int) []string {
	out := make([]string, 0, min(len(tags), limit))
	seen := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		key := strings.ToLower(tag)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, tag)
		if len(out) == limit {
			break
		}
	}
	return out
}
