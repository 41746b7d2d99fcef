package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// defaultAITimeout はAI補完1回あたりの既定タイムアウト。
const defaultAITimeout = 20 * time.Second

// errMissingCredential はAPIキーが設定されていないことを表す。
var errMissingCredential = errors.New("AI補完APIのキーが設定されていません")

const systemPrompt = `You are an assistant that organizes notes for a mobile note-taking app.
Analyze the user's content and respond with ONLY a single JSON object, no prose and no markdown:
{"title": "...", "summary": "...", "tags": ["...", "..."]}

Rules:
- title: a concise, descriptive title of at most 100 characters.
- summary: a clear summary of the key points in at most 500 characters.
- tags: up to 10 short lowercase keywords that help find the note later.
- Answer in the same language as the content.`

// Completion はAI補完1回分の入力。
type Completion struct {
	// Model は使用するモデル名。
	Model string
	// SystemPrompt はシステムプロンプト。
	SystemPrompt string
	// UserPrompt はユーザープロンプト。
	UserPrompt string
	// ImageURL は画像解析時に添付する画像の参照先。
	ImageURL string
}

// Completer はAI補完APIを呼び出し、生のテキスト応答を返す。
type Completer interface {
	Complete(ctx context.Context, c Completion) (string, error)
}

// AIAnalyzer はAI補完APIを使って解析を行う。
type AIAnalyzer struct {
	// client はAI補完APIのクライアント。nilの場合は常にErrUpstreamを返す。
	client Completer
	// textModel はテキスト解析用のモデル。
	textModel string
	// visionModel は画像解析用のモデル。
	visionModel string
	// timeout はAI補完1回あたりのタイムアウト。
	timeout time.Duration
}

// NewAIAnalyzer は新しいAIAnalyzerを生成する。
// timeoutが0以下の場合は既定値を使用する。
func NewAIAnalyzer(client Completer, textModel, visionModel string, timeout time.Duration) *AIAnalyzer {
	if timeout <= 0 {
		timeout = defaultAITimeout
	}
	return &AIAnalyzer{
		client:      client,
		textModel:   textModel,
		visionModel: visionModel,
		timeout:     timeout,
	}
}

// Run はAI補完APIでリクエストを解析する。
// API呼び出しの失敗、タイムアウト、応答の解析失敗はすべてErrUpstreamでラップして返す。
// 内部での再試行は行わない。
func (a *AIAnalyzer) Run(ctx context.Context, req Request) (Result, error) {
	if a.client == nil {
		return Result{}, fmt.Errorf("%w: %w", ErrUpstream, errMissingCredential)
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	completion := Completion{
		Model:        a.textModel,
		SystemPrompt: systemPrompt,
		UserPrompt:   buildUserPrompt(req),
	}
	if req.wantsVision() {
		completion.Model = a.visionModel
		completion.ImageURL = strings.TrimSpace(req.ImageURL)
	}

	raw, err := a.client.Complete(ctx, completion)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrUpstream, err)
	}

	result, err := parseAIResult(raw, req.ContentType)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	return result, nil
}

// buildUserPrompt はコンテンツ種別に応じたユーザープロンプトを作る。
func buildUserPrompt(req Request) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Content type: %s\n", req.ContentType)
	switch req.ContentType {
	case ContentTypeURL:
		sb.WriteString("The content is a web page address or text copied from a web page.\n")
	case ContentTypeFile:
		sb.WriteString("The content was extracted from a file.\n")
	case ContentTypeImage:
		sb.WriteString("The content describes an attached image.\n")
	}
	sb.WriteString("\nContent:\n")
	sb.WriteString(req.Content)
	return sb.String()
}

// aiPayload はAI応答のJSONオブジェクト。
// 必須フィールドの欠落を検出するためポインタで受ける。
type aiPayload struct {
	Title   *string         `json:"title"`
	Summary *string         `json:"summary"`
	Tags    json.RawMessage `json:"tags"`
}

// parseAIResult はAIの生の応答から解析結果を取り出す。
// 前後に文章が付いていても最初の {...} を抽出して解釈する。
func parseAIResult(raw string, contentType ContentType) (Result, error) {
	obj, ok := extractJSONObject(raw)
	if !ok {
		return Result{}, errors.New("応答にJSONオブジェクトが含まれていません")
	}

	var payload aiPayload
	if err := json.Unmarshal([]byte(obj), &payload); err != nil {
		return Result{}, fmt.Errorf("応答JSONのデシリアライズに失敗: %w", err)
	}
	if payload.Title == nil || strings.TrimSpace(*payload.Title) == "" {
		return Result{}, errors.New("応答にtitleがありません")
	}
	if payload.Summary == nil || strings.TrimSpace(*payload.Summary) == "" {
		return Result{}, errors.New("応答にsummaryがありません")
	}

	return Result{
		Title:   truncate(strings.TrimSpace(*payload.Title), MaxTitleLength),
		Summary: truncate(strings.TrimSpace(*payload.Summary), MaxSummaryLength),
		Tags:    parseTags(payload.Tags, contentType),
	}, nil
}

// parseTags はtagsフィールドを文字列の配列として解釈し、先頭10件を返す。
// フィールドが無い、または配列でない場合はコンテンツ種別のみを返す。
func parseTags(raw json.RawMessage, contentType ContentType) []string {
	fallback := []string{string(contentType)}

	var items []any
	if len(raw) == 0 || json.Unmarshal(raw, &items) != nil || items == nil {
		return fallback
	}

	tags := make([]string, 0, min(len(items), MaxTags))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			continue
		}
		if s = strings.TrimSpace(s); s != "" {
			tags = append(tags, s)
		}
		if len(tags) == MaxTags {
			break
		}
	}
	return tags
}

// extractJSONObject はテキスト中の最初の釣り合った {...} を返す。
// 文字列リテラル内の括弧とエスケープは無視する。
func extractJSONObject(raw string) (string, bool) {
	start := strings.IndexByte(raw, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(raw); i++ {
		ch := raw[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}

		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return raw[start : i+1], true
			}
		}
	}
	return "", false
}
