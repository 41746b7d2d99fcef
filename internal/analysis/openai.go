package analysis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/rs/zerolog/log"
)

// maxCompletionTokens は1回の補完で生成する最大トークン数。
const maxCompletionTokens = 500

// analysisSchema は構造化出力で要求するJSONの形。
type analysisSchema struct {
	Title   string   `json:"title" jsonschema:"description=Concise title of at most 100 characters"`
	Summary string   `json:"summary" jsonschema:"description=Summary of at most 500 characters"`
	Tags    []string `json:"tags" jsonschema:"description=Up to 10 lowercase keywords"`
}

// OpenAIConfig はOpenAI互換APIへの接続設定。
type OpenAIConfig struct {
	// APIKey はAPIキー。
	APIKey string
	// BaseURL はOpenAI互換APIのベースURL。空の場合は公式エンドポイント。
	BaseURL string
}

// OpenAICompleter はOpenAIのChat Completions APIを呼び出すCompleter。
type OpenAICompleter struct {
	// client はOpenAI SDKのクライアント。
	client openai.Client
	// schema は構造化出力用のJSONスキーマ。
	schema any
}

// NewOpenAICompleter は新しいOpenAICompleterを生成する。
// SDKによる自動再試行は無効にする。
func NewOpenAICompleter(cfg OpenAIConfig) (*OpenAICompleter, error) {
	if cfg.APIKey == "" {
		return nil, errMissingCredential
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}

	return &OpenAICompleter{
		client: openai.NewClient(opts...),
		schema: reflector.Reflect(&analysisSchema{}),
	}, nil
}

// Complete はChat Completions APIを呼び出し、最初の選択肢の本文を返す。
func (c *OpenAICompleter) Complete(ctx context.Context, in Completion) (string, error) {
	user := openai.UserMessage(in.UserPrompt)
	if in.ImageURL != "" {
		user = openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
			openai.TextContentPart(in.UserPrompt),
			openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
				URL: in.ImageURL,
			}),
		})
	}

	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(in.Model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(in.SystemPrompt),
			user,
		},
		MaxTokens:   openai.Int(maxCompletionTokens),
		Temperature: openai.Float(0.3),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:        "note_analysis",
					Description: openai.String("Title, summary and tags of a note"),
					Schema:      c.schema,
					Strict:      openai.Bool(true),
				},
			},
		},
	}

	start := time.Now()
	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("AI補完APIの呼び出しに失敗: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("AI補完APIの応答に選択肢がありません")
	}

	log.Debug().
		Str("model", in.Model).
		Dur("duration", time.Since(start)).
		Int64("prompt_tokens", resp.Usage.PromptTokens).
		Int64("completion_tokens", resp.Usage.CompletionTokens).
		Msg("[Analysis] AI補完が完了しました")

	return resp.Choices[0].Message.Content, nil
}
