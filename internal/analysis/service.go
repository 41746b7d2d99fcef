package analysis

import (
	"context"
	"errors"

	"github.com/nao1215/notedigest/internal/ratelimit"
	"github.com/rs/zerolog/log"
)

// Analyzer はAI補完による解析を行う。
type Analyzer interface {
	Run(ctx context.Context, req Request) (Result, error)
}

// Service はレート制限、AI解析、ローカル解析を順に組み合わせて1件のリクエストを処理する。
type Service struct {
	// limiter は呼び出し元ごとのレートリミッタ。
	limiter ratelimit.Limiter
	// ai はAI解析器。nilの場合は常にローカル解析を使用する。
	ai Analyzer
	// local はフォールバック用のローカル解析器。
	local *LocalAnalyzer
}

// NewService は新しいServiceを生成する。
func NewService(limiter ratelimit.Limiter, ai Analyzer, local *LocalAnalyzer) *Service {
	if local == nil {
		local = NewLocalAnalyzer()
	}
	return &Service{
		limiter: limiter,
		ai:      ai,
		local:   local,
	}
}

// Analyze はcallerIDのリクエストを解析する。
//
// 入力が不正な場合はレート制限やAI呼び出しを行わずにErrValidationを返す。
// レート制限を超過した場合はErrRateLimitedを返す。
// AI解析が失敗した場合はログに記録し、ローカル解析の結果を返す。
// どちらの経路で結果を得たかは呼び出し元に伝えない。
func (s *Service) Analyze(ctx context.Context, callerID string, req Request) (Result, error) {
	if err := req.Validate(); err != nil {
		return Result{}, err
	}

	if !s.limiter.Admit(ctx, callerID) {
		return Result{}, ErrRateLimited
	}

	if s.ai != nil {
		result, err := s.ai.Run(ctx, req)
		if err == nil {
			return result.normalize(), nil
		}
		event := log.Warn()
		if errors.Is(err, errMissingCredential) {
			event = log.Debug()
		}
		event.Err(err).
			Str("caller_id", callerID).
			Str("content_type", string(req.ContentType)).
			Msg("[Analysis] AI解析に失敗したためローカル解析を使用します")
	}

	return s.local.Run(req).normalize(), nil
}

// RetryAfter はレート制限超過時に再試行までの目安となる時間（秒）を返す。
func (s *Service) RetryAfter() int {
	return int(s.limiter.Window().Seconds())
}
