package analysis

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/nao1215/notedigest/internal/config"
	"github.com/nao1215/notedigest/internal/ratelimit"
	"github.com/nao1215/notedigest/pkg/middleware"
	"github.com/nao1215/notedigest/pkg/response"
)

// Server は解析サービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// service は解析処理本体。
	service *Service
	// redis は共有レートリミッタ用のRedisクライアント。未使用時はnil。
	redis *redis.Client
}

// NewServer は設定から新しい解析サーバーを生成する。
// REDIS_URLが設定されていればRedisでレート制限を共有し、
// OpenAI APIキーが設定されていなければ常にローカル解析を使用する。
func NewServer(cfg *config.Analysis) (*Server, error) {
	var (
		limiter     ratelimit.Limiter
		redisClient *redis.Client
	)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("Redis URLの解析に失敗: %w", err)
		}
		redisClient = redis.NewClient(opts)
		limiter = ratelimit.NewRedis(redisClient, "", cfg.RateLimitMax, cfg.RateLimitWindow)
		log.Info().Str("addr", opts.Addr).Msg("[Analysis] Redisでレート制限を共有します")
	} else {
		limiter = ratelimit.NewMemory(cfg.RateLimitMax, cfg.RateLimitWindow)
	}

	var ai Analyzer
	if cfg.OpenAIAPIKey != "" {
		completer, err := NewOpenAICompleter(OpenAIConfig{
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIBaseURL,
		})
		if err != nil {
			return nil, fmt.Errorf("AI補完クライアントの生成に失敗: %w", err)
		}
		ai = NewAIAnalyzer(completer, cfg.TextModel, cfg.VisionModel, cfg.AITimeout)
	} else {
		log.Warn().Msg("[Analysis] OPENAI_API_KEYが未設定のため、ローカル解析のみを使用します")
	}

	s := newServer(cfg.Port, NewService(limiter, ai, NewLocalAnalyzer()))
	s.redis = redisClient
	s.setupRoutes(cfg.JWTSecret, cfg.AllowedOrigins)
	return s, nil
}

// newServer はミドルウェアを設定したServerを生成する。ルーティングは設定しない。
func newServer(port string, service *Service) *Server {
	router := gin.New()
	router.Use(middleware.RequestLogger())
	router.Use(middleware.Recovery())

	return &Server{
		router:  router,
		port:    port,
		service: service,
	}
}

// Run はHTTPサーバーを起動する。
func (s *Server) Run() error {
	return s.router.Run(fmt.Sprintf(":%s", s.port))
}

// Close はサーバーが保持する外部接続を閉じる。
func (s *Server) Close() error {
	if s.redis != nil {
		return s.redis.Close()
	}
	return nil
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes(jwtSecret string, allowedOrigins []string) {
	s.router.Use(middleware.CORS(allowedOrigins))

	auth := middleware.JWTAuth(jwtSecret)

	api := s.router.Group("/api/v1")
	api.Use(auth)
	{
		// コンテンツ解析
		api.POST("/analyze", s.handleAnalyze())
	}

	// 旧クライアント向けのパス
	s.router.POST("/analyze-content", auth, s.handleAnalyze())

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "analysis"})
	})
}

// maxRequestBodySize は解析リクエストのボディ上限（バイト）。
// 上限文字数のコンテンツをJSONエスケープした場合でも収まる大きさとする。
const maxRequestBodySize = 256 << 10

// handleAnalyze はコンテンツを解析して結果を返すハンドラ。
func (s *Server) handleAnalyze() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			response.Error(c, http.StatusUnauthorized, "ユーザーIDが取得できません")
			return
		}

		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxRequestBodySize)
		var req Request
		if err := c.ShouldBindJSON(&req); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				response.Error(c, http.StatusRequestEntityTooLarge, fmt.Sprintf("リクエストボディは%dバイト以下にしてください", tooLarge.Limit))
				return
			}
			response.Error(c, http.StatusBadRequest, fmt.Sprintf("リクエストが不正です: %v", err))
			return
		}

		result, err := s.service.Analyze(c.Request.Context(), userID, req)
		switch {
		case err == nil:
			response.OK(c, http.StatusOK, result)
		case errors.Is(err, ErrValidation):
			response.Error(c, http.StatusBadRequest, err.Error())
		case errors.Is(err, ErrRateLimited):
			c.Header("Retry-After", strconv.Itoa(s.service.RetryAfter()))
			response.Error(c, http.StatusTooManyRequests, "リクエストが多すぎます。しばらくしてから再試行してください")
		default:
			log.Error().Err(err).Str("user_id", userID).Msg("[Analysis] 解析処理でエラーが発生しました")
			response.Error(c, http.StatusInternalServerError, "解析処理に失敗しました")
		}
	}
}
