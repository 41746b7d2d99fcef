package digest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/nao1215/notedigest/internal/config"
	"github.com/nao1215/notedigest/internal/store"
	"github.com/nao1215/notedigest/pkg/httpclient"
	"github.com/nao1215/notedigest/pkg/middleware"
	"github.com/nao1215/notedigest/pkg/response"
)

// Server は日次通知ジョブを起動するHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// job は日次通知ジョブ。
	job *Job
	// store はノート・プロフィール・監査ログのストア。
	store *store.Store
	// cron はプロセス内スケジューラ。スケジュール未設定の場合はnil。
	cron *cron.Cron
}

// NewServer は設定から新しいdigestサーバーを生成する。
// データベースへの接続とマイグレーションを行う。
func NewServer(ctx context.Context, cfg *config.Digest) (*Server, error) {
	st, err := store.Open(ctx, cfg.DBDriver, cfg.DatabaseURL, store.WithTimeout(cfg.StoreTimeout))
	if err != nil {
		return nil, fmt.Errorf("ストアの初期化に失敗: %w", err)
	}

	push := httpclient.New(cfg.PushURL,
		httpclient.WithBearerToken(cfg.PushAccessToken),
		httpclient.WithTimeout(cfg.PushTimeout),
	)
	job := NewJob(
		NewFetcher(st, cfg.StorePageSize),
		NewAggregator(st),
		NewDispatcher(push, cfg.PushBatchSize, rate.NewLimiter(rate.Limit(cfg.PushRatePerSec), 1)),
		NewAuditor(st, JobName),
		cfg.Window,
	)

	s := newServer(cfg.Port, job, st)
	s.setupRoutes(cfg.JWTSecret)

	if cfg.Schedule != "" {
		if err := s.schedule(cfg.Schedule); err != nil {
			_ = st.Close()
			return nil, err
		}
	}
	return s, nil
}

// newServer はミドルウェアを設定したServerを生成する。ルーティングは設定しない。
func newServer(port string, job *Job, st *store.Store) *Server {
	router := gin.New()
	router.Use(middleware.RequestLogger())
	router.Use(middleware.Recovery())

	return &Server{
		router: router,
		port:   port,
		job:    job,
		store:  st,
	}
}

// Run はHTTPサーバーを起動する。スケジュールが設定されていればスケジューラも開始する。
func (s *Server) Run() error {
	if s.cron != nil {
		s.cron.Start()
	}
	return s.router.Run(fmt.Sprintf(":%s", s.port))
}

// Close はスケジューラを停止し、ストアを閉じる。
func (s *Server) Close() error {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	return s.store.Close()
}

// schedule はcron式specでジョブを定期実行するよう登録する。
func (s *Server) schedule(spec string) error {
	c := cron.New(cron.WithLocation(time.UTC))
	if _, err := c.AddFunc(spec, s.runScheduled); err != nil {
		return fmt.Errorf("スケジュール %q の登録に失敗: %w", spec, err)
	}
	s.cron = c
	log.Info().Str("schedule", spec).Msg("[Digest] 日次通知ジョブのスケジュールを登録しました")
	return nil
}

// runScheduled はスケジューラから呼び出され、ジョブを1回実行する。
func (s *Server) runScheduled() {
	// 失敗はJob内で監査ログとログに記録済み
	if _, err := s.job.Run(context.Background()); errors.Is(err, ErrAlreadyRunning) {
		log.Warn().Msg("[Digest] 前回のジョブが実行中のためスキップしました")
	}
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes(jwtSecret string) {
	api := s.router.Group("/api/v1")
	api.Use(middleware.JWTAuth(jwtSecret))
	{
		// 日次通知ジョブの起動（内部API - スケジューラから呼び出される）
		internal := api.Group("/internal")
		{
			internal.POST("/digest/run", s.handleRun())
			internal.GET("/digest/runs", s.handleRuns())
		}
	}

	// ヘルスチェック
	s.router.GET("/health", s.handleHealth())
}

// runResponse はジョブ起動APIの成功レスポンス。
type runResponse struct {
	Summary
	// Success は常にtrue。
	Success bool `json:"success"`
	// Message は実行結果の説明。
	Message string `json:"message"`
	// Timestamp は応答日時。
	Timestamp string `json:"timestamp"`
}

// handleRun は日次通知ジョブを実行し、集計結果を返すハンドラ。
func (s *Server) handleRun() gin.HandlerFunc {
	return func(c *gin.Context) {
		summary, err := s.job.Run(c.Request.Context())
		switch {
		case err == nil:
			c.JSON(http.StatusOK, runResponse{
				Summary:   summary,
				Success:   true,
				Message:   fmt.Sprintf("%d件の日次通知を送信しました", summary.NotificationsSent),
				Timestamp: response.Timestamp(),
			})
		case errors.Is(err, ErrAlreadyRunning):
			response.Error(c, http.StatusConflict, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, err.Error())
		}
	}
}

const (
	// defaultRunsLimit は実行履歴APIの既定件数。
	defaultRunsLimit = 20
	// maxRunsLimit は実行履歴APIで指定できる最大件数。
	maxRunsLimit = 100
)

// handleRuns は直近のジョブ実行履歴を返すハンドラ。
func (s *Server) handleRuns() gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := defaultRunsLimit
		if v := c.Query("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 || n > maxRunsLimit {
				response.Error(c, http.StatusBadRequest, fmt.Sprintf("limitは1から%dの整数で指定してください", maxRunsLimit))
				return
			}
			limit = n
		}

		runs, err := RecentRuns(c.Request.Context(), s.store, JobName, limit)
		if err != nil {
			log.Error().Err(err).Msg("[Digest] 実行履歴の取得に失敗しました")
			response.Error(c, http.StatusInternalServerError, "実行履歴の取得に失敗しました")
			return
		}
		response.OK(c, http.StatusOK, runs)
	}
}

// handleHealth はストアへの疎通を含めたヘルスチェックのハンドラ。
func (s *Server) handleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := s.store.Ping(c.Request.Context()); err != nil {
			log.Error().Err(err).Msg("[Digest] ストアへの疎通確認に失敗しました")
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "service": "digest"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "digest"})
	}
}
