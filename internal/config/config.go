// Package config は環境変数からサービスの設定を読み込む。
//
// カレントディレクトリに .env ファイルがあれば事前に読み込み、
// 既に設定済みの環境変数は上書きしない。
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/joho/godotenv"
)

// Log はログ出力の設定。
type Log struct {
	// Level はログレベル。
	Level string
	// Console がtrueの場合はコンソール形式で出力する。
	Console bool
}

// Analysis はanalysisサービスの設定。
type Analysis struct {
	// Port はリッスンポート。
	Port string
	// JWTSecret はアクセストークン検証用の秘密鍵。
	JWTSecret string
	// AllowedOrigins はCORSで許可するオリジン。"*" で全許可。
	AllowedOrigins []string
	// OpenAIAPIKey はAI補完APIのキー。空の場合は常にローカル解析を使用する。
	OpenAIAPIKey string
	// OpenAIBaseURL はOpenAI互換APIのベースURL。空の場合は公式エンドポイント。
	OpenAIBaseURL string
	// TextModel はテキスト解析に使用するモデル。
	TextModel string
	// VisionModel は画像解析に使用するモデル。
	VisionModel string
	// AITimeout はAI呼び出し1回あたりのタイムアウト。
	AITimeout time.Duration
	// RateLimitMax はウィンドウあたりのリクエスト上限。
	RateLimitMax int
	// RateLimitWindow はレート制限のウィンドウ長。
	RateLimitWindow time.Duration
	// RedisURL は共有レートリミッタ用のRedis URL。空の場合はプロセス内で制限する。
	RedisURL string
	// Log はログ設定。
	Log Log
}

// Validate はanalysisサービスの設定を検証する。
func (c *Analysis) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.By(isPort)),
		validation.Field(&c.JWTSecret, validation.Required),
		validation.Field(&c.TextModel, validation.Required),
		validation.Field(&c.VisionModel, validation.Required),
		validation.Field(&c.AITimeout, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.RateLimitMax, validation.Required, validation.Min(1)),
		validation.Field(&c.RateLimitWindow, validation.Required, validation.Min(time.Second)),
	)
}

// Digest はdigestサービス（日次通知ジョブ）の設定。
type Digest struct {
	// Port はリッスンポート。
	Port string
	// JWTSecret はジョブ起動トークン検証用の秘密鍵。
	JWTSecret string
	// DBDriver はdatabase/sqlのドライバ名（sqlite または pgx）。
	DBDriver string
	// DatabaseURL はデータベース接続文字列。
	DatabaseURL string
	// StoreTimeout はストアへのクエリ1回あたりのタイムアウト。
	StoreTimeout time.Duration
	// StorePageSize はノート取得1ページあたりの件数。
	StorePageSize int
	// PushURL はプッシュ通知プロバイダの送信エンドポイント。
	PushURL string
	// PushAccessToken はプッシュ通知プロバイダのアクセストークン（任意）。
	PushAccessToken string
	// PushBatchSize はプロバイダへの1リクエストあたりの最大件数。
	PushBatchSize int
	// PushRatePerSec はプロバイダへのリクエスト送信レート（毎秒）。
	PushRatePerSec float64
	// PushTimeout はプロバイダへの1リクエストあたりのタイムアウト。
	PushTimeout time.Duration
	// Schedule はプロセス内でジョブを起動するcron式。空の場合は外部からの起動のみ。
	Schedule string
	// Window は集計対象とする直近の期間。
	Window time.Duration
	// Log はログ設定。
	Log Log
}

// Validate はdigestサービスの設定を検証する。
func (c *Digest) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.By(isPort)),
		validation.Field(&c.JWTSecret, validation.Required),
		validation.Field(&c.DBDriver, validation.Required, validation.In("sqlite", "pgx")),
		validation.Field(&c.DatabaseURL, validation.Required),
		validation.Field(&c.StoreTimeout, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.StorePageSize, validation.Required, validation.Min(1), validation.Max(10000)),
		validation.Field(&c.PushURL, validation.Required),
		validation.Field(&c.PushBatchSize, validation.Required, validation.Min(1)),
		validation.Field(&c.PushRatePerSec, validation.Required, validation.Min(0.01)),
		validation.Field(&c.PushTimeout, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.Window, validation.Required, validation.Min(time.Minute)),
	)
}

// LoadAnalysis は環境変数からanalysisサービスの設定を読み込む。
func LoadAnalysis() (*Analysis, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	var errs []error
	c := &Analysis{
		Port:            getEnvOr("PORT", "8090"),
		JWTSecret:       getEnvOr("JWT_SECRET", "dev-secret-key"),
		AllowedOrigins:  splitList(getEnvOr("CORS_ALLOWED_ORIGINS", "*")),
		OpenAIAPIKey:    os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL:   os.Getenv("OPENAI_BASE_URL"),
		TextModel:       getEnvOr("AI_TEXT_MODEL", "gpt-4o-mini"),
		VisionModel:     getEnvOr("AI_VISION_MODEL", "gpt-4o"),
		AITimeout:       getDuration("AI_TIMEOUT", 20*time.Second, &errs),
		RateLimitMax:    getInt("RATE_LIMIT_MAX", 10, &errs),
		RateLimitWindow: getDuration("RATE_LIMIT_WINDOW", 60*time.Second, &errs),
		RedisURL:        os.Getenv("REDIS_URL"),
		Log:             loadLog(),
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("設定の検証に失敗: %w", err)
	}
	return c, nil
}

// LoadDigest は環境変数からdigestサービスの設定を読み込む。
func LoadDigest() (*Digest, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	var errs []error
	c := &Digest{
		Port:            getEnvOr("PORT", "8091"),
		JWTSecret:       getEnvOr("JWT_SECRET", "dev-secret-key"),
		DBDriver:        getEnvOr("DB_DRIVER", "sqlite"),
		DatabaseURL:     getEnvOr("DATABASE_URL", "/data/notes.db?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"),
		StoreTimeout:    getDuration("STORE_TIMEOUT", 15*time.Second, &errs),
		StorePageSize:   getInt("STORE_PAGE_SIZE", 500, &errs),
		PushURL:         getEnvOr("PUSH_URL", "https://exp.host/--/api/v2/push/send"),
		PushAccessToken: os.Getenv("PUSH_ACCESS_TOKEN"),
		PushBatchSize:   getInt("PUSH_BATCH_SIZE", 100, &errs),
		PushRatePerSec:  getFloat("PUSH_RATE_PER_SEC", 6, &errs),
		PushTimeout:     getDuration("PUSH_TIMEOUT", 30*time.Second, &errs),
		Schedule:        os.Getenv("DIGEST_SCHEDULE"),
		Window:          getDuration("DIGEST_WINDOW", 24*time.Hour, &errs),
		Log:             loadLog(),
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("設定の検証に失敗: %w", err)
	}
	return c, nil
}

// loadDotEnv はカレントディレクトリの .env を読み込む。ファイルが無い場合は何もしない。
func loadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf(".envの読み込みに失敗: %w", err)
	}
	return nil
}

// loadLog はログ設定を読み込む。
func loadLog() Log {
	return Log{
		Level:   getEnvOr("LOG_LEVEL", "info"),
		Console: strings.EqualFold(os.Getenv("LOG_FORMAT"), "console"),
	}
}

// getEnvOr は環境変数を取得し、未設定の場合はデフォルト値を返す。
func getEnvOr(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

// getInt は環境変数を整数として取得する。解析に失敗した場合はerrsに追加する。
func getInt(key string, defaultValue int, errs *[]error) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%sが整数ではありません: %w", key, err))
		return defaultValue
	}
	return n
}

// getFloat は環境変数を浮動小数点数として取得する。
func getFloat(key string, defaultValue float64, errs *[]error) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%sが数値ではありません: %w", key, err))
		return defaultValue
	}
	return f
}

// getDuration は環境変数を時間長（例: "30s", "24h"）として取得する。
func getDuration(key string, defaultValue time.Duration, errs *[]error) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%sが時間長ではありません: %w", key, err))
		return defaultValue
	}
	return d
}

// splitList はカンマ区切りの文字列を分割し、空要素を除外する。
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// isPort はポート番号として妥当な文字列かを検証する。
func isPort(value any) error {
	s, _ := value.(string)
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 || n > 65535 {
		return errors.New("1から65535のポート番号を指定してください")
	}
	return nil
}
