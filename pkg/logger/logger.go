// Package logger はzerologベースの構造化ロガーを初期化する。
//
// 各サービスのエントリポイントで一度だけInitを呼び出し、以降は
// github.com/rs/zerolog/log のグローバルロガーを使用する。
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// consoleTimeFormat はコンソール出力時のタイムスタンプ形式。
const consoleTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Config はロガーの設定。
type Config struct {
	// Service はログに付与するサービス名。
	Service string
	// Level はログレベル（trace, debug, info, warn, error）。
	Level string
	// Console がtrueの場合は人間向けのコンソール形式で出力する。
	Console bool
}

// Init はグローバルロガーを設定する。
// 不明なログレベルが指定された場合はinfoとして扱う。
func Init(cfg Config) {
	InitWithWriter(cfg, os.Stdout)
}

// InitWithWriter は出力先を指定してグローバルロガーを設定する。
func InitWithWriter(cfg Config, w io.Writer) {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.SetGlobalLevel(ParseLevel(cfg.Level))

	out := w
	if cfg.Console {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: consoleTimeFormat}
	}

	ctx := zerolog.New(out).With().Timestamp()
	if cfg.Service != "" {
		ctx = ctx.Str("service", cfg.Service)
	}
	log.Logger = ctx.Logger()
}

// ParseLevel は文字列をzerologのログレベルに変換する。
func ParseLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}
