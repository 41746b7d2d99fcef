// 解析サービスのエントリポイント。
// ノートのコンテンツからタイトル・要約・タグを生成するAPIを提供する。
// AI補完APIが利用できない場合はローカル解析で応答する。
package main

import (
	"os"

	"github.com/rs/zerolog/log"

	"github.com/nao1215/notedigest/internal/analysis"
	"github.com/nao1215/notedigest/internal/config"
	"github.com/nao1215/notedigest/pkg/logger"
)

func main() {
	cfg, err := config.LoadAnalysis()
	if err != nil {
		logger.Init(logger.Config{Service: "analysis"})
		log.Fatal().Err(err).Msg("設定の読み込みに失敗")
	}
	logger.Init(logger.Config{Service: "analysis", Level: cfg.Log.Level, Console: cfg.Log.Console})

	server, err := analysis.NewServer(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("解析サーバーの初期化に失敗")
	}

	log.Info().Str("port", cfg.Port).Msg("解析サービスを起動します")
	if err := server.Run(); err != nil {
		log.Error().Err(err).Msg("解析サービスの起動に失敗")
		_ = server.Close()
		os.Exit(1)
	}
}
