// 日次通知サービスのエントリポイント。
// 直近24時間のノートをユーザーごとにまとめ、プッシュ通知を送信するジョブを提供する。
// ジョブは外部スケジューラからのHTTP呼び出し、またはDIGEST_SCHEDULEのcron式で起動する。
package main

import (
	"context"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/nao1215/notedigest/internal/config"
	"github.com/nao1215/notedigest/internal/digest"
	"github.com/nao1215/notedigest/pkg/logger"
)

func main() {
	cfg, err := config.LoadDigest()
	if err != nil {
		logger.Init(logger.Config{Service: "digest"})
		log.Fatal().Err(err).Msg("設定の読み込みに失敗")
	}
	logger.Init(logger.Config{Service: "digest", Level: cfg.Log.Level, Console: cfg.Log.Console})

	server, err := digest.NewServer(context.Background(), cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("digestサーバーの初期化に失敗")
	}

	log.Info().Str("port", cfg.Port).Str("driver", cfg.DBDriver).Msg("日次通知サービスを起動します")
	if err := server.Run(); err != nil {
		log.Error().Err(err).Msg("日次通知サービスの起動に失敗")
		_ = server.Close()
		os.Exit(1)
	}
}
