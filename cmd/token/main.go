// サービス用トークンの発行コマンド。
// 外部スケジューラがdigestサービスの内部APIを呼び出すためのBearerトークンを標準出力に書き出す。
//
//	token --subject scheduler --ttl 720h
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/nao1215/notedigest/pkg/logger"
	"github.com/nao1215/notedigest/pkg/middleware"
)

func run(_ context.Context, cmd *cli.Command) error {
	token, err := middleware.GenerateJWT(cmd.String("secret"), cmd.String("subject"), cmd.Duration("ttl"))
	if err != nil {
		return fmt.Errorf("トークンの発行に失敗: %w", err)
	}

	log.Info().
		Str("subject", cmd.String("subject")).
		Time("expires_at", time.Now().Add(cmd.Duration("ttl")).UTC()).
		Msg("サービストークンを発行しました")
	_, err = fmt.Fprintln(os.Stdout, token)
	return err
}

func main() {
	logger.InitWithWriter(logger.Config{Service: "token", Console: true}, os.Stderr)

	cmd := &cli.Command{
		Name:   "token",
		Usage:  "digestサービスの内部APIを呼び出すためのサービストークンを発行する",
		Action: run,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "secret",
				Usage:    "署名に使うHS256シークレット",
				Sources:  cli.EnvVars("JWT_SECRET"),
				Required: true,
			},
			&cli.StringFlag{
				Name:    "subject",
				Aliases: []string{"s"},
				Usage:   "トークンに格納する呼び出し元ID",
				Value:   "scheduler",
			},
			&cli.DurationFlag{
				Name:  "ttl",
				Usage: "トークンの有効期間",
				Value: 24 * time.Hour,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Error().Err(err).Msg("トークンの発行に失敗しました")
		os.Exit(1)
	}
}
