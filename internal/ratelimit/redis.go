package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// admitScript はカウンタを1増やし、新規キーの場合のみ有効期限を設定する。
// INCRとPEXPIREを1往復で原子的に実行する。
var admitScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

// Redis は複数インスタンス間で状態を共有する固定ウィンドウ型リミッタ。
// ウィンドウはキーの有効期限で表現する。
type Redis struct {
	// client はRedisクライアント。
	client redis.Scripter
	// prefix はキーの接頭辞。
	prefix string
	// limit はウィンドウあたりの上限。
	limit int
	// size はウィンドウ長。
	size time.Duration
}

// NewRedis は新しいRedisリミッタを生成する。
// 0以下の値を渡した場合は既定値を使用する。
func NewRedis(client redis.Scripter, prefix string, limit int, size time.Duration) *Redis {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if size <= 0 {
		size = DefaultWindow
	}
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &Redis{client: client, prefix: prefix, limit: limit, size: size}
}

// Admit はcallerIDのリクエストを受け入れる場合にtrueを返す。
// Redisとの通信に失敗した場合は可用性を優先して受け入れる。
func (r *Redis) Admit(ctx context.Context, callerID string) bool {
	if callerID == "" {
		return false
	}

	count, err := admitScript.Run(ctx, r.client, []string{r.key(callerID)}, r.size.Milliseconds()).Int64()
	if err != nil {
		log.Warn().Err(err).Str("caller_id", callerID).Msg("[RateLimit] Redisでの判定に失敗したため受け入れます")
		return true
	}
	return count <= int64(r.limit)
}

// Window はウィンドウ長を返す。
func (r *Redis) Window() time.Duration {
	return r.size
}

// key は呼び出し元IDに対応するRedisキーを返す。
func (r *Redis) key(callerID string) string {
	return r.prefix + ":" + callerID
}
