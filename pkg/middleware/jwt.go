package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/nao1215/notedigest/pkg/response"
)

// JWTClaims はJWTトークンのクレーム（ペイロード）を表す。
// 認証基盤が発行するアクセストークンはユーザーIDを sub に、
// 内部発行のトークンは user_id に格納する。
type JWTClaims struct {
	jwt.RegisteredClaims
	// UserID は呼び出し元の一意識別子。
	UserID string `json:"user_id,omitempty"`
}

// subjectUserID はクレームから呼び出し元のユーザーIDを決定する。
func (c *JWTClaims) subjectUserID() string {
	if c.UserID != "" {
		return c.UserID
	}
	return c.Subject
}

// tokenIssuer は内部発行トークンの発行者名。
const tokenIssuer = "notedigest"

// GenerateJWT は呼び出し元IDを格納したHS256署名のトークンを生成する。
// cmd/token から外部スケジューラ用のサービストークンを発行する際に使用する。
func GenerateJWT(secret, userID string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("JWTシークレットが空です")
	}
	if userID == "" {
		return "", errors.New("ユーザーIDが空です")
	}
	if ttl <= 0 {
		return "", fmt.Errorf("有効期間が不正です: %s", ttl)
	}

	now := time.Now()
	claims := JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    tokenIssuer,
		},
		UserID: userID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("JWTトークンの署名に失敗: %w", err)
	}
	return signed, nil
}

// JWTAuth はJWTトークンを検証するGinミドルウェアを返す。
// 検証に成功した場合、コンテキストに "user_id" を設定する。
// HS256以外の署名アルゴリズムと、ユーザーIDを持たないトークンは拒否する。
func JWTAuth(secret string) gin.HandlerFunc {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			response.AbortWithError(c, http.StatusUnauthorized, "Authorizationヘッダーが必要です")
			return
		}

		tokenString, found := strings.CutPrefix(authHeader, "Bearer ")
		if !found || strings.TrimSpace(tokenString) == "" {
			response.AbortWithError(c, http.StatusUnauthorized, "Bearer トークン形式が不正です")
			return
		}

		claims := &JWTClaims{}
		token, err := parser.ParseWithClaims(tokenString, claims, func(_ *jwt.Token) (any, error) {
			return []byte(secret), nil
		})
		if err != nil || !token.Valid {
			response.AbortWithError(c, http.StatusUnauthorized, "トークンが無効です")
			return
		}

		userID := claims.subjectUserID()
		if userID == "" {
			response.AbortWithError(c, http.StatusUnauthorized, "トークンにユーザーIDが含まれていません")
			return
		}

		c.Set("user_id", userID)
		c.Next()
	}
}

// GetUserID はGinコンテキストからユーザーIDを取得する。
// JWTAuthミドルウェアが事前に適用されている必要がある。
func GetUserID(c *gin.Context) string {
	userID, _ := c.Get("user_id")
	if id, ok := userID.(string); ok {
		return id
	}
	return ""
}
