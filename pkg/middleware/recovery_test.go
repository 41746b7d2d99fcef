package middleware

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// assertErrorEnvelope は失敗レスポンスのステータスとエンベロープを検証する。
func assertErrorEnvelope(t *testing.T, w *httptest.ResponseRecorder, wantStatus int, wantError string) {
	t.Helper()

	if w.Code != wantStatus {
		t.Fatalf("ステータスコード = %d, want %d (%s)", w.Code, wantStatus, w.Body.String())
	}

	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("レスポンスボディのパースに失敗: %v", err)
	}
	if body["success"] != false {
		t.Errorf("success = %v, want false", body["success"])
	}
	if body["error"] != wantError {
		t.Errorf("error = %v, want %q", body["error"], wantError)
	}
	ts, _ := body["timestamp"].(string)
	if _, err := time.Parse(time.RFC3339, ts); err != nil {
		t.Errorf("timestamp = %q はRFC3339形式ではない", ts)
	}
	if _, ok := body["data"]; ok {
		t.Error("失敗レスポンスにdataが含まれている")
	}
}

// TestRecovery はRecoveryミドルウェアを検証する。
func TestRecovery(t *testing.T) {
	t.Parallel()

	router := gin.New()
	router.Use(Recovery())
	router.GET("/panic", func(_ *gin.Context) {
		panic("テスト用パニック")
	})
	router.POST("/panic-error", func(_ *gin.Context) {
		panic(errors.New("nil map"))
	})
	router.GET("/ok", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	tests := []struct {
		name   string
		method string
		path   string
	}{
		{name: "文字列のパニックは500のエラーエンベロープになること", method: http.MethodGet, path: "/panic"},
		{name: "error型のパニックも500のエラーエンベロープになること", method: http.MethodPost, path: "/panic-error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(tt.method, tt.path, nil))

			assertErrorEnvelope(t, w, http.StatusInternalServerError, "内部サーバーエラーが発生しました")
		})
	}

	t.Run("パニックしないハンドラの応答は変更されないこと", func(t *testing.T) {
		t.Parallel()

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ok", nil))

		if w.Code != http.StatusOK {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}
		if !strings.Contains(w.Body.String(), `"status":"ok"`) {
			t.Errorf("body = %s", w.Body.String())
		}
	})
}

// TestRecoveryLogging はパニック時のログ出力を検証する。
// グローバルロガーを差し替えるため並列実行しない。
func TestRecoveryLogging(t *testing.T) {
	var buf bytes.Buffer
	original := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = original })

	router := gin.New()
	router.Use(RequestLogger())
	router.Use(Recovery())
	router.GET("/panic", func(_ *gin.Context) {
		panic("テスト用パニック")
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))

	var panicEntry, accessEntry map[string]any
	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		var entry map[string]any
		if err := json.Unmarshal(line, &entry); err != nil {
			t.Fatalf("ログ出力のパースに失敗: %v (%s)", err, line)
		}
		if _, ok := entry["panic"]; ok {
			panicEntry = entry
		} else {
			accessEntry = entry
		}
	}

	if panicEntry == nil {
		t.Fatalf("パニックのログが出力されていない: %s", buf.String())
	}
	if stack, _ := panicEntry["stack"].(string); !strings.Contains(stack, "goroutine") {
		t.Errorf("stack = %q, スタックトレースが含まれていない", stack)
	}

	if accessEntry == nil {
		t.Fatalf("アクセスログが出力されていない: %s", buf.String())
	}
	if accessEntry["status"] != float64(http.StatusInternalServerError) {
		t.Errorf("アクセスログのstatus = %v, want %d", accessEntry["status"], http.StatusInternalServerError)
	}
	if accessEntry["level"] != "error" {
		t.Errorf("アクセスログのlevel = %v, want %q", accessEntry["level"], "error")
	}
}
