package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// TestAccessLog はAccessLogミドルウェアを検証する。
func TestAccessLog(t *testing.T) {
	t.Parallel()

	t.Run("リクエストIDが生成されレスポンスヘッダーとコンテキストに設定されること", func(t *testing.T) {
		t.Parallel()

		core, logs := observer.New(zapcore.InfoLevel)
		var ctxRequestID string
		router := gin.New()
		router.Use(AccessLog(zap.New(core)))
		router.GET("/test", func(c *gin.Context) {
			ctxRequestID = RequestIDFromContext(c.Request.Context())
			c.Status(http.StatusOK)
		})

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

		got := w.Header().Get("X-Request-ID")
		if _, err := uuid.Parse(got); err != nil {
			t.Errorf("X-Request-ID = %q はUUIDではない: %v", got, err)
		}
		if ctxRequestID != got {
			t.Errorf("コンテキストのリクエストID = %q, want %q", ctxRequestID, got)
		}

		entries := logs.All()
		if len(entries) != 1 {
			t.Fatalf("ログ件数 = %d, want 1", len(entries))
		}
		fields := entries[0].ContextMap()
		if fields["status"] != int64(http.StatusOK) {
			t.Errorf("status = %v, want %d", fields["status"], http.StatusOK)
		}
		if fields["path"] != "/test" {
			t.Errorf("path = %v, want %q", fields["path"], "/test")
		}
	})

	t.Run("クライアントが送ったリクエストIDを引き継ぐこと", func(t *testing.T) {
		t.Parallel()

		router := gin.New()
		router.Use(AccessLog(nil))
		router.GET("/test", func(c *gin.Context) {
			c.Status(http.StatusOK)
		})

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("X-Request-ID", "client-supplied")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if got := w.Header().Get("X-Request-ID"); got != "client-supplied" {
			t.Errorf("X-Request-ID = %q, want %q", got, "client-supplied")
		}
	})

	t.Run("拒否されたリクエストのステータスも記録されること", func(t *testing.T) {
		t.Parallel()

		core, logs := observer.New(zapcore.InfoLevel)
		router := gin.New()
		router.Use(AccessLog(zap.New(core)))
		router.Use(func(c *gin.Context) {
			c.AbortWithStatus(http.StatusUnauthorized)
		})
		router.GET("/test", func(c *gin.Context) {
			c.Status(http.StatusOK)
		})

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

		entries := logs.All()
		if len(entries) != 1 {
			t.Fatalf("ログ件数 = %d, want 1", len(entries))
		}
		if got := entries[0].ContextMap()["status"]; got != int64(http.StatusUnauthorized) {
			t.Errorf("status = %v, want %d", got, http.StatusUnauthorized)
		}
	})
}

// TestRequestIDFromContext はRequestIDFromContext関数を検証する。
func TestRequestIDFromContext(t *testing.T) {
	t.Parallel()

	t.Run("設定されたIDを取得できること", func(t *testing.T) {
		t.Parallel()

		ctx := WithRequestID(context.Background(), "abc")
		if got := RequestIDFromContext(ctx); got != "abc" {
			t.Errorf("RequestIDFromContext() = %q, want %q", got, "abc")
		}
	})

	t.Run("未設定の場合は空文字列が返ること", func(t *testing.T) {
		t.Parallel()

		if got := RequestIDFromContext(context.Background()); got != "" {
			t.Errorf("RequestIDFromContext() = %q, want empty string", got)
		}
	})
}
