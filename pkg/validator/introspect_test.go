package validator

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
)

// newIntrospectionServer はテスト用のイントロスペクションエンドポイントを起動する。
// 受け取ったトークンをtokensに書き込み、bodyを返す。
func newIntrospectionServer(t *testing.T, status int, body string, tokens chan<- string) (*httptest.Server, *atomic.Int32) {
	t.Helper()

	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if err := r.ParseForm(); err != nil {
			t.Errorf("フォームのパースに失敗: %v", err)
		}
		if tokens != nil {
			tokens <- r.PostForm.Get("token")
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(ts.Close)
	return ts, &hits
}

// TestNewIntrospector はNewIntrospector関数を検証する。
func TestNewIntrospector(t *testing.T) {
	t.Parallel()

	t.Run("エンドポイントが空の場合エラーが返ること", func(t *testing.T) {
		t.Parallel()

		if _, err := NewIntrospector(IntrospectionConfig{}); !errors.Is(err, ErrMissingEndpoint) {
			t.Errorf("error = %v, want %v", err, ErrMissingEndpoint)
		}
	})

	t.Run("生成直後のブレーカーは閉じていること", func(t *testing.T) {
		t.Parallel()

		i, err := NewIntrospector(IntrospectionConfig{Endpoint: "http://127.0.0.1:1/introspect"})
		if err != nil {
			t.Fatalf("NewIntrospector()でエラーが発生: %v", err)
		}
		if i.State() != gobreaker.StateClosed {
			t.Errorf("State = %v, want %v", i.State(), gobreaker.StateClosed)
		}
	})
}

// TestIntrospectorValidateToken はIntrospector.ValidateTokenを検証する。
func TestIntrospectorValidateToken(t *testing.T) {
	t.Parallel()

	t.Run("activeがtrueの場合に有効と判定されること", func(t *testing.T) {
		t.Parallel()

		tokens := make(chan string, 1)
		ts, _ := newIntrospectionServer(t, http.StatusOK, `{"active":true}`, tokens)

		i, err := NewIntrospector(IntrospectionConfig{Endpoint: ts.URL + "/oauth2/introspect"})
		if err != nil {
			t.Fatalf("NewIntrospector()でエラーが発生: %v", err)
		}

		valid, err := i.ValidateToken(context.Background(), "abcxyz")
		if err != nil {
			t.Fatalf("ValidateToken()でエラーが発生: %v", err)
		}
		if !valid {
			t.Error("有効と判定されるべき")
		}
		if got := <-tokens; got != "abcxyz" {
			t.Errorf("送信されたトークン = %q, want %q", got, "abcxyz")
		}
	})

	t.Run("activeがfalseの場合に無効と判定されること", func(t *testing.T) {
		t.Parallel()

		ts, _ := newIntrospectionServer(t, http.StatusOK, `{"active":false}`, nil)
		i, err := NewIntrospector(IntrospectionConfig{Endpoint: ts.URL})
		if err != nil {
			t.Fatalf("NewIntrospector()でエラーが発生: %v", err)
		}

		valid, err := i.ValidateToken(context.Background(), "abcxyz")
		if err != nil {
			t.Fatalf("ValidateToken()でエラーが発生: %v", err)
		}
		if valid {
			t.Error("無効と判定されるべき")
		}
	})

	t.Run("有効期限切れの場合に無効と判定されること", func(t *testing.T) {
		t.Parallel()

		ts, _ := newIntrospectionServer(t, http.StatusOK, `{"active":true,"exp":1000}`, nil)
		i, err := NewIntrospector(IntrospectionConfig{Endpoint: ts.URL})
		if err != nil {
			t.Fatalf("NewIntrospector()でエラーが発生: %v", err)
		}
		i.now = func() time.Time { return time.Unix(1000, 0) }

		valid, err := i.ValidateToken(context.Background(), "abcxyz")
		if err != nil {
			t.Fatalf("ValidateToken()でエラーが発生: %v", err)
		}
		if valid {
			t.Error("有効期限切れは無効と判定されるべき")
		}
	})

	t.Run("クライアント認証情報が送信されること", func(t *testing.T) {
		t.Parallel()

		var user, pass string
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, _ = r.BasicAuth()
			w.Write([]byte(`{"active":true}`))
		}))
		t.Cleanup(ts.Close)

		i, err := NewIntrospector(IntrospectionConfig{
			Endpoint:     ts.URL,
			ClientID:     "observability-portal",
			ClientSecret: "s3cret",
		})
		if err != nil {
			t.Fatalf("NewIntrospector()でエラーが発生: %v", err)
		}
		if _, err := i.ValidateToken(context.Background(), "abcxyz"); err != nil {
			t.Fatalf("ValidateToken()でエラーが発生: %v", err)
		}
		if user != "observability-portal" || pass != "s3cret" {
			t.Errorf("BasicAuth = (%q, %q), want (%q, %q)", user, pass, "observability-portal", "s3cret")
		}
	})

	t.Run("プロバイダーが500を返した場合ErrProviderが返ること", func(t *testing.T) {
		t.Parallel()

		ts, _ := newIntrospectionServer(t, http.StatusInternalServerError, `{"error":"server_error"}`, nil)
		i, err := NewIntrospector(IntrospectionConfig{Endpoint: ts.URL})
		if err != nil {
			t.Fatalf("NewIntrospector()でエラーが発生: %v", err)
		}

		valid, err := i.ValidateToken(context.Background(), "abcxyz")
		if !errors.Is(err, ErrProvider) {
			t.Errorf("error = %v, want %v", err, ErrProvider)
		}
		if valid {
			t.Error("エラー時に有効と判定されるべきではない")
		}
	})

	t.Run("不正なJSON応答の場合ErrProviderが返ること", func(t *testing.T) {
		t.Parallel()

		ts, _ := newIntrospectionServer(t, http.StatusOK, `not json`, nil)
		i, err := NewIntrospector(IntrospectionConfig{Endpoint: ts.URL})
		if err != nil {
			t.Fatalf("NewIntrospector()でエラーが発生: %v", err)
		}

		if _, err := i.ValidateToken(context.Background(), "abcxyz"); !errors.Is(err, ErrProvider) {
			t.Errorf("error = %v, want %v", err, ErrProvider)
		}
	})

	t.Run("連続して失敗するとブレーカーが開き問い合わせが止まること", func(t *testing.T) {
		t.Parallel()

		ts, hits := newIntrospectionServer(t, http.StatusBadGateway, `{}`, nil)
		i, err := NewIntrospector(IntrospectionConfig{
			Endpoint:         ts.URL,
			BreakerThreshold: 2,
			BreakerTimeout:   time.Minute,
		})
		if err != nil {
			t.Fatalf("NewIntrospector()でエラーが発生: %v", err)
		}

		for n := 0; n < 2; n++ {
			if _, err := i.ValidateToken(context.Background(), "abcxyz"); err == nil {
				t.Fatalf("%d回目: エラーが返るべき", n+1)
			}
		}
		if i.State() != gobreaker.StateOpen {
			t.Fatalf("State = %v, want %v", i.State(), gobreaker.StateOpen)
		}

		_, err = i.ValidateToken(context.Background(), "abcxyz")
		if !errors.Is(err, ErrProvider) || !errors.Is(err, gobreaker.ErrOpenState) {
			t.Errorf("error = %v, want ErrProvider wrapping ErrOpenState", err)
		}
		if got := hits.Load(); got != 2 {
			t.Errorf("エンドポイントへの問い合わせ回数 = %d, want 2", got)
		}
	})

	t.Run("呼び出し元のキャンセルではブレーカーが開かないこと", func(t *testing.T) {
		t.Parallel()

		ts, _ := newIntrospectionServer(t, http.StatusOK, `{"active":true}`, nil)
		i, err := NewIntrospector(IntrospectionConfig{Endpoint: ts.URL, BreakerThreshold: 1})
		if err != nil {
			t.Fatalf("NewIntrospector()でエラーが発生: %v", err)
		}

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if _, err := i.ValidateToken(ctx, "abcxyz"); err == nil {
			t.Fatal("キャンセル済みコンテキストでエラーが返るべき")
		}
		if i.State() != gobreaker.StateClosed {
			t.Errorf("State = %v, want %v", i.State(), gobreaker.StateClosed)
		}
	})
}
