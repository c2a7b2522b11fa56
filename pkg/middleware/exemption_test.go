package middleware

import (
	"net/http"
	"testing"
)

// TestIsExempt はIsExempt関数を検証する。
func TestIsExempt(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		method string
		path   string
		prefix string
		want   bool
	}{
		{name: "OPTIONSは免除される", method: http.MethodOptions, path: "/api/resource", prefix: DefaultExemptPrefix, want: true},
		{name: "小文字のoptionsも免除される", method: "options", path: "/api/resource", prefix: DefaultExemptPrefix, want: true},
		{name: "OPTIONSはパスが空でも免除される", method: http.MethodOptions, path: "", prefix: DefaultExemptPrefix, want: true},
		{name: "認証接頭辞のパスは免除される", method: http.MethodGet, path: "/api/auth/login", prefix: DefaultExemptPrefix, want: true},
		{name: "接頭辞そのもののパスも免除される", method: http.MethodPost, path: "/api/auth", prefix: DefaultExemptPrefix, want: true},
		// 接頭辞の単純な前方一致であり、セグメント境界は見ない
		{name: "接頭辞に続く文字列があるパスも免除される", method: http.MethodGet, path: "/api/authorize", prefix: DefaultExemptPrefix, want: true},
		{name: "その他のパスは免除されない", method: http.MethodGet, path: "/api/resource", prefix: DefaultExemptPrefix, want: false},
		{name: "空のパスは免除されない", method: http.MethodGet, path: "", prefix: DefaultExemptPrefix, want: false},
		{name: "接頭辞が途中にあるパスは免除されない", method: http.MethodGet, path: "/x/api/auth", prefix: DefaultExemptPrefix, want: false},
		{name: "大文字小文字が異なるパスは免除されない", method: http.MethodGet, path: "/API/AUTH/login", prefix: DefaultExemptPrefix, want: false},
		{name: "接頭辞が空の場合パスによる免除は無い", method: http.MethodGet, path: "/api/auth/login", prefix: "", want: false},
		{name: "HEADは免除されない", method: http.MethodHead, path: "/api/resource", prefix: DefaultExemptPrefix, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := IsExempt(tt.method, tt.path, tt.prefix); got != tt.want {
				t.Errorf("IsExempt(%q, %q, %q) = %v, want %v", tt.method, tt.path, tt.prefix, got, tt.want)
			}
		})
	}
}
