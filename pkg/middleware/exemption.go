package middleware

import (
	"net/http"
	"strings"
)

// DefaultExemptPrefix は認証ブートストラップ用エンドポイントのパス接頭辞。
// クライアントはこの配下でセッションを確立するため、資格情報を持たずにアクセスする。
const DefaultExemptPrefix = "/api/auth"

// IsExempt はリクエストが認証を完全に免除されるかどうかを返す。
//
// 免除されるのは次の2つだけ。
//   - OPTIONSメソッド（CORSプリフライト。ブラウザは資格情報を付与できない）
//   - パスが空でなく、prefixで始まるリクエスト
//
// prefixが空の場合はパスによる免除は行わない。
func IsExempt(method, path, prefix string) bool {
	if strings.EqualFold(method, http.MethodOptions) {
		return true
	}
	if prefix == "" || path == "" {
		return false
	}
	return strings.HasPrefix(path, prefix)
}
