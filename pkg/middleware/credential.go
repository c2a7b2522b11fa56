package middleware

import (
	"errors"
	"net/http"
	"strings"
)

// DefaultSessionCookie はトークンの後半部分を保持するHTTP-onlyセッションCookieの名前。
const DefaultSessionCookie = "OBSERVABILITY_SESSION"

var (
	// ErrMissingAuthorization はAuthorizationヘッダーが無い、または空であることを表す。
	ErrMissingAuthorization = errors.New("authorization header is missing")
	// ErrMissingSessionCookie はセッションCookieが無い、または値が空であることを表す。
	ErrMissingSessionCookie = errors.New("session cookie is missing")
	// ErrMalformedAuthorization はAuthorizationヘッダーが "スキーム トークン" の形式でないことを表す。
	ErrMalformedAuthorization = errors.New("authorization header is malformed")
)

// ExtractCredential はリクエストから検証用の資格情報を組み立てる。
//
// 資格情報は2つの入力から構成され、どちらも必須である。
//   - Authorizationヘッダー: 最初の空白より後ろの部分（"Bearer abc" なら "abc"）
//   - cookieNameで指定したセッションCookieの値
//
// 戻り値はヘッダー側のトークンとCookie値を区切り文字なしで連結した文字列。
// ヘッダーに空白が含まれない場合はErrMalformedAuthorizationを返す。
// 組み立てた資格情報はログやストレージに渡してはならない。
func ExtractCredential(r *http.Request, cookieName string) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", ErrMissingAuthorization
	}

	cookie, err := r.Cookie(cookieName)
	if err != nil || cookie.Value == "" {
		return "", ErrMissingSessionCookie
	}

	_, token, found := strings.Cut(header, " ")
	if !found {
		return "", ErrMalformedAuthorization
	}

	return token + cookie.Value, nil
}
