package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// TokenValidator は組み立てた資格情報をIDプロバイダーに問い合わせて検証する。
// プロバイダーとの通信失敗や不正な応答はerrorとして返す。
// タイムアウトはValidator側のクライアントで設定すること。AuthGateは設定しない。
type TokenValidator interface {
	ValidateToken(ctx context.Context, credential string) (bool, error)
}

// Reason は判定結果の理由を表す。診断用であり、クライアントには返さない。
type Reason string

const (
	// ReasonExempt は認証が免除されたことを表す。
	ReasonExempt Reason = "exempt"
	// ReasonAuthenticated は資格情報の検証に成功したことを表す。
	ReasonAuthenticated Reason = "authenticated"
	// ReasonMissingCredential はAuthorizationヘッダーまたはセッションCookieが無いことを表す。
	ReasonMissingCredential Reason = "missing-credential"
	// ReasonMalformedCredential はAuthorizationヘッダーの形式が不正であることを表す。
	ReasonMalformedCredential Reason = "malformed-credential"
	// ReasonInvalidCredential はValidatorが資格情報を無効と判定したことを表す。
	ReasonInvalidCredential Reason = "invalid-credential"
	// ReasonProviderError はValidatorの呼び出しが失敗したことを表す。
	ReasonProviderError Reason = "provider-error"
)

// Decision はAuthGateによる1リクエスト分の判定結果。
type Decision struct {
	// Allowed はパイプラインを続行してよいかどうか。
	Allowed bool
	// Status は拒否時に返すHTTPステータス。常に401。許可時は0。
	Status int
	// Reason は判定の理由。
	Reason Reason
	// Cause は拒否の原因となったエラー。診断専用。
	Cause error
}

func allow(reason Reason) Decision {
	return Decision{Allowed: true, Reason: reason}
}

func deny(reason Reason, cause error) Decision {
	return Decision{Status: http.StatusUnauthorized, Reason: reason, Cause: cause}
}

// AuthGate はルーティング前に全リクエストの認証を判定するゲート。
// 状態を持たないため、複数のゴルーチンから同時に使用できる。
type AuthGate struct {
	// validator は資格情報を検証する外部サービス。
	validator TokenValidator
	// exemptPrefix は認証を免除するパス接頭辞。
	exemptPrefix string
	// sessionCookie はトークン後半部分を保持するCookie名。
	sessionCookie string
	// reporter は拒否の診断情報の送信先。
	reporter DenialReporter
}

// GateOption はAuthGateの設定を変更する。
type GateOption func(*AuthGate)

// WithExemptPrefix は認証を免除するパス接頭辞を設定する。
func WithExemptPrefix(prefix string) GateOption {
	return func(g *AuthGate) {
		g.exemptPrefix = prefix
	}
}

// WithSessionCookie はセッションCookie名を設定する。
func WithSessionCookie(name string) GateOption {
	return func(g *AuthGate) {
		g.sessionCookie = name
	}
}

// WithReporter は拒否時の診断情報の送信先を設定する。
func WithReporter(r DenialReporter) GateOption {
	return func(g *AuthGate) {
		if r != nil {
			g.reporter = r
		}
	}
}

// NewAuthGate は新しいAuthGateを生成する。validatorは必須。
func NewAuthGate(validator TokenValidator, opts ...GateOption) (*AuthGate, error) {
	if validator == nil {
		return nil, errors.New("token validator is required")
	}

	g := &AuthGate{
		validator:     validator,
		exemptPrefix:  DefaultExemptPrefix,
		sessionCookie: DefaultSessionCookie,
		reporter:      NopReporter{},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Decide はリクエストを許可するか拒否するかを判定する。
// 拒否理由はすべて同じ401に集約される。
func (g *AuthGate) Decide(r *http.Request) Decision {
	if IsExempt(r.Method, r.URL.Path, g.exemptPrefix) {
		return allow(ReasonExempt)
	}

	credential, err := ExtractCredential(r, g.sessionCookie)
	if err != nil {
		if errors.Is(err, ErrMalformedAuthorization) {
			return deny(ReasonMalformedCredential, err)
		}
		return deny(ReasonMissingCredential, err)
	}

	valid, err := g.validator.ValidateToken(r.Context(), credential)
	if err != nil {
		return deny(ReasonProviderError, err)
	}
	if !valid {
		return deny(ReasonInvalidCredential, nil)
	}
	return allow(ReasonAuthenticated)
}

// Handler はAuthGateをGinミドルウェアとして返す。
// 拒否時はステータス401のみを書き込み、ボディやヘッダーには触れずに中断する。
func (g *AuthGate) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		d := g.Decide(c.Request)
		if d.Allowed {
			c.Next()
			return
		}

		g.reporter.ReportDenial(c.Request.Context(), Denial{
			Method:     c.Request.Method,
			Path:       c.Request.URL.Path,
			Reason:     d.Reason,
			Cause:      d.Cause,
			RemoteAddr: c.ClientIP(),
			RequestID:  RequestIDFromContext(c.Request.Context()),
		})
		c.AbortWithStatus(d.Status)
	}
}
