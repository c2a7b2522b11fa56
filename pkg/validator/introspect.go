package validator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/nao1215/authgate/pkg/httpclient"
)

// IntrospectionConfig はIntrospectorの設定。
type IntrospectionConfig struct {
	// Endpoint はイントロスペクションエンドポイントのURL。
	Endpoint string
	// ClientID はエンドポイントのクライアント認証に使うID。
	ClientID string
	// ClientSecret はエンドポイントのクライアント認証に使うシークレット。
	ClientSecret string
	// Timeout は1回の問い合わせのタイムアウト。0以下の場合はhttpclient.DefaultTimeout。
	Timeout time.Duration
	// BreakerThreshold はサーキットブレーカーが開くまでの連続失敗回数。0以下の場合は5。
	BreakerThreshold int
	// BreakerTimeout はサーキットブレーカーが開いている時間。0以下の場合は30秒。
	BreakerTimeout time.Duration
	// HTTPClient は差し替え用のHTTPクライアント（任意）。
	HTTPClient *http.Client
	// Logger はブレーカーの状態変化を記録するロガー（任意）。
	Logger *zap.Logger
}

// introspectionResponse はRFC 7662のイントロスペクション応答のうち使用する項目。
type introspectionResponse struct {
	// Active はトークンが有効かどうか。
	Active bool `json:"active"`
	// Exp はトークンの有効期限（UNIX秒）。
	Exp int64 `json:"exp,omitempty"`
}

// Introspector はIDプロバイダーのイントロスペクションエンドポイントで資格情報を検証する。
// プロバイダー障害時に問い合わせが滞留しないよう、サーキットブレーカーを挟む。
// ブレーカーが開いている間はErrProviderを返すため、リクエストは拒否される。
type Introspector struct {
	client   *httpclient.Client
	endpoint string
	breaker  *gobreaker.CircuitBreaker
	now      func() time.Time
}

// NewIntrospector は新しいIntrospectorを生成する。
func NewIntrospector(cfg IntrospectionConfig) (*Introspector, error) {
	if cfg.Endpoint == "" {
		return nil, ErrMissingEndpoint
	}

	threshold := cfg.BreakerThreshold
	if threshold <= 0 {
		threshold = 5
	}
	breakerTimeout := cfg.BreakerTimeout
	if breakerTimeout <= 0 {
		breakerTimeout = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := []httpclient.Option{httpclient.WithHTTPClient(cfg.HTTPClient), httpclient.WithTimeout(cfg.Timeout)}
	if cfg.ClientID != "" {
		opts = append(opts, httpclient.WithBasicAuth(cfg.ClientID, cfg.ClientSecret))
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "token-introspection",
		Timeout: breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(threshold) //nolint:gosec // threshold is positive
		},
		IsSuccessful: func(err error) bool {
			// 呼び出し元の切断はプロバイダーの障害ではない
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return &Introspector{
		client:   httpclient.New(cfg.Endpoint, opts...),
		endpoint: cfg.Endpoint,
		breaker:  breaker,
		now:      time.Now,
	}, nil
}

// ValidateToken は資格情報をイントロスペクションエンドポイントに問い合わせる。
// 応答のactiveがfalse、または有効期限切れの場合はfalseを返す。
func (i *Introspector) ValidateToken(ctx context.Context, credential string) (bool, error) {
	form := url.Values{
		"token":           {credential},
		"token_type_hint": {"access_token"},
	}

	res, err := i.breaker.Execute(func() (interface{}, error) {
		var r introspectionResponse
		if err := i.client.PostForm(ctx, i.endpoint, form, &r); err != nil {
			return nil, err
		}
		return r, nil
	})
	if err != nil {
		return false, fmt.Errorf("%w: トークンのイントロスペクションに失敗: %w", ErrProvider, err)
	}

	r, ok := res.(introspectionResponse)
	if !ok {
		return false, fmt.Errorf("%w: 予期しない応答型 %T", ErrProvider, res)
	}
	if !r.Active {
		return false, nil
	}
	if r.Exp != 0 && !i.now().Before(time.Unix(r.Exp, 0)) {
		return false, nil
	}
	return true, nil
}

// State はサーキットブレーカーの現在の状態を返す。
func (i *Introspector) State() gobreaker.State {
	return i.breaker.State()
}
