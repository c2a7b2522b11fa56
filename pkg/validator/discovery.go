package validator

import (
	"context"
	"fmt"
	"strings"

	"github.com/nao1215/authgate/pkg/httpclient"
)

// wellKnownPath はOpenID Connectディスカバリー文書のパス。
const wellKnownPath = "/.well-known/openid-configuration"

// ProviderMetadata はOpenID Connectディスカバリー文書のうち使用する項目。
type ProviderMetadata struct {
	// Issuer はプロバイダーの識別子。
	Issuer string `json:"issuer"`
	// AuthorizationEndpoint は認可エンドポイント。
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	// TokenEndpoint はトークンエンドポイント。
	TokenEndpoint string `json:"token_endpoint"`
	// IntrospectionEndpoint はトークンイントロスペクションエンドポイント。
	IntrospectionEndpoint string `json:"introspection_endpoint"`
	// EndSessionEndpoint はログアウトエンドポイント。
	EndSessionEndpoint string `json:"end_session_endpoint"`
}

// Discover はissuerのディスカバリー文書を取得する。
// 起動時に一度だけ呼び出し、イントロスペクションエンドポイントの解決に使う。
func Discover(ctx context.Context, client *httpclient.Client, issuer string) (*ProviderMetadata, error) {
	if issuer == "" {
		return nil, fmt.Errorf("%w: issuer is empty", ErrProvider)
	}

	var md ProviderMetadata
	if err := client.GetJSON(ctx, strings.TrimSuffix(issuer, "/")+wellKnownPath, &md); err != nil {
		return nil, fmt.Errorf("%w: ディスカバリー文書の取得に失敗: %w", ErrProvider, err)
	}
	if md.IntrospectionEndpoint == "" {
		return nil, fmt.Errorf("%w: ディスカバリー文書にintrospection_endpointがありません", ErrProvider)
	}
	return &md, nil
}
