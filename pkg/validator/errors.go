package validator

import "errors"

var (
	// ErrProvider はIDプロバイダーとの通信や応答の解釈に失敗したことを表す。
	ErrProvider = errors.New("identity provider error")
	// ErrMissingEndpoint はイントロスペクションエンドポイントが設定されていないことを表す。
	ErrMissingEndpoint = errors.New("introspection endpoint is required")
	// ErrMissingSecret はJWT検証用の秘密鍵が設定されていないことを表す。
	ErrMissingSecret = errors.New("jwt secret is required")
)
