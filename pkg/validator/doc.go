// Package validator はAuthGateが組み立てた資格情報を検証するToken Validatorの実装を提供する。
//
// Introspector はIDプロバイダーのトークンイントロスペクションエンドポイント（RFC 7662）に
// 問い合わせる。JWTValidator はHMAC署名のJWTをオフラインで検証する。
// どちらも結果をキャッシュせず、呼び出しごとに検証を行う。
//
// プロバイダーとの通信失敗はErrProviderをラップしたエラーとして返す。
// AuthGateはこれを無効な資格情報と同じく401として扱う。
package validator
