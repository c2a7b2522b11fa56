package validator

import (
	"context"

	"github.com/golang-jwt/jwt/v5"
)

// JWTValidator はHMAC（HS256）で署名されたJWTをオフラインで検証する。
//
// 資格情報はAuthorizationヘッダー側の前半とセッションCookie側の後半を
// 連結したものであり、連結して初めて署名付きのJWTになる。
// 署名、有効期限、発行者（設定時）を検証する。
type JWTValidator struct {
	// secret はJWT署名検証用の秘密鍵。
	secret []byte
	// parser は検証条件を設定したパーサー。
	parser *jwt.Parser
}

// NewJWTValidator は新しいJWTValidatorを生成する。
// issuerが空でない場合は発行者も検証する。
func NewJWTValidator(secret, issuer string) (*JWTValidator, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}

	return &JWTValidator{
		secret: []byte(secret),
		parser: jwt.NewParser(opts...),
	}, nil
}

// ValidateToken はJWTの署名と有効期限を検証する。
// 検証はローカルで完結するため、errorを返すことはない。
func (v *JWTValidator) ValidateToken(_ context.Context, credential string) (bool, error) {
	token, err := v.parser.ParseWithClaims(credential, &jwt.RegisteredClaims{}, func(_ *jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		return false, nil
	}
	return token.Valid, nil
}
