// Package config はゲートウェイの設定を読み込む。
//
// 読み込み順序は次の通り。
//  1. 組み込みのデフォルト値
//  2. YAMLファイル（引数で指定、AUTHGATE_CONFIG、./authgate.yaml の順で探す）
//  3. 環境変数（AUTHGATE_*）による上書き
//  4. 検証
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nao1215/authgate/pkg/audit"
	"github.com/nao1215/authgate/pkg/middleware"
)

// ValidatorKind はToken Validatorの種類。
type ValidatorKind string

const (
	// ValidatorIntrospection はIDプロバイダーのイントロスペクションで検証する。
	ValidatorIntrospection ValidatorKind = "introspection"
	// ValidatorJWT はHMAC署名のJWTをローカルで検証する。
	ValidatorJWT ValidatorKind = "jwt"
)

// Config はゲートウェイ全体の設定。
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Auth      AuthConfig      `yaml:"auth"`
	Validator ValidatorConfig `yaml:"validator"`
	Audit     AuditConfig     `yaml:"audit"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig はHTTPサーバーの設定。
type ServerConfig struct {
	Port           string   `yaml:"port"`            // default: "8080"
	AdminPort      string   `yaml:"admin_port"`      // default: "9090"。/health と /metrics を提供する
	UpstreamURL    string   `yaml:"upstream_url"`    // 認証後に転送する監視APIのURL
	AllowedOrigins []string `yaml:"allowed_origins"` // CORSで許可するオリジン
}

// AuthConfig はAuthGateの設定。
type AuthConfig struct {
	ExemptPrefix  string `yaml:"exempt_prefix"`  // default: "/api/auth"
	SessionCookie string `yaml:"session_cookie"` // default: "OBSERVABILITY_SESSION"
}

// ValidatorConfig はToken Validatorの設定。
type ValidatorConfig struct {
	Kind          ValidatorKind       `yaml:"kind"` // default: "introspection"
	Introspection IntrospectionConfig `yaml:"introspection"`
	JWT           JWTConfig           `yaml:"jwt"`
}

// IntrospectionConfig はイントロスペクションの設定。
type IntrospectionConfig struct {
	Issuer           string        `yaml:"issuer"`   // endpoint未指定時はディスカバリーで解決する
	Endpoint         string        `yaml:"endpoint"` // RFC 7662 エンドポイント
	ClientID         string        `yaml:"client_id"`
	ClientSecret     string        `yaml:"client_secret"`
	Timeout          time.Duration `yaml:"timeout"`           // default: 10s
	BreakerThreshold int           `yaml:"breaker_threshold"` // default: 5
	BreakerTimeout   time.Duration `yaml:"breaker_timeout"`   // default: 30s
}

// JWTConfig はローカルJWT検証の設定。
type JWTConfig struct {
	Secret string `yaml:"secret"`
	Issuer string `yaml:"issuer"`
}

// AuditConfig は拒否記録の設定。
type AuditConfig struct {
	Path       string `yaml:"path"`        // 空の場合は記録しない
	MaxRecords int    `yaml:"max_records"` // default: 10000。超えた分は古い順に削除する
}

// LogConfig はログ出力の設定。
type LogConfig struct {
	Level  string `yaml:"level"`  // default: "info"
	Format string `yaml:"format"` // default: "json"
}

// Defaults はデフォルト値を設定したConfigを返す。
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:           "8080",
			AdminPort:      "9090",
			UpstreamURL:    "http://localhost:9123",
			AllowedOrigins: []string{"http://localhost:3000"},
		},
		Auth: AuthConfig{
			ExemptPrefix:  middleware.DefaultExemptPrefix,
			SessionCookie: middleware.DefaultSessionCookie,
		},
		Validator: ValidatorConfig{
			Kind: ValidatorIntrospection,
			Introspection: IntrospectionConfig{
				Timeout:          10 * time.Second,
				BreakerThreshold: 5,
				BreakerTimeout:   30 * time.Second,
			},
		},
		Audit: AuditConfig{
			MaxRecords: audit.DefaultMaxRecords,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load は設定を読み込んで検証する。
// pathが空の場合はAUTHGATE_CONFIG、./authgate.yaml の順に探し、見つからなければファイルを使わない。
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if file := discoverFile(path); file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("設定ファイル %s の読み込みに失敗: %w", file, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("設定ファイル %s の解析に失敗: %w", file, err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定が不正です: %w", err)
	}
	return &cfg, nil
}

// discoverFile は読み込む設定ファイルのパスを返す。
func discoverFile(path string) string {
	if path != "" {
		return path
	}
	if env := os.Getenv("AUTHGATE_CONFIG"); env != "" {
		return env
	}
	if _, err := os.Stat("authgate.yaml"); err == nil {
		return "authgate.yaml"
	}
	return ""
}

// applyEnv は環境変数で設定を上書きする。
func applyEnv(cfg *Config) error {
	setString(&cfg.Server.Port, "PORT")
	setString(&cfg.Server.Port, "AUTHGATE_PORT")
	setString(&cfg.Server.AdminPort, "AUTHGATE_ADMIN_PORT")
	setString(&cfg.Server.UpstreamURL, "AUTHGATE_UPSTREAM_URL")
	if v := os.Getenv("AUTHGATE_ALLOWED_ORIGINS"); v != "" {
		cfg.Server.AllowedOrigins = splitList(v)
	}

	setString(&cfg.Auth.ExemptPrefix, "AUTHGATE_EXEMPT_PREFIX")
	setString(&cfg.Auth.SessionCookie, "AUTHGATE_SESSION_COOKIE")

	if v := os.Getenv("AUTHGATE_VALIDATOR"); v != "" {
		cfg.Validator.Kind = ValidatorKind(strings.ToLower(v))
	}
	in := &cfg.Validator.Introspection
	setString(&in.Issuer, "AUTHGATE_IDP_ISSUER")
	setString(&in.Endpoint, "AUTHGATE_INTROSPECTION_ENDPOINT")
	setString(&in.ClientID, "AUTHGATE_CLIENT_ID")
	setString(&in.ClientSecret, "AUTHGATE_CLIENT_SECRET")
	if err := setDuration(&in.Timeout, "AUTHGATE_INTROSPECTION_TIMEOUT"); err != nil {
		return err
	}
	if err := setDuration(&in.BreakerTimeout, "AUTHGATE_BREAKER_TIMEOUT"); err != nil {
		return err
	}
	if v := os.Getenv("AUTHGATE_BREAKER_THRESHOLD"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("AUTHGATE_BREAKER_THRESHOLD が不正です: %w", err)
		}
		in.BreakerThreshold = n
	}

	setString(&cfg.Validator.JWT.Secret, "AUTHGATE_JWT_SECRET")
	setString(&cfg.Validator.JWT.Issuer, "AUTHGATE_JWT_ISSUER")

	setString(&cfg.Audit.Path, "AUTHGATE_AUDIT_DB")
	if v := os.Getenv("AUTHGATE_AUDIT_MAX_RECORDS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("AUTHGATE_AUDIT_MAX_RECORDS が不正です: %w", err)
		}
		cfg.Audit.MaxRecords = n
	}
	setString(&cfg.Log.Level, "AUTHGATE_LOG_LEVEL")
	setString(&cfg.Log.Format, "AUTHGATE_LOG_FORMAT")
	return nil
}

// Validate は設定値の整合性を検証する。
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port == "" {
		errs = append(errs, errors.New("server.port is required"))
	}
	if c.Server.AdminPort == "" {
		errs = append(errs, errors.New("server.admin_port is required"))
	}
	if c.Server.Port != "" && c.Server.Port == c.Server.AdminPort {
		errs = append(errs, errors.New("server.port and server.admin_port must differ"))
	}
	if u, err := url.Parse(c.Server.UpstreamURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("server.upstream_url is invalid: %q", c.Server.UpstreamURL))
	}
	if c.Auth.SessionCookie == "" {
		errs = append(errs, errors.New("auth.session_cookie is required"))
	}
	if c.Auth.ExemptPrefix != "" && !strings.HasPrefix(c.Auth.ExemptPrefix, "/") {
		errs = append(errs, fmt.Errorf("auth.exempt_prefix must start with '/': %q", c.Auth.ExemptPrefix))
	}

	if c.Audit.Path != "" && c.Audit.MaxRecords <= 0 {
		errs = append(errs, errors.New("audit.max_records must be positive"))
	}

	switch c.Validator.Kind {
	case ValidatorIntrospection:
		in := c.Validator.Introspection
		if in.Endpoint == "" && in.Issuer == "" {
			errs = append(errs, errors.New("validator.introspection.endpoint or issuer is required"))
		}
		if in.Timeout <= 0 {
			errs = append(errs, errors.New("validator.introspection.timeout must be positive"))
		}
	case ValidatorJWT:
		if c.Validator.JWT.Secret == "" {
			errs = append(errs, errors.New("validator.jwt.secret is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("validator.kind is unknown: %q", c.Validator.Kind))
	}

	return errors.Join(errs...)
}

// setString は環境変数が設定されていればdstを上書きする。
func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// setDuration は環境変数が設定されていればdstを上書きする。
func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s が不正です: %w", key, err)
	}
	*dst = d
	return nil
}

// splitList はカンマ区切りの文字列を分割し、空要素を除く。
func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
