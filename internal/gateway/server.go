package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nao1215/authgate/internal/config"
	"github.com/nao1215/authgate/pkg/audit"
	"github.com/nao1215/authgate/pkg/middleware"
)

// shutdownTimeout はシャットダウン時に処理中のリクエストを待つ最大時間。
const shutdownTimeout = 10 * time.Second

// forwardedHeaders は上流へ転送するリクエストヘッダー。
var forwardedHeaders = []string{
	"Accept",
	"Authorization",
	"Content-Type",
	"Cookie",
	"X-Request-ID",
}

// DenialLister は記録済みの拒否を新しい順に返す。
type DenialLister interface {
	Recent(ctx context.Context, limit int) ([]audit.Record, error)
}

// BootstrapInfo はクライアントがセッションを確立するために必要な公開情報。
type BootstrapInfo struct {
	// Issuer はIDプロバイダーの識別子。
	Issuer string `json:"issuer"`
	// AuthorizationEndpoint は認可エンドポイント。
	AuthorizationEndpoint string `json:"authorization_endpoint,omitempty"`
	// TokenEndpoint はトークンエンドポイント。
	TokenEndpoint string `json:"token_endpoint,omitempty"`
	// EndSessionEndpoint はログアウトエンドポイント。
	EndSessionEndpoint string `json:"end_session_endpoint,omitempty"`
	// ClientID はクライアントID。
	ClientID string `json:"client_id,omitempty"`
}

// Dependencies はServerが利用する外部コンポーネント。
type Dependencies struct {
	// Validator は資格情報を検証する。必須。
	Validator middleware.TokenValidator
	// Reporter は拒否の診断情報の送信先。nilの場合は送信しない。
	Reporter middleware.DenialReporter
	// Denials は拒否記録の参照先。nilの場合は管理用の診断エンドポイントが503を返す。
	Denials DenialLister
	// Bootstrap はブートストラップ用の公開情報。
	Bootstrap BootstrapInfo
	// Registry はメトリクスの公開元。nilの場合は空のレジストリを使う。
	Registry *prometheus.Registry
	// Logger はロガー。nilの場合は出力しない。
	Logger *zap.Logger
}

// Server は認証ゲートウェイのHTTPサーバー。
type Server struct {
	// router はゲートを通す公開用のGinルーター。
	router *gin.Engine
	// admin はヘルスチェックとメトリクス用のGinルーター。
	admin *gin.Engine
	// port は公開用のリッスンポート。
	port string
	// adminPort は管理用のリッスンポート。
	adminPort string
	// upstream は転送先の監視APIのベースURL。
	upstream *url.URL
	// httpClient は上流への転送に使うHTTPクライアント。
	httpClient *http.Client
	// sessionCookie はセッションCookie名。
	sessionCookie string
	// bootstrap はブートストラップ用の公開情報。
	bootstrap BootstrapInfo
	// denials は拒否記録の参照先。
	denials DenialLister
	// logger はロガー。
	logger *zap.Logger
}

// NewServer は新しいゲートウェイサーバーを生成する。
func NewServer(cfg *config.Config, deps Dependencies) (*Server, error) {
	upstream, err := url.Parse(cfg.Server.UpstreamURL)
	if err != nil {
		return nil, fmt.Errorf("転送先URLの解析に失敗: %w", err)
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	registry := deps.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	gate, err := middleware.NewAuthGate(deps.Validator,
		middleware.WithExemptPrefix(cfg.Auth.ExemptPrefix),
		middleware.WithSessionCookie(cfg.Auth.SessionCookie),
		middleware.WithReporter(deps.Reporter),
	)
	if err != nil {
		return nil, fmt.Errorf("認証ゲートの生成に失敗: %w", err)
	}

	router := gin.New()
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.AccessLog(logger))
	router.Use(middleware.CleanPath())
	router.Use(middleware.CORS(cfg.Server.AllowedOrigins))
	router.Use(gate.Handler())

	admin := gin.New()
	admin.Use(middleware.Recovery(logger))

	s := &Server{
		router:        router,
		admin:         admin,
		port:          cfg.Server.Port,
		adminPort:     cfg.Server.AdminPort,
		upstream:      upstream,
		httpClient:    &http.Client{Timeout: 60 * time.Second},
		sessionCookie: cfg.Auth.SessionCookie,
		bootstrap:     deps.Bootstrap,
		denials:       deps.Denials,
		logger:        logger,
	}
	s.setupRoutes(cfg.Auth.ExemptPrefix)
	s.setupAdminRoutes(registry)

	return s, nil
}

// Run は公開用と管理用のHTTPサーバーを起動し、ctxが終了するまでブロックする。
// どちらかの起動に失敗した場合はもう一方も停止してエラーを返す。
func (s *Server) Run(ctx context.Context) error {
	api := &http.Server{
		Addr:              ":" + s.port,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	admin := &http.Server{
		Addr:              ":" + s.adminPort,
		Handler:           s.admin,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range []*http.Server{api, admin} {
		g.Go(func() error {
			s.logger.Info("HTTPサーバーを起動します", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("%s の起動に失敗: %w", srv.Addr, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return errors.Join(api.Shutdown(shutdownCtx), admin.Shutdown(shutdownCtx))
	})

	return g.Wait()
}

// setupRoutes は公開用のルーティングを設定する。
// ここに無いパスはすべて上流の監視APIへ転送する。
func (s *Server) setupRoutes(exemptPrefix string) {
	// 認証ブートストラップ（認証不要）
	if exemptPrefix != "" {
		s.router.GET(strings.TrimSuffix(exemptPrefix, "/")+"/config", s.handleBootstrapConfig())
	}

	s.router.NoRoute(s.handleProxy())
}

// setupAdminRoutes は管理用のルーティングを設定する。
// 拒否記録にはプロバイダーエラーの詳細とクライアントのアドレスが含まれるため、管理用リスナーでのみ公開する。
func (s *Server) setupAdminRoutes(registry *prometheus.Registry) {
	s.admin.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "authgate"})
	})
	s.admin.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	s.admin.GET("/diagnostics/denials", s.handleListDenials())
}

// handleBootstrapConfig はセッション確立に必要な公開情報を返すハンドラを返す。
// トークンの発行は行わない。
func (s *Server) handleBootstrapConfig() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.bootstrap.Issuer == "" {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "IDプロバイダーが設定されていません"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"issuer":                 s.bootstrap.Issuer,
			"authorization_endpoint": s.bootstrap.AuthorizationEndpoint,
			"token_endpoint":         s.bootstrap.TokenEndpoint,
			"end_session_endpoint":   s.bootstrap.EndSessionEndpoint,
			"client_id":              s.bootstrap.ClientID,
			"session_cookie":         s.sessionCookie,
		})
	}
}

// handleListDenials は記録済みの拒否を新しい順に返すハンドラを返す。
// クエリパラメータlimitで件数を指定できる。
func (s *Server) handleListDenials() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.denials == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "拒否記録が有効になっていません"})
			return
		}

		limit := 0
		if v := c.Query("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limitは0以上の整数で指定してください"})
				return
			}
			limit = n
		}

		records, err := s.denials.Recent(c.Request.Context(), limit)
		if err != nil {
			s.logger.Error("拒否記録の取得に失敗", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "拒否記録の取得に失敗しました"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"denials": records})
	}
}

// handleProxy はリクエストを上流の監視APIへ転送するハンドラを返す。
func (s *Server) handleProxy() gin.HandlerFunc {
	return func(c *gin.Context) {
		target := *s.upstream
		target.Path = strings.TrimSuffix(s.upstream.Path, "/") + c.Request.URL.Path
		target.RawQuery = c.Request.URL.RawQuery
		s.doProxy(c, target.String())
	}
}

// doProxy はリクエストを上流にプロキシする共通処理。
// 資格情報のヘッダーとCookieはそのまま転送し、上流でも利用できるようにする。
func (s *Server) doProxy(c *gin.Context, target string) {
	req, err := http.NewRequestWithContext(c.Request.Context(), c.Request.Method, target, c.Request.Body)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "プロキシリクエストの作成に失敗しました"})
		return
	}
	req.ContentLength = c.Request.ContentLength
	for _, h := range forwardedHeaders {
		for _, v := range c.Request.Header.Values(h) {
			req.Header.Add(h, v)
		}
	}
	req.Header.Set("X-Forwarded-For", c.ClientIP())

	resp, err := s.httpClient.Do(req)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "上流サービスとの通信に失敗しました"})
		s.logger.Warn("プロキシエラー",
			zap.String("url", target),
			zap.String("request_id", middleware.RequestIDFromContext(c.Request.Context())),
			zap.Error(err),
		)
		return
	}
	defer resp.Body.Close()

	for _, h := range []string{"Content-Type", "Cache-Control", "Location", "Set-Cookie"} {
		for _, v := range resp.Header.Values(h) {
			c.Writer.Header().Add(h, v)
		}
	}
	c.Status(resp.StatusCode)
	if _, err := io.Copy(c.Writer, resp.Body); err != nil {
		s.logger.Warn("レスポンスの転送に失敗", zap.String("url", target), zap.Error(err))
	}
}
