// 認証ゲートウェイのエントリポイント。
// 監視APIへのリクエストをOIDCトークンで検証し、認証済みのものだけを転送する。
// 外部からアクセス可能な唯一のサービスであり、セキュリティの境界線となる。
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/nao1215/authgate/internal/config"
	"github.com/nao1215/authgate/internal/gateway"
	"github.com/nao1215/authgate/pkg/audit"
	"github.com/nao1215/authgate/pkg/httpclient"
	"github.com/nao1215/authgate/pkg/logging"
	"github.com/nao1215/authgate/pkg/middleware"
	"github.com/nao1215/authgate/pkg/validator"
)

func main() {
	os.Exit(execute())
}

// execute はゲートウェイを実行し、プロセスの終了コードを返す。
// 後始末のdeferを確実に実行させるため、os.Exitはmainでのみ呼ぶ。
func execute() int {
	configPath := flag.String("config", "", "設定ファイルのパス")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Printf("設定の読み込みに失敗: %v", err)
		return 1
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		log.Printf("ロガーの初期化に失敗: %v", err)
		return 1
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("認証ゲートウェイの実行に失敗", zap.Error(err))
		return 1
	}
	logger.Info("認証ゲートウェイを停止しました")
	return 0
}

// run は設定から依存コンポーネントを組み立ててサーバーを起動する。
func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	tokenValidator, bootstrap, err := buildValidator(ctx, cfg, logger)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := middleware.NewMetricsReporter(registry)
	if err != nil {
		return fmt.Errorf("メトリクスの登録に失敗: %w", err)
	}

	reporters := middleware.MultiReporter{middleware.NewLogReporter(logger), metrics}
	deps := gateway.Dependencies{
		Validator: tokenValidator,
		Bootstrap: bootstrap,
		Registry:  registry,
		Logger:    logger,
	}

	if cfg.Audit.Path != "" {
		store, err := audit.Open(ctx, cfg.Audit.Path, logger, audit.WithMaxRecords(cfg.Audit.MaxRecords))
		if err != nil {
			return fmt.Errorf("拒否記録の初期化に失敗: %w", err)
		}
		defer func() {
			if err := store.Close(); err != nil {
				logger.Warn("拒否記録のクローズに失敗", zap.Error(err))
			}
		}()

		reporters = append(reporters, store)
		deps.Denials = store
	}
	deps.Reporter = reporters

	server, err := gateway.NewServer(cfg, deps)
	if err != nil {
		return fmt.Errorf("ゲートウェイサーバーの初期化に失敗: %w", err)
	}

	logger.Info("認証ゲートウェイを起動します",
		zap.String("port", cfg.Server.Port),
		zap.String("admin_port", cfg.Server.AdminPort),
		zap.String("upstream", cfg.Server.UpstreamURL),
		zap.String("validator", string(cfg.Validator.Kind)),
	)
	return server.Run(ctx)
}

// buildValidator は設定に応じたTokenValidatorとブートストラップ情報を生成する。
// issuerが指定されている場合はディスカバリー文書からエンドポイントを解決する。
func buildValidator(ctx context.Context, cfg *config.Config, logger *zap.Logger) (middleware.TokenValidator, gateway.BootstrapInfo, error) {
	switch cfg.Validator.Kind {
	case config.ValidatorJWT:
		v, err := validator.NewJWTValidator(cfg.Validator.JWT.Secret, cfg.Validator.JWT.Issuer)
		if err != nil {
			return nil, gateway.BootstrapInfo{}, fmt.Errorf("JWT検証器の初期化に失敗: %w", err)
		}
		return v, gateway.BootstrapInfo{Issuer: cfg.Validator.JWT.Issuer}, nil

	default:
		ic := cfg.Validator.Introspection
		bootstrap := gateway.BootstrapInfo{Issuer: ic.Issuer, ClientID: ic.ClientID}
		endpoint := ic.Endpoint

		if ic.Issuer != "" {
			md, err := validator.Discover(ctx, httpclient.New(ic.Issuer, httpclient.WithTimeout(ic.Timeout)), ic.Issuer)
			switch {
			case err == nil:
				bootstrap.Issuer = md.Issuer
				bootstrap.AuthorizationEndpoint = md.AuthorizationEndpoint
				bootstrap.TokenEndpoint = md.TokenEndpoint
				bootstrap.EndSessionEndpoint = md.EndSessionEndpoint
				if endpoint == "" {
					endpoint = md.IntrospectionEndpoint
				}
			case endpoint == "":
				return nil, gateway.BootstrapInfo{}, fmt.Errorf("イントロスペクションエンドポイントの解決に失敗: %w", err)
			default:
				logger.Warn("ディスカバリー文書の取得に失敗したため、設定済みのエンドポイントを使います", zap.Error(err))
			}
		}

		v, err := validator.NewIntrospector(validator.IntrospectionConfig{
			Endpoint:         endpoint,
			ClientID:         ic.ClientID,
			ClientSecret:     ic.ClientSecret,
			Timeout:          ic.Timeout,
			BreakerThreshold: ic.BreakerThreshold,
			BreakerTimeout:   ic.BreakerTimeout,
			Logger:           logger,
		})
		if err != nil {
			return nil, gateway.BootstrapInfo{}, fmt.Errorf("イントロスペクション検証器の初期化に失敗: %w", err)
		}
		return v, bootstrap, nil
	}
}
