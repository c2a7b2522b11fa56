package middleware

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Denial はAuthGateが拒否したリクエストの診断情報。
// 資格情報そのものは含めない。
type Denial struct {
	// Method はHTTPメソッド。
	Method string
	// Path はリクエストパス。
	Path string
	// Reason は拒否理由。
	Reason Reason
	// Cause はValidatorのエラーなど、拒否の原因。nilの場合もある。
	Cause error
	// RemoteAddr はクライアントのアドレス。
	RemoteAddr string
	// RequestID はAccessLogミドルウェアが割り当てたリクエストID。
	RequestID string
}

// DenialReporter は拒否の診断情報を受け取る。
// 判定結果には影響しないため、差し替えや無効化を自由に行える。
type DenialReporter interface {
	ReportDenial(ctx context.Context, d Denial)
}

// NopReporter は何もしないDenialReporter。
type NopReporter struct{}

// ReportDenial は何もしない。
func (NopReporter) ReportDenial(context.Context, Denial) {}

// MultiReporter は複数のDenialReporterへ順に通知する。
type MultiReporter []DenialReporter

// ReportDenial はすべてのReporterに通知する。
func (m MultiReporter) ReportDenial(ctx context.Context, d Denial) {
	for _, r := range m {
		r.ReportDenial(ctx, d)
	}
}

// LogReporter は拒否をzapで記録する。
// プロバイダーエラーは原因を含めてDebugレベルで、それ以外はInfoレベルで出力する。
type LogReporter struct {
	logger *zap.Logger
}

// NewLogReporter は新しいLogReporterを生成する。
func NewLogReporter(logger *zap.Logger) *LogReporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogReporter{logger: logger}
}

// ReportDenial は拒否をログに出力する。
func (l *LogReporter) ReportDenial(_ context.Context, d Denial) {
	fields := []zap.Field{
		zap.String("method", d.Method),
		zap.String("path", d.Path),
		zap.String("reason", string(d.Reason)),
		zap.String("remote_addr", d.RemoteAddr),
		zap.String("request_id", d.RequestID),
	}

	if d.Reason == ReasonProviderError {
		l.logger.Debug("アクセストークンの検証中にエラーが発生しました", append(fields, zap.Error(d.Cause))...)
		return
	}
	l.logger.Info("認証に失敗したリクエストを拒否しました", fields...)
}

// MetricsReporter は拒否件数を理由別にPrometheusのカウンターへ記録する。
type MetricsReporter struct {
	denials *prometheus.CounterVec
}

// NewMetricsReporter は新しいMetricsReporterを生成し、regに登録する。
func NewMetricsReporter(reg prometheus.Registerer) (*MetricsReporter, error) {
	denials := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "authgate",
			Name:      "denied_requests_total",
			Help:      "Total number of requests denied by the auth gate",
		},
		[]string{"reason"},
	)
	if err := reg.Register(denials); err != nil {
		return nil, err
	}
	return &MetricsReporter{denials: denials}, nil
}

// ReportDenial は拒否理由のカウンターを1増やす。
func (m *MetricsReporter) ReportDenial(_ context.Context, d Denial) {
	m.denials.WithLabelValues(string(d.Reason)).Inc()
}
