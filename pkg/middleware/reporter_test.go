package middleware

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// TestLogReporter はLogReporterを検証する。
func TestLogReporter(t *testing.T) {
	t.Parallel()

	t.Run("資格情報の欠落はInfoレベルで記録されること", func(t *testing.T) {
		t.Parallel()

		core, logs := observer.New(zapcore.DebugLevel)
		r := NewLogReporter(zap.New(core))

		r.ReportDenial(context.Background(), Denial{
			Method:    "GET",
			Path:      "/api/resource",
			Reason:    ReasonMissingCredential,
			RequestID: "req-1",
		})

		entries := logs.All()
		if len(entries) != 1 {
			t.Fatalf("ログ件数 = %d, want 1", len(entries))
		}
		if entries[0].Level != zapcore.InfoLevel {
			t.Errorf("Level = %v, want %v", entries[0].Level, zapcore.InfoLevel)
		}
		fields := entries[0].ContextMap()
		if fields["reason"] != string(ReasonMissingCredential) {
			t.Errorf("reason = %v, want %q", fields["reason"], ReasonMissingCredential)
		}
		if fields["request_id"] != "req-1" {
			t.Errorf("request_id = %v, want %q", fields["request_id"], "req-1")
		}
	})

	t.Run("プロバイダーエラーは原因付きでDebugレベルで記録されること", func(t *testing.T) {
		t.Parallel()

		core, logs := observer.New(zapcore.DebugLevel)
		r := NewLogReporter(zap.New(core))

		r.ReportDenial(context.Background(), Denial{
			Method: "GET",
			Path:   "/api/resource",
			Reason: ReasonProviderError,
			Cause:  errors.New("dial tcp: connection refused"),
		})

		entries := logs.All()
		if len(entries) != 1 {
			t.Fatalf("ログ件数 = %d, want 1", len(entries))
		}
		if entries[0].Level != zapcore.DebugLevel {
			t.Errorf("Level = %v, want %v", entries[0].Level, zapcore.DebugLevel)
		}
		if got := entries[0].ContextMap()["error"]; got != "dial tcp: connection refused" {
			t.Errorf("error = %v, want %q", got, "dial tcp: connection refused")
		}
	})

	t.Run("loggerがnilでもパニックしないこと", func(t *testing.T) {
		t.Parallel()

		r := NewLogReporter(nil)
		r.ReportDenial(context.Background(), Denial{Reason: ReasonInvalidCredential})
	})
}

// TestMetricsReporter はMetricsReporterを検証する。
func TestMetricsReporter(t *testing.T) {
	t.Parallel()

	t.Run("理由ごとにカウントされること", func(t *testing.T) {
		t.Parallel()

		reg := prometheus.NewRegistry()
		r, err := NewMetricsReporter(reg)
		if err != nil {
			t.Fatalf("NewMetricsReporter()でエラーが発生: %v", err)
		}

		r.ReportDenial(context.Background(), Denial{Reason: ReasonMissingCredential})
		r.ReportDenial(context.Background(), Denial{Reason: ReasonMissingCredential})
		r.ReportDenial(context.Background(), Denial{Reason: ReasonProviderError})

		if got := testutil.ToFloat64(r.denials.WithLabelValues(string(ReasonMissingCredential))); got != 2 {
			t.Errorf("missing-credential = %v, want 2", got)
		}
		if got := testutil.ToFloat64(r.denials.WithLabelValues(string(ReasonProviderError))); got != 1 {
			t.Errorf("provider-error = %v, want 1", got)
		}
	})

	t.Run("同じレジストリに2回登録するとエラーになること", func(t *testing.T) {
		t.Parallel()

		reg := prometheus.NewRegistry()
		if _, err := NewMetricsReporter(reg); err != nil {
			t.Fatalf("NewMetricsReporter()でエラーが発生: %v", err)
		}
		if _, err := NewMetricsReporter(reg); err == nil {
			t.Error("二重登録でエラーが返るべき")
		}
	})
}

// TestMultiReporter はMultiReporterを検証する。
func TestMultiReporter(t *testing.T) {
	t.Parallel()

	first := &recordingReporter{}
	second := &recordingReporter{}
	m := MultiReporter{first, NopReporter{}, second}

	m.ReportDenial(context.Background(), Denial{Reason: ReasonInvalidCredential})

	if got := len(first.reported()); got != 1 {
		t.Errorf("1番目の通知件数 = %d, want 1", got)
	}
	if got := len(second.reported()); got != 1 {
		t.Errorf("2番目の通知件数 = %d, want 1", got)
	}
}
