package audit

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/nao1215/authgate/pkg/middleware"
	"github.com/nao1215/authgate/pkg/migration"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DefaultLimit はRecentでlimitを省略した場合の取得件数。
const DefaultLimit = 50

// MaxLimit はRecentで一度に取得できる最大件数。
const MaxLimit = 500

// Record は記録された拒否1件分。
type Record struct {
	// ID は記録の一意識別子（UUID）。
	ID string `json:"id"`
	// Method はHTTPメソッド。
	Method string `json:"method"`
	// Path はリクエストパス。
	Path string `json:"path"`
	// Reason は拒否理由。
	Reason string `json:"reason"`
	// Detail はプロバイダーエラーなどの原因。無い場合は空。
	Detail string `json:"detail,omitempty"`
	// RemoteAddr はクライアントのアドレス。
	RemoteAddr string `json:"remote_addr"`
	// RequestID はリクエストID。
	RequestID string `json:"request_id"`
	// CreatedAt は記録した日時。
	CreatedAt time.Time `json:"created_at"`
}

var _ middleware.DenialReporter = (*Store)(nil)

const (
	// DefaultMaxRecords は保持する拒否記録の既定の上限件数。
	DefaultMaxRecords = 10000
	// DefaultQueueSize は書き込み待ちキューの既定の長さ。
	DefaultQueueSize = 1024
)

// pending は書き込み待ちの拒否記録。
// flushedが設定されている場合はFlush用の目印で、記録は持たない。
type pending struct {
	denial    middleware.Denial
	createdAt time.Time
	flushed   chan struct{}
}

// Store は拒否記録のSQLiteストア。
//
// ReportDenialはキューに積むだけで、書き込みは専用のゴルーチンが行う。
// キューが満杯の場合は記録を破棄し、リクエスト処理を待たせない。
// 件数がmaxRecordsを超えた分は古い順に削除する。
type Store struct {
	// db はSQLiteデータベース接続。
	db *sql.DB
	// logger は書き込み失敗を記録するロガー。
	logger *zap.Logger
	// now は現在時刻を返す関数。
	now func() time.Time
	// maxRecords は保持する最大件数。
	maxRecords int
	// queue は書き込み待ちのキュー。
	queue chan pending
	// done は書き込みゴルーチンの終了を通知する。
	done chan struct{}
	// dropped はキューが満杯で破棄した件数。
	dropped atomic.Uint64

	// mu はqueueのクローズとclosedを保護する。
	mu     sync.RWMutex
	closed bool
}

// Option はStoreの設定を変更する関数。
type Option func(*Store)

// WithMaxRecords は保持する最大件数を設定する。0以下の場合は無視する。
func WithMaxRecords(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxRecords = n
		}
	}
}

// WithQueueSize は書き込み待ちキューの長さを設定する。0以下の場合は無視する。
func WithQueueSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.queue = make(chan pending, n)
		}
	}
}

// Open はpathのSQLiteデータベースを開き、スキーマを適用して書き込みを開始する。
// pathに ":memory:" を指定するとインメモリDBを使用する。
func Open(ctx context.Context, path string, logger *zap.Logger, opts ...Option) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	dsn := path
	if path != ":memory:" {
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}
	// SQLiteは書き込みが直列化されるため接続は1本で十分
	db.SetMaxOpenConns(1)

	if _, err := migration.Run(ctx, db, migrationsFS, "migrations", logger); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("スキーマ初期化に失敗: %w", err)
	}

	s := &Store{
		db:         db,
		logger:     logger,
		now:        time.Now,
		maxRecords: DefaultMaxRecords,
		queue:      make(chan pending, DefaultQueueSize),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.writeLoop()

	return s, nil
}

// Close はキューに残った記録を書き込んでからデータベース接続を閉じる。
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	<-s.done
	return s.db.Close()
}

// ReportDenial は拒否を書き込みキューに積む。
// キューが満杯、またはStoreが閉じている場合は記録を破棄する。
func (s *Store) ReportDenial(_ context.Context, d middleware.Denial) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		s.logger.Debug("閉じたストアへの拒否記録を破棄しました", zap.String("request_id", d.RequestID))
		return
	}

	select {
	case s.queue <- pending{denial: d, createdAt: s.now()}:
	default:
		n := s.dropped.Add(1)
		if n == 1 || n%1000 == 0 {
			s.logger.Warn("書き込みキューが満杯のため拒否記録を破棄しました",
				zap.Uint64("dropped_total", n),
				zap.String("request_id", d.RequestID),
			)
		}
	}
}

// Flush はこれまでにキューに積まれた記録の書き込みが終わるまで待つ。
func (s *Store) Flush(ctx context.Context) error {
	marker := make(chan struct{})

	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil
	}
	select {
	case s.queue <- pending{flushed: marker}:
		s.mu.RUnlock()
	case <-ctx.Done():
		s.mu.RUnlock()
		return ctx.Err()
	}

	select {
	case <-marker:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dropped はキューが満杯で破棄した件数を返す。
func (s *Store) Dropped() uint64 {
	return s.dropped.Load()
}

// writeLoop はキューから取り出した記録を順に書き込む。
func (s *Store) writeLoop() {
	defer close(s.done)

	for p := range s.queue {
		if p.flushed != nil {
			close(p.flushed)
			continue
		}
		if err := s.insert(context.Background(), p); err != nil {
			s.logger.Warn("拒否記録の書き込みに失敗しました",
				zap.String("request_id", p.denial.RequestID),
				zap.Error(err),
			)
		}
	}
}

// insert は記録を1件書き込み、上限を超えた古い記録を削除する。
func (s *Store) insert(ctx context.Context, p pending) error {
	d := p.denial
	var detail string
	if d.Cause != nil {
		detail = d.Cause.Error()
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO denials (id, method, path, reason, detail, remote_addr, request_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(),
		d.Method,
		d.Path,
		string(d.Reason),
		detail,
		d.RemoteAddr,
		d.RequestID,
		p.createdAt.UTC().Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("拒否記録の挿入に失敗: %w", err)
	}

	// rowidは挿入順に増えるため、新しい方からmaxRecords件より後ろを削除する
	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM denials
		WHERE rowid <= (SELECT rowid FROM denials ORDER BY rowid DESC LIMIT 1 OFFSET ?)`,
		s.maxRecords,
	); err != nil {
		return fmt.Errorf("古い拒否記録の削除に失敗: %w", err)
	}
	return nil
}

// Recent は新しい順に最大limit件の拒否記録を返す。
// limitが0以下の場合はDefaultLimit、MaxLimitを超える場合はMaxLimitを使う。
func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	switch {
	case limit <= 0:
		limit = DefaultLimit
	case limit > MaxLimit:
		limit = MaxLimit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, method, path, reason, detail, remote_addr, request_id, created_at
		FROM denials
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("拒否記録の取得に失敗: %w", err)
	}
	defer func() { _ = rows.Close() }()

	records := make([]Record, 0, limit)
	for rows.Next() {
		var (
			r         Record
			createdAt string
		)
		if err := rows.Scan(&r.ID, &r.Method, &r.Path, &r.Reason, &r.Detail, &r.RemoteAddr, &r.RequestID, &createdAt); err != nil {
			return nil, fmt.Errorf("拒否記録の読み取りに失敗: %w", err)
		}
		if r.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("日時の解析に失敗: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
