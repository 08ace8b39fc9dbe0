package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/wonny/kairos/pkg/config"
)

// DB wraps the embedded sqlite handle and provides schema management
// ⭐ SSOT: DB 연결은 이 패키지에서만 생성
type DB struct {
	sqlDB *sql.DB
	path  string
}

// New opens the single embedded database file at cfg.DBPath.
// ⭐ SSOT: 유일하게 sql.Open()을 호출하는 함수
func New(cfg *config.Config) (*DB, error) {
	return Open(cfg.DBPath)
}

// Open opens a database at an explicit path. ":memory:" is valid for tests.
func Open(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// 단일 파일 스토어: 커넥션 하나로 직렬화 (WAL이라 읽기는 병행 가능)
	sqlDB.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{sqlDB: sqlDB, path: path}, nil
}

// Close closes the database handle
func (db *DB) Close() error {
	if db.sqlDB != nil {
		return db.sqlDB.Close()
	}
	return nil
}

// SQL returns the underlying *sql.DB for repositories
func (db *DB) SQL() *sql.DB {
	return db.sqlDB
}

// Ping checks if the database is accessible
func (db *DB) Ping(ctx context.Context) error {
	return db.sqlDB.PingContext(ctx)
}

// WithTx runs fn inside a transaction; commit on nil error, rollback otherwise.
// Bulk writers use this for the one-commit-per-call rule.
func (db *DB) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// HealthStatus represents the health status of the database
type HealthStatus struct {
	Healthy      bool          `json:"healthy"`
	Path         string        `json:"path"`
	Timestamp    time.Time     `json:"timestamp"`
	ResponseTime time.Duration `json:"response_time"`
	Error        string        `json:"error,omitempty"`
}

// HealthCheck returns health information about the database
func (db *DB) HealthCheck(ctx context.Context) (*HealthStatus, error) {
	status := &HealthStatus{
		Path:      db.path,
		Timestamp: time.Now(),
	}

	start := time.Now()
	if err := db.sqlDB.PingContext(ctx); err != nil {
		status.Error = err.Error()
		return status, err
	}

	status.ResponseTime = time.Since(start)
	status.Healthy = true
	return status, nil
}
