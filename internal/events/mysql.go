package events

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"

	"ExtractBridge/pkg/plugin"
)

// MySQLConfig 描述注册表事件审计库。
type MySQLConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

const insertEventSQL = `INSERT INTO registry_events
        (event_id, kind, capability, plugin, version, error, host, occurred_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

// MySQLSink 把注册表事件逐条写入 registry_events 表，作为插件装卸的审计记录。
type MySQLSink struct {
	db   *sql.DB
	host string
}

// NewMySQLSink 连接数据库并执行尚未应用的迁移。
func NewMySQLSink(ctx context.Context, cfg MySQLConfig) (*MySQLSink, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	sink, err := newMySQLSink(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return sink, nil
}

func newMySQLSink(ctx context.Context, db *sql.DB) (*MySQLSink, error) {
	if err := runMigrations(ctx, db); err != nil {
		return nil, err
	}
	host, _ := os.Hostname()
	return &MySQLSink{db: db, host: host}, nil
}

func openDatabase(ctx context.Context, cfg MySQLConfig) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.New("MySQL DSN 不能为空")
	}

	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("连接 MySQL 失败: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	} else {
		db.SetMaxOpenConns(4)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	} else {
		db.SetMaxIdleConns(2)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("无法连接到 MySQL: %w", err)
	}
	return db, nil
}

// Publish 写入一个事件。
func (s *MySQLSink) Publish(ctx context.Context, ev plugin.Event) error {
	var evErr sql.NullString
	if ev.Error != "" {
		evErr = sql.NullString{String: ev.Error, Valid: true}
	}
	occurred := ev.Time
	if occurred.IsZero() {
		occurred = time.Now()
	}
	if _, err := s.db.ExecContext(ctx, insertEventSQL,
		uuid.NewString(), string(ev.Kind), string(ev.Capability), ev.Plugin, ev.Version,
		evErr, s.host, occurred.UnixMilli()); err != nil {
		return fmt.Errorf("写入注册表事件失败: %w", err)
	}
	return nil
}

// Close 关闭数据库连接池。
func (s *MySQLSink) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
