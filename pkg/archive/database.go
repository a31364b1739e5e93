package archive

import (
	"context"
	"fmt"
	"log"
	"os"
	"slices"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/driver/sqlserver"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
	"gorm.io/gorm/schema"

	"github.com/tokmz/relay/pkg/chat"
)

// DatabaseConfig 数据库后端配置
type DatabaseConfig struct {
	// Type 数据库类型: mysql, postgres, sqlite, sqlserver
	Type string `mapstructure:"type"`
	DSN  string `mapstructure:"dsn"`

	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`

	TablePrefix string `mapstructure:"table_prefix"`

	// LogLevel 1:Silent 2:Error 3:Warn 4:Info
	LogLevel      int           `mapstructure:"log_level"`
	SlowThreshold time.Duration `mapstructure:"slow_threshold"`

	// Trace 为查询创建 Span
	Trace bool `mapstructure:"trace"`
}

// DefaultDatabaseConfig 默认使用本地 SQLite 文件
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Type:            "sqlite",
		DSN:             "relay.db",
		MaxIdleConns:    5,
		MaxOpenConns:    20,
		ConnMaxLifetime: time.Hour,
		LogLevel:        2,
		SlowThreshold:   200 * time.Millisecond,
	}
}

// ArchivedMessage 归档表
type ArchivedMessage struct {
	ID        string    `gorm:"primaryKey;size:36"`
	Room      string    `gorm:"size:64;not null;index:idx_room_created,priority:1"`
	UserID    string    `gorm:"size:64;not null"`
	UserName  string    `gorm:"size:64"`
	Text      string    `gorm:"type:text"`
	System    bool      `gorm:"not null;default:false"`
	CreatedAt time.Time `gorm:"not null;index:idx_room_created,priority:2"`
}

func newArchivedMessage(r Record) ArchivedMessage {
	return ArchivedMessage{
		ID:        r.Message.ID,
		Room:      r.Room,
		UserID:    r.Message.UserID,
		UserName:  r.Message.UserName,
		Text:      r.Message.Text,
		System:    r.Message.IsSystemMessage,
		CreatedAt: r.Message.Timestamp,
	}
}

func (m ArchivedMessage) message() chat.Message {
	return chat.Message{
		ID:              m.ID,
		Text:            m.Text,
		UserID:          m.UserID,
		UserName:        m.UserName,
		Timestamp:       m.CreatedAt,
		IsSystemMessage: m.System,
	}
}

// DatabaseSink 基于 GORM 的归档
type DatabaseSink struct {
	db *gorm.DB
}

// OpenDatabase 按配置打开数据库连接
func OpenDatabase(cfg DatabaseConfig) (*gorm.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database dsn is required")
	}
	dialector, err := dialector(cfg.Type, cfg.DSN)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		SkipDefaultTransaction: true,
		Logger: gormlogger.New(
			log.New(os.Stdout, "\r\n", log.LstdFlags),
			gormlogger.Config{
				SlowThreshold:             cfg.SlowThreshold,
				LogLevel:                  gormlogger.LogLevel(cfg.LogLevel),
				IgnoreRecordNotFoundError: true,
			},
		),
		NamingStrategy: schema.NamingStrategy{TablePrefix: cfg.TablePrefix},
	})
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if cfg.Trace {
		if err := db.Use(newTracingPlugin()); err != nil {
			return nil, fmt.Errorf("register tracing plugin: %w", err)
		}
	}
	return db, nil
}

func dialector(dbType, dsn string) (gorm.Dialector, error) {
	switch dbType {
	case "mysql":
		return mysql.Open(dsn), nil
	case "postgres":
		return postgres.Open(dsn), nil
	case "sqlite", "":
		return sqlite.Open(dsn), nil
	case "sqlserver":
		return sqlserver.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported database type: %s", dbType)
	}
}

// NewDatabaseSink 打开数据库并迁移归档表
func NewDatabaseSink(ctx context.Context, cfg DatabaseConfig) (*DatabaseSink, error) {
	db, err := OpenDatabase(cfg)
	if err != nil {
		return nil, err
	}
	return NewDatabaseSinkWithDB(ctx, db)
}

// NewDatabaseSinkWithDB 使用已有连接
func NewDatabaseSinkWithDB(ctx context.Context, db *gorm.DB) (*DatabaseSink, error) {
	if err := db.WithContext(ctx).AutoMigrate(&ArchivedMessage{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &DatabaseSink{db: db}, nil
}

// Write 按 ID 去重写入
func (s *DatabaseSink) Write(ctx context.Context, records []Record) error {
	rows := make([]ArchivedMessage, 0, len(records))
	for _, r := range records {
		rows = append(rows, newArchivedMessage(r))
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(rows, 100).Error
}

func (s *DatabaseSink) Recent(ctx context.Context, room string, limit int) ([]chat.Message, error) {
	q := s.db.WithContext(ctx).
		Where("room = ?", room).
		Order("created_at DESC").
		Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var rows []ArchivedMessage
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	slices.Reverse(rows)

	msgs := make([]chat.Message, 0, len(rows))
	for _, row := range rows {
		msgs = append(msgs, row.message())
	}
	return msgs, nil
}

func (s *DatabaseSink) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
