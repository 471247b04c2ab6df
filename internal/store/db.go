package store

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"food_order/internal/model"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Open 按驱动名建立连接。sqlite 限制为单连接：SQLite 只允许一个写者，多连接并发写会直接报 database is locked。
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported db driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         newLogger(slog.NewLogLogger(slog.Default().Handler(), slog.LevelWarn)),
	})
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}

	if driver == "sqlite" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("db handle: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return db, nil
}

// newLogger 只输出慢查询和错误。查不到记录是正常分支（不限库存的商品、首次加购），不记日志。
func newLogger(w logger.Writer) logger.Interface {
	return logger.New(w, logger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  logger.Warn,
		IgnoreRecordNotFoundError: true,
	})
}

// Migrate 自动建表。
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&model.Product{},
		&model.ProductInventory{},
		&model.InventoryTransaction{},
		&model.Address{},
		&model.CartItem{},
		&model.Coupon{},
		&model.CouponAllowedUser{},
		&model.CouponUsage{},
		&model.Order{},
		&model.OrderItem{},
		&model.OrderStatusHistory{},
		&model.OrderEvent{},
	)
	if err != nil {
		return fmt.Errorf("db migrate: %w", err)
	}
	return nil
}

// ForUpdate 在 postgres 上加 SELECT ... FOR UPDATE 行锁；sqlite 整库写锁，不需要也不支持。
func ForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "postgres" {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}

// IsRetryable 判断是否是并发冲突类的数据库错误（序列化失败、死锁、sqlite 忙），调用方可以重试。
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "database table is locked")
}
