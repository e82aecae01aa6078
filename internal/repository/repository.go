package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/fpluis/flipance-sub000/internal/metrics"
)

// PostgreSQL 错误码
// 参考: https://www.postgresql.org/docs/current/errcodes-appendix.html
const (
	pgErrUniqueViolation = "23505" // unique_violation
)

// Repository 基础仓储
type Repository struct {
	db *gorm.DB
}

// NewRepository 创建基础仓储
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// txKey 事务上下文键
type txKey struct{}

// DB 返回数据库连接
func (r *Repository) DB(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return tx
	}
	return r.db.WithContext(ctx)
}

// Transaction 执行事务
func (r *Repository) Transaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txCtx := context.WithValue(ctx, txKey{}, tx)
		return fn(txCtx)
	})
}

// observeQuery 记录查询耗时，defer observeQuery(op, table, time.Now()) 使用
func observeQuery(operation, table string, start time.Time) {
	metrics.DBQueryDuration.WithLabelValues(operation, table).Observe(time.Since(start).Seconds())
}

// isDuplicateKeyError 判断是否为重复键错误
//
// 重复插入是管线的预期结果 (轮询窗口重叠、链上/REST 双源)，
// 各仓储将其映射为各自的 ErrDuplicate* 哨兵。
func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgErrUniqueViolation {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "duplicate key") || strings.Contains(errStr, pgErrUniqueViolation)
}
