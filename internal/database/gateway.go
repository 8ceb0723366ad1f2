package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/patrickmn/go-cache"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	ErrNotFound      = errors.New("prediction record not found")
	ErrPoolExhausted = errors.New("database connection pool exhausted")
	ErrPersistence   = errors.New("failed to persist prediction record")
)

// Gateway is the only path to the prediction table. Every operation borrows a
// single pooled connection for its whole duration and returns it on all exit
// paths.
type Gateway struct {
	db             *gorm.DB
	acquireTimeout time.Duration
	records        *cache.Cache
}

type GatewayOption func(*Gateway)

// WithRecordCache keeps fetched records in memory for ttl. Records are
// immutable so entries never need invalidating.
func WithRecordCache(ttl time.Duration) GatewayOption {
	return func(g *Gateway) {
		if ttl > 0 {
			g.records = cache.New(ttl, 2*ttl)
		}
	}
}

func NewGateway(db *gorm.DB, acquireTimeout time.Duration, opts ...GatewayOption) *Gateway {
	g := &Gateway{db: db, acquireTimeout: acquireTimeout}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// WithConn runs fn on a dedicated pooled connection. If no connection frees up
// within the acquire timeout it fails with ErrPoolExhausted.
func (g *Gateway) WithConn(ctx context.Context, fn func(conn *gorm.DB) error) error {
	acquireCtx, cancel := ctx, context.CancelFunc(func() {})
	if g.acquireTimeout > 0 {
		acquireCtx, cancel = context.WithTimeout(ctx, g.acquireTimeout)
	}
	defer cancel()

	acquired := false
	err := g.db.WithContext(acquireCtx).Connection(func(conn *gorm.DB) error {
		acquired = true
		return fn(conn.WithContext(ctx))
	})

	if err != nil && !acquired {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return fmt.Errorf("%w: no connection available within %v", ErrPoolExhausted, g.acquireTimeout)
		}
		return fmt.Errorf("error acquiring database connection: %w", err)
	}
	return err
}

// Insert writes record in a single transaction and returns its new id. The
// timestamp is assigned here. On failure nothing is written.
func (g *Gateway) Insert(ctx context.Context, record *PredictionRecord) (uint, error) {
	if record.ImagePath == "" {
		return 0, fmt.Errorf("%w: record has no image path", ErrPersistence)
	}
	if len(record.Detections) == 0 {
		record.Detections = datatypes.JSON("[]")
	}

	record.Id = 0
	record.Timestamp = time.Now().UTC()

	err := g.WithConn(ctx, func(conn *gorm.DB) error {
		return conn.Transaction(func(txn *gorm.DB) error {
			return txn.Create(record).Error
		})
	})
	if err != nil {
		record.Id = 0
		if errors.Is(err, ErrPoolExhausted) {
			return 0, err
		}
		slog.Error("error inserting prediction record", "model_kind", record.ModelKind, "error", err)
		return 0, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	g.remember(*record)
	return record.Id, nil
}

func (g *Gateway) GetByID(ctx context.Context, id uint) (*PredictionRecord, error) {
	if record, ok := g.lookup(id); ok {
		return &record, nil
	}

	var record PredictionRecord
	err := g.WithConn(ctx, func(conn *gorm.DB) error {
		return conn.First(&record, id).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: id %d", ErrNotFound, id)
		}
		if errors.Is(err, ErrPoolExhausted) {
			return nil, err
		}
		return nil, fmt.Errorf("error fetching prediction record %d: %w", id, err)
	}

	g.remember(record)
	return &record, nil
}

func (g *Gateway) Stats() (sql.DBStats, error) {
	sqlDB, err := g.db.DB()
	if err != nil {
		return sql.DBStats{}, err
	}
	return sqlDB.Stats(), nil
}

func (g *Gateway) remember(record PredictionRecord) {
	if g.records != nil {
		g.records.SetDefault(strconv.FormatUint(uint64(record.Id), 10), record)
	}
}

func (g *Gateway) lookup(id uint) (PredictionRecord, bool) {
	if g.records == nil {
		return PredictionRecord{}, false
	}
	if v, ok := g.records.Get(strconv.FormatUint(uint64(id), 10)); ok {
		return v.(PredictionRecord), true
	}
	return PredictionRecord{}, false
}
