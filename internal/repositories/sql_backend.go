package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/your-org/recordhub/internal/domain"
)

// RecordRow is one stored record of any collection.
type RecordRow struct {
	Collection string    `gorm:"primaryKey;size:128"`
	ID         string    `gorm:"primaryKey;size:128"`
	Body       string    `gorm:"type:text;not null"`
	CreatedAt  time.Time `gorm:"index"`
	UpdatedAt  time.Time
}

// TableName implements gorm's tabler
func (RecordRow) TableName() string {
	return "records"
}

// OpenSQL opens (and creates) the SQLite database at dsn.
func OpenSQL(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dsn, err)
	}

	// SQLite has a single writer.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("sqlite handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	return db, nil
}

// SQLBackend stores one collection in the shared records table.
type SQLBackend[T any] struct {
	db         *gorm.DB
	collection string
	opts       options
}

// NewSQLBackend creates the backend of one collection.
func NewSQLBackend[T any](db *gorm.DB, collection string, opts ...Option) *SQLBackend[T] {
	return &SQLBackend[T]{
		db:         db,
		collection: collection,
		opts:       buildOptions(opts),
	}
}

func (b *SQLBackend[T]) take(tx *gorm.DB, id string) (*RecordRow, error) {
	var row RecordRow
	err := tx.Where("collection = ? AND id = ?", b.collection, id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%s/%s: %w", b.collection, id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("select %s/%s: %w", b.collection, id, err)
	}
	return &row, nil
}

// FindOne implements domain.Backend
func (b *SQLBackend[T]) FindOne(ctx context.Context, id string) (T, error) {
	row, err := b.take(b.db.WithContext(ctx), id)
	if err != nil {
		var zero T
		return zero, err
	}
	return decodeRaw[T]([]byte(row.Body))
}

// FindAll implements domain.Backend. Records come back in insertion order.
func (b *SQLBackend[T]) FindAll(ctx context.Context) ([]T, error) {
	var rows []RecordRow
	err := b.db.WithContext(ctx).
		Where("collection = ?", b.collection).
		Order("created_at, id").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", b.collection, err)
	}

	records := make([]T, 0, len(rows))
	for _, row := range rows {
		record, err := decodeRaw[T]([]byte(row.Body))
		if err != nil {
			return nil, fmt.Errorf("%s/%s: %w", b.collection, row.ID, err)
		}
		records = append(records, record)
	}
	return records, nil
}

// Save implements domain.Backend
func (b *SQLBackend[T]) Save(ctx context.Context, record T) (T, error) {
	var zero T
	doc, err := encodeDocument(record)
	if err != nil {
		return zero, err
	}
	id := b.opts.stampNew(doc)

	body, err := json.Marshal(doc)
	if err != nil {
		return zero, fmt.Errorf("encode %s/%s: %w", b.collection, id, err)
	}

	now := b.opts.now()
	row := RecordRow{
		Collection: b.collection,
		ID:         id,
		Body:       string(body),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := b.db.WithContext(ctx).Create(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return zero, fmt.Errorf("%s/%s: %w", b.collection, id, domain.ErrConflict)
		}
		return zero, fmt.Errorf("insert %s/%s: %w", b.collection, id, err)
	}
	return decodeDocument[T](doc)
}

// FindByIDAndReplace implements domain.Backend
func (b *SQLBackend[T]) FindByIDAndReplace(ctx context.Context, id string, record T) (T, error) {
	var zero T
	doc, err := encodeDocument(record)
	if err != nil {
		return zero, err
	}

	err = b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row, err := b.take(tx, id)
		if err != nil {
			return err
		}
		previous, err := parseDocument([]byte(row.Body))
		if err != nil {
			return err
		}

		b.opts.stampReplace(doc, id, previous)
		body, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("encode %s/%s: %w", b.collection, id, err)
		}

		return tx.Model(row).Updates(map[string]any{
			"body":       string(body),
			"updated_at": b.opts.now(),
		}).Error
	})
	if err != nil {
		return zero, err
	}
	return decodeDocument[T](doc)
}

// FindByIDAndDelete implements domain.Backend
func (b *SQLBackend[T]) FindByIDAndDelete(ctx context.Context, id string) (T, error) {
	var deleted *RecordRow
	err := b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row, err := b.take(tx, id)
		if err != nil {
			return err
		}
		if err := tx.Delete(row).Error; err != nil {
			return fmt.Errorf("delete %s/%s: %w", b.collection, id, err)
		}
		deleted = row
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return decodeRaw[T]([]byte(deleted.Body))
}

// CheckConnection implements domain.HealthChecker
func (b *SQLBackend[T]) CheckConnection(ctx context.Context) error {
	sqlDB, err := b.db.DB()
	if err != nil {
		return err
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("sqlite unavailable: %w", err)
	}
	return nil
}

// EnsureCollections implements domain.HealthChecker by migrating the records table.
func (b *SQLBackend[T]) EnsureCollections(ctx context.Context) error {
	if err := b.db.WithContext(ctx).AutoMigrate(&RecordRow{}); err != nil {
		return fmt.Errorf("migrate records: %w", err)
	}
	return nil
}

var (
	_ domain.Backend[domain.Product] = (*SQLBackend[domain.Product])(nil)
	_ domain.HealthChecker           = (*SQLBackend[domain.Product])(nil)
)
