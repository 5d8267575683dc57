package inventory

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ownerPlan is the plans table row
type ownerPlan struct {
	OwnerKey string `gorm:"primaryKey"`
	Plan     string `gorm:"not null"`
}

// GormStore implements Store and PlanStore on a hosted Postgres database
type GormStore struct {
	db          *gorm.DB
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewGormStore connects to the Postgres database at dsn and migrates the schema
func NewGormStore(dsn string) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	return NewGormStoreWithDB(db, &uuidGenerator{}, &defaultTimeSource{})
}

// NewGormStoreWithDB wraps an open gorm connection
func NewGormStoreWithDB(db *gorm.DB, idGen IDGenerator, timeSrc TimeSource) (*GormStore, error) {
	if err := db.AutoMigrate(&Item{}, &ownerPlan{}); err != nil {
		return nil, fmt.Errorf("migrating schema: %w", err)
	}
	return &GormStore{db: db, idGenerator: idGen, timeSource: timeSrc}, nil
}

// AddItem inserts an item row
func (g *GormStore) AddItem(ctx context.Context, item *Item, ownerKey string) (*Item, error) {
	stored, err := prepare(item, ownerKey, g.idGenerator, g.timeSource)
	if err != nil {
		return nil, err
	}
	if err := g.db.WithContext(ctx).Create(stored).Error; err != nil {
		return nil, fmt.Errorf("inserting item: %w", err)
	}
	return stored, nil
}

// ListItems returns the owner's items oldest first
func (g *GormStore) ListItems(ctx context.Context, ownerKey string) ([]*Item, error) {
	items := make([]*Item, 0)
	err := g.db.WithContext(ctx).
		Where("owner_key = ?", ownerKey).
		Order("created_at, id").
		Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("listing items: %w", err)
	}
	return items, nil
}

// CountItems counts the owner's rows
func (g *GormStore) CountItems(ctx context.Context, ownerKey string) (int, error) {
	var count int64
	err := g.db.WithContext(ctx).Model(&Item{}).Where("owner_key = ?", ownerKey).Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("counting items: %w", err)
	}
	return int(count), nil
}

// GetPlan returns the owner's plan, or PlanFree when none is stored
func (g *GormStore) GetPlan(ctx context.Context, ownerKey string) (Plan, error) {
	var row ownerPlan
	err := g.db.WithContext(ctx).First(&row, "owner_key = ?", ownerKey).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return PlanFree, nil
	}
	if err != nil {
		return "", fmt.Errorf("getting plan: %w", err)
	}
	return Plan(row.Plan), nil
}

// SetPlan upserts the owner's plan
func (g *GormStore) SetPlan(ctx context.Context, ownerKey string, plan Plan) error {
	if _, err := plan.Limit(ResourceInventoryItems); err != nil {
		return err
	}
	row := ownerPlan{OwnerKey: ownerKey, Plan: string(plan)}
	if err := g.db.WithContext(ctx).Save(&row).Error; err != nil {
		return fmt.Errorf("saving plan: %w", err)
	}
	return nil
}

// Close closes the underlying connection pool
func (g *GormStore) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
