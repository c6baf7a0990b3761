package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"membership_checkout/internal/models"
)

// Catalog resolves package names to server-side prices.
type Catalog interface {
	Lookup(ctx context.Context, name string) (models.Package, error)
}

// DefaultPackages seeds an empty catalog.
var DefaultPackages = []models.Package{
	{Name: "basic", Price: 99, Currency: "thb", IsActive: true},
	{Name: "premium", Price: 149, Currency: "thb", IsActive: true},
	{Name: "vip", Price: 299, Currency: "thb", IsActive: true},
}

func normalizePackageName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// GormCatalog reads active packages from the packages table,
// cached in Redis when a cache is configured.
type GormCatalog struct {
	db    *gorm.DB
	cache *RedisCache
	ttl   time.Duration
}

func NewGormCatalog(db *gorm.DB, cache *RedisCache, ttl time.Duration) *GormCatalog {
	return &GormCatalog{db: db, cache: cache, ttl: ttl}
}

func (c *GormCatalog) Lookup(ctx context.Context, name string) (models.Package, error) {
	name = normalizePackageName(name)
	if name == "" {
		return models.Package{}, ErrUnknownPackage
	}
	if c.cache == nil {
		return c.load(ctx, name)
	}
	return GetOrSet(c.cache, ctx, "catalog:package:"+name, c.ttl, func() (models.Package, error) {
		return c.load(ctx, name)
	})
}

func (c *GormCatalog) load(ctx context.Context, name string) (models.Package, error) {
	var pkg models.Package
	err := c.db.WithContext(ctx).Where("name = ? AND is_active = ?", name, true).First(&pkg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Package{}, fmt.Errorf("%w: %s", ErrUnknownPackage, name)
		}
		return models.Package{}, fmt.Errorf("load package %s: %w", name, err)
	}
	return pkg, nil
}

// StaticCatalog is an in-memory catalog.
type StaticCatalog map[string]models.Package

func NewStaticCatalog(pkgs ...models.Package) StaticCatalog {
	c := make(StaticCatalog, len(pkgs))
	for _, p := range pkgs {
		c[normalizePackageName(p.Name)] = p
	}
	return c
}

func (c StaticCatalog) Lookup(ctx context.Context, name string) (models.Package, error) {
	pkg, ok := c[normalizePackageName(name)]
	if !ok || !pkg.IsActive {
		return models.Package{}, fmt.Errorf("%w: %s", ErrUnknownPackage, name)
	}
	return pkg, nil
}

// SeedPackages inserts pkgs, leaving existing names untouched.
func SeedPackages(db *gorm.DB, pkgs []models.Package) error {
	if len(pkgs) == 0 {
		return nil
	}
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoNothing: true,
	}).Create(&pkgs).Error
}
