package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"food_order/internal/model"
	"food_order/internal/store"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ProductInput 后台建商品。Inventory 为空表示不限库存。
type ProductInput struct {
	Name        string          `json:"name" binding:"required"`
	Price       decimal.Decimal `json:"price"`
	IsAvailable *bool           `json:"is_available"`
	Inventory   *InventoryInput `json:"inventory"`
}

// AddressInput 新建收货地址。
type AddressInput struct {
	Label  string `json:"label"`
	City   string `json:"city" binding:"required"`
	Street string `json:"street" binding:"required"`
}

// Catalog 商品与地址的最小实现，目录和地址簿本身由外部系统维护。
type Catalog struct {
	db *gorm.DB
}

func NewCatalog(db *gorm.DB) *Catalog {
	return &Catalog{db: db}
}

// CreateProduct 建商品，可同时开启库存管理。
func (c *Catalog) CreateProduct(ctx context.Context, in ProductInput) (*model.Product, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, validationf("product name is required")
	}
	if !in.Price.IsPositive() {
		return nil, validationf("price must be > 0")
	}

	p := model.Product{Name: name, Price: in.Price.Round(2), IsAvailable: true}
	if in.IsAvailable != nil {
		p.IsAvailable = *in.IsAvailable
	}
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&p).Error; err != nil {
			return fmt.Errorf("create product: %w", err)
		}
		if in.Inventory == nil {
			return nil
		}
		inv, err := createInventory(tx, p.ID, *in.Inventory)
		if err != nil {
			return err
		}
		p.Inventory = inv
		return nil
	})
	if err != nil {
		return nil, translateTxError(err)
	}
	return &p, nil
}

// ListProducts 全部商品（含库存）。
func (c *Catalog) ListProducts(ctx context.Context) ([]model.Product, error) {
	var products []model.Product
	if err := c.db.WithContext(ctx).Preload("Inventory").Order("id").Find(&products).Error; err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	return products, nil
}

func (c *Catalog) CreateAddress(ctx context.Context, userID int64, in AddressInput) (*model.Address, error) {
	addr := model.Address{
		UserID: userID,
		Label:  strings.TrimSpace(in.Label),
		City:   strings.TrimSpace(in.City),
		Street: strings.TrimSpace(in.Street),
	}
	if addr.City == "" || addr.Street == "" {
		return nil, validationf("city and street are required")
	}
	if err := c.db.WithContext(ctx).Create(&addr).Error; err != nil {
		return nil, fmt.Errorf("create address: %w", err)
	}
	return &addr, nil
}

// addressQuery 按归属查地址并加行锁。下单和删地址都走这里，
// 删地址时的引用计数与并发下单互斥。
func addressQuery(tx *gorm.DB, userID int64, addressID uint) *gorm.DB {
	return store.ForUpdate(tx).Where("id = ? AND user_id = ?", addressID, userID)
}

func lockAddress(tx *gorm.DB, userID int64, addressID uint) (*model.Address, error) {
	var addr model.Address
	if err := addressQuery(tx, userID, addressID).First(&addr).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFoundf("address %d not found", addressID)
		}
		return nil, fmt.Errorf("load address: %w", err)
	}
	return &addr, nil
}

// DeleteAddress 删除地址；已被订单引用的地址不能删。
func (c *Catalog) DeleteAddress(ctx context.Context, userID int64, addressID uint) error {
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		addr, err := lockAddress(tx, userID, addressID)
		if err != nil {
			return err
		}

		var n int64
		if err := tx.Model(&model.Order{}).Where("address_id = ?", addr.ID).Count(&n).Error; err != nil {
			return fmt.Errorf("count orders for address: %w", err)
		}
		if n > 0 {
			return conflictf("address %d is used by %d order(s) and cannot be deleted", addr.ID, n)
		}
		if err := tx.Delete(addr).Error; err != nil {
			return fmt.Errorf("delete address: %w", err)
		}
		return nil
	})
	return translateTxError(err)
}
