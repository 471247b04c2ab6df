package service

import (
	"context"
	"errors"
	"fmt"

	"food_order/internal/model"
	"food_order/internal/store"

	"gorm.io/gorm"
)

const defaultLowStockThreshold = 10

// InventoryInput 建库存记录的参数；指针字段为空时用默认值（阈值 10、归零自动下架）。
type InventoryInput struct {
	Quantity          int   `json:"quantity"`
	LowStockThreshold *int  `json:"low_stock_threshold"`
	AutoDisableOnZero *bool `json:"auto_disable_on_zero"`
}

// LedgerCheck 流水重放结果：Replayed 为按流水累加得到的数量，Drift 为与当前库存的差。
type LedgerCheck struct {
	InventoryID uint `json:"inventory_id"`
	ProductID   uint `json:"product_id"`
	Quantity    int  `json:"quantity"`
	Replayed    int  `json:"replayed"`
	Drift       int  `json:"drift"`
	Entries     int  `json:"entries"`
}

// InventoryLedger 维护库存数量和只追加的库存流水。
// 所有数量变更都走条件 UPDATE，并在同一事务内追加一条流水。
type InventoryLedger struct {
	db *gorm.DB
}

func NewInventoryLedger(db *gorm.DB) *InventoryLedger {
	return &InventoryLedger{db: db}
}

// lockInventory 读取并（postgres 下）锁住库存行。found=false 表示该商品不限库存。
func lockInventory(tx *gorm.DB, productID uint) (model.ProductInventory, bool, error) {
	var inv model.ProductInventory
	err := store.ForUpdate(tx).Where("product_id = ?", productID).First(&inv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.ProductInventory{}, false, nil
	}
	if err != nil {
		return model.ProductInventory{}, false, fmt.Errorf("load inventory for product %d: %w", productID, err)
	}
	return inv, true, nil
}

func productName(tx *gorm.DB, productID uint) string {
	var p model.Product
	if err := tx.Unscoped().Select("name").Where("id = ?", productID).First(&p).Error; err != nil {
		return fmt.Sprintf("product #%d", productID)
	}
	return p.Name
}

// ReserveAndDecrement 下单扣库存。无库存记录视为不限量直接成功。
// 库存不足返回 ValidationError（含剩余数量）；条件更新没命中说明并发被抢，返回 ConflictError。
func (l *InventoryLedger) ReserveAndDecrement(tx *gorm.DB, productID uint, quantity int, orderID uint) error {
	inv, found, err := lockInventory(tx, productID)
	if err != nil || !found {
		return err
	}
	if inv.Quantity < quantity {
		return validationf("insufficient stock: %s (only %d available)", productName(tx, productID), inv.Quantity)
	}

	after, err := l.applyDelta(tx, inv, -quantity, model.InventoryTxOrder, &orderID, "")
	if err != nil {
		return err
	}
	if after == 0 && inv.AutoDisableOnZero {
		return disableProduct(tx, productID)
	}
	return nil
}

// Restore 取消订单时回补库存。不会自动重新上架，上架只能由后台显式操作。
func (l *InventoryLedger) Restore(tx *gorm.DB, productID uint, quantity int, orderID uint) error {
	inv, found, err := lockInventory(tx, productID)
	if err != nil || !found {
		return err
	}
	_, err = l.applyDelta(tx, inv, quantity, model.InventoryTxCancellation, &orderID, "")
	return err
}

// applyDelta 条件更新数量并追加流水，返回更新后的数量。
func (l *InventoryLedger) applyDelta(tx *gorm.DB, inv model.ProductInventory, delta int, typ model.InventoryTxType, orderID *uint, notes string) (int, error) {
	res := tx.Model(&model.ProductInventory{}).
		Where("id = ? AND quantity + ? >= 0", inv.ID, delta).
		UpdateColumn("quantity", gorm.Expr("quantity + ?", delta))
	if res.Error != nil {
		return 0, fmt.Errorf("update inventory %d: %w", inv.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return 0, conflictf("stock for %s changed concurrently, please retry", productName(tx, inv.ProductID))
	}

	var after int
	if err := tx.Model(&model.ProductInventory{}).Select("quantity").Where("id = ?", inv.ID).Scan(&after).Error; err != nil {
		return 0, fmt.Errorf("reload inventory %d: %w", inv.ID, err)
	}

	entry := model.InventoryTransaction{
		InventoryID:    inv.ID,
		Type:           typ,
		QuantityChange: delta,
		QuantityAfter:  after,
		OrderID:        orderID,
		Notes:          notes,
	}
	if err := tx.Create(&entry).Error; err != nil {
		return 0, fmt.Errorf("append inventory transaction: %w", err)
	}
	return after, nil
}

func disableProduct(tx *gorm.DB, productID uint) error {
	err := tx.Model(&model.Product{}).Where("id = ?", productID).UpdateColumn("is_available", false).Error
	if err != nil {
		return fmt.Errorf("disable product %d: %w", productID, err)
	}
	return nil
}

// createInventory 建库存记录，并把初始数量记一笔 restock，保证流水能从 0 重放出当前库存。
func createInventory(tx *gorm.DB, productID uint, in InventoryInput) (*model.ProductInventory, error) {
	if in.Quantity < 0 {
		return nil, validationf("quantity must be >= 0")
	}
	inv := model.ProductInventory{
		ProductID:         productID,
		Quantity:          in.Quantity,
		LowStockThreshold: defaultLowStockThreshold,
		AutoDisableOnZero: true,
	}
	if in.LowStockThreshold != nil {
		if *in.LowStockThreshold < 0 {
			return nil, validationf("low_stock_threshold must be >= 0")
		}
		inv.LowStockThreshold = *in.LowStockThreshold
	}
	if in.AutoDisableOnZero != nil {
		inv.AutoDisableOnZero = *in.AutoDisableOnZero
	}

	if err := tx.Create(&inv).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, conflictf("product %d already has an inventory record", productID)
		}
		return nil, fmt.Errorf("create inventory: %w", err)
	}
	opening := model.InventoryTransaction{
		InventoryID:    inv.ID,
		Type:           model.InventoryTxRestock,
		QuantityChange: inv.Quantity,
		QuantityAfter:  inv.Quantity,
		Notes:          "opening stock",
	}
	if err := tx.Create(&opening).Error; err != nil {
		return nil, fmt.Errorf("append inventory transaction: %w", err)
	}
	return &inv, nil
}

// CreateInventory 给已有商品开启库存管理。
func (l *InventoryLedger) CreateInventory(ctx context.Context, productID uint, in InventoryInput) (*model.ProductInventory, error) {
	var inv *model.ProductInventory
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&model.Product{}).Where("id = ?", productID).Count(&n).Error; err != nil {
			return fmt.Errorf("load product %d: %w", productID, err)
		}
		if n == 0 {
			return notFoundf("product %d not found", productID)
		}
		if _, found, err := lockInventory(tx, productID); err != nil {
			return err
		} else if found {
			return conflictf("product %d already has an inventory record", productID)
		}
		created, err := createInventory(tx, productID, in)
		if err != nil {
			return err
		}
		inv = created
		return nil
	})
	if err != nil {
		return nil, translateTxError(err)
	}
	return inv, nil
}

// Adjust 后台手工调整库存：restock 只能加，damaged 只能减，adjustment 任意非零。
// 调整后不能为负；归零按 AutoDisableOnZero 下架，补货不会自动上架。
func (l *InventoryLedger) Adjust(ctx context.Context, productID uint, delta int, typ model.InventoryTxType, notes string) (*model.ProductInventory, error) {
	switch {
	case delta == 0:
		return nil, validationf("quantity change must not be zero")
	case typ == model.InventoryTxRestock && delta < 0:
		return nil, validationf("restock quantity must be positive")
	case typ == model.InventoryTxDamaged && delta > 0:
		return nil, validationf("damaged quantity must be negative")
	}
	if _, ok := model.ParseInventoryTxType(string(typ)); !ok {
		return nil, validationf("transaction type must be one of: restock, adjustment, damaged")
	}

	var out model.ProductInventory
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inv, found, err := lockInventory(tx, productID)
		if err != nil {
			return err
		}
		if !found {
			return notFoundf("product %d has no inventory record", productID)
		}
		if inv.Quantity+delta < 0 {
			return validationf("cannot remove %d units from %s (only %d in stock)", -delta, productName(tx, productID), inv.Quantity)
		}
		after, err := l.applyDelta(tx, inv, delta, typ, nil, notes)
		if err != nil {
			return err
		}
		if after == 0 && inv.AutoDisableOnZero {
			if err := disableProduct(tx, productID); err != nil {
				return err
			}
		}
		inv.Quantity = after
		out = inv
		return nil
	})
	if err != nil {
		return nil, translateTxError(err)
	}
	return &out, nil
}

// SetProductAvailability 后台显式上下架。
func (l *InventoryLedger) SetProductAvailability(ctx context.Context, productID uint, available bool) error {
	res := l.db.WithContext(ctx).Model(&model.Product{}).Where("id = ?", productID).Update("is_available", available)
	if res.Error != nil {
		return fmt.Errorf("set product %d availability: %w", productID, res.Error)
	}
	if res.RowsAffected == 0 {
		return notFoundf("product %d not found", productID)
	}
	return nil
}

// Get 查询商品库存记录。
func (l *InventoryLedger) Get(ctx context.Context, productID uint) (*model.ProductInventory, error) {
	var inv model.ProductInventory
	err := l.db.WithContext(ctx).Where("product_id = ?", productID).First(&inv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFoundf("product %d has no inventory record", productID)
	}
	if err != nil {
		return nil, fmt.Errorf("load inventory for product %d: %w", productID, err)
	}
	return &inv, nil
}

// Transactions 按写入顺序返回流水。
func (l *InventoryLedger) Transactions(ctx context.Context, productID uint) ([]model.InventoryTransaction, error) {
	inv, err := l.Get(ctx, productID)
	if err != nil {
		return nil, err
	}
	var entries []model.InventoryTransaction
	if err := l.db.WithContext(ctx).Where("inventory_id = ?", inv.ID).Order("id").Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("list inventory transactions: %w", err)
	}
	return entries, nil
}

// Reconstruct 从 0 开始重放流水，和当前库存对账。
func (l *InventoryLedger) Reconstruct(ctx context.Context, productID uint) (LedgerCheck, error) {
	inv, err := l.Get(ctx, productID)
	if err != nil {
		return LedgerCheck{}, err
	}
	entries, err := l.Transactions(ctx, productID)
	if err != nil {
		return LedgerCheck{}, err
	}
	replayed := 0
	for _, e := range entries {
		replayed += e.QuantityChange
	}
	return LedgerCheck{
		InventoryID: inv.ID,
		ProductID:   productID,
		Quantity:    inv.Quantity,
		Replayed:    replayed,
		Drift:       inv.Quantity - replayed,
		Entries:     len(entries),
	}, nil
}
