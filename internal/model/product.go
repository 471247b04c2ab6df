package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Product 菜品：名称、价格、是否可售。目录由外部系统维护，这里只读 IsAvailable。
type Product struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	Name        string          `gorm:"size:128;not null" json:"name"`
	Price       decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"price"`
	IsAvailable bool            `gorm:"not null" json:"is_available"`

	// Inventory 为空表示不限库存。
	Inventory *ProductInventory `gorm:"foreignKey:ProductID" json:"inventory,omitempty"`
}

func (Product) TableName() string { return "products" }

// ProductInventory 与商品一对一；Quantity 只通过条件更新修改，变动都记入 InventoryTransaction。
type ProductInventory struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	ProductID         uint `gorm:"not null;uniqueIndex" json:"product_id"`
	Quantity          int  `gorm:"not null;default:0" json:"quantity"`
	LowStockThreshold int  `gorm:"not null" json:"low_stock_threshold"`
	// 库存归零时自动下架；补货不会自动上架。
	AutoDisableOnZero bool `gorm:"not null" json:"auto_disable_on_zero"`
}

func (ProductInventory) TableName() string { return "product_inventories" }

func (i ProductInventory) IsOutOfStock() bool { return i.Quantity <= 0 }

func (i ProductInventory) IsLowStock() bool {
	return i.Quantity > 0 && i.Quantity <= i.LowStockThreshold
}

// InventoryTxType 库存流水类型。
type InventoryTxType string

const (
	InventoryTxOrder        InventoryTxType = "order"
	InventoryTxCancellation InventoryTxType = "cancellation"
	InventoryTxRestock      InventoryTxType = "restock"
	InventoryTxAdjustment   InventoryTxType = "adjustment"
	InventoryTxDamaged      InventoryTxType = "damaged"
)

// ParseInventoryTxType 只接受后台可手工录入的类型（order / cancellation 由订单流程写入）。
func ParseInventoryTxType(s string) (InventoryTxType, bool) {
	switch t := InventoryTxType(s); t {
	case InventoryTxRestock, InventoryTxAdjustment, InventoryTxDamaged:
		return t, true
	}
	return "", false
}

// InventoryTransaction 库存流水：带符号的变动量 + 变动后的数量，用于对账重放。
type InventoryTransaction struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`

	InventoryID    uint            `gorm:"not null;index" json:"inventory_id"`
	Type           InventoryTxType `gorm:"size:20;not null;index" json:"transaction_type"`
	QuantityChange int             `gorm:"not null" json:"quantity_change"`
	QuantityAfter  int             `gorm:"not null" json:"quantity_after"`
	OrderID        *uint           `gorm:"index" json:"order_id,omitempty"`
	Notes          string          `gorm:"size:255" json:"notes"`
}

func (InventoryTransaction) TableName() string { return "inventory_transactions" }
