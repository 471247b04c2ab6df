package service

import "gorm.io/gorm"

// Services 组装全部业务组件，router 和 queue 只依赖这里。
type Services struct {
	Coupons   *CouponEngine
	Inventory *InventoryLedger
	Orders    *OrderAssembler
	Lifecycle *OrderLifecycle
	Catalog   *Catalog
	Cart      *Cart
}

func New(db *gorm.DB) *Services {
	coupons := NewCouponEngine(db)
	inventory := NewInventoryLedger(db)
	return &Services{
		Coupons:   coupons,
		Inventory: inventory,
		Orders:    NewOrderAssembler(db, coupons, inventory),
		Lifecycle: NewOrderLifecycle(db, inventory),
		Catalog:   NewCatalog(db),
		Cart:      NewCart(db),
	}
}
