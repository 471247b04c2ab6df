package service

import (
	"context"
	"errors"
	"fmt"

	"food_order/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const maxCartItemQuantity = 99

// CartView 购物车展示。
type CartView struct {
	Items      []model.CartItem `json:"items"`
	TotalItems int              `json:"total_items"`
	Subtotal   decimal.Decimal  `json:"subtotal"`
}

// Cart 购物车读模型的最小实现：加购时记录价格快照，下单时由 OrderAssembler 清空。
type Cart struct {
	db *gorm.DB
}

func NewCart(db *gorm.DB) *Cart {
	return &Cart{db: db}
}

// AddItem 加购；同一商品合并数量，价格保持第一次加购时的快照。
func (c *Cart) AddItem(ctx context.Context, userID int64, productID uint, quantity int) (*model.CartItem, error) {
	if quantity <= 0 {
		return nil, validationf("quantity must be positive")
	}
	if quantity > maxCartItemQuantity {
		return nil, validationf("maximum quantity per item is %d", maxCartItemQuantity)
	}

	var item model.CartItem
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var p model.Product
		if err := tx.Preload("Inventory").Where("id = ?", productID).First(&p).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return notFoundf("product %d not found", productID)
			}
			return fmt.Errorf("load product: %w", err)
		}
		if !p.IsAvailable {
			return validationf("%s is currently unavailable", p.Name)
		}

		err := tx.Where("user_id = ? AND product_id = ?", userID, productID).First(&item).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			item = model.CartItem{UserID: userID, ProductID: productID, Quantity: 0, Price: p.Price}
		case err != nil:
			return fmt.Errorf("load cart item: %w", err)
		}

		total := item.Quantity + quantity
		if total > maxCartItemQuantity {
			return validationf("maximum quantity per item is %d", maxCartItemQuantity)
		}
		if p.Inventory != nil && p.Inventory.Quantity < total {
			return validationf("only %d of %s available in stock", p.Inventory.Quantity, p.Name)
		}
		item.Quantity = total

		if item.ID == 0 {
			if err := tx.Create(&item).Error; err != nil {
				if errors.Is(err, gorm.ErrDuplicatedKey) {
					return conflictf("cart changed concurrently, please retry")
				}
				return fmt.Errorf("add cart item: %w", err)
			}
			return nil
		}
		if err := tx.Model(&item).Update("quantity", total).Error; err != nil {
			return fmt.Errorf("update cart item: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, translateTxError(err)
	}
	return &item, nil
}

// Get 当前购物车。
func (c *Cart) Get(ctx context.Context, userID int64) (CartView, error) {
	var items []model.CartItem
	if err := c.db.WithContext(ctx).Preload("Product").Where("user_id = ?", userID).Order("id").Find(&items).Error; err != nil {
		return CartView{}, fmt.Errorf("load cart: %w", err)
	}
	view := CartView{Items: items, Subtotal: decimal.Zero}
	for _, it := range items {
		view.TotalItems += it.Quantity
		view.Subtotal = view.Subtotal.Add(it.LineTotal())
	}
	return view, nil
}

// RemoveItem 删除一行购物车。
func (c *Cart) RemoveItem(ctx context.Context, userID int64, itemID uint) error {
	res := c.db.WithContext(ctx).Where("id = ? AND user_id = ?", itemID, userID).Delete(&model.CartItem{})
	if res.Error != nil {
		return fmt.Errorf("remove cart item: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return notFoundf("cart item %d not found", itemID)
	}
	return nil
}
