package router

import (
	"food_order/internal/middleware"
	"food_order/internal/model"
	"food_order/internal/service"

	"github.com/gin-gonic/gin"
)

// listProducts 查询商品列表（含库存）。
func listProducts(svc *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := svc.Catalog.ListProducts(c.Request.Context())
		if err != nil {
			writeError(c, err)
			return
		}
		ok(c, list)
	}
}

// createProduct 创建商品，可带初始库存。
func createProduct(svc *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req service.ProductInput
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		p, err := svc.Catalog.CreateProduct(c.Request.Context(), req)
		if err != nil {
			writeError(c, err)
			return
		}
		created(c, p)
	}
}

// setAvailability 后台上下架；库存归零自动下架后只能从这里重新上架。
func setAvailability(svc *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, valid := paramID(c, "id")
		if !valid {
			return
		}
		var req struct {
			IsAvailable *bool `json:"is_available" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		if err := svc.Inventory.SetProductAvailability(c.Request.Context(), id, *req.IsAvailable); err != nil {
			writeError(c, err)
			return
		}
		ok(c, gin.H{"product_id": id, "is_available": *req.IsAvailable})
	}
}

// getInventory 查询库存及低库存/售罄标记。
func getInventory(svc *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, valid := paramID(c, "product_id")
		if !valid {
			return
		}
		inv, err := svc.Inventory.Get(c.Request.Context(), id)
		if err != nil {
			writeError(c, err)
			return
		}
		ok(c, gin.H{
			"inventory":    inv,
			"is_low_stock": inv.IsLowStock(),
			"out_of_stock": inv.IsOutOfStock(),
		})
	}
}

func listInventoryTransactions(svc *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, valid := paramID(c, "product_id")
		if !valid {
			return
		}
		entries, err := svc.Inventory.Transactions(c.Request.Context(), id)
		if err != nil {
			writeError(c, err)
			return
		}
		ok(c, entries)
	}
}

// reconcileInventory 用流水重放核对当前库存。
func reconcileInventory(svc *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, valid := paramID(c, "product_id")
		if !valid {
			return
		}
		check, err := svc.Inventory.Reconstruct(c.Request.Context(), id)
		if err != nil {
			writeError(c, err)
			return
		}
		ok(c, check)
	}
}

func createInventory(svc *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, valid := paramID(c, "product_id")
		if !valid {
			return
		}
		var req service.InventoryInput
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		inv, err := svc.Inventory.CreateInventory(c.Request.Context(), id, req)
		if err != nil {
			writeError(c, err)
			return
		}
		created(c, inv)
	}
}

// adjustInventory 手工调整库存：restock / adjustment / damaged。
func adjustInventory(svc *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, valid := paramID(c, "product_id")
		if !valid {
			return
		}
		var req struct {
			Type           string `json:"transaction_type" binding:"required"`
			QuantityChange int    `json:"quantity_change"`
			Notes          string `json:"notes" binding:"max=255"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		typ, known := model.ParseInventoryTxType(req.Type)
		if !known {
			badRequest(c, "transaction_type must be one of: restock, adjustment, damaged")
			return
		}
		inv, err := svc.Inventory.Adjust(c.Request.Context(), id, req.QuantityChange, typ, req.Notes)
		if err != nil {
			writeError(c, err)
			return
		}
		ok(c, inv)
	}
}

func createAddress(svc *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req service.AddressInput
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		addr, err := svc.Catalog.CreateAddress(c.Request.Context(), middleware.UserID(c), req)
		if err != nil {
			writeError(c, err)
			return
		}
		created(c, addr)
	}
}

// deleteAddress 被订单引用的地址返回 409。
func deleteAddress(svc *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, valid := paramID(c, "id")
		if !valid {
			return
		}
		if err := svc.Catalog.DeleteAddress(c.Request.Context(), middleware.UserID(c), id); err != nil {
			writeError(c, err)
			return
		}
		ok(c, gin.H{"deleted": id})
	}
}

func getCart(svc *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		view, err := svc.Cart.Get(c.Request.Context(), middleware.UserID(c))
		if err != nil {
			writeError(c, err)
			return
		}
		ok(c, view)
	}
}

func addCartItem(svc *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			ProductID uint `json:"product_id" binding:"required,min=1"`
			Quantity  int  `json:"quantity"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		if req.Quantity == 0 {
			req.Quantity = 1
		}
		item, err := svc.Cart.AddItem(c.Request.Context(), middleware.UserID(c), req.ProductID, req.Quantity)
		if err != nil {
			writeError(c, err)
			return
		}
		ok(c, item)
	}
}

func removeCartItem(svc *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, valid := paramID(c, "id")
		if !valid {
			return
		}
		if err := svc.Cart.RemoveItem(c.Request.Context(), middleware.UserID(c), id); err != nil {
			writeError(c, err)
			return
		}
		ok(c, gin.H{"deleted": id})
	}
}
