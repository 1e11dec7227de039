package handler

import (
    "context"
    "net/http"
    "strconv"
    "time"

    "github.com/labstack/echo/v4"
    "go.uber.org/zap"

    "github.com/iliyamo/shop-session/internal/middleware"
    "github.com/iliyamo/shop-session/internal/model"
    "github.com/iliyamo/shop-session/internal/service"
)

// CartHandler serves the cart of the current request, as resolved by the
// CartSession middleware.
type CartHandler struct {
    Carts *service.CartService
    Log   *zap.Logger
}

func NewCartHandler(carts *service.CartService, log *zap.Logger) *CartHandler {
    if log == nil {
        log = zap.NewNop()
    }
    return &CartHandler{Carts: carts, Log: log}
}

type addItemReq struct {
    ProductID uint64 `json:"product_id"`
}

type lineResp struct {
    LineID    uint64 `json:"line_id"`
    ProductID uint64 `json:"product_id"`
    Quantity  uint32 `json:"quantity"`
    Removed   bool   `json:"removed,omitempty"`
}

func toLineResp(l model.CartLine) lineResp {
    return lineResp{LineID: l.ID, ProductID: l.ProductID, Quantity: l.Quantity, Removed: l.Quantity == 0}
}

func (h *CartHandler) cart(c echo.Context) (model.Cart, error) {
    cart, ok := middleware.CurrentCart(c)
    if !ok {
        return model.Cart{}, service.ErrCartNotFound
    }
    return cart, nil
}

// View: lines with prices and the cart total.
func (h *CartHandler) View(c echo.Context) error {
    cart, err := h.cart(c)
    if err != nil {
        return writeError(c, h.Log, err)
    }
    ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
    defer cancel()

    view, err := h.Carts.View(ctx, cart)
    if err != nil {
        return writeError(c, h.Log, err)
    }
    return c.JSON(http.StatusOK, view)
}

// Clear: remove every line.
func (h *CartHandler) Clear(c echo.Context) error {
    cart, err := h.cart(c)
    if err != nil {
        return writeError(c, h.Log, err)
    }
    ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
    defer cancel()

    if err := h.Carts.Clear(ctx, cart); err != nil {
        return writeError(c, h.Log, err)
    }
    return c.NoContent(http.StatusNoContent)
}

// AddItem: one more unit of a product.
func (h *CartHandler) AddItem(c echo.Context) error {
    var req addItemReq
    if err := c.Bind(&req); err != nil || req.ProductID == 0 {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "product_id required"})
    }
    cart, err := h.cart(c)
    if err != nil {
        return writeError(c, h.Log, err)
    }
    ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
    defer cancel()

    line, err := h.Carts.AddItem(ctx, cart, req.ProductID)
    if err != nil {
        return writeError(c, h.Log, err)
    }
    return c.JSON(http.StatusCreated, toLineResp(line))
}

// ReduceItem: one unit less of a line; the line goes away at zero.
func (h *CartHandler) ReduceItem(c echo.Context) error {
    lineID, err := strconv.ParseUint(c.Param("id"), 10, 64)
    if err != nil || lineID == 0 {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid line id"})
    }
    cart, err := h.cart(c)
    if err != nil {
        return writeError(c, h.Log, err)
    }
    ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
    defer cancel()

    line, err := h.Carts.ReduceItem(ctx, cart, lineID)
    if err != nil {
        return writeError(c, h.Log, err)
    }
    return c.JSON(http.StatusOK, toLineResp(line))
}
