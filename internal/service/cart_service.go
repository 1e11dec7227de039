package service

import (
    "context"
    "database/sql"
    "errors"
    "fmt"
    "math"
    "time"

    "github.com/google/uuid"
    "go.uber.org/zap"

    "github.com/iliyamo/shop-session/internal/model"
    "github.com/iliyamo/shop-session/internal/queue"
    "github.com/iliyamo/shop-session/internal/repository"
)

// CartStore is the cart persistence the cart service needs.
type CartStore interface {
    GetOrCreateByOwner(ctx context.Context, userID uint64) (model.Cart, error)
    GetOrCreateByAnonID(ctx context.Context, anonID string) (model.Cart, error)
    Lines(ctx context.Context, cartID uint64) ([]model.CartLine, error)
    AddItem(ctx context.Context, cartID, productID uint64, qty uint32) (model.CartLine, error)
    ReduceItem(ctx context.Context, cartID, lineID uint64) (model.CartLine, error)
    Clear(ctx context.Context, cartID uint64) error
    WithinTx(ctx context.Context, fn func(tx repository.CartTx) error) error
}

// ProductCatalog answers product lookups for cart operations.
type ProductCatalog interface {
    Exists(ctx context.Context, id uint64) (bool, error)
    ByIDs(ctx context.Context, ids []uint64) (map[uint64]model.Product, error)
}

// Actor is whoever is making a cart request: an authenticated user, or an
// anonymous visitor identified (maybe) by the cart cookie.
type Actor struct {
    User       *model.User
    AnonCartID string
}

// Resolution is the cart an actor operates on.  IssuedAnonID is set when
// a new anonymous identifier was minted and must be handed to the client.
type Resolution struct {
    Cart         model.Cart
    IssuedAnonID string
}

// MergeResult reports what a merge did.  Merged is false when there was no
// anonymous cart to fold in.
type MergeResult struct {
    Merged bool
    CartID uint64
    Moved  int
    Summed int
}

// CartItemView is one priced cart line.
type CartItemView struct {
    LineID        uint64 `json:"line_id"`
    ProductID     uint64 `json:"product_id"`
    Name          string `json:"name"`
    Quantity      uint32 `json:"quantity"`
    PriceCents    uint32 `json:"price_cents"`
    SubtotalCents uint64 `json:"subtotal_cents"`
}

// CartView is a cart with its lines priced from the catalog.
type CartView struct {
    CartID     uint64         `json:"cart_id"`
    Items      []CartItemView `json:"items"`
    TotalCents uint64         `json:"total_cents"`
}

// CartService resolves, mutates and merges carts.
type CartService struct {
    carts    CartStore
    products ProductCatalog
    events   EventPublisher
    log      *zap.Logger
    now      func() time.Time
}

// NewCartService returns a CartService.  events and log may be nil.
func NewCartService(carts CartStore, products ProductCatalog, events EventPublisher, log *zap.Logger) *CartService {
    if events == nil {
        events = queue.Discard{}
    }
    if log == nil {
        log = zap.NewNop()
    }
    return &CartService{carts: carts, products: products, events: events, log: log.Named("cart"), now: time.Now}
}

// NormalizeAnonID returns the canonical form of a cart cookie value, or
// "" when it is not a UUID.
func NormalizeAnonID(v string) string {
    id, err := uuid.Parse(v)
    if err != nil {
        return ""
    }
    return id.String()
}

// Resolve returns the cart of an actor.  An authenticated actor always
// gets their own cart; an anonymous one without a usable cookie gets a
// fresh anonymous cart.
func (s *CartService) Resolve(ctx context.Context, a Actor) (Resolution, error) {
    if a.User != nil {
        c, err := s.carts.GetOrCreateByOwner(ctx, a.User.ID)
        if err != nil {
            return Resolution{}, fmt.Errorf("get owned cart: %w", err)
        }
        return Resolution{Cart: c}, nil
    }

    var res Resolution
    anonID := NormalizeAnonID(a.AnonCartID)
    if anonID == "" {
        anonID = uuid.NewString()
        res.IssuedAnonID = anonID
    }
    c, err := s.carts.GetOrCreateByAnonID(ctx, anonID)
    if err != nil {
        return Resolution{}, fmt.Errorf("get anonymous cart: %w", err)
    }
    res.Cart = c
    return res, nil
}

// Merge folds the anonymous cart anonID into the cart of userID inside one
// transaction.  Quantities of products present in both are summed, the
// other lines are moved, and the anonymous cart is deleted.  A cart that
// no longer exists (already merged, never created) is a successful no-op.
func (s *CartService) Merge(ctx context.Context, userID uint64, anonID string) (MergeResult, error) {
    anonID = NormalizeAnonID(anonID)
    if anonID == "" {
        return MergeResult{}, nil
    }

    var res MergeResult
    err := s.carts.WithinTx(ctx, func(tx repository.CartTx) error {
        anon, err := tx.LockAnonymous(ctx, anonID)
        if errors.Is(err, sql.ErrNoRows) {
            return ErrCartNotFound
        }
        if err != nil {
            return fmt.Errorf("lock anonymous cart: %w", err)
        }
        owned, err := tx.LockOwned(ctx, userID)
        if err != nil {
            return fmt.Errorf("lock owned cart: %w", err)
        }
        ownedLines, err := tx.LockLines(ctx, owned.ID)
        if err != nil {
            return fmt.Errorf("lock owned lines: %w", err)
        }
        anonLines, err := tx.LockLines(ctx, anon.ID)
        if err != nil {
            return fmt.Errorf("lock anonymous lines: %w", err)
        }

        summed, moved := planMerge(ownedLines, anonLines)
        if err := tx.SetQuantities(ctx, summed); err != nil {
            return fmt.Errorf("sum quantities: %w", err)
        }
        if err := tx.MoveLines(ctx, moved, owned.ID); err != nil {
            return fmt.Errorf("move lines: %w", err)
        }
        if err := tx.DeleteCart(ctx, anon.ID); err != nil {
            return fmt.Errorf("delete anonymous cart: %w", err)
        }
        res = MergeResult{Merged: true, CartID: owned.ID, Moved: len(moved), Summed: len(summed)}
        return nil
    })
    if errors.Is(err, ErrCartNotFound) {
        return MergeResult{}, nil
    }
    if err != nil {
        return MergeResult{}, err
    }

    s.log.Info("cart merged",
        zap.Uint64("user_id", userID),
        zap.Uint64("cart_id", res.CartID),
        zap.Int("moved", res.Moved),
        zap.Int("summed", res.Summed))
    ev := queue.CartMergedEvent{
        UserID:      userID,
        AnonCartID:  anonID,
        CartID:      res.CartID,
        LinesMoved:  res.Moved,
        LinesSummed: res.Summed,
        MergedAt:    s.now().UTC().Format(time.RFC3339),
    }
    if err := s.events.Publish(ctx, queue.CartEventsQueue, ev); err != nil {
        s.log.Warn("cart event not published", zap.Error(err))
    }
    return res, nil
}

// planMerge returns the owned lines whose quantity grows and the ids of
// anonymous lines to re-point at the owned cart.  Summed quantities
// saturate at math.MaxUint32.
func planMerge(owned, anon []model.CartLine) (summed []model.CartLine, moved []uint64) {
    byProduct := make(map[uint64]int, len(owned))
    for i, l := range owned {
        byProduct[l.ProductID] = i
    }
    for _, l := range anon {
        i, ok := byProduct[l.ProductID]
        if !ok {
            moved = append(moved, l.ID)
            continue
        }
        owned[i].Quantity = addQuantity(owned[i].Quantity, l.Quantity)
        summed = append(summed, owned[i])
    }
    return summed, moved
}

func addQuantity(a, b uint32) uint32 {
    if a > math.MaxUint32-b {
        return math.MaxUint32
    }
    return a + b
}

// View returns the cart's lines priced from the catalog.
func (s *CartService) View(ctx context.Context, cart model.Cart) (CartView, error) {
    lines, err := s.carts.Lines(ctx, cart.ID)
    if err != nil {
        return CartView{}, fmt.Errorf("load lines: %w", err)
    }
    ids := make([]uint64, 0, len(lines))
    for _, l := range lines {
        ids = append(ids, l.ProductID)
    }
    products, err := s.products.ByIDs(ctx, ids)
    if err != nil {
        return CartView{}, fmt.Errorf("load products: %w", err)
    }

    view := CartView{CartID: cart.ID, Items: make([]CartItemView, 0, len(lines))}
    for _, l := range lines {
        p := products[l.ProductID]
        item := CartItemView{
            LineID:        l.ID,
            ProductID:     l.ProductID,
            Name:          p.Name,
            Quantity:      l.Quantity,
            PriceCents:    p.PriceCents,
            SubtotalCents: uint64(p.PriceCents) * uint64(l.Quantity),
        }
        view.TotalCents += item.SubtotalCents
        view.Items = append(view.Items, item)
    }
    return view, nil
}

// AddItem puts one more unit of productID in the cart.
func (s *CartService) AddItem(ctx context.Context, cart model.Cart, productID uint64) (model.CartLine, error) {
    ok, err := s.products.Exists(ctx, productID)
    if err != nil {
        return model.CartLine{}, fmt.Errorf("check product: %w", err)
    }
    if !ok {
        return model.CartLine{}, ErrProductNotFound
    }
    line, err := s.carts.AddItem(ctx, cart.ID, productID, 1)
    if err != nil {
        return model.CartLine{}, fmt.Errorf("add item: %w", err)
    }
    return line, nil
}

// ReduceItem removes one unit from a line of the cart.  The returned line
// has Quantity 0 when it was deleted.
func (s *CartService) ReduceItem(ctx context.Context, cart model.Cart, lineID uint64) (model.CartLine, error) {
    line, err := s.carts.ReduceItem(ctx, cart.ID, lineID)
    if errors.Is(err, repository.ErrLineNotFound) {
        return model.CartLine{}, ErrLineNotFound
    }
    if err != nil {
        return model.CartLine{}, fmt.Errorf("reduce item: %w", err)
    }
    return line, nil
}

// Clear empties the cart.
func (s *CartService) Clear(ctx context.Context, cart model.Cart) error {
    if err := s.carts.Clear(ctx, cart.ID); err != nil {
        return fmt.Errorf("clear cart: %w", err)
    }
    return nil
}
