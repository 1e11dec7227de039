package repository

import (
    "context"
    "database/sql"
    "errors"
    "strings"

    "github.com/iliyamo/shop-session/internal/model"
)

// CartTx is the set of locking operations the cart merge runs inside one
// transaction.  Every method must be called with the context the
// transaction was started with; cancelling it rolls everything back.
type CartTx interface {
    // LockAnonymous locks the anonymous cart with the given identifier.
    // It returns sql.ErrNoRows when the cart does not exist (anymore).
    LockAnonymous(ctx context.Context, anonID string) (model.Cart, error)
    // LockOwned gets or creates the user's cart and locks it.
    LockOwned(ctx context.Context, userID uint64) (model.Cart, error)
    // LockLines locks and returns all lines of a cart.
    LockLines(ctx context.Context, cartID uint64) ([]model.CartLine, error)
    // SetQuantities writes the Quantity of each line in one statement.
    SetQuantities(ctx context.Context, lines []model.CartLine) error
    // MoveLines re-points lines to another cart in one statement.
    MoveLines(ctx context.Context, lineIDs []uint64, toCartID uint64) error
    // DeleteCart removes a cart; its remaining lines cascade.
    DeleteCart(ctx context.Context, cartID uint64) error
}

// CartRepo provides data access to the carts and cart_items tables.
type CartRepo struct {
    db *sql.DB
}

// NewCartRepo returns a new CartRepo bound to the provided database.
func NewCartRepo(db *sql.DB) *CartRepo { return &CartRepo{db: db} }

const cartColumns = "id, user_id, anon_id, created_at"

type rowScanner interface {
    Scan(dest ...any) error
}

func scanCart(row rowScanner) (model.Cart, error) {
    var (
        c      model.Cart
        userID sql.NullInt64
        anonID sql.NullString
    )
    if err := row.Scan(&c.ID, &userID, &anonID, &c.CreatedAt); err != nil {
        return model.Cart{}, err
    }
    switch {
    case userID.Valid:
        c.Owner = model.OwnedBy(uint64(userID.Int64))
    case anonID.Valid:
        c.Owner = model.Anonymous(anonID.String)
    default:
        return model.Cart{}, errors.New("cart row has no owner")
    }
    return c, nil
}

// GetOrCreateByOwner returns the user's cart, creating it on first use.
// The unique key on user_id makes concurrent first calls converge on one
// row.
func (r *CartRepo) GetOrCreateByOwner(ctx context.Context, userID uint64) (model.Cart, error) {
    if _, err := r.db.ExecContext(ctx,
        "INSERT INTO carts (user_id) VALUES (?) ON DUPLICATE KEY UPDATE id = id", userID); err != nil {
        return model.Cart{}, err
    }
    return scanCart(r.db.QueryRowContext(ctx,
        "SELECT "+cartColumns+" FROM carts WHERE user_id = ?", userID))
}

// GetOrCreateByAnonID returns the anonymous cart with the given
// identifier, creating it when it does not exist.
func (r *CartRepo) GetOrCreateByAnonID(ctx context.Context, anonID string) (model.Cart, error) {
    if _, err := r.db.ExecContext(ctx,
        "INSERT INTO carts (anon_id) VALUES (?) ON DUPLICATE KEY UPDATE id = id", anonID); err != nil {
        return model.Cart{}, err
    }
    return scanCart(r.db.QueryRowContext(ctx,
        "SELECT "+cartColumns+" FROM carts WHERE anon_id = ?", anonID))
}

// Lines returns the lines of a cart ordered by insertion.
func (r *CartRepo) Lines(ctx context.Context, cartID uint64) ([]model.CartLine, error) {
    rows, err := r.db.QueryContext(ctx,
        "SELECT id, cart_id, product_id, quantity FROM cart_items WHERE cart_id = ? ORDER BY id", cartID)
    if err != nil {
        return nil, err
    }
    return scanLines(rows)
}

func scanLines(rows *sql.Rows) ([]model.CartLine, error) {
    defer rows.Close()
    var lines []model.CartLine
    for rows.Next() {
        var l model.CartLine
        if err := rows.Scan(&l.ID, &l.CartID, &l.ProductID, &l.Quantity); err != nil {
            return nil, err
        }
        lines = append(lines, l)
    }
    if err := rows.Err(); err != nil {
        return nil, err
    }
    return lines, nil
}

// AddItem adds qty of a product to a cart as a single atomic upsert, so
// concurrent adds of the same product never lose an increment.
func (r *CartRepo) AddItem(ctx context.Context, cartID, productID uint64, qty uint32) (model.CartLine, error) {
    if qty == 0 {
        qty = 1
    }
    if _, err := r.db.ExecContext(ctx,
        `INSERT INTO cart_items (cart_id, product_id, quantity) VALUES (?, ?, ?)
         ON DUPLICATE KEY UPDATE quantity = quantity + VALUES(quantity)`,
        cartID, productID, qty); err != nil {
        return model.CartLine{}, err
    }
    var l model.CartLine
    err := r.db.QueryRowContext(ctx,
        "SELECT id, cart_id, product_id, quantity FROM cart_items WHERE cart_id = ? AND product_id = ?",
        cartID, productID).Scan(&l.ID, &l.CartID, &l.ProductID, &l.Quantity)
    return l, err
}

// ReduceItem decrements a line of the given cart by one under a row lock.
// A line reaching zero is deleted and returned with Quantity 0.  A line
// that does not exist or belongs to another cart yields ErrLineNotFound.
func (r *CartRepo) ReduceItem(ctx context.Context, cartID, lineID uint64) (model.CartLine, error) {
    tx, err := r.db.BeginTx(ctx, nil)
    if err != nil {
        return model.CartLine{}, err
    }
    committed := false
    defer func() {
        if !committed {
            _ = tx.Rollback()
        }
    }()
    var l model.CartLine
    err = tx.QueryRowContext(ctx,
        "SELECT id, cart_id, product_id, quantity FROM cart_items WHERE id = ? AND cart_id = ? FOR UPDATE",
        lineID, cartID).Scan(&l.ID, &l.CartID, &l.ProductID, &l.Quantity)
    if errors.Is(err, sql.ErrNoRows) {
        return model.CartLine{}, ErrLineNotFound
    }
    if err != nil {
        return model.CartLine{}, err
    }
    if l.Quantity <= 1 {
        _, err = tx.ExecContext(ctx, "DELETE FROM cart_items WHERE id = ?", l.ID)
        l.Quantity = 0
    } else {
        _, err = tx.ExecContext(ctx, "UPDATE cart_items SET quantity = quantity - 1 WHERE id = ?", l.ID)
        l.Quantity--
    }
    if err != nil {
        return model.CartLine{}, err
    }
    if err := tx.Commit(); err != nil {
        return model.CartLine{}, err
    }
    committed = true
    return l, nil
}

// Clear removes every line of a cart.  The cart itself stays.
func (r *CartRepo) Clear(ctx context.Context, cartID uint64) error {
    _, err := r.db.ExecContext(ctx, "DELETE FROM cart_items WHERE cart_id = ?", cartID)
    return err
}

// WithinTx runs fn inside a transaction and commits when fn returns nil.
// Any error, panic or context cancellation rolls back.
func (r *CartRepo) WithinTx(ctx context.Context, fn func(tx CartTx) error) error {
    tx, err := r.db.BeginTx(ctx, nil)
    if err != nil {
        return err
    }
    committed := false
    defer func() {
        if !committed {
            _ = tx.Rollback()
        }
    }()
    if err := fn(&cartTx{tx: tx}); err != nil {
        return err
    }
    if err := tx.Commit(); err != nil {
        return err
    }
    committed = true
    return nil
}

type cartTx struct {
    tx *sql.Tx
}

func (t *cartTx) LockAnonymous(ctx context.Context, anonID string) (model.Cart, error) {
    return scanCart(t.tx.QueryRowContext(ctx,
        "SELECT "+cartColumns+" FROM carts WHERE anon_id = ? FOR UPDATE", anonID))
}

func (t *cartTx) LockOwned(ctx context.Context, userID uint64) (model.Cart, error) {
    if _, err := t.tx.ExecContext(ctx,
        "INSERT INTO carts (user_id) VALUES (?) ON DUPLICATE KEY UPDATE id = id", userID); err != nil {
        return model.Cart{}, err
    }
    return scanCart(t.tx.QueryRowContext(ctx,
        "SELECT "+cartColumns+" FROM carts WHERE user_id = ? FOR UPDATE", userID))
}

func (t *cartTx) LockLines(ctx context.Context, cartID uint64) ([]model.CartLine, error) {
    rows, err := t.tx.QueryContext(ctx,
        "SELECT id, cart_id, product_id, quantity FROM cart_items WHERE cart_id = ? ORDER BY id FOR UPDATE", cartID)
    if err != nil {
        return nil, err
    }
    return scanLines(rows)
}

func (t *cartTx) SetQuantities(ctx context.Context, lines []model.CartLine) error {
    if len(lines) == 0 {
        return nil
    }
    var b strings.Builder
    b.WriteString("UPDATE cart_items SET quantity = CASE id")
    args := make([]any, 0, len(lines)*3)
    for _, l := range lines {
        b.WriteString(" WHEN ? THEN ?")
        args = append(args, l.ID, l.Quantity)
    }
    b.WriteString(" END WHERE id IN (" + placeholders(len(lines)) + ")")
    for _, l := range lines {
        args = append(args, l.ID)
    }
    _, err := t.tx.ExecContext(ctx, b.String(), args...)
    return err
}

func (t *cartTx) MoveLines(ctx context.Context, lineIDs []uint64, toCartID uint64) error {
    if len(lineIDs) == 0 {
        return nil
    }
    args := make([]any, 0, len(lineIDs)+1)
    args = append(args, toCartID)
    for _, id := range lineIDs {
        args = append(args, id)
    }
    _, err := t.tx.ExecContext(ctx,
        "UPDATE cart_items SET cart_id = ? WHERE id IN ("+placeholders(len(lineIDs))+")", args...)
    return err
}

func (t *cartTx) DeleteCart(ctx context.Context, cartID uint64) error {
    _, err := t.tx.ExecContext(ctx, "DELETE FROM carts WHERE id = ?", cartID)
    return err
}

// placeholders returns "?, ?, ..." with n entries.
func placeholders(n int) string {
    if n <= 0 {
        return ""
    }
    return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
