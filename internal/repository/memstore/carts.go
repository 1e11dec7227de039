package memstore

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/iliyamo/shop-session/internal/model"
	"github.com/iliyamo/shop-session/internal/repository"
)

type cartState struct {
	nextCartID uint64
	nextLineID uint64
	carts      map[uint64]model.Cart
	lines      map[uint64]model.CartLine
}

func (st *cartState) clone() *cartState {
	out := &cartState{
		nextCartID: st.nextCartID,
		nextLineID: st.nextLineID,
		carts:      make(map[uint64]model.Cart, len(st.carts)),
		lines:      make(map[uint64]model.CartLine, len(st.lines)),
	}
	for k, v := range st.carts {
		out.carts[k] = v
	}
	for k, v := range st.lines {
		out.lines[k] = v
	}
	return out
}

func (st *cartState) find(match func(model.CartOwner) bool) (model.Cart, bool) {
	for _, c := range st.carts {
		if match(c.Owner) {
			return c, true
		}
	}
	return model.Cart{}, false
}

func (st *cartState) getOrCreate(owner model.CartOwner) model.Cart {
	if c, ok := st.find(func(o model.CartOwner) bool { return o == owner }); ok {
		return c
	}
	st.nextCartID++
	c := model.Cart{ID: st.nextCartID, Owner: owner, CreatedAt: time.Now().UTC()}
	st.carts[c.ID] = c
	return c
}

func (st *cartState) linesOf(cartID uint64) []model.CartLine {
	var out []model.CartLine
	for _, l := range st.lines {
		if l.CartID == cartID {
			out = append(out, l)
		}
	}
	sortLines(out)
	return out
}

func (st *cartState) deleteCart(cartID uint64) {
	delete(st.carts, cartID)
	for id, l := range st.lines {
		if l.CartID == cartID {
			delete(st.lines, id)
		}
	}
}

// Carts is an in-memory cart store.  Transactions run serially against a
// copy of the state that replaces the live state only on success.
type Carts struct {
	mu    sync.Mutex
	state *cartState
}

func NewCarts() *Carts {
	return &Carts{state: &cartState{
		carts: make(map[uint64]model.Cart),
		lines: make(map[uint64]model.CartLine),
	}}
}

func (s *Carts) GetOrCreateByOwner(_ context.Context, userID uint64) (model.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.getOrCreate(model.OwnedBy(userID)), nil
}

func (s *Carts) GetOrCreateByAnonID(_ context.Context, anonID string) (model.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.getOrCreate(model.Anonymous(anonID)), nil
}

func (s *Carts) Lines(_ context.Context, cartID uint64) ([]model.CartLine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.linesOf(cartID), nil
}

func (s *Carts) AddItem(_ context.Context, cartID, productID uint64, qty uint32) (model.CartLine, error) {
	if qty == 0 {
		qty = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.state.carts[cartID]; !ok {
		return model.CartLine{}, sql.ErrNoRows
	}
	for id, l := range s.state.lines {
		if l.CartID == cartID && l.ProductID == productID {
			l.Quantity += qty
			s.state.lines[id] = l
			return l, nil
		}
	}
	s.state.nextLineID++
	l := model.CartLine{ID: s.state.nextLineID, CartID: cartID, ProductID: productID, Quantity: qty}
	s.state.lines[l.ID] = l
	return l, nil
}

func (s *Carts) ReduceItem(_ context.Context, cartID, lineID uint64) (model.CartLine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.state.lines[lineID]
	if !ok || l.CartID != cartID {
		return model.CartLine{}, repository.ErrLineNotFound
	}
	if l.Quantity <= 1 {
		delete(s.state.lines, lineID)
		l.Quantity = 0
		return l, nil
	}
	l.Quantity--
	s.state.lines[lineID] = l
	return l, nil
}

func (s *Carts) Clear(_ context.Context, cartID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, l := range s.state.lines {
		if l.CartID == cartID {
			delete(s.state.lines, id)
		}
	}
	return nil
}

func (s *Carts) WithinTx(ctx context.Context, fn func(tx repository.CartTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	work := s.state.clone()
	if err := fn(&cartTx{st: work}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.state = work
	return nil
}

// AnonExists reports whether an anonymous cart with the id is present.
func (s *Carts) AnonExists(anonID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.state.find(func(o model.CartOwner) bool { return o == model.Anonymous(anonID) })
	return ok
}

type cartTx struct {
	st *cartState
}

func (t *cartTx) LockAnonymous(ctx context.Context, anonID string) (model.Cart, error) {
	if err := ctx.Err(); err != nil {
		return model.Cart{}, err
	}
	c, ok := t.st.find(func(o model.CartOwner) bool { return o == model.Anonymous(anonID) })
	if !ok {
		return model.Cart{}, sql.ErrNoRows
	}
	return c, nil
}

func (t *cartTx) LockOwned(ctx context.Context, userID uint64) (model.Cart, error) {
	if err := ctx.Err(); err != nil {
		return model.Cart{}, err
	}
	return t.st.getOrCreate(model.OwnedBy(userID)), nil
}

func (t *cartTx) LockLines(ctx context.Context, cartID uint64) ([]model.CartLine, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return t.st.linesOf(cartID), nil
}

func (t *cartTx) SetQuantities(ctx context.Context, lines []model.CartLine) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, l := range lines {
		cur, ok := t.st.lines[l.ID]
		if !ok {
			return sql.ErrNoRows
		}
		cur.Quantity = l.Quantity
		t.st.lines[l.ID] = cur
	}
	return nil
}

func (t *cartTx) MoveLines(ctx context.Context, lineIDs []uint64, toCartID uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, id := range lineIDs {
		l, ok := t.st.lines[id]
		if !ok {
			return sql.ErrNoRows
		}
		l.CartID = toCartID
		t.st.lines[id] = l
	}
	return nil
}

func (t *cartTx) DeleteCart(ctx context.Context, cartID uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.st.deleteCart(cartID)
	return nil
}
