package model

import (
    "fmt"
    "time"
)

type ownerKind uint8

const (
    ownerAnonymous ownerKind = iota + 1
    ownerUser
)

// CartOwner identifies who a cart belongs to.  It is either an
// authenticated user (one cart per user) or an anonymous identifier
// carried by the client in a cookie, never both.  The zero value is not a
// valid owner.
type CartOwner struct {
    kind   ownerKind
    userID uint64
    anonID string
}

// OwnedBy returns the owner for the cart of an authenticated user.
func OwnedBy(userID uint64) CartOwner {
    return CartOwner{kind: ownerUser, userID: userID}
}

// Anonymous returns the owner for a cookie-identified cart.
func Anonymous(anonID string) CartOwner {
    return CartOwner{kind: ownerAnonymous, anonID: anonID}
}

// UserID returns the owning user id when the cart belongs to a user.
func (o CartOwner) UserID() (uint64, bool) {
    return o.userID, o.kind == ownerUser
}

// AnonID returns the anonymous identifier when the cart is anonymous.
func (o CartOwner) AnonID() (string, bool) {
    return o.anonID, o.kind == ownerAnonymous
}

func (o CartOwner) IsAnonymous() bool { return o.kind == ownerAnonymous }

func (o CartOwner) Valid() bool {
    switch o.kind {
    case ownerUser:
        return o.userID != 0
    case ownerAnonymous:
        return o.anonID != ""
    }
    return false
}

func (o CartOwner) String() string {
    switch o.kind {
    case ownerUser:
        return fmt.Sprintf("user:%d", o.userID)
    case ownerAnonymous:
        return "anon:" + o.anonID
    }
    return "invalid"
}

// Cart represents a row in the `carts` table together with its lines
// when they have been loaded.
//
// Fields:
//  ID        – primary key identifier.
//  Owner     – user or anonymous identity of the cart.
//  CreatedAt – timestamp of creation.
//  Lines     – cart_items rows; nil unless explicitly loaded.
type Cart struct {
    ID        uint64     // carts.id
    Owner     CartOwner  // carts.user_id | carts.anon_id
    CreatedAt time.Time  // carts.created_at
    Lines     []CartLine // cart_items where cart_id = id
}

// CartLine models a row in the `cart_items` table.  The pair
// (CartID, ProductID) is unique and Quantity is always positive for a
// persisted line; a line that would drop to zero is deleted instead.
type CartLine struct {
    ID        uint64 // cart_items.id
    CartID    uint64 // cart_items.cart_id
    ProductID uint64 // cart_items.product_id
    Quantity  uint32 // cart_items.quantity
}
