package model

// Product is the read-only view of a catalog row that the cart needs.
// The catalog itself is maintained elsewhere.
type Product struct {
    ID         uint64 // products.id
    Name       string // products.name
    PriceCents uint32 // products.price_cents
}
