package repository

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/shop-session/internal/database"
)

// These tests talk to real MySQL and Redis instances.  They run only when
// INTEGRATION_TEST=true and the matching TEST_MYSQL_DSN / TEST_REDIS_ADDR
// variables are set.

func integrationDB(t *testing.T) *sql.DB {
	t.Helper()
	if os.Getenv("INTEGRATION_TEST") != "true" {
		t.Skip("skipping integration test; set INTEGRATION_TEST=true to run")
	}
	dsn := os.Getenv("TEST_MYSQL_DSN")
	if dsn == "" {
		t.Skip("TEST_MYSQL_DSN not set")
	}
	db, err := database.OpenDSN(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, database.Migrate(context.Background(), db))
	return db
}

func seedUser(t *testing.T, db *sql.DB) uint64 {
	t.Helper()
	u, err := NewUserRepo(db).Create(context.Background(),
		"it-"+uuid.NewString()[:8], "it@example.com", "secret-pw", 4)
	require.NoError(t, err)
	return u.ID
}

func seedProduct(t *testing.T, db *sql.DB, name string) uint64 {
	t.Helper()
	res, err := db.Exec("INSERT INTO products (name, price_cents) VALUES (?, ?)", name, 100)
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)
	return uint64(id)
}

func TestIntegration_UserRepo(t *testing.T) {
	db := integrationDB(t)
	ctx := context.Background()
	users := NewUserRepo(db)

	name := "alice-" + uuid.NewString()[:8]
	u, err := users.Create(ctx, name, "Alice@Example.com", "pw-one", 4)
	require.NoError(t, err)

	_, err = users.Create(ctx, name, "other@example.com", "pw-two", 4)
	assert.ErrorIs(t, err, ErrUsernameExists)

	got, ok, err := users.VerifyCredentials(ctx, name, "pw-one")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, u.ID, got.ID)

	_, ok, err = users.VerifyCredentials(ctx, name, "wrong")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = users.VerifyCredentials(ctx, "nobody-"+uuid.NewString(), "pw-one")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIntegration_TokenRepo(t *testing.T) {
	db := integrationDB(t)
	ctx := context.Background()
	tokens := NewTokenRepo(db)
	userID := seedUser(t, db)

	a, err := tokens.Create(ctx, userID, time.Now().Add(time.Hour))
	require.NoError(t, err)
	b, err := tokens.Create(ctx, userID, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.NotEqual(t, a.Raw, b.Raw)

	found, err := tokens.FindActive(ctx, a.Raw)
	require.NoError(t, err)
	assert.Equal(t, a.ID, found.ID)

	revoked, err := tokens.Revoke(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, revoked)
	revoked, err = tokens.Revoke(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, revoked)
	_, err = tokens.FindActive(ctx, a.Raw)
	assert.ErrorIs(t, err, sql.ErrNoRows)

	n, err := tokens.RevokeAllForUser(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	_, err = tokens.FindActive(ctx, b.Raw)
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestIntegration_ConcurrentAddItem(t *testing.T) {
	db := integrationDB(t)
	ctx := context.Background()
	carts := NewCartRepo(db)
	productID := seedProduct(t, db, "widget")

	cart, err := carts.GetOrCreateByAnonID(ctx, uuid.NewString())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := carts.AddItem(ctx, cart.ID, productID, 1)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	lines, err := carts.Lines(ctx, cart.ID)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, uint32(2), lines[0].Quantity)
}

func TestIntegration_ReduceItem(t *testing.T) {
	db := integrationDB(t)
	ctx := context.Background()
	carts := NewCartRepo(db)
	productID := seedProduct(t, db, "gadget")

	cart, err := carts.GetOrCreateByAnonID(ctx, uuid.NewString())
	require.NoError(t, err)
	line, err := carts.AddItem(ctx, cart.ID, productID, 2)
	require.NoError(t, err)

	got, err := carts.ReduceItem(ctx, cart.ID, line.ID)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), got.Quantity)

	got, err = carts.ReduceItem(ctx, cart.ID, line.ID)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), got.Quantity)

	_, err = carts.ReduceItem(ctx, cart.ID, line.ID)
	assert.ErrorIs(t, err, ErrLineNotFound)
}

func TestIntegration_MergeInTx(t *testing.T) {
	db := integrationDB(t)
	ctx := context.Background()
	carts := NewCartRepo(db)
	userID := seedUser(t, db)
	pa, pb, pc := seedProduct(t, db, "A"), seedProduct(t, db, "B"), seedProduct(t, db, "C")

	owned, err := carts.GetOrCreateByOwner(ctx, userID)
	require.NoError(t, err)
	anonID := uuid.NewString()
	anon, err := carts.GetOrCreateByAnonID(ctx, anonID)
	require.NoError(t, err)

	for _, add := range []struct {
		cart, product uint64
		qty           uint32
	}{{owned.ID, pa, 2}, {owned.ID, pb, 1}, {anon.ID, pb, 3}, {anon.ID, pc, 1}} {
		_, err := carts.AddItem(ctx, add.cart, add.product, add.qty)
		require.NoError(t, err)
	}

	err = carts.WithinTx(ctx, func(tx CartTx) error {
		a, err := tx.LockAnonymous(ctx, anonID)
		if err != nil {
			return err
		}
		o, err := tx.LockOwned(ctx, userID)
		if err != nil {
			return err
		}
		ownedLines, err := tx.LockLines(ctx, o.ID)
		if err != nil {
			return err
		}
		anonLines, err := tx.LockLines(ctx, a.ID)
		if err != nil {
			return err
		}
		byProduct := map[uint64]int{}
		for i, l := range ownedLines {
			byProduct[l.ProductID] = i
		}
		var move []uint64
		for _, l := range anonLines {
			if i, ok := byProduct[l.ProductID]; ok {
				ownedLines[i].Quantity += l.Quantity
				continue
			}
			move = append(move, l.ID)
		}
		if err := tx.SetQuantities(ctx, ownedLines); err != nil {
			return err
		}
		if err := tx.MoveLines(ctx, move, o.ID); err != nil {
			return err
		}
		return tx.DeleteCart(ctx, a.ID)
	})
	require.NoError(t, err)

	lines, err := carts.Lines(ctx, owned.ID)
	require.NoError(t, err)
	got := map[uint64]uint32{}
	for _, l := range lines {
		got[l.ProductID] = l.Quantity
	}
	assert.Equal(t, map[uint64]uint32{pa: 2, pb: 4, pc: 1}, got)

	err = carts.WithinTx(ctx, func(tx CartTx) error {
		_, err := tx.LockAnonymous(ctx, anonID)
		return err
	})
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestIntegration_RedisRevocationStore(t *testing.T) {
	if os.Getenv("INTEGRATION_TEST") != "true" {
		t.Skip("skipping integration test; set INTEGRATION_TEST=true to run")
	}
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = rdb.Close() })
	require.NoError(t, rdb.Ping(ctx).Err())

	s := NewRedisRevocationStore(rdb, fmt.Sprintf("revoked-test-%d", time.Now().UnixNano()))
	jti := uuid.NewString()

	revoked, err := s.IsRevoked(ctx, jti)
	require.NoError(t, err)
	assert.False(t, revoked)

	require.NoError(t, s.Revoke(ctx, jti, 2*time.Second))
	revoked, err = s.IsRevoked(ctx, jti)
	require.NoError(t, err)
	assert.True(t, revoked)

	ttl, err := rdb.TTL(ctx, s.key(jti)).Result()
	require.NoError(t, err)
	assert.LessOrEqual(t, ttl, 2*time.Second)

	require.NoError(t, s.Revoke(ctx, "already-expired", 0))
	revoked, err = s.IsRevoked(ctx, "already-expired")
	require.NoError(t, err)
	assert.False(t, revoked)
}
