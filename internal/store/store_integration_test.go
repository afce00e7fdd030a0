package store_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/safar/go-cart-store/internal/database"
	"github.com/safar/go-cart-store/internal/models"
	"github.com/safar/go-cart-store/internal/store"
	"github.com/safar/go-cart-store/internal/testutil/pgtest"
	"github.com/shopspring/decimal"
)

func inTx(t *testing.T, db *sql.DB, fn func(tx *sql.Tx) error) error {
	t.Helper()
	return database.WithTransaction(context.Background(), db, database.DefaultTxOptions(), fn)
}

func createProduct(t *testing.T, q store.Querier, name string, quantity int) *models.Product {
	t.Helper()
	product, err := store.CreateProduct(context.Background(), q, store.CreateProductRequest{
		Name:              name,
		UnitPrice:         decimal.NewFromInt(100),
		AvailableQuantity: quantity,
	})
	if err != nil {
		t.Fatalf("Create product: %v", err)
	}
	return product
}

func createUser(t *testing.T, q store.Querier, email string) *models.User {
	t.Helper()
	user, err := store.CreateUser(context.Background(), q, email, "Test User", "not-a-real-hash")
	if err != nil {
		t.Fatalf("Create user: %v", err)
	}
	return user
}

func TestProductLifecycle(t *testing.T) {
	db := pgtest.New(t)
	ctx := context.Background()

	product, err := store.CreateProduct(ctx, db, store.CreateProductRequest{
		Name:              "Espresso Beans",
		UnitPrice:         decimal.RequireFromString("12.50"),
		PackPrice:         decimal.NewNullDecimal(decimal.RequireFromString("60.00")),
		AvailableQuantity: 40,
	})
	if err != nil {
		t.Fatalf("Create product: %v", err)
	}

	got, err := store.GetProduct(ctx, db, product.ID)
	if err != nil {
		t.Fatalf("Get product: %v", err)
	}
	if !got.UnitPrice.Equal(decimal.RequireFromString("12.50")) {
		t.Errorf("Expected unit price 12.50, got %s", got.UnitPrice)
	}
	if !got.PackPrice.Valid || !got.PackPrice.Decimal.Equal(decimal.NewFromInt(60)) {
		t.Errorf("Expected pack price 60, got %v", got.PackPrice)
	}

	name := "Decaf Beans"
	updated, err := store.UpdateProduct(ctx, db, product.ID, store.UpdateProductRequest{Name: &name})
	if err != nil {
		t.Fatalf("Update product: %v", err)
	}
	if updated.Name != name || updated.AvailableQuantity != 40 {
		t.Errorf("Partial update changed the wrong fields: %+v", updated)
	}

	page, err := store.ListProducts(ctx, db, "decaf", 1, 10)
	if err != nil {
		t.Fatalf("List products: %v", err)
	}
	if page.Total != 1 {
		t.Errorf("Expected 1 matching product, got %d", page.Total)
	}

	if _, err := store.DeleteProduct(ctx, db, product.ID); err != nil {
		t.Fatalf("Delete product: %v", err)
	}
	if _, err := store.GetProduct(ctx, db, product.ID); !errors.Is(err, database.ErrProductNotFound) {
		t.Errorf("Expected ErrProductNotFound after delete, got %v", err)
	}
}

func TestNegativeStockIsRejected(t *testing.T) {
	db := pgtest.New(t)

	product := createProduct(t, db, "Widget", 5)

	negative := -1
	_, err := store.UpdateProduct(context.Background(), db, product.ID, store.UpdateProductRequest{AvailableQuantity: &negative})

	var dbErr *database.DBError
	if !errors.As(err, &dbErr) {
		t.Fatalf("Expected DBError, got %v", err)
	}
	if dbErr.Code != "23514" || dbErr.Fields[0].Field != "products_available_quantity_check" {
		t.Errorf("Unexpected diagnostics: %+v", dbErr.Fields)
	}
}

func TestDuplicateEmail(t *testing.T) {
	db := pgtest.New(t)

	createUser(t, db, "dup@example.com")
	_, err := store.CreateUser(context.Background(), db, "dup@example.com", "Other", "x")

	var dbErr *database.DBError
	if !errors.As(err, &dbErr) || dbErr.Code != "23505" {
		t.Fatalf("Expected unique violation, got %v", err)
	}
}

func TestStockLedger(t *testing.T) {
	db := pgtest.New(t)
	ctx := context.Background()
	ledger := store.NewStockLedger(nil)

	product := createProduct(t, db, "Widget", 10)

	err := inTx(t, db, func(tx *sql.Tx) error {
		return ledger.TryReserve(ctx, tx, product.ID, 7)
	})
	if err != nil {
		t.Fatalf("Reserve 7: %v", err)
	}

	err = inTx(t, db, func(tx *sql.Tx) error {
		return ledger.TryReserve(ctx, tx, product.ID, 5)
	})
	if !errors.Is(err, database.ErrInsufficientStock) {
		t.Errorf("Expected ErrInsufficientStock, got %v", err)
	}

	err = inTx(t, db, func(tx *sql.Tx) error {
		return ledger.TryReserve(ctx, tx, uuid.New(), 1)
	})
	if !errors.Is(err, database.ErrProductNotFound) {
		t.Errorf("Expected ErrProductNotFound, got %v", err)
	}

	err = inTx(t, db, func(tx *sql.Tx) error {
		return ledger.Release(ctx, tx, product.ID, 2)
	})
	if err != nil {
		t.Fatalf("Release: %v", err)
	}

	after, err := store.GetProduct(ctx, db, product.ID)
	if err != nil {
		t.Fatalf("Get product: %v", err)
	}
	if after.AvailableQuantity != 5 {
		t.Errorf("Expected stock 5, got %d", after.AvailableQuantity)
	}
}

func TestCartLines(t *testing.T) {
	db := pgtest.New(t)
	ctx := context.Background()
	carts := store.NewCartRepository(nil)
	lines := store.NewLineRepository(nil)

	user := createUser(t, db, "lines@example.com")
	p1 := createProduct(t, db, "A", 10)
	p2 := createProduct(t, db, "B", 10)

	cart, created, err := carts.GetOrCreateOpen(ctx, db, user.ID)
	if err != nil || !created {
		t.Fatalf("Create cart: created=%v err=%v", created, err)
	}

	err = inTx(t, db, func(tx *sql.Tx) error {
		if _, err := lines.Insert(ctx, tx, models.CartLine{CartID: cart.ID, ProductID: p1.ID, Quantity: 2, UnitAmount: decimal.RequireFromString("1.50")}); err != nil {
			return err
		}
		_, err := lines.Insert(ctx, tx, models.CartLine{CartID: cart.ID, ProductID: p2.ID, Quantity: 1, UnitAmount: decimal.NewFromInt(4)})
		return err
	})
	if err != nil {
		t.Fatalf("Insert lines: %v", err)
	}

	err = inTx(t, db, func(tx *sql.Tx) error {
		_, err := lines.Insert(ctx, tx, models.CartLine{CartID: cart.ID, ProductID: p1.ID, Quantity: 1, UnitAmount: decimal.NewFromInt(1)})
		return err
	})
	if !errors.Is(err, database.ErrLineConflict) {
		t.Errorf("Expected ErrLineConflict on duplicate insert, got %v", err)
	}

	err = inTx(t, db, func(tx *sql.Tx) error {
		line, err := lines.LockLine(ctx, tx, cart.ID, p1.ID)
		if err != nil {
			return err
		}
		if line == nil {
			return errors.New("expected a locked line")
		}
		if line.Quantity != 2 {
			t.Errorf("Expected locked line with quantity 2, got %d", line.Quantity)
		}
		if !line.LineTotal.Equal(decimal.NewFromInt(3)) {
			t.Errorf("Expected generated line total 3, got %s", line.LineTotal)
		}

		missing, err := lines.LockLine(ctx, tx, cart.ID, uuid.New())
		if err != nil || missing != nil {
			t.Errorf("Expected no line, got %+v err=%v", missing, err)
		}

		quantities, err := lines.LockLinesByCartAndProducts(ctx, tx, cart.ID, []uuid.UUID{p1.ID, p2.ID, uuid.New()})
		if err != nil {
			return err
		}
		if len(quantities) != 2 || quantities[p1.ID] != 2 || quantities[p2.ID] != 1 {
			t.Errorf("Unexpected locked quantities: %v", quantities)
		}

		if _, err := lines.Upsert(ctx, tx, models.CartLine{CartID: cart.ID, ProductID: p1.ID, Quantity: 6, UnitAmount: decimal.NewFromInt(1)}); err != nil {
			return err
		}

		n, err := lines.DeleteLines(ctx, tx, cart.ID, []uuid.UUID{p2.ID})
		if err != nil {
			return err
		}
		if n != 1 {
			t.Errorf("Expected 1 deleted line, got %d", n)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Line operations: %v", err)
	}

	total, err := carts.Total(ctx, db, cart.ID)
	if err != nil {
		t.Fatalf("Total: %v", err)
	}
	if !total.Equal(decimal.NewFromInt(6)) {
		t.Errorf("Expected total 6, got %s", total)
	}

	err = inTx(t, db, func(tx *sql.Tx) error {
		return lines.Delete(ctx, tx, cart.ID, p2.ID)
	})
	if !errors.Is(err, database.ErrItemNotFound) {
		t.Errorf("Expected ErrItemNotFound, got %v", err)
	}
}

func TestOneOpenCartPerOwner(t *testing.T) {
	db := pgtest.New(t)
	ctx := context.Background()
	carts := store.NewCartRepository(nil)

	user := createUser(t, db, "open@example.com")

	first, created, err := carts.GetOrCreateOpen(ctx, db, user.ID)
	if err != nil || !created {
		t.Fatalf("Create cart: created=%v err=%v", created, err)
	}
	again, created, err := carts.GetOrCreateOpen(ctx, db, user.ID)
	if err != nil || created {
		t.Fatalf("Get cart: created=%v err=%v", created, err)
	}
	if first.ID != again.ID {
		t.Errorf("Expected the same open cart, got %s and %s", first.ID, again.ID)
	}

	err = inTx(t, db, func(tx *sql.Tx) error {
		_, err := carts.SetStatus(ctx, tx, first.ID, models.CartStatusPaid, decimal.Zero)
		return err
	})
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}

	next, created, err := carts.GetOrCreateOpen(ctx, db, user.ID)
	if err != nil || !created {
		t.Fatalf("Create second cart: created=%v err=%v", created, err)
	}
	if next.ID == first.ID {
		t.Error("Expected a new cart after checkout")
	}

	if _, _, err := carts.GetOrCreateOpen(ctx, db, uuid.New()); !errors.Is(err, database.ErrUserNotFound) {
		t.Errorf("Expected ErrUserNotFound for unknown owner, got %v", err)
	}

	page, err := carts.ListByOwner(ctx, db, user.ID, "", 1)
	if err != nil {
		t.Fatalf("List carts: %v", err)
	}
	if !page.HasMore || page.NextCursor == "" {
		t.Fatalf("Expected a second page, got %+v", page)
	}
	rest, err := carts.ListByOwner(ctx, db, user.ID, page.NextCursor, 10)
	if err != nil {
		t.Fatalf("List carts page 2: %v", err)
	}
	if got := len(rest.Items.([]models.Cart)); got != 1 || rest.HasMore {
		t.Errorf("Expected 1 remaining cart, got %d (has_more=%v)", got, rest.HasMore)
	}
}

func TestCartLockWaitsForCheckout(t *testing.T) {
	db := pgtest.New(t)
	ctx := context.Background()
	carts := store.NewCartRepository(nil)

	user := createUser(t, db, "lock@example.com")
	cart, _, err := carts.GetOrCreateOpen(ctx, db, user.ID)
	if err != nil {
		t.Fatalf("Create cart: %v", err)
	}

	holder, err := db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if _, err := carts.Lock(ctx, holder, cart.ID, store.LockExclusive); err != nil {
		t.Fatalf("Lock exclusive: %v", err)
	}

	done := make(chan models.CartStatus, 1)
	go func() {
		_ = inTx(t, db, func(tx *sql.Tx) error {
			locked, err := carts.Lock(ctx, tx, cart.ID, store.LockShare)
			if err != nil {
				return err
			}
			done <- locked.Status
			return nil
		})
	}()

	if _, err := carts.SetStatus(ctx, holder, cart.ID, models.CartStatusPaid, decimal.Zero); err != nil {
		t.Fatalf("Set status: %v", err)
	}

	select {
	case <-done:
		t.Fatal("Share lock acquired while checkout held the row")
	case <-time.After(200 * time.Millisecond):
	}

	if err := holder.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	select {
	case status := <-done:
		if status != models.CartStatusPaid {
			t.Errorf("Expected the waiter to see Paid, got %s", status)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Share lock never acquired")
	}
}

func TestLockLinesStayInsideTheCart(t *testing.T) {
	db := pgtest.New(t)
	ctx := context.Background()
	carts := store.NewCartRepository(nil)
	lines := store.NewLineRepository(nil)

	product := createProduct(t, db, "Shared", 10)
	mine, _, err := carts.GetOrCreateOpen(ctx, db, createUser(t, db, "mine@example.com").ID)
	if err != nil {
		t.Fatalf("Create cart: %v", err)
	}
	theirs, _, err := carts.GetOrCreateOpen(ctx, db, createUser(t, db, "theirs@example.com").ID)
	if err != nil {
		t.Fatalf("Create cart: %v", err)
	}

	err = inTx(t, db, func(tx *sql.Tx) error {
		if _, err := lines.Insert(ctx, tx, models.CartLine{CartID: mine.ID, ProductID: product.ID, Quantity: 1, UnitAmount: decimal.NewFromInt(1)}); err != nil {
			return err
		}
		_, err := lines.Insert(ctx, tx, models.CartLine{CartID: theirs.ID, ProductID: product.ID, Quantity: 4, UnitAmount: decimal.NewFromInt(1)})
		return err
	})
	if err != nil {
		t.Fatalf("Insert lines: %v", err)
	}

	err = inTx(t, db, func(tx *sql.Tx) error {
		byProduct, err := lines.LockLinesByCartAndProducts(ctx, tx, mine.ID, []uuid.UUID{product.ID})
		if err != nil {
			return err
		}
		all, err := lines.LockAllLines(ctx, tx, mine.ID)
		if err != nil {
			return err
		}
		if len(byProduct) != 1 || byProduct[product.ID] != 1 {
			t.Errorf("Expected only this cart's line, got %v", byProduct)
		}
		if len(all) != 1 || all[product.ID] != 1 {
			t.Errorf("Expected only this cart's line, got %v", all)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Lock lines: %v", err)
	}
}

func TestUpdateAndDeleteUser(t *testing.T) {
	db := pgtest.New(t)
	ctx := context.Background()

	user := createUser(t, db, "before@example.com")
	createUser(t, db, "taken@example.com")

	name := "Renamed"
	updated, err := store.UpdateUser(ctx, db, user.ID, store.UpdateUserRequest{Username: &name})
	if err != nil {
		t.Fatalf("Update user: %v", err)
	}
	if updated.Username != name || updated.Email != "before@example.com" {
		t.Errorf("Partial update changed the wrong fields: %+v", updated)
	}

	taken := "taken@example.com"
	_, err = store.UpdateUser(ctx, db, user.ID, store.UpdateUserRequest{Email: &taken})
	var dbErr *database.DBError
	if !errors.As(err, &dbErr) || !dbErr.IsConstraintViolation() {
		t.Errorf("Expected a unique violation, got %v", err)
	}

	if _, err := store.UpdateUser(ctx, db, uuid.New(), store.UpdateUserRequest{Username: &name}); !errors.Is(err, database.ErrUserNotFound) {
		t.Errorf("Expected ErrUserNotFound, got %v", err)
	}

	deleted, err := store.DeleteUser(ctx, db, user.ID)
	if err != nil {
		t.Fatalf("Delete user: %v", err)
	}
	if deleted.ID != user.ID {
		t.Errorf("Expected deleted user %s, got %s", user.ID, deleted.ID)
	}
	if _, err := store.GetUser(ctx, db, user.ID); !errors.Is(err, database.ErrUserNotFound) {
		t.Errorf("Expected ErrUserNotFound after delete, got %v", err)
	}
	if _, err := store.DeleteUser(ctx, db, user.ID); !errors.Is(err, database.ErrUserNotFound) {
		t.Errorf("Expected ErrUserNotFound on second delete, got %v", err)
	}
}

func TestPriceOutOfRangeIsADataException(t *testing.T) {
	db := pgtest.New(t)

	_, err := store.CreateProduct(context.Background(), db, store.CreateProductRequest{
		Name:              "Gold",
		UnitPrice:         decimal.New(1, 10),
		AvailableQuantity: 1,
	})
	var dbErr *database.DBError
	if !errors.As(err, &dbErr) || !dbErr.IsDataException() {
		t.Fatalf("Expected a data exception, got %v", err)
	}
	if dbErr.Fields[0].Code != "22003" {
		t.Errorf("Expected code 22003, got %s", dbErr.Fields[0].Code)
	}
}
