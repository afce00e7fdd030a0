package cart

import (
	"context"
	"database/sql"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/safar/go-cart-store/internal/database"
	"github.com/safar/go-cart-store/internal/events"
	"github.com/safar/go-cart-store/internal/models"
	"github.com/safar/go-cart-store/internal/store"
	"github.com/shopspring/decimal"
)

type lineKey struct {
	cart    uuid.UUID
	product uuid.UUID
}

type memState struct {
	stock map[uuid.UUID]int
	lines map[lineKey]models.CartLine
	carts map[uuid.UUID]models.Cart
	// gone holds deleted owners.
	gone map[uuid.UUID]bool
}

func (s memState) clone() memState {
	return memState{
		stock: maps.Clone(s.stock),
		lines: maps.Clone(s.lines),
		carts: maps.Clone(s.carts),
		gone:  maps.Clone(s.gone),
	}
}

// memDB is an in-memory stand-in for postgres. Transactions are serialized
// by mu and rolled back by restoring a copy of the state.
type memDB struct {
	mu    sync.Mutex
	state memState
	clock time.Time

	maxRetries int
	attempts   int
	// afterRollback runs once after the next failed attempt, with mu held.
	// Tests use it to commit a competing transaction.
	afterRollback func(*memState)
	// failInsert makes the next Insert report a concurrent insert.
	failInsert bool
}

func newMemDB() *memDB {
	return &memDB{
		state: memState{
			stock: map[uuid.UUID]int{},
			lines: map[lineKey]models.CartLine{},
			carts: map[uuid.UUID]models.Cart{},
			gone:  map[uuid.UUID]bool{},
		},
		clock:      time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		maxRetries: 1,
	}
}

func (db *memDB) now() time.Time {
	db.clock = db.clock.Add(time.Second)
	return db.clock
}

func (db *memDB) InTx(ctx context.Context, _ string, fn func(tx *sql.Tx) error) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	var err error
	for attempt := 0; attempt <= db.maxRetries; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		db.attempts++

		saved := db.state.clone()
		err = fn(nil)
		if err == nil {
			return nil
		}
		db.state = saved

		if hook := db.afterRollback; hook != nil {
			db.afterRollback = nil
			hook(&db.state)
		}

		if !database.IsRetryable(err) {
			return err
		}
	}
	return err
}

func (db *memDB) addProduct(quantity int) uuid.UUID {
	db.mu.Lock()
	defer db.mu.Unlock()
	id := uuid.New()
	db.state.stock[id] = quantity
	return id
}

func (db *memDB) addCart(ownerID uuid.UUID, status models.CartStatus) uuid.UUID {
	db.mu.Lock()
	defer db.mu.Unlock()
	now := db.now()
	c := models.Cart{ID: uuid.New(), OwnerID: ownerID, Status: status, CreatedAt: now, UpdatedAt: now}
	db.state.carts[c.ID] = c
	return c.ID
}

func (db *memDB) stockOf(productID uuid.UUID) int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.state.stock[productID]
}

func (db *memDB) lineQuantity(cartID, productID uuid.UUID) (int, bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	line, ok := db.state.lines[lineKey{cartID, productID}]
	return line.Quantity, ok
}

// reserved sums the quantity every cart holds of the product.
func (db *memDB) reserved(productID uuid.UUID) int {
	db.mu.Lock()
	defer db.mu.Unlock()
	total := 0
	for k, line := range db.state.lines {
		if k.product == productID {
			total += line.Quantity
		}
	}
	return total
}

type memLedger struct{ db *memDB }

func (l memLedger) TryReserve(_ context.Context, _ *sql.Tx, productID uuid.UUID, delta int) error {
	if delta <= 0 {
		return database.ErrInvalidQuantity
	}
	available, ok := l.db.state.stock[productID]
	if !ok {
		return database.ErrProductNotFound
	}
	if available < delta {
		return database.ErrInsufficientStock
	}
	l.db.state.stock[productID] = available - delta
	return nil
}

func (l memLedger) Release(_ context.Context, _ *sql.Tx, productID uuid.UUID, delta int) error {
	if delta <= 0 {
		return database.ErrInvalidQuantity
	}
	available, ok := l.db.state.stock[productID]
	if !ok {
		return database.ErrProductNotFound
	}
	l.db.state.stock[productID] = available + delta
	return nil
}

type memLines struct{ db *memDB }

func (r memLines) LockLine(_ context.Context, _ *sql.Tx, cartID, productID uuid.UUID) (*models.CartLine, error) {
	line, ok := r.db.state.lines[lineKey{cartID, productID}]
	if !ok {
		return nil, nil
	}
	return &line, nil
}

func (r memLines) Insert(_ context.Context, _ *sql.Tx, line models.CartLine) (*models.CartLine, error) {
	if r.db.failInsert {
		r.db.failInsert = false
		return nil, database.ErrLineConflict
	}
	key := lineKey{line.CartID, line.ProductID}
	if _, ok := r.db.state.lines[key]; ok {
		return nil, database.ErrLineConflict
	}
	now := r.db.now()
	line.LineTotal = models.ComputeLineTotal(line.Quantity, line.UnitAmount)
	line.CreatedAt, line.UpdatedAt = now, now
	r.db.state.lines[key] = line
	return &line, nil
}

func (r memLines) Upsert(_ context.Context, _ *sql.Tx, line models.CartLine) (*models.CartLine, error) {
	if line.Quantity <= 0 {
		return nil, database.ErrInvalidQuantity
	}
	key := lineKey{line.CartID, line.ProductID}
	now := r.db.now()
	if existing, ok := r.db.state.lines[key]; ok {
		line.CreatedAt = existing.CreatedAt
	} else {
		line.CreatedAt = now
	}
	line.UpdatedAt = now
	line.LineTotal = models.ComputeLineTotal(line.Quantity, line.UnitAmount)
	r.db.state.lines[key] = line
	return &line, nil
}

func (r memLines) Delete(_ context.Context, _ *sql.Tx, cartID, productID uuid.UUID) error {
	key := lineKey{cartID, productID}
	if _, ok := r.db.state.lines[key]; !ok {
		return database.ErrItemNotFound
	}
	delete(r.db.state.lines, key)
	return nil
}

func (r memLines) LockLinesByCartAndProducts(_ context.Context, _ *sql.Tx, cartID uuid.UUID, productIDs []uuid.UUID) (map[uuid.UUID]int, error) {
	out := map[uuid.UUID]int{}
	for _, productID := range productIDs {
		if line, ok := r.db.state.lines[lineKey{cartID, productID}]; ok {
			out[productID] = line.Quantity
		}
	}
	return out, nil
}

func (r memLines) LockAllLines(_ context.Context, _ *sql.Tx, cartID uuid.UUID) (map[uuid.UUID]int, error) {
	out := map[uuid.UUID]int{}
	for k, line := range r.db.state.lines {
		if k.cart == cartID {
			out[k.product] = line.Quantity
		}
	}
	return out, nil
}

func (r memLines) DeleteLines(_ context.Context, _ *sql.Tx, cartID uuid.UUID, productIDs []uuid.UUID) (int64, error) {
	var n int64
	for _, productID := range productIDs {
		key := lineKey{cartID, productID}
		if _, ok := r.db.state.lines[key]; ok {
			delete(r.db.state.lines, key)
			n++
		}
	}
	return n, nil
}

// memCarts locks mu on the read path only; the transactional methods run
// under InTx, which already holds it.
type memCarts struct{ db *memDB }

func (r memCarts) GetOrCreateOpen(_ context.Context, _ store.Querier, ownerID uuid.UUID) (*models.Cart, bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, c := range r.db.state.carts {
		if c.OwnerID == ownerID && c.Status == models.CartStatusOpen {
			return &c, false, nil
		}
	}
	now := r.db.now()
	c := models.Cart{ID: uuid.New(), OwnerID: ownerID, Status: models.CartStatusOpen, CreatedAt: now, UpdatedAt: now}
	r.db.state.carts[c.ID] = c
	return &c, true, nil
}

func (r memCarts) Get(_ context.Context, _ store.Querier, cartID uuid.UUID) (*models.Cart, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	c, ok := r.db.state.carts[cartID]
	if !ok {
		return nil, database.ErrCartNotFound
	}
	return &c, nil
}

func (r memCarts) Lock(_ context.Context, _ *sql.Tx, cartID uuid.UUID, _ store.LockMode) (*models.Cart, error) {
	c, ok := r.db.state.carts[cartID]
	if !ok {
		return nil, database.ErrCartNotFound
	}
	return &c, nil
}

func (r memCarts) LockOpenByOwner(_ context.Context, _ *sql.Tx, ownerID uuid.UUID) (*models.Cart, error) {
	for _, c := range r.db.state.carts {
		if c.OwnerID == ownerID && c.Status == models.CartStatusOpen {
			return &c, nil
		}
	}
	return nil, nil
}

func (r memCarts) Total(_ context.Context, _ store.Querier, cartID uuid.UUID) (decimal.Decimal, error) {
	total := decimal.Zero
	for k, line := range r.db.state.lines {
		if k.cart == cartID {
			total = total.Add(line.LineTotal)
		}
	}
	return total, nil
}

func (r memCarts) SetStatus(_ context.Context, _ *sql.Tx, cartID uuid.UUID, status models.CartStatus, total decimal.Decimal) (*models.Cart, error) {
	c, ok := r.db.state.carts[cartID]
	if !ok {
		return nil, database.ErrCartNotFound
	}
	c.Status = status
	c.TotalAmount = total
	c.UpdatedAt = r.db.now()
	r.db.state.carts[cartID] = c
	return &c, nil
}

func (r memCarts) OpenSnapshot(_ context.Context, _ store.Querier, ownerID uuid.UUID) (*models.CartSnapshot, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, c := range r.db.state.carts {
		if c.OwnerID == ownerID && c.Status == models.CartStatusOpen {
			return r.snapshot(c), nil
		}
	}
	return nil, database.ErrCartNotFound
}

func (r memCarts) Snapshot(_ context.Context, _ store.Querier, cartID uuid.UUID) (*models.CartSnapshot, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	c, ok := r.db.state.carts[cartID]
	if !ok {
		return nil, database.ErrCartNotFound
	}
	return r.snapshot(c), nil
}

func (r memCarts) snapshot(c models.Cart) *models.CartSnapshot {
	snap := &models.CartSnapshot{Cart: c, Items: []models.CartSnapshotLine{}}
	total := decimal.Zero
	for k, line := range r.db.state.lines {
		if k.cart != c.ID {
			continue
		}
		snap.Items = append(snap.Items, models.CartSnapshotLine{
			CartLine: line,
			Product: models.ProductSnapshot{
				ID:                k.product,
				AvailableQuantity: r.db.state.stock[k.product],
			},
		})
		total = total.Add(line.LineTotal)
	}
	sort.Slice(snap.Items, func(i, j int) bool {
		return snap.Items[i].ProductID.String() < snap.Items[j].ProductID.String()
	})
	if c.Status == models.CartStatusOpen {
		snap.TotalAmount = total
	}
	return snap
}

func (r memCarts) ListByOwner(_ context.Context, _ store.Querier, ownerID uuid.UUID, _ string, limit int) (*store.CursorPage, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	carts := []models.Cart{}
	for _, c := range r.db.state.carts {
		if c.OwnerID == ownerID {
			carts = append(carts, c)
		}
	}
	sort.Slice(carts, func(i, j int) bool { return carts[i].CreatedAt.After(carts[j].CreatedAt) })
	hasMore := len(carts) > limit
	if hasMore {
		carts = carts[:limit]
	}
	return &store.CursorPage{Items: carts, HasMore: hasMore}, nil
}

// memOwners treats every owner as existing until deleted. Deleting cascades
// to the owner's carts and their lines.
type memOwners struct{ db *memDB }

func (o memOwners) LockOwner(_ context.Context, _ *sql.Tx, ownerID uuid.UUID) error {
	if o.db.state.gone[ownerID] {
		return database.ErrUserNotFound
	}
	return nil
}

func (o memOwners) DeleteOwner(_ context.Context, _ *sql.Tx, ownerID uuid.UUID) error {
	if o.db.state.gone[ownerID] {
		return database.ErrUserNotFound
	}
	o.db.state.gone[ownerID] = true
	for id, c := range o.db.state.carts {
		if c.OwnerID != ownerID {
			continue
		}
		delete(o.db.state.carts, id)
		for k := range o.db.state.lines {
			if k.cart == id {
				delete(o.db.state.lines, k)
			}
		}
	}
	return nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, evs ...events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evs...)
	return nil
}

func (p *recordingPublisher) types() []events.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Type, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}
