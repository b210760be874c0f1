package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"inventory-service/internal/models"

	"github.com/shopspring/decimal"
)

var errTxDone = errors.New("transaction has already been committed or rolled back")

// MemoryStore is an in-process Store. Row locks block the way
// SELECT ... FOR UPDATE does; writes are staged per transaction and become
// visible atomically on commit.
type MemoryStore struct {
	mu          sync.RWMutex
	products    map[string]models.Product
	orders      map[string]models.Order
	orderLines  map[string][]models.OrderLine
	imports     map[string]models.StockImport
	importLines map[string][]models.StockImportLine
	counters    map[string]int64

	locks       *lockTable
	lockTimeout time.Duration
	onLock      func(key string)
}

// MemoryOption configures a MemoryStore
type MemoryOption func(*MemoryStore)

// WithLockTimeout bounds how long a transaction waits for a row lock
func WithLockTimeout(d time.Duration) MemoryOption {
	return func(s *MemoryStore) { s.lockTimeout = d }
}

// WithLockHook registers fn to run right after every row lock is granted.
// Keys look like "product:SP001", "order:DH0001", "counter:DH",
// "idempotency:orders:<key>".
func WithLockHook(fn func(key string)) MemoryOption {
	return func(s *MemoryStore) { s.onLock = fn }
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		products:    make(map[string]models.Product),
		orders:      make(map[string]models.Order),
		orderLines:  make(map[string][]models.OrderLine),
		imports:     make(map[string]models.StockImport),
		importLines: make(map[string][]models.StockImportLine),
		counters:    make(map[string]int64),
		locks:       newLockTable(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddProduct registers a catalog product
func (s *MemoryStore) AddProduct(p models.Product) error {
	if p.Quantity < 0 {
		return ErrNegativeStock
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[p.ID]; ok {
		return fmt.Errorf("%w: product %s", ErrDuplicate, p.ID)
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	s.products[p.ID] = p
	return nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *MemoryStore) Close() error {
	return nil
}

func (s *MemoryStore) BeginTx(ctx context.Context) (Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &memTx{
		s:                  s,
		heldSet:            make(map[string]bool),
		stock:              make(map[string]int),
		versions:           make(map[string]int64),
		counters:           make(map[string]int64),
		orders:             make(map[string]models.Order),
		orderLines:         make(map[string][]models.OrderLine),
		orderTotals:        make(map[string]decimal.Decimal),
		deletedOrders:      make(map[string]bool),
		deletedOrderLines:  make(map[string]bool),
		imports:            make(map[string]models.StockImport),
		importLines:        make(map[string][]models.StockImportLine),
		importTotals:       make(map[string]decimal.Decimal),
		deletedImports:     make(map[string]bool),
		deletedImportLines: make(map[string]bool),
	}, nil
}

func (s *MemoryStore) GetProduct(_ context.Context, id string) (*models.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (s *MemoryStore) ListProducts(_ context.Context) ([]models.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Product, 0, len(s.products))
	for _, p := range s.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) GetOrder(_ context.Context, id string) (*models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &o, nil
}

func (s *MemoryStore) GetOrderLines(_ context.Context, orderID string) ([]models.OrderLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]models.OrderLine(nil), s.orderLines[orderID]...), nil
}

func (s *MemoryStore) ListOrders(_ context.Context, filter models.OrderFilter) ([]models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keyword := strings.ToLower(filter.Keyword)
	out := make([]models.Order, 0, len(s.orders))
	for _, o := range s.orders {
		if keyword != "" &&
			!strings.Contains(strings.ToLower(o.ID), keyword) &&
			!strings.Contains(strings.ToLower(o.CustomerID), keyword) {
			continue
		}
		if filter.CustomerID != "" && o.CustomerID != filter.CustomerID {
			continue
		}
		if !inRange(o.CreatedAt, filter.From, filter.To) {
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) UpdateOrderPaymentStatus(_ context.Context, id string, status models.PaymentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return ErrNotFound
	}
	o.PaymentStatus = status
	s.orders[id] = o
	return nil
}

func (s *MemoryStore) GetStockImport(_ context.Context, id string) (*models.StockImport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	imp, ok := s.imports[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &imp, nil
}

func (s *MemoryStore) GetStockImportLines(_ context.Context, importID string) ([]models.StockImportLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]models.StockImportLine(nil), s.importLines[importID]...), nil
}

func (s *MemoryStore) ListStockImports(_ context.Context, filter models.ImportFilter) ([]models.StockImport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.StockImport, 0, len(s.imports))
	for _, imp := range s.imports {
		if inRange(imp.CreatedAt, filter.From, filter.To) {
			out = append(out, imp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) UpdateStockImportSupplier(_ context.Context, id, supplier string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	imp, ok := s.imports[id]
	if !ok {
		return ErrNotFound
	}
	imp.Supplier = supplier
	s.imports[id] = imp
	return nil
}

// StockMovementsSince holds the read lock for the whole scan, so the result
// never mixes state from before and after a commit.
func (s *MemoryStore) StockMovementsSince(_ context.Context, cutoff time.Time) ([]models.StockMovement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sold := make(map[string]int)
	for id, lines := range s.orderLines {
		o, ok := s.orders[id]
		if !ok || o.CreatedAt.Before(cutoff) {
			continue
		}
		for _, l := range lines {
			sold[l.ProductID] += l.Quantity
		}
	}

	imported := make(map[string]int)
	for id, lines := range s.importLines {
		imp, ok := s.imports[id]
		if !ok || imp.CreatedAt.Before(cutoff) {
			continue
		}
		for _, l := range lines {
			imported[l.ProductID] += l.Quantity
		}
	}

	out := make([]models.StockMovement, 0, len(s.products))
	for _, p := range s.products {
		out = append(out, models.StockMovement{
			ProductID:     p.ID,
			Name:          p.Name,
			Price:         p.Price,
			Current:       p.Quantity,
			SoldAfter:     sold[p.ID],
			ImportedAfter: imported[p.ID],
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ProductID < out[j].ProductID
	})
	return out, nil
}

func inRange(t time.Time, from, to *time.Time) bool {
	if from != nil && t.Before(*from) {
		return false
	}
	if to != nil && !t.Before(*to) {
		return false
	}
	return true
}

// maxIdentifier picks the longest id with the prefix, breaking ties
// lexicographically, so "DH10" wins over "DH9".
func maxIdentifier(ids []string, prefix string) string {
	best := ""
	for _, id := range ids {
		if !strings.HasPrefix(id, prefix) {
			continue
		}
		if len(id) > len(best) || (len(id) == len(best) && id > best) {
			best = id
		}
	}
	return best
}

type memTx struct {
	s       *MemoryStore
	held    []string
	heldSet map[string]bool
	done    bool

	stock    map[string]int
	versions map[string]int64
	counters map[string]int64

	orders            map[string]models.Order
	orderLines        map[string][]models.OrderLine
	orderTotals       map[string]decimal.Decimal
	deletedOrders     map[string]bool
	deletedOrderLines map[string]bool

	imports            map[string]models.StockImport
	importLines        map[string][]models.StockImportLine
	importTotals       map[string]decimal.Decimal
	deletedImports     map[string]bool
	deletedImportLines map[string]bool
}

func (t *memTx) lock(ctx context.Context, key string) error {
	if t.done {
		return errTxDone
	}
	if t.heldSet[key] {
		return nil
	}

	if t.s.lockTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.s.lockTimeout)
		defer cancel()
	}

	if err := t.s.locks.acquire(ctx, key); err != nil {
		return err
	}
	t.heldSet[key] = true
	t.held = append(t.held, key)

	if t.s.onLock != nil {
		t.s.onLock(key)
	}
	return nil
}

func (t *memTx) finish() {
	for i := len(t.held) - 1; i >= 0; i-- {
		t.s.locks.release(t.held[i])
	}
	t.held = nil
	t.heldSet = map[string]bool{}
	t.done = true
}

func productKey(id string) string { return "product:" + id }
func counterKey(p string) string { return "counter:" + p }

func (t *memTx) LockProduct(ctx context.Context, id string) (*models.Product, error) {
	if err := t.lock(ctx, productKey(id)); err != nil {
		return nil, err
	}

	t.s.mu.RLock()
	p, ok := t.s.products[id]
	t.s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	if q, staged := t.stock[id]; staged {
		p.Quantity = q
		p.Version = t.versions[id]
	}
	return &p, nil
}

func (t *memTx) AdjustStock(_ context.Context, id string, delta int) error {
	if t.done {
		return errTxDone
	}
	if !t.heldSet[productKey(id)] {
		return fmt.Errorf("%w: %s", ErrNotLocked, id)
	}

	current, staged := t.stock[id]
	version := t.versions[id]
	if !staged {
		t.s.mu.RLock()
		p, ok := t.s.products[id]
		t.s.mu.RUnlock()
		if !ok {
			return ErrNotFound
		}
		current, version = p.Quantity, p.Version
	}

	next := current + delta
	if next < 0 {
		return fmt.Errorf("%w: product %s has %d, delta %d", ErrNegativeStock, id, current, delta)
	}
	t.stock[id] = next
	t.versions[id] = version + 1
	return nil
}

// Savepoint restores staged counter values when fn fails. Other staged
// writes are not covered; only identifier allocation runs under it.
func (t *memTx) Savepoint(_ context.Context, fn func() error) error {
	if t.done {
		return errTxDone
	}
	saved := make(map[string]int64, len(t.counters))
	for k, v := range t.counters {
		saved[k] = v
	}
	if err := fn(); err != nil {
		t.counters = saved
		return err
	}
	return nil
}

// ClaimIdempotencyKey locks the key the way the postgres store takes an
// advisory lock, then looks for a committed document carrying it.
func (t *memTx) ClaimIdempotencyKey(ctx context.Context, table Table, key string) (string, bool, error) {
	if err := t.lock(ctx, idempotencyLockKey(table, key)); err != nil {
		return "", false, err
	}

	t.s.mu.RLock()
	defer t.s.mu.RUnlock()

	switch table {
	case TableOrders:
		for id, o := range t.s.orders {
			if hasKey(o.IdempotencyKey, key) && !t.deletedOrders[id] {
				return id, true, nil
			}
		}
	case TableStockImports:
		for id, imp := range t.s.imports {
			if hasKey(imp.IdempotencyKey, key) && !t.deletedImports[id] {
				return id, true, nil
			}
		}
	default:
		return "", false, fmt.Errorf("unknown document table %q", table)
	}
	return "", false, nil
}

func idempotencyLockKey(table Table, key string) string {
	return "idempotency:" + string(table) + ":" + key
}

func hasKey(stored *string, key string) bool {
	return stored != nil && *stored == key
}

func (t *memTx) LockCounter(ctx context.Context, prefix string) (int64, error) {
	if err := t.lock(ctx, counterKey(prefix)); err != nil {
		return 0, err
	}
	if v, ok := t.counters[prefix]; ok {
		return v, nil
	}

	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	return t.s.counters[prefix], nil
}

func (t *memTx) SetCounter(_ context.Context, prefix string, value int64) error {
	if t.done {
		return errTxDone
	}
	if !t.heldSet[counterKey(prefix)] {
		return fmt.Errorf("%w: counter %s", ErrNotLocked, prefix)
	}
	t.counters[prefix] = value
	return nil
}

func (t *memTx) MaxIdentifier(_ context.Context, table Table, prefix string) (string, error) {
	if t.done {
		return "", errTxDone
	}

	t.s.mu.RLock()
	defer t.s.mu.RUnlock()

	var ids []string
	switch table {
	case TableOrders:
		for id := range t.s.orders {
			if !t.deletedOrders[id] {
				ids = append(ids, id)
			}
		}
		for id := range t.orders {
			ids = append(ids, id)
		}
	case TableStockImports:
		for id := range t.s.imports {
			if !t.deletedImports[id] {
				ids = append(ids, id)
			}
		}
		for id := range t.imports {
			ids = append(ids, id)
		}
	default:
		return "", fmt.Errorf("unknown identifier table %q", table)
	}
	return maxIdentifier(ids, prefix), nil
}

func (t *memTx) productExists(id string) bool {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	_, ok := t.s.products[id]
	return ok
}

// order lookup that sees this transaction's own writes
func (t *memTx) findOrder(id string) (models.Order, bool) {
	if o, ok := t.orders[id]; ok {
		return o, true
	}
	if t.deletedOrders[id] {
		return models.Order{}, false
	}
	t.s.mu.RLock()
	o, ok := t.s.orders[id]
	t.s.mu.RUnlock()
	return o, ok
}

// orderWithKey enforces key uniqueness over committed and staged orders
func (t *memTx) orderWithKey(key string) (string, bool) {
	for id, o := range t.orders {
		if hasKey(o.IdempotencyKey, key) {
			return id, true
		}
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	for id, o := range t.s.orders {
		if hasKey(o.IdempotencyKey, key) && !t.deletedOrders[id] {
			return id, true
		}
	}
	return "", false
}

func (t *memTx) InsertOrder(_ context.Context, order *models.Order) error {
	if t.done {
		return errTxDone
	}
	if _, exists := t.findOrder(order.ID); exists {
		return fmt.Errorf("%w: order %s", ErrDuplicate, order.ID)
	}
	if order.IdempotencyKey != nil {
		if id, taken := t.orderWithKey(*order.IdempotencyKey); taken {
			return fmt.Errorf("%w: idempotency key already used by order %s", ErrDuplicate, id)
		}
	}
	o := *order
	o.Lines = nil
	t.orders[o.ID] = o
	return nil
}

func (t *memTx) InsertOrderLine(_ context.Context, line *models.OrderLine) error {
	if t.done {
		return errTxDone
	}
	if _, ok := t.findOrder(line.OrderID); !ok {
		return fmt.Errorf("%w: order %s", ErrNotFound, line.OrderID)
	}
	if !t.productExists(line.ProductID) {
		return fmt.Errorf("%w: product %s", ErrNotFound, line.ProductID)
	}
	t.orderLines[line.OrderID] = append(t.orderLines[line.OrderID], *line)
	return nil
}

func (t *memTx) UpdateOrderTotal(_ context.Context, id string, total decimal.Decimal) error {
	if t.done {
		return errTxDone
	}
	if _, ok := t.findOrder(id); !ok {
		return ErrNotFound
	}
	t.orderTotals[id] = total
	return nil
}

func (t *memTx) LockOrder(ctx context.Context, id string) (*models.Order, error) {
	if err := t.lock(ctx, "order:"+id); err != nil {
		return nil, err
	}
	o, ok := t.findOrder(id)
	if !ok {
		return nil, ErrNotFound
	}
	if total, staged := t.orderTotals[id]; staged {
		o.Total = total
	}
	return &o, nil
}

func (t *memTx) GetOrderLines(_ context.Context, orderID string) ([]models.OrderLine, error) {
	if t.done {
		return nil, errTxDone
	}

	var lines []models.OrderLine
	if !t.deletedOrderLines[orderID] {
		t.s.mu.RLock()
		lines = append(lines, t.s.orderLines[orderID]...)
		t.s.mu.RUnlock()
	}
	return append(lines, t.orderLines[orderID]...), nil
}

func (t *memTx) DeleteOrderLines(_ context.Context, orderID string) error {
	if t.done {
		return errTxDone
	}
	t.deletedOrderLines[orderID] = true
	delete(t.orderLines, orderID)
	return nil
}

func (t *memTx) DeleteOrder(ctx context.Context, id string) error {
	if _, ok := t.findOrder(id); !ok {
		return ErrNotFound
	}
	lines, err := t.GetOrderLines(ctx, id)
	if err != nil {
		return err
	}
	if len(lines) > 0 {
		return fmt.Errorf("order %s still has %d lines", id, len(lines))
	}

	if _, isNew := t.orders[id]; isNew {
		delete(t.orders, id)
	} else {
		t.deletedOrders[id] = true
	}
	delete(t.orderTotals, id)
	return nil
}

func (t *memTx) findImport(id string) (models.StockImport, bool) {
	if imp, ok := t.imports[id]; ok {
		return imp, true
	}
	if t.deletedImports[id] {
		return models.StockImport{}, false
	}
	t.s.mu.RLock()
	imp, ok := t.s.imports[id]
	t.s.mu.RUnlock()
	return imp, ok
}

func (t *memTx) importWithKey(key string) (string, bool) {
	for id, imp := range t.imports {
		if hasKey(imp.IdempotencyKey, key) {
			return id, true
		}
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	for id, imp := range t.s.imports {
		if hasKey(imp.IdempotencyKey, key) && !t.deletedImports[id] {
			return id, true
		}
	}
	return "", false
}

func (t *memTx) InsertStockImport(_ context.Context, imp *models.StockImport) error {
	if t.done {
		return errTxDone
	}
	if _, exists := t.findImport(imp.ID); exists {
		return fmt.Errorf("%w: stock import %s", ErrDuplicate, imp.ID)
	}
	if imp.IdempotencyKey != nil {
		if id, taken := t.importWithKey(*imp.IdempotencyKey); taken {
			return fmt.Errorf("%w: idempotency key already used by stock import %s", ErrDuplicate, id)
		}
	}
	row := *imp
	row.Lines = nil
	t.imports[row.ID] = row
	return nil
}

func (t *memTx) InsertStockImportLine(_ context.Context, line *models.StockImportLine) error {
	if t.done {
		return errTxDone
	}
	if _, ok := t.findImport(line.ImportID); !ok {
		return fmt.Errorf("%w: stock import %s", ErrNotFound, line.ImportID)
	}
	if !t.productExists(line.ProductID) {
		return fmt.Errorf("%w: product %s", ErrNotFound, line.ProductID)
	}
	t.importLines[line.ImportID] = append(t.importLines[line.ImportID], *line)
	return nil
}

func (t *memTx) UpdateStockImportTotal(_ context.Context, id string, total decimal.Decimal) error {
	if t.done {
		return errTxDone
	}
	if _, ok := t.findImport(id); !ok {
		return ErrNotFound
	}
	t.importTotals[id] = total
	return nil
}

func (t *memTx) LockStockImport(ctx context.Context, id string) (*models.StockImport, error) {
	if err := t.lock(ctx, "import:"+id); err != nil {
		return nil, err
	}
	imp, ok := t.findImport(id)
	if !ok {
		return nil, ErrNotFound
	}
	if total, staged := t.importTotals[id]; staged {
		imp.Total = total
	}
	return &imp, nil
}

func (t *memTx) GetStockImportLines(_ context.Context, importID string) ([]models.StockImportLine, error) {
	if t.done {
		return nil, errTxDone
	}

	var lines []models.StockImportLine
	if !t.deletedImportLines[importID] {
		t.s.mu.RLock()
		lines = append(lines, t.s.importLines[importID]...)
		t.s.mu.RUnlock()
	}
	return append(lines, t.importLines[importID]...), nil
}

func (t *memTx) DeleteStockImportLines(_ context.Context, importID string) error {
	if t.done {
		return errTxDone
	}
	t.deletedImportLines[importID] = true
	delete(t.importLines, importID)
	return nil
}

func (t *memTx) DeleteStockImport(ctx context.Context, id string) error {
	if _, ok := t.findImport(id); !ok {
		return ErrNotFound
	}
	lines, err := t.GetStockImportLines(ctx, id)
	if err != nil {
		return err
	}
	if len(lines) > 0 {
		return fmt.Errorf("stock import %s still has %d lines", id, len(lines))
	}

	if _, isNew := t.imports[id]; isNew {
		delete(t.imports, id)
	} else {
		t.deletedImports[id] = true
	}
	delete(t.importTotals, id)
	return nil
}

func (t *memTx) Commit() error {
	if t.done {
		return errTxDone
	}

	s := t.s
	s.mu.Lock()
	for id, q := range t.stock {
		p := s.products[id]
		p.Quantity = q
		p.Version = t.versions[id]
		s.products[id] = p
	}
	for prefix, v := range t.counters {
		s.counters[prefix] = v
	}

	for id := range t.deletedOrderLines {
		delete(s.orderLines, id)
	}
	for id := range t.deletedOrders {
		delete(s.orders, id)
	}
	for id, o := range t.orders {
		s.orders[id] = o
	}
	for id, total := range t.orderTotals {
		if o, ok := s.orders[id]; ok {
			o.Total = total
			s.orders[id] = o
		}
	}
	for id, lines := range t.orderLines {
		s.orderLines[id] = append(s.orderLines[id], lines...)
	}

	for id := range t.deletedImportLines {
		delete(s.importLines, id)
	}
	for id := range t.deletedImports {
		delete(s.imports, id)
	}
	for id, imp := range t.imports {
		s.imports[id] = imp
	}
	for id, total := range t.importTotals {
		if imp, ok := s.imports[id]; ok {
			imp.Total = total
			s.imports[id] = imp
		}
	}
	for id, lines := range t.importLines {
		s.importLines[id] = append(s.importLines[id], lines...)
	}
	s.mu.Unlock()

	t.finish()
	return nil
}

func (t *memTx) Rollback() error {
	if t.done {
		return nil
	}
	t.finish()
	return nil
}
