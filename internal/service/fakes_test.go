package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"trade-ledger/internal/models"
	"trade-ledger/internal/store"

	"github.com/shopspring/decimal"
)

// memLedger is an in-memory Repository. One mutex serializes transactions the
// way the table locks do, and a failed transaction restores the snapshot
// taken when it began.
type memLedger struct {
	mu       sync.Mutex
	products map[string]models.Product
	trades   map[string]models.Trade
	wallets  map[string]models.Wallet
	txns     map[int64]models.WalletTransaction
	resumes  map[string]models.Resume
	lastTxn  int64
	statsHit int
}

func newMemLedger() *memLedger {
	return &memLedger{
		products: map[string]models.Product{},
		trades:   map[string]models.Trade{},
		wallets:  map[string]models.Wallet{},
		txns:     map[int64]models.WalletTransaction{},
		resumes:  map[string]models.Resume{},
	}
}

type memSnapshot struct {
	products map[string]models.Product
	trades   map[string]models.Trade
	wallets  map[string]models.Wallet
	txns     map[int64]models.WalletTransaction
	resumes  map[string]models.Resume
	lastTxn  int64
}

func copyMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (m *memLedger) snapshot() memSnapshot {
	return memSnapshot{
		products: copyMap(m.products),
		trades:   copyMap(m.trades),
		wallets:  copyMap(m.wallets),
		txns:     copyMap(m.txns),
		resumes:  copyMap(m.resumes),
		lastTxn:  m.lastTxn,
	}
}

func (m *memLedger) restore(s memSnapshot) {
	m.products, m.trades, m.wallets, m.txns, m.resumes, m.lastTxn =
		s.products, s.trades, s.wallets, s.txns, s.resumes, s.lastTxn
}

func (m *memLedger) InTx(ctx context.Context, fn func(tx store.LedgerTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot()
	if err := fn(&memTx{m: m}); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

func (m *memLedger) GetProduct(ctx context.Context, productID string) (*models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[productID]
	if !ok {
		return nil, fmt.Errorf("%w: product %s", models.ErrNotFound, productID)
	}
	return &p, nil
}

func (m *memLedger) ListProducts(ctx context.Context, inStockOnly bool) ([]models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Product{}
	for _, p := range m.products {
		if inStockOnly && p.AvailableStock <= 0 {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

func (m *memLedger) view(t models.Trade) models.TradeView {
	p := m.products[t.ProductID]
	return models.TradeView{
		Trade:               t,
		PaperType:           p.PaperType,
		ProductImageURL:     p.ImageURL,
		CurrentSellingPrice: p.SellingPrice,
	}
}

func (m *memLedger) GetTrade(ctx context.Context, tradeID string) (*models.TradeView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trades[tradeID]
	if !ok {
		return nil, fmt.Errorf("%w: trade %s", models.ErrNotFound, tradeID)
	}
	tv := m.view(t)
	return &tv, nil
}

func (m *memLedger) ListTrades(ctx context.Context, vendorID string, filter store.TradeFilter) ([]models.TradeView, error) {
	switch filter {
	case store.TradesActive, store.TradesSold, store.TradesRejected, store.TradesPending, store.TradesHistory:
	default:
		return nil, fmt.Errorf("%w: unknown trade filter %q", models.ErrValidation, filter)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.TradeView{}
	for _, t := range m.trades {
		if vendorID != "" && t.VendorID != vendorID {
			continue
		}
		keep := false
		switch filter {
		case store.TradesActive:
			keep = t.IsApproved == models.ApprovalApproved && !t.IsSold
		case store.TradesSold:
			keep = t.IsSold
		case store.TradesRejected:
			keep = t.IsApproved == models.ApprovalRejected
		case store.TradesPending:
			keep = t.IsApproved == models.ApprovalPending
		case store.TradesHistory:
			keep = true
		}
		if keep {
			out = append(out, m.view(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TradeID < out[j].TradeID })
	return out, nil
}

func (m *memLedger) HasPendingWithdrawal(ctx context.Context, walletID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pendingWithdrawal(walletID), nil
}

func (m *memLedger) pendingWithdrawal(walletID string) bool {
	for _, t := range m.txns {
		if t.WalletID == walletID && t.TransactionType == models.TxnWithdrawal && t.Status == models.ApprovalPending {
			return true
		}
	}
	return false
}

func (m *memLedger) ListWalletTransactions(ctx context.Context, walletID string) ([]models.WalletTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.WalletTransaction{}
	for _, t := range m.txns {
		if t.WalletID == walletID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TransID > out[j].TransID })
	return out, nil
}

func (m *memLedger) ListPendingWalletTransactions(ctx context.Context) ([]models.WalletTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.WalletTransaction{}
	for _, t := range m.txns {
		if t.Status == models.ApprovalPending {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TransID < out[j].TransID })
	return out, nil
}

func (m *memLedger) ListResumes(ctx context.Context) ([]models.Resume, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Resume{}
	for _, r := range m.resumes {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ResumeID > out[j].ResumeID })
	return out, nil
}

func (m *memLedger) DashboardStats(ctx context.Context) (*models.DashboardStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statsHit++
	var s models.DashboardStats
	for _, p := range m.products {
		if p.AvailableStock > 0 {
			s.AvailableProducts++
		}
	}
	for _, t := range m.trades {
		if t.IsApproved == models.ApprovalPending {
			s.PendingTradeApprovals++
		}
	}
	for _, t := range m.txns {
		if t.Status == models.ApprovalPending {
			s.PendingWalletApprovals++
		}
	}
	for _, r := range m.resumes {
		s.UploadedResumes++
		if r.TaskStatus == models.TaskNotAssigned {
			s.UnassignedResumes++
		}
	}
	return &s, nil
}

// memTx implements store.LedgerTx. The caller holds m.mu.
type memTx struct {
	m *memLedger
}

var _ store.LedgerTx = (*memTx)(nil)

func (tx *memTx) NextID(ctx context.Context, seq store.Sequence) (string, error) {
	ids, err := tx.NextIDs(ctx, seq, 1)
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

func (tx *memTx) NextIDs(ctx context.Context, seq store.Sequence, n int) ([]string, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: id batch size must be positive", models.ErrValidation)
	}

	var existing []string
	switch seq {
	case store.ProductSeq:
		for id := range tx.m.products {
			existing = append(existing, id)
		}
	case store.TradeSeq:
		for id := range tx.m.trades {
			existing = append(existing, id)
		}
	case store.WalletSeq:
		for id := range tx.m.wallets {
			existing = append(existing, id)
		}
	case store.ResumeSeq:
		for id := range tx.m.resumes {
			existing = append(existing, id)
		}
	case store.TaskSeq:
		for _, r := range tx.m.resumes {
			existing = append(existing, r.TaskID)
		}
	default:
		return nil, fmt.Errorf("unknown sequence %v", seq)
	}

	last := 0
	for _, id := range existing {
		if num, ok := store.ParseID(seq.Prefix, id); ok && num > last {
			last = num
		}
	}

	ids := make([]string, n)
	for i := range ids {
		ids[i] = store.FormatID(seq.Prefix, last+1+i)
	}
	return ids, nil
}

func (tx *memTx) InsertProduct(ctx context.Context, p *models.Product) error {
	if _, dup := tx.m.products[p.ProductID]; dup {
		return fmt.Errorf("duplicate product_id %s", p.ProductID)
	}
	p.LastUpdated = time.Now()
	tx.m.products[p.ProductID] = *p
	return nil
}

func (tx *memTx) GetProductForUpdate(ctx context.Context, productID string) (*models.Product, error) {
	p, ok := tx.m.products[productID]
	if !ok {
		return nil, fmt.Errorf("%w: product %s", models.ErrNotFound, productID)
	}
	return &p, nil
}

func (tx *memTx) UpdateProduct(ctx context.Context, p *models.Product) error {
	if _, ok := tx.m.products[p.ProductID]; !ok {
		return fmt.Errorf("%w: product %s", models.ErrNotFound, p.ProductID)
	}
	p.LastUpdated = time.Now()
	tx.m.products[p.ProductID] = *p
	return nil
}

func (tx *memTx) DecrementStock(ctx context.Context, productID string, quantity, lowThreshold int) (*models.Product, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive", models.ErrValidation)
	}
	p, ok := tx.m.products[productID]
	if !ok {
		return nil, fmt.Errorf("%w: product %s", models.ErrNotFound, productID)
	}
	if p.AvailableStock < quantity {
		return nil, fmt.Errorf("%w: requested %d, available %d", models.ErrInsufficientStock, quantity, p.AvailableStock)
	}
	p.AvailableStock -= quantity
	p.StockStatus = models.StockStatusFor(p.AvailableStock, lowThreshold)
	tx.m.products[productID] = p
	return &p, nil
}

func (tx *memTx) IncrementStock(ctx context.Context, productID string, quantity, lowThreshold int) (*models.Product, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive", models.ErrValidation)
	}
	p, ok := tx.m.products[productID]
	if !ok {
		return nil, fmt.Errorf("%w: product %s", models.ErrNotFound, productID)
	}
	p.AvailableStock += quantity
	p.StockStatus = models.StockStatusFor(p.AvailableStock, lowThreshold)
	tx.m.products[productID] = p
	return &p, nil
}

func (tx *memTx) CountTradesForProduct(ctx context.Context, productID string) (int, error) {
	n := 0
	for _, t := range tx.m.trades {
		if t.ProductID == productID {
			n++
		}
	}
	return n, nil
}

func (tx *memTx) DeleteProduct(ctx context.Context, productID string) error {
	if _, ok := tx.m.products[productID]; !ok {
		return fmt.Errorf("%w: product %s", models.ErrNotFound, productID)
	}
	delete(tx.m.products, productID)
	return nil
}

func (tx *memTx) InsertTrade(ctx context.Context, t *models.Trade) error {
	if _, dup := tx.m.trades[t.TradeID]; dup {
		return fmt.Errorf("duplicate trade_id %s", t.TradeID)
	}
	if _, ok := tx.m.products[t.ProductID]; !ok {
		return fmt.Errorf("%w: product %s", models.ErrReferentialConflict, t.ProductID)
	}
	tx.m.trades[t.TradeID] = *t
	return nil
}

func (tx *memTx) GetTradeForUpdate(ctx context.Context, tradeID string) (*models.Trade, error) {
	t, ok := tx.m.trades[tradeID]
	if !ok {
		return nil, fmt.Errorf("%w: trade %s", models.ErrNotFound, tradeID)
	}
	return &t, nil
}

func (tx *memTx) AttachTradeProof(ctx context.Context, tradeID, transactionID, proofURL string) error {
	t, ok := tx.m.trades[tradeID]
	if !ok || t.IsApproved != models.ApprovalPending {
		return fmt.Errorf("%w: trade %s is no longer pending", models.ErrAlreadyReviewed, tradeID)
	}
	if t.PaymentProofURL != nil {
		return fmt.Errorf("%w: payment proof already submitted for trade %s", models.ErrDuplicateRequest, tradeID)
	}
	t.TransactionID = &transactionID
	t.PaymentProofURL = &proofURL
	tx.m.trades[tradeID] = t
	return nil
}

func (tx *memTx) ReviewTrade(ctx context.Context, tradeID string, decision models.Decision, comment *string, at time.Time) error {
	t, ok := tx.m.trades[tradeID]
	if !ok || t.IsApproved != models.ApprovalPending || t.IsSold {
		return fmt.Errorf("%w: trade %s", models.ErrAlreadyReviewed, tradeID)
	}
	t.IsApproved = string(decision)
	t.Comment = comment
	t.ReviewedAt = &at
	tx.m.trades[tradeID] = t
	return nil
}

func (tx *memTx) MarkTradeSold(ctx context.Context, tradeID string, salePrice decimal.Decimal, at time.Time) error {
	t, ok := tx.m.trades[tradeID]
	if !ok || t.IsApproved != models.ApprovalApproved || t.IsSold {
		return fmt.Errorf("%w: trade %s cannot be sold", models.ErrInvalidTransition, tradeID)
	}
	t.IsSold = true
	t.SalePrice = &salePrice
	t.SaleDate = &at
	tx.m.trades[tradeID] = t
	return nil
}

func (tx *memTx) GetWalletByOwner(ctx context.Context, ownerID, role string) (*models.Wallet, error) {
	for _, w := range tx.m.wallets {
		if w.OwnerID == ownerID && w.Role == role {
			return &w, nil
		}
	}
	return nil, nil
}

func (tx *memTx) GetWalletForUpdate(ctx context.Context, walletID string) (*models.Wallet, error) {
	w, ok := tx.m.wallets[walletID]
	if !ok {
		return nil, fmt.Errorf("%w: wallet %s", models.ErrNotFound, walletID)
	}
	return &w, nil
}

func (tx *memTx) InsertWallet(ctx context.Context, w *models.Wallet) error {
	if _, dup := tx.m.wallets[w.WalletID]; dup {
		return fmt.Errorf("duplicate wallet_id %s", w.WalletID)
	}
	for _, other := range tx.m.wallets {
		if other.OwnerID == w.OwnerID && other.Role == w.Role {
			return errors.New("duplicate wallet owner")
		}
	}
	w.CreatedAt = time.Now()
	w.UpdatedAt = w.CreatedAt
	tx.m.wallets[w.WalletID] = *w
	return nil
}

func (tx *memTx) AdjustBalance(ctx context.Context, walletID string, delta decimal.Decimal) (decimal.Decimal, error) {
	w, ok := tx.m.wallets[walletID]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: wallet %s", models.ErrNotFound, walletID)
	}
	next := w.DigitalMoney.Add(delta)
	if next.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: wallet %s", models.ErrInsufficientFunds, walletID)
	}
	w.DigitalMoney = next
	tx.m.wallets[walletID] = w
	return next, nil
}

func (tx *memTx) InsertWalletTransaction(ctx context.Context, t *models.WalletTransaction) error {
	if _, ok := tx.m.wallets[t.WalletID]; !ok {
		return fmt.Errorf("%w: wallet %s", models.ErrReferentialConflict, t.WalletID)
	}
	if t.TransactionType == models.TxnWithdrawal && t.Status == models.ApprovalPending && tx.m.pendingWithdrawal(t.WalletID) {
		return fmt.Errorf("%w: a withdrawal is already pending", models.ErrDuplicateRequest)
	}
	tx.m.lastTxn++
	t.TransID = tx.m.lastTxn
	tx.m.txns[t.TransID] = *t
	return nil
}

func (tx *memTx) GetWalletTransactionForUpdate(ctx context.Context, transID int64) (*models.WalletTransaction, error) {
	t, ok := tx.m.txns[transID]
	if !ok {
		return nil, fmt.Errorf("%w: wallet transaction %d", models.ErrNotFound, transID)
	}
	return &t, nil
}

func (tx *memTx) HasPendingWithdrawal(ctx context.Context, walletID string) (bool, error) {
	return tx.m.pendingWithdrawal(walletID), nil
}

func (tx *memTx) SettleWalletTransaction(ctx context.Context, transID int64, decision models.Decision, comment *string, balanceAfter *decimal.Decimal, at time.Time) error {
	t, ok := tx.m.txns[transID]
	if !ok || t.Status != models.ApprovalPending {
		return fmt.Errorf("%w: wallet transaction %d", models.ErrAlreadyReviewed, transID)
	}
	t.Status = string(decision)
	t.Comment = comment
	t.BalanceAfter = balanceAfter
	t.ReviewedAt = &at
	tx.m.txns[transID] = t
	return nil
}

func (tx *memTx) InsertResume(ctx context.Context, r *models.Resume) error {
	if _, dup := tx.m.resumes[r.ResumeID]; dup {
		return fmt.Errorf("duplicate resume_id %s", r.ResumeID)
	}
	for _, other := range tx.m.resumes {
		if other.TaskID == r.TaskID {
			return fmt.Errorf("duplicate task_id %s", r.TaskID)
		}
	}
	r.CreatedAt = time.Now()
	tx.m.resumes[r.ResumeID] = *r
	return nil
}

// memCache implements Cache
type memCache struct {
	mu       sync.Mutex
	balances map[string]decimal.Decimal
	stats    *models.DashboardStats
	keys     map[string]bool
}

func newMemCache() *memCache {
	return &memCache{balances: map[string]decimal.Decimal{}, keys: map[string]bool{}}
}

func (c *memCache) GetBalance(ctx context.Context, ownerID, role string) (decimal.Decimal, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.balances[role+":"+ownerID]
	return b, ok, nil
}

func (c *memCache) SetBalance(ctx context.Context, ownerID, role string, balance decimal.Decimal) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.balances[role+":"+ownerID] = balance
	return nil
}

func (c *memCache) InvalidateBalance(ctx context.Context, ownerID, role string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.balances, role+":"+ownerID)
	return nil
}

func (c *memCache) GetStats(ctx context.Context) (*models.DashboardStats, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats, c.stats != nil, nil
}

func (c *memCache) SetStats(ctx context.Context, stats *models.DashboardStats) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats = stats
	return nil
}

func (c *memCache) InvalidateStats(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats = nil
	return nil
}

func (c *memCache) ClaimIdempotencyKey(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.keys[key] {
		return false, nil
	}
	c.keys[key] = true
	return true, nil
}

func (c *memCache) ReleaseIdempotencyKey(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.keys, key)
	return nil
}

// recordingPublisher implements Publisher
type recordingPublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *recordingPublisher) record(eventType string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, eventType)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.events...)
}

func (p *recordingPublisher) PublishTradeCreated(ctx context.Context, e *models.TradeCreatedEvent) error {
	return p.record(e.EventType)
}

func (p *recordingPublisher) PublishTradeReviewed(ctx context.Context, e *models.TradeReviewedEvent) error {
	return p.record(e.EventType)
}

func (p *recordingPublisher) PublishTradeSold(ctx context.Context, e *models.TradeSoldEvent) error {
	return p.record(e.EventType)
}

func (p *recordingPublisher) PublishWalletRequested(ctx context.Context, e *models.WalletRequestedEvent) error {
	return p.record(e.EventType)
}

func (p *recordingPublisher) PublishWalletReviewed(ctx context.Context, e *models.WalletReviewedEvent) error {
	return p.record(e.EventType)
}

// memObjects implements ObjectStore
type memObjects struct {
	mu        sync.Mutex
	stored    map[string][]byte
	deleted   []string
	failStore bool
	failDel   bool
}

func newMemObjects() *memObjects {
	return &memObjects{stored: map[string][]byte{}}
}

func (o *memObjects) URL(key string) string {
	return "https://files.test/" + key
}

func (o *memObjects) Store(ctx context.Context, body []byte, key, contentType string) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.failStore {
		return "", errors.New("bucket unavailable")
	}
	o.stored[key] = body
	return o.URL(key), nil
}

func (o *memObjects) Delete(ctx context.Context, publicURL string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.failDel {
		return errors.New("bucket unavailable")
	}
	o.deleted = append(o.deleted, publicURL)
	return nil
}

// testClock is a settable clock
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}
