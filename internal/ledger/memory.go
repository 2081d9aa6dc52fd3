package ledger

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/radieske/betting-exchange/internal/model"
)

// MemoryStore implementa Store em memória. Usado em testes e no modo LEDGER_BACKEND=memory;
// não sobrevive a reinícios.
type MemoryStore struct {
	mu      sync.Mutex
	users   map[string]*model.User
	orders  map[string][]*model.Order // userID -> ordens na ordem de inserção
	txs     map[string][]model.Transaction
	settled map[string]SettledMarket
}

// NewMemoryStore cria um ledger vazio.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:   make(map[string]*model.User),
		orders:  make(map[string][]*model.Order),
		txs:     make(map[string][]model.Transaction),
		settled: make(map[string]SettledMarket),
	}
}

func copyUser(u *model.User) *model.User {
	c := *u
	c.RunnerPnL = make(model.RunnerPnL, len(u.RunnerPnL))
	for k, v := range u.RunnerPnL {
		c.RunnerPnL[k] = v
	}
	return &c
}

func (s *MemoryStore) CreateUser(_ context.Context, u *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[u.ID]; ok {
		return ErrUserExists
	}
	for _, other := range s.users {
		if u.Username != "" && strings.EqualFold(other.Username, u.Username) {
			return ErrUserExists
		}
	}
	s.users[u.ID] = copyUser(u)
	return nil
}

func (s *MemoryStore) FindUser(_ context.Context, userID string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	return copyUser(u), nil
}

func (s *MemoryStore) findOrderLocked(userID, requestID string) *model.Order {
	for _, o := range s.orders[userID] {
		if o.RequestID == requestID {
			return o
		}
	}
	return nil
}

func (s *MemoryStore) FindOrder(_ context.Context, userID, requestID string) (*model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o := s.findOrderLocked(userID, requestID)
	if o == nil {
		return nil, ErrOrderNotFound
	}
	c := *o
	return &c, nil
}

func (s *MemoryStore) ListOrders(_ context.Context, userID string, f OrderFilter) ([]model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[userID]; !ok {
		return nil, ErrUserNotFound
	}
	out := []model.Order{}
	for _, o := range s.orders[userID] {
		if f.match(o) {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListTransactions(_ context.Context, userID string) ([]model.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[userID]; !ok {
		return nil, ErrUserNotFound
	}
	return append([]model.Transaction{}, s.txs[userID]...), nil
}

func (s *MemoryStore) appendTxLocked(userID string, tx model.Transaction) {
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}
	tx.UserID = userID
	s.txs[userID] = append(s.txs[userID], tx)
}

func (s *MemoryStore) AppendOrders(_ context.Context, userID string, orders []model.Order, tx model.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[userID]; !ok {
		return ErrUserNotFound
	}
	for i := range orders {
		o := orders[i]
		o.UserID = userID
		s.orders[userID] = append(s.orders[userID], &o)
	}
	s.appendTxLocked(userID, tx)
	return nil
}

func (s *MemoryStore) UpdateOrderStatus(_ context.Context, userID, requestID string, expected model.OrderStatus, upd OrderUpdate) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o := s.findOrderLocked(userID, requestID)
	if o == nil || o.Status != expected {
		return false, nil
	}
	o.Status = upd.Status
	o.Matched = upd.Matched
	o.ExecutedPrice = upd.ExecutedPrice
	o.UpdatedAt = upd.At
	return true, nil
}

func (s *MemoryStore) CancelOpenOrders(_ context.Context, userID, requestID string, at time.Time) (*CancelResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return nil, ErrUserNotFound
	}

	var targets []*model.Order
	if requestID != "" {
		o := s.findOrderLocked(userID, requestID)
		if o == nil {
			return nil, ErrOrderNotFound
		}
		if !o.Status.Open() {
			return nil, ErrNotCancellable
		}
		targets = append(targets, o)
	} else {
		for _, o := range s.orders[userID] {
			if o.Status.Open() {
				targets = append(targets, o)
			}
		}
	}

	res := &CancelResult{Refund: decimal.Zero}
	if len(targets) == 0 {
		res.User = copyUser(u)
		return res, nil
	}

	for _, o := range targets {
		res.Refund = res.Refund.Add(o.Size)
	}
	txType := model.TxBetCancelled
	if requestID == "" {
		txType = model.TxBetCancelledAll
	}
	tx, _ := applyAdjustment(u, WalletAdjustment{
		DeltaWallet: res.Refund,
		Transaction: model.Transaction{Type: txType, Amount: res.Refund, RequestID: requestID, CreatedAt: at},
	})
	for _, o := range targets {
		o.Status = model.StatusCancelled
		o.UpdatedAt = at
		res.Cancelled = append(res.Cancelled, *o)
	}
	u.UpdatedAt = at
	s.appendTxLocked(userID, tx)
	res.User = copyUser(u)
	return res, nil
}

func (s *MemoryStore) AdjustWallet(_ context.Context, userID string, adj WalletAdjustment) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	work := copyUser(u)
	tx, err := applyAdjustment(work, adj)
	if err != nil {
		return nil, err
	}
	work.UpdatedAt = time.Now().UTC()
	s.users[userID] = work
	s.appendTxLocked(userID, tx)
	return copyUser(work), nil
}

func (s *MemoryStore) RecomputeLiability(_ context.Context, userID string, fn LiabilityFunc) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	var active []model.Order
	for _, o := range s.orders[userID] {
		if o.Status.Active() {
			active = append(active, *o)
		}
	}
	st := fn(*copyUser(u), active)
	u.WalletBalance = st.WalletBalance
	u.Liable = st.Liable
	u.RunnerPnL = st.RunnerPnL
	u.InitialWalletBalance = decimal.NewNullDecimal(st.Baseline)
	u.UpdatedAt = time.Now().UTC()
	return copyUser(u), nil
}

func (s *MemoryStore) ApplySettlement(_ context.Context, userID, marketID string, at time.Time, fn SettleFunc) (*SettlementOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	var matched []*model.Order
	for _, o := range s.orders[userID] {
		if o.MarketID == marketID && o.Status == model.StatusMatched {
			matched = append(matched, o)
		}
	}
	out := &SettlementOutcome{UserID: userID}
	if len(matched) == 0 {
		out.Skipped = true
		out.WalletBefore, out.WalletAfter, out.LiableAfter = u.WalletBalance, u.WalletBalance, u.Liable
		return out, nil
	}

	snapshot := make([]model.Order, len(matched))
	for i, o := range matched {
		snapshot[i] = *o
	}
	totals := fn(snapshot)

	before := applySettlement(u, totals)
	for _, o := range matched {
		o.Status = model.StatusSettled
		o.UpdatedAt = at
		settledAt := at
		o.SettledAt = &settledAt
	}
	u.UpdatedAt = at
	s.appendTxLocked(userID, settlementTransaction(userID, marketID, totals, before, u.WalletBalance, uuid.NewString(), at))

	out.Orders = len(matched)
	out.Totals = totals
	out.WalletBefore = before
	out.WalletAfter = u.WalletBalance
	out.LiableAfter = u.Liable
	return out, nil
}

func (s *MemoryStore) ListOpenOrders(_ context.Context, limit int) ([]model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.Order
	for _, orders := range s.orders {
		for _, o := range orders {
			if o.Status.Open() {
				out = append(out, *o)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) ListUsersWithMatchedOrders(_ context.Context, marketID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []string
	for userID, orders := range s.orders {
		for _, o := range orders {
			if o.MarketID == marketID && o.Status == model.StatusMatched {
				out = append(out, userID)
				break
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStore) ListMarketsWithMatchedOrders(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]struct{})
	for _, orders := range s.orders {
		for _, o := range orders {
			if o.Status == model.StatusMatched {
				seen[o.MarketID] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(seen))
	for m := range seen {
		out = append(out, m)
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStore) IsMarketSettled(_ context.Context, marketID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.settled[marketID]
	return ok, nil
}

func (s *MemoryStore) MarkMarketSettled(_ context.Context, m SettledMarket) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.settled[m.MarketID]; !ok {
		s.settled[m.MarketID] = m
	}
	return nil
}
