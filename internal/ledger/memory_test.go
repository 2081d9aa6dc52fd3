package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/radieske/betting-exchange/internal/ledger"
	"github.com/radieske/betting-exchange/internal/model"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func seedUser(t *testing.T, s *ledger.MemoryStore, id string, wallet string) {
	t.Helper()
	require.NoError(t, s.CreateUser(context.Background(), &model.User{
		ID:            id,
		Username:      id,
		Role:          model.RoleUser,
		WalletBalance: d(wallet),
		RunnerPnL:     model.RunnerPnL{},
	}))
}

func pending(id, market string, sel int64, side model.Side, price, size string) model.Order {
	p, s := d(price), d(size)
	return model.Order{
		RequestID:   id,
		MarketID:    market,
		SelectionID: sel,
		Side:        side,
		Price:       p,
		Size:        s,
		Liable:      model.LiableFor(side, p, s),
		Status:      model.StatusPending,
		CreatedAt:   time.Now().UTC(),
	}
}

func TestMemoryStore_UnknownUser(t *testing.T) {
	s := ledger.NewMemoryStore()
	ctx := context.Background()

	_, err := s.FindUser(ctx, "ghost")
	assert.ErrorIs(t, err, ledger.ErrUserNotFound)

	err = s.AppendOrders(ctx, "ghost", nil, model.Transaction{})
	assert.ErrorIs(t, err, ledger.ErrUserNotFound)

	_, err = s.CancelOpenOrders(ctx, "ghost", "", time.Now())
	assert.ErrorIs(t, err, ledger.ErrUserNotFound)
}

func TestMemoryStore_CreateUserTwice(t *testing.T) {
	s := ledger.NewMemoryStore()
	seedUser(t, s, "u1", "10")

	err := s.CreateUser(context.Background(), &model.User{ID: "u1"})
	assert.ErrorIs(t, err, ledger.ErrUserExists)
}

func TestMemoryStore_UpdateOrderStatusIsCompareAndSwap(t *testing.T) {
	s := ledger.NewMemoryStore()
	ctx := context.Background()
	seedUser(t, s, "u1", "1000")
	require.NoError(t, s.AppendOrders(ctx, "u1", []model.Order{pending("r1", "M1", 101, model.SideBack, "2.0", "100")},
		model.Transaction{Type: model.TxBetPlaced}))

	upd := ledger.OrderUpdate{Status: model.StatusMatched, Matched: d("100"), ExecutedPrice: d("2.1"), At: time.Now()}

	ok, err := s.UpdateOrderStatus(ctx, "u1", "r1", model.StatusPending, upd)
	require.NoError(t, err)
	assert.True(t, ok)

	// segunda tentativa concorrente: o estado esperado já não confere
	ok, err = s.UpdateOrderStatus(ctx, "u1", "r1", model.StatusPending, upd)
	require.NoError(t, err)
	assert.False(t, ok)

	o, err := s.FindOrder(ctx, "u1", "r1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusMatched, o.Status)
	assert.True(t, o.Matched.Equal(d("100")))
	assert.True(t, o.Liable.Equal(d("100")), "liable must not change after acceptance")
}

func TestMemoryStore_CancelRefundsSizeOnce(t *testing.T) {
	s := ledger.NewMemoryStore()
	ctx := context.Background()
	seedUser(t, s, "u1", "1000")
	require.NoError(t, s.AppendOrders(ctx, "u1", []model.Order{pending("r1", "M1", 102, model.SideLay, "1.5", "50")},
		model.Transaction{Type: model.TxBetPlaced}))

	res, err := s.CancelOpenOrders(ctx, "u1", "r1", time.Now())
	require.NoError(t, err)
	assert.True(t, res.Refund.Equal(d("50")), "refund uses size, got %s", res.Refund)
	assert.True(t, res.User.WalletBalance.Equal(d("1050")))
	require.Len(t, res.Cancelled, 1)
	assert.Equal(t, model.StatusCancelled, res.Cancelled[0].Status)

	_, err = s.CancelOpenOrders(ctx, "u1", "r1", time.Now())
	assert.ErrorIs(t, err, ledger.ErrNotCancellable)

	u, err := s.FindUser(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, u.WalletBalance.Equal(d("1050")))

	txs, err := s.ListTransactions(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, model.TxBetCancelled, txs[1].Type)
	assert.True(t, txs[1].PreviousBalance.Equal(d("1000")))
	assert.True(t, txs[1].NewBalance.Equal(d("1050")))
}

func TestMemoryStore_CancelAllWithNothingOpen(t *testing.T) {
	s := ledger.NewMemoryStore()
	ctx := context.Background()
	seedUser(t, s, "u1", "1000")

	res, err := s.CancelOpenOrders(ctx, "u1", "", time.Now())
	require.NoError(t, err)
	assert.True(t, res.Refund.IsZero())
	assert.Empty(t, res.Cancelled)
	assert.True(t, res.User.WalletBalance.Equal(d("1000")))

	txs, err := s.ListTransactions(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestMemoryStore_CancelAllSkipsMatched(t *testing.T) {
	s := ledger.NewMemoryStore()
	ctx := context.Background()
	seedUser(t, s, "u1", "0")
	require.NoError(t, s.AppendOrders(ctx, "u1", []model.Order{
		pending("r1", "M1", 101, model.SideBack, "2.0", "10"),
		pending("r2", "M1", 102, model.SideBack, "3.0", "20"),
		pending("r3", "M2", 7, model.SideLay, "4.0", "5"),
	}, model.Transaction{Type: model.TxBetPlaced}))
	_, err := s.UpdateOrderStatus(ctx, "u1", "r2", model.StatusPending,
		ledger.OrderUpdate{Status: model.StatusMatched, Matched: d("20"), ExecutedPrice: d("3.0"), At: time.Now()})
	require.NoError(t, err)

	res, err := s.CancelOpenOrders(ctx, "u1", "", time.Now())
	require.NoError(t, err)
	assert.True(t, res.Refund.Equal(d("15")))
	assert.Len(t, res.Cancelled, 2)

	matched, err := s.ListOrders(ctx, "u1", ledger.OrderFilter{Statuses: []model.OrderStatus{model.StatusMatched}})
	require.NoError(t, err)
	require.Len(t, matched, 1)
	assert.Equal(t, "r2", matched[0].RequestID)

	txs, _ := s.ListTransactions(ctx, "u1")
	assert.Equal(t, model.TxBetCancelledAll, txs[len(txs)-1].Type)
}

func TestMemoryStore_AdjustWalletOverdraft(t *testing.T) {
	s := ledger.NewMemoryStore()
	ctx := context.Background()
	seedUser(t, s, "u1", "100")

	_, err := s.AdjustWallet(ctx, "u1", ledger.WalletAdjustment{DeltaWallet: d("-150"), DeltaBaseline: d("-150"), RejectOverdraft: true})
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)

	u, err := s.AdjustWallet(ctx, "u1", ledger.WalletAdjustment{DeltaWallet: d("-150")})
	require.NoError(t, err)
	assert.True(t, u.WalletBalance.IsZero(), "floored at zero")
	assert.True(t, u.InitialWalletBalance.Valid)
	assert.True(t, u.InitialWalletBalance.Decimal.Equal(d("100")))

	u, err = s.AdjustWallet(ctx, "u1", ledger.WalletAdjustment{DeltaWallet: d("40"), DeltaBaseline: d("40")})
	require.NoError(t, err)
	assert.True(t, u.WalletBalance.Equal(d("40")))
	assert.True(t, u.InitialWalletBalance.Decimal.Equal(d("140")))
}

func TestMemoryStore_ApplySettlement(t *testing.T) {
	s := ledger.NewMemoryStore()
	ctx := context.Background()
	seedUser(t, s, "u1", "900")
	require.NoError(t, s.AppendOrders(ctx, "u1", []model.Order{pending("r1", "M1", 101, model.SideBack, "2.0", "100")},
		model.Transaction{Type: model.TxBetPlaced}))
	_, err := s.RecomputeLiability(ctx, "u1", func(u model.User, _ []model.Order) ledger.LiabilityState {
		return ledger.LiabilityState{WalletBalance: d("900"), Liable: d("100"), RunnerPnL: model.RunnerPnL{}, Baseline: d("1000")}
	})
	require.NoError(t, err)
	_, err = s.UpdateOrderStatus(ctx, "u1", "r1", model.StatusPending,
		ledger.OrderUpdate{Status: model.StatusMatched, Matched: d("100"), ExecutedPrice: d("2.1"), At: time.Now()})
	require.NoError(t, err)

	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	fn := func(matched []model.Order) ledger.SettlementTotals {
		require.Len(t, matched, 1)
		return ledger.SettlementTotals{Profit: d("110"), Loss: decimal.Zero, Release: d("100")}
	}
	out, err := s.ApplySettlement(ctx, "u1", "M1", at, fn)
	require.NoError(t, err)
	assert.False(t, out.Skipped)
	assert.True(t, out.WalletBefore.Equal(d("900")))
	assert.True(t, out.WalletAfter.Equal(d("1110")))
	assert.True(t, out.LiableAfter.IsZero())

	o, err := s.FindOrder(ctx, "u1", "r1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusSettled, o.Status)
	require.NotNil(t, o.SettledAt)
	assert.Equal(t, at, *o.SettledAt)

	u, _ := s.FindUser(ctx, "u1")
	assert.True(t, u.InitialWalletBalance.Decimal.Equal(d("1110")), "baseline absorbs the net result")

	again, err := s.ApplySettlement(ctx, "u1", "M1", at, fn)
	require.NoError(t, err)
	assert.True(t, again.Skipped)

	txs, _ := s.ListTransactions(ctx, "u1")
	last := txs[len(txs)-1]
	assert.Equal(t, model.TxBetSettlement, last.Type)
	assert.Equal(t, "M1", last.MarketID)
	assert.True(t, last.Net.Equal(d("110")))
	assert.True(t, last.ReleasedLiability.Equal(d("100")))
}

func TestMemoryStore_MarkMarketSettledFirstWriteWins(t *testing.T) {
	s := ledger.NewMemoryStore()
	ctx := context.Background()

	ok, err := s.IsMarketSettled(ctx, "M1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.MarkMarketSettled(ctx, ledger.SettledMarket{MarketID: "M1", WinningSelectionID: 101}))
	require.NoError(t, s.MarkMarketSettled(ctx, ledger.SettledMarket{MarketID: "M1", WinningSelectionID: 999}))

	ok, _ = s.IsMarketSettled(ctx, "M1")
	assert.True(t, ok)
}

func TestMemoryStore_ListsForBackgroundJobs(t *testing.T) {
	s := ledger.NewMemoryStore()
	ctx := context.Background()
	seedUser(t, s, "a", "0")
	seedUser(t, s, "b", "0")
	base := time.Now().UTC()
	o1 := pending("a1", "M1", 1, model.SideBack, "2", "1")
	o1.CreatedAt = base
	o2 := pending("b1", "M2", 1, model.SideBack, "2", "1")
	o2.CreatedAt = base.Add(time.Second)
	require.NoError(t, s.AppendOrders(ctx, "a", []model.Order{o1}, model.Transaction{}))
	require.NoError(t, s.AppendOrders(ctx, "b", []model.Order{o2}, model.Transaction{}))

	open, err := s.ListOpenOrders(ctx, 1)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "a1", open[0].RequestID)

	_, _ = s.UpdateOrderStatus(ctx, "b", "b1", model.StatusPending,
		ledger.OrderUpdate{Status: model.StatusMatched, Matched: d("1"), ExecutedPrice: d("2"), At: time.Now()})

	markets, err := s.ListMarketsWithMatchedOrders(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"M2"}, markets)

	users, err := s.ListUsersWithMatchedOrders(ctx, "M2")
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, users)
}

func TestMemoryStore_WalletNeverNegative(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := ledger.NewMemoryStore()
		ctx := context.Background()
		_ = s.CreateUser(ctx, &model.User{ID: "u", WalletBalance: decimal.New(rapid.Int64Range(0, 10000).Draw(t, "wallet"), 0)})

		steps := rapid.IntRange(1, 20).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			delta := decimal.New(rapid.Int64Range(-5000, 5000).Draw(t, "delta"), 0)
			switch rapid.IntRange(0, 2).Draw(t, "op") {
			case 0:
				_, _ = s.AdjustWallet(ctx, "u", ledger.WalletAdjustment{DeltaWallet: delta, DeltaLiable: delta.Neg()})
			case 1:
				_, _ = s.AdjustWallet(ctx, "u", ledger.WalletAdjustment{DeltaWallet: delta, RejectOverdraft: true})
			case 2:
				_ = s.AppendOrders(ctx, "u", []model.Order{{RequestID: rapid.StringMatching(`r[0-9]{4}`).Draw(t, "rid"),
					MarketID: "M", SelectionID: 1, Side: model.SideBack, Price: d("2"), Size: delta.Abs(), Liable: delta.Abs(),
					Status: model.StatusPending}}, model.Transaction{})
				_, _ = s.CancelOpenOrders(ctx, "u", "", time.Now())
			}
			u, err := s.FindUser(ctx, "u")
			if err != nil {
				t.Fatal(err)
			}
			if u.WalletBalance.IsNegative() || u.Liable.IsNegative() {
				t.Fatalf("negative state wallet=%s liable=%s", u.WalletBalance, u.Liable)
			}
		}
	})
}
