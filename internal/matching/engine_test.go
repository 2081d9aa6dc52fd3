package matching_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/radieske/betting-exchange/internal/matching"
	"github.com/radieske/betting-exchange/internal/model"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func order(side model.Side, price, size string) model.Order {
	return model.Order{
		RequestID:   "r1",
		MarketID:    "M1",
		SelectionID: 101,
		Side:        side,
		Price:       d(price),
		Size:        d(size),
		Status:      model.StatusPending,
	}
}

func TestMatch_BackCrossesAtHighestBack(t *testing.T) {
	book := model.Book{AvailableToBack: []model.PriceSize{{Price: d("2.1"), Size: d("500")}}}

	res := matching.Match(order(model.SideBack, "2.0", "100"), book)

	assert.Equal(t, model.StatusMatched, res.Status)
	assert.True(t, res.ExecutedPrice.Equal(d("2.1")), "executed %s", res.ExecutedPrice)
	assert.True(t, res.MatchedSize.Equal(d("100")))
}

func TestMatch_BackPicksBestOfSeveralLevels(t *testing.T) {
	book := model.Book{AvailableToBack: []model.PriceSize{
		{Price: d("1.9"), Size: d("10")},
		{Price: d("2.3"), Size: d("1")},
		{Price: d("2.2"), Size: d("50")},
	}}

	res := matching.Match(order(model.SideBack, "2.0", "100"), book)

	require.Equal(t, model.StatusMatched, res.Status)
	assert.True(t, res.ExecutedPrice.Equal(d("2.3")))
}

func TestMatch_BackBelowRequestedStaysUnmatched(t *testing.T) {
	book := model.Book{AvailableToBack: []model.PriceSize{{Price: d("1.95"), Size: d("500")}}}

	res := matching.Match(order(model.SideBack, "2.0", "100"), book)

	assert.Equal(t, model.StatusUnmatched, res.Status)
	assert.True(t, res.ExecutedPrice.Equal(d("2.0")))
	assert.True(t, res.MatchedSize.IsZero())
}

func TestMatch_LayAboveRequestedStaysUnmatched(t *testing.T) {
	book := model.Book{AvailableToLay: []model.PriceSize{{Price: d("1.6"), Size: d("10")}}}

	res := matching.Match(order(model.SideLay, "1.5", "50"), book)

	assert.Equal(t, model.StatusUnmatched, res.Status)
	assert.True(t, res.ExecutedPrice.Equal(d("1.5")))
}

func TestMatch_LayCrossesAtLowestLay(t *testing.T) {
	book := model.Book{AvailableToLay: []model.PriceSize{
		{Price: d("1.48"), Size: d("10")},
		{Price: d("1.45"), Size: d("3")},
	}}

	res := matching.Match(order(model.SideLay, "1.5", "50"), book)

	require.Equal(t, model.StatusMatched, res.Status)
	assert.True(t, res.ExecutedPrice.Equal(d("1.45")))
	assert.True(t, res.MatchedSize.Equal(d("50")))
}

func TestMatch_EmptySideIsUnmatched(t *testing.T) {
	// só há ofertas de lay; uma ordem BACK não tem contra o que casar
	book := model.Book{AvailableToLay: []model.PriceSize{{Price: d("1.01"), Size: d("999")}}}

	res := matching.Match(order(model.SideBack, "1.5", "10"), book)

	assert.Equal(t, model.StatusUnmatched, res.Status)
	assert.True(t, res.ExecutedPrice.Equal(d("1.5")))
}

func genLevels(t *rapid.T, label string) []model.PriceSize {
	n := rapid.IntRange(0, 5).Draw(t, label+"_n")
	out := make([]model.PriceSize, n)
	for i := range out {
		out[i] = model.PriceSize{
			Price: decimal.New(rapid.Int64Range(101, 1000).Draw(t, label+"_p"), -2),
			Size:  decimal.New(rapid.Int64Range(1, 10000).Draw(t, label+"_s"), -2),
		}
	}
	return out
}

func TestMatch_PureAndAllOrNothing(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		side := rapid.SampledFrom([]model.Side{model.SideBack, model.SideLay}).Draw(t, "side")
		o := model.Order{
			Side:  side,
			Price: decimal.New(rapid.Int64Range(101, 1000).Draw(t, "price"), -2),
			Size:  decimal.New(rapid.Int64Range(1, 100000).Draw(t, "size"), -2),
		}
		book := model.Book{AvailableToBack: genLevels(t, "back"), AvailableToLay: genLevels(t, "lay")}

		first := matching.Match(o, book)
		second := matching.Match(o, book)

		if first.Status != second.Status || !first.ExecutedPrice.Equal(second.ExecutedPrice) || !first.MatchedSize.Equal(second.MatchedSize) {
			t.Fatalf("match is not deterministic: %+v vs %+v", first, second)
		}
		switch first.Status {
		case model.StatusMatched:
			if !first.MatchedSize.Equal(o.Size) {
				t.Fatalf("partial match %s of %s", first.MatchedSize, o.Size)
			}
			if side == model.SideBack && first.ExecutedPrice.LessThan(o.Price) {
				t.Fatalf("back executed below requested: %s < %s", first.ExecutedPrice, o.Price)
			}
			if side == model.SideLay && first.ExecutedPrice.GreaterThan(o.Price) {
				t.Fatalf("lay executed above requested: %s > %s", first.ExecutedPrice, o.Price)
			}
		case model.StatusUnmatched:
			if !first.MatchedSize.IsZero() || !first.ExecutedPrice.Equal(o.Price) {
				t.Fatalf("unmatched result must keep requested price and zero size: %+v", first)
			}
		default:
			t.Fatalf("unexpected status %s", first.Status)
		}
	})
}
