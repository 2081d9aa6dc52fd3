// Package liability calcula PnL por seleção, responsabilidade por mercado e o saldo derivado
// de um usuário a partir das suas ordens ativas.
package liability

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/radieske/betting-exchange/internal/ledger"
	"github.com/radieske/betting-exchange/internal/model"
)

var one = decimal.NewFromInt(1)

// MarketExposure é a posição de um usuário em um mercado.
type MarketExposure struct {
	MarketID        string
	RunnerPnL       model.RunnerPnL
	Liability       decimal.Decimal
	SingleSelection bool
}

// Snapshot é o resultado de um recálculo completo.
type Snapshot struct {
	WalletBalance decimal.Decimal
	Liable        decimal.Decimal
	RunnerPnL     model.RunnerPnL
	Markets       []MarketExposure
}

// Exposure calcula o PnL de cada seleção e a responsabilidade de um único mercado.
//
// BACK soma (odd−1)×stake na própria seleção e subtrai o stake das demais; LAY é o espelho.
// Com uma única seleção presente a responsabilidade é a exposição simples (stake de BACK mais
// (odd−1)×stake de LAY); com mais de uma é a soma dos PnL negativos em módulo.
func Exposure(marketID string, orders []model.Order) MarketExposure {
	var selections []string
	pnl := model.RunnerPnL{}
	for _, o := range orders {
		k := o.SelectionKey()
		if _, ok := pnl[k]; !ok {
			pnl[k] = decimal.Zero
			selections = append(selections, k)
		}
	}

	for _, o := range orders {
		own := o.SelectionKey()
		size := o.EffectiveSize()
		win := o.EffectivePrice().Sub(one).Mul(size)
		for _, k := range selections {
			switch {
			case k == own && o.Side == model.SideBack:
				pnl[k] = pnl[k].Add(win)
			case k == own:
				pnl[k] = pnl[k].Sub(win)
			case o.Side == model.SideBack:
				pnl[k] = pnl[k].Sub(size)
			default:
				pnl[k] = pnl[k].Add(size)
			}
		}
	}

	exp := MarketExposure{MarketID: marketID, RunnerPnL: pnl, Liability: decimal.Zero, SingleSelection: len(selections) == 1}
	if exp.SingleSelection {
		for _, o := range orders {
			exp.Liability = exp.Liability.Add(model.LiableFor(o.Side, o.EffectivePrice(), o.EffectiveSize()))
		}
		return exp
	}
	for _, v := range pnl {
		if v.IsNegative() {
			exp.Liability = exp.Liability.Add(v.Abs())
		}
	}
	return exp
}

// Compute agrega a exposição de todos os mercados das ordens informadas.
// Ordens fora de PENDING/UNMATCHED/MATCHED são ignoradas. O saldo é baseline − responsabilidade, nunca negativo.
func Compute(baseline decimal.Decimal, orders []model.Order) Snapshot {
	byMarket := make(map[string][]model.Order)
	var markets []string
	for _, o := range orders {
		if !o.Status.Active() {
			continue
		}
		if _, ok := byMarket[o.MarketID]; !ok {
			markets = append(markets, o.MarketID)
		}
		byMarket[o.MarketID] = append(byMarket[o.MarketID], o)
	}
	sort.Strings(markets)

	snap := Snapshot{Liable: decimal.Zero, RunnerPnL: model.RunnerPnL{}}
	for _, m := range markets {
		exp := Exposure(m, byMarket[m])
		snap.Markets = append(snap.Markets, exp)
		snap.Liable = snap.Liable.Add(exp.Liability)
		for k, v := range exp.RunnerPnL {
			snap.RunnerPnL[k] = snap.RunnerPnL[k].Add(v)
		}
	}
	snap.WalletBalance = baseline.Sub(snap.Liable)
	if snap.WalletBalance.IsNegative() {
		snap.WalletBalance = decimal.Zero
	}
	return snap
}

// State é o LiabilityFunc usado pelo ledger: o recálculo roda sobre o estado lido sob lock.
func State(u model.User, active []model.Order) ledger.LiabilityState {
	baseline := u.Baseline()
	snap := Compute(baseline, active)
	return ledger.LiabilityState{
		WalletBalance: snap.WalletBalance,
		Liable:        snap.Liable,
		RunnerPnL:     snap.RunnerPnL,
		Baseline:      baseline,
	}
}

// AvailableForLay é o saldo livre mais os PnL positivos já gravados.
// Posições perdedoras não servem de margem.
func AvailableForLay(u model.User) decimal.Decimal {
	avail := u.WalletBalance
	for _, v := range u.RunnerPnL {
		if v.IsPositive() {
			avail = avail.Add(v)
		}
	}
	return avail
}

// Project é a responsabilidade total projetada das ordens ativas existentes somadas às novas.
func Project(existing, incoming []model.Order) decimal.Decimal {
	all := make([]model.Order, 0, len(existing)+len(incoming))
	all = append(all, existing...)
	all = append(all, incoming...)
	return Compute(decimal.Zero, all).Liable
}
