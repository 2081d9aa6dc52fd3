package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/radieske/betting-exchange/internal/accounts"
	"github.com/radieske/betting-exchange/internal/exchange-service/dto"
	"github.com/radieske/betting-exchange/internal/ledger"
	"github.com/radieske/betting-exchange/internal/model"
	"github.com/radieske/betting-exchange/internal/orders"
	"github.com/radieske/betting-exchange/internal/settlement"
)

// UserHeader carrega a identidade do chamador, preenchida pela camada de autenticação externa.
const UserHeader = "X-User-ID"

var (
	errUnauthenticated = errors.New("missing caller identity")
	errForbidden       = errors.New("insufficient permissions")
	errBadJSON         = errors.New("invalid json body")
)

// API expõe os endpoints REST do núcleo da exchange e o WebSocket de notificações
type API struct {
	Log      *zap.Logger
	Store    ledger.Store
	Orders   *orders.Controller
	Accounts *accounts.Service
	Settler  settlement.Settler
	WS       http.HandlerFunc // opcional
}

// Router retorna o roteador HTTP com todas as rotas
func (a *API) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	if a.WS != nil {
		r.Get("/ws", a.WS)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))
		r.Use(a.identify)

		r.Post("/orders", a.placeOrders)
		r.Post("/orders/cancel-all", a.cancelAll)
		r.Post("/orders/cancel/{requestId}", a.cancelOne)
		r.Get("/orders/unmatched", a.listOrders(model.StatusPending, model.StatusUnmatched))
		r.Get("/orders/matched", a.listOrders(model.StatusMatched))
		r.Get("/orders/all", a.listOrders())
		r.Get("/orders/transactions", a.transactions)

		r.Get("/users/me", a.me)
		r.Post("/users", a.createUser)
		r.Post("/users/{id}/wallet", a.adjustWallet)

		r.Post("/markets/{marketId}/settle", a.settleMarket)
	})
	return r
}

type ctxKey struct{}

func contextWithCaller(r *http.Request, id string) context.Context {
	return context.WithValue(r.Context(), ctxKey{}, id)
}

func callerID(r *http.Request) string {
	id, _ := r.Context().Value(ctxKey{}).(string)
	return id
}

func (a *API) identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(UserHeader))
		if id == "" {
			writeError(w, http.StatusUnauthorized, errUnauthenticated)
			return
		}
		next.ServeHTTP(w, r.WithContext(contextWithCaller(r, id)))
	})
}

// writeJSON serializa a resposta em JSON e define o status HTTP
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, dto.ErrorResponse{Error: err.Error()})
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errBadJSON
	}
	return nil
}

func (a *API) placeOrders(w http.ResponseWriter, r *http.Request) {
	var body []dto.PlaceOrder
	if err := decode(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("orders must be an array"))
		return
	}
	reqs := make([]orders.Request, len(body))
	for i, o := range body {
		reqs[i] = orders.Request{MarketID: o.MarketID, SelectionID: o.SelectionID, Side: o.Side, Price: o.Price, Size: o.Size}
	}

	placed, err := a.Orders.Place(r.Context(), callerID(r), reqs)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.PlaceOrdersResponse{Message: "Bet placed successfully", Orders: placed})
}

func (a *API) cancelOne(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "requestId")
	res, err := a.Orders.Cancel(r.Context(), callerID(r), id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.CancelResponse{Success: true, Message: "Bet cancelled", OrderID: id, Refund: res.Refund})
}

func (a *API) cancelAll(w http.ResponseWriter, r *http.Request) {
	res, err := a.Orders.CancelAll(r.Context(), callerID(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	msg := "All unmatched bets cancelled"
	if len(res.Cancelled) == 0 {
		msg = "No unmatched bets to cancel"
	}
	writeJSON(w, http.StatusOK, dto.CancelResponse{Success: true, Message: msg, Refund: res.Refund})
}

// listOrders filtra por status; matchId restringe ao mercado.
func (a *API) listOrders(statuses ...model.OrderStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := callerID(r)
		if _, err := a.Store.FindUser(r.Context(), userID); err != nil {
			a.fail(w, r, err)
			return
		}
		list, err := a.Store.ListOrders(r.Context(), userID, ledger.OrderFilter{
			Statuses: statuses,
			MarketID: r.URL.Query().Get("matchId"),
		})
		if err != nil {
			a.fail(w, r, err)
			return
		}
		if list == nil {
			list = []model.Order{}
		}
		writeJSON(w, http.StatusOK, list)
	}
}

func (a *API) transactions(w http.ResponseWriter, r *http.Request) {
	txs, err := a.Accounts.Transactions(r.Context(), callerID(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if txs == nil {
		txs = []model.Transaction{}
	}
	writeJSON(w, http.StatusOK, txs)
}

func (a *API) me(w http.ResponseWriter, r *http.Request) {
	u, err := a.Accounts.Me(r.Context(), callerID(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (a *API) createUser(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateUserRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	u, err := a.Accounts.Create(r.Context(), callerID(r), accounts.NewUser{
		Username:       req.Username,
		Role:           req.Role,
		InitialBalance: req.InitialBalance,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

func (a *API) adjustWallet(w http.ResponseWriter, r *http.Request) {
	var req dto.WalletRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	tx, err := a.Accounts.AdjustWallet(r.Context(), callerID(r), chi.URLParam(r, "id"), accounts.Adjustment{
		Type:        req.Type,
		Amount:      req.Amount,
		Description: req.Description,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.WalletResponse{Success: true, Transaction: *tx})
}

// settleMarket dispara a liquidação manual de um mercado (admin ou superior).
func (a *API) settleMarket(w http.ResponseWriter, r *http.Request) {
	actor, err := a.Store.FindUser(r.Context(), callerID(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if !actor.Role.AtLeast(model.RoleAdmin) {
		writeError(w, http.StatusForbidden, errForbidden)
		return
	}
	var req dto.SettleRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.WinningSelectionID <= 0 {
		writeError(w, http.StatusBadRequest, errors.New("winningSelectionId is required"))
		return
	}

	marketID := chi.URLParam(r, "marketId")
	rep, err := a.Settler.Settle(r.Context(), marketID, req.WinningSelectionID)
	if err != nil && !errors.Is(err, settlement.ErrIncomplete) {
		a.fail(w, r, err)
		return
	}

	resp := dto.SettleResponse{
		MarketID:           marketID,
		WinningSelectionID: req.WinningSelectionID,
		AlreadySettled:     rep.AlreadySettled,
		Settled:            len(rep.Outcomes),
	}
	status := http.StatusOK
	if len(rep.Failed) > 0 {
		// o restante é concluído por uma nova chamada ou pelo poller
		status = http.StatusAccepted
		resp.Failed = make(map[string]string, len(rep.Failed))
		for userID, ferr := range rep.Failed {
			resp.Failed[userID] = ferr.Error()
		}
	}
	writeJSON(w, status, resp)
}
