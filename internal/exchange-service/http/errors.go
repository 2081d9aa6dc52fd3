package httpapi

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/radieske/betting-exchange/internal/accounts"
	"github.com/radieske/betting-exchange/internal/ledger"
	"github.com/radieske/betting-exchange/internal/orders"
)

// statusFor traduz erros de domínio em status HTTP. Erros desconhecidos viram 500
// e a mensagem original fica só no log.
func statusFor(err error) int {
	switch {
	case errors.Is(err, orders.ErrInvalidOrder),
		errors.Is(err, orders.ErrInsufficientFunds),
		errors.Is(err, ledger.ErrInsufficientBalance),
		errors.Is(err, ledger.ErrNotCancellable),
		errors.Is(err, ledger.ErrUserExists),
		errors.Is(err, accounts.ErrInvalidAmount),
		errors.Is(err, accounts.ErrInvalidType),
		errors.Is(err, accounts.ErrInvalidUser),
		errors.Is(err, errBadJSON):
		return http.StatusBadRequest
	case errors.Is(err, orders.ErrForbidden),
		errors.Is(err, accounts.ErrForbidden),
		errors.Is(err, errForbidden):
		return http.StatusForbidden
	case errors.Is(err, ledger.ErrUserNotFound),
		errors.Is(err, ledger.ErrOrderNotFound):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		a.Log.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		writeError(w, status, errors.New("server error"))
		return
	}
	writeError(w, status, err)
}
