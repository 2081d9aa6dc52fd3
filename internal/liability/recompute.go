package liability

import (
	"context"

	"go.uber.org/zap"

	"github.com/radieske/betting-exchange/internal/ledger"
	"github.com/radieske/betting-exchange/internal/model"
	"github.com/radieske/betting-exchange/internal/notify"
)

// Recomputer recalcula a responsabilidade de um usuário sobre o estado persistido
// e avisa a sala do usuário com o resultado.
type Recomputer struct {
	Store ledger.Store
	Sink  notify.Sink
	Log   *zap.Logger
}

// Recompute é idempotente: sempre parte do conjunto de ordens gravado, nunca de um delta.
func (r *Recomputer) Recompute(ctx context.Context, userID string) (*model.User, error) {
	u, err := r.Store.RecomputeLiability(ctx, userID, State)
	if err != nil {
		return nil, err
	}
	if r.Sink != nil {
		if err := r.Sink.PublishUserUpdated(ctx, notify.UserView(*u)); err != nil && r.Log != nil {
			r.Log.Warn("user update publish failed", zap.String("userId", userID), zap.Error(err))
		}
	}
	return u, nil
}
