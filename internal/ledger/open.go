package ledger

import (
	"context"
	"fmt"

	"github.com/radieske/betting-exchange/internal/shared/db"
)

// Backend é o ledger pronto para uso com o ping do healthcheck e o fechamento da conexão.
type Backend struct {
	Store Store
	Ping  func(ctx context.Context) error
	Close func() error
}

// Open abre o backend pelo nome ("postgres" ou "memory"). No Postgres o schema é aplicado antes de devolver.
func Open(ctx context.Context, backend, dsn string) (*Backend, error) {
	switch backend {
	case "memory":
		return &Backend{
			Store: NewMemoryStore(),
			Ping:  func(context.Context) error { return nil },
			Close: func() error { return nil },
		}, nil
	case "postgres", "":
		pg, err := db.ConnectPostgres(ctx, dsn)
		if err != nil {
			return nil, err
		}
		store := NewPostgres(pg)
		if err := store.Migrate(ctx); err != nil {
			_ = pg.Close()
			return nil, err
		}
		return &Backend{Store: store, Ping: pg.PingContext, Close: pg.Close}, nil
	}
	return nil, fmt.Errorf("unknown ledger backend %q", backend)
}
