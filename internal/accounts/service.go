// Package accounts cuida da criação de usuários e da movimentação administrativa de saldo.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/radieske/betting-exchange/internal/ledger"
	"github.com/radieske/betting-exchange/internal/model"
)

var (
	ErrForbidden     = errors.New("you are not allowed to perform this operation")
	ErrInvalidAmount = errors.New("amount must be positive")
	ErrInvalidType   = errors.New("invalid transaction type")
	ErrInvalidUser   = errors.New("username and role are required")
)

// creatable lista, para cada papel, quais papéis ele pode criar.
var creatable = map[model.Role][]model.Role{
	model.RoleSuperAdmin:  {model.RoleAdmin, model.RoleSuperMaster, model.RoleMaster, model.RoleUser},
	model.RoleAdmin:       {model.RoleSuperMaster, model.RoleUser},
	model.RoleSuperMaster: {model.RoleMaster, model.RoleUser},
	model.RoleMaster:      {model.RoleUser},
}

// CanCreate informa se actor pode criar um usuário com o papel target.
func CanCreate(actor, target model.Role) bool {
	for _, r := range creatable[actor] {
		if r == target {
			return true
		}
	}
	return false
}

type Scheduler interface {
	Enqueue(userID string)
}

type Service struct {
	Store     ledger.Store
	Recompute Scheduler
	Log       *zap.Logger
	Now       func() time.Time
	NewID     func() string
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func (s *Service) newID() string {
	if s.NewID != nil {
		return s.NewID()
	}
	return uuid.NewString()
}

type NewUser struct {
	Username       string
	Role           string
	InitialBalance decimal.Decimal
}

// Create registra um usuário abaixo do ator na hierarquia. O saldo inicial é também a base de responsabilidade.
func (s *Service) Create(ctx context.Context, actorID string, in NewUser) (*model.User, error) {
	username := strings.TrimSpace(in.Username)
	if username == "" || strings.TrimSpace(in.Role) == "" {
		return nil, ErrInvalidUser
	}
	role, err := model.ParseRole(in.Role)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidUser, err)
	}
	if in.InitialBalance.IsNegative() {
		return nil, ErrInvalidAmount
	}

	actor, err := s.Store.FindUser(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if !CanCreate(actor.Role, role) {
		return nil, fmt.Errorf("%w: %s cannot create %s", ErrForbidden, actor.Role, role)
	}

	at := s.now()
	u := &model.User{
		ID:                   s.newID(),
		Username:             username,
		Role:                 role,
		WalletBalance:        in.InitialBalance,
		InitialWalletBalance: decimal.NewNullDecimal(in.InitialBalance),
		Liable:               decimal.Zero,
		RunnerPnL:            model.RunnerPnL{},
		CreatedAt:            at,
		UpdatedAt:            at,
	}
	if err := s.Store.CreateUser(ctx, u); err != nil {
		return nil, err
	}
	s.Log.Info("user created",
		zap.String("actorId", actorID),
		zap.String("userId", u.ID),
		zap.String("role", string(role)))
	return u, nil
}

// Me retorna o documento do próprio usuário.
func (s *Service) Me(ctx context.Context, userID string) (*model.User, error) {
	return s.Store.FindUser(ctx, userID)
}

type Adjustment struct {
	Type        string // credit | debit
	Amount      decimal.Decimal
	Description string
}

// AdjustWallet credita ou debita o saldo de um usuário. Exige papel admin ou superior;
// débito que deixaria o saldo negativo é recusado. A base de responsabilidade acompanha o valor.
func (s *Service) AdjustWallet(ctx context.Context, actorID, userID string, adj Adjustment) (*model.Transaction, error) {
	if !adj.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	var (
		txType model.TransactionType
		delta  decimal.Decimal
	)
	switch strings.ToLower(strings.TrimSpace(adj.Type)) {
	case string(model.TxCredit):
		txType, delta = model.TxCredit, adj.Amount
	case string(model.TxDebit):
		txType, delta = model.TxDebit, adj.Amount.Neg()
	default:
		return nil, fmt.Errorf("%w %q", ErrInvalidType, adj.Type)
	}

	actor, err := s.Store.FindUser(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if !actor.Role.AtLeast(model.RoleAdmin) {
		return nil, ErrForbidden
	}

	tx := model.Transaction{
		ID:          s.newID(),
		Type:        txType,
		Amount:      adj.Amount,
		Description: adj.Description,
		CreatedAt:   s.now(),
	}
	u, err := s.Store.AdjustWallet(ctx, userID, ledger.WalletAdjustment{
		DeltaWallet:     delta,
		DeltaBaseline:   delta,
		RejectOverdraft: true,
		Transaction:     tx,
	})
	if err != nil {
		return nil, err
	}
	// sem truncamento: o débito que estouraria já foi recusado
	tx.UserID = userID
	tx.NewBalance = u.WalletBalance
	tx.PreviousBalance = u.WalletBalance.Sub(delta)
	s.Log.Info("wallet adjusted",
		zap.String("actorId", actorID),
		zap.String("userId", userID),
		zap.String("type", string(txType)),
		zap.String("amount", adj.Amount.String()))
	if s.Recompute != nil {
		s.Recompute.Enqueue(userID)
	}
	return &tx, nil
}

// Transactions lista o histórico do usuário.
func (s *Service) Transactions(ctx context.Context, userID string) ([]model.Transaction, error) {
	if _, err := s.Store.FindUser(ctx, userID); err != nil {
		return nil, err
	}
	return s.Store.ListTransactions(ctx, userID)
}
