package oracle

import (
	"context"
	"fmt"
	"sync"

	"github.com/radieske/betting-exchange/internal/model"
)

// Static é um oráculo em memória, controlado pelo chamador. Usado em testes e no modo local.
type Static struct {
	mu       sync.Mutex
	books    map[string]model.Book
	statuses map[string]model.MarketStatus
	details  map[string]EventDetails
	err      error
	calls    int
}

func NewStatic() *Static {
	return &Static{
		books:    make(map[string]model.Book),
		statuses: make(map[string]model.MarketStatus),
		details:  make(map[string]EventDetails),
	}
}

// SetBook define o book de uma seleção.
func (s *Static) SetBook(b model.Book) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.books[keyBook(b.MarketID, b.SelectionID)] = b
}

func (s *Static) SetStatus(st model.MarketStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[st.MarketID] = st
}

func (s *Static) SetDetails(marketID string, ev EventDetails) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.details[marketID] = ev
}

// SetErr faz todas as chamadas seguintes falharem com err (nil restaura).
func (s *Static) SetErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Calls conta as chamadas a BestPrices.
func (s *Static) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *Static) BestPrices(_ context.Context, marketID string, selectionID int64) (model.Book, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return model.Book{}, s.err
	}
	b, ok := s.books[keyBook(marketID, selectionID)]
	if !ok {
		return model.Book{}, fmt.Errorf("%w: market %s selection %d", ErrRunnerNotFound, marketID, selectionID)
	}
	return b, nil
}

func (s *Static) MarketStatus(_ context.Context, marketID string) (model.MarketStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return model.MarketStatus{}, s.err
	}
	st, ok := s.statuses[marketID]
	if !ok {
		return model.MarketStatus{MarketID: marketID, Status: model.MarketOpen}, nil
	}
	return st, nil
}

func (s *Static) EventDetails(_ context.Context, marketID string) (EventDetails, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return EventDetails{}, s.err
	}
	ev, ok := s.details[marketID]
	if !ok {
		return UnknownEvent, nil
	}
	return ev, nil
}
