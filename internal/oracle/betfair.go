package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/radieske/betting-exchange/internal/model"
)

// DefaultAPIURL é o endpoint JSON-RPC da Betting API.
const DefaultAPIURL = "https://api.betfair.com/exchange/betting/json-rpc/v1"

// sportByEventType traduz o eventTypeId da venue para a categoria exibida.
var sportByEventType = map[string]string{
	"1":       "Soccer",
	"2":       "Tennis",
	"4":       "Cricket",
	"7":       "Horse Racing",
	"4339":    "Greyhound Racing",
	"61420":   "Football",
	"2378961": "Tennis",
	"7524":    "Basketball",
	"468328":  "Volleyball",
	"7522":    "Ice Hockey",
}

// Client fala com a Betting API via JSON-RPC.
type Client struct {
	APIURL string
	HTTP   *http.Client
	Auth   AuthProvider
}

// NewClient cria o cliente com o timeout informado.
func NewClient(apiURL string, auth AuthProvider, timeout time.Duration) *Client {
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{APIURL: apiURL, HTTP: &http.Client{Timeout: timeout}, Auth: auth}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
	ID      int    `json:"id"`
}

type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type invalidator interface{ Invalidate() }

// call executa um método; em sessão inválida descarta o token e tenta uma única vez mais.
func (c *Client) call(ctx context.Context, method string, params, out any) error {
	err := c.do(ctx, method, params, out)
	if errors.Is(err, errSessionExpired) {
		if inv, ok := c.Auth.(invalidator); ok {
			inv.Invalidate()
		}
		err = c.do(ctx, method, params, out)
	}
	if errors.Is(err, errSessionExpired) {
		return fmt.Errorf("%w: session rejected", ErrAPIFailure)
	}
	return err
}

var errSessionExpired = errors.New("session expired")

func (c *Client) do(ctx context.Context, method string, params, out any) error {
	body, err := json.Marshal([]rpcRequest{{JSONRPC: "2.0", Method: "SportsAPING/v1.0/" + method, Params: params, ID: 1}})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.APIURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Auth != nil {
		if err := c.Auth.Apply(req); err != nil {
			return err
		}
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAPIFailure, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return errSessionExpired
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s %d: %s", ErrAPIFailure, method, resp.StatusCode, string(raw))
	}

	var batch []rpcResponse
	if err := json.Unmarshal(raw, &batch); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrAPIFailure, method, err)
	}
	if len(batch) == 0 {
		return fmt.Errorf("%w: empty response for %s", ErrAPIFailure, method)
	}
	if e := batch[0].Error; e != nil {
		if strings.Contains(string(e.Data), "INVALID_SESSION_INFORMATION") || strings.Contains(string(e.Data), "NO_SESSION") {
			return errSessionExpired
		}
		return fmt.Errorf("%w: %s: %d %s", ErrAPIFailure, method, e.Code, e.Message)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(batch[0].Result, out)
}

type runnerBook struct {
	SelectionID int64  `json:"selectionId"`
	Status      string `json:"status"`
	Ex          struct {
		AvailableToBack []model.PriceSize `json:"availableToBack"`
		AvailableToLay  []model.PriceSize `json:"availableToLay"`
	} `json:"ex"`
}

type marketBook struct {
	MarketID string       `json:"marketId"`
	Status   string       `json:"status"`
	Runners  []runnerBook `json:"runners"`
}

func (c *Client) marketBook(ctx context.Context, marketID string) (*marketBook, error) {
	params := map[string]any{
		"marketIds": []string{marketID},
		"priceProjection": map[string]any{
			"priceData":  []string{"EX_BEST_OFFERS"},
			"virtualise": true,
		},
	}
	var books []marketBook
	if err := c.call(ctx, "listMarketBook", params, &books); err != nil {
		return nil, err
	}
	if len(books) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrMarketNotFound, marketID)
	}
	return &books[0], nil
}

func (c *Client) BestPrices(ctx context.Context, marketID string, selectionID int64) (model.Book, error) {
	mb, err := c.marketBook(ctx, marketID)
	if err != nil {
		return model.Book{}, err
	}
	for _, r := range mb.Runners {
		if r.SelectionID == selectionID {
			return model.Book{
				MarketID:        marketID,
				SelectionID:     selectionID,
				AvailableToBack: r.Ex.AvailableToBack,
				AvailableToLay:  r.Ex.AvailableToLay,
			}, nil
		}
	}
	return model.Book{}, fmt.Errorf("%w: market %s selection %d", ErrRunnerNotFound, marketID, selectionID)
}

func (c *Client) MarketStatus(ctx context.Context, marketID string) (model.MarketStatus, error) {
	mb, err := c.marketBook(ctx, marketID)
	if err != nil {
		return model.MarketStatus{}, err
	}
	st := model.MarketStatus{MarketID: marketID, Status: model.MarketState(mb.Status)}
	for _, r := range mb.Runners {
		if r.Status == "WINNER" {
			id := r.SelectionID
			st.WinningSelectionID = &id
			break
		}
	}
	return st, nil
}

type marketCatalogue struct {
	Event *struct {
		Name string `json:"name"`
	} `json:"event"`
	EventType *struct {
		ID   json.Number `json:"id"`
		Name string      `json:"name"`
	} `json:"eventType"`
}

func (c *Client) EventDetails(ctx context.Context, marketID string) (EventDetails, error) {
	params := map[string]any{
		"filter":           map[string]any{"marketIds": []string{marketID}},
		"maxResults":       "1",
		"marketProjection": []string{"EVENT", "EVENT_TYPE"},
	}
	var cat []marketCatalogue
	if err := c.call(ctx, "listMarketCatalogue", params, &cat); err != nil {
		return EventDetails{}, err
	}
	if len(cat) == 0 || cat[0].Event == nil {
		return UnknownEvent, nil
	}

	ev := EventDetails{EventName: cat[0].Event.Name, Category: UnknownEvent.Category}
	if et := cat[0].EventType; et != nil {
		if name, ok := sportByEventType[et.ID.String()]; ok {
			ev.Category = name
		} else if et.Name != "" {
			ev.Category = et.Name
		}
	}
	return ev, nil
}
