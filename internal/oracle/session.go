package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// AuthProvider aplica autenticação a uma requisição de saída.
type AuthProvider interface {
	Apply(req *http.Request) error
}

// SessionProvider mantém o token de sessão da venue e o renova ao expirar ou ser invalidado.
// É a única porta de acesso ao token: ValidToken.
type SessionProvider struct {
	LoginURL string
	Username string
	Password string
	AppKey   string
	TTL      time.Duration
	HTTP     *http.Client
	Now      func() time.Time

	mu      sync.Mutex
	token   string
	expires time.Time
}

type loginResponse struct {
	Token  string `json:"token"`
	Status string `json:"status"`
	Error  string `json:"error"`
}

func (s *SessionProvider) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// ValidToken retorna o token em cache ou faz login de novo.
// Chamadas concorrentes durante o login esperam pelo mesmo resultado.
func (s *SessionProvider) ValidToken(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && s.now().Before(s.expires) {
		return s.token, nil
	}

	form := url.Values{"username": {s.Username}, "password": {s.Password}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.LoginURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("X-Application", s.AppKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	hc := s.HTTP
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrLoginFailed, err)
	}
	defer resp.Body.Close()

	var out loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decode: %v", ErrLoginFailed, err)
	}
	if out.Status != "SUCCESS" || out.Token == "" {
		return "", fmt.Errorf("%w: %s", ErrLoginFailed, out.Error)
	}

	ttl := s.TTL
	if ttl <= 0 {
		ttl = 29 * time.Minute
	}
	s.token = out.Token
	s.expires = s.now().Add(ttl)
	return s.token, nil
}

// Invalidate descarta o token; o próximo ValidToken faz login.
func (s *SessionProvider) Invalidate() {
	s.mu.Lock()
	s.token = ""
	s.expires = time.Time{}
	s.mu.Unlock()
}

// Apply coloca a chave da aplicação e o token de sessão na requisição.
func (s *SessionProvider) Apply(req *http.Request) error {
	tok, err := s.ValidToken(req.Context())
	if err != nil {
		return err
	}
	req.Header.Set("X-Application", s.AppKey)
	req.Header.Set("X-Authentication", tok)
	return nil
}
