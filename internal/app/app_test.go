package app_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"chatmeter/internal/app"
	"chatmeter/internal/auth"
	"chatmeter/internal/chat"
	"chatmeter/internal/idempotency"
	"chatmeter/internal/store"
	"chatmeter/pkg/models"
	"chatmeter/pkg/utils"
)

const testSecret = "test-secret"

type fixture struct {
	server *httptest.Server
	ledger *store.Ledger
	users  *store.Users
}

// failingGenerator simulates a model backend outage.
type failingGenerator struct{}

func (failingGenerator) Generate(context.Context, string) (string, error) {
	return "", errors.New("model unavailable")
}

func newFixture(t *testing.T, generator chat.Generator, opts ...app.Option) *fixture {
	t.Helper()

	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	users := store.NewUsers(db)
	l := store.NewLedger(db)
	if generator == nil {
		generator = chat.StaticGenerator{}
	}
	chatSvc := chat.NewService(l, store.NewChatLog(db), generator)
	authSvc := auth.NewService(users, testSecret)

	a := app.NewApp(authSvc, chatSvc, l, opts...)
	srv := httptest.NewServer(a.Router)
	t.Cleanup(srv.Close)

	return &fixture{server: srv, ledger: l, users: users}
}

func (f *fixture) post(t *testing.T, path, token string, body any, header map[string]string) (*http.Response, map[string]json.RawMessage) {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}

	req, err := http.NewRequest(http.MethodPost, f.server.URL+path, bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request %s: %v", path, err)
	}
	return resp, decodeBody(t, resp)
}

func (f *fixture) get(t *testing.T, path, token string) (*http.Response, map[string]json.RawMessage) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, f.server.URL+path, nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request %s: %v", path, err)
	}
	return resp, decodeBody(t, resp)
}

func decodeBody(t *testing.T, resp *http.Response) map[string]json.RawMessage {
	t.Helper()
	defer resp.Body.Close()
	var fields map[string]json.RawMessage
	_ = json.NewDecoder(resp.Body).Decode(&fields)
	return fields
}

func jsonString(t *testing.T, raw json.RawMessage) string {
	t.Helper()
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		t.Fatalf("expected string field, got %s", raw)
	}
	return s
}

func jsonInt(t *testing.T, raw json.RawMessage) int64 {
	t.Helper()
	var n int64
	if err := json.Unmarshal(raw, &n); err != nil {
		t.Fatalf("expected integer field, got %s", raw)
	}
	return n
}

// registerAndLogin creates a user and returns its access token.
func (f *fixture) registerAndLogin(t *testing.T, username, password string) string {
	t.Helper()

	resp, _ := f.post(t, "/register", "", models.RegisterRequest{Username: username, Password: password}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d", resp.StatusCode)
	}

	resp, fields := f.post(t, "/login", "", models.LoginRequest{Username: username, Password: password}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login: expected 200, got %d", resp.StatusCode)
	}
	if _, ok := fields["refresh"]; !ok {
		t.Fatal("login response missing refresh token")
	}
	return jsonString(t, fields["access"])
}

func TestRegister(t *testing.T) {
	f := newFixture(t, nil)

	resp, fields := f.post(t, "/register", "", models.RegisterRequest{Username: "testuser", Password: "testpass123"}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	if msg := jsonString(t, fields["message"]); msg != "User registered successfully!" {
		t.Errorf("unexpected message: %q", msg)
	}

	user, err := f.users.FindByUsername(context.Background(), "testuser")
	if err != nil {
		t.Fatalf("registered user not stored: %v", err)
	}
	if user.Tokens != 4000 {
		t.Errorf("default tokens: got %d, want 4000", user.Tokens)
	}

	// Duplicate registration fails.
	resp, _ = f.post(t, "/register", "", models.RegisterRequest{Username: "testuser", Password: "other"}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("duplicate register: expected 400, got %d", resp.StatusCode)
	}
}

func TestRegisterValidation(t *testing.T) {
	f := newFixture(t, nil)
	for _, body := range []models.RegisterRequest{
		{Username: "", Password: "p"},
		{Username: "u", Password: ""},
	} {
		resp, _ := f.post(t, "/register", "", body, nil)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("register %+v: expected 400, got %d", body, resp.StatusCode)
		}
	}
}

func TestLoginInvalidCredentials(t *testing.T) {
	f := newFixture(t, nil)
	f.registerAndLogin(t, "testuser", "testpass123")

	resp, _ := f.post(t, "/login", "", models.LoginRequest{Username: "testuser", Password: "wrong"}, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestChat(t *testing.T) {
	f := newFixture(t, nil)
	token := f.registerAndLogin(t, "testuser", "testpass123")

	resp, fields := f.post(t, "/chat", token, models.ChatRequest{Message: "Hello AI"}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if got := jsonString(t, fields["message"]); got != "Hello AI" {
		t.Errorf("message: got %q", got)
	}
	if got := jsonString(t, fields["response"]); got != chat.StaticReply {
		t.Errorf("response: got %q", got)
	}
	if got := jsonInt(t, fields["remaining_tokens"]); got != 3900 {
		t.Errorf("remaining_tokens: got %d, want 3900", got)
	}

	// The exchange is stored.
	resp, _ = f.get(t, "/history", token)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("history: expected 200, got %d", resp.StatusCode)
	}
}

func TestChatRequiresMessage(t *testing.T) {
	f := newFixture(t, nil)
	token := f.registerAndLogin(t, "testuser", "testpass123")

	resp, _ := f.post(t, "/chat", token, models.ChatRequest{Message: ""}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}

	// Nothing was charged for the rejected request.
	resp, fields := f.get(t, "/tokens", token)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("tokens: expected 200, got %d", resp.StatusCode)
	}
	if got := jsonInt(t, fields["tokens"]); got != 4000 {
		t.Errorf("balance after rejected chat: got %d, want 4000", got)
	}
}

func TestChatInsufficientTokens(t *testing.T) {
	f := newFixture(t, nil)
	token := f.registerAndLogin(t, "testuser", "testpass123")

	// Drain the account down to 50 tokens.
	user, _ := f.users.FindByUsername(context.Background(), "testuser")
	if ok, _, err := f.ledger.TryDebit(context.Background(), user.ID, 3950); err != nil || !ok {
		t.Fatalf("drain balance: ok=%v err=%v", ok, err)
	}

	resp, _ := f.post(t, "/chat", token, models.ChatRequest{Message: "hi"}, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}

	_, fields := f.get(t, "/tokens", token)
	if got := jsonInt(t, fields["tokens"]); got != 50 {
		t.Errorf("balance after refused chat: got %d, want 50", got)
	}
}

func TestChatGeneratorFailureLeavesBalance(t *testing.T) {
	f := newFixture(t, failingGenerator{})
	token := f.registerAndLogin(t, "testuser", "testpass123")

	resp, _ := f.post(t, "/chat", token, models.ChatRequest{Message: "hi"}, nil)
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", resp.StatusCode)
	}

	_, fields := f.get(t, "/tokens", token)
	if got := jsonInt(t, fields["tokens"]); got != 4000 {
		t.Errorf("balance after failed generation: got %d, want 4000", got)
	}
}

func TestChatUnauthenticated(t *testing.T) {
	f := newFixture(t, nil)

	resp, _ := f.post(t, "/chat", "", models.ChatRequest{Message: "hi"}, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}

	resp, _ = f.post(t, "/chat", "garbage-token", models.ChatRequest{Message: "hi"}, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for invalid token, got %d", resp.StatusCode)
	}
}

func TestChatRateLimit(t *testing.T) {
	f := newFixture(t, nil, app.WithChatLimit(utils.Limit{Capacity: 1, Refill: time.Minute, Name: "chat-requests"}))
	token := f.registerAndLogin(t, "testuser", "testpass123")

	resp, _ := f.post(t, "/chat", token, models.ChatRequest{Message: "hi"}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("first request: expected 200, got %d", resp.StatusCode)
	}
	resp, _ = f.post(t, "/chat", token, models.ChatRequest{Message: "hi"}, nil)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("second request: expected 429, got %d", resp.StatusCode)
	}
}

func TestTokens(t *testing.T) {
	f := newFixture(t, nil)
	token := f.registerAndLogin(t, "testuser", "testpass123")

	resp, fields := f.get(t, "/tokens", token)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if got := jsonInt(t, fields["tokens"]); got != 4000 {
		t.Errorf("tokens: got %d, want 4000", got)
	}
}

func TestTopUp(t *testing.T) {
	f := newFixture(t, nil)
	token := f.registerAndLogin(t, "testuser", "testpass123")

	// Bring the balance to 3500 first.
	user, _ := f.users.FindByUsername(context.Background(), "testuser")
	if ok, _, err := f.ledger.TryDebit(context.Background(), user.ID, 500); err != nil || !ok {
		t.Fatalf("drain balance: ok=%v err=%v", ok, err)
	}

	resp, fields := f.post(t, "/top-up", token, models.TopUpRequest{Tokens: 500}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if got := jsonInt(t, fields["total_tokens"]); got != 4000 {
		t.Errorf("total_tokens: got %d, want 4000", got)
	}
	if msg := jsonString(t, fields["message"]); msg != "Successfully added 500 tokens." {
		t.Errorf("unexpected message: %q", msg)
	}
}

func TestTopUpRejectsBadAmounts(t *testing.T) {
	f := newFixture(t, nil)
	token := f.registerAndLogin(t, "testuser", "testpass123")

	for _, amount := range []int64{0, -500} {
		resp, _ := f.post(t, "/top-up", token, models.TopUpRequest{Tokens: amount}, nil)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("amount %d: expected 400, got %d", amount, resp.StatusCode)
		}
	}

	_, fields := f.get(t, "/tokens", token)
	if got := jsonInt(t, fields["tokens"]); got != 4000 {
		t.Errorf("balance after rejected top-ups: got %d, want 4000", got)
	}
}

func TestTopUpIdempotency(t *testing.T) {
	idem, err := idempotency.Open(filepath.Join(t.TempDir(), "idem.db"))
	if err != nil {
		t.Fatalf("open idempotency store: %v", err)
	}
	t.Cleanup(func() { idem.Close() })

	f := newFixture(t, nil, app.WithIdempotencyStore(idem))
	token := f.registerAndLogin(t, "testuser", "testpass123")

	header := map[string]string{"Idempotency-Key": "topup-1"}

	resp, fields := f.post(t, "/top-up", token, models.TopUpRequest{Tokens: 500}, header)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if got := jsonInt(t, fields["total_tokens"]); got != 4500 {
		t.Fatalf("total_tokens: got %d, want 4500", got)
	}

	// The retry replays the first response and credits nothing.
	resp, fields = f.post(t, "/top-up", token, models.TopUpRequest{Tokens: 500}, header)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("replay: expected 200, got %d", resp.StatusCode)
	}
	if got := jsonInt(t, fields["total_tokens"]); got != 4500 {
		t.Fatalf("replay total_tokens: got %d, want 4500", got)
	}

	_, fields = f.get(t, "/tokens", token)
	if got := jsonInt(t, fields["tokens"]); got != 4500 {
		t.Fatalf("balance after replay: got %d, want 4500", got)
	}

	// A fresh key credits again.
	resp, _ = f.post(t, "/top-up", token, models.TopUpRequest{Tokens: 500}, map[string]string{"Idempotency-Key": "topup-2"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("new key: expected 200, got %d", resp.StatusCode)
	}
	_, fields = f.get(t, "/tokens", token)
	if got := jsonInt(t, fields["tokens"]); got != 5000 {
		t.Fatalf("balance after new key: got %d, want 5000", got)
	}
}

// TestTopUpIdempotencyKeyIsPerUser reuses one Idempotency-Key value across
// two accounts: each user's first top-up must credit their own balance
// instead of replaying the other user's stored response.
func TestTopUpIdempotencyKeyIsPerUser(t *testing.T) {
	idem, err := idempotency.Open(filepath.Join(t.TempDir(), "idem.db"))
	if err != nil {
		t.Fatalf("open idempotency store: %v", err)
	}
	t.Cleanup(func() { idem.Close() })

	f := newFixture(t, nil, app.WithIdempotencyStore(idem))
	alice := f.registerAndLogin(t, "alice", "testpass123")
	bob := f.registerAndLogin(t, "bob", "testpass123")

	header := map[string]string{"Idempotency-Key": "topup-1"}

	resp, fields := f.post(t, "/top-up", alice, models.TopUpRequest{Tokens: 500}, header)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("alice top-up: expected 200, got %d", resp.StatusCode)
	}
	if got := jsonInt(t, fields["total_tokens"]); got != 4500 {
		t.Fatalf("alice total_tokens: got %d, want 4500", got)
	}

	resp, fields = f.post(t, "/top-up", bob, models.TopUpRequest{Tokens: 300}, header)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("bob top-up: expected 200, got %d", resp.StatusCode)
	}
	if got := jsonInt(t, fields["total_tokens"]); got != 4300 {
		t.Fatalf("bob total_tokens: got %d, want 4300", got)
	}

	_, fields = f.get(t, "/tokens", bob)
	if got := jsonInt(t, fields["tokens"]); got != 4300 {
		t.Fatalf("bob balance: got %d, want 4300", got)
	}

	// Replay within the same account still works.
	resp, fields = f.post(t, "/top-up", bob, models.TopUpRequest{Tokens: 300}, header)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("bob replay: expected 200, got %d", resp.StatusCode)
	}
	if got := jsonInt(t, fields["total_tokens"]); got != 4300 {
		t.Fatalf("bob replay total_tokens: got %d, want 4300", got)
	}
}

func TestHistoryOrdering(t *testing.T) {
	f := newFixture(t, nil)
	token := f.registerAndLogin(t, "testuser", "testpass123")

	for i := 1; i <= 3; i++ {
		resp, _ := f.post(t, "/chat", token, models.ChatRequest{Message: fmt.Sprintf("message %d", i)}, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("chat %d: expected 200, got %d", i, resp.StatusCode)
		}
	}

	req, _ := http.NewRequest(http.MethodGet, f.server.URL+"/history", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	defer resp.Body.Close()

	var records []models.ChatRecord
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	for i, r := range records {
		if want := fmt.Sprintf("message %d", i+1); r.Message != want {
			t.Errorf("record %d: got %q, want %q", i, r.Message, want)
		}
	}
}

// expiredAccessToken signs an access token with the fixture's secret that
// expired an hour ago.
func expiredAccessToken(t *testing.T) string {
	t.Helper()
	claims := auth.TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-2 * time.Hour)),
		},
		UserID:    1,
		TokenType: "access",
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestExpiredTokenHeader(t *testing.T) {
	f := newFixture(t, nil)

	// An access token that expired an hour ago, signed with the right key.
	expired := expiredAccessToken(t)

	req, _ := http.NewRequest(http.MethodGet, f.server.URL+"/tokens", nil)
	req.Header.Set("Authorization", "Bearer "+expired)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Token-Expired") != "true" {
		t.Error("expected X-Token-Expired header on expired token")
	}
}

func TestStatus(t *testing.T) {
	f := newFixture(t, nil)
	resp, fields := f.get(t, "/status", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if got := jsonString(t, fields["status"]); got != "ok" {
		t.Errorf("status: got %q", got)
	}
}
