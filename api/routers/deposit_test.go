package routers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"marketplace-wallet/internal/chain"
	"marketplace-wallet/internal/keygen"
	"marketplace-wallet/internal/pool"
	"marketplace-wallet/internal/purchase"
	"marketplace-wallet/internal/vault"
	"marketplace-wallet/internal/wallet"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// poolStore 处理器测试用内存仓储
type poolStore struct {
	mu        sync.Mutex
	wallets   []*wallet.DepositWallet
	purchases map[string]*purchase.Purchase
	nextID    uint
}

func newPoolStore() *poolStore {
	return &poolStore{purchases: map[string]*purchase.Purchase{}}
}

func (s *poolStore) CountByStatus() (map[wallet.Status]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := map[wallet.Status]int64{}
	for _, w := range s.wallets {
		counts[w.Status]++
	}
	return counts, nil
}

func (s *poolStore) CountAvailable() (int64, error) {
	counts, _ := s.CountByStatus()
	return counts[wallet.StatusAvailable], nil
}

func (s *poolStore) Refill(minSize int, build func(int, int64) ([]*wallet.DepositWallet, error)) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var available int64
	max := int64(-1)
	for _, w := range s.wallets {
		if w.Status == wallet.StatusAvailable {
			available++
		}
		if int64(w.DerivationIndex) > max {
			max = int64(w.DerivationIndex)
		}
	}
	if available >= int64(minSize) {
		return 0, nil
	}

	wallets, err := build(minSize-int(available), max+1)
	if err != nil {
		return 0, err
	}
	for _, w := range wallets {
		s.nextID++
		cp := *w
		cp.ID = s.nextID
		s.wallets = append(s.wallets, &cp)
	}
	return len(wallets), nil
}

func (s *poolStore) AssignAvailable(userID uint, purchaseID string, expectedAmount decimal.Decimal, now time.Time, expiresAt time.Time) (*wallet.DepositWallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range s.wallets {
		if w.Status != wallet.StatusAvailable {
			continue
		}
		expected := expectedAmount.String()
		w.Status = wallet.StatusAssigned
		w.AssignedUserID = &userID
		w.AssignedPurchaseID = &purchaseID
		w.ExpectedAmount = &expected
		w.AssignedAt = &now
		w.ExpiresAt = &expiresAt
		cp := *w
		return &cp, nil
	}
	return nil, nil
}

func (s *poolStore) GetByPurchaseID(purchaseID string) (*wallet.DepositWallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range s.wallets {
		if w.AssignedPurchaseID != nil && *w.AssignedPurchaseID == purchaseID {
			cp := *w
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *poolStore) GetPurchase(purchaseID string) (*purchase.Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.purchases[purchaseID]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (s *poolStore) Release(walletID uint, purchaseID string) error { return nil }

func (s *poolStore) ReleaseExpired(time.Time) (int64, error) { return 0, nil }

func (s *poolStore) ConfirmDeposit(uint, uint, string, string, decimal.Decimal, time.Time, decimal.Decimal, decimal.Decimal, decimal.Decimal) error {
	return nil
}

func (s *poolStore) ListConfirmedUnswept(int) ([]*wallet.DepositWallet, error) { return nil, nil }

func (s *poolStore) MarkConsolidated(uint, string, time.Time) error { return nil }

func (s *poolStore) ListAssignedPending() ([]*wallet.DepositWallet, error) { return nil, nil }

var _ wallet.Store = (*poolStore)(nil)

// fakeRepo 内存购买单仓储
type fakeRepo struct {
	mu        sync.Mutex
	purchases map[string]*purchase.Purchase
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{purchases: map[string]*purchase.Purchase{}}
}

func (r *fakeRepo) Create(p *purchase.Purchase) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.purchases[p.PurchaseID] = p
	return nil
}

func (r *fakeRepo) GetByPurchaseID(purchaseID string) (*purchase.Purchase, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.purchases[purchaseID], nil
}

func (r *fakeRepo) EnsurePending(purchaseID string, userID uint, requestedAmount string) (*purchase.Purchase, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.purchases[purchaseID]; ok {
		return p, nil
	}
	p := &purchase.Purchase{
		PurchaseID:      purchaseID,
		UserID:          userID,
		RequestedAmount: requestedAmount,
		Status:          purchase.StatusPending,
	}
	r.purchases[purchaseID] = p
	return p, nil
}

func (r *fakeRepo) ListLedgerEntries(string) ([]*purchase.LedgerEntry, error) { return nil, nil }

var _ purchase.Repository = (*fakeRepo)(nil)

type noopExplorer struct{}

func (noopExplorer) ListIncomingTransactions(context.Context, string, int) ([]chain.Transaction, error) {
	return nil, nil
}

type noopSweeper struct{}

func (noopSweeper) SendTransfer(context.Context, []byte, string, decimal.Decimal) (string, error) {
	return "", nil
}

type noopRates struct{}

func (noopRates) GetRate(context.Context, string, string) (decimal.Decimal, error) {
	return decimal.NewFromInt(1), nil
}

func newDepositRouter(t *testing.T, store *poolStore, repo *fakeRepo) *gin.Engine {
	t.Helper()

	v, err := vault.New("handler-test-secret", false)
	require.NoError(t, err)
	kg, err := keygen.New("")
	require.NoError(t, err)

	p := pool.NewManager(store, v, kg, noopExplorer{}, noopSweeper{}, noopRates{}, pool.Config{
		MinSize:        2,
		AssignTTL:      time.Hour,
		FeeBuffer:      decimal.RequireFromString("0.01"),
		CommissionRate: decimal.RequireFromString("0.05"),
		TokenPrice:     decimal.NewFromInt(1),
		FallbackRate:   decimal.NewFromInt(1),
	})

	SetJWTSecret("handler-test-secret")
	r := gin.New()
	api := r.Group("/api/v1")
	api.Use(AuthMiddleware())
	NewDepositHandler(p, repo).Register(api)
	return r
}

func bearerFor(t *testing.T, userID uint) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"exp":     time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte("handler-test-secret"))
	require.NoError(t, err)
	return "Bearer " + signed
}

func doRequest(r *gin.Engine, method, path, auth string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRequestDepositAddress(t *testing.T) {
	store := newPoolStore()
	repo := newFakeRepo()
	r := newDepositRouter(t, store, repo)

	w := doRequest(r, http.MethodPost, "/api/v1/deposits", bearerFor(t, 7), gin.H{
		"purchase_id": "order-1",
		"amount":      "10",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Code int             `json:"code"`
		Data pool.Assignment `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 0, resp.Code)
	assert.NotEmpty(t, resp.Data.Address)
	assert.True(t, resp.Data.AmountWithFee.Equal(decimal.RequireFromString("10.01")))
	assert.True(t, resp.Data.ExpiresAt.After(time.Now()))

	// 购买单落库为pending
	p, err := repo.GetByPurchaseID("order-1")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, uint(7), p.UserID)
	assert.Equal(t, purchase.StatusPending, p.Status)
}

func TestRequestDepositAddressValidation(t *testing.T) {
	r := newDepositRouter(t, newPoolStore(), newFakeRepo())
	auth := bearerFor(t, 7)

	tests := []struct {
		name string
		body gin.H
	}{
		{"missing purchase_id", gin.H{"amount": "10"}},
		{"missing amount", gin.H{"purchase_id": "order-1"}},
		{"negative amount", gin.H{"purchase_id": "order-1", "amount": "-5"}},
		{"zero amount", gin.H{"purchase_id": "order-1", "amount": "0"}},
		{"garbage amount", gin.H{"purchase_id": "order-1", "amount": "abc"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(r, http.MethodPost, "/api/v1/deposits", auth, tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestRequestDepositAddressRequiresAuth(t *testing.T) {
	r := newDepositRouter(t, newPoolStore(), newFakeRepo())

	w := doRequest(r, http.MethodPost, "/api/v1/deposits", "", gin.H{
		"purchase_id": "order-1",
		"amount":      "10",
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequestDepositAddressOwnership(t *testing.T) {
	store := newPoolStore()
	repo := newFakeRepo()
	r := newDepositRouter(t, store, repo)

	// 购买单归属用户1
	_, err := repo.EnsurePending("order-1", 1, "10")
	require.NoError(t, err)

	w := doRequest(r, http.MethodPost, "/api/v1/deposits", bearerFor(t, 2), gin.H{
		"purchase_id": "order-1",
		"amount":      "10",
	})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRequestDepositAddressNotPending(t *testing.T) {
	store := newPoolStore()
	repo := newFakeRepo()
	r := newDepositRouter(t, store, repo)

	p, err := repo.EnsurePending("order-1", 7, "10")
	require.NoError(t, err)
	p.Status = purchase.StatusConfirmed

	w := doRequest(r, http.MethodPost, "/api/v1/deposits", bearerFor(t, 7), gin.H{
		"purchase_id": "order-1",
		"amount":      "10",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPollDepositStatusOwnership(t *testing.T) {
	store := newPoolStore()
	repo := newFakeRepo()
	r := newDepositRouter(t, store, repo)

	// 用户1申请充值地址
	w := doRequest(r, http.MethodPost, "/api/v1/deposits", bearerFor(t, 1), gin.H{
		"purchase_id": "order-1",
		"amount":      "10",
	})
	require.Equal(t, http.StatusOK, w.Code)

	// 其他登录用户不能查询该购买单，地址与金额不外泄
	w = doRequest(r, http.MethodGet, "/api/v1/deposits/order-1", bearerFor(t, 2), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.NotContains(t, w.Body.String(), "address")

	// 归属人可以查询
	w = doRequest(r, http.MethodGet, "/api/v1/deposits/order-1", bearerFor(t, 1), nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data pool.DepositResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, pool.DepositPending, resp.Data.Status)
	assert.NotEmpty(t, resp.Data.Address)
}

func TestPollDepositStatusNotFound(t *testing.T) {
	r := newDepositRouter(t, newPoolStore(), newFakeRepo())

	w := doRequest(r, http.MethodGet, "/api/v1/deposits/no-such-order", bearerFor(t, 7), nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data pool.DepositResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, pool.DepositNotFound, resp.Data.Status)
}

func TestPoolStats(t *testing.T) {
	store := newPoolStore()
	r := newDepositRouter(t, store, newFakeRepo())

	w := doRequest(r, http.MethodGet, "/api/v1/pool/stats", bearerFor(t, 7), nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data pool.Stats `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(0), resp.Data.Total)
}
