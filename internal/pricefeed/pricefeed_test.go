package pricefeed

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T, handler http.HandlerFunc) *Service {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(srv.URL, 2*time.Second)
}

func TestGetRate(t *testing.T) {
	s := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "ETH", r.URL.Query().Get("fsym"))
		assert.Equal(t, "USD", r.URL.Query().Get("tsyms"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"USD": 3500.25}`)
	})

	rate, err := s.GetRate(context.Background(), "ETH", "USD")
	require.NoError(t, err)
	assert.True(t, rate.Equal(decimal.RequireFromString("3500.25")))
}

func TestGetRateMissingSymbol(t *testing.T) {
	s := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"EUR": 3200}`)
	})

	_, err := s.GetRate(context.Background(), "ETH", "USD")
	assert.ErrorIs(t, err, ErrRateUnavailable)
}

func TestGetRateNonPositive(t *testing.T) {
	s := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"USD": 0}`)
	})

	_, err := s.GetRate(context.Background(), "ETH", "USD")
	assert.ErrorIs(t, err, ErrRateUnavailable)
}

func TestGetRateServerError(t *testing.T) {
	s := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := s.GetRate(context.Background(), "ETH", "USD")
	assert.ErrorIs(t, err, ErrRateUnavailable)
}
