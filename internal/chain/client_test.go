package chain

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

const depositAddress = "0x1111111111111111111111111111111111111111"

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	// RPC连接惰性建立，测试不触发
	c, err := NewClient(Config{
		RPCURL:         "http://127.0.0.1:8545",
		ChainID:        1,
		ExplorerURL:    srv.URL,
		ExplorerAPIKey: "test-key",
		RequestTimeout: 2 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestListIncomingTransactions(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "account", r.URL.Query().Get("module"))
		assert.Equal(t, "txlist", r.URL.Query().Get("action"))
		assert.Equal(t, depositAddress, r.URL.Query().Get("address"))
		assert.Equal(t, "10", r.URL.Query().Get("offset"))
		assert.Equal(t, "desc", r.URL.Query().Get("sort"))
		assert.Equal(t, "test-key", r.URL.Query().Get("apikey"))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{
			"status": "1",
			"message": "OK",
			"result": [
				{"hash": "0xaaa", "from": "0xf1", "to": "%s", "value": "1500000000000000000", "timeStamp": "1756700000", "isError": "0"},
				{"hash": "0xbbb", "from": "0xf2", "to": "%s", "value": "2000000000000000000", "timeStamp": "1756600000", "isError": "1"},
				{"hash": "0xccc", "from": "0xf3", "to": "0x2222222222222222222222222222222222222222", "value": "3000000000000000000", "timeStamp": "1756500000", "isError": "0"},
				{"hash": "0xddd", "from": "0xf4", "to": "%s", "value": "garbage", "timeStamp": "1756400000", "isError": "0"},
				{"hash": "0xeee", "from": "0xf5", "to": "%s", "value": "250000000000000000", "timeStamp": "1756300000", "isError": "0"}
			]
		}`, depositAddress, depositAddress, depositAddress, depositAddress)
	})

	txs, err := client.ListIncomingTransactions(context.Background(), depositAddress, 10)
	require.NoError(t, err)

	// 失败交易、打到其他地址的交易与坏数据被过滤
	require.Len(t, txs, 2)
	assert.Equal(t, "0xaaa", txs[0].Hash)
	assert.True(t, txs[0].Value.Equal(decimal.RequireFromString("1.5")))
	assert.Equal(t, int64(1756700000), txs[0].Timestamp.Unix())
	assert.Equal(t, "0xeee", txs[1].Hash)
	assert.True(t, txs[1].Value.Equal(decimal.RequireFromString("0.25")))
}

func TestListIncomingTransactionsCaseInsensitiveAddress(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"status": "1",
			"message": "OK",
			"result": [
				{"hash": "0xaaa", "from": "0xf1", "to": "0xabcdefabcdefabcdefabcdefabcdefabcdefabcd", "value": "1000000000000000000", "timeStamp": "1756700000", "isError": "0"}
			]
		}`)
	})

	// 浏览器返回小写地址，派生端是EIP-55大小写混合，匹配不区分大小写
	txs, err := client.ListIncomingTransactions(context.Background(), "0xABcdefAbCdEfabcdEfAbcdefabcdEFabCdefAbCd", 10)
	require.NoError(t, err)
	require.Len(t, txs, 1)
}

func TestListIncomingTransactionsServerError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := client.ListIncomingTransactions(context.Background(), depositAddress, 10)
	assert.ErrorIs(t, err, ErrExplorerUnavailable)
}

func TestListIncomingTransactionsEmptyResult(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"status": "0", "message": "No transactions found", "result": []}`)
	})

	txs, err := client.ListIncomingTransactions(context.Background(), depositAddress, 10)
	require.NoError(t, err)
	assert.Empty(t, txs)
}
