package chain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Transaction 链上入账交易（链主币单位）
type Transaction struct {
	Hash      string          `json:"hash"`
	From      string          `json:"from"`
	To        string          `json:"to"`
	Value     decimal.Decimal `json:"value"`
	Timestamp time.Time       `json:"timestamp"`
}

// Explorer 区块浏览器查询接口
type Explorer interface {
	// ListIncomingTransactions 返回打入address的最近交易，新到旧。
	ListIncomingTransactions(ctx context.Context, address string, limit int) ([]Transaction, error)
}

// Sweeper 归集转账接口
type Sweeper interface {
	// SendTransfer 用privKey签名并广播到to的转账，amount为入账总额，
	// 实际转出金额扣除链上手续费。返回交易哈希。
	SendTransfer(ctx context.Context, privKey []byte, to string, amount decimal.Decimal) (string, error)
}
