package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"marketplace-wallet/pkg/logger"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
)

var (
	ErrExplorerUnavailable = errors.New("explorer request failed")
	ErrInsufficientValue   = errors.New("deposit does not cover sweep fee")
)

// 1 ether = 10^18 wei
var weiPerEther = decimal.New(1, 18)

const sweepGasLimit = 21000

// Config 链客户端配置
type Config struct {
	RPCURL         string
	ChainID        int64
	ExplorerURL    string
	ExplorerAPIKey string
	RequestTimeout time.Duration
}

// Client 以太坊链访问客户端，同时实现Explorer与Sweeper
type Client struct {
	eth     *ethclient.Client
	rest    *resty.Client
	chainID *big.Int
	cfg     Config
}

// NewClient 创建链客户端
func NewClient(cfg Config) (*Client, error) {
	eth, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return nil, err
	}

	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}

	rest := resty.New().
		SetBaseURL(cfg.ExplorerURL).
		SetTimeout(cfg.RequestTimeout).
		SetRetryCount(1)

	return &Client{
		eth:     eth,
		rest:    rest,
		chainID: big.NewInt(cfg.ChainID),
		cfg:     cfg,
	}, nil
}

// explorerTx 浏览器账户接口返回的交易
type explorerTx struct {
	Hash      string `json:"hash"`
	From      string `json:"from"`
	To        string `json:"to"`
	Value     string `json:"value"` // wei
	TimeStamp string `json:"timeStamp"`
	IsError   string `json:"isError"`
}

type explorerResponse struct {
	Status  string       `json:"status"`
	Message string       `json:"message"`
	Result  []explorerTx `json:"result"`
}

// ListIncomingTransactions 查询打入address的最近交易
func (c *Client) ListIncomingTransactions(ctx context.Context, address string, limit int) ([]Transaction, error) {
	var out explorerResponse

	resp, err := c.rest.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"module":  "account",
			"action":  "txlist",
			"address": address,
			"page":    "1",
			"offset":  strconv.Itoa(limit),
			"sort":    "desc",
			"apikey":  c.cfg.ExplorerAPIKey,
		}).
		SetResult(&out).
		Get("")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExplorerUnavailable, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%w: http %d", ErrExplorerUnavailable, resp.StatusCode())
	}

	txs := make([]Transaction, 0, len(out.Result))
	for _, raw := range out.Result {
		// 只保留成功的入账交易
		if raw.IsError == "1" || !strings.EqualFold(raw.To, address) {
			continue
		}

		wei, err := decimal.NewFromString(raw.Value)
		if err != nil {
			logger.Debugf("Skipping explorer tx %s with bad value %q", raw.Hash, raw.Value)
			continue
		}

		ts, _ := strconv.ParseInt(raw.TimeStamp, 10, 64)
		txs = append(txs, Transaction{
			Hash:      raw.Hash,
			From:      raw.From,
			To:        raw.To,
			Value:     wei.Div(weiPerEther),
			Timestamp: time.Unix(ts, 0),
		})
	}
	return txs, nil
}

// SendTransfer 签名并广播归集转账
func (c *Client) SendTransfer(ctx context.Context, privKey []byte, to string, amount decimal.Decimal) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	key, err := ethcrypto.ToECDSA(privKey)
	if err != nil {
		return "", err
	}
	from := ethcrypto.PubkeyToAddress(key.PublicKey)

	nonce, err := c.eth.PendingNonceAt(ctx, from)
	if err != nil {
		return "", err
	}

	gasPrice, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return "", err
	}

	// 全额归集: 入账金额扣除转账手续费
	amountWei := amount.Mul(weiPerEther).BigInt()
	fee := new(big.Int).Mul(gasPrice, big.NewInt(sweepGasLimit))
	value := new(big.Int).Sub(amountWei, fee)
	if value.Sign() <= 0 {
		return "", ErrInsufficientValue
	}

	tx := types.NewTransaction(nonce, common.HexToAddress(to), value, sweepGasLimit, gasPrice, nil)
	signedTx, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), key)
	if err != nil {
		return "", err
	}

	if err := c.eth.SendTransaction(ctx, signedTx); err != nil {
		return "", err
	}

	logger.Infof("Sweep transaction broadcast: %s (%s -> %s)", signedTx.Hash().Hex(), from.Hex(), to)
	return signedTx.Hash().Hex(), nil
}

// Close 关闭RPC连接
func (c *Client) Close() {
	c.eth.Close()
}

var (
	_ Explorer = (*Client)(nil)
	_ Sweeper  = (*Client)(nil)
)
