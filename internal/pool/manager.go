package pool

import (
	"context"
	"errors"
	"time"

	"marketplace-wallet/internal/chain"
	"marketplace-wallet/internal/keygen"
	"marketplace-wallet/internal/pricefeed"
	"marketplace-wallet/internal/purchase"
	"marketplace-wallet/internal/vault"
	"marketplace-wallet/internal/wallet"
	"marketplace-wallet/pkg/logger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrPoolExhausted = errors.New("no deposit wallet available")
)

// DepositStatus 对外充值状态
type DepositStatus string

const (
	DepositPending   DepositStatus = "pending"
	DepositConfirmed DepositStatus = "confirmed"
	DepositExpired   DepositStatus = "expired"
	DepositNotFound  DepositStatus = "not_found"
)

// Config 钱包池配置
type Config struct {
	MinSize          int
	AssignTTL        time.Duration
	FeeBuffer        decimal.Decimal
	CommissionRate   decimal.Decimal
	TokenPrice       decimal.Decimal // 内部代币单价（计价货币）
	MatchTolerance   decimal.Decimal // 例如0.99: 到账 >= 期望*0.99 即视为匹配
	FallbackRate     decimal.Decimal
	ChainSymbol      string
	QuoteCurrency    string
	ConsolidateBatch int
	ExplorerTxLimit  int
	HotWalletAddress string
}

// Assignment 分配结果
type Assignment struct {
	Address       string          `json:"address"`
	AmountWithFee decimal.Decimal `json:"amount_with_fee"`
	ExpiresAt     time.Time       `json:"expires_at"`
}

// DepositResult 充值查询结果
type DepositResult struct {
	Status         DepositStatus    `json:"status"`
	Address        string           `json:"address,omitempty"`
	AmountWithFee  *decimal.Decimal `json:"amount_with_fee,omitempty"`
	ExpiresAt      *time.Time       `json:"expires_at,omitempty"`
	TxHash         string           `json:"tx_hash,omitempty"`
	AmountReceived *decimal.Decimal `json:"amount_received,omitempty"`
	CreditedAmount *decimal.Decimal `json:"credited_amount,omitempty"`
}

// Stats 池状态统计
type Stats struct {
	Available        int64 `json:"available"`
	Assigned         int64 `json:"assigned"`
	DepositConfirmed int64 `json:"deposit_confirmed"`
	Consolidated     int64 `json:"consolidated"`
	Total            int64 `json:"total"`
}

// Manager 充值钱包池管理器。编排分配、充值检测、过期回收与归集。
type Manager struct {
	store    wallet.Store
	vault    *vault.Vault
	keygen   *keygen.Generator
	explorer chain.Explorer
	sweeper  chain.Sweeper
	rates    pricefeed.Source
	cfg      Config
}

// NewManager 创建钱包池管理器
func NewManager(store wallet.Store, v *vault.Vault, kg *keygen.Generator, explorer chain.Explorer, sweeper chain.Sweeper, rates pricefeed.Source, cfg Config) *Manager {
	if cfg.MatchTolerance.IsZero() {
		cfg.MatchTolerance = decimal.RequireFromString("0.99")
	}
	if cfg.ExplorerTxLimit <= 0 {
		cfg.ExplorerTxLimit = 10
	}
	return &Manager{
		store:    store,
		vault:    v,
		keygen:   kg,
		explorer: explorer,
		sweeper:  sweeper,
		rates:    rates,
		cfg:      cfg,
	}
}

// RefillIfBelow 可用钱包低于minSize时补足差额。
// 计数与派生索引的分配都在仓储的补池事务内完成，
// 并发与重复调用收敛，且永远不会派生出重复地址。
func (m *Manager) RefillIfBelow(ctx context.Context, minSize int) (int, error) {
	created, err := m.store.Refill(minSize, func(deficit int, nextIndex int64) ([]*wallet.DepositWallet, error) {
		wallets := make([]*wallet.DepositWallet, 0, deficit)
		for i := 0; i < deficit; i++ {
			index := uint32(nextIndex + int64(i))
			kp, err := m.keygen.Generate(index)
			if err != nil {
				return nil, err
			}

			encrypted, err := m.vault.Encrypt(kp.PrivateKey)
			if err != nil {
				return nil, err
			}

			wallets = append(wallets, &wallet.DepositWallet{
				UUID:             uuid.New().String(),
				Address:          kp.Address,
				PublicKey:        kp.PublicKey,
				EncryptedPrivKey: encrypted,
				DerivationPath:   kp.DerivationPath,
				DerivationIndex:  index,
				Status:           wallet.StatusAvailable,
			})
		}
		return wallets, nil
	})
	if err != nil {
		return 0, err
	}

	if created > 0 {
		logger.Infof("Deposit pool refilled with %d wallets (min %d)", created, minSize)
	}
	return created, nil
}

// Assign 为购买单分配一个一次性充值地址。
// 无可用钱包时同步补充一个并重试一次，仍无则ErrPoolExhausted。
func (m *Manager) Assign(ctx context.Context, userID uint, purchaseID string, expectedAmount decimal.Decimal, ttl time.Duration) (*Assignment, error) {
	if ttl <= 0 {
		ttl = m.cfg.AssignTTL
	}
	now := time.Now().UTC()
	expiresAt := now.Add(ttl)

	w, err := m.store.AssignAvailable(userID, purchaseID, expectedAmount, now, expiresAt)
	if err != nil {
		return nil, err
	}
	if w == nil {
		available, err := m.store.CountAvailable()
		if err != nil {
			return nil, err
		}
		if _, err := m.RefillIfBelow(ctx, int(available)+1); err != nil {
			return nil, err
		}

		w, err = m.store.AssignAvailable(userID, purchaseID, expectedAmount, now, expiresAt)
		if err != nil {
			return nil, err
		}
		if w == nil {
			return nil, ErrPoolExhausted
		}
	}

	logger.Infof("Wallet %s assigned to purchase %s (user %d, expecting %s)", w.Address, purchaseID, userID, expectedAmount)
	return &Assignment{
		Address:       w.Address,
		AmountWithFee: expectedAmount.Add(m.cfg.FeeBuffer),
		ExpiresAt:     expiresAt,
	}, nil
}

// CheckDeposit 检查购买单的充值状态。已确认的结果幂等返回，不会重复入账。
func (m *Manager) CheckDeposit(ctx context.Context, purchaseID string) (*DepositResult, error) {
	w, err := m.store.GetByPurchaseID(purchaseID)
	if err != nil {
		return nil, err
	}
	if w == nil {
		// 钱包已释放或从未分配，以购买单为准
		p, err := m.store.GetPurchase(purchaseID)
		if err != nil {
			return nil, err
		}
		if p == nil {
			return &DepositResult{Status: DepositNotFound}, nil
		}
		switch p.Status {
		case purchase.StatusExpired:
			return &DepositResult{Status: DepositExpired}, nil
		case purchase.StatusConfirmed:
			credited, _ := decimal.NewFromString(p.CreditedAmount)
			return &DepositResult{Status: DepositConfirmed, CreditedAmount: &credited}, nil
		default:
			return &DepositResult{Status: DepositNotFound}, nil
		}
	}

	switch w.Status {
	case wallet.StatusDepositConfirmed, wallet.StatusConsolidated:
		return m.confirmedResult(w, purchaseID)
	case wallet.StatusAssigned:
		return m.checkAssigned(ctx, w, purchaseID)
	default:
		// 不应出现: available钱包不携带purchase_id
		return &DepositResult{Status: DepositNotFound}, nil
	}
}

func (m *Manager) confirmedResult(w *wallet.DepositWallet, purchaseID string) (*DepositResult, error) {
	result := &DepositResult{
		Status:  DepositConfirmed,
		Address: w.Address,
	}
	if w.DepositTxHash != nil {
		result.TxHash = *w.DepositTxHash
	}
	if w.DepositAmount != nil {
		if amount, err := decimal.NewFromString(*w.DepositAmount); err == nil {
			result.AmountReceived = &amount
		}
	}
	if p, err := m.store.GetPurchase(purchaseID); err == nil && p != nil {
		if credited, err := decimal.NewFromString(p.CreditedAmount); err == nil {
			result.CreditedAmount = &credited
		}
	}
	return result, nil
}

func (m *Manager) checkAssigned(ctx context.Context, w *wallet.DepositWallet, purchaseID string) (*DepositResult, error) {
	now := time.Now().UTC()

	if w.ExpiresAt != nil && now.After(*w.ExpiresAt) {
		if err := m.store.Release(w.ID, purchaseID); err != nil {
			if errors.Is(err, wallet.ErrNotAssigned) {
				// 并发释放或确认，重新读取
				return m.CheckDeposit(ctx, purchaseID)
			}
			return nil, err
		}
		logger.Infof("Wallet %s released, purchase %s expired", w.Address, purchaseID)
		return &DepositResult{Status: DepositExpired}, nil
	}

	expected := decimal.Zero
	if w.ExpectedAmount != nil {
		expected, _ = decimal.NewFromString(*w.ExpectedAmount)
	}

	pending := &DepositResult{
		Status:    DepositPending,
		Address:   w.Address,
		ExpiresAt: w.ExpiresAt,
	}
	withFee := expected.Add(m.cfg.FeeBuffer)
	pending.AmountWithFee = &withFee

	txs, err := m.explorer.ListIncomingTransactions(ctx, w.Address, m.cfg.ExplorerTxLimit)
	if err != nil {
		// 链查询失败视为暂未到账，下次轮询重试
		logger.Warnf("Chain query failed for %s: %v", w.Address, err)
		return pending, nil
	}

	threshold := expected.Mul(m.cfg.MatchTolerance)
	var match *chain.Transaction
	for i := range txs {
		// 浏览器按新到旧返回，第一笔达标交易即最近的合格交易
		if txs[i].Value.GreaterThanOrEqual(threshold) {
			match = &txs[i]
			break
		}
	}
	if match == nil {
		return pending, nil
	}

	var userID uint
	if w.AssignedUserID != nil {
		userID = *w.AssignedUserID
	}
	credited, commission := m.computeCredit(ctx, match.Value)

	err = m.store.ConfirmDeposit(w.ID, userID, purchaseID, match.Hash, match.Value, now, credited, commission, m.cfg.CommissionRate)
	if errors.Is(err, wallet.ErrNotAssigned) {
		// 并发调用已先确认，幂等地返回已有结果
		return m.CheckDeposit(ctx, purchaseID)
	}
	if err != nil {
		// 入账失败时钱包迁移一并回滚，整对操作留待重试
		return nil, err
	}

	logger.Infof("Deposit confirmed for purchase %s: %s %s in tx %s, credited %s",
		purchaseID, match.Value, m.cfg.ChainSymbol, match.Hash, credited)

	return &DepositResult{
		Status:         DepositConfirmed,
		Address:        w.Address,
		TxHash:         match.Hash,
		AmountReceived: &match.Value,
		CreditedAmount: &credited,
	}, nil
}

// computeCredit 计算入账: 扣除手续费，净额按汇率换算为计价货币，
// 再按固定代币单价折算为内部代币数量。汇率不可用时使用固定降级汇率。
func (m *Manager) computeCredit(ctx context.Context, amount decimal.Decimal) (credited, commission decimal.Decimal) {
	commission = amount.Mul(m.cfg.CommissionRate)
	net := amount.Sub(commission)

	rate, err := m.rates.GetRate(ctx, m.cfg.ChainSymbol, m.cfg.QuoteCurrency)
	if err != nil {
		logger.Warnf("Price lookup failed, using fallback rate %s: %v", m.cfg.FallbackRate, err)
		rate = m.cfg.FallbackRate
	}

	fiat := net.Mul(rate)
	credited = fiat.Div(m.cfg.TokenPrice)
	return credited, commission
}

// ReleaseExpired 批量回收过期分配，返回释放数量
func (m *Manager) ReleaseExpired(ctx context.Context) (int64, error) {
	released, err := m.store.ReleaseExpired(time.Now().UTC())
	if err != nil {
		return 0, err
	}
	if released > 0 {
		logger.Infof("Released %d expired deposit wallets", released)
	}
	return released, nil
}

// Consolidate 将已确认充值归集到热钱包。单个钱包失败不中断批次，
// 失败的钱包保持deposit_confirmed，下次调用重试。
func (m *Manager) Consolidate(ctx context.Context, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = m.cfg.ConsolidateBatch
	}

	wallets, err := m.store.ListConfirmedUnswept(batchSize)
	if err != nil {
		return 0, err
	}

	swept := 0
	for _, w := range wallets {
		privKey, err := m.vault.Decrypt(w.EncryptedPrivKey)
		if err != nil {
			// 解不开的私钥意味着资金暂时无法归集，绝不静默丢弃
			logger.Errorf("Failed to decrypt key for wallet %s, will retry: %v", w.Address, err)
			continue
		}

		amount := decimal.Zero
		if w.DepositAmount != nil {
			amount, _ = decimal.NewFromString(*w.DepositAmount)
		}

		txHash, err := m.sweeper.SendTransfer(ctx, privKey, m.cfg.HotWalletAddress, amount)
		if err != nil {
			logger.Errorf("Sweep failed for wallet %s: %v", w.Address, err)
			continue
		}

		if err := m.store.MarkConsolidated(w.ID, txHash, time.Now().UTC()); err != nil {
			logger.Errorf("Failed to mark wallet %s consolidated (tx %s): %v", w.Address, txHash, err)
			continue
		}

		swept++
		logger.Infof("Wallet %s consolidated in tx %s", w.Address, txHash)
	}

	return swept, nil
}

// Stats 各状态钱包计数
func (m *Manager) Stats(ctx context.Context) (*Stats, error) {
	counts, err := m.store.CountByStatus()
	if err != nil {
		return nil, err
	}

	s := &Stats{
		Available:        counts[wallet.StatusAvailable],
		Assigned:         counts[wallet.StatusAssigned],
		DepositConfirmed: counts[wallet.StatusDepositConfirmed],
		Consolidated:     counts[wallet.StatusConsolidated],
	}
	s.Total = s.Available + s.Assigned + s.DepositConfirmed + s.Consolidated
	return s, nil
}

// Config 当前池配置
func (m *Manager) Config() Config {
	return m.cfg
}
