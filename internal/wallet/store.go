package wallet

import (
	"errors"
	"time"

	"marketplace-wallet/internal/purchase"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrNotAssigned  = errors.New("wallet is not in assigned state")
	ErrNotConfirmed = errors.New("wallet is not in deposit_confirmed state")
)

// Store 钱包池仓储。池的唯一事实来源，所有状态迁移在此事务化执行。
type Store interface {
	CountByStatus() (map[Status]int64, error)
	CountAvailable() (int64, error)

	// Refill 单条事务内完成补池: advisory锁串行化并发补池调用，
	// 锁内重读可用计数与最大派生索引，再由build生成缺额钱包并插入。
	// 派生索引因此全局唯一，两个进程同时补池也不会派生出相同地址。
	// 锁内计数已达minSize时不调用build，返回0。
	Refill(minSize int, build func(deficit int, nextIndex int64) ([]*DepositWallet, error)) (int, error)

	// AssignAvailable 原子选取一个available钱包并迁移到assigned。
	// 单条事务内完成SELECT ... FOR UPDATE SKIP LOCKED与状态写入，
	// 并发调用方各自拿到不同的行，无可用行时返回(nil, nil)。
	AssignAvailable(userID uint, purchaseID string, expectedAmount decimal.Decimal, now time.Time, expiresAt time.Time) (*DepositWallet, error)

	GetByPurchaseID(purchaseID string) (*DepositWallet, error)

	// GetPurchase 读取购买单（钱包释放后查询状态用）。
	GetPurchase(purchaseID string) (*purchase.Purchase, error)

	// Release 将assigned钱包放回available（清空分配字段），
	// 同一事务内把对应购买单标记为expired。
	Release(walletID uint, purchaseID string) error

	// ReleaseExpired 批量释放所有已过期的assigned钱包，返回释放数量。
	ReleaseExpired(now time.Time) (int64, error)

	// ConfirmDeposit 单条事务: 钱包assigned->deposit_confirmed（状态前置条件，
	// 条件不满足返回ErrNotAssigned）、购买单confirmed、追加账本与手续费记录。
	// 入账与钱包迁移同生共死。
	ConfirmDeposit(walletID uint, userID uint, purchaseID string, txHash string, amount decimal.Decimal, detectedAt time.Time, credited decimal.Decimal, commission decimal.Decimal, commissionRate decimal.Decimal) error

	ListConfirmedUnswept(limit int) ([]*DepositWallet, error)

	// MarkConsolidated deposit_confirmed->consolidated，写入归集交易哈希。
	MarkConsolidated(walletID uint, txHash string, at time.Time) error

	// ListAssignedPending 列出仍绑定pending购买单的assigned钱包。
	ListAssignedPending() ([]*DepositWallet, error)
}

type store struct {
	db *gorm.DB
}

// NewStore 创建钱包池仓储
func NewStore(db *gorm.DB) Store {
	return &store{db: db}
}

// CountByStatus 按状态统计
func (s *store) CountByStatus() (map[Status]int64, error) {
	type row struct {
		Status Status
		Count  int64
	}
	var rows []row
	if err := s.db.Model(&DepositWallet{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, err
	}

	counts := make(map[Status]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}

// CountAvailable 统计可用钱包
func (s *store) CountAvailable() (int64, error) {
	var count int64
	if err := s.db.Model(&DepositWallet{}).
		Where("status = ?", StatusAvailable).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// 补池advisory锁键，api与worker进程共用
const refillLockID = 874213

// Refill 事务化补池，锁内读计数与派生索引
func (s *store) Refill(minSize int, build func(deficit int, nextIndex int64) ([]*DepositWallet, error)) (int, error) {
	created := 0

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("SELECT pg_advisory_xact_lock(?)", refillLockID).Error; err != nil {
			return err
		}

		var available int64
		if err := tx.Model(&DepositWallet{}).
			Where("status = ?", StatusAvailable).
			Count(&available).Error; err != nil {
			return err
		}
		if available >= int64(minSize) {
			return nil
		}

		var max *int64
		if err := tx.Model(&DepositWallet{}).
			Select("max(derivation_index)").
			Scan(&max).Error; err != nil {
			return err
		}
		next := int64(0)
		if max != nil {
			next = *max + 1
		}

		wallets, err := build(minSize-int(available), next)
		if err != nil {
			return err
		}
		if len(wallets) == 0 {
			return nil
		}
		if err := tx.Create(wallets).Error; err != nil {
			return err
		}
		created = len(wallets)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return created, nil
}

// AssignAvailable 原子分配一个可用钱包
func (s *store) AssignAvailable(userID uint, purchaseID string, expectedAmount decimal.Decimal, now time.Time, expiresAt time.Time) (*DepositWallet, error) {
	var assigned *DepositWallet

	err := s.db.Transaction(func(tx *gorm.DB) error {
		var w DepositWallet
		err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ?", StatusAvailable).
			Order("id").
			First(&w).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		expected := expectedAmount.String()
		updates := map[string]interface{}{
			"status":               StatusAssigned,
			"assigned_user_id":     userID,
			"assigned_purchase_id": purchaseID,
			"expected_amount":      expected,
			"assigned_at":          now,
			"expires_at":           expiresAt,
		}
		if err := tx.Model(&DepositWallet{}).Where("id = ?", w.ID).Updates(updates).Error; err != nil {
			return err
		}

		w.Status = StatusAssigned
		w.AssignedUserID = &userID
		w.AssignedPurchaseID = &purchaseID
		w.ExpectedAmount = &expected
		w.AssignedAt = &now
		w.ExpiresAt = &expiresAt
		assigned = &w
		return nil
	})
	if err != nil {
		return nil, err
	}
	return assigned, nil
}

// GetByPurchaseID 通过购买单号获取钱包
func (s *store) GetByPurchaseID(purchaseID string) (*DepositWallet, error) {
	var w DepositWallet
	if err := s.db.Where("assigned_purchase_id = ?", purchaseID).First(&w).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &w, nil
}

// GetPurchase 通过购买单号读取购买单
func (s *store) GetPurchase(purchaseID string) (*purchase.Purchase, error) {
	var p purchase.Purchase
	if err := s.db.Where("purchase_id = ?", purchaseID).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

var clearedAssignment = map[string]interface{}{
	"status":               StatusAvailable,
	"assigned_user_id":     nil,
	"assigned_purchase_id": nil,
	"expected_amount":      nil,
	"assigned_at":          nil,
	"expires_at":           nil,
}

// Release 释放单个钱包并过期其购买单
func (s *store) Release(walletID uint, purchaseID string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&DepositWallet{}).
			Where("id = ? AND status = ?", walletID, StatusAssigned).
			Updates(clearedAssignment)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotAssigned
		}

		return tx.Model(&purchase.Purchase{}).
			Where("purchase_id = ? AND status = ?", purchaseID, purchase.StatusPending).
			Update("status", purchase.StatusExpired).Error
	})
}

// ReleaseExpired 批量释放过期钱包
func (s *store) ReleaseExpired(now time.Time) (int64, error) {
	var released int64

	err := s.db.Transaction(func(tx *gorm.DB) error {
		var rows []*DepositWallet
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ? AND expires_at <= ?", StatusAssigned, now).
			Find(&rows).Error; err != nil {
			return err
		}

		for _, w := range rows {
			if w.AssignedPurchaseID != nil {
				if err := tx.Model(&purchase.Purchase{}).
					Where("purchase_id = ? AND status = ?", *w.AssignedPurchaseID, purchase.StatusPending).
					Update("status", purchase.StatusExpired).Error; err != nil {
					return err
				}
			}
			if err := tx.Model(&DepositWallet{}).
				Where("id = ?", w.ID).
				Updates(clearedAssignment).Error; err != nil {
				return err
			}
		}

		released = int64(len(rows))
		return nil
	})
	if err != nil {
		return 0, err
	}
	return released, nil
}

// ConfirmDeposit 确认充值并入账
func (s *store) ConfirmDeposit(walletID uint, userID uint, purchaseID string, txHash string, amount decimal.Decimal, detectedAt time.Time, credited decimal.Decimal, commission decimal.Decimal, commissionRate decimal.Decimal) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&DepositWallet{}).
			Where("id = ? AND status = ?", walletID, StatusAssigned).
			Updates(map[string]interface{}{
				"status":              StatusDepositConfirmed,
				"deposit_tx_hash":     txHash,
				"deposit_amount":      amount.String(),
				"deposit_detected_at": detectedAt,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotAssigned
		}

		if err := tx.Model(&purchase.Purchase{}).
			Where("purchase_id = ?", purchaseID).
			Updates(map[string]interface{}{
				"status":          purchase.StatusConfirmed,
				"credited_amount": credited.String(),
				"commission":      commission.String(),
				"confirmed_at":    detectedAt,
			}).Error; err != nil {
			return err
		}

		entry := &purchase.LedgerEntry{
			UUID:       uuid.New().String(),
			UserID:     userID,
			PurchaseID: purchaseID,
			Amount:     credited.String(),
			Kind:       purchase.LedgerKindPurchaseCredit,
		}
		if err := tx.Create(entry).Error; err != nil {
			return err
		}

		record := &purchase.CommissionRecord{
			UserID:     userID,
			PurchaseID: purchaseID,
			Amount:     commission.String(),
			Rate:       commissionRate.String(),
		}
		return tx.Create(record).Error
	})
}

// ListConfirmedUnswept 列出待归集钱包
func (s *store) ListConfirmedUnswept(limit int) ([]*DepositWallet, error) {
	var wallets []*DepositWallet
	if err := s.db.
		Where("status = ? AND deposit_amount > 0", StatusDepositConfirmed).
		Order("deposit_detected_at ASC").
		Limit(limit).
		Find(&wallets).Error; err != nil {
		return nil, err
	}
	return wallets, nil
}

// MarkConsolidated 标记归集完成
func (s *store) MarkConsolidated(walletID uint, txHash string, at time.Time) error {
	res := s.db.Model(&DepositWallet{}).
		Where("id = ? AND status = ?", walletID, StatusDepositConfirmed).
		Updates(map[string]interface{}{
			"status":                StatusConsolidated,
			"consolidation_tx_hash": txHash,
			"consolidated_at":       at,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotConfirmed
	}
	return nil
}

// ListAssignedPending 列出待轮询的分配中钱包
func (s *store) ListAssignedPending() ([]*DepositWallet, error) {
	var wallets []*DepositWallet
	if err := s.db.
		Joins("JOIN purchases ON purchases.purchase_id = deposit_wallets.assigned_purchase_id").
		Where("deposit_wallets.status = ? AND purchases.status = ?", StatusAssigned, purchase.StatusPending).
		Find(&wallets).Error; err != nil {
		return nil, err
	}
	return wallets, nil
}
