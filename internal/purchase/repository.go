package purchase

import (
	"errors"

	"gorm.io/gorm"
)

// Repository 购买单仓储接口
type Repository interface {
	Create(p *Purchase) error
	GetByPurchaseID(purchaseID string) (*Purchase, error)
	EnsurePending(purchaseID string, userID uint, requestedAmount string) (*Purchase, error)
	ListLedgerEntries(purchaseID string) ([]*LedgerEntry, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository 创建购买单仓储
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

// Create 创建购买单
func (r *repository) Create(p *Purchase) error {
	return r.db.Create(p).Error
}

// GetByPurchaseID 通过购买单号获取
func (r *repository) GetByPurchaseID(purchaseID string) (*Purchase, error) {
	var p Purchase
	if err := r.db.Where("purchase_id = ?", purchaseID).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

// EnsurePending 确保购买单存在，不存在时创建pending记录
func (r *repository) EnsurePending(purchaseID string, userID uint, requestedAmount string) (*Purchase, error) {
	existing, err := r.GetByPurchaseID(purchaseID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	p := &Purchase{
		PurchaseID:      purchaseID,
		UserID:          userID,
		RequestedAmount: requestedAmount,
		Status:          StatusPending,
	}
	if err := r.db.Create(p).Error; err != nil {
		return nil, err
	}
	return p, nil
}

// ListLedgerEntries 列出购买单的账本条目
func (r *repository) ListLedgerEntries(purchaseID string) ([]*LedgerEntry, error) {
	var entries []*LedgerEntry
	if err := r.db.Where("purchase_id = ?", purchaseID).Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}
