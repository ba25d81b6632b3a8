package wallet

import (
	"time"
)

// DepositWallet 一次性充值钱包
//
// 生命周期: available -> assigned -> (available | deposit_confirmed) -> consolidated。
// 钱包不删除，available/assigned可循环；deposit_confirmed及之后对本次分配终态。
// 五个assigned_*字段同时写入、同时清空。
type DepositWallet struct {
	ID               uint   `gorm:"primaryKey" json:"id"`
	UUID             string `gorm:"type:varchar(36);uniqueIndex;not null" json:"uuid"`
	Address          string `gorm:"type:varchar(255);uniqueIndex;not null" json:"address"`
	PublicKey        string `gorm:"type:text;not null" json:"public_key"`
	EncryptedPrivKey string `gorm:"type:text;not null" json:"-"`
	DerivationPath   string `gorm:"type:varchar(100)" json:"derivation_path"`
	DerivationIndex  uint32 `gorm:"index;not null" json:"derivation_index"`
	Status           Status `gorm:"type:smallint;default:0;index" json:"status"`

	AssignedUserID     *uint      `gorm:"index" json:"assigned_user_id"`
	AssignedPurchaseID *string    `gorm:"type:varchar(64);uniqueIndex" json:"assigned_purchase_id"`
	ExpectedAmount     *string    `gorm:"type:decimal(36,18)" json:"expected_amount"`
	AssignedAt         *time.Time `json:"assigned_at"`
	ExpiresAt          *time.Time `gorm:"index" json:"expires_at"`

	DepositTxHash     *string    `gorm:"type:varchar(255)" json:"deposit_tx_hash"`
	DepositAmount     *string    `gorm:"type:decimal(36,18)" json:"deposit_amount"`
	DepositDetectedAt *time.Time `json:"deposit_detected_at"`

	ConsolidationTxHash *string    `gorm:"type:varchar(255)" json:"consolidation_tx_hash"`
	ConsolidatedAt      *time.Time `json:"consolidated_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Status 钱包状态
type Status int

const (
	StatusAvailable        Status = 0
	StatusAssigned         Status = 1
	StatusDepositConfirmed Status = 2
	StatusConsolidated     Status = 3
)

// String 状态名
func (s Status) String() string {
	switch s {
	case StatusAvailable:
		return "available"
	case StatusAssigned:
		return "assigned"
	case StatusDepositConfirmed:
		return "deposit_confirmed"
	case StatusConsolidated:
		return "consolidated"
	default:
		return "unknown"
	}
}

// TableName 表名
func (DepositWallet) TableName() string {
	return "deposit_wallets"
}
