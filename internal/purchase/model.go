package purchase

import (
	"time"
)

// Purchase 购买单。归属订单子系统，钱包池只写入
// status/credited_amount/commission（入账操作）。
type Purchase struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	PurchaseID      string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"purchase_id"`
	UserID          uint       `gorm:"index;not null" json:"user_id"`
	RequestedAmount string     `gorm:"type:decimal(36,18);not null" json:"requested_amount"`
	CreditedAmount  string     `gorm:"type:decimal(36,18);default:0" json:"credited_amount"`
	Commission      string     `gorm:"type:decimal(36,18);default:0" json:"commission"`
	Status          Status     `gorm:"type:smallint;default:0;index" json:"status"`
	ConfirmedAt     *time.Time `json:"confirmed_at"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Status 购买单状态
type Status int

const (
	StatusPending   Status = 0
	StatusConfirmed Status = 1
	StatusExpired   Status = 2
)

// LedgerEntry 内部代币账本条目，入账时追加
type LedgerEntry struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	UUID       string    `gorm:"type:varchar(36);uniqueIndex;not null" json:"uuid"`
	UserID     uint      `gorm:"index;not null" json:"user_id"`
	PurchaseID string    `gorm:"type:varchar(64);index;not null" json:"purchase_id"`
	Amount     string    `gorm:"type:decimal(36,18);not null" json:"amount"`
	Kind       string    `gorm:"type:varchar(32);not null" json:"kind"`
	CreatedAt  time.Time `json:"created_at"`
}

// LedgerKindPurchaseCredit 购买入账
const LedgerKindPurchaseCredit = "purchase_credit"

// CommissionRecord 手续费记录（链上单位）
type CommissionRecord struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	UserID     uint      `gorm:"index;not null" json:"user_id"`
	PurchaseID string    `gorm:"type:varchar(64);index;not null" json:"purchase_id"`
	Amount     string    `gorm:"type:decimal(36,18);not null" json:"amount"`
	Rate       string    `gorm:"type:decimal(8,6);not null" json:"rate"`
	CreatedAt  time.Time `json:"created_at"`
}

// TableName 表名
func (Purchase) TableName() string {
	return "purchases"
}

func (LedgerEntry) TableName() string {
	return "ledger_entries"
}

func (CommissionRecord) TableName() string {
	return "commission_records"
}
