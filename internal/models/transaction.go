package models

import (
	"time"
)

// StoreTransaction records each verified store transaction once.
// The unique (platform, transaction_id) key makes activation idempotent.
type StoreTransaction struct {
	BaseModel

	UserID string `json:"user_id" gorm:"not null;size:64;index"`

	Platform              StorePlatform `json:"platform" gorm:"not null;size:20;uniqueIndex:uq_store_transaction"`
	TransactionID         string        `json:"transaction_id" gorm:"not null;size:200;uniqueIndex:uq_store_transaction"`
	OriginalTransactionID string        `json:"original_transaction_id" gorm:"size:200;index"`

	ProductID   string     `json:"product_id" gorm:"size:100"`
	PlanTier    PlanTier   `json:"plan_type" gorm:"size:20"`
	Environment string     `json:"environment" gorm:"size:20"` // sandbox or production
	ExpiresAt   time.Time  `json:"expires_at"`
	PurchasedAt *time.Time `json:"purchased_at"`
}

// TableName pins the table name
func (StoreTransaction) TableName() string {
	return "store_transactions"
}
