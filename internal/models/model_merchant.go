package models

import "time"

// Merchant anchors plans and webhook endpoints to a wallet address. Rows are
// created lazily by the indexer's plan resync; profile fields are filled in
// by the merchant CRUD surface.
type Merchant struct {
	WalletAddress string    `gorm:"column:wallet_address;type:varchar(64);primary_key" json:"wallet_address"`
	CompanyName   *string   `gorm:"column:company_name;type:varchar(128)" json:"company_name"`
	LogoURL       *string   `gorm:"column:logo_url;type:varchar(512)" json:"logo_url"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (Merchant) TableName() string { return "merchant" }
