package models

import "time"

// PointOfSale maps to the `point_of_sale` table. One row per configured
// virtual POS; the credential record matching Type carries the gateway
// secrets.
type PointOfSale struct {
	ID                    uint   `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Name                  string `gorm:"column:name;size:128" json:"name"`
	BankName              string `gorm:"column:bank_name;size:128" json:"bank_name"`
	Type                  string `gorm:"column:type;size:16;index" json:"type"`
	Environment           string `gorm:"column:environment;size:16" json:"environment"`
	OperationNumberPrefix string `gorm:"column:operation_number_prefix;size:20" json:"operation_number_prefix"`
	HasPartialRefunds     bool   `gorm:"column:has_partial_refunds" json:"has_partial_refunds"`
	HasTotalRefunds       bool   `gorm:"column:has_total_refunds" json:"has_total_refunds"`
	IsErased              bool   `gorm:"column:is_erased;index" json:"is_erased"`

	Ceca            *CecaCredentials            `gorm:"foreignKey:PointOfSaleID" json:"ceca,omitempty"`
	Redsys          *RedsysCredentials          `gorm:"foreignKey:PointOfSaleID" json:"redsys,omitempty"`
	Paypal          *PaypalCredentials          `gorm:"foreignKey:PointOfSaleID" json:"paypal,omitempty"`
	SantanderElavon *SantanderElavonCredentials `gorm:"foreignKey:PointOfSaleID" json:"santander_elavon,omitempty"`
	Bitpay          *BitpayCredentials          `gorm:"foreignKey:PointOfSaleID" json:"bitpay,omitempty"`

	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (PointOfSale) TableName() string {
	return "point_of_sale"
}

// CecaCredentials maps to the `ceca_credentials` table.
type CecaCredentials struct {
	ID            uint   `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	PointOfSaleID uint   `gorm:"column:point_of_sale_id;index" json:"point_of_sale_id"`
	Merchant      string `gorm:"column:merchant;size:9" json:"merchant"`
	AcquirerBIN   string `gorm:"column:acquirer_bin;size:10" json:"acquirer_bin"`
	Terminal      string `gorm:"column:terminal;size:8" json:"terminal"`
	EncryptionKey string `gorm:"column:encryption_key;size:10" json:"-"`
}

func (CecaCredentials) TableName() string {
	return "ceca_credentials"
}

// RedsysCredentials maps to the `redsys_credentials` table.
// EncryptionKey is the base64 3DES master key issued by the bank.
type RedsysCredentials struct {
	ID            uint   `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	PointOfSaleID uint   `gorm:"column:point_of_sale_id;index" json:"point_of_sale_id"`
	MerchantCode  string `gorm:"column:merchant_code;size:9" json:"merchant_code"`
	Terminal      string `gorm:"column:terminal;size:3" json:"terminal"`
	EncryptionKey string `gorm:"column:encryption_key;size:64" json:"-"`
	// OperativeType selects the Ds_Merchant_TransactionType used when the
	// payment form is built: authorization, preauthorization or a
	// reference request.
	OperativeType string `gorm:"column:operative_type;size:24" json:"operative_type"`
}

func (RedsysCredentials) TableName() string {
	return "redsys_credentials"
}

// PaypalCredentials maps to the `paypal_credentials` table (NVP API).
type PaypalCredentials struct {
	ID            uint   `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	PointOfSaleID uint   `gorm:"column:point_of_sale_id;index" json:"point_of_sale_id"`
	APIUsername   string `gorm:"column:api_username;size:60" json:"api_username"`
	APIPassword   string `gorm:"column:api_password;size:60" json:"-"`
	APISignature  string `gorm:"column:api_signature;size:60" json:"-"`
	// ReturnURL is where PayPal sends the payer back with token and
	// PayerID after express checkout approval.
	ReturnURL string `gorm:"column:return_url;size:255" json:"return_url"`
}

func (PaypalCredentials) TableName() string {
	return "paypal_credentials"
}

// SantanderElavonCredentials maps to the `santander_elavon_credentials` table.
type SantanderElavonCredentials struct {
	ID            uint   `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	PointOfSaleID uint   `gorm:"column:point_of_sale_id;index" json:"point_of_sale_id"`
	MerchantID    string `gorm:"column:merchant_id;size:50" json:"merchant_id"`
	Account       string `gorm:"column:account;size:30" json:"account"`
	EncryptionKey string `gorm:"column:encryption_key;size:64" json:"-"`
}

func (SantanderElavonCredentials) TableName() string {
	return "santander_elavon_credentials"
}

// BitpayCredentials maps to the `bitpay_credentials` table.
type BitpayCredentials struct {
	ID            uint   `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	PointOfSaleID uint   `gorm:"column:point_of_sale_id;index" json:"point_of_sale_id"`
	APIKey        string `gorm:"column:api_key;size:64" json:"-"`
	// NotificationURL is where Bitpay posts invoice status updates.
	NotificationURL string `gorm:"column:notification_url;size:255" json:"notification_url"`
}

func (BitpayCredentials) TableName() string {
	return "bitpay_credentials"
}

// Credentials returns the credential record matching the POS type, or nil.
func (p *PointOfSale) Credentials() interface{} {
	switch p.Type {
	case TypeCeca:
		if p.Ceca != nil {
			return p.Ceca
		}
	case TypeRedsys:
		if p.Redsys != nil {
			return p.Redsys
		}
	case TypePaypal:
		if p.Paypal != nil {
			return p.Paypal
		}
	case TypeSantanderElavon:
		if p.SantanderElavon != nil {
			return p.SantanderElavon
		}
	case TypeBitpay:
		if p.Bitpay != nil {
			return p.Bitpay
		}
	}
	return nil
}
