package models

import "time"

type ArtworkStatus string

const (
	ArtworkProcessing ArtworkStatus = "processing"
	ArtworkCompleted  ArtworkStatus = "completed"
	ArtworkFailed     ArtworkStatus = "failed"
)

type PublicScope string

const (
	ScopeResultOnly PublicScope = "result_only"
	ScopeAll        PublicScope = "all"
)

type CreditType string

const (
	CreditCreate          CreditType = "create"
	CreditRefund          CreditType = "refund"
	CreditAdReward        CreditType = "ad_reward"
	CreditPurchase        CreditType = "purchase"
	CreditCardKey         CreditType = "card_key"
	CreditRegister        CreditType = "register"
	CreditAdminAdjustment CreditType = "admin_adjustment"
	CreditOther           CreditType = "other"
)

type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderPaid      OrderStatus = "paid"
	OrderCompleted OrderStatus = "completed"
	OrderCancelled OrderStatus = "cancelled"
	OrderRefunded  OrderStatus = "refunded"
)

type User struct {
	ID            int64      `json:"id"`
	OpenID        string     `json:"-"`
	UnionID       string     `json:"-"`
	Nickname      string     `json:"nickname"`
	AvatarURL     string     `json:"avatar_url"`
	Credits       int        `json:"credits"`
	IsBlocked     bool       `json:"is_blocked"`
	LastLoginTime *time.Time `json:"last_login_time,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

type StyleCategory struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	SortOrder int       `json:"sort_order"`
	CreatedAt time.Time `json:"created_at"`
}

type Style struct {
	ID                int64     `json:"id"`
	Name              string    `json:"name"`
	Description       string    `json:"description"`
	PreviewURL        string    `json:"preview_url"`
	ReferenceImageURL string    `json:"-"`
	CategoryID        *int64    `json:"category_id,omitempty"`
	Prompt            string    `json:"-"`
	CreditsCost       int       `json:"credits_cost"`
	IsActive          bool      `json:"is_active"`
	SortOrder         int       `json:"sort_order"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

type Artwork struct {
	ID             int64         `json:"id"`
	UserID         int64         `json:"user_id"`
	StyleID        int64         `json:"style_id"`
	StyleName      string        `json:"style_name,omitempty"`
	SourceImageURL string        `json:"source_image_url"`
	ResultImageURL *string       `json:"result_image_url,omitempty"`
	Status         ArtworkStatus `json:"status"`
	IsPublic       bool          `json:"is_public"`
	PublicScope    PublicScope   `json:"public_scope"`
	Progress       int           `json:"progress"`
	ErrorMessage   *string       `json:"error_message,omitempty"`
	LikesCount     int           `json:"likes_count"`
	ViewsCount     int           `json:"views_count"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// CreditRecord is one row of the append-only credit ledger. Amount is
// signed, Balance is the user's balance after the amount was applied.
type CreditRecord struct {
	ID          int64      `json:"id"`
	UserID      int64      `json:"user_id"`
	Amount      int        `json:"amount"`
	Balance     int        `json:"balance"`
	Type        CreditType `json:"type"`
	Description string     `json:"description"`
	RelatedID   *int64     `json:"related_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

type Product struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	ImageURL    string    `json:"image_url"`
	Credits     int       `json:"credits"`
	// Amount is the price in minor currency units (fen).
	Amount    int       `json:"amount"`
	IsActive  bool      `json:"is_active"`
	SortOrder int       `json:"sort_order"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Order struct {
	ID          int64       `json:"id"`
	OrderNo     string      `json:"order_no"`
	UserID      int64       `json:"user_id"`
	ProductID   int64       `json:"product_id"`
	Amount      int         `json:"amount"`
	Credits     int         `json:"credits"`
	Status      OrderStatus `json:"status"`
	PaymentID   *string     `json:"payment_id,omitempty"`
	PaymentTime *time.Time  `json:"payment_time,omitempty"`
	Remark      string      `json:"remark,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

type CardKey struct {
	ID        int64     `json:"id"`
	Code      string    `json:"code"`
	Credits   int       `json:"credits"`
	MaxUses   int       `json:"max_uses"`
	Uses      int       `json:"uses"`
	CreatedAt time.Time `json:"created_at"`
}

type SystemConfig struct {
	ID          int64     `json:"id"`
	ConfigKey   string    `json:"config_key"`
	ConfigValue string    `json:"config_value"`
	Description string    `json:"description"`
	UpdatedAt   time.Time `json:"updated_at"`
}
