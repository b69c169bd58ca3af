package models

import "time"

const (
	OrderStatusInitiated = "initiated"
	OrderStatusConfirmed = "confirmed"
	OrderStatusFailed    = "failed"
)

// Order is one provisioned profile (or, while allocation is still pending,
// a placeholder row with an empty ICCID). Uniqueness is (order_no, iccid).
type Order struct {
	ID            int64      `json:"id"`
	UserID        string     `json:"user_id"`
	OrderNo       string     `json:"order_no"`
	TransactionID string     `json:"transaction_id"`
	PackageCode   string     `json:"package_code"`
	PackageName   string     `json:"package_name"`
	ICCID         string     `json:"iccid"`
	EsimTranNo    string     `json:"esim_tran_no"`
	Count         int        `json:"count"`
	PeriodNum     int        `json:"period_num,omitempty"`
	Price         int64      `json:"price"`
	RetailPrice   int64      `json:"retail_price"`
	QRCode        string     `json:"qr_code"`
	Status        string     `json:"status"`
	EsimStatus    string     `json:"esim_status"`
	SmdpStatus    string     `json:"smdp_status"`
	ExpiredTime   string     `json:"expired_time"`
	TotalVolume   int64      `json:"total_volume"`
	TotalDuration int        `json:"total_duration"`
	OrderUsage    int64      `json:"order_usage"`
	EsimList      string     `json:"-"`
	PackageList   string     `json:"-"`
	LastSyncAt    *time.Time `json:"last_sync_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}
