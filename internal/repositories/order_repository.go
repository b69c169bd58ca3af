package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"esimstore/internal/models"
)

// ErrNotFound wraps sql.ErrNoRows for clarity.
var ErrNotFound = errors.New("not found")

type OrderRepository struct {
	DB *sql.DB

	once sync.Once
	err  error
}

func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{DB: db}
}

func (r *OrderRepository) ensureSchema(ctx context.Context) error {
	r.once.Do(func() {
		const ddl = `
CREATE TABLE IF NOT EXISTS orders (
    id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
    user_id VARCHAR(64) NOT NULL,
    order_no VARCHAR(64) NOT NULL,
    transaction_id VARCHAR(64) NOT NULL DEFAULT '',
    package_code VARCHAR(64) NOT NULL,
    package_name VARCHAR(255) NOT NULL DEFAULT '',
    iccid VARCHAR(32) NOT NULL DEFAULT '',
    esim_tran_no VARCHAR(64) NOT NULL DEFAULT '',
    count INT NOT NULL DEFAULT 1,
    period_num INT NOT NULL DEFAULT 0,
    price BIGINT NOT NULL DEFAULT 0,
    retail_price BIGINT NOT NULL DEFAULT 0,
    qr_code VARCHAR(512) NOT NULL DEFAULT '',
    status VARCHAR(16) NOT NULL DEFAULT 'initiated',
    esim_status VARCHAR(32) NOT NULL DEFAULT '',
    smdp_status VARCHAR(32) NOT NULL DEFAULT '',
    expired_time VARCHAR(40) NOT NULL DEFAULT '',
    total_volume BIGINT NOT NULL DEFAULT 0,
    total_duration INT NOT NULL DEFAULT 0,
    order_usage BIGINT NOT NULL DEFAULT 0,
    esim_list LONGTEXT,
    package_list LONGTEXT,
    last_sync_at TIMESTAMP NULL DEFAULT NULL,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
    PRIMARY KEY (id),
    UNIQUE KEY uniq_order_iccid (order_no, iccid),
    KEY idx_user (user_id),
    KEY idx_iccid (iccid)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;
`
		_, r.err = r.DB.ExecContext(ctx, ddl)
	})
	return r.err
}

// Upsert is the single write path. A row is identified by (order_no, iccid);
// replaying the same snapshot converges to one row, concurrent writers are
// last-writer-wins on the mutable fields. Identity columns are never
// rewritten.
func (r *OrderRepository) Upsert(ctx context.Context, o *models.Order) error {
	if err := r.ensureSchema(ctx); err != nil {
		return err
	}
	if o.OrderNo == "" {
		return fmt.Errorf("order_no is required")
	}
	_, err := r.DB.ExecContext(ctx, `
INSERT INTO orders (user_id, order_no, transaction_id, package_code, package_name, iccid,
    esim_tran_no, count, period_num, price, retail_price, qr_code, status,
    esim_status, smdp_status, expired_time, total_volume, total_duration,
    order_usage, esim_list, package_list, last_sync_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
    esim_tran_no = VALUES(esim_tran_no),
    qr_code = VALUES(qr_code),
    status = VALUES(status),
    esim_status = VALUES(esim_status),
    smdp_status = VALUES(smdp_status),
    expired_time = VALUES(expired_time),
    total_volume = VALUES(total_volume),
    total_duration = VALUES(total_duration),
    order_usage = VALUES(order_usage),
    esim_list = VALUES(esim_list),
    package_list = VALUES(package_list),
    last_sync_at = VALUES(last_sync_at)
`,
		o.UserID, o.OrderNo, o.TransactionID, o.PackageCode, o.PackageName, o.ICCID,
		o.EsimTranNo, o.Count, o.PeriodNum, o.Price, o.RetailPrice, o.QRCode, o.Status,
		o.EsimStatus, o.SmdpStatus, o.ExpiredTime, o.TotalVolume, o.TotalDuration,
		o.OrderUsage, o.EsimList, o.PackageList, o.LastSyncAt)
	return err
}

const orderColumns = `id, user_id, order_no, transaction_id, package_code, package_name, iccid,
    esim_tran_no, count, period_num, price, retail_price, qr_code, status,
    esim_status, smdp_status, expired_time, total_volume, total_duration,
    order_usage, IFNULL(esim_list, ''), IFNULL(package_list, ''), last_sync_at, created_at, updated_at`

func scanOrder(row interface{ Scan(...any) error }) (models.Order, error) {
	var o models.Order
	err := row.Scan(&o.ID, &o.UserID, &o.OrderNo, &o.TransactionID, &o.PackageCode, &o.PackageName,
		&o.ICCID, &o.EsimTranNo, &o.Count, &o.PeriodNum, &o.Price, &o.RetailPrice, &o.QRCode,
		&o.Status, &o.EsimStatus, &o.SmdpStatus, &o.ExpiredTime, &o.TotalVolume, &o.TotalDuration,
		&o.OrderUsage, &o.EsimList, &o.PackageList, &o.LastSyncAt, &o.CreatedAt, &o.UpdatedAt)
	return o, err
}

// ByUser returns the buyer's orders, newest first. Placeholder rows
// (empty iccid) are included so an interrupted purchase stays visible.
func (r *OrderRepository) ByUser(ctx context.Context, userID string) ([]models.Order, error) {
	if err := r.ensureSchema(ctx); err != nil {
		return nil, err
	}
	rows, err := r.DB.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE user_id = ? ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func (r *OrderRepository) ByICCID(ctx context.Context, iccid string) (models.Order, error) {
	if err := r.ensureSchema(ctx); err != nil {
		return models.Order{}, err
	}
	row := r.DB.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE iccid = ? ORDER BY id DESC LIMIT 1`, iccid)
	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Order{}, ErrNotFound
		}
		return models.Order{}, err
	}
	return o, nil
}

func (r *OrderRepository) ByOrderNo(ctx context.Context, orderNo string) ([]models.Order, error) {
	if err := r.ensureSchema(ctx); err != nil {
		return nil, err
	}
	rows, err := r.DB.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE order_no = ? ORDER BY id`, orderNo)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// DeletePlaceholder removes the pre-allocation row once real profiles are
// stored for the order.
func (r *OrderRepository) DeletePlaceholder(ctx context.Context, orderNo string) error {
	if err := r.ensureSchema(ctx); err != nil {
		return err
	}
	_, err := r.DB.ExecContext(ctx, `DELETE FROM orders WHERE order_no = ? AND iccid = ''`, orderNo)
	return err
}

// DeleteByICCID removes the profile from the buyer's list. The only
// deletion a buyer can trigger; ownership is checked by user_id.
func (r *OrderRepository) DeleteByICCID(ctx context.Context, userID, iccid string) error {
	if err := r.ensureSchema(ctx); err != nil {
		return err
	}
	res, err := r.DB.ExecContext(ctx, `DELETE FROM orders WHERE iccid = ? AND user_id = ?`, iccid, userID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateUsage touches only the usage counters so a usage refresh cannot
// clobber concurrent status updates.
func (r *OrderRepository) UpdateUsage(ctx context.Context, iccid string, usage int64, lastSync time.Time) error {
	if err := r.ensureSchema(ctx); err != nil {
		return err
	}
	res, err := r.DB.ExecContext(ctx,
		`UPDATE orders SET order_usage = ?, last_sync_at = ? WHERE iccid = ?`, usage, lastSync, iccid)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
