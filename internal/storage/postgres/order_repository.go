package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/divyanshbajpai27/contractfabricorep/internal/domain"
)

const (
	opTimeout = 5 * time.Second
)

type orderRepository struct {
	db *sql.DB
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{db: store.DB()}
}

const orderColumns = `
	id, template_id, customer_email, form_data, currency, amount_minor,
	status, checkout_session_id, payment_reference, refund_id,
	download_expiry, version, created_at, updated_at`

func (r *orderRepository) Create(order domain.Order) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	formData, err := json.Marshal(order.FormData)
	if err != nil {
		return fmt.Errorf("marshal form data: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (`+orderColumns+`
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`,
		order.ID, order.TemplateID, order.CustomerEmail, formData,
		order.Currency, order.AmountMinor, string(order.Status),
		order.CheckoutSessionID, order.PaymentReference, order.RefundID,
		nullTime(order.DownloadExpiry), order.Version, order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrOrderVersionConflict
		}
		return fmt.Errorf("insert order: %w", err)
	}

	if err = insertArtifactsTx(ctx, tx, order.ID, order.Artifacts); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit create order: %w", err)
	}

	return nil
}

func (r *orderRepository) Get(id string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	return r.getOne(ctx, `WHERE id = $1`, id)
}

func (r *orderRepository) GetByIDAndEmail(id, email string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	// Несовпадение e-mail неотличимо от отсутствующего заказа.
	return r.getOne(ctx, `WHERE id = $1 AND LOWER(customer_email) = LOWER(TRIM($2))`, id, email)
}

func (r *orderRepository) Save(order domain.Order) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	formData, err := json.Marshal(order.FormData)
	if err != nil {
		return fmt.Errorf("marshal form data: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `
		UPDATE orders
		SET template_id = $1,
		    customer_email = $2,
		    form_data = $3,
		    currency = $4,
		    amount_minor = $5,
		    status = $6,
		    checkout_session_id = $7,
		    payment_reference = $8,
		    refund_id = $9,
		    download_expiry = $10,
		    version = version + 1,
		    updated_at = $11
		WHERE id = $12
		  AND version = $13
	`,
		order.TemplateID,
		order.CustomerEmail,
		formData,
		order.Currency,
		order.AmountMinor,
		string(order.Status),
		order.CheckoutSessionID,
		order.PaymentReference,
		order.RefundID,
		nullTime(order.DownloadExpiry),
		order.UpdatedAt,
		order.ID,
		order.Version,
	)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		exists, err := r.orderExistsTx(ctx, tx, order.ID)
		if err != nil {
			return err
		}
		if !exists {
			return domain.ErrOrderNotFound
		}
		return domain.ErrOrderVersionConflict
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM order_artifacts WHERE order_id = $1`, order.ID); err != nil {
		return fmt.Errorf("clear order artifacts: %w", err)
	}
	if err = insertArtifactsTx(ctx, tx, order.ID, order.Artifacts); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit save order: %w", err)
	}

	return nil
}

func (r *orderRepository) ListExpired(before time.Time, limit int) ([]domain.Order, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE status = 'paid'
		  AND download_expiry IS NOT NULL
		  AND download_expiry < $1
		  AND EXISTS (SELECT 1 FROM order_artifacts a WHERE a.order_id = orders.id)
		ORDER BY download_expiry ASC, id ASC
	`

	var (
		rows *sql.Rows
		err  error
	)

	if limit > 0 {
		rows, err = r.db.QueryContext(ctx, query+" LIMIT $2", before, limit)
	} else {
		rows, err = r.db.QueryContext(ctx, query, before)
	}
	if err != nil {
		return nil, fmt.Errorf("list expired orders: %w", err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order rows: %w", err)
	}

	for i := range orders {
		artifacts, err := r.loadArtifacts(ctx, orders[i].ID)
		if err != nil {
			return nil, err
		}
		orders[i].Artifacts = artifacts
	}

	return orders, nil
}

func (r *orderRepository) getOne(ctx context.Context, where string, args ...any) (domain.Order, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders `+where, args...)

	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, err
	}

	artifacts, err := r.loadArtifacts(ctx, order.ID)
	if err != nil {
		return domain.Order{}, err
	}
	order.Artifacts = artifacts

	return order, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order    domain.Order
		status   string
		formData []byte
		expiry   sql.NullTime
	)

	err := row.Scan(
		&order.ID, &order.TemplateID, &order.CustomerEmail, &formData,
		&order.Currency, &order.AmountMinor, &status,
		&order.CheckoutSessionID, &order.PaymentReference, &order.RefundID,
		&expiry, &order.Version, &order.CreatedAt, &order.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, err
		}
		return domain.Order{}, fmt.Errorf("scan order row: %w", err)
	}

	order.Status = domain.OrderStatus(status)
	if expiry.Valid {
		order.DownloadExpiry = expiry.Time.UTC()
	}

	if len(formData) > 0 {
		if err := json.Unmarshal(formData, &order.FormData); err != nil {
			return domain.Order{}, fmt.Errorf("unmarshal form data: %w", err)
		}
	}

	return order, nil
}

func (r *orderRepository) loadArtifacts(ctx context.Context, orderID string) ([]domain.Artifact, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT role, object_key, created_at
		FROM order_artifacts
		WHERE order_id = $1
		ORDER BY role ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order artifacts: %w", err)
	}
	defer rows.Close()

	artifacts := make([]domain.Artifact, 0)
	for rows.Next() {
		var (
			artifact domain.Artifact
			role     string
		)
		if err := rows.Scan(&role, &artifact.ObjectKey, &artifact.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan order artifact: %w", err)
		}
		artifact.Role = domain.ArtifactRole(role)
		artifacts = append(artifacts, artifact)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order artifacts: %w", err)
	}

	if len(artifacts) == 0 {
		return nil, nil
	}
	return artifacts, nil
}

func insertArtifactsTx(ctx context.Context, tx *sql.Tx, orderID string, artifacts []domain.Artifact) error {
	for _, artifact := range artifacts {
		createdAt := artifact.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO order_artifacts (order_id, role, object_key, created_at)
			VALUES ($1,$2,$3,$4)
		`, orderID, string(artifact.Role), artifact.ObjectKey, createdAt); err != nil {
			return fmt.Errorf("insert order artifact: %w", err)
		}
	}
	return nil
}

func (r *orderRepository) orderExistsTx(ctx context.Context, tx *sql.Tx, orderID string) (bool, error) {
	var id string
	err := tx.QueryRowContext(ctx, `SELECT id FROM orders WHERE id = $1`, orderID).Scan(&id)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, fmt.Errorf("check order exists: %w", err)
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

var _ domain.OrderRepository = (*orderRepository)(nil)
