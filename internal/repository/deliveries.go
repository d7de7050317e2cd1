package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/campusmart/internal/model"
)

// DeliveryKey указывает доставку по идентификатору или по токену отслеживания.
type DeliveryKey struct {
	ID    string
	Token string
}

// DeliveryFilter задаёт выборку доставок.
type DeliveryFilter struct {
	Status           model.DeliveryStatus
	DeliveryPersonID string
	Limit            int
}

func (k DeliveryKey) lookup() (string, string, error) {
	switch {
	case k.Token != "":
		return "tracking_token", k.Token, nil
	case k.ID != "":
		if err := checkID(k.ID); err != nil {
			return "", "", err
		}
		return "id", k.ID, nil
	default:
		return "", "", fmt.Errorf("%w: empty delivery key", ErrNotFound)
	}
}

// TransitionDelivery находит доставку по ключу и дальше работает как TransitionOrder.
// Заказ блокируется раньше доставки, как и в TransitionOrder.
func (r *PostgresRepository) TransitionDelivery(ctx context.Context, key DeliveryKey, fn Mutator) (*OrderState, bool, error) {
	column, value, err := key.lookup()
	if err != nil {
		return nil, false, err
	}

	resolve := func(ctx context.Context, tx pgx.Tx) (string, error) {
		var orderID string
		err := tx.QueryRow(ctx, `SELECT order_id FROM deliveries WHERE `+column+` = $1`, value).Scan(&orderID)
		if err != nil {
			if notFound(err) {
				return "", ErrNotFound
			}
			return "", fmt.Errorf("resolve delivery: %w", err)
		}
		return orderID, nil
	}

	return r.transition(ctx, resolve, nil, func(s *OrderState) (bool, error) {
		if s.Delivery == nil {
			return false, ErrNotFound
		}
		return fn(s)
	})
}

// GetDeliveryByToken возвращает доставку по токену отслеживания.
func (r *PostgresRepository) GetDeliveryByToken(ctx context.Context, token string) (*model.Delivery, error) {
	return r.getDelivery(ctx, "tracking_token", token)
}

// GetDeliveryByOrder возвращает доставку заказа.
func (r *PostgresRepository) GetDeliveryByOrder(ctx context.Context, orderID string) (*model.Delivery, error) {
	if err := checkID(orderID); err != nil {
		return nil, err
	}
	return r.getDelivery(ctx, "order_id", orderID)
}

func (r *PostgresRepository) getDelivery(ctx context.Context, column, value string) (*model.Delivery, error) {
	d, err := scanDelivery(r.pool.QueryRow(ctx, `SELECT `+deliveryColumns+` FROM deliveries WHERE `+column+` = $1`, value))
	if err != nil {
		if notFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get delivery: %w", err)
	}
	return d, nil
}

// ListDeliveries возвращает доставки, новые первыми.
func (r *PostgresRepository) ListDeliveries(ctx context.Context, f DeliveryFilter) ([]model.Delivery, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.DeliveryPersonID != "" {
		args = append(args, f.DeliveryPersonID)
		where = append(where, fmt.Sprintf("delivery_person_id = $%d", len(args)))
	}

	q := `SELECT ` + deliveryColumns + ` FROM deliveries`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY created_at DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("select deliveries: %w", err)
	}
	defer rows.Close()

	var res []model.Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, fmt.Errorf("scan delivery: %w", err)
		}
		res = append(res, *d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}
