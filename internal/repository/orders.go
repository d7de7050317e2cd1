package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/campusmart/internal/ids"
	"github.com/mmeshcher/campusmart/internal/model"
)

const orderColumns = `id, user_id, order_number, status, payment_method, payment_status, subtotal, delivery_fee,
	total, delivery_address_id, delivery_notes, payment_reference, created_at, updated_at`

const deliveryColumns = `id, order_id, tracking_token, status, delivery_person_id, current_latitude, current_longitude,
	estimated_delivery_time, actual_delivery_time, created_at, updated_at`

// OrderLine описывает позицию корзины, передаваемую при оформлении.
type OrderLine struct {
	ProductID string
	Quantity  int
}

// PlaceOrderParams содержит всё, что записывается при оформлении заказа.
// Идентификаторы генерирует вызывающий, чтобы при совпадении их можно было перегенерировать.
type PlaceOrderParams struct {
	OrderID       string
	OrderNumber   string
	UserID        string
	Address       model.DeliveryAddress
	Lines         []OrderLine
	PaymentMethod model.PaymentMethod
	DeliveryFee   int64
	DeliveryNotes string
	DeliveryID    string
	TrackingToken string
}

// PlacedOrder содержит результат оформления заказа.
type PlacedOrder struct {
	Order    model.Order
	Items    []model.OrderItem
	Delivery model.Delivery
	Address  model.DeliveryAddress
}

// OrderFilter задаёт выборку заказов.
type OrderFilter struct {
	UserID string
	Status model.OrderStatus
	Limit  int
}

// OrderState содержит заказ и его доставку, прочитанные под блокировкой.
type OrderState struct {
	Order    model.Order
	Delivery *model.Delivery
}

// Mutator изменяет заблокированное состояние. Возвращает false, если изменений нет и записывать нечего.
type Mutator func(s *OrderState) (bool, error)

// PaymentEvent идентифицирует событие платёжного провайдера для защиты от повторной обработки.
type PaymentEvent struct {
	Provider string
	EventID  string
}

func scanOrder(row pgx.Row) (*model.Order, error) {
	var o model.Order
	if err := row.Scan(&o.ID, &o.UserID, &o.OrderNumber, &o.Status, &o.PaymentMethod, &o.PaymentStatus,
		&o.Subtotal, &o.DeliveryFee, &o.Total, &o.DeliveryAddressID, &o.DeliveryNotes, &o.PaymentReference,
		&o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	return &o, nil
}

func scanDelivery(row pgx.Row) (*model.Delivery, error) {
	var d model.Delivery
	if err := row.Scan(&d.ID, &d.OrderID, &d.TrackingToken, &d.Status, &d.DeliveryPersonID,
		&d.CurrentLatitude, &d.CurrentLongitude, &d.EstimatedDeliveryTime, &d.ActualDeliveryTime,
		&d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}
	return &d, nil
}

// PlaceOrder в одной транзакции сохраняет адрес, списывает остатки, создаёт заказ, его позиции и доставку.
// Цены позиций берутся из каталога на момент оформления.
func (r *PostgresRepository) PlaceOrder(ctx context.Context, p PlaceOrderParams) (*PlacedOrder, error) {
	if len(p.Lines) == 0 {
		return nil, fmt.Errorf("place order: no lines")
	}

	lines := append([]OrderLine(nil), p.Lines...)
	// фиксированный порядок блокировок
	sort.Slice(lines, func(i, j int) bool { return lines[i].ProductID < lines[j].ProductID })

	var res *PlacedOrder
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		placed := &PlacedOrder{Address: p.Address}
		placed.Address.UserID = p.UserID

		err := tx.QueryRow(ctx,
			`INSERT INTO delivery_addresses (id, user_id, label, address_line, building, room_number, campus_zone, latitude, longitude, is_default)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			 RETURNING created_at`,
			p.Address.ID, p.UserID, p.Address.Label, p.Address.AddressLine, p.Address.Building,
			p.Address.RoomNumber, p.Address.CampusZone, p.Address.Latitude, p.Address.Longitude, p.Address.IsDefault,
		).Scan(&placed.Address.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert address: %w", err)
		}

		for _, l := range lines {
			var (
				name      string
				price     int64
				stock     int
				available bool
			)
			err := tx.QueryRow(ctx,
				`SELECT name, price, stock_quantity, is_available FROM products WHERE id = $1 FOR UPDATE`,
				l.ProductID,
			).Scan(&name, &price, &stock, &available)
			if err != nil {
				if notFound(err) {
					return fmt.Errorf("%w: %s", ErrProductUnavailable, l.ProductID)
				}
				return fmt.Errorf("lock product: %w", err)
			}
			if !available {
				return fmt.Errorf("%w: %s", ErrProductUnavailable, name)
			}
			if stock < l.Quantity {
				return fmt.Errorf("%w: %s", ErrOutOfStock, name)
			}

			if _, err := tx.Exec(ctx,
				`UPDATE products SET stock_quantity = stock_quantity - $2, updated_at = now() WHERE id = $1`,
				l.ProductID, l.Quantity,
			); err != nil {
				return fmt.Errorf("decrement stock: %w", err)
			}

			placed.Items = append(placed.Items, model.OrderItem{
				ID:          ids.NewID(),
				OrderID:     p.OrderID,
				ProductID:   l.ProductID,
				ProductName: name,
				Quantity:    l.Quantity,
				Price:       price,
			})
		}

		subtotal := model.ItemsSubtotal(placed.Items)
		addressID := p.Address.ID

		o, err := scanOrder(tx.QueryRow(ctx,
			`INSERT INTO orders (id, user_id, order_number, status, payment_method, payment_status,
			                     subtotal, delivery_fee, total, delivery_address_id, delivery_notes)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			 RETURNING `+orderColumns,
			p.OrderID, p.UserID, p.OrderNumber, string(model.OrderStatusPending), string(p.PaymentMethod),
			string(model.PaymentStatusPending), subtotal, p.DeliveryFee, subtotal+p.DeliveryFee, &addressID, p.DeliveryNotes,
		))
		if err != nil {
			if _, ok := isUniqueViolation(err); ok {
				return fmt.Errorf("%w: order %s", ErrDuplicateIdentifier, p.OrderNumber)
			}
			return fmt.Errorf("insert order: %w", err)
		}
		placed.Order = *o

		for i := range placed.Items {
			it := &placed.Items[i]
			if err := tx.QueryRow(ctx,
				`INSERT INTO order_items (id, order_id, product_id, product_name, quantity, price)
				 VALUES ($1, $2, $3, $4, $5, $6)
				 RETURNING created_at`,
				it.ID, it.OrderID, it.ProductID, it.ProductName, it.Quantity, it.Price,
			).Scan(&it.CreatedAt); err != nil {
				return fmt.Errorf("insert order item: %w", err)
			}
		}

		d, err := scanDelivery(tx.QueryRow(ctx,
			`INSERT INTO deliveries (id, order_id, tracking_token, status)
			 VALUES ($1, $2, $3, $4)
			 RETURNING `+deliveryColumns,
			p.DeliveryID, p.OrderID, p.TrackingToken, string(model.DeliveryStatusPending),
		))
		if err != nil {
			if _, ok := isUniqueViolation(err); ok {
				return fmt.Errorf("%w: tracking token", ErrDuplicateIdentifier)
			}
			return fmt.Errorf("insert delivery: %w", err)
		}
		placed.Delivery = *d

		res = placed
		return nil
	})
	if err != nil {
		return nil, err
	}

	return res, nil
}

// GetOrder возвращает заказ по идентификатору.
func (r *PostgresRepository) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	o, err := scanOrder(r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		if notFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	return o, nil
}

// ListOrders возвращает заказы, новые первыми.
func (r *PostgresRepository) ListOrders(ctx context.Context, f OrderFilter) ([]model.Order, error) {
	var (
		where []string
		args  []any
	)
	if f.UserID != "" {
		args = append(args, f.UserID)
		where = append(where, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}

	q := `SELECT ` + orderColumns + ` FROM orders`
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
		return nil, fmt.Errorf("select orders: %w", err)
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return orders, nil
}

// GetOrderItems возвращает позиции заказа.
func (r *PostgresRepository) GetOrderItems(ctx context.Context, orderID string) ([]model.OrderItem, error) {
	if err := checkID(orderID); err != nil {
		return nil, err
	}
	rows, err := r.pool.Query(ctx,
		`SELECT id, order_id, product_id, product_name, quantity, price, created_at
		 FROM order_items
		 WHERE order_id = $1
		 ORDER BY product_name`,
		orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("select order items: %w", err)
	}
	defer rows.Close()

	var items []model.OrderItem
	for rows.Next() {
		var it model.OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.ProductName, &it.Quantity, &it.Price, &it.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, it)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return items, nil
}

// GetAddress возвращает адрес доставки.
func (r *PostgresRepository) GetAddress(ctx context.Context, id string) (*model.DeliveryAddress, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	var a model.DeliveryAddress
	err := r.pool.QueryRow(ctx,
		`SELECT id, user_id, label, address_line, building, room_number, campus_zone, latitude, longitude, is_default, created_at
		 FROM delivery_addresses WHERE id = $1`,
		id,
	).Scan(&a.ID, &a.UserID, &a.Label, &a.AddressLine, &a.Building, &a.RoomNumber, &a.CampusZone,
		&a.Latitude, &a.Longitude, &a.IsDefault, &a.CreatedAt)
	if err != nil {
		if notFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get address: %w", err)
	}
	return &a, nil
}

// TransitionOrder блокирует заказ и его доставку, применяет fn и записывает обе записи в одной транзакции.
func (r *PostgresRepository) TransitionOrder(ctx context.Context, orderID string, fn Mutator) (*OrderState, bool, error) {
	if err := checkID(orderID); err != nil {
		return nil, false, err
	}
	return r.transition(ctx, func(context.Context, pgx.Tx) (string, error) { return orderID, nil }, nil, fn)
}

// UpdatePayment работает как TransitionOrder и дополнительно регистрирует событие провайдера.
// Повторное событие возвращает ErrDuplicateEvent без изменений.
func (r *PostgresRepository) UpdatePayment(ctx context.Context, orderID string, ev *PaymentEvent, fn Mutator) (*OrderState, bool, error) {
	if err := checkID(orderID); err != nil {
		return nil, false, err
	}
	var before func(context.Context, pgx.Tx) error
	if ev != nil && ev.EventID != "" {
		before = func(ctx context.Context, tx pgx.Tx) error {
			tag, err := tx.Exec(ctx,
				`INSERT INTO payment_events (provider, event_id, order_id) VALUES ($1, $2, $3)
				 ON CONFLICT (provider, event_id) DO NOTHING`,
				ev.Provider, ev.EventID, orderID,
			)
			if err != nil {
				if isForeignKeyViolation(err) {
					return ErrNotFound
				}
				return fmt.Errorf("record payment event: %w", err)
			}
			if tag.RowsAffected() == 0 {
				return ErrDuplicateEvent
			}
			return nil
		}
	}

	return r.transition(ctx, func(context.Context, pgx.Tx) (string, error) { return orderID, nil }, before, fn)
}

func (r *PostgresRepository) transition(
	ctx context.Context,
	resolve func(context.Context, pgx.Tx) (string, error),
	before func(context.Context, pgx.Tx) error,
	fn Mutator,
) (*OrderState, bool, error) {
	var (
		state   *OrderState
		changed bool
	)

	err := r.inTx(ctx, func(tx pgx.Tx) error {
		orderID, err := resolve(ctx, tx)
		if err != nil {
			return err
		}

		if before != nil {
			if err := before(ctx, tx); err != nil {
				return err
			}
		}

		cur, err := lockOrderState(ctx, tx, orderID)
		if err != nil {
			return err
		}

		next := cloneState(cur)
		ok, err := fn(next)
		if err != nil {
			return err
		}

		state, changed = next, ok
		if !ok {
			state = cur
			return nil
		}

		return writeOrderState(ctx, tx, cur, next)
	})
	if err != nil {
		return nil, false, err
	}

	return state, changed, nil
}

func lockOrderState(ctx context.Context, tx pgx.Tx, orderID string) (*OrderState, error) {
	o, err := scanOrder(tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, orderID))
	if err != nil {
		if notFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("lock order: %w", err)
	}

	s := &OrderState{Order: *o}

	d, err := scanDelivery(tx.QueryRow(ctx, `SELECT `+deliveryColumns+` FROM deliveries WHERE order_id = $1 FOR UPDATE`, orderID))
	switch {
	case err == nil:
		s.Delivery = d
	case notFound(err):
	default:
		return nil, fmt.Errorf("lock delivery: %w", err)
	}

	return s, nil
}

func cloneState(s *OrderState) *OrderState {
	c := &OrderState{Order: s.Order}
	if s.Delivery != nil {
		d := *s.Delivery
		c.Delivery = &d
	}
	return c
}

func writeOrderState(ctx context.Context, tx pgx.Tx, cur, next *OrderState) error {
	if next.Order != cur.Order {
		if err := tx.QueryRow(ctx,
			`UPDATE orders SET status = $2, payment_status = $3, payment_reference = $4, updated_at = now()
			 WHERE id = $1
			 RETURNING updated_at`,
			next.Order.ID, string(next.Order.Status), string(next.Order.PaymentStatus), next.Order.PaymentReference,
		).Scan(&next.Order.UpdatedAt); err != nil {
			return fmt.Errorf("update order: %w", err)
		}

		if cur.Order.Status != model.OrderStatusCancelled && next.Order.Status == model.OrderStatusCancelled {
			if _, err := tx.Exec(ctx,
				`UPDATE products p
				 SET stock_quantity = p.stock_quantity + oi.quantity, updated_at = now()
				 FROM order_items oi
				 WHERE oi.order_id = $1 AND p.id = oi.product_id`,
				next.Order.ID,
			); err != nil {
				return fmt.Errorf("restore stock: %w", err)
			}
		}
	}

	if next.Delivery != nil && cur.Delivery != nil && !sameDelivery(*cur.Delivery, *next.Delivery) {
		d := next.Delivery
		if err := tx.QueryRow(ctx,
			`UPDATE deliveries
			 SET status = $2, delivery_person_id = $3, current_latitude = $4, current_longitude = $5,
			     estimated_delivery_time = $6, actual_delivery_time = $7, updated_at = now()
			 WHERE id = $1
			 RETURNING updated_at`,
			d.ID, string(d.Status), d.DeliveryPersonID, d.CurrentLatitude, d.CurrentLongitude,
			d.EstimatedDeliveryTime, d.ActualDeliveryTime,
		).Scan(&d.UpdatedAt); err != nil {
			return fmt.Errorf("update delivery: %w", err)
		}
	}

	return nil
}

func sameDelivery(a, b model.Delivery) bool {
	return a.Status == b.Status &&
		eqPtr(a.DeliveryPersonID, b.DeliveryPersonID) &&
		eqPtr(a.CurrentLatitude, b.CurrentLatitude) &&
		eqPtr(a.CurrentLongitude, b.CurrentLongitude) &&
		eqTime(a.EstimatedDeliveryTime, b.EstimatedDeliveryTime) &&
		eqTime(a.ActualDeliveryTime, b.ActualDeliveryTime)
}

func eqPtr[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func eqTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

// DashboardStats возвращает сводные показатели магазина.
func (r *PostgresRepository) DashboardStats(ctx context.Context) (*model.DashboardStats, error) {
	var s model.DashboardStats
	err := r.pool.QueryRow(ctx,
		`SELECT
		     (SELECT count(*) FROM orders),
		     (SELECT count(*) FROM profiles WHERE role = $1),
		     (SELECT COALESCE(SUM(total), 0) FROM orders WHERE payment_status = $2),
		     (SELECT count(*) FROM deliveries WHERE status NOT IN ($3, $4))`,
		string(model.RoleCustomer), string(model.PaymentStatusPaid),
		string(model.DeliveryStatusDelivered), string(model.DeliveryStatusFailed),
	).Scan(&s.TotalOrders, &s.TotalCustomers, &s.TotalRevenue, &s.ActiveDeliveries)
	if err != nil {
		return nil, fmt.Errorf("dashboard stats: %w", err)
	}
	return &s, nil
}
