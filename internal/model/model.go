// Package model содержит доменные сущности сервиса CampusMart.
package model

import "time"

// Role определяет роль пользователя в системе.
type Role string

const (
	RoleCustomer          Role = "customer"
	RoleDeliveryPersonnel Role = "delivery_personnel"
	RoleAdmin             Role = "admin"
)

// Profile описывает пользователя и его контактные данные.
type Profile struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	FullName  string    `json:"full_name,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// User содержит учётные данные для входа.
type User struct {
	ID           string
	Email        string
	PasswordHash []byte
}

// Category описывает категорию товаров.
type Category struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	ImageURL    string    `json:"image_url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Product описывает товар каталога. Цена хранится в целых единицах валюты.
type Product struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Description   string    `json:"description,omitempty"`
	CategoryID    *string   `json:"category_id,omitempty"`
	Price         int64     `json:"price"`
	ImageURL      string    `json:"image_url,omitempty"`
	StockQuantity int       `json:"stock_quantity"`
	IsAvailable   bool      `json:"is_available"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// OrderStatus описывает статус выполнения заказа.
type OrderStatus string

const (
	OrderStatusPending          OrderStatus = "pending"
	OrderStatusConfirmed        OrderStatus = "confirmed"
	OrderStatusPreparing        OrderStatus = "preparing"
	OrderStatusReadyForDelivery OrderStatus = "ready_for_delivery"
	OrderStatusOutForDelivery   OrderStatus = "out_for_delivery"
	OrderStatusDelivered        OrderStatus = "delivered"
	OrderStatusCancelled        OrderStatus = "cancelled"
)

// PaymentMethod описывает способ оплаты, выбранный при оформлении.
type PaymentMethod string

const (
	PaymentMethodCard           PaymentMethod = "stripe"
	PaymentMethodMTN            PaymentMethod = "mtn_mobile_money"
	PaymentMethodAirtel         PaymentMethod = "airtel_money"
	PaymentMethodCashOnDelivery PaymentMethod = "cash_on_delivery"
)

// Valid сообщает, является ли способ оплаты известным.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodCard, PaymentMethodMTN, PaymentMethodAirtel, PaymentMethodCashOnDelivery:
		return true
	}
	return false
}

// IsMobileMoney сообщает, относится ли способ оплаты к мобильным деньгам.
func (m PaymentMethod) IsMobileMoney() bool {
	return m == PaymentMethodMTN || m == PaymentMethodAirtel
}

// PaymentStatus описывает статус оплаты заказа.
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusFailed   PaymentStatus = "failed"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// Order описывает заказ покупателя.
type Order struct {
	ID                string        `json:"id"`
	UserID            string        `json:"user_id"`
	OrderNumber       string        `json:"order_number"`
	Status            OrderStatus   `json:"status"`
	PaymentMethod     PaymentMethod `json:"payment_method"`
	PaymentStatus     PaymentStatus `json:"payment_status"`
	Subtotal          int64         `json:"subtotal"`
	DeliveryFee       int64         `json:"delivery_fee"`
	Total             int64         `json:"total"`
	DeliveryAddressID *string       `json:"delivery_address_id,omitempty"`
	DeliveryNotes     string        `json:"delivery_notes,omitempty"`
	PaymentReference  string        `json:"payment_reference,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

// OrderItem описывает позицию заказа с ценой, зафиксированной на момент оформления.
type OrderItem struct {
	ID          string    `json:"id"`
	OrderID     string    `json:"order_id"`
	ProductID   string    `json:"product_id"`
	ProductName string    `json:"product_name,omitempty"`
	Quantity    int       `json:"quantity"`
	Price       int64     `json:"price"`
	CreatedAt   time.Time `json:"created_at"`
}

// LineTotal возвращает стоимость позиции.
func (i OrderItem) LineTotal() int64 {
	return i.Price * int64(i.Quantity)
}

// ItemsSubtotal возвращает сумму позиций заказа без стоимости доставки.
func ItemsSubtotal(items []OrderItem) int64 {
	var sum int64
	for _, it := range items {
		sum += it.LineTotal()
	}
	return sum
}

// DeliveryAddress описывает адрес доставки в пределах кампуса.
type DeliveryAddress struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Label       string    `json:"label"`
	AddressLine string    `json:"address_line"`
	Building    string    `json:"building,omitempty"`
	RoomNumber  string    `json:"room_number,omitempty"`
	CampusZone  string    `json:"campus_zone"`
	Latitude    *float64  `json:"latitude,omitempty"`
	Longitude   *float64  `json:"longitude,omitempty"`
	IsDefault   bool      `json:"is_default"`
	CreatedAt   time.Time `json:"created_at"`
}

// DeliveryStatus описывает статус доставки.
type DeliveryStatus string

const (
	DeliveryStatusPending   DeliveryStatus = "pending"
	DeliveryStatusAssigned  DeliveryStatus = "assigned"
	DeliveryStatusPickedUp  DeliveryStatus = "picked_up"
	DeliveryStatusInTransit DeliveryStatus = "in_transit"
	DeliveryStatusDelivered DeliveryStatus = "delivered"
	DeliveryStatusFailed    DeliveryStatus = "failed"
)

// Delivery описывает доставку заказа. При сканировании поиск идёт только по TrackingToken.
type Delivery struct {
	ID                    string         `json:"id"`
	OrderID               string         `json:"order_id"`
	TrackingToken         string         `json:"tracking_token"`
	Status                DeliveryStatus `json:"status"`
	DeliveryPersonID      *string        `json:"delivery_person_id,omitempty"`
	CurrentLatitude       *float64       `json:"current_latitude,omitempty"`
	CurrentLongitude      *float64       `json:"current_longitude,omitempty"`
	EstimatedDeliveryTime *time.Time     `json:"estimated_delivery_time,omitempty"`
	ActualDeliveryTime    *time.Time     `json:"actual_delivery_time,omitempty"`
	CreatedAt             time.Time      `json:"created_at"`
	UpdatedAt             time.Time      `json:"updated_at"`
}

// DashboardStats содержит сводные показатели для панели администратора.
type DashboardStats struct {
	TotalOrders      int64 `json:"total_orders"`
	TotalCustomers   int64 `json:"total_customers"`
	TotalRevenue     int64 `json:"total_revenue"`
	ActiveDeliveries int64 `json:"active_deliveries"`
}
