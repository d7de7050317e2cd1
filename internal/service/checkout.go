package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/mmeshcher/campusmart/internal/authz"
	"github.com/mmeshcher/campusmart/internal/cart"
	"github.com/mmeshcher/campusmart/internal/ids"
	"github.com/mmeshcher/campusmart/internal/model"
	"github.com/mmeshcher/campusmart/internal/realtime"
	"github.com/mmeshcher/campusmart/internal/repository"
	"github.com/mmeshcher/campusmart/internal/validation"
)

// NextStep подсказывает клиенту, что делать после оформления заказа.
type NextStep string

const (
	NextStepPayCard        NextStep = "pay_card"
	NextStepPayMobileMoney NextStep = "pay_mobile_money"
	NextStepNone           NextStep = "none"
)

// CheckoutRequest содержит данные формы оформления заказа.
type CheckoutRequest struct {
	Address       validation.AddressInput `json:"address"`
	PaymentMethod model.PaymentMethod     `json:"payment_method"`
	DeliveryNotes string                  `json:"delivery_notes"`
}

// CheckoutResult содержит созданный заказ и следующий шаг оплаты.
type CheckoutResult struct {
	Order    model.Order           `json:"order"`
	Items    []model.OrderItem     `json:"items"`
	Delivery model.Delivery        `json:"delivery"`
	Address  model.DeliveryAddress `json:"address"`
	NextStep NextStep              `json:"next_step"`
}

// GetCart возвращает корзину пользователя.
func (s *Service) GetCart(_ context.Context, userID string) cart.Snapshot {
	return s.carts.Snapshot(userID)
}

// SetCartItem устанавливает количество товара в корзине. Количество 0 и меньше удаляет позицию.
func (s *Service) SetCartItem(ctx context.Context, userID, productID string, quantity int) (cart.Snapshot, error) {
	if quantity <= 0 {
		return s.carts.Remove(userID, productID), nil
	}

	p, err := s.repo.GetProduct(ctx, productID)
	if err != nil {
		return cart.Snapshot{}, err
	}
	if !p.IsAvailable {
		return cart.Snapshot{}, fmt.Errorf("%w: %s", repository.ErrProductUnavailable, p.Name)
	}
	if quantity > p.StockQuantity {
		return cart.Snapshot{}, fmt.Errorf("%w: %s", repository.ErrOutOfStock, p.Name)
	}

	return s.carts.AddOrUpdate(userID, *p, quantity), nil
}

// RemoveCartItem удаляет товар из корзины.
func (s *Service) RemoveCartItem(_ context.Context, userID, productID string) cart.Snapshot {
	return s.carts.Remove(userID, productID)
}

// ClearCart очищает корзину.
func (s *Service) ClearCart(_ context.Context, userID string) {
	s.carts.Clear(userID)
}

// PlaceOrder оформляет заказ из корзины пользователя. Заказ, позиции и доставка создаются
// одной транзакцией; при пустой корзине ничего не записывается.
func (s *Service) PlaceOrder(ctx context.Context, userID string, req CheckoutRequest) (*CheckoutResult, error) {
	if _, err := s.require(ctx, userID, authz.PlaceOrders); err != nil {
		return nil, err
	}

	snap := s.carts.Snapshot(userID)
	if len(snap.Lines) == 0 {
		return nil, ErrEmptyCart
	}

	if err := validation.ValidateAddress(req.Address); err != nil {
		return nil, err
	}
	if !req.PaymentMethod.Valid() {
		return nil, validation.Field("payment_method", "unsupported payment method")
	}

	lines := make([]repository.OrderLine, 0, len(snap.Lines))
	for _, l := range snap.Lines {
		lines = append(lines, repository.OrderLine{ProductID: l.Product.ID, Quantity: l.Quantity})
	}

	params := repository.PlaceOrderParams{
		UserID: userID,
		Address: model.DeliveryAddress{
			Label:       strings.TrimSpace(req.Address.Label),
			AddressLine: strings.TrimSpace(req.Address.AddressLine),
			Building:    strings.TrimSpace(req.Address.Building),
			RoomNumber:  strings.TrimSpace(req.Address.RoomNumber),
			CampusZone:  strings.TrimSpace(req.Address.CampusZone),
			Latitude:    req.Address.Latitude,
			Longitude:   req.Address.Longitude,
		},
		Lines:         lines,
		PaymentMethod: req.PaymentMethod,
		DeliveryFee:   s.opts.DeliveryFee,
		DeliveryNotes: strings.TrimSpace(req.DeliveryNotes),
	}

	var (
		placed *repository.PlacedOrder
		err    error
	)
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		params.OrderID = ids.NewID()
		params.OrderNumber = ids.OrderNumber()
		params.Address.ID = ids.NewID()
		params.DeliveryID = ids.NewID()
		params.TrackingToken = ids.TrackingToken()

		placed, err = s.repo.PlaceOrder(ctx, params)
		if !errors.Is(err, repository.ErrDuplicateIdentifier) {
			break
		}
		s.logger.Warn("generated identifier collision", zap.Int("attempt", attempt+1))
	}
	if err != nil {
		return nil, err
	}

	s.carts.Clear(userID)

	s.publishOrder(ctx, realtime.OpInsert, &placed.Order)
	s.publishDelivery(ctx, realtime.OpInsert, &placed.Order, &placed.Delivery)

	s.notifyUser(ctx, userID, fmt.Sprintf("CampusMart: order %s placed. Total %d %s.",
		placed.Order.OrderNumber, placed.Order.Total, strings.ToUpper(s.opts.Currency)))

	s.logger.Info("order placed",
		zap.String("order_id", placed.Order.ID),
		zap.String("order_number", placed.Order.OrderNumber),
		zap.Int64("total", placed.Order.Total),
	)

	return &CheckoutResult{
		Order:    placed.Order,
		Items:    placed.Items,
		Delivery: placed.Delivery,
		Address:  placed.Address,
		NextStep: nextStep(placed.Order.PaymentMethod),
	}, nil
}

func nextStep(m model.PaymentMethod) NextStep {
	switch {
	case m == model.PaymentMethodCard:
		return NextStepPayCard
	case m.IsMobileMoney():
		return NextStepPayMobileMoney
	default:
		return NextStepNone
	}
}
