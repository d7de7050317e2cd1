package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/mmeshcher/campusmart/internal/authz"
	"github.com/mmeshcher/campusmart/internal/lifecycle"
	"github.com/mmeshcher/campusmart/internal/model"
	"github.com/mmeshcher/campusmart/internal/repository"
	"github.com/mmeshcher/campusmart/internal/validation"
)

// OrderDetails содержит заказ со всеми связанными записями.
type OrderDetails struct {
	Order    model.Order            `json:"order"`
	Items    []model.OrderItem      `json:"items"`
	Address  *model.DeliveryAddress `json:"address,omitempty"`
	Delivery *model.Delivery        `json:"delivery,omitempty"`
	Events   []lifecycle.OrderEvent `json:"events,omitempty"`
}

// ListMyOrders возвращает заказы пользователя, новые первыми.
func (s *Service) ListMyOrders(ctx context.Context, userID string) ([]model.Order, error) {
	if _, err := s.require(ctx, userID, authz.ReadOwnOrders); err != nil {
		return nil, err
	}
	return s.repo.ListOrders(ctx, repository.OrderFilter{UserID: userID})
}

// GetMyOrder возвращает заказ пользователя. Чужой заказ виден только с правом чтения всех заказов.
func (s *Service) GetMyOrder(ctx context.Context, userID, orderID string) (*OrderDetails, error) {
	actor, err := s.require(ctx, userID, authz.ReadOwnOrders)
	if err != nil {
		return nil, err
	}

	o, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.UserID != userID && !authz.Can(actor.Role, authz.ReadAllOrders) {
		return nil, repository.ErrNotFound
	}

	details, err := s.orderDetails(ctx, o)
	if err != nil {
		return nil, err
	}
	if authz.Can(actor.Role, authz.ManageOrders) {
		details.Events = lifecycle.ManualOrderEvents(details.Order, details.Delivery)
	}
	return details, nil
}

func (s *Service) orderDetails(ctx context.Context, o *model.Order) (*OrderDetails, error) {
	items, err := s.repo.GetOrderItems(ctx, o.ID)
	if err != nil {
		return nil, err
	}
	addr, err := s.orderAddress(ctx, o)
	if err != nil {
		return nil, err
	}

	d, err := s.repo.GetDeliveryByOrder(ctx, o.ID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
		d = nil
	}

	return &OrderDetails{Order: *o, Items: items, Address: addr, Delivery: d}, nil
}

// CancelOrder отменяет заказ. Покупатель может отменить свой заказ только в статусе pending,
// администратор любой незавершённый. Незавершённая доставка отмечается неудавшейся.
func (s *Service) CancelOrder(ctx context.Context, userID, orderID string) (*model.Order, error) {
	actor, err := s.actor(ctx, userID)
	if err != nil {
		return nil, err
	}
	admin := authz.Can(actor.Role, authz.ManageOrders)
	if !admin {
		if err := authz.Require(actor, authz.PlaceOrders); err != nil {
			return nil, err
		}
	}

	st, changed, err := s.repo.TransitionOrder(ctx, orderID, func(st *repository.OrderState) (bool, error) {
		if !admin {
			if st.Order.UserID != actor.UserID {
				return false, repository.ErrNotFound
			}
			if st.Order.Status != model.OrderStatusPending {
				return false, ErrOrderNotCancellable
			}
		}
		return applyOrderEvent(st, lifecycle.OrderEventCancel)
	})
	if err != nil {
		return nil, err
	}

	if changed {
		s.afterOrderEvent(ctx, st, lifecycle.OrderEventCancel, actor)
	}
	return &st.Order, nil
}

// ListAllOrders возвращает заказы всех пользователей.
func (s *Service) ListAllOrders(ctx context.Context, userID string, f repository.OrderFilter) ([]model.Order, error) {
	if _, err := s.require(ctx, userID, authz.ReadAllOrders); err != nil {
		return nil, err
	}
	return s.repo.ListOrders(ctx, f)
}

// UpdateOrderStatus применяет к заказу событие жизненного цикла.
func (s *Service) UpdateOrderStatus(ctx context.Context, userID, orderID string, event lifecycle.OrderEvent) (*model.Order, error) {
	actor, err := s.require(ctx, userID, authz.ManageOrders)
	if err != nil {
		return nil, err
	}

	st, changed, err := s.repo.TransitionOrder(ctx, orderID, func(st *repository.OrderState) (bool, error) {
		return applyOrderEvent(st, event)
	})
	if err != nil {
		return nil, err
	}

	if changed {
		s.afterOrderEvent(ctx, st, event, actor)
	}
	return &st.Order, nil
}

// applyOrderEvent меняет статус заказа; при отмене закрывает доставку.
func applyOrderEvent(st *repository.OrderState, event lifecycle.OrderEvent) (bool, error) {
	if err := lifecycle.ApplyOrderEvent(&st.Order, st.Delivery, event); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Service) afterOrderEvent(ctx context.Context, st *repository.OrderState, event lifecycle.OrderEvent, actor authz.Actor) {
	s.publishState(ctx, st)
	s.notifyUser(ctx, st.Order.UserID, fmt.Sprintf("CampusMart: order %s is now %s.",
		st.Order.OrderNumber, strings.ReplaceAll(string(st.Order.Status), "_", " ")))
	s.logger.Info("order status updated",
		zap.String("order_id", st.Order.ID),
		zap.String("event", string(event)),
		zap.String("status", string(st.Order.Status)),
		zap.String("actor", actor.UserID),
	)
}

// ListDeliveries возвращает доставки для панели курьера или администратора.
func (s *Service) ListDeliveries(ctx context.Context, userID string, f repository.DeliveryFilter) ([]model.Delivery, error) {
	if _, err := s.require(ctx, userID, authz.UpdateDeliveryStatus); err != nil {
		return nil, err
	}
	return s.repo.ListDeliveries(ctx, f)
}

// DashboardStats возвращает сводку для администратора.
func (s *Service) DashboardStats(ctx context.Context, userID string) (*model.DashboardStats, error) {
	if _, err := s.require(ctx, userID, authz.ReadAllOrders); err != nil {
		return nil, err
	}
	return s.repo.DashboardStats(ctx)
}

// SendSMS отправляет произвольное сообщение синхронно и возвращает ошибку шлюза.
func (s *Service) SendSMS(ctx context.Context, userID, phone, message string) error {
	if _, err := s.require(ctx, userID, authz.SendNotifications); err != nil {
		return err
	}
	if err := validation.ValidatePhone(phone); err != nil {
		return err
	}
	if strings.TrimSpace(message) == "" {
		return validation.Field("message", "required")
	}
	if s.opts.SMS == nil {
		return ErrNotConfigured
	}
	return s.opts.SMS.Send(ctx, validation.NormalizePhone(phone), message)
}
