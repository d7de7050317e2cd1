package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/mmeshcher/campusmart/internal/authz"
	"github.com/mmeshcher/campusmart/internal/lifecycle"
	"github.com/mmeshcher/campusmart/internal/model"
	"github.com/mmeshcher/campusmart/internal/realtime"
	"github.com/mmeshcher/campusmart/internal/repository"
	"github.com/mmeshcher/campusmart/internal/validation"
)

// ScanResult описывает то, что видит курьер после сканирования QR-кода.
type ScanResult struct {
	Delivery model.Delivery         `json:"delivery"`
	Order    model.Order            `json:"order"`
	Items    []model.OrderItem      `json:"items"`
	Address  *model.DeliveryAddress `json:"address,omitempty"`
	Actions  []model.DeliveryStatus `json:"actions"`
}

// ScanDelivery находит доставку по токену отслеживания. Ничего не изменяет.
func (s *Service) ScanDelivery(ctx context.Context, userID, token string) (*ScanResult, error) {
	if _, err := s.require(ctx, userID, authz.UpdateDeliveryStatus); err != nil {
		return nil, err
	}
	if token == "" {
		return nil, repository.ErrNotFound
	}

	d, err := s.repo.GetDeliveryByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	o, err := s.repo.GetOrder(ctx, d.OrderID)
	if err != nil {
		return nil, err
	}
	items, err := s.repo.GetOrderItems(ctx, o.ID)
	if err != nil {
		return nil, err
	}
	addr, err := s.orderAddress(ctx, o)
	if err != nil {
		return nil, err
	}

	res := &ScanResult{Delivery: *d, Order: *o, Items: items, Address: addr}
	if o.Status != model.OrderStatusCancelled {
		for _, next := range lifecycle.DeliveryActions(d.Status) {
			// шаг вперёд предлагается, только если заказ готов его сопровождать
			if next != model.DeliveryStatusFailed {
				if _, _, err := lifecycle.SyncOrder(o.Status, next); err != nil {
					continue
				}
			}
			res.Actions = append(res.Actions, next)
		}
	}
	return res, nil
}

// AdvanceDelivery переводит доставку, найденную по токену, в статус target.
// Статус заказа синхронизируется в той же транзакции.
func (s *Service) AdvanceDelivery(ctx context.Context, userID, token string, target model.DeliveryStatus) (*repository.OrderState, error) {
	actor, err := s.require(ctx, userID, authz.UpdateDeliveryStatus)
	if err != nil {
		return nil, err
	}
	if token == "" {
		return nil, repository.ErrNotFound
	}

	now := s.now().UTC()
	st, changed, err := s.repo.TransitionDelivery(ctx, repository.DeliveryKey{Token: token}, func(st *repository.OrderState) (bool, error) {
		d := st.Delivery
		next, err := lifecycle.NextDeliveryStatus(d.Status, target)
		if err != nil {
			return false, err
		}

		if next != model.DeliveryStatusFailed {
			status, sync, err := lifecycle.SyncOrder(st.Order.Status, next)
			if err != nil {
				return false, err
			}
			if sync {
				st.Order.Status = status
			}
		}

		d.Status = next
		if next == model.DeliveryStatusAssigned || d.DeliveryPersonID == nil {
			id := actor.UserID
			d.DeliveryPersonID = &id
		}
		switch next {
		case model.DeliveryStatusInTransit:
			if d.EstimatedDeliveryTime == nil {
				eta := now.Add(estimatedTransitETA)
				d.EstimatedDeliveryTime = &eta
			}
		case model.DeliveryStatusDelivered:
			d.ActualDeliveryTime = &now
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	if changed {
		s.publishState(ctx, st)
		s.notifyDelivery(ctx, st)
		s.logger.Info("delivery status updated",
			zap.String("delivery_id", st.Delivery.ID),
			zap.String("status", string(st.Delivery.Status)),
			zap.String("order_status", string(st.Order.Status)),
		)
	}
	return st, nil
}

// FailDelivery отмечает доставку неудавшейся. Статус заказа не меняется.
func (s *Service) FailDelivery(ctx context.Context, userID, token string) (*repository.OrderState, error) {
	return s.AdvanceDelivery(ctx, userID, token, model.DeliveryStatusFailed)
}

// UpdateDeliveryLocation записывает текущие координаты курьера.
func (s *Service) UpdateDeliveryLocation(ctx context.Context, userID, deliveryID string, lat, lng float64) (*model.Delivery, error) {
	actor, err := s.require(ctx, userID, authz.UpdateDeliveryStatus)
	if err != nil {
		return nil, err
	}
	if err := validation.ValidateCoordinates(&lat, &lng); err != nil {
		return nil, validation.Field("coordinates", err.Error())
	}

	st, changed, err := s.repo.TransitionDelivery(ctx, repository.DeliveryKey{ID: deliveryID}, func(st *repository.OrderState) (bool, error) {
		d := st.Delivery
		if lifecycle.IsTerminalDelivery(d.Status) {
			return false, fmt.Errorf("%w: delivery %s", lifecycle.ErrTerminal, d.Status)
		}
		if d.DeliveryPersonID != nil && *d.DeliveryPersonID != actor.UserID && actor.Role != model.RoleAdmin {
			return false, fmt.Errorf("%w: delivery assigned to another courier", authz.ErrForbidden)
		}
		d.CurrentLatitude = &lat
		d.CurrentLongitude = &lng
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	if changed {
		s.publishDelivery(ctx, realtime.OpUpdate, &st.Order, st.Delivery)
	}
	return st.Delivery, nil
}

func (s *Service) notifyDelivery(ctx context.Context, st *repository.OrderState) {
	var msg string
	switch st.Delivery.Status {
	case model.DeliveryStatusInTransit:
		msg = fmt.Sprintf("CampusMart: order %s is on the way.", st.Order.OrderNumber)
	case model.DeliveryStatusDelivered:
		msg = fmt.Sprintf("CampusMart: order %s has been delivered. Enjoy!", st.Order.OrderNumber)
	case model.DeliveryStatusFailed:
		msg = fmt.Sprintf("CampusMart: we could not deliver order %s. We will contact you.", st.Order.OrderNumber)
	default:
		return
	}
	s.notifyUser(ctx, st.Order.UserID, msg)
}

func (s *Service) orderAddress(ctx context.Context, o *model.Order) (*model.DeliveryAddress, error) {
	if o.DeliveryAddressID == nil {
		return nil, nil
	}
	a, err := s.repo.GetAddress(ctx, *o.DeliveryAddressID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	return a, err
}
