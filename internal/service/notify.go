package service

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/mmeshcher/campusmart/internal/model"
	"github.com/mmeshcher/campusmart/internal/realtime"
	"github.com/mmeshcher/campusmart/internal/repository"
)

func (s *Service) publish(ctx context.Context, e realtime.Event, record any) {
	if s.opts.Events == nil {
		return
	}
	if b, err := json.Marshal(record); err == nil {
		e.Record = b
	}
	e.At = s.now().UTC()

	if err := s.opts.Events.Publish(ctx, e); err != nil {
		s.logger.Warn("publish change event failed",
			zap.String("table", e.Table),
			zap.String("id", e.ID),
			zap.Error(err),
		)
	}
}

func (s *Service) publishOrder(ctx context.Context, op realtime.Op, o *model.Order) {
	s.publish(ctx, realtime.Event{
		Table: realtime.TableOrders,
		Op:    op,
		ID:    o.ID,
		Attrs: map[string]string{
			"user_id":        o.UserID,
			"status":         string(o.Status),
			"payment_status": string(o.PaymentStatus),
		},
	}, o)
}

func (s *Service) publishDelivery(ctx context.Context, op realtime.Op, o *model.Order, d *model.Delivery) {
	if d == nil {
		return
	}
	s.publish(ctx, realtime.Event{
		Table: realtime.TableDeliveries,
		Op:    op,
		ID:    d.ID,
		Attrs: map[string]string{
			"order_id": d.OrderID,
			"user_id":  o.UserID,
			"status":   string(d.Status),
		},
	}, d)
}

// publishState публикует обновление заказа и доставки после изменения в транзакции.
func (s *Service) publishState(ctx context.Context, st *repository.OrderState) {
	s.publishOrder(ctx, realtime.OpUpdate, &st.Order)
	s.publishDelivery(ctx, realtime.OpUpdate, &st.Order, st.Delivery)
}

// notifyUser отправляет SMS на телефон из профиля пользователя, если он указан.
func (s *Service) notifyUser(ctx context.Context, userID, message string) {
	if s.opts.SMS == nil {
		return
	}
	p, err := s.repo.GetProfile(ctx, userID)
	if err != nil {
		s.logger.Warn("load profile for sms failed", zap.String("user_id", userID), zap.Error(err))
		return
	}
	s.notifier.Notify(p.Phone, message)
}
