// Package lifecycle содержит единственные допустимые переходы статусов заказа, доставки и оплаты.
package lifecycle

import (
	"errors"
	"fmt"

	"github.com/mmeshcher/campusmart/internal/model"
)

var (
	// ErrInvalidTransition возвращается, если переход из текущего статуса не разрешён.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrTerminal возвращается при попытке изменить статус в конечном состоянии.
	ErrTerminal = errors.New("status is terminal")
	// ErrOrderCancelled возвращается при попытке продвинуть доставку отменённого заказа.
	ErrOrderCancelled = errors.New("order is cancelled")
	// ErrDeliveryDriven возвращается при ручной отправке или завершении заказа с доставкой.
	ErrDeliveryDriven = fmt.Errorf("%w: order status follows its delivery", ErrInvalidTransition)
	// ErrUnpaid возвращается при подтверждении неоплаченного заказа с предоплатой.
	ErrUnpaid = fmt.Errorf("%w: prepaid order is not paid", ErrInvalidTransition)
)

// OrderEvent описывает событие, меняющее статус заказа.
type OrderEvent string

const (
	OrderEventConfirm        OrderEvent = "confirm"
	OrderEventStartPreparing OrderEvent = "start_preparing"
	OrderEventMarkReady      OrderEvent = "mark_ready"
	OrderEventDispatch       OrderEvent = "dispatch"
	OrderEventComplete       OrderEvent = "complete"
	OrderEventCancel         OrderEvent = "cancel"
)

var orderForward = map[model.OrderStatus]struct {
	event OrderEvent
	to    model.OrderStatus
}{
	model.OrderStatusPending:          {OrderEventConfirm, model.OrderStatusConfirmed},
	model.OrderStatusConfirmed:        {OrderEventStartPreparing, model.OrderStatusPreparing},
	model.OrderStatusPreparing:        {OrderEventMarkReady, model.OrderStatusReadyForDelivery},
	model.OrderStatusReadyForDelivery: {OrderEventDispatch, model.OrderStatusOutForDelivery},
	model.OrderStatusOutForDelivery:   {OrderEventComplete, model.OrderStatusDelivered},
}

// IsTerminalOrder сообщает, является ли статус заказа конечным.
func IsTerminalOrder(s model.OrderStatus) bool {
	return s == model.OrderStatusDelivered || s == model.OrderStatusCancelled
}

// NextOrderStatus вычисляет новый статус заказа для события.
func NextOrderStatus(current model.OrderStatus, event OrderEvent) (model.OrderStatus, error) {
	if IsTerminalOrder(current) {
		return current, fmt.Errorf("%w: order %s", ErrTerminal, current)
	}
	if event == OrderEventCancel {
		return model.OrderStatusCancelled, nil
	}

	step, ok := orderForward[current]
	if !ok || step.event != event {
		return current, fmt.Errorf("%w: order %s on %s", ErrInvalidTransition, current, event)
	}
	return step.to, nil
}

// OrderEvents возвращает события, допустимые для текущего статуса заказа.
func OrderEvents(current model.OrderStatus) []OrderEvent {
	if IsTerminalOrder(current) {
		return nil
	}
	var out []OrderEvent
	if step, ok := orderForward[current]; ok {
		out = append(out, step.event)
	}
	return append(out, OrderEventCancel)
}

var deliveryForward = map[model.DeliveryStatus]model.DeliveryStatus{
	model.DeliveryStatusPending:   model.DeliveryStatusAssigned,
	model.DeliveryStatusAssigned:  model.DeliveryStatusPickedUp,
	model.DeliveryStatusPickedUp:  model.DeliveryStatusInTransit,
	model.DeliveryStatusInTransit: model.DeliveryStatusDelivered,
}

// IsTerminalDelivery сообщает, является ли статус доставки конечным.
func IsTerminalDelivery(s model.DeliveryStatus) bool {
	return s == model.DeliveryStatusDelivered || s == model.DeliveryStatusFailed
}

// NextDeliveryStatus проверяет переход доставки в target. Разрешён только соседний шаг вперёд
// или переход в failed из неконечного статуса.
func NextDeliveryStatus(current, target model.DeliveryStatus) (model.DeliveryStatus, error) {
	if IsTerminalDelivery(current) {
		return current, fmt.Errorf("%w: delivery %s", ErrTerminal, current)
	}
	if target == model.DeliveryStatusFailed {
		return target, nil
	}
	if deliveryForward[current] != target {
		return current, fmt.Errorf("%w: delivery %s -> %s", ErrInvalidTransition, current, target)
	}
	return target, nil
}

// DeliveryActions возвращает переходы, которые предлагаются курьеру: ровно один шаг вперёд и отказ.
func DeliveryActions(current model.DeliveryStatus) []model.DeliveryStatus {
	next, ok := deliveryForward[current]
	if !ok {
		return nil
	}
	return []model.DeliveryStatus{next, model.DeliveryStatusFailed}
}

// SyncOrder вычисляет статус заказа, который должен сопровождать новый статус доставки.
// Заказ продвигается только по своим переходам: забрать можно готовый заказ, вручить отправленный.
// Второе значение false означает, что статус заказа не меняется.
func SyncOrder(order model.OrderStatus, delivery model.DeliveryStatus) (model.OrderStatus, bool, error) {
	if order == model.OrderStatusCancelled {
		return order, false, ErrOrderCancelled
	}

	var event OrderEvent
	switch delivery {
	case model.DeliveryStatusPickedUp:
		event = OrderEventDispatch
	case model.DeliveryStatusInTransit:
		if order != model.OrderStatusOutForDelivery {
			return order, false, fmt.Errorf("%w: delivery in transit for order %s", ErrInvalidTransition, order)
		}
		return order, false, nil
	case model.DeliveryStatusDelivered:
		event = OrderEventComplete
	default:
		return order, false, nil
	}

	next, err := NextOrderStatus(order, event)
	if err != nil {
		return order, false, err
	}
	return next, true, nil
}

// ApplyOrderEvent применяет к заказу событие, поданное вручную. Отправка и завершение заказа
// с доставкой происходят только вместе с доставкой, предоплаченный заказ подтверждается оплатой.
// При отмене незавершённая доставка отмечается неудавшейся.
func ApplyOrderEvent(o *model.Order, d *model.Delivery, event OrderEvent) error {
	switch event {
	case OrderEventDispatch, OrderEventComplete:
		if d != nil {
			return ErrDeliveryDriven
		}
	case OrderEventConfirm:
		if o.PaymentMethod != model.PaymentMethodCashOnDelivery && o.PaymentStatus != model.PaymentStatusPaid {
			return ErrUnpaid
		}
	}

	next, err := NextOrderStatus(o.Status, event)
	if err != nil {
		return err
	}

	if next == model.OrderStatusCancelled && d != nil && !IsTerminalDelivery(d.Status) {
		d.Status = model.DeliveryStatusFailed
	}
	o.Status = next
	return nil
}

// ManualOrderEvents возвращает события, которые ApplyOrderEvent примет для заказа.
func ManualOrderEvents(o model.Order, d *model.Delivery) []OrderEvent {
	var out []OrderEvent
	for _, e := range OrderEvents(o.Status) {
		oc := o
		var dc *model.Delivery
		if d != nil {
			copied := *d
			dc = &copied
		}
		if ApplyOrderEvent(&oc, dc, e) == nil {
			out = append(out, e)
		}
	}
	return out
}

var paymentTransitions = map[model.PaymentStatus][]model.PaymentStatus{
	model.PaymentStatusPending: {model.PaymentStatusPaid, model.PaymentStatusFailed},
	model.PaymentStatusFailed:  {model.PaymentStatusPaid, model.PaymentStatusPending},
	model.PaymentStatusPaid:    {model.PaymentStatusRefunded},
}

// NextPaymentStatus проверяет переход статуса оплаты.
func NextPaymentStatus(current, target model.PaymentStatus) (model.PaymentStatus, error) {
	for _, s := range paymentTransitions[current] {
		if s == target {
			return target, nil
		}
	}
	return current, fmt.Errorf("%w: payment %s -> %s", ErrInvalidTransition, current, target)
}

// ApplyPaid переводит заказ в оплаченное состояние. Возвращает false, если заказ уже оплачен.
// Ожидающий заказ при этом подтверждается, остальные статусы не меняются.
func ApplyPaid(o *model.Order) (bool, error) {
	if o.PaymentStatus == model.PaymentStatusPaid {
		return false, nil
	}
	next, err := NextPaymentStatus(o.PaymentStatus, model.PaymentStatusPaid)
	if err != nil {
		return false, err
	}
	if o.Status == model.OrderStatusCancelled {
		return false, fmt.Errorf("%w: payment for cancelled order", ErrInvalidTransition)
	}

	o.PaymentStatus = next
	if o.Status == model.OrderStatusPending {
		o.Status = model.OrderStatusConfirmed
	}
	return true, nil
}
