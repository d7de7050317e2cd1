// Package authz содержит единую политику доступа: роль определяет набор разрешённых возможностей.
package authz

import (
	"errors"
	"fmt"

	"github.com/mmeshcher/campusmart/internal/model"
)

// ErrForbidden возвращается, если у роли нет требуемой возможности.
var ErrForbidden = errors.New("forbidden")

// Capability обозначает право на выполнение группы операций.
type Capability string

const (
	PlaceOrders          Capability = "place-orders"
	ReadOwnOrders        Capability = "read-own-orders"
	ReadAllOrders        Capability = "read-all-orders"
	ManageOrders         Capability = "manage-orders"
	ManageProducts       Capability = "manage-products"
	UpdateDeliveryStatus Capability = "update-delivery-status"
	SendNotifications    Capability = "send-notifications"
)

var policy = map[model.Role]map[Capability]struct{}{
	model.RoleCustomer: set(PlaceOrders, ReadOwnOrders),
	model.RoleDeliveryPersonnel: set(
		ReadOwnOrders,
		UpdateDeliveryStatus,
	),
	model.RoleAdmin: set(
		PlaceOrders,
		ReadOwnOrders,
		ReadAllOrders,
		ManageOrders,
		ManageProducts,
		UpdateDeliveryStatus,
		SendNotifications,
	),
}

func set(caps ...Capability) map[Capability]struct{} {
	m := make(map[Capability]struct{}, len(caps))
	for _, c := range caps {
		m[c] = struct{}{}
	}
	return m
}

// Actor описывает пользователя, выполняющего операцию.
type Actor struct {
	UserID string
	Role   model.Role
}

// Can сообщает, разрешена ли возможность роли.
func Can(role model.Role, c Capability) bool {
	_, ok := policy[role][c]
	return ok
}

// Require возвращает ErrForbidden, если у актора нет возможности.
func Require(a Actor, c Capability) error {
	if a.UserID == "" || !Can(a.Role, c) {
		return fmt.Errorf("%w: %s requires %s", ErrForbidden, a.Role, c)
	}
	return nil
}
