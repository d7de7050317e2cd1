package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/campusmart/internal/authz"
	"github.com/mmeshcher/campusmart/internal/model"
	"github.com/mmeshcher/campusmart/internal/realtime"
)

const heartbeatInterval = 25 * time.Second

var errUnknownTable = errors.New("unknown table")

// subscriptionFilter строит фильтр подписки с учётом роли.
// Покупатель видит только свои записи, id дополнительно сужает поток.
func subscriptionFilter(role model.Role, userID, table, id string) (realtime.Filter, string, error) {
	var readAll authz.Capability
	switch table {
	case realtime.TableOrders:
		readAll = authz.ReadAllOrders
	case realtime.TableDeliveries:
		readAll = authz.UpdateDeliveryStatus
	default:
		return realtime.Filter{}, "", errUnknownTable
	}

	if authz.Can(role, readAll) {
		if id != "" {
			return realtime.Filter{Table: table, Column: "id", Value: id}, "", nil
		}
		return realtime.Filter{Table: table}, "", nil
	}
	if !authz.Can(role, authz.ReadOwnOrders) {
		return realtime.Filter{}, "", authz.ErrForbidden
	}
	return realtime.Filter{Table: table, Column: "user_id", Value: userID}, id, nil
}

// Events отдаёт поток изменений заказов и доставок в формате Server-Sent Events.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}
	if h.hub == nil {
		writeMessage(w, http.StatusServiceUnavailable, "realtime disabled")
		return
	}

	p, err := h.service.GetProfile(r.Context(), id)
	if err != nil {
		h.writeError(w, r, "events", err)
		return
	}

	q := r.URL.Query()
	table := q.Get("table")
	if table == "" {
		table = realtime.TableOrders
	}

	filter, onlyID, err := subscriptionFilter(p.Role, id, table, q.Get("id"))
	if err != nil {
		if errors.Is(err, errUnknownTable) {
			writeMessage(w, http.StatusBadRequest, "table must be orders or deliveries")
			return
		}
		h.writeError(w, r, "events", err)
		return
	}

	sub := h.hub.Subscribe(filter)
	defer sub.Close()

	rc := http.NewResponseController(w)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, ": connected\n\n")
	if err := rc.Flush(); err != nil {
		h.logger.Warn("events stream not flushable", zap.Error(err))
		return
	}

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		case e, ok := <-sub.C():
			if !ok {
				return
			}
			if onlyID != "" && e.ID != onlyID {
				continue
			}
			data, err := json.Marshal(e)
			if err != nil {
				h.logger.Error("marshal event", zap.Error(err))
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Op, data); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}
