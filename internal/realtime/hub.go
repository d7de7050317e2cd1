// Package realtime доставляет подписчикам события изменения заказов и доставок.
//
// Доставка не более одного раза: если буфер подписчика заполнен, событие для него отбрасывается.
// Повторной отправки и воспроизведения пропущенных событий нет.
package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// Op задаёт вид изменения записи.
type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Таблицы, изменения которых публикуются.
const (
	TableOrders     = "orders"
	TableDeliveries = "deliveries"
)

const defaultBuffer = 16

// Event описывает изменение одной записи.
type Event struct {
	Table  string            `json:"table"`
	Op     Op                `json:"op"`
	ID     string            `json:"id"`
	Attrs  map[string]string `json:"attrs,omitempty"`
	Record json.RawMessage   `json:"record,omitempty"`
	At     time.Time         `json:"at"`
}

// Filter выбирает события таблицы Table, у которых атрибут Column равен Value.
// Column "id" сравнивается с идентификатором записи. Пустой Column пропускает все события таблицы.
type Filter struct {
	Table  string
	Column string
	Value  string
}

func (f Filter) match(e Event) bool {
	if f.Table != e.Table {
		return false
	}
	switch f.Column {
	case "":
		return true
	case "id":
		return e.ID == f.Value
	default:
		return e.Attrs[f.Column] == f.Value
	}
}

// Subscription описывает активную подписку на события.
type Subscription struct {
	hub    *Hub
	filter Filter
	ch     chan Event
	once   sync.Once
}

// C возвращает канал событий. Канал закрывается при Close.
func (s *Subscription) C() <-chan Event { return s.ch }

// Close отменяет подписку.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.remove(s)
	})
}

// Hub рассылает события подписчикам внутри процесса.
type Hub struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	buffer int
}

// NewHub создаёт Hub с буфером buffer событий на подписчика.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Hub{
		subs:   make(map[*Subscription]struct{}),
		buffer: buffer,
	}
}

// Subscribe регистрирует подписку по фильтру.
func (h *Hub) Subscribe(f Filter) *Subscription {
	s := &Subscription{hub: h, filter: f, ch: make(chan Event, h.buffer)}

	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()

	return s
}

func (h *Hub) remove(s *Subscription) {
	h.mu.Lock()
	delete(h.subs, s)
	close(s.ch)
	h.mu.Unlock()
}

// Publish рассылает событие подходящим подписчикам без блокировки.
func (h *Hub) Publish(_ context.Context, e Event) error {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for s := range h.subs {
		if !s.filter.match(e) {
			continue
		}
		select {
		case s.ch <- e:
		default:
		}
	}
	return nil
}

// Subscribers возвращает число активных подписок.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
