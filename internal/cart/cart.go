// Package cart хранит корзину покупателя в памяти процесса на время сессии.
package cart

import (
	"sort"
	"sync"

	"github.com/mmeshcher/campusmart/internal/model"
)

// Line описывает позицию корзины: снимок товара и количество.
type Line struct {
	Product  model.Product `json:"product"`
	Quantity int           `json:"quantity"`
}

// Cart содержит выбранные товары. Не потокобезопасна, синхронизацию обеспечивает Store.
type Cart struct {
	lines map[string]Line
}

// New создаёт пустую корзину.
func New() *Cart {
	return &Cart{lines: make(map[string]Line)}
}

// AddOrUpdate устанавливает количество товара; quantity <= 0 удаляет позицию.
func (c *Cart) AddOrUpdate(p model.Product, quantity int) {
	if quantity <= 0 {
		delete(c.lines, p.ID)
		return
	}
	c.lines[p.ID] = Line{Product: p, Quantity: quantity}
}

// Remove удаляет позицию.
func (c *Cart) Remove(productID string) {
	delete(c.lines, productID)
}

// Clear очищает корзину.
func (c *Cart) Clear() {
	c.lines = make(map[string]Line)
}

// IsEmpty сообщает, пуста ли корзина.
func (c *Cart) IsEmpty() bool {
	return len(c.lines) == 0
}

// Lines возвращает позиции, отсортированные по названию товара.
func (c *Cart) Lines() []Line {
	out := make([]Line, 0, len(c.lines))
	for _, l := range c.lines {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Product.Name == out[j].Product.Name {
			return out[i].Product.ID < out[j].Product.ID
		}
		return out[i].Product.Name < out[j].Product.Name
	})
	return out
}

// Subtotal пересчитывает сумму корзины при каждом вызове.
func (c *Cart) Subtotal() int64 {
	var sum int64
	for _, l := range c.lines {
		sum += l.Product.Price * int64(l.Quantity)
	}
	return sum
}

// Snapshot описывает неизменяемое представление корзины.
type Snapshot struct {
	Lines    []Line `json:"items"`
	Subtotal int64  `json:"subtotal"`
}

// Store хранит корзины пользователей. Данные теряются при перезапуске процесса.
type Store struct {
	mu    sync.Mutex
	carts map[string]*Cart
}

// NewStore создаёт пустое хранилище корзин.
func NewStore() *Store {
	return &Store{carts: make(map[string]*Cart)}
}

func (s *Store) cartLocked(userID string) *Cart {
	c, ok := s.carts[userID]
	if !ok {
		c = New()
		s.carts[userID] = c
	}
	return c
}

// AddOrUpdate устанавливает количество товара в корзине пользователя.
func (s *Store) AddOrUpdate(userID string, p model.Product, quantity int) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.cartLocked(userID)
	c.AddOrUpdate(p, quantity)
	return snapshot(c)
}

// Remove удаляет товар из корзины пользователя.
func (s *Store) Remove(userID, productID string) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.cartLocked(userID)
	c.Remove(productID)
	return snapshot(c)
}

// Clear очищает корзину пользователя.
func (s *Store) Clear(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.carts, userID)
}

// Snapshot возвращает текущее содержимое корзины пользователя.
func (s *Store) Snapshot(userID string) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.carts[userID]
	if !ok {
		return Snapshot{Lines: []Line{}}
	}
	return snapshot(c)
}

func snapshot(c *Cart) Snapshot {
	return Snapshot{Lines: c.Lines(), Subtotal: c.Subtotal()}
}
