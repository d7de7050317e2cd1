package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mmeshcher/campusmart/internal/model"
	"github.com/mmeshcher/campusmart/internal/repository"
)

// memRepo хранит данные в памяти с той же семантикой транзакций, что и PostgresRepository.
type memRepo struct {
	mu sync.Mutex

	users      map[string]*model.User
	profiles   map[string]*model.Profile
	categories []model.Category
	products   map[string]*model.Product
	orders     map[string]*model.Order
	items      map[string][]model.OrderItem
	addresses  map[string]*model.DeliveryAddress
	deliveries map[string]*model.Delivery
	events     map[string]bool

	placeErrs []error
	writes    int
}

func newMemRepo() *memRepo {
	return &memRepo{
		users:      map[string]*model.User{},
		profiles:   map[string]*model.Profile{},
		products:   map[string]*model.Product{},
		orders:     map[string]*model.Order{},
		items:      map[string][]model.OrderItem{},
		addresses:  map[string]*model.DeliveryAddress{},
		deliveries: map[string]*model.Delivery{},
		events:     map[string]bool{},
	}
}

func (r *memRepo) addProfile(id string, role model.Role, phone string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.profiles[id] = &model.Profile{ID: id, Email: id + "@campus.test", Role: role, Phone: phone}
}

func (r *memRepo) addProduct(p model.Product) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.products[p.ID] = &p
}

func (r *memRepo) orderCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.orders)
}

func (r *memRepo) writeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writes
}

func (r *memRepo) Close() error                   { return nil }
func (r *memRepo) Ping(ctx context.Context) error { return nil }

func (r *memRepo) CreateUser(_ context.Context, id, email string, hash []byte, fullName, phone string) (*model.Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[email]; ok {
		return nil, repository.ErrUserExists
	}
	r.users[email] = &model.User{ID: id, Email: email, PasswordHash: hash}
	p := &model.Profile{ID: id, Email: email, FullName: fullName, Phone: phone, Role: model.RoleCustomer}
	r.profiles[id] = p
	r.writes++
	cp := *p
	return &cp, nil
}

func (r *memRepo) GetUserByEmail(_ context.Context, email string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[email]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *memRepo) GetProfile(_ context.Context, userID string) (*model.Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.profiles[userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *memRepo) SetRole(_ context.Context, userID string, role model.Role) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.profiles[userID]
	if !ok {
		return repository.ErrNotFound
	}
	p.Role = role
	return nil
}

func (r *memRepo) ListCategories(context.Context) ([]model.Category, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.Category(nil), r.categories...), nil
}

func (r *memRepo) CreateCategory(_ context.Context, c model.Category) (*model.Category, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.categories {
		if existing.Name == c.Name {
			return nil, repository.ErrCategoryExists
		}
	}
	c.ID = fmt.Sprintf("cat-%d", len(r.categories)+1)
	r.categories = append(r.categories, c)
	return &c, nil
}

func (r *memRepo) ListProducts(_ context.Context, f repository.ProductFilter) ([]model.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Product
	for _, p := range r.products {
		if f.OnlyAvailable && !p.IsAvailable {
			continue
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memRepo) GetProduct(_ context.Context, id string) (*model.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.products[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *memRepo) CreateProduct(_ context.Context, p model.Product) (*model.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p.ID = fmt.Sprintf("prod-%d", len(r.products)+1)
	r.products[p.ID] = &p
	r.writes++
	cp := p
	return &cp, nil
}

func (r *memRepo) UpdateProduct(_ context.Context, p model.Product) (*model.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.products[p.ID]; !ok {
		return nil, repository.ErrNotFound
	}
	r.products[p.ID] = &p
	r.writes++
	cp := p
	return &cp, nil
}

func (r *memRepo) DeleteProduct(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.products[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.products, id)
	r.writes++
	return nil
}

func (r *memRepo) SetProductImage(_ context.Context, id, imageURL string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.products[id]
	if !ok {
		return repository.ErrNotFound
	}
	p.ImageURL = imageURL
	r.writes++
	return nil
}

func (r *memRepo) PlaceOrder(_ context.Context, p repository.PlaceOrderParams) (*repository.PlacedOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.placeErrs) > 0 {
		err := r.placeErrs[0]
		r.placeErrs = r.placeErrs[1:]
		if err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	var (
		subtotal int64
		items    []model.OrderItem
	)
	for i, l := range p.Lines {
		prod, ok := r.products[l.ProductID]
		if !ok || !prod.IsAvailable {
			return nil, repository.ErrProductUnavailable
		}
		if prod.StockQuantity < l.Quantity {
			return nil, repository.ErrOutOfStock
		}
		items = append(items, model.OrderItem{
			ID:          fmt.Sprintf("%s-item-%d", p.OrderID, i),
			OrderID:     p.OrderID,
			ProductID:   prod.ID,
			ProductName: prod.Name,
			Quantity:    l.Quantity,
			Price:       prod.Price,
			CreatedAt:   now,
		})
		subtotal += prod.Price * int64(l.Quantity)
	}
	for _, l := range p.Lines {
		r.products[l.ProductID].StockQuantity -= l.Quantity
	}

	addr := p.Address
	addr.UserID = p.UserID
	addr.CreatedAt = now
	addrID := addr.ID

	o := model.Order{
		ID:                p.OrderID,
		UserID:            p.UserID,
		OrderNumber:       p.OrderNumber,
		Status:            model.OrderStatusPending,
		PaymentMethod:     p.PaymentMethod,
		PaymentStatus:     model.PaymentStatusPending,
		Subtotal:          subtotal,
		DeliveryFee:       p.DeliveryFee,
		Total:             subtotal + p.DeliveryFee,
		DeliveryAddressID: &addrID,
		DeliveryNotes:     p.DeliveryNotes,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	d := model.Delivery{
		ID:            p.DeliveryID,
		OrderID:       p.OrderID,
		TrackingToken: p.TrackingToken,
		Status:        model.DeliveryStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	r.addresses[addr.ID] = &addr
	r.orders[o.ID] = &o
	r.items[o.ID] = items
	r.deliveries[o.ID] = &d
	r.writes++

	return &repository.PlacedOrder{Order: o, Items: items, Delivery: d, Address: addr}, nil
}

func (r *memRepo) GetOrder(_ context.Context, id string) (*model.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (r *memRepo) ListOrders(_ context.Context, f repository.OrderFilter) ([]model.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Order
	for _, o := range r.orders {
		if f.UserID != "" && o.UserID != f.UserID {
			continue
		}
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *memRepo) GetOrderItems(_ context.Context, orderID string) ([]model.OrderItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.OrderItem(nil), r.items[orderID]...), nil
}

func (r *memRepo) GetAddress(_ context.Context, id string) (*model.DeliveryAddress, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.addresses[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *memRepo) TransitionOrder(_ context.Context, orderID string, fn repository.Mutator) (*repository.OrderState, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transitionLocked(orderID, fn)
}

func (r *memRepo) TransitionDelivery(_ context.Context, key repository.DeliveryKey, fn repository.Mutator) (*repository.OrderState, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	orderID := ""
	for oid, d := range r.deliveries {
		if (key.Token != "" && d.TrackingToken == key.Token) || (key.Token == "" && key.ID != "" && d.ID == key.ID) {
			orderID = oid
			break
		}
	}
	if orderID == "" {
		return nil, false, repository.ErrNotFound
	}
	return r.transitionLocked(orderID, fn)
}

func (r *memRepo) UpdatePayment(_ context.Context, orderID string, ev *repository.PaymentEvent, fn repository.Mutator) (*repository.OrderState, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var key string
	if ev != nil && ev.EventID != "" {
		if _, ok := r.orders[orderID]; !ok {
			return nil, false, repository.ErrNotFound
		}
		key = ev.Provider + "/" + ev.EventID
		if r.events[key] {
			return nil, false, repository.ErrDuplicateEvent
		}
	}

	st, changed, err := r.transitionLocked(orderID, fn)
	if err != nil {
		return nil, false, err
	}
	if key != "" {
		r.events[key] = true
	}
	return st, changed, nil
}

func (r *memRepo) transitionLocked(orderID string, fn repository.Mutator) (*repository.OrderState, bool, error) {
	o, ok := r.orders[orderID]
	if !ok {
		return nil, false, repository.ErrNotFound
	}

	cur := &repository.OrderState{Order: *o}
	next := &repository.OrderState{Order: *o}
	if d, ok := r.deliveries[orderID]; ok {
		c1, c2 := *d, *d
		cur.Delivery, next.Delivery = &c1, &c2
	}

	changed, err := fn(next)
	if err != nil {
		return nil, false, err
	}
	if !changed {
		return cur, false, nil
	}

	if cur.Order.Status != model.OrderStatusCancelled && next.Order.Status == model.OrderStatusCancelled {
		for _, it := range r.items[orderID] {
			if p, ok := r.products[it.ProductID]; ok {
				p.StockQuantity += it.Quantity
			}
		}
	}

	no := next.Order
	r.orders[orderID] = &no
	if next.Delivery != nil {
		nd := *next.Delivery
		r.deliveries[orderID] = &nd
	}
	r.writes++
	return next, true, nil
}

func (r *memRepo) GetDeliveryByToken(_ context.Context, token string) (*model.Delivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.deliveries {
		if d.TrackingToken == token {
			cp := *d
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *memRepo) GetDeliveryByOrder(_ context.Context, orderID string) (*model.Delivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.deliveries[orderID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (r *memRepo) ListDeliveries(_ context.Context, f repository.DeliveryFilter) ([]model.Delivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Delivery
	for _, d := range r.deliveries {
		if f.Status != "" && d.Status != f.Status {
			continue
		}
		out = append(out, *d)
	}
	return out, nil
}

func (r *memRepo) DashboardStats(context.Context) (*model.DashboardStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := &model.DashboardStats{TotalOrders: int64(len(r.orders))}
	for _, p := range r.profiles {
		if p.Role == model.RoleCustomer {
			s.TotalCustomers++
		}
	}
	for _, o := range r.orders {
		if o.PaymentStatus == model.PaymentStatusPaid {
			s.TotalRevenue += o.Total
		}
	}
	for _, d := range r.deliveries {
		if d.Status != model.DeliveryStatusDelivered && d.Status != model.DeliveryStatusFailed {
			s.ActiveDeliveries++
		}
	}
	return s, nil
}

// recordingSMS запоминает отправленные сообщения.
type recordingSMS struct {
	mu   sync.Mutex
	sent []string
}

func (s *recordingSMS) Send(_ context.Context, phone, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, phone+": "+message)
	return nil
}

func (s *recordingSMS) count(substr string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.sent {
		if strings.Contains(m, substr) {
			n++
		}
	}
	return n
}
