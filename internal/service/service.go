// Package service реализует бизнес-логику магазина CampusMart.
package service

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/mmeshcher/campusmart/internal/cache/rediscache"
	"github.com/mmeshcher/campusmart/internal/cart"
	"github.com/mmeshcher/campusmart/internal/ids"
	"github.com/mmeshcher/campusmart/internal/model"
	"github.com/mmeshcher/campusmart/internal/payment"
	"github.com/mmeshcher/campusmart/internal/realtime"
	"github.com/mmeshcher/campusmart/internal/repository"
	"github.com/mmeshcher/campusmart/internal/sms"
	"github.com/mmeshcher/campusmart/internal/validation"
)

var (
	// ErrInvalidCredentials возвращается при неверном email или пароле.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrEmptyCart возвращается при оформлении пустой корзины.
	ErrEmptyCart = errors.New("cart is empty")
	// ErrRateLimited возвращается при превышении частоты платёжных запросов.
	ErrRateLimited = errors.New("too many requests")
	// ErrPaymentMethodMismatch возвращается, если операция не соответствует способу оплаты заказа.
	ErrPaymentMethodMismatch = errors.New("operation does not match order payment method")
	// ErrAlreadyPaid возвращается при попытке начать оплату уже оплаченного заказа.
	ErrAlreadyPaid = errors.New("order already paid")
	// ErrVerificationInProgress возвращается, если проверка оплаты заказа уже выполняется.
	ErrVerificationInProgress = errors.New("payment verification in progress")
	// ErrOrderNotCancellable возвращается, если покупатель отменяет заказ не в статусе pending.
	ErrOrderNotCancellable = errors.New("order can no longer be cancelled")
	// ErrNotConfigured возвращается, если необязательная интеграция не настроена.
	ErrNotConfigured = errors.New("integration not configured")
)

const (
	defaultDeliveryFee  = 2000
	defaultCurrency     = "ugx"
	maxIDAttempts       = 3
	paymentRateLimit    = 5
	paymentRateWindow   = time.Minute
	verifyLockTTL       = 30 * time.Second
	estimatedTransitETA = 30 * time.Minute
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	Ping(ctx context.Context) error

	CreateUser(ctx context.Context, id, email string, passwordHash []byte, fullName, phone string) (*model.Profile, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	GetProfile(ctx context.Context, userID string) (*model.Profile, error)
	SetRole(ctx context.Context, userID string, role model.Role) error

	ListCategories(ctx context.Context) ([]model.Category, error)
	CreateCategory(ctx context.Context, c model.Category) (*model.Category, error)
	ListProducts(ctx context.Context, f repository.ProductFilter) ([]model.Product, error)
	GetProduct(ctx context.Context, id string) (*model.Product, error)
	CreateProduct(ctx context.Context, p model.Product) (*model.Product, error)
	UpdateProduct(ctx context.Context, p model.Product) (*model.Product, error)
	DeleteProduct(ctx context.Context, id string) error
	SetProductImage(ctx context.Context, id, imageURL string) error

	PlaceOrder(ctx context.Context, p repository.PlaceOrderParams) (*repository.PlacedOrder, error)
	GetOrder(ctx context.Context, id string) (*model.Order, error)
	ListOrders(ctx context.Context, f repository.OrderFilter) ([]model.Order, error)
	GetOrderItems(ctx context.Context, orderID string) ([]model.OrderItem, error)
	GetAddress(ctx context.Context, id string) (*model.DeliveryAddress, error)
	TransitionOrder(ctx context.Context, orderID string, fn repository.Mutator) (*repository.OrderState, bool, error)
	TransitionDelivery(ctx context.Context, key repository.DeliveryKey, fn repository.Mutator) (*repository.OrderState, bool, error)
	UpdatePayment(ctx context.Context, orderID string, ev *repository.PaymentEvent, fn repository.Mutator) (*repository.OrderState, bool, error)

	GetDeliveryByToken(ctx context.Context, token string) (*model.Delivery, error)
	GetDeliveryByOrder(ctx context.Context, orderID string) (*model.Delivery, error)
	ListDeliveries(ctx context.Context, f repository.DeliveryFilter) ([]model.Delivery, error)
	DashboardStats(ctx context.Context) (*model.DashboardStats, error)
}

// CardProvider создаёт и проверяет карточные платежи.
type CardProvider interface {
	CreateSession(ctx context.Context, req payment.SessionRequest) (payment.Session, error)
	Verify(ctx context.Context, orderID, sessionID string) (payment.Verified, error)
}

// MobileMoneyProvider инициирует и проверяет платежи мобильными деньгами.
type MobileMoneyProvider interface {
	Initiate(ctx context.Context, req payment.MobileMoneyRequest) (string, string, error)
	Verify(ctx context.Context, orderID, reference string) (payment.Verified, error)
}

// EventPublisher публикует события изменения заказов и доставок.
type EventPublisher interface {
	Publish(ctx context.Context, e realtime.Event) error
}

// RateLimiter ограничивает частоту запросов по ключу.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

// Locker выдаёт эксклюзивные блокировки по ключу.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (*rediscache.Lock, bool, error)
	Unlock(ctx context.Context, lock *rediscache.Lock) error
}

// BlobStore сохраняет файлы и возвращает их публичный URL.
type BlobStore interface {
	Put(ctx context.Context, key string, r io.Reader) (string, error)
}

// Options задаёт параметры и необязательные зависимости сервиса.
type Options struct {
	DeliveryFee              int64
	Currency                 string
	StripeWebhookSecret      string
	MobileMoneyWebhookSecret string
	// AdminEmail получает роль администратора при регистрации.
	AdminEmail string

	Card        CardProvider
	MobileMoney MobileMoneyProvider
	SMS         sms.Sender
	Events      EventPublisher
	Limiter     RateLimiter
	Locker      Locker
	Blobs       BlobStore
	Logger      *zap.Logger
}

// Service содержит бизнес-логику магазина.
type Service struct {
	repo     Repository
	carts    *cart.Store
	opts     Options
	notifier *sms.Notifier
	logger   *zap.Logger
	now      func() time.Time
}

// NewService создаёт сервис с указанным репозиторием и зависимостями.
func NewService(repo Repository, opts Options) *Service {
	if opts.DeliveryFee <= 0 {
		opts.DeliveryFee = defaultDeliveryFee
	}
	if opts.Currency == "" {
		opts.Currency = defaultCurrency
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		repo:     repo,
		carts:    cart.NewStore(),
		opts:     opts,
		notifier: sms.NewNotifier(opts.SMS, logger),
		logger:   logger,
		now:      time.Now,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// Ping проверяет доступность хранилища.
func (s *Service) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

// RegisterUser регистрирует нового покупателя.
func (s *Service) RegisterUser(ctx context.Context, email, password, fullName, phone string) (*model.Profile, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, validation.Field("email", "invalid email")
	}
	if len(password) < 6 {
		return nil, validation.Field("password", "must be at least 6 characters")
	}
	if phone != "" {
		if err := validation.ValidatePhone(phone); err != nil {
			return nil, err
		}
		phone = validation.NormalizePhone(phone)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	p, err := s.repo.CreateUser(ctx, ids.NewID(), email, hashed, strings.TrimSpace(fullName), phone)
	if err != nil {
		return nil, err
	}

	if s.opts.AdminEmail != "" && strings.EqualFold(s.opts.AdminEmail, email) {
		if err := s.repo.SetRole(ctx, p.ID, model.RoleAdmin); err != nil {
			return nil, err
		}
		p.Role = model.RoleAdmin
		s.logger.Info("bootstrap admin registered", zap.String("user_id", p.ID))
	}

	return p, nil
}

// AuthenticateUser проверяет email и пароль пользователя и возвращает его идентификатор.
func (s *Service) AuthenticateUser(ctx context.Context, email, password string) (string, error) {
	u, err := s.repo.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", ErrInvalidCredentials
		}
		return "", err
	}

	if err := bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}

	return u.ID, nil
}

// GetProfile возвращает профиль пользователя.
func (s *Service) GetProfile(ctx context.Context, userID string) (*model.Profile, error) {
	return s.repo.GetProfile(ctx, userID)
}
