// Package validation содержит функции валидации входных данных.
package validation

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode"
)

// Error описывает ошибку валидации с перечнем некорректных полей.
type Error struct {
	Fields map[string]string
}

func (e *Error) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// IsValidationError сообщает, является ли err ошибкой валидации.
func IsValidationError(err error) bool {
	var ve *Error
	return errors.As(err, &ve)
}

type collector map[string]string

func (c collector) add(field, msg string) {
	if _, ok := c[field]; !ok {
		c[field] = msg
	}
}

func (c collector) err() error {
	if len(c) == 0 {
		return nil
	}
	return &Error{Fields: c}
}

// Field возвращает ошибку валидации одного поля.
func Field(field, msg string) error {
	return &Error{Fields: map[string]string{field: msg}}
}

// AddressInput описывает адрес доставки, введённый при оформлении заказа.
type AddressInput struct {
	Label       string   `json:"label"`
	AddressLine string   `json:"address_line"`
	Building    string   `json:"building"`
	RoomNumber  string   `json:"room_number"`
	CampusZone  string   `json:"campus_zone"`
	Latitude    *float64 `json:"latitude"`
	Longitude   *float64 `json:"longitude"`
}

// ValidateAddress проверяет обязательные поля адреса и координаты.
func ValidateAddress(a AddressInput) error {
	c := collector{}
	if strings.TrimSpace(a.Label) == "" {
		c.add("label", "required")
	}
	if strings.TrimSpace(a.AddressLine) == "" {
		c.add("address_line", "required")
	}
	if strings.TrimSpace(a.CampusZone) == "" {
		c.add("campus_zone", "required")
	}
	if err := ValidateCoordinates(a.Latitude, a.Longitude); err != nil {
		c.add("coordinates", err.Error())
	}
	return c.err()
}

// ValidateCoordinates проверяет, что координаты заданы парой и лежат в допустимых пределах.
func ValidateCoordinates(lat, lng *float64) error {
	if (lat == nil) != (lng == nil) {
		return errors.New("latitude and longitude must be set together")
	}
	if lat == nil {
		return nil
	}
	if *lat < -90 || *lat > 90 || *lng < -180 || *lng > 180 {
		return errors.New("out of range")
	}
	return nil
}

// NormalizePhone приводит номер телефона к международному формату.
// Местный угандийский формат 07XXXXXXXX преобразуется в +2567XXXXXXXX.
func NormalizePhone(phone string) string {
	var b strings.Builder
	for i, r := range strings.TrimSpace(phone) {
		if r == '+' && i == 0 {
			b.WriteRune(r)
			continue
		}
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	s := b.String()
	if strings.HasPrefix(s, "0") && len(s) == 10 {
		return "+256" + s[1:]
	}
	if !strings.HasPrefix(s, "+") && s != "" {
		return "+" + s
	}
	return s
}

// ValidatePhone проверяет номер в международном формате: + и от 9 до 15 цифр.
func ValidatePhone(phone string) error {
	n := NormalizePhone(phone)
	digits := strings.TrimPrefix(n, "+")
	if len(digits) < 9 || len(digits) > 15 {
		return Field("phone", "must contain 9 to 15 digits")
	}
	return nil
}

// ProductInput описывает данные товара, вводимые администратором.
type ProductInput struct {
	Name          string  `json:"name"`
	Description   string  `json:"description"`
	CategoryID    *string `json:"category_id"`
	Price         int64   `json:"price"`
	StockQuantity int     `json:"stock_quantity"`
	ImageURL      string  `json:"image_url"`
	IsAvailable   *bool   `json:"is_available"`
}

// ValidateProduct проверяет данные товара.
func ValidateProduct(p ProductInput) error {
	c := collector{}
	if strings.TrimSpace(p.Name) == "" {
		c.add("name", "required")
	}
	if p.Price <= 0 {
		c.add("price", "must be positive")
	}
	if p.StockQuantity < 0 {
		c.add("stock_quantity", "must not be negative")
	}
	return c.err()
}
