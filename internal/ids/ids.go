// Package ids генерирует идентификаторы заказов, доставок и платёжных ссылок.
package ids

import (
	"crypto/rand"
	"encoding/base32"
	"strings"

	"github.com/google/uuid"
)

// Алфавит Crockford без неоднозначных символов I, L, O, U.
var encoding = base32.NewEncoding("0123456789ABCDEFGHJKMNPQRSTVWXYZ").WithPadding(base32.NoPadding)

// NewID возвращает идентификатор сущности.
func NewID() string {
	return uuid.NewString()
}

// Valid сообщает, имеет ли строка вид идентификатора сущности.
func Valid(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil && len(id) == 36
}

// OrderNumber возвращает человекочитаемый номер заказа с 50 битами случайности.
func OrderNumber() string {
	return "ORD-" + randomString(10)
}

// TrackingToken возвращает токен отслеживания доставки со 128 битами случайности.
func TrackingToken() string {
	return "TRK-" + randomString(26)
}

// MobileMoneyReference возвращает ссылку транзакции мобильных денег для провайдера.
func MobileMoneyReference(provider string) string {
	tag := strings.ToUpper(strings.TrimSuffix(strings.TrimSuffix(provider, "_mobile_money"), "_money"))
	return "MM-" + tag + "-" + randomString(20)
}

func randomString(n int) string {
	buf := make([]byte, (n*5+7)/8)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand не возвращает ошибок на поддерживаемых платформах
		panic(err)
	}
	return encoding.EncodeToString(buf)[:n]
}
