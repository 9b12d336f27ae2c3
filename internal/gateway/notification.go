package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// Тип и действие уведомления об изменении платежа.
const (
	NotificationTypePayment   = "payment"
	NotificationActionUpdated = "payment.updated"
)

// Заголовки, участвующие в проверке подписи уведомления.
const (
	SignatureHeader = "X-Signature"
	RequestIDHeader = "X-Request-Id"
)

// Notification описывает тело уведомления, которое шлюз отправляет на webhook.
// Содержимое не считается достоверным: состояние платежа всегда перезапрашивается.
type Notification struct {
	Type   string           `json:"type"`
	Action string           `json:"action"`
	Data   NotificationData `json:"data"`
}

// NotificationData содержит идентификатор платежа.
type NotificationData struct {
	ID NotificationID `json:"id"`
}

// NotificationID принимает идентификатор как в виде числа, так и в виде строки.
type NotificationID string

// UnmarshalJSON реализует json.Unmarshaler.
func (id *NotificationID) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}

	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*id = NotificationID(strings.TrimSpace(s))
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("notification id: %w", err)
	}
	*id = NotificationID(n.String())
	return nil
}

// PaymentID возвращает идентификатор платежа из уведомления.
func (n Notification) PaymentID() string {
	return string(n.Data.ID)
}

// ValidPaymentID сообщает, что идентификатор платежа состоит только из цифр.
func ValidPaymentID(id string) bool {
	if id == "" {
		return false
	}
	for _, c := range id {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// IsPaymentUpdate сообщает, что уведомление касается изменения платежа.
func (n Notification) IsPaymentUpdate() bool {
	return n.Type == NotificationTypePayment && n.Action == NotificationActionUpdated
}

// VerifySignature проверяет подпись уведомления вида "ts=<ts>,v1=<hex>".
// Подписывается строка "id:<data.id>;request-id:<x-request-id>;ts:<ts>;", отсутствующие части опускаются.
func VerifySignature(header, requestID, dataID, secret string) bool {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return false
	}

	ts, sig := parseSignatureHeader(header)
	if ts == "" || sig == "" {
		return false
	}

	expected, err := hex.DecodeString(strings.ToLower(sig))
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signatureManifest(dataID, requestID, ts)))
	return hmac.Equal(mac.Sum(nil), expected)
}

func parseSignatureHeader(header string) (ts, sig string) {
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch strings.TrimSpace(key) {
		case "ts":
			ts = strings.TrimSpace(value)
		case "v1":
			sig = strings.TrimSpace(value)
		}
	}
	return ts, sig
}

func signatureManifest(dataID, requestID, ts string) string {
	var b strings.Builder
	if dataID != "" {
		b.WriteString("id:" + strings.ToLower(dataID) + ";")
	}
	if requestID != "" {
		b.WriteString("request-id:" + requestID + ";")
	}
	b.WriteString("ts:" + ts + ";")
	return b.String()
}
