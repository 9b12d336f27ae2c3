// Package gateway предоставляет клиент платёжного шлюза Mercado Pago для оплаты через PIX.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Статусы платежа, которые сообщает шлюз.
const (
	PaymentStatusApproved    = "approved"
	PaymentStatusPending     = "pending"
	PaymentStatusInProcess   = "in_process"
	PaymentStatusRejected    = "rejected"
	PaymentStatusCancelled   = "cancelled"
	PaymentStatusRefunded    = "refunded"
	PaymentStatusChargedBack = "charged_back"
)

// ErrPaymentNotFound возвращается, если шлюз не знает платёж с указанным идентификатором.
var ErrPaymentNotFound = errors.New("payment not found")

// APIError описывает ответ шлюза с кодом, отличным от успешного.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("payment gateway responded %d: %s", e.StatusCode, e.Message)
}

// Config содержит параметры подключения к шлюзу.
type Config struct {
	BaseURL     string
	AccessToken string
	RetryMax    int
	RetryWait   time.Duration
	Timeout     time.Duration
}

// Client инкапсулирует HTTP-взаимодействие с Mercado Pago.
type Client struct {
	baseURL     string
	accessToken string
	httpClient  *retryablehttp.Client
}

// PixIntentRequest содержит данные для создания платежа PIX.
type PixIntentRequest struct {
	Amount           decimal.Decimal
	Description      string
	PayerEmail       string
	CorrelationToken string
	NotificationURL  string
	IdempotencyKey   string
}

// PixIntent содержит данные, необходимые покупателю для оплаты.
type PixIntent struct {
	PaymentID    string `json:"paymentId"`
	QRCodeBase64 string `json:"qrCodeBase64"`
	QRCode       string `json:"qrCode"`
	TicketURL    string `json:"ticketUrl"`
}

// PaymentDetails содержит авторитетное состояние платежа на стороне шлюза.
type PaymentDetails struct {
	ID                string
	Status            string
	ExternalReference string
}

type payer struct {
	Email string `json:"email"`
}

type createPaymentRequest struct {
	TransactionAmount json.Number `json:"transaction_amount"`
	Description       string      `json:"description"`
	PaymentMethodID   string      `json:"payment_method_id"`
	Payer             payer       `json:"payer"`
	ExternalReference string      `json:"external_reference"`
	NotificationURL   string      `json:"notification_url,omitempty"`
}

type paymentResponse struct {
	ID                 json.Number `json:"id"`
	Status             string      `json:"status"`
	ExternalReference  string      `json:"external_reference"`
	PointOfInteraction struct {
		TransactionData struct {
			QRCode       string `json:"qr_code"`
			QRCodeBase64 string `json:"qr_code_base64"`
			TicketURL    string `json:"ticket_url"`
		} `json:"transaction_data"`
	} `json:"point_of_interaction"`
}

type errorResponse struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

// NewClient создаёт клиент шлюза с ограниченным числом повторов запросов.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RetryWait <= 0 {
		cfg.RetryWait = 500 * time.Millisecond
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}

	hc := retryablehttp.NewClient()
	hc.RetryMax = cfg.RetryMax
	hc.RetryWaitMin = cfg.RetryWait
	hc.RetryWaitMax = cfg.RetryWait * 8
	hc.HTTPClient.Timeout = cfg.Timeout
	hc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	hc.Logger = &leveledLogger{log: logger.Sugar()}

	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		accessToken: cfg.AccessToken,
		httpClient:  hc,
	}
}

// CreatePixIntent создаёт платёж PIX и возвращает данные для оплаты.
func (c *Client) CreatePixIntent(ctx context.Context, in PixIntentRequest) (*PixIntent, error) {
	body, err := json.Marshal(createPaymentRequest{
		TransactionAmount: json.Number(in.Amount.StringFixed(2)),
		Description:       in.Description,
		PaymentMethodID:   "pix",
		Payer:             payer{Email: in.PayerEmail},
		ExternalReference: in.CorrelationToken,
		NotificationURL:   in.NotificationURL,
	})
	if err != nil {
		return nil, fmt.Errorf("encode payment: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/v1/payments", body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if in.IdempotencyKey != "" {
		req.Header.Set("X-Idempotency-Key", in.IdempotencyKey)
	}

	var resp paymentResponse
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}

	if resp.ID == "" {
		return nil, fmt.Errorf("payment gateway returned no payment id")
	}

	td := resp.PointOfInteraction.TransactionData
	return &PixIntent{
		PaymentID:    resp.ID.String(),
		QRCodeBase64: td.QRCodeBase64,
		QRCode:       td.QRCode,
		TicketURL:    td.TicketURL,
	}, nil
}

// FetchPaymentDetails запрашивает текущее состояние платежа.
func (c *Client) FetchPaymentDetails(ctx context.Context, paymentID string) (*PaymentDetails, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/v1/payments/"+url.PathEscape(paymentID), nil)
	if err != nil {
		return nil, err
	}

	var resp paymentResponse
	if err := c.do(req, &resp); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}

	return &PaymentDetails{
		ID:                resp.ID.String(),
		Status:            resp.Status,
		ExternalReference: strings.TrimSpace(resp.ExternalReference),
	}, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body []byte) (*retryablehttp.Request, error) {
	var raw any
	if body != nil {
		raw = body
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.baseURL+path, raw)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) do(req *retryablehttp.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(data, resp.StatusCode)}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func errorMessage(data []byte, status int) string {
	var er errorResponse
	if err := json.Unmarshal(data, &er); err == nil {
		if er.Message != "" {
			return er.Message
		}
		if er.Error != "" {
			return er.Error
		}
	}
	return http.StatusText(status)
}

// leveledLogger направляет журнал retryablehttp в zap.
type leveledLogger struct {
	log *zap.SugaredLogger
}

func (l *leveledLogger) Error(msg string, keysAndValues ...interface{}) {
	l.log.Errorw(msg, keysAndValues...)
}

func (l *leveledLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Infow(msg, keysAndValues...)
}

func (l *leveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l *leveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.log.Warnw(msg, keysAndValues...)
}
