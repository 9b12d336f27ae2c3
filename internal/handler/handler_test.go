package handler

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mmeshcher/subscription-storefront/internal/gateway"
	"github.com/mmeshcher/subscription-storefront/internal/middleware"
	"github.com/mmeshcher/subscription-storefront/internal/model"
	"github.com/mmeshcher/subscription-storefront/internal/oauth"
	"github.com/mmeshcher/subscription-storefront/internal/service"
)

const (
	adminID int64 = 1
	buyerID int64 = 2

	goldPlanID = "0b6f7c1e-2d4a-4f5b-9c8d-1e2f3a4b5c6d"
	orderID    = "3f1c9a7e-5b2d-4c8e-9a1f-6d7e8f9a0b1c"
)

var testNow = time.Date(2024, time.January, 15, 10, 0, 0, 0, time.UTC)

type stubService struct {
	mu sync.Mutex

	plans        []model.Plan
	plan         *model.Plan
	planErr      error
	privileged   *bool
	createdPlan  *model.Plan
	planUpdate   *model.PlanUpdate
	deactivated  string
	createdItems []model.OrderItem
	orders       []model.Order
	rejected     []model.ItemRejection
	ordersErr    error
	activeOrder  *model.Order
	activeErr    error
	intent       *gateway.PixIntent
	paymentErr   error
	paidOrderID  string
	notification *gateway.Notification
	reconcile    *service.ReconcileResult
	reconcileErr error
	loginUser    *model.User
	loginErr     error
	loginArgs    []string
}

func (s *stubService) ListPlans(ctx context.Context, privileged bool) ([]model.Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.privileged = &privileged
	return s.plans, s.planErr
}

func (s *stubService) GetPlan(ctx context.Context, id string) (*model.Plan, error) {
	return s.plan, s.planErr
}

func (s *stubService) CreatePlan(ctx context.Context, p *model.Plan) error {
	if s.planErr != nil {
		return s.planErr
	}
	p.ID = goldPlanID
	p.CreatedAt = testNow
	p.UpdatedAt = testNow
	s.createdPlan = p
	return nil
}

func (s *stubService) UpdatePlan(ctx context.Context, id string, upd model.PlanUpdate) (*model.Plan, error) {
	s.planUpdate = &upd
	return s.plan, s.planErr
}

func (s *stubService) DeactivatePlan(ctx context.Context, id string) (*model.Plan, error) {
	s.deactivated = id
	return s.plan, s.planErr
}

func (s *stubService) CreateOrders(ctx context.Context, userID int64, items []model.OrderItem) ([]model.Order, []model.ItemRejection, error) {
	s.createdItems = items
	return s.orders, s.rejected, s.ordersErr
}

func (s *stubService) GetOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error) {
	return s.orders, s.ordersErr
}

func (s *stubService) GetActivePlan(ctx context.Context, userID int64) (*model.Order, error) {
	return s.activeOrder, s.activeErr
}

func (s *stubService) CreatePixPayment(ctx context.Context, userID int64, id string) (*gateway.PixIntent, error) {
	s.paidOrderID = id
	return s.intent, s.paymentErr
}

func (s *stubService) HandlePaymentNotification(ctx context.Context, n gateway.Notification) (*service.ReconcileResult, error) {
	s.notification = &n
	return s.reconcile, s.reconcileErr
}

func (s *stubService) LoginWithProvider(ctx context.Context, provider, providerAccountID, name, email string) (*model.User, error) {
	s.loginArgs = []string{provider, providerAccountID, name, email}
	return s.loginUser, s.loginErr
}

func (s *stubService) IsAdmin(ctx context.Context, userID int64) (bool, error) {
	return userID == adminID, nil
}

type stubAuthenticator struct {
	identity  *oauth.Identity
	err       error
	loggedOut bool
}

func (a *stubAuthenticator) BeginAuth(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "https://discord.com/oauth2/authorize", http.StatusTemporaryRedirect)
}

func (a *stubAuthenticator) CompleteAuth(w http.ResponseWriter, r *http.Request) (*oauth.Identity, error) {
	return a.identity, a.err
}

func (a *stubAuthenticator) Logout(w http.ResponseWriter, r *http.Request) error {
	a.loggedOut = true
	return nil
}

func newTestHandler(t *testing.T, svc Service) *Handler {
	t.Helper()

	logger, err := zap.NewDevelopment()
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	auth := middleware.NewAuthMiddleware("test-secret")

	return NewHandler(svc, logger, auth)
}

func authCookie(t *testing.T, h *Handler, userID int64) *http.Cookie {
	t.Helper()

	rec := httptest.NewRecorder()
	h.authMiddleware.SetAuthCookie(rec, userID)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	return cookies[0]
}

func serve(h *Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.SetupRouter().ServeHTTP(rec, req)
	return rec
}

func jsonBody(t *testing.T, v any) *bytes.Reader {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewReader(b)
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func goldPlan() *model.Plan {
	role := "123456789"
	return &model.Plan{
		ID:             goldPlanID,
		Name:           "Gold",
		PriceMonthly:   decimal.RequireFromString("19.9"),
		PriceAnnually:  decimal.RequireFromString("199"),
		Features:       []string{"priority support"},
		Active:         true,
		ExternalRoleID: &role,
		CreatedAt:      testNow,
		UpdatedAt:      testNow,
	}
}

func TestListPlans_PrivilegeFollowsRole(t *testing.T) {
	svc := &stubService{plans: []model.Plan{*goldPlan()}}
	h := newTestHandler(t, svc)

	req := httptest.NewRequest(http.MethodGet, "/api/plans", nil)
	rec := serve(h, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, svc.privileged)
	assert.False(t, *svc.privileged)

	var plans []planResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&plans))
	require.Len(t, plans, 1)
	assert.Equal(t, "19.90", plans[0].PriceMonthly)
	assert.Equal(t, "199.00", plans[0].PriceAnnually)
	assert.Equal(t, "123456789", *plans[0].DiscordRoleID)

	req = httptest.NewRequest(http.MethodGet, "/api/plans", nil)
	req.AddCookie(authCookie(t, h, adminID))
	rec = serve(h, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, *svc.privileged)
}

func TestGetPlan_NotFound(t *testing.T) {
	svc := &stubService{planErr: service.ErrPlanNotFound}
	h := newTestHandler(t, svc)

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/api/plans/"+goldPlanID, nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Contains(t, decodeError(t, rec).Error, "plan not found")
}

func TestCreatePlan_RequiresAdmin(t *testing.T) {
	svc := &stubService{}
	h := newTestHandler(t, svc)

	body := map[string]any{"name": "Gold", "priceMonthly": "19.90", "priceAnnually": "199.00"}

	req := httptest.NewRequest(http.MethodPost, "/api/plans", jsonBody(t, body))
	rec := serve(h, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/plans", jsonBody(t, body))
	req.AddCookie(authCookie(t, h, buyerID))
	rec = serve(h, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	assert.Nil(t, svc.createdPlan)
}

func TestCreatePlan_Success(t *testing.T) {
	svc := &stubService{}
	h := newTestHandler(t, svc)

	req := httptest.NewRequest(http.MethodPost, "/api/plans", jsonBody(t, map[string]any{
		"name":          "Gold",
		"priceMonthly":  19.9,
		"priceAnnually": "199.00",
		"features":      []string{"priority support"},
		"discordRoleId": "",
	}))
	req.AddCookie(authCookie(t, h, adminID))
	rec := serve(h, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.NotNil(t, svc.createdPlan)
	assert.True(t, svc.createdPlan.Active)
	assert.Nil(t, svc.createdPlan.ExternalRoleID)
	assert.True(t, svc.createdPlan.PriceMonthly.Equal(decimal.RequireFromString("19.90")))

	var resp planResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, goldPlanID, resp.ID)
	assert.Equal(t, "19.90", resp.PriceMonthly)
}

func TestCreatePlan_ValidationError(t *testing.T) {
	svc := &stubService{}
	h := newTestHandler(t, svc)

	req := httptest.NewRequest(http.MethodPost, "/api/plans", jsonBody(t, map[string]any{
		"priceMonthly":  "19.999",
		"priceAnnually": "199.00",
	}))
	req.AddCookie(authCookie(t, h, adminID))
	rec := serve(h, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, map[string]string{
		"name":         "required",
		"priceMonthly": "money",
	}, resp.Fields)
	assert.Nil(t, svc.createdPlan)
}

func TestUpdatePlan_PriceLocked(t *testing.T) {
	svc := &stubService{planErr: service.ErrPlanPriceLocked}
	h := newTestHandler(t, svc)

	req := httptest.NewRequest(http.MethodPut, "/api/plans/"+goldPlanID, strings.NewReader(`{"priceMonthly":"24.90"}`))
	req.AddCookie(authCookie(t, h, adminID))
	rec := serve(h, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
	require.NotNil(t, svc.planUpdate)
	assert.True(t, svc.planUpdate.PriceMonthly.Equal(decimal.RequireFromString("24.9")))
	assert.Nil(t, svc.planUpdate.PriceAnnually)
}

func TestDeletePlan_Deactivates(t *testing.T) {
	p := goldPlan()
	p.Active = false
	svc := &stubService{plan: p}
	h := newTestHandler(t, svc)

	req := httptest.NewRequest(http.MethodDelete, "/api/plans/"+goldPlanID, nil)
	req.AddCookie(authCookie(t, h, adminID))
	rec := serve(h, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, goldPlanID, svc.deactivated)

	var resp planResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.False(t, resp.Active)
}

func TestCreateOrders_Success(t *testing.T) {
	expires := testNow.AddDate(0, 0, 30)
	svc := &stubService{
		orders: []model.Order{{
			ID:          orderID,
			UserID:      buyerID,
			PlanID:      goldPlanID,
			Tier:        model.PriceTierMonthly,
			Status:      model.OrderStatusPending,
			Quantity:    1,
			TotalAmount: decimal.RequireFromString("19.9"),
			Currency:    "BRL",
			CreatedAt:   testNow,
			ExpiresAt:   &expires,
			Plan:        goldPlan(),
		}},
		rejected: []model.ItemRejection{{Index: 1, PlanID: "nope", Reason: model.RejectPlanNotFound}},
	}
	h := newTestHandler(t, svc)

	req := httptest.NewRequest(http.MethodPost, "/api/orders", strings.NewReader(`[
		{"id": "`+goldPlanID+`", "name": "Gold", "type": "monthly", "price": 1.00, "quantity": 1},
		{"id": "nope", "type": "weekly", "price": 5}
	]`))
	req.AddCookie(authCookie(t, h, buyerID))
	rec := serve(h, req)

	require.Equal(t, http.StatusCreated, rec.Code)

	require.Len(t, svc.createdItems, 2)
	assert.Equal(t, model.PriceTierMonthly, svc.createdItems[0].Tier)
	assert.True(t, svc.createdItems[0].ClaimedPrice.Equal(decimal.NewFromInt(1)))
	assert.Equal(t, model.PriceTier("WEEKLY"), svc.createdItems[1].Tier)
	assert.Equal(t, 0, svc.createdItems[1].Quantity)

	var resp []orderResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp, 1)
	assert.Equal(t, "19.90", resp[0].TotalAmount)
	assert.Equal(t, "Gold", resp[0].PlanName)
	assert.Equal(t, "PENDING", resp[0].Status)
	require.NotNil(t, resp[0].ExpiresAt)
	assert.Equal(t, "2024-02-14T10:00:00Z", *resp[0].ExpiresAt)
}

func TestCreateOrders_BadRequests(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		svcErr  error
		wantErr string
	}{
		{name: "malformed json", body: `{"id":`},
		{name: "empty cart", body: `[]`, svcErr: service.ErrEmptyOrder, wantErr: "order has no items"},
		{name: "nothing valid", body: `[{"id":"x","type":"monthly"}]`, svcErr: service.ErrNoValidItems, wantErr: "no valid order items"},
		{name: "quantity out of range", body: `[{"id":"x","type":"monthly","quantity":500}]`, wantErr: "invalid request"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubService{ordersErr: tt.svcErr}
			h := newTestHandler(t, svc)

			req := httptest.NewRequest(http.MethodPost, "/api/orders", strings.NewReader(tt.body))
			req.AddCookie(authCookie(t, h, buyerID))
			rec := serve(h, req)

			require.Equal(t, http.StatusBadRequest, rec.Code)
			if tt.wantErr != "" {
				assert.Contains(t, decodeError(t, rec).Error, tt.wantErr)
			}
		})
	}
}

func TestCreateOrders_Unauthorized(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	rec := serve(h, httptest.NewRequest(http.MethodPost, "/api/orders", strings.NewReader(`[]`)))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGetOrders_Empty(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	req := httptest.NewRequest(http.MethodGet, "/api/users/me/orders", nil)
	req.AddCookie(authCookie(t, h, buyerID))
	rec := serve(h, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestGetActivePlan(t *testing.T) {
	expires := testNow.AddDate(1, 0, 0)

	tests := []struct {
		name     string
		order    *model.Order
		err      error
		wantCode int
	}{
		{name: "no active plan", err: service.ErrNoActivePlan, wantCode: http.StatusNotFound},
		{name: "plan deactivated", err: service.ErrPlanInactive, wantCode: http.StatusConflict},
		{name: "database failure", err: errors.New("connection refused"), wantCode: http.StatusInternalServerError},
		{
			name: "active",
			order: &model.Order{
				ID:        orderID,
				Tier:      model.PriceTierAnnually,
				Status:    model.OrderStatusCompleted,
				CreatedAt: testNow,
				ExpiresAt: &expires,
				Plan:      goldPlan(),
			},
			wantCode: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(t, &stubService{activeOrder: tt.order, activeErr: tt.err})

			req := httptest.NewRequest(http.MethodGet, "/api/users/me/active-plan", nil)
			req.AddCookie(authCookie(t, h, buyerID))
			rec := serve(h, req)

			require.Equal(t, tt.wantCode, rec.Code)
			if tt.wantCode != http.StatusOK {
				return
			}

			var resp activePlanResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
			assert.Equal(t, "Gold", resp.PlanName)
			assert.Equal(t, "ANNUALLY", resp.PlanType)
			assert.Equal(t, []string{"priority support"}, resp.Features)
			require.NotNil(t, resp.OrderExpiresAt)
			assert.Equal(t, "2025-01-15T10:00:00Z", *resp.OrderExpiresAt)
		})
	}
}

func TestCreatePixPayment_Success(t *testing.T) {
	svc := &stubService{intent: &gateway.PixIntent{
		PaymentID:    "123456789",
		QRCodeBase64: "iVBORw0KGgo=",
		QRCode:       "00020126",
		TicketURL:    "https://pay.example.com/t/1",
	}}
	h := newTestHandler(t, svc)

	req := httptest.NewRequest(http.MethodPost, "/api/payments/pix", strings.NewReader(`{"orderId":" `+orderID+` "}`))
	req.AddCookie(authCookie(t, h, buyerID))
	rec := serve(h, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, orderID, svc.paidOrderID)
	assert.JSONEq(t, `{
		"paymentId": "123456789",
		"qrCodeBase64": "iVBORw0KGgo=",
		"qrCode": "00020126",
		"ticketUrl": "https://pay.example.com/t/1"
	}`, rec.Body.String())
}

func TestCreatePixPayment_Errors(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		err      error
		wantCode int
		check    func(t *testing.T, resp errorResponse)
	}{
		{
			name:     "missing order id",
			body:     `{}`,
			wantCode: http.StatusBadRequest,
			check: func(t *testing.T, resp errorResponse) {
				assert.Equal(t, map[string]string{"orderId": "required"}, resp.Fields)
			},
		},
		{
			name:     "order not found",
			body:     `{"orderId":"` + orderID + `"}`,
			err:      service.ErrOrderNotFound,
			wantCode: http.StatusNotFound,
		},
		{
			name:     "order not pending",
			body:     `{"orderId":"` + orderID + `"}`,
			err:      &service.OrderNotPendingError{OrderID: orderID, Status: model.OrderStatusCompleted},
			wantCode: http.StatusConflict,
			check: func(t *testing.T, resp errorResponse) {
				assert.Equal(t, "COMPLETED", resp.Status)
			},
		},
		{
			name:     "missing payer email",
			body:     `{"orderId":"` + orderID + `"}`,
			err:      service.ErrMissingPayerEmail,
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "gateway rejected",
			body:     `{"orderId":"` + orderID + `"}`,
			err:      &service.PaymentGatewayError{StatusCode: http.StatusBadRequest, Message: "invalid payer email"},
			wantCode: http.StatusBadGateway,
			check: func(t *testing.T, resp errorResponse) {
				assert.Equal(t, http.StatusBadRequest, resp.UpstreamStatus)
				assert.Equal(t, "invalid payer email", resp.UpstreamMessage)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(t, &stubService{paymentErr: tt.err})

			req := httptest.NewRequest(http.MethodPost, "/api/payments/pix", strings.NewReader(tt.body))
			req.AddCookie(authCookie(t, h, buyerID))
			rec := serve(h, req)

			require.Equal(t, tt.wantCode, rec.Code)
			if tt.check != nil {
				tt.check(t, decodeError(t, rec))
			}
		})
	}
}

func TestPaymentWebhook_Outcomes(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		result   *service.ReconcileResult
		err      error
		wantCode int
	}{
		{
			name:     "transitioned",
			body:     `{"type":"payment","action":"payment.updated","data":{"id":123}}`,
			result:   &service.ReconcileResult{Outcome: service.OutcomeTransitioned},
			wantCode: http.StatusOK,
		},
		{
			name:     "malformed is acknowledged",
			body:     `{"type":"payment","action":"payment.updated","data":{}}`,
			err:      service.ErrMalformedNotification,
			wantCode: http.StatusOK,
		},
		{
			name:     "payment not yet visible asks for redelivery",
			body:     `{"type":"payment","action":"payment.updated","data":{"id":"123"}}`,
			err:      service.ErrPaymentNotVisible,
			wantCode: http.StatusServiceUnavailable,
		},
		{
			name:     "transient failure asks for redelivery",
			body:     `{"type":"payment","action":"payment.updated","data":{"id":"123"}}`,
			err:      errors.New("connection refused"),
			wantCode: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubService{reconcile: tt.result, reconcileErr: tt.err}
			h := newTestHandler(t, svc)

			req := httptest.NewRequest(http.MethodPost, "/api/webhooks/mercadopago", strings.NewReader(tt.body))
			rec := serve(h, req)

			assert.Equal(t, tt.wantCode, rec.Code)
			assert.NotNil(t, svc.notification)
		})
	}
}

func TestPaymentWebhook_InvalidJSONIsAcknowledged(t *testing.T) {
	svc := &stubService{}
	h := newTestHandler(t, svc)

	rec := serve(h, httptest.NewRequest(http.MethodPost, "/api/webhooks/mercadopago", strings.NewReader(`{not json`)))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, svc.notification)
}

func TestPaymentWebhook_QueryFallback(t *testing.T) {
	svc := &stubService{reconcile: &service.ReconcileResult{Outcome: service.OutcomeAwaitingFinalStatus}}
	h := newTestHandler(t, svc)

	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/mercadopago?data.id=777&type=payment",
		strings.NewReader(`{"type":"payment","action":"payment.updated"}`))
	rec := serve(h, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, svc.notification)
	assert.Equal(t, "777", svc.notification.PaymentID())
	assert.JSONEq(t, `{"received":true,"outcome":"awaiting_final_status"}`, rec.Body.String())
}

func TestPaymentWebhook_Signature(t *testing.T) {
	const secret = "webhook-secret"

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte("id:123;request-id:req-1;ts:1704908010;"))
	valid := "ts=1704908010,v1=" + hex.EncodeToString(mac.Sum(nil))

	body := `{"type":"payment","action":"payment.updated","data":{"id":123}}`

	tests := []struct {
		name      string
		signature string
		wantCode  int
	}{
		{name: "valid", signature: valid, wantCode: http.StatusOK},
		{name: "missing", signature: "", wantCode: http.StatusUnauthorized},
		{name: "forged", signature: "ts=1704908010,v1=deadbeef", wantCode: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubService{reconcile: &service.ReconcileResult{Outcome: service.OutcomeTransitioned}}
			h := newTestHandler(t, svc).WithWebhookSecret(secret)

			req := httptest.NewRequest(http.MethodPost, "/api/webhooks/mercadopago", strings.NewReader(body))
			req.Header.Set(gateway.RequestIDHeader, "req-1")
			if tt.signature != "" {
				req.Header.Set(gateway.SignatureHeader, tt.signature)
			}
			rec := serve(h, req)

			assert.Equal(t, tt.wantCode, rec.Code)
			if tt.wantCode == http.StatusUnauthorized {
				assert.Nil(t, svc.notification)
			}
		})
	}
}

func TestLoginCallback_SetsCookie(t *testing.T) {
	svc := &stubService{loginUser: &model.User{ID: buyerID, Name: "buyer", Role: model.UserRoleUser}}
	authn := &stubAuthenticator{identity: &oauth.Identity{
		Provider:  model.ProviderDiscord,
		AccountID: "80351110224678912",
		Name:      "buyer",
		Email:     "buyer@example.com",
	}}
	h := newTestHandler(t, svc).WithAuthenticator(authn)

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/auth/discord/callback?code=abc&state=xyz", nil))

	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))
	assert.Equal(t, []string{"discord", "80351110224678912", "buyer", "buyer@example.com"}, svc.loginArgs)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)

	req := httptest.NewRequest(http.MethodGet, "/api/users/me/orders", nil)
	req.AddCookie(cookies[0])
	rec = serve(h, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLoginCallback_ProviderError(t *testing.T) {
	svc := &stubService{}
	h := newTestHandler(t, svc).WithAuthenticator(&stubAuthenticator{err: errors.New("state mismatch")})

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/auth/discord/callback", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Nil(t, svc.loginArgs)
}

func TestBeginLogin(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/auth/discord/login", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	h.WithAuthenticator(&stubAuthenticator{})
	rec = serve(h, httptest.NewRequest(http.MethodGet, "/auth/discord/login", nil))
	assert.Equal(t, http.StatusTemporaryRedirect, rec.Code)
	assert.Equal(t, "https://discord.com/oauth2/authorize", rec.Header().Get("Location"))

	rec = serve(h, httptest.NewRequest(http.MethodGet, "/auth/discord", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLogout_ClearsCookie(t *testing.T) {
	authn := &stubAuthenticator{}
	h := newTestHandler(t, &stubService{}).WithAuthenticator(authn)

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.AddCookie(authCookie(t, h, buyerID))
	rec := serve(h, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.True(t, authn.loggedOut)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Empty(t, cookies[0].Value)
	assert.Negative(t, cookies[0].MaxAge)
}

func TestRouter_NotFoundIsJSON(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/api/unknown", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Not Found", decodeError(t, rec).Error)
}
