package routes_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/agencyhq/backend/internal/handlers"
	"github.com/agencyhq/backend/internal/middleware"
	"github.com/agencyhq/backend/internal/models"
	"github.com/agencyhq/backend/internal/routes"
	"github.com/agencyhq/backend/internal/security/audit"
	"github.com/agencyhq/backend/internal/services/catalog"
	"github.com/agencyhq/backend/internal/services/checkout"
	"github.com/agencyhq/backend/internal/services/ledger"
	"github.com/agencyhq/backend/internal/services/order"
	"github.com/agencyhq/backend/internal/services/payment"
	"github.com/agencyhq/backend/internal/services/payment/providers/paystack"
	"github.com/agencyhq/backend/internal/services/project"
	"github.com/agencyhq/backend/internal/services/referral"
	"github.com/agencyhq/backend/internal/services/withdrawal"
	"github.com/agencyhq/backend/internal/testutil"
	"github.com/agencyhq/backend/internal/utils"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const paystackSecret = "sk_test_routes"

func init() {
	gin.SetMode(gin.TestMode)
	utils.SetJWTSecret("routes-test-secret")
}

// fakePaystack serves the two Paystack endpoints the provider calls
type fakePaystack struct {
	mu       sync.Mutex
	down     bool
	verified string
	amount   int64
}

func (f *fakePaystack) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.down {
		w.WriteHeader(http.StatusBadGateway)
		return
	}

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/transaction/initialize":
		var req struct {
			Reference string `json:"reference"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status":  true,
			"message": "Authorization URL created",
			"data": map[string]string{
				"authorization_url": "https://checkout.paystack.com/" + req.Reference,
				"access_code":       "ac_" + req.Reference,
				"reference":         req.Reference,
			},
		})
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/transaction/verify/"):
		ref := strings.TrimPrefix(r.URL.Path, "/transaction/verify/")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status":  true,
			"message": "Verification successful",
			"data": map[string]interface{}{
				"reference": ref,
				"status":    f.verified,
				"amount":    f.amount,
				"currency":  "NGN",
			},
		})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakePaystack) setDown(down bool) {
	f.mu.Lock()
	f.down = down
	f.mu.Unlock()
}

type env struct {
	t        *testing.T
	db       *gorm.DB
	router   *gin.Engine
	gateway  *fakePaystack
	sessions *checkout.Store
	service  models.Service
	admin    string
}

func newEnv(t *testing.T) *env {
	t.Helper()

	db := testutil.NewDB(t)
	testutil.SetReferralSettings(t, db, "10", 5000, 0)

	gw := &fakePaystack{verified: "success"}
	srv := httptest.NewServer(gw)
	t.Cleanup(srv.Close)

	payments := payment.NewPaymentService(nil)
	payments.RegisterProvider(paystack.NewPaystackProvider(paystack.PaystackConfig{
		SecretKey: paystackSecret,
		BaseURL:   srv.URL,
		Timeout:   2 * time.Second,
	}))

	auditLogger := audit.NewLogger(db, nil)
	catalogService := catalog.NewCatalogService(db)
	sessions := checkout.NewStore(db, catalogService, time.Hour, nil)
	l := ledger.New(db)
	engine := referral.NewEngine(db, l, referral.Defaults{CommissionPercentage: decimal.NewFromInt(10), MinimumWithdrawal: 5000}, nil)
	projects := project.NewProjectService(db, nil)
	orders := order.NewOrderService(db, payments, sessions, projects, engine, order.Config{
		ReferenceTTL:       30 * time.Minute,
		ReactivateCooldown: 30 * time.Second,
		CallbackURL:        "http://localhost:3000/payment-success",
	}, nil)
	orders.SetAuditLogger(auditLogger)
	withdrawals := withdrawal.NewWithdrawalService(db, l, engine, auditLogger, nil)

	limiter := middleware.NewRateLimiter(1000, 60000, 1000, 1000)
	t.Cleanup(limiter.Stop)

	router := routes.NewRouter(routes.Handlers{
		Checkout: handlers.NewCheckoutHandler(catalogService, sessions, nil),
		Orders:   handlers.NewOrderHandler(orders, catalogService, projects, nil),
		Payments: handlers.NewPaymentHandler(payments, orders, payment.NewWebhookLog(db), auditLogger, nil, nil),
		Referral: handlers.NewReferralHandler(engine, withdrawals, nil),
		Admin:    handlers.NewAdminHandler(engine, withdrawals, payment.NewWebhookLog(db), nil),
	}, routes.Options{
		CORSOrigins: []string{"http://localhost:3000"},
		DB:          db,
		RateLimiter: limiter,
	})

	e := &env{
		t:        t,
		db:       db,
		router:   router,
		gateway:  gw,
		sessions: sessions,
		service:  testutil.CreateService(t, db, "Business Website", 1000000, 200000),
	}
	admin := testutil.CreateUser(t, db, "admin@agency.test", nil)
	e.admin = e.token(admin.ID, true)
	return e
}

func (e *env) token(userID uuid.UUID, isAdmin bool) string {
	tok, err := utils.GenerateToken(userID, "", isAdmin, time.Hour)
	require.NoError(e.t, err)
	return tok
}

func (e *env) user(email string) (models.User, string) {
	u := testutil.CreateUser(e.t, e.db, email, nil)
	return u, e.token(u.ID, false)
}

func (e *env) do(method, path, token string, body interface{}) *httptest.ResponseRecorder {
	e.t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(e.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *env) webhook(event, reference string, amount int64, secret string) *httptest.ResponseRecorder {
	e.t.Helper()

	body, err := json.Marshal(map[string]interface{}{
		"event": event,
		"data": map[string]interface{}{
			"reference": reference,
			"status":    strings.TrimPrefix(event, "charge."),
			"amount":    amount,
			"currency":  "NGN",
		},
	})
	require.NoError(e.t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/paystack", bytes.NewReader(body))
	req.Header.Set(paystack.SignatureHeader, utils.SignHMACSHA512Hex(body, secret))
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func (e *env) openSession() string {
	e.t.Helper()

	w := e.do(http.MethodPost, "/api/checkout-sessions", "", gin.H{
		"service_id":  e.service.ID,
		"add_on_ids":  []uuid.UUID{e.service.AddOns[0].ID},
		"total_price": 1200000,
		"contact": gin.H{
			"full_name": "Ada Obi",
			"email":     "ada@example.com",
		},
	})
	require.Equal(e.t, http.StatusCreated, w.Code, w.Body.String())
	return decode(e.t, w)["session_token"].(string)
}

// placeOrder creates a paid-for-later order from a fresh session and returns
// its id and payment reference
func (e *env) placeOrder(token string) (string, string) {
	e.t.Helper()

	w := e.do(http.MethodPost, "/api/orders", token, gin.H{
		"session_token":      e.openSession(),
		"initialize_payment": true,
	})
	require.Equal(e.t, http.StatusCreated, w.Code, w.Body.String())
	body := decode(e.t, w)
	require.NotEmpty(e.t, body["payment_url"])

	o := body["order"].(map[string]interface{})
	return o["id"].(string), o["payment_reference"].(string)
}

func TestHealthz(t *testing.T) {
	e := newEnv(t)
	w := e.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCatalogListsActiveServices(t *testing.T) {
	e := newEnv(t)

	w := e.do(http.MethodGet, "/api/services", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	services := decode(t, w)["services"].([]interface{})
	require.Len(t, services, 1)
	assert.Equal(t, "Business Website", services[0].(map[string]interface{})["name"])
}

func TestCheckoutToPaidOrderWithReferral(t *testing.T) {
	e := newEnv(t)
	referrer, referrerToken := e.user("referrer@example.com")
	_, buyerToken := e.user("buyer@example.com")

	w := e.do(http.MethodPost, "/api/referrals/generate-code", referrerToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	code := decode(t, w)["referral_code"].(string)

	w = e.do(http.MethodPost, "/api/referrals/apply-code", buyerToken, gin.H{"code": strings.ToLower(code)})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// Anonymous checkout, contact attached afterwards
	w = e.do(http.MethodPost, "/api/checkout-sessions", "", gin.H{
		"service_id":  e.service.ID,
		"add_on_ids":  []uuid.UUID{e.service.AddOns[0].ID},
		"total_price": 1200000,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	sessionToken := decode(t, w)["session_token"].(string)

	w = e.do(http.MethodPut, "/api/checkout-sessions/"+sessionToken+"/contact", "", gin.H{
		"full_name": "Ada Obi",
		"email":     "ada@example.com",
		"company":   "Obi Ventures",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = e.do(http.MethodPost, "/api/checkout-sessions/"+sessionToken+"/claim", buyerToken, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = e.do(http.MethodPost, "/api/orders", buyerToken, gin.H{"session_token": sessionToken, "initialize_payment": true})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode(t, w)
	o := created["order"].(map[string]interface{})
	orderID := o["id"].(string)
	reference := o["payment_reference"].(string)
	assert.Equal(t, "pending", o["status"])
	assert.Contains(t, created["payment_url"], reference)

	w = e.webhook("charge.success", reference, 1200000, paystackSecret)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "confirmed", decode(t, w)["outcome"])

	// Redelivery is acknowledged without side effects
	w = e.webhook("charge.success", reference, 1200000, paystackSecret)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "already_paid", decode(t, w)["outcome"])

	w = e.do(http.MethodGet, "/api/orders/"+orderID, buyerToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "paid", decode(t, w)["order"].(map[string]interface{})["status"])

	w = e.do(http.MethodGet, "/api/projects", buyerToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["projects"], 1)

	var referrals int64
	require.NoError(t, e.db.Model(&models.Referral{}).Where("referrer_id = ?", referrer.ID).Count(&referrals).Error)
	assert.Equal(t, int64(1), referrals)

	w = e.do(http.MethodGet, "/api/referrals/my-data", referrerToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	earnings := decode(t, w)["data"].(map[string]interface{})["earnings"].(map[string]interface{})
	assert.EqualValues(t, 120000, earnings["available_balance"])

	// Payout: request, approve, complete
	w = e.do(http.MethodPost, "/api/referrals/request-withdrawal", referrerToken, gin.H{
		"amount":          100000,
		"payment_method":  "bank_transfer",
		"payment_details": gin.H{"bank": "GTBank", "account_number": "0123456789"},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	requestID := decode(t, w)["withdrawal"].(map[string]interface{})["id"].(string)

	w = e.do(http.MethodGet, "/api/admin/withdrawals?status=pending", e.admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["withdrawals"], 1)

	w = e.do(http.MethodPost, "/api/admin/withdrawals/"+requestID+"/process", e.admin, gin.H{"decision": "approve"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = e.do(http.MethodPost, "/api/admin/withdrawals/"+requestID+"/complete", e.admin, gin.H{"notes": "paid"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "completed", decode(t, w)["withdrawal"].(map[string]interface{})["status"])

	w = e.do(http.MethodGet, "/api/admin/withdrawals/"+requestID, e.admin, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "completed", decode(t, w)["withdrawal"].(map[string]interface{})["status"])
	assert.Equal(t, http.StatusNotFound, e.do(http.MethodGet, "/api/admin/withdrawals/"+uuid.NewString(), e.admin, nil).Code)
	assert.Equal(t, http.StatusForbidden, e.do(http.MethodGet, "/api/admin/withdrawals/"+requestID, referrerToken, nil).Code)

	final := testutil.Earnings(t, e.db, referrer.ID)
	assert.EqualValues(t, 20000, final.AvailableBalance)
	assert.EqualValues(t, 100000, final.TotalWithdrawn)

	w = e.do(http.MethodPost, "/api/admin/withdrawals/"+requestID+"/process", e.admin, gin.H{"decision": "reject"})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestForgedWebhookIsRejected(t *testing.T) {
	e := newEnv(t)
	_, buyerToken := e.user("buyer@example.com")
	orderID, reference := e.placeOrder(buyerToken)

	w := e.webhook("charge.success", reference, 1200000, "sk_wrong")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	var o models.Order
	require.NoError(t, e.db.First(&o, "id = ?", orderID).Error)
	assert.Equal(t, models.OrderStatusPending, o.Status)

	var critical int64
	require.NoError(t, e.db.Model(&audit.AuditLog{}).Where("severity = ?", audit.SeverityCritical).Count(&critical).Error)
	assert.Equal(t, int64(1), critical)
}

func TestWebhookOutcomes(t *testing.T) {
	e := newEnv(t)
	_, buyerToken := e.user("buyer@example.com")
	_, reference := e.placeOrder(buyerToken)

	w := e.webhook("charge.success", "ORD-unknown", 1200000, paystackSecret)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "unknown_reference", decode(t, w)["outcome"])

	w = e.webhook("transfer.success", reference, 1200000, paystackSecret)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ignored", decode(t, w)["outcome"])

	w = e.webhook("charge.failed", reference, 1200000, paystackSecret)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "still_pending", decode(t, w)["outcome"])

	w = e.webhook("charge.success", reference, 500, paystackSecret)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	var hooks int64
	require.NoError(t, e.db.Model(&models.PaymentWebhook{}).Count(&hooks).Error)
	assert.Equal(t, int64(4), hooks)

	w = e.do(http.MethodGet, "/api/admin/webhooks?reference="+reference, e.admin, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var outcomes []interface{}
	for _, h := range decode(t, w)["webhooks"].([]interface{}) {
		outcomes = append(outcomes, h.(map[string]interface{})["outcome"])
	}
	assert.ElementsMatch(t, []interface{}{"ignored", "still_pending", "rejected"}, outcomes)

	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodGet, "/api/admin/webhooks", e.admin, nil).Code)
}

func TestStaleReferenceAfterReactivation(t *testing.T) {
	e := newEnv(t)
	_, buyerToken := e.user("buyer@example.com")
	orderID, oldRef := e.placeOrder(buyerToken)

	// Inside the cooldown window
	w := e.do(http.MethodPost, "/api/orders/"+orderID+"/reactivate-payment", buyerToken, nil)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.NotNil(t, decode(t, w)["retry_after_seconds"])

	past := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, e.db.Model(&models.Order{}).Where("id = ?", orderID).Update("last_payment_attempt_at", past).Error)

	w = e.do(http.MethodPost, "/api/orders/"+orderID+"/reactivate-payment", buyerToken, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	newRef := decode(t, w)["reference"].(string)
	require.NotEqual(t, oldRef, newRef)

	w = e.webhook("charge.success", oldRef, 1200000, paystackSecret)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "stale", decode(t, w)["outcome"])

	w = e.do(http.MethodGet, "/payment-success?reference="+oldRef, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "pending", body["order_status"])
	assert.Equal(t, true, body["superseded"])

	w = e.webhook("charge.success", newRef, 1200000, paystackSecret)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "confirmed", decode(t, w)["outcome"])

	w = e.do(http.MethodGet, "/payment-success?reference="+newRef, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "paid", decode(t, w)["order_status"])
}

func TestPayIsRejectedWhileReferenceIsLive(t *testing.T) {
	e := newEnv(t)
	_, buyerToken := e.user("buyer@example.com")
	orderID, _ := e.placeOrder(buyerToken)

	w := e.do(http.MethodPost, "/api/orders/"+orderID+"/pay", buyerToken, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestGatewayOutageIsRetryable(t *testing.T) {
	e := newEnv(t)
	_, buyerToken := e.user("buyer@example.com")

	w := e.do(http.MethodPost, "/api/orders", buyerToken, gin.H{"session_token": e.openSession()})
	require.Equal(t, http.StatusCreated, w.Code)
	orderID := decode(t, w)["order"].(map[string]interface{})["id"].(string)

	e.gateway.setDown(true)
	w = e.do(http.MethodPost, "/api/orders/"+orderID+"/pay", buyerToken, nil)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, true, decode(t, w)["retryable"])

	var o models.Order
	require.NoError(t, e.db.First(&o, "id = ?", orderID).Error)
	assert.Nil(t, o.PaymentReference)
	assert.Nil(t, o.LastPaymentAttemptAt)

	e.gateway.setDown(false)
	w = e.do(http.MethodPost, "/api/orders/"+orderID+"/pay", buyerToken, nil)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestSessionIsSingleUse(t *testing.T) {
	e := newEnv(t)
	_, buyerToken := e.user("buyer@example.com")
	sessionToken := e.openSession()

	w := e.do(http.MethodPost, "/api/orders", buyerToken, gin.H{"session_token": sessionToken})
	require.Equal(t, http.StatusCreated, w.Code)

	w = e.do(http.MethodPost, "/api/orders", buyerToken, gin.H{"session_token": sessionToken})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = e.do(http.MethodGet, "/api/checkout-sessions/"+sessionToken, "", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestSessionErrors(t *testing.T) {
	e := newEnv(t)
	_, alice := e.user("alice@example.com")
	_, bob := e.user("bob@example.com")

	w := e.do(http.MethodPost, "/api/checkout-sessions", "", gin.H{
		"service_id":  e.service.ID,
		"total_price": 999,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(http.MethodGet, "/api/checkout-sessions/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	token := e.openSession()
	require.Equal(t, http.StatusOK, e.do(http.MethodPost, "/api/checkout-sessions/"+token+"/claim", alice, nil).Code)
	assert.Equal(t, http.StatusConflict, e.do(http.MethodPost, "/api/checkout-sessions/"+token+"/claim", bob, nil).Code)

	e.sessions.SetClock(func() time.Time { return time.Now().UTC().Add(2 * time.Hour) })
	w = e.do(http.MethodGet, "/api/checkout-sessions/"+token, "", nil)
	assert.Equal(t, http.StatusGone, w.Code)
}

func TestWebhookResponseSurvivesOutcomeStorageFailure(t *testing.T) {
	e := newEnv(t)
	_, buyerToken := e.user("buyer@example.com")
	orderID, reference := e.placeOrder(buyerToken)

	require.NoError(t, e.db.Callback().Update().Before("gorm:update").Register("fail_webhook_update", func(tx *gorm.DB) {
		if tx.Statement.Table == "payment_webhooks" {
			_ = tx.AddError(errors.New("disk full"))
		}
	}))

	w := e.webhook("charge.success", reference, 500, paystackSecret)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "rejected", decode(t, w)["outcome"])

	w = e.webhook("charge.success", reference, 1200000, paystackSecret)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "confirmed", decode(t, w)["outcome"])

	var hooks []models.PaymentWebhook
	require.NoError(t, e.db.Where("reference = ?", reference).Find(&hooks).Error)
	require.Len(t, hooks, 2)
	for _, h := range hooks {
		assert.False(t, h.Processed)
		assert.Empty(t, h.Outcome)
	}

	var o models.Order
	require.NoError(t, e.db.First(&o, "id = ?", orderID).Error)
	assert.Equal(t, models.OrderStatusPaid, o.Status)
}

func TestDirectOrderAndCancel(t *testing.T) {
	e := newEnv(t)
	_, buyerToken := e.user("buyer@example.com")
	_, otherToken := e.user("other@example.com")

	w := e.do(http.MethodPost, "/api/orders", buyerToken, gin.H{
		"service_id":  e.service.ID,
		"total_price": 1000000,
		"contact":     gin.H{"full_name": "Ada Obi", "email": "ada@example.com"},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	orderID := decode(t, w)["order"].(map[string]interface{})["id"].(string)

	w = e.do(http.MethodPost, "/api/orders", buyerToken, gin.H{
		"service_id":  e.service.ID,
		"total_price": 1,
		"contact":     gin.H{"full_name": "Ada Obi", "email": "ada@example.com"},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	assert.Equal(t, http.StatusForbidden, e.do(http.MethodPost, "/api/orders/"+orderID+"/cancel", otherToken, nil).Code)

	w = e.do(http.MethodDelete, "/api/orders/"+orderID, buyerToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "cancelled", decode(t, w)["order"].(map[string]interface{})["status"])

	assert.Equal(t, http.StatusConflict, e.do(http.MethodPost, "/api/orders/"+orderID+"/pay", buyerToken, nil).Code)
	assert.Equal(t, http.StatusConflict, e.do(http.MethodPost, "/api/orders/"+orderID+"/cancel", buyerToken, nil).Code)

	w = e.do(http.MethodPost, "/api/orders/"+orderID+"/reactivate-payment", buyerToken, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	restarted := decode(t, w)
	assert.Equal(t, "pending", restarted["order"].(map[string]interface{})["status"])
	assert.Nil(t, restarted["order"].(map[string]interface{})["cancelled_at"])

	w = e.webhook("charge.success", restarted["reference"].(string), 1000000, paystackSecret)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "confirmed", decode(t, w)["outcome"])
}

func TestAuthBoundaries(t *testing.T) {
	e := newEnv(t)
	_, userToken := e.user("user@example.com")

	assert.Equal(t, http.StatusUnauthorized, e.do(http.MethodGet, "/api/orders", "", nil).Code)
	assert.Equal(t, http.StatusForbidden, e.do(http.MethodGet, "/api/admin/referral-settings", userToken, nil).Code)
	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodGet, "/api/orders/not-a-uuid", userToken, nil).Code)
}

func TestAdminReferralSettings(t *testing.T) {
	e := newEnv(t)

	w := e.do(http.MethodPut, "/api/admin/referral-settings", e.admin, gin.H{"commission_percentage": "12.5", "hold_days": 7})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = e.do(http.MethodGet, "/api/admin/referral-settings", e.admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	settings := decode(t, w)["settings"].(map[string]interface{})
	assert.Equal(t, "12.5", settings["commission_percentage"])
	assert.EqualValues(t, 7, settings["hold_days"])

	w = e.do(http.MethodPut, "/api/admin/referral-settings", e.admin, gin.H{"commission_percentage": "150"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWithdrawalValidation(t *testing.T) {
	e := newEnv(t)
	u, token := e.user("referrer@example.com")
	testutil.Fund(t, e.db, u.ID, 10000)

	details := gin.H{"bank": "GTBank", "account_number": "0123456789"}

	w := e.do(http.MethodPost, "/api/referrals/request-withdrawal", token, gin.H{"amount": 1000, "payment_method": "bank_transfer", "payment_details": details})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(http.MethodPost, "/api/referrals/request-withdrawal", token, gin.H{"amount": 50000, "payment_method": "bank_transfer", "payment_details": details})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(http.MethodPost, "/api/referrals/request-withdrawal", token, gin.H{"amount": 8000, "payment_method": "bank_transfer", "payment_details": details})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	requestID := decode(t, w)["withdrawal"].(map[string]interface{})["id"].(string)

	w = e.do(http.MethodPost, "/api/admin/withdrawals/"+requestID+"/process", e.admin, gin.H{"decision": "reject", "notes": "wrong account"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 10000, testutil.Earnings(t, e.db, u.ID).AvailableBalance)

	w = e.do(http.MethodGet, "/api/referrals/withdrawals", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["withdrawals"], 1)
}
