package handlers_test

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"kirana/internal/handlers"
	"kirana/internal/middleware"
	"kirana/internal/models"
	"kirana/internal/repositories"
	"kirana/internal/services"
	"kirana/pkg/carrier"
	"kirana/pkg/gateway"
	"kirana/pkg/metrics"

	"github.com/gofiber/fiber/v2"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const (
	testGatewaySecret = "test_key_secret"
	adminEmail        = "admin@example.com"
	adminPassword     = "admin-secret"
)

// fakePaymentGateway is an httptest stand-in for the payment provider.
func fakePaymentGateway() *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/orders", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		json.NewEncoder(w).Encode(map[string]any{
			"id":       "order_IT1",
			"amount":   body["amount"],
			"currency": body["currency"],
			"status":   "created",
		})
	})
	mux.HandleFunc("/v1/payments/", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		json.NewEncoder(w).Encode(map[string]any{
			"id":     "rfnd_1",
			"amount": body["amount"],
			"status": "pending",
		})
	})
	return httptest.NewServer(mux)
}

// fakeShippingCarrier is an httptest stand-in for the carrier API.
func fakeShippingCarrier() *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/external/auth/login", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"token": "tok-1"})
	})
	mux.HandleFunc("/v1/external/orders/create/adhoc", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"order_id": "CO-1", "shipment_id": "SHIP-1"})
	})
	mux.HandleFunc("/v1/external/courier/assign/awb", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"response": map[string]any{
				"data": map[string]string{"awb_code": "AWB123", "courier_name": "FastShip"},
			},
		})
	})
	mux.HandleFunc("/v1/external/courier/generate/pickup", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"pickup_status": 1})
	})
	mux.HandleFunc("/v1/external/orders/cancel", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"status": 200})
	})
	mux.HandleFunc("/v1/external/courier/track/awb/", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"current_status": "In Transit"})
	})
	return httptest.NewServer(mux)
}

// setupApp wires the full HTTP surface against in-memory SQLite and fake
// gateway/carrier servers. carrierEnabled=false leaves the carrier client
// without credentials so shipment provisioning is skipped.
func setupApp(t *testing.T, carrierEnabled bool) *fiber.App {
	t.Helper()

	viper.SetDefault("JWT_SECRET", "test_jwt_secret")
	viper.AutomaticEnv()
	jwtSecret := viper.GetString("JWT_SECRET")

	// One in-memory database per test: waybills and payment ids repeat across
	// scenarios and must not collide through a shared store.
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Order{}, &models.Return{}, &models.Product{}, &models.User{}))

	gwSrv := fakePaymentGateway()
	t.Cleanup(gwSrv.Close)
	carrierSrv := fakeShippingCarrier()
	t.Cleanup(carrierSrv.Close)

	gatewayClient := gateway.NewClient(gateway.Config{
		BaseURL:   gwSrv.URL,
		KeyID:     "test_key_id",
		KeySecret: testGatewaySecret,
	})
	carrierCfg := carrier.Config{BaseURL: carrierSrv.URL, PickupLocation: "warehouse-blr"}
	if carrierEnabled {
		carrierCfg.Email = "ops@example.com"
		carrierCfg.Password = "hunter2"
	}
	carrierClient := carrier.NewClient(carrierCfg, nil)

	orderRepo := repositories.NewGORMOrderRepository(db)
	returnRepo := repositories.NewGORMReturnRepository(db)
	productRepo := repositories.NewGORMProductRepository(db)
	userRepo := repositories.NewGORMUserRepository(db)

	m := metrics.New()
	shippingService := services.NewShippingService(orderRepo, carrierClient, nil, m, nil)
	paymentService := services.NewPaymentService(orderRepo, gatewayClient, shippingService, nil, nil)
	orderService := services.NewOrderService(orderRepo, returnRepo, carrierClient, gatewayClient, nil, m, nil)
	productService := services.NewProductService(productRepo)
	authService := services.NewAuthService(userRepo, jwtSecret, nil)

	adminHash, err := bcrypt.GenerateFromPassword([]byte(adminPassword), bcrypt.DefaultCost)
	require.NoError(t, err)
	require.NoError(t, authService.EnsureAdmin(adminEmail, string(adminHash)))

	app := fiber.New()
	apiV1 := app.Group("/api/v1")

	handlers.NewAuthHandler(authService, nil).RegisterRoutes(apiV1)
	handlers.NewShipmentHandler(shippingService, nil).RegisterRoutes(apiV1)

	protected := apiV1.Group("", middleware.AuthRequired(authService))
	adminOnly := middleware.AdminRequired()
	handlers.NewPaymentHandler(paymentService, nil).RegisterRoutes(protected)
	handlers.NewOrderHandler(orderService, shippingService, nil).RegisterRoutes(protected, adminOnly)
	handlers.NewProductHandler(productService).RegisterRoutes(protected, adminOnly)

	return app
}

// TestMain suppresses logging during tests for cleaner output.
func TestMain(m *testing.M) {
	log.SetOutput(io.Discard)
	os.Exit(m.Run())
}

func doJSON(t *testing.T, app *fiber.App, method, path, token string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

// registerAndLogin creates a fresh customer account and returns its token.
func registerAndLogin(t *testing.T, app *fiber.App, username string) string {
	t.Helper()
	resp := doJSON(t, app, http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"username": username,
		"email":    username + "@example.com",
		"password": "password123",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()
	return login(t, app, username, "password123")
}

func login(t *testing.T, app *fiber.App, username, password string) string {
	t.Helper()
	resp := doJSON(t, app, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"username": username,
		"password": password,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]string
	decodeBody(t, resp, &body)
	require.NotEmpty(t, body["token"])
	return body["token"]
}

// orderPayload is a minimal valid checkout body.
func orderPayload() map[string]any {
	return map[string]any{
		"items": []map[string]any{
			{"product_id": "prod-1", "name": "Laptop", "quantity": 1, "unit_price_minor": 299900},
		},
		"address": map[string]any{
			"name":        "Asha Rao",
			"phone":       "9876543210",
			"street":      "12 MG Road",
			"city":        "Bengaluru",
			"state":       "Karnataka",
			"postal_code": "560001",
		},
		"amount_minor": 299900,
		"currency":     "INR",
	}
}

func fetchOrder(t *testing.T, app *fiber.App, token, orderID string) *models.Order {
	t.Helper()
	resp := doJSON(t, app, http.MethodGet, "/api/v1/orders/"+orderID, token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var order models.Order
	decodeBody(t, resp, &order)
	return &order
}

// waitForStatus polls the order endpoint until provisioning lands the order in
// the wanted status.
func waitForStatus(t *testing.T, app *fiber.App, token, orderID string, want models.OrderStatus) *models.Order {
	t.Helper()
	assert.Eventually(t, func() bool {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/"+orderID, nil)
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err := app.Test(req, -1)
		if err != nil || resp.StatusCode != http.StatusOK {
			return false
		}
		var order models.Order
		err = json.NewDecoder(resp.Body).Decode(&order)
		resp.Body.Close()
		return err == nil && order.Status == want
	}, 5*time.Second, 50*time.Millisecond, "order %s never reached %s", orderID, want)
	return fetchOrder(t, app, token, orderID)
}

func signPayment(gatewayOrderID, paymentID string) string {
	mac := hmac.New(sha256.New, []byte(testGatewaySecret))
	mac.Write([]byte(gatewayOrderID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

func TestCODCheckoutProvisionsShipment(t *testing.T) {
	app := setupApp(t, true)
	token := registerAndLogin(t, app, "cod-buyer")

	resp := doJSON(t, app, http.MethodPost, "/api/v1/payments/cod", token, orderPayload())
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var placed map[string]string
	decodeBody(t, resp, &placed)
	require.NotEmpty(t, placed["orderId"])

	order := waitForStatus(t, app, token, placed["orderId"], models.StatusShipmentConfirmed)
	assert.Equal(t, "AWB123", order.WaybillCode)
	assert.Equal(t, "CO-1", order.CarrierOrderID)
	assert.Equal(t, "FastShip", order.CarrierName)
	assert.Equal(t, models.PaymentCOD, order.PaymentMethod)
	assert.Equal(t, models.PaymentStatusPending, order.PaymentStatus)
}

func TestVerifyPaymentPlacesOrderOnce(t *testing.T) {
	app := setupApp(t, true)
	token := registerAndLogin(t, app, "online-buyer")

	verifyBody := map[string]any{
		"gateway_order_id": "order_VRF",
		"payment_id":       "pay_VRF",
		"signature":        signPayment("order_VRF", "pay_VRF"),
		"order":            orderPayload(),
	}

	resp := doJSON(t, app, http.MethodPost, "/api/v1/payments/verify", token, verifyBody)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var first map[string]string
	decodeBody(t, resp, &first)
	require.NotEmpty(t, first["orderId"])

	order := fetchOrder(t, app, token, first["orderId"])
	assert.Equal(t, models.StatusPaymentConfirmed, order.Status)
	assert.Equal(t, models.PaymentStatusPaid, order.PaymentStatus)

	// A redelivered callback must land on the same order.
	resp = doJSON(t, app, http.MethodPost, "/api/v1/payments/verify", token, verifyBody)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var second map[string]string
	decodeBody(t, resp, &second)
	assert.Equal(t, first["orderId"], second["orderId"])
}

func TestVerifyPaymentRejectsBadSignature(t *testing.T) {
	app := setupApp(t, true)
	token := registerAndLogin(t, app, "forger")

	resp := doJSON(t, app, http.MethodPost, "/api/v1/payments/verify", token, map[string]any{
		"gateway_order_id": "order_BAD",
		"payment_id":       "pay_BAD",
		"signature":        "deadbeef",
		"order":            orderPayload(),
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestWebhookAdvancesOrderAndBlocksLateCancellation(t *testing.T) {
	app := setupApp(t, true)
	token := registerAndLogin(t, app, "webhook-buyer")

	resp := doJSON(t, app, http.MethodPost, "/api/v1/payments/cod", token, orderPayload())
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var placed map[string]string
	decodeBody(t, resp, &placed)

	waitForStatus(t, app, token, placed["orderId"], models.StatusShipmentConfirmed)

	resp = doJSON(t, app, http.MethodPost, "/api/v1/shipments/webhook", "", map[string]string{
		"awb":            "AWB123",
		"current_status": "Shipped",
		"remark":         "left origin facility",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	order := waitForStatus(t, app, token, placed["orderId"], models.StatusShipped)
	assert.Equal(t, models.StatusShipped, order.Status)

	// Past the point of no return: the carrier has the parcel.
	resp = doJSON(t, app, http.MethodPost, "/api/v1/orders/"+placed["orderId"]+"/cancel", token, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()
}

func TestWebhookForUnknownShipmentIsAcknowledged(t *testing.T) {
	app := setupApp(t, true)

	resp := doJSON(t, app, http.MethodPost, "/api/v1/shipments/webhook", "", map[string]string{
		"awb":            "AWB-NOBODY",
		"current_status": "Delivered",
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func TestCancelPaidOrderRefunds(t *testing.T) {
	app := setupApp(t, true)
	token := registerAndLogin(t, app, "refund-buyer")

	resp := doJSON(t, app, http.MethodPost, "/api/v1/payments/verify", token, map[string]any{
		"gateway_order_id": "order_CXL",
		"payment_id":       "pay_CXL",
		"signature":        signPayment("order_CXL", "pay_CXL"),
		"order":            orderPayload(),
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var placed map[string]string
	decodeBody(t, resp, &placed)

	// Let provisioning finish so the carrier cancel path is exercised too.
	waitForStatus(t, app, token, placed["orderId"], models.StatusShipmentConfirmed)

	resp = doJSON(t, app, http.MethodPost, "/api/v1/orders/"+placed["orderId"]+"/cancel", token, map[string]string{
		"reason": "changed my mind",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var summary services.CancellationSummary
	decodeBody(t, resp, &summary)
	assert.True(t, summary.CarrierNotified)
	assert.True(t, summary.Refund.Initiated)
	assert.Equal(t, "rfnd_1", summary.Refund.RefundID)

	order := fetchOrder(t, app, token, placed["orderId"])
	assert.Equal(t, models.StatusCancelled, order.Status)
	assert.Equal(t, "changed my mind", order.CancelReason)
}

func TestTrackingRequiresWaybill(t *testing.T) {
	app := setupApp(t, false)
	token := registerAndLogin(t, app, "unshipped-buyer")

	resp := doJSON(t, app, http.MethodPost, "/api/v1/payments/cod", token, orderPayload())
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var placed map[string]string
	decodeBody(t, resp, &placed)

	// Carrier integration is disabled here, so no waybill ever gets assigned.
	resp = doJSON(t, app, http.MethodGet, "/api/v1/orders/"+placed["orderId"]+"/tracking", token, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestTrackingProxiesCarrierPayload(t *testing.T) {
	app := setupApp(t, true)
	token := registerAndLogin(t, app, "tracking-buyer")

	resp := doJSON(t, app, http.MethodPost, "/api/v1/payments/cod", token, orderPayload())
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var placed map[string]string
	decodeBody(t, resp, &placed)

	waitForStatus(t, app, token, placed["orderId"], models.StatusShipmentConfirmed)

	resp = doJSON(t, app, http.MethodGet, "/api/v1/orders/"+placed["orderId"]+"/tracking", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var tracking map[string]string
	decodeBody(t, resp, &tracking)
	assert.Equal(t, "In Transit", tracking["current_status"])
}

func TestAdminStatusOverride(t *testing.T) {
	app := setupApp(t, false)
	customerToken := registerAndLogin(t, app, "plain-customer")
	adminToken := login(t, app, adminEmail, adminPassword)

	resp := doJSON(t, app, http.MethodPost, "/api/v1/payments/cod", customerToken, orderPayload())
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var placed map[string]string
	decodeBody(t, resp, &placed)

	// Customers cannot reach the override.
	resp = doJSON(t, app, http.MethodPatch, "/api/v1/orders/"+placed["orderId"]+"/status", customerToken, map[string]string{
		"status": "delivered",
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, app, http.MethodPatch, "/api/v1/orders/"+placed["orderId"]+"/status", adminToken, map[string]string{
		"status": "delivered",
		"note":   "confirmed by support call",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	order := fetchOrder(t, app, customerToken, placed["orderId"])
	assert.Equal(t, models.StatusDelivered, order.Status)
}

func TestReturnFlow(t *testing.T) {
	app := setupApp(t, false)
	customerToken := registerAndLogin(t, app, "returning-customer")
	adminToken := login(t, app, adminEmail, adminPassword)

	resp := doJSON(t, app, http.MethodPost, "/api/v1/payments/cod", customerToken, orderPayload())
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var placed map[string]string
	decodeBody(t, resp, &placed)

	// Returns only open once the order has shipped.
	resp = doJSON(t, app, http.MethodPost, "/api/v1/orders/"+placed["orderId"]+"/return", customerToken, map[string]string{
		"reason": "wrong colour",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, app, http.MethodPatch, "/api/v1/orders/"+placed["orderId"]+"/status", adminToken, map[string]string{
		"status": "delivered",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, app, http.MethodPost, "/api/v1/orders/"+placed["orderId"]+"/return", customerToken, map[string]string{
		"reason": "wrong colour",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var ret models.Return
	decodeBody(t, resp, &ret)
	require.NotEmpty(t, ret.ID)

	resp = doJSON(t, app, http.MethodPatch, "/api/v1/returns/"+ret.ID, adminToken, map[string]bool{
		"approve": true,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var resolved models.Return
	decodeBody(t, resp, &resolved)
	assert.Equal(t, models.ReturnApproved, resolved.Status)

	order := fetchOrder(t, app, customerToken, placed["orderId"])
	assert.Equal(t, models.StatusReturnInitiated, order.Status)
}

func TestListOrdersScopedToUser(t *testing.T) {
	app := setupApp(t, false)
	aliceToken := registerAndLogin(t, app, "lister-alice")
	bobToken := registerAndLogin(t, app, "lister-bob")

	resp := doJSON(t, app, http.MethodPost, "/api/v1/payments/cod", aliceToken, orderPayload())
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, app, http.MethodGet, "/api/v1/orders", aliceToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var aliceOrders []models.Order
	decodeBody(t, resp, &aliceOrders)
	assert.Len(t, aliceOrders, 1)

	resp = doJSON(t, app, http.MethodGet, "/api/v1/orders", bobToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var bobOrders []models.Order
	decodeBody(t, resp, &bobOrders)
	assert.Empty(t, bobOrders)
}

func TestOrderEndpointsRequireAuth(t *testing.T) {
	app := setupApp(t, false)

	resp := doJSON(t, app, http.MethodGet, "/api/v1/orders", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, app, http.MethodPost, "/api/v1/payments/cod", "", orderPayload())
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	// The carrier webhook stays public.
	resp = doJSON(t, app, http.MethodPost, "/api/v1/shipments/webhook", "", map[string]string{
		"awb": "AWB-X", "current_status": "Shipped",
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}
