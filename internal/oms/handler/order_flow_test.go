package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/jecaicedo27/toppingfrozen-sub006/internal/oms/repository"
	"github.com/jecaicedo27/toppingfrozen-sub006/internal/oms/service"
	"github.com/jecaicedo27/toppingfrozen-sub006/internal/oms/sse"
	"github.com/jecaicedo27/toppingfrozen-sub006/internal/oms/testutil"
	"go.uber.org/zap"
)

const testWebhookToken = "siigo-hook-secret"

type recordingQueue struct {
	mu  sync.Mutex
	ids []string
}

func (q *recordingQueue) Enqueue(externalID, trigger string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ids = append(q.ids, externalID+":"+trigger)
	return true
}

func setupOrderTest(t *testing.T) (*testutil.TestEnv, *recordingQueue) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	if err := InitValidator(); err != nil {
		t.Fatalf("init validator: %v", err)
	}

	svc := service.NewServices(service.Deps{
		DB:     db,
		Repos:  repository.NewRepositories(db),
		Policy: service.DefaultPolicy(),
		Logger: zap.NewNop(),
	})
	queue := &recordingQueue{}
	h := NewHandlers(svc, sse.NewHub(zap.NewNop()), queue, zap.NewNop())

	router := testutil.SetupRouter()
	RegisterRoutes(router, h, RouteConfig{JWTSecret: testutil.JWTSecret, WebhookToken: testWebhookToken})

	return &testutil.TestEnv{DB: db, Router: router, T: t}, queue
}

var (
	billingToken   = testutil.GenerateTestToken("billing-001", "Facturación", service.RoleBilling)
	creditToken    = testutil.GenerateTestToken("credit-001", "Cartera", service.RoleCredit)
	logisticsToken = testutil.GenerateTestToken("logistics-001", "Logística", service.RoleLogistics)
	packerToken    = testutil.GenerateTestToken("packer-001", "Empaque", service.RolePacker)
	courierToken   = testutil.GenerateTestToken("courier-001", "Mensajero", service.RoleCourier)
)

func expectStatus(t *testing.T, got, want int, body string) {
	t.Helper()
	if got != want {
		t.Fatalf("expected %d, got %d: %s", want, got, body)
	}
}

func dataOf(t *testing.T, env *testutil.TestEnv, method, path string, body interface{}, token string, want int) map[string]interface{} {
	t.Helper()
	w := testutil.DoRequest(env.Router, method, path, body, token)
	expectStatus(t, w.Code, want, w.Body.String())
	resp := testutil.ParseResponse(w)
	data, _ := resp["data"].(map[string]interface{})
	return data
}

func createLocalOrder(t *testing.T, env *testutil.TestEnv) string {
	t.Helper()
	data := dataOf(t, env, http.MethodPost, "/api/v1/orders", map[string]interface{}{
		"customer_name":   "Heladería Luna",
		"customer_phone":  "3001234567",
		"delivery_method": "mensajeria_local",
		"payment_method":  "efectivo",
		"items": []map[string]interface{}{
			{"name": "Sirope fresa 1L", "barcode": "7701234,0", "quantity": 2, "unit_price": 25000},
		},
	}, billingToken, http.StatusCreated)
	if data["status"] != "pendiente_por_facturacion" {
		t.Fatalf("expected pendiente_por_facturacion, got %v", data["status"])
	}
	if data["total_amount"] != "50000" {
		t.Fatalf("expected total 50000, got %v", data["total_amount"])
	}
	return data["id"].(string)
}

func moveTo(t *testing.T, env *testutil.TestEnv, orderID, status, token string) {
	t.Helper()
	data := dataOf(t, env, http.MethodPost, "/api/v1/orders/"+orderID+"/transition",
		map[string]interface{}{"status": status}, token, http.StatusOK)
	if data["status"] != status {
		t.Fatalf("expected %s, got %v", status, data["status"])
	}
}

// TestOrderFlow walks a local cash order from invoicing to a closed deposit.
func TestOrderFlow(t *testing.T) {
	env, _ := setupOrderTest(t)
	orderID := createLocalOrder(t, env)
	base := "/api/v1/orders/" + orderID

	moveTo(t, env, orderID, "revision_cartera", billingToken)
	moveTo(t, env, orderID, "en_logistica", creditToken)
	moveTo(t, env, orderID, "pendiente_empaque", logisticsToken)

	// Packaging
	progress := dataOf(t, env, http.MethodPost, base+"/packaging/begin", nil, packerToken, http.StatusOK)
	if progress["total_items"].(float64) != 1 {
		t.Fatalf("expected 1 checklist item, got %v", progress["total_items"])
	}

	w := testutil.DoRequest(env.Router, http.MethodPost, base+"/packaging/complete", nil, packerToken)
	expectStatus(t, w.Code, http.StatusUnprocessableEntity, w.Body.String())
	if code := testutil.ParseResponse(w)["code"].(float64); code != 42200 {
		t.Fatalf("expected code 42200, got %v", code)
	}

	w = testutil.DoRequest(env.Router, http.MethodPost, base+"/packaging/scan", map[string]interface{}{"barcode": "9999"}, packerToken)
	expectStatus(t, w.Code, http.StatusBadRequest, w.Body.String())

	for i := 0; i < 3; i++ {
		item := dataOf(t, env, http.MethodPost, base+"/packaging/scan", map[string]interface{}{"barcode": " 7701234 "}, packerToken, http.StatusOK)
		want := float64(i + 1)
		if want > 2 {
			want = 2
		}
		if item["scanned_count"].(float64) != want {
			t.Fatalf("scan %d: expected count %v, got %v", i+1, want, item["scanned_count"])
		}
	}

	order := dataOf(t, env, http.MethodPost, base+"/packaging/complete", nil, packerToken, http.StatusOK)
	if order["status"] != "listo_para_entrega" || order["packaging_status"] != "completed" {
		t.Fatalf("unexpected order after packaging: %v / %v", order["status"], order["packaging_status"])
	}

	// Delivery
	w = testutil.DoRequest(env.Router, http.MethodPost, base+"/delivery", map[string]interface{}{"payment_collected": 50000}, courierToken)
	expectStatus(t, w.Code, http.StatusForbidden, w.Body.String())

	dataOf(t, env, http.MethodPost, base+"/courier", map[string]interface{}{"courier_id": "courier-001"}, logisticsToken, http.StatusOK)
	order = dataOf(t, env, http.MethodPost, base+"/courier/accept", nil, courierToken, http.StatusOK)
	if order["courier_status"] != "accepted" {
		t.Fatalf("expected accepted, got %v", order["courier_status"])
	}

	delivery := map[string]interface{}{
		"payment_collected":      50000,
		"delivery_fee_collected": 5000,
		"payment_method":         "efectivo",
		"fee_method":             "efectivo",
	}
	order = dataOf(t, env, http.MethodPost, base+"/delivery", delivery, courierToken, http.StatusOK)
	if order["status"] != "entregado_cliente" || order["courier_status"] != "delivered" {
		t.Fatalf("unexpected order after delivery: %v / %v", order["status"], order["courier_status"])
	}

	w = testutil.DoRequest(env.Router, http.MethodPost, base+"/delivery", delivery, courierToken)
	expectStatus(t, w.Code, http.StatusConflict, w.Body.String())

	// Courier cash
	pending := dataOf(t, env, http.MethodGet, "/api/v1/courier/cash/pending", nil, courierToken, http.StatusOK)
	if pending["expected"] != "55000" {
		t.Fatalf("expected 55000 pending, got %v", pending["expected"])
	}

	w = testutil.DoRequest(env.Router, http.MethodPost, "/api/v1/courier/cash/declarations", map[string]interface{}{"amount": 54000}, courierToken)
	expectStatus(t, w.Code, http.StatusUnprocessableEntity, w.Body.String())

	decl := dataOf(t, env, http.MethodPost, "/api/v1/courier/cash/declarations", map[string]interface{}{"amount": 55000}, courierToken, http.StatusCreated)
	if decl["status"] != "declared" {
		t.Fatalf("expected declared, got %v", decl["status"])
	}
	declID := decl["id"].(string)

	w = testutil.DoRequest(env.Router, http.MethodPost, "/api/v1/courier/cash/declarations/"+declID+"/accept", nil, courierToken)
	expectStatus(t, w.Code, http.StatusForbidden, w.Body.String())

	decl = dataOf(t, env, http.MethodPost, "/api/v1/courier/cash/declarations/"+declID+"/accept", nil, creditToken, http.StatusOK)
	if decl["status"] != "accepted" {
		t.Fatalf("expected accepted, got %v", decl["status"])
	}

	w = testutil.DoRequest(env.Router, http.MethodPost, "/api/v1/courier/cash/declarations", map[string]interface{}{"amount": 55000}, courierToken)
	expectStatus(t, w.Code, http.StatusConflict, w.Body.String())

	// Treasury
	deposit := map[string]interface{}{
		"amount":     55000,
		"bank_name":  "Bancolombia",
		"reference":  "CONS-001",
		"cross_refs": []map[string]interface{}{{"order_id": orderID, "assigned_amount": 55000}},
	}
	w = testutil.DoRequest(env.Router, http.MethodPost, "/api/v1/treasury/deposits", deposit, creditToken)
	expectStatus(t, w.Code, http.StatusUnprocessableEntity, w.Body.String())

	deposit["evidence_key"] = "deposits/2026/03/cons-001.jpg"
	deposit["cross_refs"] = []map[string]interface{}{{"order_id": orderID, "assigned_amount": 50000}}
	w = testutil.DoRequest(env.Router, http.MethodPost, "/api/v1/treasury/deposits", deposit, creditToken)
	expectStatus(t, w.Code, http.StatusUnprocessableEntity, w.Body.String())

	deposit["cross_refs"] = []map[string]interface{}{{"order_id": orderID, "assigned_amount": 55000}}
	created := dataOf(t, env, http.MethodPost, "/api/v1/treasury/deposits", deposit, creditToken, http.StatusCreated)
	if created["amount"] != "55000" {
		t.Fatalf("expected deposit of 55000, got %v", created["amount"])
	}

	w = testutil.DoRequest(env.Router, http.MethodPost, "/api/v1/treasury/deposits", deposit, creditToken)
	expectStatus(t, w.Code, http.StatusConflict, w.Body.String())

	balance := dataOf(t, env, http.MethodGet, "/api/v1/treasury/balance", nil, creditToken, http.StatusOK)
	if balance["accepted_declarations"] != "55000" || balance["deposits"] != "55000" || balance["available"] != "0" {
		t.Fatalf("unexpected balance: %v", balance)
	}

	// SIIGO closure of a manual order has nothing to write back.
	order = dataOf(t, env, http.MethodPost, base+"/siigo-close", map[string]interface{}{"method": "efectivo"}, creditToken, http.StatusOK)
	if order["siigo_closed"] != true {
		t.Fatalf("expected siigo_closed, got %v", order["siigo_closed"])
	}
	w = testutil.DoRequest(env.Router, http.MethodPost, base+"/siigo-close", map[string]interface{}{"method": "efectivo"}, creditToken)
	expectStatus(t, w.Code, http.StatusConflict, w.Body.String())

	history := dataOf(t, env, http.MethodGet, base+"/history", nil, creditToken, http.StatusOK)
	if n := len(history["items"].([]interface{})); n != 7 {
		t.Fatalf("expected 7 history rows, got %d", n)
	}
}

func TestTransitionRules(t *testing.T) {
	env, _ := setupOrderTest(t)
	orderID := createLocalOrder(t, env)
	base := "/api/v1/orders/" + orderID

	// Couriers cannot create orders.
	w := testutil.DoRequest(env.Router, http.MethodPost, "/api/v1/orders", map[string]interface{}{}, courierToken)
	expectStatus(t, w.Code, http.StatusForbidden, w.Body.String())

	// Wrong role for the edge.
	w = testutil.DoRequest(env.Router, http.MethodPost, base+"/transition", map[string]interface{}{"status": "revision_cartera"}, packerToken)
	expectStatus(t, w.Code, http.StatusConflict, w.Body.String())

	// Skipping stages.
	w = testutil.DoRequest(env.Router, http.MethodPost, base+"/transition", map[string]interface{}{"status": "en_logistica"}, billingToken)
	expectStatus(t, w.Code, http.StatusConflict, w.Body.String())

	moveTo(t, env, orderID, "revision_cartera", billingToken)
	moveTo(t, env, orderID, "en_logistica", creditToken)

	detail := dataOf(t, env, http.MethodGet, base, nil, logisticsToken, http.StatusOK)
	next := detail["next_statuses"].([]interface{})
	if len(next) != 2 {
		t.Fatalf("expected pendiente_empaque and cancelado, got %v", next)
	}

	// From logistics on a cancellation needs a reason and an acknowledgement.
	w = testutil.DoRequest(env.Router, http.MethodPost, base+"/cancel", map[string]interface{}{}, creditToken)
	expectStatus(t, w.Code, http.StatusConflict, w.Body.String())

	order := dataOf(t, env, http.MethodPost, base+"/cancel", map[string]interface{}{"reason": "cliente desistió"}, creditToken, http.StatusOK)
	if order["status"] != "cancelado" || order["needs_logistics_ack"] != true {
		t.Fatalf("unexpected cancelled order: %v / %v", order["status"], order["needs_logistics_ack"])
	}

	order = dataOf(t, env, http.MethodPost, base+"/cancel/ack", nil, logisticsToken, http.StatusOK)
	if order["needs_logistics_ack"] != false {
		t.Fatalf("expected acknowledgement to clear the flag, got %v", order["needs_logistics_ack"])
	}

	// Terminal.
	w = testutil.DoRequest(env.Router, http.MethodPost, base+"/transition", map[string]interface{}{"status": "pendiente_empaque"}, logisticsToken)
	expectStatus(t, w.Code, http.StatusConflict, w.Body.String())
}

func TestOrderRequiresAuth(t *testing.T) {
	env, _ := setupOrderTest(t)

	w := testutil.DoRequest(env.Router, http.MethodGet, "/api/v1/orders", nil, "")
	expectStatus(t, w.Code, http.StatusUnauthorized, w.Body.String())

	w = testutil.DoRequest(env.Router, http.MethodGet, "/api/v1/orders", nil, "not-a-jwt")
	expectStatus(t, w.Code, http.StatusUnauthorized, w.Body.String())

	noRoles := testutil.GenerateTestToken("nobody", "Sin rol")
	w = testutil.DoRequest(env.Router, http.MethodGet, "/api/v1/orders", nil, noRoles)
	expectStatus(t, w.Code, http.StatusForbidden, w.Body.String())

	w = testutil.DoRequest(env.Router, http.MethodGet, "/api/v1/orders/does-not-exist", nil, testutil.DefaultTestToken())
	expectStatus(t, w.Code, http.StatusNotFound, w.Body.String())
}

func TestOrderCreateValidation(t *testing.T) {
	env, _ := setupOrderTest(t)

	w := testutil.DoRequest(env.Router, http.MethodPost, "/api/v1/orders", map[string]interface{}{
		"customer_name":   "Cliente",
		"delivery_method": "dron",
		"payment_method":  "efectivo",
		"items":           []map[string]interface{}{{"name": "Vasos", "quantity": 1}},
	}, billingToken)
	expectStatus(t, w.Code, http.StatusBadRequest, w.Body.String())
	resp := testutil.ParseResponse(w)
	if resp["code"].(float64) != 40001 {
		t.Fatalf("expected code 40001, got %v", resp["code"])
	}
	fields := resp["data"].(map[string]interface{})
	if _, ok := fields["delivery_method"]; !ok {
		t.Fatalf("expected a delivery_method message, got %v", fields)
	}

	w = testutil.DoRequest(env.Router, http.MethodPost, "/api/v1/orders", map[string]interface{}{
		"customer_name":   "Cliente",
		"delivery_method": "recoge_bodega",
		"payment_method":  "efectivo",
		"items":           []map[string]interface{}{{"name": "Vasos", "quantity": 0}},
	}, billingToken)
	expectStatus(t, w.Code, http.StatusBadRequest, w.Body.String())
}

func TestSiigoWebhook(t *testing.T) {
	env, queue := setupOrderTest(t)

	w := testutil.DoRequest(env.Router, http.MethodPost, "/api/v1/webhooks/siigo", map[string]interface{}{"id": "inv-1"}, "")
	expectStatus(t, w.Code, http.StatusUnauthorized, w.Body.String())

	post := func(body interface{}) int {
		raw, _ := json.Marshal(body)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/siigo", bytes.NewReader(raw))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(SiigoTokenHeader, testWebhookToken)
		rec := httptest.NewRecorder()
		env.Router.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := post(map[string]interface{}{"topic": "public.siigoapi.invoices.create", "data": map[string]string{"id": "inv-1"}}); code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", code)
	}
	if code := post(map[string]interface{}{"topic": "public.siigoapi.invoices.create"}); code != http.StatusBadRequest {
		t.Fatalf("expected 400 without invoice id, got %d", code)
	}
	if len(queue.ids) != 1 || queue.ids[0] != "inv-1:webhook" {
		t.Fatalf("expected inv-1 queued from webhook, got %v", queue.ids)
	}
}
