package handler

import (
	"net/http"
	"testing"

	"github.com/jecaicedo27/toppingfrozen-sub006/internal/oms/entity"
	"github.com/jecaicedo27/toppingfrozen-sub006/internal/oms/testutil"
)

func TestAdhocPaymentsAndMovements(t *testing.T) {
	env, _ := setupOrderTest(t)
	adminToken := testutil.DefaultTestToken()

	// Ad-hoc cash starts pending and only counts once accepted.
	p := dataOf(t, env, http.MethodPost, "/api/v1/courier/adhoc",
		map[string]interface{}{"amount": 20000, "description": "abono cliente Luna"}, courierToken, http.StatusCreated)
	if p["status"] != entity.AdhocPending || p["courier_id"] != "courier-001" {
		t.Fatalf("unexpected ad-hoc payment: %v", p)
	}
	paidID := p["id"].(string)

	p = dataOf(t, env, http.MethodPost, "/api/v1/courier/adhoc",
		map[string]interface{}{"amount": 7000, "description": "duplicado"}, courierToken, http.StatusCreated)
	wrongID := p["id"].(string)

	w := testutil.DoRequest(env.Router, http.MethodPost, "/api/v1/courier/adhoc/"+paidID+"/accept", nil, courierToken)
	expectStatus(t, w.Code, http.StatusForbidden, w.Body.String())

	p = dataOf(t, env, http.MethodPost, "/api/v1/courier/adhoc/"+paidID+"/accept", nil, creditToken, http.StatusOK)
	if p["status"] != entity.AdhocAccepted {
		t.Fatalf("expected accepted, got %v", p["status"])
	}
	dataOf(t, env, http.MethodPost, "/api/v1/courier/adhoc/"+paidID+"/accept", nil, creditToken, http.StatusOK)

	w = testutil.DoRequest(env.Router, http.MethodPost, "/api/v1/courier/adhoc/"+paidID+"/reject", nil, creditToken)
	expectStatus(t, w.Code, http.StatusBadRequest, w.Body.String())

	p = dataOf(t, env, http.MethodPost, "/api/v1/courier/adhoc/"+wrongID+"/reject", nil, creditToken, http.StatusOK)
	if p["status"] != entity.AdhocRejected {
		t.Fatalf("expected rejected, got %v", p["status"])
	}

	w = testutil.DoRequest(env.Router, http.MethodPost, "/api/v1/courier/adhoc",
		map[string]interface{}{"amount": -5, "description": "negativo"}, courierToken)
	expectStatus(t, w.Code, http.StatusBadRequest, w.Body.String())

	// Movements
	income := dataOf(t, env, http.MethodPost, "/api/v1/treasury/movements",
		map[string]interface{}{"type": "extra_income", "amount": 10000, "reason_text": "venta mostrador"}, creditToken, http.StatusCreated)
	if income["status"] != entity.MovementPending {
		t.Fatalf("expected pending, got %v", income["status"])
	}
	incomeID := income["id"].(string)
	withdrawal := dataOf(t, env, http.MethodPost, "/api/v1/treasury/movements",
		map[string]interface{}{"type": "withdrawal", "amount": 3000, "reason_text": "peajes"}, creditToken, http.StatusCreated)
	withdrawalID := withdrawal["id"].(string)

	w = testutil.DoRequest(env.Router, http.MethodPost, "/api/v1/treasury/movements",
		map[string]interface{}{"type": "loan", "amount": 1000}, creditToken)
	expectStatus(t, w.Code, http.StatusBadRequest, w.Body.String())

	balance := dataOf(t, env, http.MethodGet, "/api/v1/treasury/balance", nil, creditToken, http.StatusOK)
	if balance["extra_income"] != "0" || balance["available"] != "20000" {
		t.Fatalf("pending movements must not count: %v", balance)
	}

	w = testutil.DoRequest(env.Router, http.MethodPost, "/api/v1/treasury/movements/"+incomeID+"/approve", nil, creditToken)
	expectStatus(t, w.Code, http.StatusForbidden, w.Body.String())

	m := dataOf(t, env, http.MethodPost, "/api/v1/treasury/movements/"+incomeID+"/approve", nil, adminToken, http.StatusOK)
	if m["status"] != entity.MovementApproved {
		t.Fatalf("expected approved, got %v", m["status"])
	}
	dataOf(t, env, http.MethodPost, "/api/v1/treasury/movements/"+withdrawalID+"/approve", nil, adminToken, http.StatusOK)

	w = testutil.DoRequest(env.Router, http.MethodPost, "/api/v1/treasury/movements/"+incomeID+"/reject", nil, adminToken)
	expectStatus(t, w.Code, http.StatusConflict, w.Body.String())
	w = testutil.DoRequest(env.Router, http.MethodDelete, "/api/v1/treasury/movements/"+incomeID, nil, creditToken)
	expectStatus(t, w.Code, http.StatusConflict, w.Body.String())

	draft := dataOf(t, env, http.MethodPost, "/api/v1/treasury/movements",
		map[string]interface{}{"type": "withdrawal", "amount": 500}, creditToken, http.StatusCreated)
	dataOf(t, env, http.MethodDelete, "/api/v1/treasury/movements/"+draft["id"].(string), nil, creditToken, http.StatusOK)

	rejected := dataOf(t, env, http.MethodPost, "/api/v1/treasury/movements",
		map[string]interface{}{"type": "withdrawal", "amount": 900}, creditToken, http.StatusCreated)
	m = dataOf(t, env, http.MethodPost, "/api/v1/treasury/movements/"+rejected["id"].(string)+"/reject", nil, adminToken, http.StatusOK)
	if m["status"] != entity.MovementRejected {
		t.Fatalf("expected rejected, got %v", m["status"])
	}

	balance = dataOf(t, env, http.MethodGet, "/api/v1/treasury/balance", nil, creditToken, http.StatusOK)
	if balance["accepted_adhoc"] != "20000" || balance["extra_income"] != "10000" ||
		balance["withdrawals"] != "3000" || balance["available"] != "27000" {
		t.Fatalf("unexpected balance: %v", balance)
	}

	list := dataOf(t, env, http.MethodGet, "/api/v1/treasury/movements?status=approved", nil, creditToken, http.StatusOK)
	if n := len(list["items"].([]interface{})); n != 2 {
		t.Fatalf("expected 2 approved movements, got %d", n)
	}
}

func TestOperatorQueue(t *testing.T) {
	env, _ := setupOrderTest(t)

	failed := &entity.SyncLog{
		ID:                "log-closure-1",
		ExternalInvoiceID: "inv-77",
		SyncType:          entity.SyncClosure,
		Status:            entity.SyncError,
		ErrorMessage:      "HTTP 500",
	}
	transient := &entity.SyncLog{
		ID:                "log-poll-1",
		ExternalInvoiceID: "inv-78",
		SyncType:          entity.SyncPoll,
		Status:            entity.SyncError,
		Retryable:         true,
	}
	for _, l := range []*entity.SyncLog{failed, transient} {
		if err := env.DB.Create(l).Error; err != nil {
			t.Fatalf("seed sync log: %v", err)
		}
	}

	queue := dataOf(t, env, http.MethodGet, "/api/v1/siigo/operator-queue", nil, creditToken, http.StatusOK)
	items := queue["items"].([]interface{})
	if len(items) != 1 || items[0].(map[string]interface{})["id"] != "log-closure-1" {
		t.Fatalf("expected only the non-retryable failure, got %v", items)
	}

	w := testutil.DoRequest(env.Router, http.MethodGet, "/api/v1/siigo/operator-queue", nil, courierToken)
	expectStatus(t, w.Code, http.StatusForbidden, w.Body.String())

	resolved := dataOf(t, env, http.MethodPost, "/api/v1/siigo/sync-logs/log-closure-1/resolve", nil, billingToken, http.StatusOK)
	if resolved["resolved"] != true || resolved["resolved_by"] != "billing-001" {
		t.Fatalf("unexpected resolved log: %v", resolved)
	}

	queue = dataOf(t, env, http.MethodGet, "/api/v1/siigo/operator-queue", nil, creditToken, http.StatusOK)
	if n := len(queue["items"].([]interface{})); n != 0 {
		t.Fatalf("expected empty queue, got %d", n)
	}

	w = testutil.DoRequest(env.Router, http.MethodPost, "/api/v1/siigo/sync-logs/missing/resolve", nil, billingToken)
	expectStatus(t, w.Code, http.StatusNotFound, w.Body.String())
}

func TestItemsReopen(t *testing.T) {
	env, _ := setupOrderTest(t)
	orderID := createLocalOrder(t, env)
	base := "/api/v1/orders/" + orderID
	syrup := func(qty int) map[string]interface{} {
		return map[string]interface{}{
			"items": []map[string]interface{}{
				{"name": "Sirope fresa 1L", "barcode": "7701234", "quantity": qty, "unit_price": 25000},
			},
		}
	}

	// Free before packaging.
	order := dataOf(t, env, http.MethodPut, base+"/items", syrup(3), billingToken, http.StatusOK)
	if order["total_amount"] != "75000" {
		t.Fatalf("expected total 75000, got %v", order["total_amount"])
	}

	moveTo(t, env, orderID, "revision_cartera", billingToken)
	moveTo(t, env, orderID, "en_logistica", creditToken)
	moveTo(t, env, orderID, "pendiente_empaque", logisticsToken)
	dataOf(t, env, http.MethodPost, base+"/packaging/begin", nil, packerToken, http.StatusOK)
	for i := 0; i < 3; i++ {
		dataOf(t, env, http.MethodPost, base+"/packaging/scan", map[string]interface{}{"barcode": "7701234"}, packerToken, http.StatusOK)
	}
	dataOf(t, env, http.MethodPost, base+"/packaging/complete", nil, packerToken, http.StatusOK)

	// Frozen without an explicit re-open.
	w := testutil.DoRequest(env.Router, http.MethodPut, base+"/items", syrup(2), billingToken)
	expectStatus(t, w.Code, http.StatusConflict, w.Body.String())
	if code := testutil.ParseResponse(w)["code"].(float64); code != 40905 {
		t.Fatalf("expected code 40905, got %v", code)
	}

	req := syrup(2)
	req["reopen"] = true
	order = dataOf(t, env, http.MethodPut, base+"/items", req, billingToken, http.StatusOK)
	if order["status"] != "en_empaque" || order["packaging_status"] != entity.PackagingRequiresReview {
		t.Fatalf("unexpected re-opened order: %v / %v", order["status"], order["packaging_status"])
	}

	progress := dataOf(t, env, http.MethodGet, base+"/packaging", nil, packerToken, http.StatusOK)
	item := progress["items"].([]interface{})[0].(map[string]interface{})
	if item["required_count"].(float64) != 2 || item["scanned_count"].(float64) != 2 || item["is_verified"] != true {
		t.Fatalf("scans should carry over bounded by the new count: %v", item)
	}

	order = dataOf(t, env, http.MethodPost, base+"/packaging/complete", nil, packerToken, http.StatusOK)
	if order["status"] != "listo_para_entrega" {
		t.Fatalf("expected listo_para_entrega, got %v", order["status"])
	}

	// Dispatched orders are frozen for good.
	dataOf(t, env, http.MethodPost, base+"/courier", map[string]interface{}{"courier_id": "courier-001"}, logisticsToken, http.StatusOK)
	dataOf(t, env, http.MethodPost, base+"/courier/start", nil, courierToken, http.StatusOK)
	w = testutil.DoRequest(env.Router, http.MethodPut, base+"/items", req, billingToken)
	expectStatus(t, w.Code, http.StatusConflict, w.Body.String())
}
