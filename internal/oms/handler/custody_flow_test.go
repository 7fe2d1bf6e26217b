package handler

import (
	"net/http"
	"testing"
	"time"

	"github.com/jecaicedo27/toppingfrozen-sub006/internal/oms/entity"
	"github.com/jecaicedo27/toppingfrozen-sub006/internal/oms/service"
	"github.com/jecaicedo27/toppingfrozen-sub006/internal/oms/testutil"
)

var otherCourierToken = testutil.GenerateTestToken("courier-002", "Mensajero 2", service.RoleCourier)

// readyOrder creates a local order and packs it to listo_para_entrega.
func readyOrder(t *testing.T, env *testutil.TestEnv) string {
	t.Helper()
	orderID := createLocalOrder(t, env)
	base := "/api/v1/orders/" + orderID
	moveTo(t, env, orderID, "revision_cartera", billingToken)
	moveTo(t, env, orderID, "en_logistica", creditToken)
	moveTo(t, env, orderID, "pendiente_empaque", logisticsToken)
	dataOf(t, env, http.MethodPost, base+"/packaging/begin", nil, packerToken, http.StatusOK)
	for i := 0; i < 2; i++ {
		dataOf(t, env, http.MethodPost, base+"/packaging/scan", map[string]interface{}{"barcode": "7701234"}, packerToken, http.StatusOK)
	}
	dataOf(t, env, http.MethodPost, base+"/packaging/complete", nil, packerToken, http.StatusOK)
	return orderID
}

func countCollections(t *testing.T, env *testutil.TestEnv, orderID string) int64 {
	t.Helper()
	var n int64
	if err := env.DB.Model(&entity.DeliveryCollection{}).Where("order_id = ?", orderID).Count(&n).Error; err != nil {
		t.Fatalf("count collections: %v", err)
	}
	return n
}

func TestDeliveryRequiresCollection(t *testing.T) {
	env, _ := setupOrderTest(t)
	orderID := readyOrder(t, env)
	base := "/api/v1/orders/" + orderID

	dataOf(t, env, http.MethodPost, base+"/courier", map[string]interface{}{"courier_id": "courier-001"}, logisticsToken, http.StatusOK)

	// Another courier can neither dispatch nor deliver someone else's order.
	w := testutil.DoRequest(env.Router, http.MethodPost, base+"/transition", map[string]interface{}{"status": "en_reparto"}, otherCourierToken)
	expectStatus(t, w.Code, http.StatusForbidden, w.Body.String())
	if code := testutil.ParseResponse(w)["code"].(float64); code != 40301 {
		t.Fatalf("expected code 40301, got %v", code)
	}
	w = testutil.DoRequest(env.Router, http.MethodPost, base+"/courier/start", nil, otherCourierToken)
	expectStatus(t, w.Code, http.StatusForbidden, w.Body.String())

	order := dataOf(t, env, http.MethodPost, base+"/courier/start", nil, courierToken, http.StatusOK)
	if order["status"] != "en_reparto" {
		t.Fatalf("expected en_reparto, got %v", order["status"])
	}

	// The bare status change would skip the cash record.
	for _, token := range []string{courierToken, logisticsToken, creditToken, testutil.DefaultTestToken()} {
		w = testutil.DoRequest(env.Router, http.MethodPost, base+"/transition", map[string]interface{}{"status": "entregado_cliente"}, token)
		expectStatus(t, w.Code, http.StatusConflict, w.Body.String())
	}
	w = testutil.DoRequest(env.Router, http.MethodPost, base+"/delivery", map[string]interface{}{"payment_collected": 50000}, otherCourierToken)
	expectStatus(t, w.Code, http.StatusForbidden, w.Body.String())
	if n := countCollections(t, env, orderID); n != 0 {
		t.Fatalf("expected no collection yet, got %d", n)
	}

	order = dataOf(t, env, http.MethodPost, base+"/delivery", map[string]interface{}{"payment_collected": 50000}, courierToken, http.StatusOK)
	if order["status"] != "entregado_cliente" {
		t.Fatalf("expected entregado_cliente, got %v", order["status"])
	}
	if n := countCollections(t, env, orderID); n != 1 {
		t.Fatalf("expected one collection, got %d", n)
	}
}

func TestClosedOrderKeepsMovingForward(t *testing.T) {
	env, _ := setupOrderTest(t)
	orderID := createLocalOrder(t, env)
	base := "/api/v1/orders/" + orderID

	moveTo(t, env, orderID, "revision_cartera", billingToken)
	order := dataOf(t, env, http.MethodPost, base+"/siigo-close", map[string]interface{}{"method": "transferencia"}, creditToken, http.StatusOK)
	if order["siigo_closed"] != true {
		t.Fatalf("expected siigo_closed, got %v", order["siigo_closed"])
	}

	w := testutil.DoRequest(env.Router, http.MethodPost, base+"/transition", map[string]interface{}{"status": "pendiente_por_facturacion"}, creditToken)
	expectStatus(t, w.Code, http.StatusConflict, w.Body.String())

	moveTo(t, env, orderID, "en_logistica", creditToken)
	moveTo(t, env, orderID, "pendiente_empaque", logisticsToken)

	w = testutil.DoRequest(env.Router, http.MethodPost, base+"/cancel", map[string]interface{}{"reason": "cliente desiste"}, logisticsToken)
	expectStatus(t, w.Code, http.StatusConflict, w.Body.String())

	order = dataOf(t, env, http.MethodGet, base, nil, creditToken, http.StatusOK)
	if order["status"] != "pendiente_empaque" {
		t.Fatalf("expected pendiente_empaque, got %v", order["status"])
	}
}

func TestLateCollectionRollsToNextDay(t *testing.T) {
	env, _ := setupOrderTest(t)
	first := readyOrder(t, env)
	second := readyOrder(t, env)
	cash := map[string]interface{}{"payment_collected": 50000, "payment_method": "efectivo"}

	for _, id := range []string{first, second} {
		dataOf(t, env, http.MethodPost, "/api/v1/orders/"+id+"/courier", map[string]interface{}{"courier_id": "courier-001"}, logisticsToken, http.StatusOK)
	}
	dataOf(t, env, http.MethodPost, "/api/v1/orders/"+first+"/delivery", cash, courierToken, http.StatusOK)

	decl := dataOf(t, env, http.MethodPost, "/api/v1/courier/cash/declarations", map[string]interface{}{"amount": 50000}, courierToken, http.StatusCreated)
	dataOf(t, env, http.MethodPost, "/api/v1/courier/cash/declarations/"+decl["id"].(string)+"/accept", nil, creditToken, http.StatusOK)

	// Today is closed, so the second delivery lands on tomorrow.
	dataOf(t, env, http.MethodPost, "/api/v1/orders/"+second+"/delivery", cash, courierToken, http.StatusOK)

	tomorrow := time.Now().AddDate(0, 0, 1).Format("2006-01-02")
	var coll entity.DeliveryCollection
	if err := env.DB.Where("order_id = ?", second).First(&coll).Error; err != nil {
		t.Fatalf("load collection: %v", err)
	}
	if got := coll.CollectionDate.Format("2006-01-02"); got != tomorrow {
		t.Fatalf("expected collection date %s, got %s", tomorrow, got)
	}

	pending := dataOf(t, env, http.MethodGet, "/api/v1/courier/cash/pending?date="+tomorrow, nil, courierToken, http.StatusOK)
	if pending["expected"] != "50000" {
		t.Fatalf("expected 50000 pending tomorrow, got %v", pending["expected"])
	}

	decl = dataOf(t, env, http.MethodPost, "/api/v1/courier/cash/declarations",
		map[string]interface{}{"amount": 50000, "date": tomorrow}, courierToken, http.StatusCreated)
	if decl["status"] != "declared" {
		t.Fatalf("expected declared, got %v", decl["status"])
	}
}
