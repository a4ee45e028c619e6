package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"salesledger/backend/internal/authz"
	"salesledger/backend/internal/domain"
	"salesledger/backend/internal/observability"
	"salesledger/backend/internal/service"
	"salesledger/backend/internal/store/memory"
)

const testSupervisorCode = "482913"

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()
	return newTestAPIWithOptions(t, Options{AllowedOrigin: "*"})
}

func newTestAPIWithOptions(t *testing.T, opts Options) *API {
	t.Helper()

	repo := memory.New()
	now := time.Now().UTC()
	for _, u := range []struct {
		name string
		role domain.Role
	}{
		{"admin", domain.RoleAdmin},
		{"staff", domain.RoleStaff},
		{"supplier", domain.RoleSupplier},
	} {
		repo.PutUser(domain.UserAccount{
			Username:  u.name,
			Password:  mustHashPassword(t, u.name+"123"),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		})
	}

	supervisor, err := authz.NewSupervisorCode(testSupervisorCode)
	if err != nil {
		t.Fatalf("supervisor code: %v", err)
	}
	svc := service.New(repo, service.Options{Supervisor: supervisor})
	auth := NewAuthManager("test-secret-key-that-is-long-enough", time.Hour, repo)
	return New(svc, auth, opts)
}

// mustHashPassword generates a bcrypt hash of the given password or fails the test.
func mustHashPassword(t *testing.T, plain string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	return string(hash)
}

// tokenFor signs a token directly so tests don't spend login attempts.
func tokenFor(t *testing.T, api *API, username string, role domain.Role) string {
	t.Helper()
	token, err := api.auth.sign(username, role, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func doJSON(t *testing.T, api *API, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch v := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(v))
	default:
		payload, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dest any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(dest); err != nil {
		t.Fatalf("decode body: %v (raw: %s)", err, rec.Body.String())
	}
}

func createProduct(t *testing.T, api *API, name string, stock int) domain.Product {
	t.Helper()
	rec := doJSON(t, api, http.MethodPost, "/api/v1/products", tokenFor(t, api, "admin", domain.RoleAdmin), map[string]any{
		"name":             name,
		"category":         "hand tools",
		"price":            100,
		"markupPercentage": 20,
		"stockQuantity":    stock,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create product: expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var out struct {
		Product domain.Product `json:"product"`
	}
	decodeBody(t, rec, &out)
	return out.Product
}

func productStock(t *testing.T, api *API, id string) int {
	t.Helper()
	rec := doJSON(t, api, http.MethodGet, "/api/v1/products/"+id, tokenFor(t, api, "staff", domain.RoleStaff), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get product: expected 200, got %d", rec.Code)
	}
	var out struct {
		Product domain.Product `json:"product"`
	}
	decodeBody(t, rec, &out)
	return out.Product.StockQuantity
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body map[string]any
	decodeBody(t, rec, &body)
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestHandleLogin(t *testing.T) {
	api := newTestAPI(t)

	rec := doJSON(t, api, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{Username: "staff", Password: "staff123"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var resp domain.LoginResponse
	decodeBody(t, rec, &resp)
	if resp.AccessToken == "" || resp.Role != domain.RoleStaff {
		t.Fatalf("unexpected login response %+v", resp)
	}

	rec = doJSON(t, api, http.MethodGet, "/api/v1/products", resp.AccessToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("issued token should authorize catalog reads, got %d", rec.Code)
	}

	rec = doJSON(t, api, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{Username: "staff", Password: "wrong"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong password, got %d", rec.Code)
	}

	rec = doJSON(t, api, http.MethodPost, "/api/v1/auth/login", "", map[string]string{"username": "staff"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing password, got %d", rec.Code)
	}
}

func TestSaleLifecycle(t *testing.T) {
	api := newTestAPI(t)
	product := createProduct(t, api, "Claw Hammer", 10)
	staff := tokenFor(t, api, "staff", domain.RoleStaff)

	rec := doJSON(t, api, http.MethodPost, "/api/v1/sales", staff, map[string]any{
		"items":         []map[string]any{{"productId": product.ID, "quantity": 3}},
		"paymentMethod": "cash",
		"customer":      map[string]any{"name": "Juan", "email": "juan@example.com", "phone": "09171234567"},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create sale: expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var created struct {
		Sale domain.Sale `json:"sale"`
	}
	decodeBody(t, rec, &created)
	if created.Sale.Total.String() != "360" {
		t.Fatalf("expected total 360, got %s", created.Sale.Total)
	}
	if created.Sale.Cashier != "staff" {
		t.Fatalf("expected cashier staff, got %q", created.Sale.Cashier)
	}
	if got := productStock(t, api, product.ID); got != 7 {
		t.Fatalf("expected stock 7 after sale, got %d", got)
	}

	rec = doJSON(t, api, http.MethodGet, "/api/v1/sales/"+created.Sale.ID, tokenFor(t, api, "supplier", domain.RoleSupplier), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get sale: expected 200, got %d", rec.Code)
	}

	voidPath := "/api/v1/sales/" + created.Sale.ID + "/void"
	rec = doJSON(t, api, http.MethodPost, voidPath, staff, domain.VoidSaleRequest{SupervisorCode: testSupervisorCode, Reason: "customer changed mind"})
	if rec.Code != http.StatusOK {
		t.Fatalf("void: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var voided struct {
		Sale domain.Sale `json:"sale"`
	}
	decodeBody(t, rec, &voided)
	if !voided.Sale.IsVoid || voided.Sale.VoidedBy != "staff" {
		t.Fatalf("expected sale voided by staff, got %+v", voided.Sale)
	}
	if got := productStock(t, api, product.ID); got != 10 {
		t.Fatalf("expected stock restored to 10, got %d", got)
	}

	rec = doJSON(t, api, http.MethodPost, voidPath, staff, domain.VoidSaleRequest{SupervisorCode: testSupervisorCode})
	if rec.Code != http.StatusConflict {
		t.Fatalf("second void: expected 409, got %d", rec.Code)
	}
	if got := productStock(t, api, product.ID); got != 10 {
		t.Fatalf("second void must not touch stock, got %d", got)
	}

	rec = doJSON(t, api, http.MethodGet, "/api/v1/sales?includeVoid=true", staff, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list sales: expected 200, got %d", rec.Code)
	}
	var list domain.SaleListResponse
	decodeBody(t, rec, &list)
	if list.Total != 1 || len(list.Sales) != 1 {
		t.Fatalf("expected the voided sale in the list, got %+v", list)
	}

	rec = doJSON(t, api, http.MethodGet, "/api/v1/sales", staff, nil)
	decodeBody(t, rec, &list)
	if list.Total != 0 {
		t.Fatalf("voided sales are hidden by default, got %d", list.Total)
	}
}

func TestVoidRequiresSupervisorCode(t *testing.T) {
	api := newTestAPI(t)
	product := createProduct(t, api, "Paint Brush", 5)
	staff := tokenFor(t, api, "staff", domain.RoleStaff)

	rec := doJSON(t, api, http.MethodPost, "/api/v1/sales", staff, map[string]any{
		"items":         []map[string]any{{"productId": product.ID, "quantity": 1}},
		"paymentMethod": "card",
	})
	var created struct {
		Sale domain.Sale `json:"sale"`
	}
	decodeBody(t, rec, &created)

	for _, code := range []string{"", "000000"} {
		rec = doJSON(t, api, http.MethodPost, "/api/v1/sales/"+created.Sale.ID+"/void", staff, domain.VoidSaleRequest{SupervisorCode: code})
		if rec.Code != http.StatusForbidden {
			t.Fatalf("code %q: expected 403, got %d", code, rec.Code)
		}
	}
	if got := productStock(t, api, product.ID); got != 4 {
		t.Fatalf("rejected void must not restore stock, got %d", got)
	}
}

func TestCreateSaleInsufficientStockBody(t *testing.T) {
	api := newTestAPI(t)
	product := createProduct(t, api, "Wire Nails", 2)

	rec := doJSON(t, api, http.MethodPost, "/api/v1/sales", tokenFor(t, api, "staff", domain.RoleStaff), map[string]any{
		"items":         []map[string]any{{"productId": product.ID, "quantity": 5}},
		"paymentMethod": "cash",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var body struct {
		ProductID string `json:"productId"`
		Requested int    `json:"requested"`
		Available int    `json:"available"`
		Shortfall int    `json:"shortfall"`
	}
	decodeBody(t, rec, &body)
	if body.ProductID != product.ID || body.Requested != 5 || body.Available != 2 || body.Shortfall != 3 {
		t.Fatalf("unexpected insufficient stock body %+v", body)
	}
	if got := productStock(t, api, product.ID); got != 2 {
		t.Fatalf("failed sale must leave stock at 2, got %d", got)
	}
}

func TestCreateSaleValidation(t *testing.T) {
	api := newTestAPI(t)
	product := createProduct(t, api, "Sandpaper", 20)
	staff := tokenFor(t, api, "staff", domain.RoleStaff)
	line := []map[string]any{{"productId": product.ID, "quantity": 1}}

	cases := []struct {
		name string
		body any
		want int
	}{
		{"no items", map[string]any{"items": []any{}, "paymentMethod": "cash"}, http.StatusBadRequest},
		{"zero quantity", map[string]any{"items": []map[string]any{{"productId": product.ID, "quantity": 0}}, "paymentMethod": "cash"}, http.StatusUnprocessableEntity},
		{"unknown payment", map[string]any{"items": line, "paymentMethod": "barter"}, http.StatusBadRequest},
		{"negative discount", map[string]any{"items": line, "paymentMethod": "cash", "discount": "-5"}, http.StatusUnprocessableEntity},
		{"negative tax", map[string]any{"items": line, "paymentMethod": "cash", "tax": "-1"}, http.StatusUnprocessableEntity},
		{"bad email", map[string]any{"items": line, "paymentMethod": "cash", "customer": map[string]any{"email": "not-an-email"}}, http.StatusBadRequest},
		{"long phone", map[string]any{"items": line, "paymentMethod": "cash", "customer": map[string]any{"phone": "091712345678"}}, http.StatusBadRequest},
		{"unknown field", map[string]any{"items": line, "paymentMethod": "cash", "cashier": "someone"}, http.StatusBadRequest},
		{"malformed json", `{"items":`, http.StatusBadRequest},
		{"unknown product", map[string]any{"items": []map[string]any{{"productId": "missing", "quantity": 1}}, "paymentMethod": "cash"}, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doJSON(t, api, http.MethodPost, "/api/v1/sales", staff, tc.body)
			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d (body: %s)", tc.want, rec.Code, rec.Body.String())
			}
		})
	}
	if got := productStock(t, api, product.ID); got != 20 {
		t.Fatalf("rejected sales must not move stock, got %d", got)
	}
}

func TestRoleEnforcement(t *testing.T) {
	api := newTestAPI(t)
	supplier := tokenFor(t, api, "supplier", domain.RoleSupplier)

	cases := []struct {
		name   string
		method string
		path   string
		token  string
		body   any
		want   int
	}{
		{"no token", http.MethodGet, "/api/v1/products", "", nil, http.StatusUnauthorized},
		{"garbage token", http.MethodGet, "/api/v1/products", "not-a-jwt", nil, http.StatusUnauthorized},
		{"supplier reports", http.MethodGet, "/api/v1/reports/inventory", supplier, nil, http.StatusForbidden},
		{"supplier lists sales", http.MethodGet, "/api/v1/sales", supplier, nil, http.StatusForbidden},
		{"supplier creates product", http.MethodPost, "/api/v1/products", supplier, map[string]any{"name": "Drill"}, http.StatusForbidden},
		{"staff records delivery", http.MethodPost, "/api/v1/deliveries", tokenFor(t, api, "staff", domain.RoleStaff), map[string]any{"productId": "x", "stockQuantity": 1}, http.StatusForbidden},
		{"supplier reads catalog", http.MethodGet, "/api/v1/products", supplier, nil, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doJSON(t, api, tc.method, tc.path, tc.token, tc.body)
			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d (body: %s)", tc.want, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestProductUpdateAndPriceHistory(t *testing.T) {
	api := newTestAPI(t)
	product := createProduct(t, api, "Cement 40kg", 30)
	admin := tokenFor(t, api, "admin", domain.RoleAdmin)

	rec := doJSON(t, api, http.MethodPatch, "/api/v1/products/"+product.ID, admin, map[string]any{"price": "150"})
	if rec.Code != http.StatusOK {
		t.Fatalf("update: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var updated struct {
		Product domain.Product `json:"product"`
	}
	decodeBody(t, rec, &updated)
	if updated.Product.SellingPrice.String() != "180" {
		t.Fatalf("expected selling price 180, got %s", updated.Product.SellingPrice)
	}

	rec = doJSON(t, api, http.MethodPatch, "/api/v1/products/"+product.ID, admin, map[string]any{"price": "abc"})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("non-numeric price: expected 422, got %d", rec.Code)
	}
	rec = doJSON(t, api, http.MethodPatch, "/api/v1/products/"+product.ID, admin, map[string]any{"lowStockThreshold": -1})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("negative threshold: expected 422, got %d", rec.Code)
	}

	rec = doJSON(t, api, http.MethodGet, "/api/v1/products/"+product.ID+"/price-history", admin, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("history: expected 200, got %d", rec.Code)
	}
	var history struct {
		History []domain.PriceSnapshot `json:"history"`
	}
	decodeBody(t, rec, &history)
	if len(history.History) != 2 {
		t.Fatalf("expected 2 price snapshots, got %d", len(history.History))
	}
}

func TestDeliveriesRestock(t *testing.T) {
	api := newTestAPI(t)
	product := createProduct(t, api, "PVC Pipe", 4)
	supplier := tokenFor(t, api, "supplier", domain.RoleSupplier)

	rec := doJSON(t, api, http.MethodPost, "/api/v1/deliveries", supplier, map[string]any{
		"transactionId": "DR-1001",
		"productId":     product.ID,
		"stockQuantity": 6,
		"totalCost":     "450.50",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("delivery: expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	if got := productStock(t, api, product.ID); got != 10 {
		t.Fatalf("expected stock 10 after delivery, got %d", got)
	}

	rec = doJSON(t, api, http.MethodPost, "/api/v1/deliveries", supplier, map[string]any{
		"transactionId": "DR-1001",
		"productId":     product.ID,
		"stockQuantity": 1,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("reused transaction id: expected 400, got %d", rec.Code)
	}

	rec = doJSON(t, api, http.MethodPost, "/api/v1/deliveries", supplier, map[string]any{"productId": product.ID, "stockQuantity": 0})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("zero quantity: expected 422, got %d", rec.Code)
	}

	rec = doJSON(t, api, http.MethodGet, "/api/v1/deliveries?productId="+product.ID, supplier, nil)
	var list struct {
		Deliveries []domain.StockHistory `json:"deliveries"`
	}
	decodeBody(t, rec, &list)
	if len(list.Deliveries) != 1 || list.Deliveries[0].TransactionID != "DR-1001" {
		t.Fatalf("unexpected deliveries %+v", list.Deliveries)
	}
}

func TestReportsOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	product := createProduct(t, api, "Electrical Tape", 10)
	staff := tokenFor(t, api, "staff", domain.RoleStaff)

	rec := doJSON(t, api, http.MethodPost, "/api/v1/sales", staff, map[string]any{
		"items":         []map[string]any{{"productId": product.ID, "quantity": 3}},
		"paymentMethod": "mobile_payment",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create sale: expected 201, got %d", rec.Code)
	}

	today := time.Now().UTC().Format("2006-01-02")
	window := "?startDate=" + today + "&endDate=" + today

	rec = doJSON(t, api, http.MethodGet, "/api/v1/reports/sales"+window, staff, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("sales report: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var sales domain.SalesReport
	decodeBody(t, rec, &sales)
	if sales.TotalSales != 1 || sales.TotalRevenue.String() != "360" || sales.TotalCOGS.String() != "300" {
		t.Fatalf("unexpected sales report %+v", sales)
	}

	rec = doJSON(t, api, http.MethodGet, "/api/v1/reports/sales"+window+"&format=csv", staff, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("csv: expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Fatalf("expected text/csv, got %q", ct)
	}
	csvBody := rec.Body.String()
	for _, want := range []string{"section,key,value", "summary,total_revenue,360.00", "summary,profit,60.00", "daily," + today + "_count,1"} {
		if !strings.Contains(csvBody, want) {
			t.Fatalf("csv missing %q:\n%s", want, csvBody)
		}
	}

	rec = doJSON(t, api, http.MethodGet, "/api/v1/reports/sales"+window+"&format=xml", staff, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown format: expected 400, got %d", rec.Code)
	}
	rec = doJSON(t, api, http.MethodGet, "/api/v1/reports/sales?startDate=2026-13-01&endDate="+today, staff, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad date: expected 400, got %d", rec.Code)
	}

	rec = doJSON(t, api, http.MethodGet, "/api/v1/reports/top-products?limit=5", staff, nil)
	var top domain.TopProductsReport
	decodeBody(t, rec, &top)
	if len(top.Products) != 1 || top.Products[0].TotalQuantity != 3 || top.Limit != 5 {
		t.Fatalf("unexpected top products %+v", top)
	}

	rec = doJSON(t, api, http.MethodGet, "/api/v1/reports/revenue-trends"+window+"&groupBy=month", staff, nil)
	var trends domain.RevenueTrends
	decodeBody(t, rec, &trends)
	if len(trends.Buckets) != 1 || trends.Buckets[0].SaleCount != 1 {
		t.Fatalf("unexpected trends %+v", trends)
	}
	rec = doJSON(t, api, http.MethodGet, "/api/v1/reports/revenue-trends"+window+"&groupBy=year", staff, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad groupBy: expected 400, got %d", rec.Code)
	}

	rec = doJSON(t, api, http.MethodGet, "/api/v1/reports/inventory", staff, nil)
	var inventory domain.InventoryReport
	decodeBody(t, rec, &inventory)
	if inventory.TotalProducts != 1 || inventory.TotalStockValue.String() != "700" {
		t.Fatalf("unexpected inventory report %+v", inventory)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	api := newTestAPIWithOptions(t, Options{AllowedOrigin: "*", Metrics: observability.NewMetrics()})

	doJSON(t, api, http.MethodGet, "/healthz", "", nil)
	rec := doJSON(t, api, http.MethodGet, "/metrics", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `ledger_http_requests_total{code="200",route="/healthz"}`) {
		t.Fatalf("expected request counter for /healthz:\n%s", rec.Body.String())
	}

	bare := newTestAPI(t)
	if rec := doJSON(t, bare, http.MethodGet, "/metrics", "", nil); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("metrics disabled: expected 503, got %d", rec.Code)
	}
}
