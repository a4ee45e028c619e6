package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"salesledger/backend/internal/domain"
	"salesledger/backend/internal/service"
)

func (a *API) handleListProducts(w http.ResponseWriter, r *http.Request) {
	includeInactive, err := parseBoolParam(r.URL.Query().Get("includeInactive"), "includeInactive")
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	products, err := a.service.ListProducts(r.Context(), includeInactive)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (a *API) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var req domain.ProductCreateRequest
	if err := a.decodeAndValidate(r, &req); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	product, err := a.service.CreateProduct(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"product": product})
}

func (a *API) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	product, err := a.service.GetProduct(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product": product})
}

func (a *API) handleUpdateProduct(w http.ResponseWriter, r *http.Request) {
	var req domain.ProductUpdateRequest
	if err := a.decodeAndValidate(r, &req); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	product, err := a.service.UpdateProduct(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product": product})
}

func (a *API) handlePriceHistory(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "id")
	history, err := a.service.ListPriceHistory(r.Context(), productID)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"productId": productID, "history": history})
}

func (a *API) handleListDeliveries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	deliveries, err := a.service.ListDeliveries(r.Context(), q.Get("productId"), parsePositiveLimit(q.Get("limit"), 100, 500))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deliveries": deliveries})
}

func (a *API) handleRecordDelivery(w http.ResponseWriter, r *http.Request) {
	var req domain.DeliveryRequest
	if err := a.decodeAndValidate(r, &req); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	entry, err := a.service.RecordDelivery(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"delivery": entry})
}

func (a *API) handleListSales(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	includeVoid, err := parseBoolParam(q.Get("includeVoid"), "includeVoid")
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	offset, err := parseOffset(q.Get("offset"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	resp, err := a.service.ListSales(r.Context(), service.ListSalesQuery{
		StartDate:   q.Get("startDate"),
		EndDate:     q.Get("endDate"),
		IncludeVoid: includeVoid,
		Limit:       parsePositiveLimit(q.Get("limit"), 50, 200),
		Offset:      offset,
	})
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleCreateSale(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateSaleRequest
	if err := a.decodeAndValidate(r, &req); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	sale, err := a.service.CreateSale(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"sale": sale})
}

func (a *API) handleGetSale(w http.ResponseWriter, r *http.Request) {
	sale, err := a.service.GetSale(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sale": sale})
}

func (a *API) handleVoidSale(w http.ResponseWriter, r *http.Request) {
	var req domain.VoidSaleRequest
	if err := a.decodeAndValidate(r, &req); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	sale, err := a.service.VoidSale(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sale": sale})
}

func (a *API) handleSalesReport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	report, err := a.service.SalesReport(r.Context(), q.Get("startDate"), q.Get("endDate"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}

	switch q.Get("format") {
	case "", "json":
		writeJSON(w, http.StatusOK, report)
	case "csv":
		body, err := salesReportToCSV(report)
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", `attachment; filename="sales-`+report.StartDate+`_`+report.EndDate+`.csv"`)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(body)
	default:
		writeError(w, http.StatusBadRequest, errUnsupportedFormat)
	}
}

func (a *API) handleInventoryReport(w http.ResponseWriter, r *http.Request) {
	report, err := a.service.InventoryReport(r.Context())
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *API) handleTopProducts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	report, err := a.service.TopProducts(r.Context(), q.Get("startDate"), q.Get("endDate"), parsePositiveLimit(q.Get("limit"), 10, 100))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *API) handleRevenueTrends(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	trends, err := a.service.RevenueTrends(r.Context(), q.Get("startDate"), q.Get("endDate"), domain.TrendGranularity(q.Get("groupBy")))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, trends)
}
