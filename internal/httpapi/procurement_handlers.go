package httpapi

import (
	"errors"
	"net/http"

	"grocerp/backend/internal/domain"
)

func (a *API) handleSuppliers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req domain.SupplierCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		supplier, err := a.service.CreateSupplier(r.Context(), req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"supplier": supplier})
	case http.MethodGet:
		suppliers, err := a.service.ListSuppliers(r.Context())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"suppliers": suppliers})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handlePurchaseOrders(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		query := r.URL.Query()
		resp, err := a.service.ListPurchaseOrders(r.Context(), domain.PurchaseOrderFilter{
			BranchID: query.Get("branch_id"),
			Status:   query.Get("status"),
			Source:   query.Get("source"),
			Limit:    parsePositiveLimit(query.Get("limit"), 100, 500),
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	case http.MethodPost:
		var req domain.PurchaseOrderCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		resp, err := a.service.CreatePurchaseOrder(r.Context(), req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, resp)
	default:
		writeMethodNotAllowed(w)
	}
}

// handlePurchaseOrderActions serves /api/v1/purchase-orders/{id} and its
// route, cancel, close, entries and reconcile sub-resources.
func (a *API) handlePurchaseOrderActions(w http.ResponseWriter, r *http.Request) {
	segments := pathSegments(r.URL.Path, "/api/v1/purchase-orders/")
	if len(segments) == 0 || len(segments) > 2 {
		writeError(w, http.StatusBadRequest, errors.New("invalid purchase order action path"))
		return
	}
	purchaseOrderID := segments[0]
	action := ""
	if len(segments) == 2 {
		action = segments[1]
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		resp, err := a.service.GetPurchaseOrder(r.Context(), purchaseOrderID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	case action == "route" && r.Method == http.MethodPost:
		var req domain.PurchaseOrderRouteRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		resp, err := a.service.RoutePurchaseOrder(r.Context(), purchaseOrderID, req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	case (action == "cancel" || action == "close") && r.Method == http.MethodPost:
		var req domain.PurchaseOrderStatusRequest
		if r.ContentLength != 0 {
			if err := decodeJSON(r, &req); err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
		}
		transition := a.service.CancelPurchaseOrder
		if action == "close" {
			transition = a.service.ClosePurchaseOrder
		}
		resp, err := transition(r.Context(), purchaseOrderID, req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	case action == "entries" && r.Method == http.MethodGet:
		resp, err := a.service.ListPurchaseEntries(r.Context(), purchaseOrderID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	case action == "entries" && r.Method == http.MethodPost:
		var req domain.PurchaseEntryRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		resp, err := a.service.RecordPurchaseEntry(r.Context(), purchaseOrderID, req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		status := http.StatusCreated
		if resp.Duplicate {
			status = http.StatusOK
		}
		writeJSON(w, status, resp)
	case action == "reconcile" && r.Method == http.MethodGet:
		resp, err := a.service.ReconcilePurchaseOrder(r.Context(), purchaseOrderID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	case action == "" || action == "route" || action == "cancel" || action == "close" || action == "entries" || action == "reconcile":
		writeMethodNotAllowed(w)
	default:
		writeError(w, http.StatusNotFound, errors.New("unknown purchase order action"))
	}
}
