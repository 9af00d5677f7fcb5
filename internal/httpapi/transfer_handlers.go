package httpapi

import (
	"errors"
	"net/http"

	"grocerp/backend/internal/domain"
)

func (a *API) handleTransfers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		query := r.URL.Query()
		resp, err := a.service.ListTransfers(r.Context(), domain.TransferFilter{
			BranchID: query.Get("branch_id"),
			Status:   query.Get("status"),
			Limit:    parsePositiveLimit(query.Get("limit"), 100, 500),
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	case http.MethodPost:
		var req domain.TransferCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		resp, err := a.service.CreateTransfer(r.Context(), req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, resp)
	default:
		writeMethodNotAllowed(w)
	}
}

// handleTransferActions serves /api/v1/transfers/{id}, its dispatch, receive
// and cancel actions and /discrepancies/{discrepancy_id}/resolve.
func (a *API) handleTransferActions(w http.ResponseWriter, r *http.Request) {
	segments := pathSegments(r.URL.Path, "/api/v1/transfers/")
	if len(segments) == 0 {
		writeError(w, http.StatusBadRequest, errors.New("transfer id required"))
		return
	}
	transferID := segments[0]

	if len(segments) == 1 {
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w)
			return
		}
		resp, err := a.service.GetTransfer(r.Context(), transferID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}

	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	switch {
	case len(segments) == 2 && segments[1] == "dispatch":
		var req domain.TransferDispatchRequest
		if r.ContentLength != 0 {
			if err := decodeJSON(r, &req); err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
		}
		resp, err := a.service.DispatchTransfer(r.Context(), transferID, req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	case len(segments) == 2 && segments[1] == "receive":
		var req domain.TransferReceiveRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		resp, err := a.service.ReceiveTransfer(r.Context(), transferID, req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	case len(segments) == 2 && segments[1] == "cancel":
		resp, err := a.service.CancelTransfer(r.Context(), transferID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	case len(segments) == 4 && segments[1] == "discrepancies" && segments[3] == "resolve":
		var req domain.DiscrepancyResolveRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		resp, err := a.service.ResolveDiscrepancy(r.Context(), transferID, segments[2], req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	default:
		writeError(w, http.StatusNotFound, errors.New("unknown transfer action"))
	}
}
