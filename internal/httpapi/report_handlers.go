package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"grocerp/backend/internal/domain"
	"grocerp/backend/internal/service"
)

func (a *API) handleDailyReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	query := r.URL.Query()
	report, err := a.service.DailyReport(r.Context(), query.Get("branch_id"), query.Get("date"))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	switch strings.ToLower(strings.TrimSpace(query.Get("format"))) {
	case "csv":
		body, err := dailyReportToCSV(report)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeCSV(w, fmt.Sprintf("daily-report-%s-%s.csv", report.BranchID, report.Date), body)
	case "pdf", "html":
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(dailyReportToPrintableHTML(report)))
	default:
		writeJSON(w, http.StatusOK, report)
	}
}

func (a *API) handleLossReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	query := r.URL.Query()
	report, err := a.service.LossReport(r.Context(), query.Get("branch_id"), query.Get("from"), query.Get("to"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if strings.EqualFold(strings.TrimSpace(query.Get("format")), "csv") {
		body, err := lossReportToCSV(report)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeCSV(w, fmt.Sprintf("loss-report-%s-%s.csv", report.From, report.To), body)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *API) handleReconciliationReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	query := r.URL.Query()
	report, err := a.service.PurchaseReconciliationReport(r.Context(), query.Get("branch_id"), query.Get("from"), query.Get("to"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if strings.EqualFold(strings.TrimSpace(query.Get("format")), "csv") {
		body, err := reconciliationToCSV(report)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeCSV(w, fmt.Sprintf("purchase-reconciliation-%s-%s.csv", report.From, report.To), body)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *API) handleStockValuation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	valuation, err := a.service.StockValuation(r.Context(), r.URL.Query().Get("branch_id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, valuation)
}

func (a *API) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	summary, err := a.service.Dashboard(r.Context(), r.URL.Query().Get("branch_id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (a *API) handleNotifications(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	query := r.URL.Query()
	unreadOnly := strings.EqualFold(strings.TrimSpace(query.Get("unread")), "true")
	limit := parsePositiveLimit(query.Get("limit"), 50, 200)
	resp, err := a.service.ListNotifications(r.Context(), unreadOnly, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleNotificationActions serves POST /api/v1/notifications/{id}/read.
func (a *API) handleNotificationActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	segments := pathSegments(r.URL.Path, "/api/v1/notifications/")
	if len(segments) != 2 || segments[1] != "read" {
		writeError(w, http.StatusBadRequest, errors.New("invalid notification action path"))
		return
	}

	if err := a.service.MarkNotificationRead(r.Context(), segments[0]); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	query := r.URL.Query()
	limit := parsePositiveLimit(query.Get("limit"), 100, 500)
	logs, err := a.service.ListAuditLogs(r.Context(), query.Get("branch_id"), query.Get("date"), limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

// handleStaff lists and creates branch accounts. Managers only see their own
// branch and may only add cashiers to it.
func (a *API) handleStaff(w http.ResponseWriter, r *http.Request) {
	actor, _ := service.ActorFromContext(r.Context())

	switch r.Method {
	case http.MethodGet:
		branchID := strings.TrimSpace(r.URL.Query().Get("branch_id"))
		if actor.Role != roleAdmin {
			branchID = actor.BranchID
		}
		writeJSON(w, http.StatusOK, map[string]any{"staff": a.auth.ListStaff(r.Context(), branchID)})
	case http.MethodPost:
		var req domain.StaffCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if actor.Role != roleAdmin {
			role := strings.ToLower(strings.TrimSpace(req.Role))
			if role != "" && role != roleCashier {
				writeError(w, http.StatusForbidden, errors.New("managers can only add cashiers"))
				return
			}
			if branchID := strings.TrimSpace(req.BranchID); branchID != "" && branchID != actor.BranchID {
				writeError(w, http.StatusForbidden, errors.New("forbidden branch"))
				return
			}
			req.Role = roleCashier
			req.BranchID = actor.BranchID
		}

		staff, err := a.auth.CreateStaff(r.Context(), req)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"staff": staff})
	default:
		writeMethodNotAllowed(w)
	}
}
