package httpadapter

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/kirillkom/paperless-ai-queue/internal/config"
	"github.com/kirillkom/paperless-ai-queue/internal/core/domain"
	"github.com/kirillkom/paperless-ai-queue/internal/core/ports"
	"github.com/kirillkom/paperless-ai-queue/internal/observability/metrics"
)

const (
	serviceName  = "api"
	userIDHeader = "X-User-Id"
	maxBodyBytes = 1 << 20
)

type Router struct {
	cfg        config.Config
	queue      ports.QueueService
	analyzer   ports.DocumentAnalyzer
	applier    ports.StoredSuggestionApplier
	automation ports.InstanceAutomation
	search     ports.EntitySearch
	metrics    *metrics.HTTPServerMetrics
}

func NewRouter(
	cfg config.Config,
	queue ports.QueueService,
	analyzer ports.DocumentAnalyzer,
	applier ports.StoredSuggestionApplier,
	automation ports.InstanceAutomation,
	search ports.EntitySearch,
	httpMetrics *metrics.HTTPServerMetrics,
) *Router {
	return &Router{
		cfg:        cfg,
		queue:      queue,
		analyzer:   analyzer,
		applier:    applier,
		automation: automation,
		search:     search,
		metrics:    httpMetrics,
	}
}

func (rt *Router) Handler() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("POST /v1/instances/{instanceID}/queue", rt.enqueue)
	api.HandleFunc("GET /v1/instances/{instanceID}/queue", rt.listQueue)
	api.HandleFunc("GET /v1/instances/{instanceID}/queue/export", rt.exportQueue)
	api.HandleFunc("POST /v1/instances/{instanceID}/queue/bulk/retry", rt.bulkRetry)
	api.HandleFunc("DELETE /v1/instances/{instanceID}/queue/bulk/completed", rt.bulkDeleteCompleted)
	api.HandleFunc("POST /v1/instances/{instanceID}/queue/{itemID}/retry", rt.retryItem)
	api.HandleFunc("DELETE /v1/instances/{instanceID}/queue/{itemID}", rt.deleteItem)
	api.HandleFunc("GET /v1/instances/{instanceID}", rt.getInstance)
	api.HandleFunc("PUT /v1/instances/{instanceID}/automation", rt.updateAutomation)
	api.HandleFunc("POST /v1/documents/{documentID}/analyze", rt.analyzeDocument)
	api.HandleFunc("POST /v1/documents/{documentID}/apply", rt.applySuggestion)
	if rt.search != nil {
		api.Handle(mcpEndpointPath, newMCPHandler(rt.search))
	}

	var guarded http.Handler = api
	guarded = backpressureMiddleware(guarded, rt.cfg.APIMaxInFlight, rt.cfg.APIBackpressureWait, rt.rejected)
	guarded = rateLimitMiddleware(guarded, rt.cfg.APIRateLimitRPS, rt.cfg.APIRateLimitBurst, rt.rejected)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	if rt.metrics != nil {
		mux.Handle("GET /metrics", rt.metrics.Handler())
		guarded = rt.metrics.Middleware(serviceName, guarded)
	}
	mux.Handle("/", guarded)

	return requestIDMiddleware(accessLogMiddleware(mux))
}

func (rt *Router) rejected(reason string) {
	if rt.metrics != nil {
		rt.metrics.RecordRejected(serviceName, reason)
	}
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) enqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	item, err := rt.queue.Enqueue(r.Context(), domain.EnqueueRequest{
		InstanceID:       r.PathValue("instanceID"),
		RemoteDocumentID: req.RemoteDocumentID,
		AIBotID:          req.AIBotID,
		Priority:         req.Priority,
		LocalDocumentID:  req.LocalDocumentID,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

func (rt *Router) listQueue(w http.ResponseWriter, r *http.Request) {
	filter, err := queueFilterFromRequest(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	page, err := rt.queue.List(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toQueueListResponse(page))
}

func (rt *Router) exportQueue(w http.ResponseWriter, r *http.Request) {
	instanceID := r.PathValue("instanceID")
	status := domain.QueueStatus(strings.TrimSpace(r.URL.Query().Get("status")))
	items, err := collectQueueItems(r.Context(), rt.queue, instanceID, status)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var buf bytes.Buffer
	if err := writeQueueWorkbook(&buf, items); err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="queue-%s.xlsx"`, instanceID))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (rt *Router) retryItem(w http.ResponseWriter, r *http.Request) {
	item, err := rt.queue.Retry(r.Context(), r.PathValue("instanceID"), r.PathValue("itemID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (rt *Router) deleteItem(w http.ResponseWriter, r *http.Request) {
	if err := rt.queue.Delete(r.Context(), r.PathValue("instanceID"), r.PathValue("itemID")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (rt *Router) bulkRetry(w http.ResponseWriter, r *http.Request) {
	n, err := rt.queue.BulkRetry(r.Context(), r.PathValue("instanceID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, retriedResponse{RetriedCount: n})
}

func (rt *Router) bulkDeleteCompleted(w http.ResponseWriter, r *http.Request) {
	n, err := rt.queue.BulkDeleteCompleted(r.Context(), r.PathValue("instanceID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, deletedResponse{DeletedCount: n})
}

func (rt *Router) getInstance(w http.ResponseWriter, r *http.Request) {
	instance, err := rt.automation.GetInstance(r.Context(), r.PathValue("instanceID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toInstanceView(instance))
}

func (rt *Router) updateAutomation(w http.ResponseWriter, r *http.Request) {
	var req automationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	instance, err := rt.automation.UpdateAutomation(r.Context(), r.PathValue("instanceID"), domain.AutomationUpdate{
		AutoProcessEnabled: req.AutoProcessEnabled,
		ScanCronExpression: req.ScanCronExpression,
		AutoApply:          req.AutoApply,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toInstanceView(instance))
}

func (rt *Router) analyzeDocument(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	userID := strings.TrimSpace(r.Header.Get(userIDHeader))
	outcome, err := rt.analyzer.Analyze(r.Context(), r.PathValue("documentID"), req.AIBotID, userID)
	if rt.metrics != nil {
		if outcome != nil {
			rt.metrics.RecordAnalysis(serviceName, outcome.AIProvider, outcome.InputTokens, outcome.OutputTokens, err)
		} else {
			rt.metrics.RecordAnalysis(serviceName, "", 0, 0, err)
		}
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAnalyzeResponse(outcome))
}

func (rt *Router) applySuggestion(w http.ResponseWriter, r *http.Request) {
	var req applyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	outcome, err := rt.applier.ApplyStored(r.Context(), r.PathValue("documentID"), strings.TrimSpace(req.Field), req.Value)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if rt.metrics != nil {
		rt.metrics.RecordApply(serviceName, req.Field, outcome.Success)
	}
	if outcome.AppliedFields == nil {
		outcome.AppliedFields = []string{}
	}
	writeJSON(w, http.StatusOK, outcome)
}

func queueFilterFromRequest(r *http.Request) (domain.QueueFilter, error) {
	query := r.URL.Query()
	filter := domain.QueueFilter{
		InstanceID: r.PathValue("instanceID"),
		Status:     domain.QueueStatus(strings.TrimSpace(query.Get("status"))),
	}
	var err error
	if filter.Page, err = optionalInt(query.Get("page")); err != nil {
		return filter, domain.WrapError(domain.ErrInvalidInput, "list queue", fmt.Errorf("page: %w", err))
	}
	if filter.Limit, err = optionalInt(query.Get("limit")); err != nil {
		return filter, domain.WrapError(domain.ErrInvalidInput, "list queue", fmt.Errorf("limit: %w", err))
	}
	return filter, nil
}

func optionalInt(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid json"})
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := mapErrorToHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		slog.Error("http_request_failed",
			"request_id", requestIDFromContext(r.Context()),
			"path", r.URL.Path,
			"status", status,
			"error", err,
		)
	}
	writeJSON(w, status, errorResponse{Error: errorMessage(status, err)})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
