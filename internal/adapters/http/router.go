package httpadapter

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ragbridge/pipeline/internal/core/domain"
	"github.com/ragbridge/pipeline/internal/core/ports"
)

type Router struct {
	ingest     ports.DocumentIngestor
	docs       ports.DocumentReader
	advancer   ports.PipelineAdvancer
	controller ports.PipelineController
	vRules     ports.ValidationRuleAdmin
	mRules     ports.MappingRuleAdmin
	queue      ports.QueueAdmin
	logger     *slog.Logger
}

func NewRouter(
	ingest ports.DocumentIngestor,
	docs ports.DocumentReader,
	advancer ports.PipelineAdvancer,
	controller ports.PipelineController,
	vRules ports.ValidationRuleAdmin,
	mRules ports.MappingRuleAdmin,
	queue ports.QueueAdmin,
	logger *slog.Logger,
) *Router {
	return &Router{
		ingest:     ingest,
		docs:       docs,
		advancer:   advancer,
		controller: controller,
		vRules:     vRules,
		mRules:     mRules,
		queue:      queue,
		logger:     logger,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)

	mux.HandleFunc("POST /v1/documents", rt.ingestDocument)
	mux.HandleFunc("GET /v1/documents/{document_id}", rt.getDocument)
	mux.HandleFunc("GET /v1/documents/{document_id}/status", rt.getDocumentStatus)
	mux.HandleFunc("POST /v1/documents/{document_id}/cancel", rt.cancelDocument)
	mux.HandleFunc("POST /v1/documents/{document_id}/resume", rt.resumeDocument)

	mux.HandleFunc("POST /v1/pipeline/callbacks", rt.stageCallback)

	mux.HandleFunc("POST /v1/validation-rules", rt.createValidationRule)
	mux.HandleFunc("GET /v1/validation-rules", rt.listValidationRules)
	mux.HandleFunc("GET /v1/validation-rules/{rule_id}", rt.getValidationRule)
	mux.HandleFunc("PUT /v1/validation-rules/{rule_id}", rt.updateValidationRule)
	mux.HandleFunc("DELETE /v1/validation-rules/{rule_id}", rt.deleteValidationRule)
	mux.HandleFunc("POST /v1/validation-rules/{rule_id}/test", rt.testValidationRule)

	mux.HandleFunc("POST /v1/mapping-rules", rt.createMappingRule)
	mux.HandleFunc("GET /v1/mapping-rules", rt.listMappingRules)
	mux.HandleFunc("GET /v1/mapping-rules/{rule_id}", rt.getMappingRule)
	mux.HandleFunc("PUT /v1/mapping-rules/{rule_id}", rt.updateMappingRule)
	mux.HandleFunc("DELETE /v1/mapping-rules/{rule_id}", rt.deleteMappingRule)
	mux.HandleFunc("POST /v1/mapping-rules/{rule_id}/test", rt.testMappingRule)

	mux.HandleFunc("GET /v1/reprocessing/queue", rt.listQueue)
	mux.HandleFunc("GET /v1/reprocessing/statistics", rt.queueStatistics)
	mux.HandleFunc("POST /v1/reprocessing/queue/{document_id}/retry", rt.retryQueueItem)
	mux.HandleFunc("DELETE /v1/reprocessing/queue/{document_id}", rt.removeQueueItem)

	return requestIDMiddleware(accessLogMiddleware(rt.logger, mux))
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type ingestRequest struct {
	TenantID        string   `json:"tenantId"`
	Name            string   `json:"name"`
	FileType        string   `json:"fileType"`
	SizeBytes       int64    `json:"sizeBytes"`
	Category        string   `json:"category"`
	StorageRef      string   `json:"storageRef"`
	ExpectedFields  []string `json:"expectedFields"`
	ConfidenceScore int      `json:"confidenceScore"`
}

func (rt *Router) ingestDocument(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	doc, err := rt.ingest.Ingest(r.Context(), &domain.Document{
		TenantID:        strings.TrimSpace(req.TenantID),
		Name:            strings.TrimSpace(req.Name),
		FileType:        req.FileType,
		SizeBytes:       req.SizeBytes,
		Category:        req.Category,
		StorageRef:      req.StorageRef,
		ExpectedFields:  req.ExpectedFields,
		ConfidenceScore: req.ConfidenceScore,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, doc)
}

func (rt *Router) getDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := rt.docs.GetByID(r.Context(), r.PathValue("document_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (rt *Router) getDocumentStatus(w http.ResponseWriter, r *http.Request) {
	doc, err := rt.docs.GetByID(r.Context(), r.PathValue("document_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"documentId":       doc.ID,
		"status":           doc.Status,
		"validationErrors": doc.Violations,
	})
}

func (rt *Router) cancelDocument(w http.ResponseWriter, r *http.Request) {
	if err := rt.controller.Cancel(r.Context(), r.PathValue("document_id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (rt *Router) resumeDocument(w http.ResponseWriter, r *http.Request) {
	if err := rt.controller.Resume(r.Context(), r.PathValue("document_id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "resumed"})
}

type stageCallbackRequest struct {
	DocumentID      string             `json:"documentId"`
	Stage           domain.Stage       `json:"stage"`
	Completed       bool               `json:"completed"`
	Progress        int                `json:"progress"`
	Error           string             `json:"error"`
	ExtractedFields map[string]string  `json:"extractedFields"`
	Violations      []domain.Violation `json:"violations"`
}

// stageCallback is the continuation endpoint external stage services
// report into when they finish asynchronously.
func (rt *Router) stageCallback(w http.ResponseWriter, r *http.Request) {
	var req stageCallbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(req.DocumentID) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "documentId is required"})
		return
	}

	err := rt.advancer.Advance(r.Context(), req.DocumentID, domain.StageOutcome{
		Stage:           req.Stage,
		Completed:       req.Completed,
		Progress:        req.Progress,
		Error:           req.Error,
		ExtractedFields: req.ExtractedFields,
		Violations:      req.Violations,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (rt *Router) createValidationRule(w http.ResponseWriter, r *http.Request) {
	var rule domain.ValidationRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if err := rt.vRules.Create(r.Context(), &rule); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

func (rt *Router) listValidationRules(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := requireTenant(w, r)
	if !ok {
		return
	}
	rules, err := rt.vRules.List(r.Context(), tenantID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rules": rules})
}

func (rt *Router) getValidationRule(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := requireTenant(w, r)
	if !ok {
		return
	}
	rule, err := rt.vRules.Get(r.Context(), tenantID, r.PathValue("rule_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (rt *Router) updateValidationRule(w http.ResponseWriter, r *http.Request) {
	var rule domain.ValidationRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	rule.ID = r.PathValue("rule_id")
	if err := rt.vRules.Update(r.Context(), &rule); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (rt *Router) deleteValidationRule(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := requireTenant(w, r)
	if !ok {
		return
	}
	if err := rt.vRules.Delete(r.Context(), tenantID, r.PathValue("rule_id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type ruleTestRequest struct {
	TenantID    string `json:"tenantId"`
	SampleValue string `json:"sampleValue"`
}

func (rt *Router) testValidationRule(w http.ResponseWriter, r *http.Request) {
	var req ruleTestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	verdict, err := rt.vRules.Test(r.Context(), req.TenantID, r.PathValue("rule_id"), req.SampleValue)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, verdict)
}

func (rt *Router) createMappingRule(w http.ResponseWriter, r *http.Request) {
	var rule domain.MappingRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if err := rt.mRules.Create(r.Context(), &rule); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

func (rt *Router) listMappingRules(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := requireTenant(w, r)
	if !ok {
		return
	}
	rules, err := rt.mRules.List(r.Context(), tenantID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rules": rules})
}

func (rt *Router) getMappingRule(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := requireTenant(w, r)
	if !ok {
		return
	}
	rule, err := rt.mRules.Get(r.Context(), tenantID, r.PathValue("rule_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (rt *Router) updateMappingRule(w http.ResponseWriter, r *http.Request) {
	var rule domain.MappingRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	rule.ID = r.PathValue("rule_id")
	if err := rt.mRules.Update(r.Context(), &rule); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (rt *Router) deleteMappingRule(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := requireTenant(w, r)
	if !ok {
		return
	}
	if err := rt.mRules.Delete(r.Context(), tenantID, r.PathValue("rule_id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (rt *Router) testMappingRule(w http.ResponseWriter, r *http.Request) {
	var req ruleTestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	result, err := rt.mRules.Test(r.Context(), req.TenantID, r.PathValue("rule_id"), req.SampleValue)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (rt *Router) listQueue(w http.ResponseWriter, r *http.Request) {
	var filter ports.QueueFilter

	if status := r.URL.Query().Get("status"); status != "" {
		switch domain.QueueStatus(status) {
		case domain.QueuePending, domain.QueueProcessing, domain.QueueFailed, domain.QueueCompleted:
			filter.Status = domain.QueueStatus(status)
		default:
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("unknown status %q", status)})
			return
		}
	}
	if priority := r.URL.Query().Get("priority"); priority != "" {
		parsed, err := domain.ParseQueuePriority(priority)
		if err != nil {
			writeError(w, err)
			return
		}
		filter.Priority = parsed
	}

	items, err := rt.queue.List(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (rt *Router) queueStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := rt.queue.Statistics(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (rt *Router) retryQueueItem(w http.ResponseWriter, r *http.Request) {
	if err := rt.queue.RetryNow(r.Context(), r.PathValue("document_id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "scheduled"})
}

func (rt *Router) removeQueueItem(w http.ResponseWriter, r *http.Request) {
	if err := rt.queue.Remove(r.Context(), r.PathValue("document_id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func requireTenant(w http.ResponseWriter, r *http.Request) (string, bool) {
	tenantID := strings.TrimSpace(r.URL.Query().Get("tenant_id"))
	if tenantID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "tenant_id query parameter is required"})
		return "", false
	}
	return tenantID, true
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
