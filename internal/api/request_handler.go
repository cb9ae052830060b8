package api

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/shaiso/Conductor/internal/domain"
	"github.com/shaiso/Conductor/internal/repo"
)

// ListRequests возвращает список заявок с фильтрацией.
// GET /api/v1/requests?org_id=...&status=...&limit=...&offset=...
func (h *Handler) ListRequests(w http.ResponseWriter, r *http.Request) {
	filter := repo.RequestFilter{
		OrgID:  r.URL.Query().Get("org_id"),
		Status: domain.RequestStatus(r.URL.Query().Get("status")),
		Limit:  int(mustParseInt(r.URL.Query().Get("limit"), 50)),
		Offset: int(mustParseInt(r.URL.Query().Get("offset"), 0)),
	}

	requests, err := h.requestRepo.List(r.Context(), filter)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]RequestResponse, len(requests))
	for i, req := range requests {
		result[i] = RequestFromDomain(req)
	}

	List(w, result, len(result))
}

// CreateRequest создаёт новую заявку и запускает пайплайн.
// POST /api/v1/requests
func (h *Handler) CreateRequest(w http.ResponseWriter, r *http.Request) {
	var req CreateRequestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	if req.Type == "" {
		BadRequest(w, "type is required")
		return
	}
	if req.OrgID == "" {
		BadRequest(w, "org_id is required")
		return
	}

	actor := req.CreatedBy
	if actor == "" {
		actor = "api"
	}

	created, err := h.orc.CreateRequest(r.Context(), actor, req.OrgID, domain.RequestType(req.Type), req.Brief)
	if HandleOrchestratorError(w, h.logger, err, "") {
		return
	}

	// Будим оркестратора через очередь; при недоступном брокере заявку
	// подхватит polling.
	if h.publisher != nil {
		if err := h.publisher.PublishRequestCreated(r.Context(), created.ID); err != nil {
			h.logger.Warn("failed to publish request.created", "request_id", created.ID, "error", err)
		}
	}

	Created(w, RequestFromDomain(*created))
}

// GetRequest возвращает заявку по ID.
// GET /api/v1/requests/{id}
func (h *Handler) GetRequest(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid request id")
		return
	}

	req, err := h.requestRepo.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "request not found") {
		return
	}

	Success(w, RequestFromDomain(*req))
}

// ProcessRequest выполняет один шаг оркестрации заявки.
// POST /api/v1/requests/{id}/process
func (h *Handler) ProcessRequest(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid request id")
		return
	}

	status, err := h.orc.ProcessRequest(r.Context(), id)
	if HandleOrchestratorError(w, h.logger, err, "request not found") {
		return
	}

	Success(w, map[string]any{"id": id, "status": string(status)})
}

// CancelRequest отменяет заявку.
// POST /api/v1/requests/{id}/cancel
func (h *Handler) CancelRequest(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid request id")
		return
	}

	var body CancelRequestRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			BadRequest(w, "invalid request body")
			return
		}
	}

	actor := body.Actor
	if actor == "" {
		actor = "api"
	}

	if err := h.orc.CancelRequest(r.Context(), id, actor, body.Reason); err != nil {
		if HandleOrchestratorError(w, h.logger, err, "request not found") {
			return
		}
	}

	req, err := h.requestRepo.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "request not found") {
		return
	}

	Success(w, RequestFromDomain(*req))
}

// ListRequestTasks возвращает tasks заявки.
// GET /api/v1/requests/{id}/tasks
func (h *Handler) ListRequestTasks(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid request id")
		return
	}

	// Проверяем, что заявка существует
	_, err = h.requestRepo.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "request not found") {
		return
	}

	tasks, err := h.taskRepo.ListByRequest(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]TaskResponse, len(tasks))
	for i, t := range tasks {
		result[i] = TaskFromDomain(t)
	}

	List(w, result, len(result))
}

// ListRequestEvents возвращает аудит заявки.
// GET /api/v1/requests/{id}/events
func (h *Handler) ListRequestEvents(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid request id")
		return
	}

	_, err = h.requestRepo.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "request not found") {
		return
	}

	events, err := h.eventRepo.ListByRequest(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]EventResponse, len(events))
	for i, e := range events {
		result[i] = EventFromDomain(e)
	}

	List(w, result, len(result))
}

// GetRequestCost возвращает суммарную стоимость заявки.
// GET /api/v1/requests/{id}/cost
func (h *Handler) GetRequestCost(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid request id")
		return
	}

	_, err = h.requestRepo.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "request not found") {
		return
	}

	total, err := h.dispatchRepo.TotalCostCents(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	Success(w, CostResponse{RequestID: id, TotalCostCents: total})
}

// mustParseInt парсит строку в int с дефолтным значением.
func mustParseInt(s string, defaultVal int64) int64 {
	if s == "" {
		return defaultVal
	}
	if n, err := json.Number(s).Int64(); err == nil {
		return n
	}
	return defaultVal
}
