package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/okrylov/countersign/internal/models"
	"github.com/okrylov/countersign/internal/tasks"
)

/*
handles routes:
- GET /api/tasks - list tasks (status, date range, pagination)
- POST /api/tasks - create a new task
*/
func (h *Handler) HandleTasks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.listTasks(w, r)
	case http.MethodPost:
		h.createTask(w, r)
	default:
		sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) createTask(w http.ResponseWriter, r *http.Request) {
	creator := actorID(r)
	if creator == "" {
		sendError(w, "X-Actor-ID header is required", http.StatusBadRequest)
		return
	}
	if !isJSONContentType(r) {
		sendError(w, "Content-Type must be application/json", http.StatusBadRequest)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB
	var input struct {
		Description string `json:"description"`
		AssigneeID  string `json:"assignee_id"`
		ApproverID  string `json:"approver_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		sendError(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}
	if input.AssigneeID == "" {
		sendError(w, "assignee_id is required", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	task, err := h.Service.Create(ctx, input.Description, creator, input.AssigneeID, input.ApproverID)
	if err != nil {
		sendServiceError(w, err)
		return
	}
	w.Header().Set("Location", "/api/tasks/"+task.ID.String())
	sendJSON(w, http.StatusCreated, task)
}

type listResponse struct {
	Tasks   []*models.Task `json:"tasks"`
	HasMore bool           `json:"has_more"`
}

func (h *Handler) listTasks(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	status, ok := normalizeStatusFilter(query.Get("status"))
	if !ok {
		sendError(w, "Invalid status filter", http.StatusBadRequest)
		return
	}
	from, err := parseTimeParam(query.Get("from"), false)
	if err != nil {
		sendError(w, "from must be RFC 3339 or YYYY-MM-DD", http.StatusBadRequest)
		return
	}
	to, err := parseTimeParam(query.Get("to"), true)
	if err != nil {
		sendError(w, "to must be RFC 3339 or YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	page := parseIntParam(query.Get("page"), 0)
	pageSize := parseIntParam(query.Get("page_size"), 0)
	if pageSize > 100 {
		pageSize = 100
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	list, hasMore, err := h.Service.List(ctx, tasks.ListQuery{
		From:     from,
		To:       to,
		Status:   status,
		PageSize: pageSize,
		Page:     page,
	})
	if err != nil {
		sendServiceError(w, err)
		return
	}
	if list == nil {
		list = []*models.Task{}
	}
	sendJSON(w, http.StatusOK, listResponse{Tasks: list, HasMore: hasMore})
}

/*
routes:
- GET /api/tasks/{taskID}
- DELETE /api/tasks/{taskID}
*/
func (h *Handler) HandleTaskByID(w http.ResponseWriter, r *http.Request) {
	taskID := mux.Vars(r)["taskID"]
	if taskID == "" {
		sendError(w, "task_id is required", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.getTaskByID(w, r, taskID)
	case http.MethodDelete:
		h.deleteTaskByID(w, r, taskID)
	default:
		sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) getTaskByID(w http.ResponseWriter, r *http.Request, taskID string) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	task, err := h.Service.GetByID(ctx, taskID)
	if err != nil {
		sendServiceError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, task)
}

func (h *Handler) deleteTaskByID(w http.ResponseWriter, r *http.Request, taskID string) {
	actor := actorID(r)
	if actor == "" {
		sendError(w, "X-Actor-ID header is required", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.Service.Delete(ctx, taskID, actor); err != nil {
		sendServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// POST /api/tasks/{taskID}/marks - record a completion signal
func (h *Handler) HandleMarkDone(w http.ResponseWriter, r *http.Request) {
	taskID := mux.Vars(r)["taskID"]
	actor := actorID(r)
	if actor == "" {
		sendError(w, "X-Actor-ID header is required", http.StatusBadRequest)
		return
	}
	if !isJSONContentType(r) {
		sendError(w, "Content-Type must be application/json", http.StatusBadRequest)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB
	var input struct {
		Role string `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		sendError(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}
	role := models.Role(strings.ToLower(strings.TrimSpace(input.Role)))
	if !role.Valid() {
		sendError(w, "role must be assignee or approver", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	task, err := h.Service.MarkDone(ctx, taskID, actor, role)
	if err != nil {
		sendServiceError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, task)
}

// PATCH /api/tasks/{taskID}/delivery-ref - the delivery layer reports
// where it posted the task's chat message
func (h *Handler) HandleDeliveryRef(w http.ResponseWriter, r *http.Request) {
	taskID := mux.Vars(r)["taskID"]
	if !isJSONContentType(r) {
		sendError(w, "Content-Type must be application/json", http.StatusBadRequest)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB
	var input struct {
		ChannelID string `json:"channel_id"`
		MessageTS string `json:"message_ts"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		sendError(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}
	if input.ChannelID == "" || input.MessageTS == "" {
		sendError(w, "channel_id and message_ts are required", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	task, err := h.Service.SetDeliveryRef(ctx, taskID, input.ChannelID, input.MessageTS)
	if err != nil {
		sendServiceError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, task)
}

// convert the chat command's status words to the canonical filter
func normalizeStatusFilter(s string) (*models.TaskStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return nil, true
	case "completed", "complete":
		status := models.TaskStatusCompleted
		return &status, true
	case "pending", "open", "incomplete":
		status := models.TaskStatusOpen
		return &status, true
	default:
		return nil, false
	}
}

// accepts RFC 3339 or a bare date; a bare "to" date means that whole
// day inclusive
func parseTimeParam(value string, endOfDay bool) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		t = t.UTC()
		return &t, nil
	}
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return nil, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}

func parseIntParam(value string, fallback int) int {
	if value == "" {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
