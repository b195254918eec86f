package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/okrylov/countersign/internal/notify"
	"github.com/okrylov/countersign/internal/tasks"
)

type Handler struct {
	Service     *tasks.Service
	Hub         *notify.WSHub
	RateLimiter *RateLimiter
}

func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/api/tasks", h.HandleTasks).Methods(http.MethodGet, http.MethodPost)
	r.HandleFunc("/api/tasks/{taskID}", h.HandleTaskByID).Methods(http.MethodGet, http.MethodDelete)
	r.HandleFunc("/api/tasks/{taskID}/marks", h.HandleMarkDone).Methods(http.MethodPost)
	r.HandleFunc("/api/tasks/{taskID}/delivery-ref", h.HandleDeliveryRef).Methods(http.MethodPatch)
	r.HandleFunc("/ws", h.HandleWebSocket)
	return r
}

type errorResponse struct {
	Error string `json:"error"`
}

func sendError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{Error: message})
}

func sendJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

// maps every service failure kind to exactly one response
func sendServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, tasks.ErrInvalidParticipants):
		sendError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, tasks.ErrNotFound):
		sendError(w, "Task not found", http.StatusNotFound)
	case errors.Is(err, tasks.ErrForbidden):
		sendError(w, "Forbidden", http.StatusForbidden)
	case errors.Is(err, tasks.ErrStoreUnavailable):
		sendError(w, "Task store unavailable", http.StatusServiceUnavailable)
	default:
		sendError(w, "Internal error", http.StatusInternalServerError)
	}
}

// actorID is the identity the chat transport authenticated upstream.
func actorID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-Actor-ID"))
}

func isJSONContentType(r *http.Request) bool {
	ct := r.Header.Get("Content-Type")
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(ct)), "application/json")
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	host := r.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx != -1 {
		host = host[:idx]
	}
	return host
}

// empty ALLOWED_ORIGINS allows everything (dev setup)
func checkOrigin(r *http.Request) bool {
	allowed := strings.TrimSpace(os.Getenv("ALLOWED_ORIGINS"))
	if allowed == "" {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, candidate := range strings.Split(allowed, ",") {
		if strings.TrimSpace(candidate) == origin {
			return true
		}
	}
	return false
}

type RateLimiter struct {
	attempts map[string]int
	limit    int
	mutex    sync.Mutex
	window   time.Duration
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		attempts: make(map[string]int),
		limit:    limit,
		window:   window,
	}
	go rl.cleanup()
	return rl
}

func (rl *RateLimiter) Allow(ip string) bool {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	count, exists := rl.attempts[ip]
	if !exists {
		rl.attempts[ip] = 1
		return true
	}
	if count >= rl.limit {
		return false
	}
	rl.attempts[ip]++
	return true
}

func (rl *RateLimiter) cleanup() {
	for {
		time.Sleep(rl.window)
		rl.mutex.Lock()
		rl.attempts = make(map[string]int)
		rl.mutex.Unlock()
	}
}
