package api

import (
	"net/http"
)

// RegisterRoutes регистрирует все маршруты API.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Middleware chain
	chain := Chain(
		Recovery(h.logger),
		Logging(h.logger),
	)

	// Requests
	mux.Handle("GET /api/v1/requests", chain(http.HandlerFunc(h.ListRequests)))
	mux.Handle("POST /api/v1/requests", chain(http.HandlerFunc(h.CreateRequest)))
	mux.Handle("GET /api/v1/requests/{id}", chain(http.HandlerFunc(h.GetRequest)))
	mux.Handle("POST /api/v1/requests/{id}/process", chain(http.HandlerFunc(h.ProcessRequest)))
	mux.Handle("POST /api/v1/requests/{id}/cancel", chain(http.HandlerFunc(h.CancelRequest)))
	mux.Handle("GET /api/v1/requests/{id}/tasks", chain(http.HandlerFunc(h.ListRequestTasks)))
	mux.Handle("GET /api/v1/requests/{id}/events", chain(http.HandlerFunc(h.ListRequestEvents)))
	mux.Handle("GET /api/v1/requests/{id}/cost", chain(http.HandlerFunc(h.GetRequestCost)))

	// Tasks
	mux.Handle("GET /api/v1/tasks/{id}", chain(http.HandlerFunc(h.GetTask)))
	mux.Handle("POST /api/v1/tasks/{id}/retry", chain(http.HandlerFunc(h.RetryTask)))
	mux.Handle("GET /api/v1/tasks/{id}/dispatches", chain(http.HandlerFunc(h.ListTaskDispatches)))

	// Provider callbacks
	mux.Handle("POST /api/v1/callbacks", chain(http.HandlerFunc(h.PostCallback)))

	// Dead letters
	mux.Handle("GET /api/v1/dead-letters", chain(http.HandlerFunc(h.ListDeadLetters)))
	mux.Handle("POST /api/v1/dead-letters/{task_id}/requeue", chain(http.HandlerFunc(h.RequeueDeadLetter)))
}
