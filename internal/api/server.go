package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"

	"github.com/shehryarbajwa/browsergate/internal/liveview"
	"github.com/shehryarbajwa/browsergate/internal/ratelimit"
)

// SetupRoutes configures all HTTP routes and wraps them in CORS and
// request logging.
func (h *Handler) SetupRoutes(live *liveview.Streamer, limiter *ratelimit.Limiter, requestsPerMinute int, log *logrus.Logger) http.Handler {
	r := mux.NewRouter()

	api := r.PathPrefix("/api").Subrouter()

	// Mutating endpoints are rate limited
	limited := api.PathPrefix("").Subrouter()
	limited.Use(RateLimitMiddleware(limiter, requestsPerMinute))
	limited.HandleFunc("/create-session", h.CreateSession).Methods("POST")
	limited.HandleFunc("/navigate", h.Navigate).Methods("POST")
	limited.HandleFunc("/close-session", h.CloseSession).Methods("POST")

	// Screenshot is polled frequently, keep it unthrottled
	api.HandleFunc("/screenshot/{sessionId}", h.Screenshot).Methods("GET")

	api.HandleFunc("/sessions", h.ListSessions).Methods("GET")
	api.HandleFunc("/sessions/{id}", h.GetSession).Methods("GET")

	api.HandleFunc("/live/{sessionId}", func(w http.ResponseWriter, r *http.Request) {
		live.HandleLiveView(w, r, mux.Vars(r)["sessionId"])
	}).Methods("GET")

	r.HandleFunc("/healthz", h.Health).Methods("GET")

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	r.Use(RequestLogger(log))

	c := cors.New(cors.Options{
		AllowedOrigins:       []string{"*"},
		AllowedMethods:       []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:       []string{"*"},
		OptionsSuccessStatus: http.StatusOK,
	})

	return c.Handler(r)
}
