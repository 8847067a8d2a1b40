package runtime

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/drblury/hookflow/internal/runtime/jsoncodec"
	"github.com/drblury/hookflow/transport"
)

const defaultWebUIPort = 8081

// RuntimeInfo is served by the web UI next to the handler list.
type RuntimeInfo struct {
	PubSubSystem string                 `json:"pubsub_system,omitempty"`
	WebhookMode  string                 `json:"webhook_mode"`
	Transport    transport.Capabilities `json:"transport"`
	Resource     ResourceUsage          `json:"resource"`
	Poison       PoisonMetricsSnapshot  `json:"poison"`
}

// StartWebUIServer mounts the read-only web UI API when enabled.
func (s *Service) StartWebUIServer() {
	if !s.Conf.WebUIEnabled {
		return
	}
	s.webUIOnce.Do(func() {
		port := s.Conf.WebUIPort
		if port == 0 {
			port = defaultWebUIPort
		}
		s.httpRouter(portAddress(port)).Mount("/api", s.webUIRouter())
	})
}

func (s *Service) webUIRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(s.corsMiddleware)
	r.Get("/handlers", s.handleGetHandlers)
	r.Get("/runtime", s.handleGetRuntime)
	return r
}

func (s *Service) handleGetHandlers(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.registry.Entries())
}

func (s *Service) handleGetRuntime(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, RuntimeInfo{
		PubSubSystem: s.Conf.PubSubSystem,
		WebhookMode:  s.Conf.WebhookMode,
		Transport:    s.capabilities,
		Resource:     s.getResourceTracker().Snapshot(),
		Poison:       s.poisonMetrics.Snapshot(),
	})
}

func (s *Service) writeJSON(w http.ResponseWriter, v any) {
	data, err := jsoncodec.Marshal(v)
	if err != nil {
		s.Logger.Error("Failed to encode web UI response", err, nil)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
}

func (s *Service) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if allowed := s.getAllowedCORSOrigin(r.Header.Get("Origin")); allowed != "" {
			w.Header().Set("Access-Control-Allow-Origin", allowed)
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// getAllowedCORSOrigin checks if the request origin is allowed and returns the appropriate
// Access-Control-Allow-Origin value.
func (s *Service) getAllowedCORSOrigin(requestOrigin string) string {
	if s.Conf == nil {
		return ""
	}
	for _, allowed := range s.Conf.WebUICORSAllowedOrigins {
		if allowed == "*" {
			return "*"
		}
		if requestOrigin != "" && strings.EqualFold(allowed, requestOrigin) {
			return requestOrigin
		}
	}
	return ""
}
