package runtime

import (
	"errors"
	"io"
	"net/http"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"

	"github.com/drblury/hookflow/internal/runtime/dispatcher"
	errspkg "github.com/drblury/hookflow/internal/runtime/errors"
	idspkg "github.com/drblury/hookflow/internal/runtime/ids"
	loggingpkg "github.com/drblury/hookflow/internal/runtime/logging"
)

const (
	webhookSuccess  = "Success"
	webhookAccepted = "Accepted"

	// CorrelationIDHeader lets webhook callers pass a correlation id through.
	CorrelationIDHeader = "X-Correlation-ID"
)

func (s *Service) registerWebhook() {
	s.httpRouter(s.Conf.WebhookAddress).Post(s.Conf.WebhookPath, s.WebhookHandler().ServeHTTP)
}

// WebhookHandler returns the handler bound to Config.WebhookPath. In dispatch
// mode it answers after the handler ran; in relay mode once the payload was
// published to the intake topic.
func (s *Service) WebhookHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := s.readWebhookBody(w, r)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
				return
			}
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		if s.Conf.Relay() {
			s.relay(w, r, body)
			return
		}

		ctx := dispatcher.WithCorrelationID(r.Context(), r.Header.Get(CorrelationIDHeader))
		if _, err := s.dispatcher.Dispatch(ctx, s.agent, body); err != nil {
			http.Error(w, err.Error(), webhookStatus(err))
			return
		}
		writeText(w, http.StatusOK, webhookSuccess)
	})
}

func (s *Service) readWebhookBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	reader := r.Body
	if s.Conf.WebhookMaxBodyBytes > 0 {
		reader = http.MaxBytesReader(w, r.Body, s.Conf.WebhookMaxBodyBytes)
	}
	defer reader.Close()
	return io.ReadAll(reader)
}

func (s *Service) relay(w http.ResponseWriter, r *http.Request, body []byte) {
	if s.publisher == nil {
		http.Error(w, errspkg.ErrPublisherRequired.Error(), http.StatusServiceUnavailable)
		return
	}
	if !s.capabilities.Fits(len(body)) {
		http.Error(w, "payload exceeds transport message size limit", http.StatusRequestEntityTooLarge)
		return
	}

	msg := message.NewMessage(idspkg.NewMessageID(), body)
	if id := r.Header.Get(CorrelationIDHeader); id != "" {
		middleware.SetCorrelationID(id, msg)
	}

	if err := s.publisher.Publish(s.Conf.IntakeTopic, msg); err != nil {
		s.Logger.Error("Failed to relay webhook payload", err, loggingpkg.LogFields{
			"topic":        s.Conf.IntakeTopic,
			"message_uuid": msg.UUID,
		})
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeText(w, http.StatusAccepted, webhookAccepted)
}

func webhookStatus(err error) int {
	if kind, ok := errspkg.KindOf(err); ok && kind == errspkg.DispatchParseFailed {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}
