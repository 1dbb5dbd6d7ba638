package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

type messageResponse struct {
	Message string `json:"message"`
}

func statusFor(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindUnauthenticated:
		return http.StatusUnauthorized
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindPermissionDenied:
		return http.StatusForbidden
	case domain.KindInvalidInput, domain.KindInvalidTransition:
		return http.StatusBadRequest
	case domain.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeError переводит доменную ошибку в HTTP-ответ. Это единственное место трансляции.
func (s *server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := domain.KindOf(err)
	status := statusFor(kind)
	logger := s.requestLogger(r).WithField("kind", kind)

	if status == http.StatusInternalServerError {
		logger.WithError(err).Error("request failed")
		writeMessage(w, status, "internal server error")
		return
	}

	logger.WithError(err).Debug("request rejected")
	message := err.Error()
	var de *domain.Error
	if errors.As(err, &de) {
		message = de.Error()
	}
	writeMessage(w, status, message)
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, messageResponse{Message: message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
