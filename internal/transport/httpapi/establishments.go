package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

func (s *server) listEstablishments(w http.ResponseWriter, r *http.Request) {
	establishments, err := s.services.Establishments.FindAll(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(establishments, toEstablishmentResponse))
}

func (s *server) getEstablishment(w http.ResponseWriter, r *http.Request) {
	establishment, err := s.services.Establishments.FindByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEstablishmentResponse(establishment))
}

func (s *server) createEstablishment(w http.ResponseWriter, r *http.Request) {
	var req establishmentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	establishment, err := s.services.Establishments.Create(r.Context(), actorID(r), req.Name, req.Address)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toEstablishmentResponse(establishment))
}

func (s *server) updateEstablishment(w http.ResponseWriter, r *http.Request) {
	var req establishmentPatchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	establishment, err := s.services.Establishments.Update(r.Context(), chi.URLParam(r, "id"), actorID(r), domain.EstablishmentPatch{
		Name:    req.Name,
		Address: req.Address,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEstablishmentResponse(establishment))
}

// deactivateEstablishment: мягкое удаление: заведение пропадает из списка, продукты и заказы остаются.
func (s *server) deactivateEstablishment(w http.ResponseWriter, r *http.Request) {
	if _, err := s.services.Establishments.Deactivate(r.Context(), chi.URLParam(r, "id"), actorID(r)); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
