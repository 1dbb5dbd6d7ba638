package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
	"github.com/vladislavdragonenkov/marketplace/internal/service/product"
)

func (s *server) listProducts(w http.ResponseWriter, r *http.Request) {
	products, err := s.services.Products.FindByEstablishment(r.Context(), r.URL.Query().Get("establishment_id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(products, toProductResponse))
}

func (s *server) getProduct(w http.ResponseWriter, r *http.Request) {
	p, err := s.services.Products.FindByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductResponse(p))
}

func (s *server) createProduct(w http.ResponseWriter, r *http.Request) {
	var req productRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	in := product.Input{
		EstablishmentID: req.EstablishmentID,
		Name:            req.Name,
		Description:     req.Description,
	}
	if req.Price != nil {
		in.PriceMinor = &req.Price.Minor
	}
	p, err := s.services.Products.Create(r.Context(), actorID(r), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toProductResponse(p))
}

func (s *server) updateProduct(w http.ResponseWriter, r *http.Request) {
	var req productPatchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	patch := domain.ProductPatch{Name: req.Name, Description: req.Description}
	if req.Price != nil {
		patch.PriceMinor = &req.Price.Minor
	}

	p, err := s.services.Products.Update(r.Context(), chi.URLParam(r, "id"), actorID(r), patch)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductResponse(p))
}

func (s *server) deleteProduct(w http.ResponseWriter, r *http.Request) {
	if err := s.services.Products.Delete(r.Context(), chi.URLParam(r, "id"), actorID(r)); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
