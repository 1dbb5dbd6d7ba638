package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

func (s *server) createOrder(w http.ResponseWriter, r *http.Request) {
	key, err := idempotencyKey(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var req createOrderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	lines := make([]domain.OrderLine, 0, len(req.Items))
	for _, item := range req.Items {
		lines = append(lines, domain.OrderLine{ProductID: item.ProductID, Quantity: item.Quantity})
	}

	order, replayed, err := s.services.Orders.CreateOrderIdempotent(r.Context(), key, actorID(r), req.EstablishmentID, lines)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if replayed {
		w.Header().Set(IdempotentReplayHeader, "true")
		writeJSON(w, http.StatusOK, toOrderResponse(order))
		return
	}
	writeJSON(w, http.StatusCreated, toOrderResponse(order))
}

// listOrders без фильтров возвращает заказы самого пользователя.
func (s *server) listOrders(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := domain.OrderFilter{
		EstablishmentID: query.Get("establishment_id"),
		CustomerID:      query.Get("customer_id"),
	}
	if filter.EstablishmentID == "" && filter.CustomerID == "" {
		filter.CustomerID = actorID(r)
	}

	orders, err := s.services.Orders.ListOrders(r.Context(), filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(orders, toOrderResponse))
}

func (s *server) cancelOrder(w http.ResponseWriter, r *http.Request) {
	order, err := s.services.Orders.CancelOrder(r.Context(), chi.URLParam(r, "id"), actorID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}
