package shipping

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/example/order-choreography/internal/domain"
	"github.com/example/order-choreography/internal/httpx"
)

type View struct {
	ID             string    `json:"id"`
	OrderID        string    `json:"orderId"`
	TrackingNumber string    `json:"trackingNumber,omitempty"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

func ViewOf(s domain.Shipment) View {
	return View{
		ID:             string(s.ID),
		OrderID:        string(s.OrderID),
		TrackingNumber: s.TrackingNumber,
		Status:         string(s.Status),
		CreatedAt:      s.CreatedAt,
		UpdatedAt:      s.UpdatedAt,
	}
}

// Routes mounts GET /shipments/{id} and POST /shipments/{id}/deliver.
func (s *Service) Routes(r chi.Router) {
	r.Get("/shipments/{id}", func(w http.ResponseWriter, req *http.Request) {
		sh, err := s.Get(req.Context(), chi.URLParam(req, "id"))
		if err != nil {
			httpx.WriteError(w, req, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, ViewOf(sh))
	})
	r.Post("/shipments/{id}/deliver", func(w http.ResponseWriter, req *http.Request) {
		sh, err := s.Deliver(req.Context(), chi.URLParam(req, "id"))
		if err != nil {
			httpx.WriteError(w, req, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, ViewOf(sh))
	})
}
