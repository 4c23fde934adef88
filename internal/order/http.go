package order

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/example/order-choreography/internal/domain"
	"github.com/example/order-choreography/internal/httpx"
)

type ItemView struct {
	ProductID string       `json:"productId"`
	Quantity  int          `json:"quantity"`
	UnitPrice domain.Money `json:"unitPrice"`
}

type View struct {
	ID         string       `json:"id"`
	CustomerID string       `json:"customerId"`
	Items      []ItemView   `json:"items"`
	Total      domain.Money `json:"totalAmount"`
	Status     string       `json:"status"`
	CreatedAt  time.Time    `json:"createdAt"`
	UpdatedAt  time.Time    `json:"updatedAt"`
}

func ViewOf(o domain.Order) View {
	v := View{
		ID:         string(o.ID),
		CustomerID: string(o.CustomerID),
		Items:      make([]ItemView, 0, len(o.Items)),
		Total:      o.Total,
		Status:     string(o.Status),
		CreatedAt:  o.CreatedAt,
		UpdatedAt:  o.UpdatedAt,
	}
	for _, it := range o.Items {
		v.Items = append(v.Items, ItemView{ProductID: string(it.ProductID), Quantity: it.Quantity, UnitPrice: it.UnitPrice})
	}
	return v
}

// Routes mounts POST /orders and GET /orders/{id} on r.
func (s *Service) Routes(r chi.Router) {
	r.Post("/orders", func(w http.ResponseWriter, req *http.Request) {
		var body PlaceOrder
		if err := httpx.DecodeJSON(req, &body); err != nil {
			httpx.WriteError(w, req, err)
			return
		}
		o, err := s.Place(req.Context(), body)
		if err != nil {
			httpx.WriteError(w, req, err)
			return
		}
		httpx.WriteJSON(w, http.StatusCreated, ViewOf(o))
	})
	r.Get("/orders/{id}", func(w http.ResponseWriter, req *http.Request) {
		o, err := s.Get(req.Context(), chi.URLParam(req, "id"))
		if err != nil {
			httpx.WriteError(w, req, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, ViewOf(o))
	})
}
