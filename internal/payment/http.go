package payment

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/example/order-choreography/internal/domain"
	"github.com/example/order-choreography/internal/httpx"
)

type Request struct {
	OrderID string       `json:"orderId"`
	Amount  domain.Money `json:"amount"`
}

type View struct {
	ID          string       `json:"id"`
	OrderID     string       `json:"orderId"`
	Status      string       `json:"status"`
	Amount      domain.Money `json:"amount"`
	CreatedAt   time.Time    `json:"createdAt"`
	CompletedAt *time.Time   `json:"completedAt"`
}

func ViewOf(p domain.Payment) View {
	return View{
		ID:          string(p.ID),
		OrderID:     string(p.OrderID),
		Status:      string(p.Status),
		Amount:      p.Amount,
		CreatedAt:   p.CreatedAt,
		CompletedAt: p.CompletedAt,
	}
}

func (s *Service) Routes(r chi.Router) {
	r.Post("/payments", func(w http.ResponseWriter, req *http.Request) {
		var body Request
		if err := httpx.DecodeJSON(req, &body); err != nil {
			httpx.WriteError(w, req, err)
			return
		}
		oid, err := domain.ParseOrderID(body.OrderID)
		if err != nil {
			httpx.WriteError(w, req, err)
			return
		}
		p, err := s.Pay(req.Context(), oid, body.Amount)
		if err != nil {
			httpx.WriteError(w, req, err)
			return
		}
		httpx.WriteJSON(w, http.StatusCreated, ViewOf(p))
	})
	r.Get("/payments/{id}", func(w http.ResponseWriter, req *http.Request) {
		p, err := s.Get(req.Context(), chi.URLParam(req, "id"))
		if err != nil {
			httpx.WriteError(w, req, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, ViewOf(p))
	})
}
