package handlers

import (
	"busline/backend/internal/auth"
	"busline/backend/internal/http/middleware"

	"github.com/go-chi/chi/v5"
)

// Routes registers every endpoint on r. Callers install the shared middleware stack.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/healthz", h.Healthz)
	r.Get("/payments/vnpay/return", h.VNPayReturn)
	r.Get("/payments/vnpay/ipn", h.VNPayIPN)
	r.Get("/payments/vnpay-qr/verify", h.VerifyVNPayQR)
	r.Post("/payments/vnpay-qr/verify", h.VerifyVNPayQR)
	r.Get("/routes/popular", h.PopularRoutes)

	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware(h.cfg.JWTSecret))
		r.Post("/orders", h.CreateOrder)
		r.Get("/orders/my", h.ListMyOrders)
		r.Get("/orders/search", h.SearchOrders)
		r.Get("/orders/{id}", h.GetOrder)
		r.Post("/orders/{id}/payments/vnpay", h.CreateVNPayPayment)
		r.Post("/orders/{id}/payments/vnpay-qr", h.CreateVNPayQR)
		r.Get("/orders/{id}/payments/vnpay-qr/status", h.VNPayQRStatus)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(auth.RolePartner, auth.RoleAdmin))
			r.Post("/orders/{id}/accept", h.AcceptOrder)
			r.Post("/orders/{id}/decline", h.DeclineOrder)
			r.Post("/orders/{id}/prepaid", h.SetPrepaid)
			r.Get("/routes/{id}/orders", h.ListRouteOrders)
			r.Get("/routes/{id}/inventory", h.RouteInventory)
			r.Post("/routes/{id}/checkout", h.CheckoutRoute)
		})
	})
}
