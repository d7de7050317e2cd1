package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	custommiddleware "github.com/mmeshcher/campusmart/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса CampusMart.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.Logger(h.logger))

	r.Get("/healthz", h.Health)
	r.Get("/swagger.json", h.OpenAPI)
	r.Get("/docs/*", docsHandler())
	if h.mediaDir != "" {
		r.Handle("/media/*", http.StripPrefix("/media/", http.FileServer(http.Dir(h.mediaDir))))
	}

	r.Route("/api", func(r chi.Router) {
		// Поток SSE не проходит через сжатие.
		r.With(h.authMiddleware.Middleware).Get("/events", h.Events)

		r.Group(func(r chi.Router) {
			r.Use(custommiddleware.GzipMiddleware)

			r.Post("/user/register", h.Register)
			r.Post("/user/login", h.Login)

			r.Get("/categories", h.ListCategories)
			r.Get("/products", h.ListProducts)
			r.Get("/products/{id}", h.GetProduct)

			r.Post("/webhooks/stripe", h.StripeWebhook)
			r.Post("/webhooks/mobile-money", h.MobileMoneyWebhook)

			r.Group(func(r chi.Router) {
				r.Use(h.authMiddleware.Middleware)

				r.Get("/user/profile", h.Profile)

				r.Get("/cart", h.GetCart)
				r.Delete("/cart", h.ClearCart)
				r.Put("/cart/items/{productID}", h.SetCartItem)
				r.Delete("/cart/items/{productID}", h.RemoveCartItem)

				r.Post("/checkout", h.Checkout)
				r.Get("/orders", h.ListOrders)
				r.Get("/orders/{id}", h.GetOrder)
				r.Post("/orders/{id}/cancel", h.CancelOrder)

				r.Post("/create-payment-intent", h.CreatePaymentIntent)
				r.Post("/confirm-payment", h.ConfirmPayment)
				r.Post("/mobile-money/initiate", h.InitiateMobileMoney)
				r.Post("/mobile-money/verify", h.VerifyMobileMoney)
				r.Post("/send-sms", h.SendSMS)

				r.Route("/delivery", func(r chi.Router) {
					r.Get("/scan/{token}", h.ScanDelivery)
					r.Post("/scan/{token}/status", h.AdvanceDelivery)
					r.Put("/{id}/location", h.UpdateLocation)
					r.Post("/orders/{id}/cash-collected", h.CashCollected)
				})

				r.Route("/admin", func(r chi.Router) {
					r.Get("/stats", h.AdminStats)
					r.Get("/orders", h.AdminOrders)
					r.Post("/orders/{id}/status", h.AdminOrderStatus)
					r.Get("/deliveries", h.AdminDeliveries)

					r.Post("/categories", h.CreateCategory)
					r.Post("/products", h.CreateProduct)
					r.Put("/products/{id}", h.UpdateProduct)
					r.Delete("/products/{id}", h.DeleteProduct)
					r.Post("/products/{id}/image", h.UploadProductImage)
				})
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeMessage(w, http.StatusNotFound, http.StatusText(http.StatusNotFound))
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeMessage(w, http.StatusMethodNotAllowed, http.StatusText(http.StatusMethodNotAllowed))
	})

	return r
}
