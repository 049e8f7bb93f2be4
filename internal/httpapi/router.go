// Package httpapi assembles the JSON API on a chi router.
package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"bookhold/internal/catalog"
	"bookhold/internal/circulation"
	"bookhold/internal/guard"
	"bookhold/internal/httpx"
	"bookhold/internal/membership"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type Services struct {
	Catalog     catalog.Service
	Membership  membership.Service
	Circulation circulation.Service
	Guard       *guard.Guard
	Tokens      *membership.TokenIssuer
	Log         *slog.Logger
}

func NewRouter(s Services) http.Handler {
	items := catalog.NewHandler(s.Catalog)
	accounts := membership.NewHandler(s.Membership, s.Tokens)
	holds := circulation.NewHandler(s.Circulation)
	guards := guard.NewHandler(s.Guard)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.Log))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(authenticate(s.Tokens))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, httpx.Message{Message: "ok"})
	})

	r.Route("/accounts", func(r chi.Router) {
		r.Post("/register", accounts.HandleRegister)
		r.Post("/login", accounts.HandleLogin)

		r.Group(func(r chi.Router) {
			r.Use(requireUser)
			r.Get("/me", accounts.HandleGetProfile)
			r.Put("/me", accounts.HandleUpdateProfile)
			r.Delete("/me", guards.HandleDeleteMe)
		})
		r.Group(func(r chi.Router) {
			r.Use(requireAdmin)
			r.Get("/{accountID}/guard", guards.HandleAccountGuard)
			r.Delete("/{accountID}", guards.HandleDeleteAccount)
		})
	})

	r.Route("/items", func(r chi.Router) {
		r.Get("/available", holds.HandleSearch)
		r.Get("/{itemID}", items.HandleGetItem)
		r.Get("/{itemID}/availability", holds.HandleAvailability)

		r.With(requireUser).Post("/{itemID}/reserve", holds.HandleReserve)

		r.Group(func(r chi.Router) {
			r.Use(requireAdmin)
			r.Get("/", items.HandleListItems)
			r.Post("/", items.HandleAddItem)
			r.Put("/{itemID}", items.HandleUpdateItem)
			r.Delete("/{itemID}", guards.HandleDeleteItem)
			r.Get("/{itemID}/guard", guards.HandleItemGuard)
		})
	})

	r.Route("/reservations", func(r chi.Router) {
		r.Use(requireUser)
		r.Get("/", holds.HandleMyReservations)
		r.Get("/{reservationID}", holds.HandleGetReservation)
		r.Delete("/{reservationID}", holds.HandleCancel)

		r.Group(func(r chi.Router) {
			r.Use(requireAdmin)
			r.Get("/manage", holds.HandleManageHeld)
			r.Get("/manage-rented", holds.HandleManageRented)
			r.Get("/{reservationID}/events", holds.HandleHistory)
			r.Post("/{reservationID}/rent", holds.HandleRent)
			r.Post("/{reservationID}/return", holds.HandleReturn)
		})
	})

	return r
}
