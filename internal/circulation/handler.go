// internal/circulation/handler.go
package circulation

import (
	"net/http"

	"bookhold/internal/apperror"
	"bookhold/internal/httpx"

	"github.com/google/uuid"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

type availabilityResponse struct {
	ItemID    uuid.UUID `json:"item_id"`
	Available bool      `json:"available"`
}

func (h *Handler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	results := []ItemSummary{}
	for summary, err := range h.service.Search(r.Context(), r.URL.Query().Get("q")) {
		if err != nil {
			httpx.WriteError(w, r, err)
			return
		}
		results = append(results, summary)
	}
	httpx.WriteJSON(w, http.StatusOK, results)
}

func (h *Handler) HandleAvailability(w http.ResponseWriter, r *http.Request) {
	itemID, err := httpx.UUIDParam(r, "itemID")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	available, err := h.service.IsAvailable(r.Context(), itemID)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, availabilityResponse{ItemID: itemID, Available: available})
}

func (h *Handler) HandleReserve(w http.ResponseWriter, r *http.Request) {
	p, ok := httpx.PrincipalFrom(r.Context())
	if !ok {
		httpx.WriteError(w, r, apperror.Unauthorized("login required"))
		return
	}
	itemID, err := httpx.UUIDParam(r, "itemID")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	res, err := h.service.Reserve(r.Context(), itemID, p.AccountID)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, View{Reservation: *res, State: StateHeld})
}

// HandleMyReservations lists the caller's holds that were neither rented nor
// returned, lapsed ones included.
func (h *Handler) HandleMyReservations(w http.ResponseWriter, r *http.Request) {
	p, ok := httpx.PrincipalFrom(r.Context())
	if !ok {
		httpx.WriteError(w, r, apperror.Unauthorized("login required"))
		return
	}
	h.list(w, r, Filter{AccountID: p.AccountID, States: []State{StateHeld, StateLapsed}})
}

func (h *Handler) HandleManageHeld(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, Filter{States: []State{StateHeld}})
}

func (h *Handler) HandleManageRented(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, Filter{States: []State{StateRented}})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request, filter Filter) {
	views, err := h.service.ListReservations(r.Context(), filter)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, views)
}

func (h *Handler) HandleGetReservation(w http.ResponseWriter, r *http.Request) {
	view, ok := h.owned(w, r)
	if !ok {
		return
	}
	httpx.WriteJSON(w, http.StatusOK, view)
}

func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.UUIDParam(r, "reservationID")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	events, err := h.service.History(r.Context(), id)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, events)
}

func (h *Handler) HandleRent(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.UUIDParam(r, "reservationID")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	if err := h.service.Rent(r.Context(), id); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, httpx.Message{Message: "reservation rented"})
}

func (h *Handler) HandleReturn(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.UUIDParam(r, "reservationID")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	if err := h.service.ReturnItem(r.Context(), id); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, httpx.Message{Message: "item returned"})
}

// HandleCancel lets holders cancel their own reservations and admins any.
func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	view, ok := h.owned(w, r)
	if !ok {
		return
	}
	if err := h.service.Cancel(r.Context(), view.ID); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, httpx.Message{Message: "reservation cancelled"})
}

// owned loads the reservation in the path and checks the caller may see it.
func (h *Handler) owned(w http.ResponseWriter, r *http.Request) (*View, bool) {
	p, ok := httpx.PrincipalFrom(r.Context())
	if !ok {
		httpx.WriteError(w, r, apperror.Unauthorized("login required"))
		return nil, false
	}
	id, err := httpx.UUIDParam(r, "reservationID")
	if err != nil {
		httpx.WriteError(w, r, err)
		return nil, false
	}

	view, err := h.service.GetReservation(r.Context(), id)
	if err != nil {
		httpx.WriteError(w, r, err)
		return nil, false
	}
	if !p.Admin && view.AccountID != p.AccountID {
		httpx.WriteError(w, r, apperror.Forbidden("reservation %s belongs to another account", id))
		return nil, false
	}
	return view, true
}
