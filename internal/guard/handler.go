package guard

import (
	"net/http"

	"bookhold/internal/apperror"
	"bookhold/internal/httpx"

	"github.com/google/uuid"
)

type Handler struct {
	guard *Guard
}

func NewHandler(guard *Guard) *Handler {
	return &Handler{guard: guard}
}

type itemDecisionResponse struct {
	ItemID   uuid.UUID    `json:"item_id"`
	Decision ItemDecision `json:"decision"`
}

type accountDecisionResponse struct {
	AccountID uuid.UUID       `json:"account_id"`
	Decision  AccountDecision `json:"decision"`
}

func (h *Handler) HandleItemGuard(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.UUIDParam(r, "itemID")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	decision, err := h.guard.GuardDeleteItem(r.Context(), id)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, itemDecisionResponse{ItemID: id, Decision: decision})
}

func (h *Handler) HandleDeleteItem(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.UUIDParam(r, "itemID")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	decision, err := h.guard.DeleteItem(r.Context(), id)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, itemDecisionResponse{ItemID: id, Decision: decision})
}

func (h *Handler) HandleAccountGuard(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.UUIDParam(r, "accountID")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	decision, err := h.guard.GuardDeleteAccount(r.Context(), id)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, accountDecisionResponse{AccountID: id, Decision: decision})
}

func (h *Handler) HandleDeleteMe(w http.ResponseWriter, r *http.Request) {
	p, ok := httpx.PrincipalFrom(r.Context())
	if !ok {
		httpx.WriteError(w, r, apperror.Unauthorized("login required"))
		return
	}
	h.deleteAccount(w, r, p.AccountID)
}

func (h *Handler) HandleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.UUIDParam(r, "accountID")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	h.deleteAccount(w, r, id)
}

func (h *Handler) deleteAccount(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	if err := h.guard.DeleteAccount(r.Context(), id); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, accountDecisionResponse{AccountID: id, Decision: Allow})
}
