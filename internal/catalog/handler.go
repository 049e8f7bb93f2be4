// internal/catalog/handler.go
package catalog

import (
	"net/http"
	"time"

	"bookhold/internal/apperror"
	"bookhold/internal/httpx"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

type itemRequest struct {
	Title     string `json:"title" validate:"required,min=1,max=200"`
	Author    string `json:"author" validate:"required,min=1,max=200"`
	Publisher string `json:"publisher" validate:"required,min=1,max=200"`
	Published string `json:"published" validate:"omitempty,datetime=2006-01-02"`
	Price     string `json:"price" validate:"required"`
	Version   int    `json:"version"`
}

func (req itemRequest) fields() (Fields, error) {
	price, err := ParsePrice(req.Price)
	if err != nil {
		return Fields{}, err
	}
	var published time.Time
	if req.Published != "" {
		published, err = time.Parse(time.DateOnly, req.Published)
		if err != nil {
			return Fields{}, apperror.Validation("published must be YYYY-MM-DD")
		}
	}
	return Fields{
		Title:       req.Title,
		Author:      req.Author,
		Publisher:   req.Publisher,
		PublishedAt: published,
		Price:       price,
	}, nil
}

func (h *Handler) HandleListItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.ListItems(r.Context())
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	if items == nil {
		items = []Item{}
	}
	httpx.WriteJSON(w, http.StatusOK, items)
}

func (h *Handler) HandleGetItem(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.UUIDParam(r, "itemID")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	item, err := h.service.GetItem(r.Context(), id)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, item)
}

func (h *Handler) HandleAddItem(w http.ResponseWriter, r *http.Request) {
	var req itemRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	fields, err := req.fields()
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	item, err := h.service.AddItem(r.Context(), fields)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, item)
}

func (h *Handler) HandleUpdateItem(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.UUIDParam(r, "itemID")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	var req itemRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	if req.Version <= 0 {
		httpx.WriteError(w, r, apperror.Validation("version is required"))
		return
	}
	fields, err := req.fields()
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	item, err := h.service.UpdateItem(r.Context(), id, fields, req.Version)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, item)
}
