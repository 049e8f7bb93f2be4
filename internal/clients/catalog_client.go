// internal/clients/catalog_client.go
package clients

import (
	"context"
	"net/http"
	"net/url"

	"bookhold/internal/catalog"
	"bookhold/internal/circulation"

	"github.com/google/uuid"
)

// NewItem is the body of an add-item request. Price uses "." or "," as separator.
type NewItem struct {
	Title     string `json:"title"`
	Author    string `json:"author"`
	Publisher string `json:"publisher"`
	Published string `json:"published,omitempty"`
	Price     string `json:"price"`
}

func (c *Client) AddItem(ctx context.Context, token string, item NewItem) (*catalog.Item, error) {
	var out catalog.Item
	if err := c.do(ctx, http.MethodPost, "/items", token, item, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetItem(ctx context.Context, id uuid.UUID) (*catalog.Item, error) {
	var out catalog.Item
	if err := c.do(ctx, http.MethodGet, "/items/"+id.String(), "", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Available(ctx context.Context, id uuid.UUID) (bool, error) {
	var out struct {
		Available bool `json:"available"`
	}
	if err := c.do(ctx, http.MethodGet, "/items/"+id.String()+"/availability", "", nil, &out); err != nil {
		return false, err
	}
	return out.Available, nil
}

func (c *Client) Search(ctx context.Context, query string) ([]circulation.ItemSummary, error) {
	var out []circulation.ItemSummary
	if err := c.do(ctx, http.MethodGet, "/items/available?q="+url.QueryEscape(query), "", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Reserve(ctx context.Context, token string, itemID uuid.UUID) (*circulation.View, error) {
	var out circulation.View
	if err := c.do(ctx, http.MethodPost, "/items/"+itemID.String()+"/reserve", token, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// HeldReservations lists every held, unlapsed reservation. Staff only.
func (c *Client) HeldReservations(ctx context.Context, token string) ([]circulation.View, error) {
	var out []circulation.View
	if err := c.do(ctx, http.MethodGet, "/reservations/manage", token, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Cancel(ctx context.Context, token string, reservationID uuid.UUID) error {
	return c.do(ctx, http.MethodDelete, "/reservations/"+reservationID.String(), token, nil, nil)
}
