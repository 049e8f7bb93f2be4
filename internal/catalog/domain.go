// internal/catalog/domain.go
package catalog

import (
	"regexp"
	"strings"
	"time"

	"bookhold/internal/apperror"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Item is a single exclusive unit of inventory (one physical book).
type Item struct {
	ID                     uuid.UUID       `json:"id" db:"id"`
	Title                  string          `json:"title" db:"title"`
	Author                 string          `json:"author" db:"author"`
	Publisher              string          `json:"publisher" db:"publisher"`
	PublishedAt            time.Time       `json:"published_at" db:"published_at"`
	Price                  decimal.Decimal `json:"price" db:"price"`
	PermanentlyUnavailable bool            `json:"permanently_unavailable" db:"permanently_unavailable"`
	Version                int             `json:"version" db:"version"`
	CreatedAt              time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt              time.Time       `json:"updated_at" db:"updated_at"`
}

// Fields are the editable descriptive fields of an item.
type Fields struct {
	Title       string
	Author      string
	Publisher   string
	PublishedAt time.Time
	Price       decimal.Decimal
}

func (f Fields) validate() error {
	switch {
	case strings.TrimSpace(f.Title) == "":
		return apperror.Validation("title is required")
	case strings.TrimSpace(f.Author) == "":
		return apperror.Validation("author is required")
	case strings.TrimSpace(f.Publisher) == "":
		return apperror.Validation("publisher is required")
	case f.Price.IsNegative():
		return apperror.Validation("price must not be negative")
	}
	return nil
}

func (i *Item) apply(f Fields) {
	i.Title = strings.TrimSpace(f.Title)
	i.Author = strings.TrimSpace(f.Author)
	i.Publisher = strings.TrimSpace(f.Publisher)
	i.PublishedAt = f.PublishedAt
	i.Price = f.Price.Round(2)
}

var pricePattern = regexp.MustCompile(`^\d+([,.]\d{1,2})?$`)

// ParsePrice accepts "12", "12.5", "12,50" and returns an exact decimal.
func ParsePrice(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if !pricePattern.MatchString(s) {
		return decimal.Decimal{}, apperror.Validation("price %q must look like X.XX or X,XX", s)
	}
	d, err := decimal.NewFromString(strings.Replace(s, ",", ".", 1))
	if err != nil {
		return decimal.Decimal{}, apperror.Validation("price %q: %v", s, err)
	}
	return d, nil
}

// ItemAddedEvent is recorded when a new item enters the catalog.
type ItemAddedEvent struct {
	ID    uuid.UUID       `json:"id"`
	Title string          `json:"title"`
	Price decimal.Decimal `json:"price"`
}

// ItemUpdatedEvent is recorded when an item's descriptive fields change.
type ItemUpdatedEvent struct {
	ID         uuid.UUID       `json:"id"`
	Title      string          `json:"title"`
	Author     string          `json:"author"`
	Publisher  string          `json:"publisher"`
	Price      decimal.Decimal `json:"price"`
	NewVersion int             `json:"new_version"`
}
