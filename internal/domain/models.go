package domain

import "time"

// Envelope wraps a multi-record read. Count always equals len(Results).
type Envelope[T any] struct {
	Count   int `json:"count"`
	Results []T `json:"results"`
}

// NewEnvelope builds an Envelope; a nil slice becomes an empty one so that
// an empty collection serializes as {"count":0,"results":[]}.
func NewEnvelope[T any](results []T) Envelope[T] {
	if results == nil {
		results = []T{}
	}
	return Envelope[T]{Count: len(results), Results: results}
}

// Category is a product category.
type Category struct {
	ID          string    `json:"id" bson:"_id,omitempty" reindex:"id,,pk"`
	Name        string    `json:"name" bson:"name" reindex:"name"`
	DisplayName string    `json:"display_name,omitempty" bson:"display_name,omitempty"`
	Description string    `json:"description,omitempty" bson:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt,omitzero" bson:"createdAt,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt,omitzero" bson:"updatedAt,omitempty"`
}

// Product is a catalog item belonging to a category.
type Product struct {
	ID          string    `json:"id" bson:"_id,omitempty" reindex:"id,,pk"`
	Category    string    `json:"category" bson:"category" reindex:"category"`
	Name        string    `json:"name" bson:"name" reindex:"name"`
	DisplayName string    `json:"display_name,omitempty" bson:"display_name,omitempty"`
	Description string    `json:"description,omitempty" bson:"description,omitempty"`
	Price       float64   `json:"price,omitempty" bson:"price,omitempty"`
	InStock     int       `json:"in_stock,omitempty" bson:"in_stock,omitempty"`
	CreatedAt   time.Time `json:"createdAt,omitzero" bson:"createdAt,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt,omitzero" bson:"updatedAt,omitempty"`
}
