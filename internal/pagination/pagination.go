// Package pagination normalises page/limit query values and builds the list
// envelope returned by the REST surface.
package pagination

import (
	"math"
	"strconv"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100

	// MaxPage keeps Offset()+Limit within int for any accepted limit.
	MaxPage = math.MaxInt / MaxLimit
)

// Params is a normalised 1-based page request.
type Params struct {
	Page  int
	Limit int
}

// New clamps page and limit to sane values: 1 <= page <= MaxPage,
// 1 <= limit <= MaxLimit. A non-positive limit falls back to DefaultLimit.
func New(page, limit int) Params {
	if page < 1 {
		page = 1
	}
	if page > MaxPage {
		page = MaxPage
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	return Params{Page: page, Limit: limit}
}

// Parse builds Params from raw query strings. Unparsable values use defaults.
func Parse(page, limit string) Params {
	p, _ := strconv.Atoi(page)
	l, _ := strconv.Atoi(limit)
	return New(p, l)
}

// Offset is the number of rows to skip.
func (p Params) Offset() int {
	return (p.Page - 1) * p.Limit
}

// Info is the pagination block of a list response.
type Info struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

// Page is a single page of results.
type Page[T any] struct {
	Items      []T  `json:"items"`
	Pagination Info `json:"pagination"`
}

// NewPage wraps items with pagination info. Items is never nil so it encodes
// as [] rather than null. TotalPages is at least 1.
func NewPage[T any](items []T, p Params, total int) Page[T] {
	if items == nil {
		items = []T{}
	}
	pages := 1
	if total > 0 {
		pages = (total + p.Limit - 1) / p.Limit
	}
	return Page[T]{
		Items: items,
		Pagination: Info{
			Page:       p.Page,
			Limit:      p.Limit,
			Total:      total,
			TotalPages: pages,
		},
	}
}
