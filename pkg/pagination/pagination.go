package pagination

import (
	"net/http"
	"strconv"
)

// Params holds pagination parameters extracted from query strings.
type Params struct {
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
	Offset   int `json:"-"`
}

// DefaultParams returns sensible pagination defaults.
func DefaultParams() Params {
	return Params{
		Page:     1,
		PageSize: 50,
		Offset:   0,
	}
}

// FromRequest extracts pagination parameters from an HTTP request.
func FromRequest(r *http.Request) Params {
	p := DefaultParams()

	if page := r.URL.Query().Get("page"); page != "" {
		if v, err := strconv.Atoi(page); err == nil && v > 0 {
			p.Page = v
		}
	}

	if size := r.URL.Query().Get("page_size"); size != "" {
		if v, err := strconv.Atoi(size); err == nil && v > 0 && v <= 100 {
			p.PageSize = v
		}
	}

	p.Offset = (p.Page - 1) * p.PageSize
	return p
}
