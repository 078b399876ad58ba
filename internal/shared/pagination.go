package shared

import (
	"math"
	"net/http"
	"strconv"
)

// DefaultPerPage is used when a listing does not ask for a page size.
const DefaultPerPage = 20

// Pagination contains metadata for paginated listings.
type Pagination struct {
	Page       int
	PerPage    int
	Total      int
	TotalPages int
}

// NewPagination computes pagination metadata. Page is clamped to the last
// page when it runs past the end.
func NewPagination(page, perPage, total int) Pagination {
	if perPage <= 0 {
		perPage = DefaultPerPage
	}
	if page <= 0 {
		page = 1
	}
	totalPages := int(math.Ceil(float64(total) / float64(perPage)))
	if totalPages > 0 && page > totalPages {
		page = totalPages
	}
	return Pagination{Page: page, PerPage: perPage, Total: total, TotalPages: totalPages}
}

// PaginationFromRequest reads ?page= from the query string.
func PaginationFromRequest(r *http.Request, total int) Pagination {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	return NewPagination(page, DefaultPerPage, total)
}

// Bounds returns the slice bounds of the current page.
func (p Pagination) Bounds() (start, end int) {
	start = (p.Page - 1) * p.PerPage
	if start > p.Total {
		start = p.Total
	}
	end = start + p.PerPage
	if end > p.Total {
		end = p.Total
	}
	return start, end
}

// HasPrev reports whether a previous page exists.
func (p Pagination) HasPrev() bool { return p.Page > 1 }

// HasNext reports whether a next page exists.
func (p Pagination) HasNext() bool { return p.Page < p.TotalPages }

// PrevPage is the previous page number.
func (p Pagination) PrevPage() int { return p.Page - 1 }

// NextPage is the next page number.
func (p Pagination) NextPage() int { return p.Page + 1 }
