package query

import (
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/emaalouf/HIS-sub006/pkg/pagination"
)

// Reserved list parameters. Everything else in the query string is a
// candidate exact-match filter.
const (
	ParamPage      = "page"
	ParamLimit     = "limit"
	ParamSearch    = "search"
	ParamStartDate = "startDate"
	ParamEndDate   = "endDate"
	ParamSortBy    = "sortBy"
	ParamSortOrder = "sortOrder"
)

var reservedParams = map[string]bool{
	ParamPage: true, ParamLimit: true, ParamSearch: true,
	ParamStartDate: true, ParamEndDate: true,
	ParamSortBy: true, ParamSortOrder: true,
}

func isReservedParam(p string) bool { return reservedParams[p] }

// Request is a generic list request before it is checked against a
// descriptor. Page and Limit are already coerced.
type Request struct {
	Page      int
	Limit     int
	Search    string
	Filters   map[string]string
	StartDate string
	EndDate   string
	SortBy    string
	SortOrder string
}

// ParseRequest reads a list request from URL query values.
func ParseRequest(v url.Values) Request {
	p := pagination.Parse(v.Get(ParamPage), v.Get(ParamLimit))
	r := Request{
		Page:      p.Page,
		Limit:     p.Limit,
		Search:    strings.TrimSpace(v.Get(ParamSearch)),
		StartDate: strings.TrimSpace(v.Get(ParamStartDate)),
		EndDate:   strings.TrimSpace(v.Get(ParamEndDate)),
		SortBy:    strings.TrimSpace(v.Get(ParamSortBy)),
		SortOrder: strings.TrimSpace(v.Get(ParamSortOrder)),
		Filters:   make(map[string]string),
	}
	for k, vals := range v {
		if reservedParams[k] || len(vals) == 0 {
			continue
		}
		// Repeated params are folded into the comma form accepted by In filters.
		r.Filters[k] = strings.Join(vals, ",")
	}
	return r
}

// RequestFromContext reads a list request from an echo context.
func RequestFromContext(c echo.Context) Request {
	return ParseRequest(c.QueryParams())
}

// Pagination returns the coerced page parameters of the request.
func (r Request) Pagination() pagination.Params {
	return pagination.Normalize(r.Page, r.Limit)
}
