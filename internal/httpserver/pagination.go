package httpserver

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/google/uuid"
)

// DefaultPageLimit is used when the caller omits ?limit=.
const DefaultPageLimit = 100

// MaxPageLimit bounds ?limit= regardless of what the caller requests.
const MaxPageLimit = 1000

// Page describes a parsed id-cursor pagination request: results are ordered
// ascending by id, and Marker excludes rows with id <= Marker.
type Page struct {
	Limit  int
	Marker uuid.UUID // uuid.Nil if absent — the store excludes nothing
}

// ParsePage reads ?limit=N&marker=ID from the request, applying the default
// and a hard ceiling to limit, and leaving Marker as uuid.Nil when absent or
// unparseable (id-cursor pagination treats that as "start from the beginning").
func ParsePage(r *http.Request, defaultLimit int) Page {
	q := r.URL.Query()

	limit := defaultLimit
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	if raw := q.Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}

	var marker uuid.UUID
	if raw := q.Get("marker"); raw != "" {
		if id, err := uuid.Parse(raw); err == nil {
			marker = id
		}
	}

	return Page{Limit: limit, Marker: marker}
}

// Link is one entry in the "links" envelope returned alongside a page of results.
type Link struct {
	Href string `json:"href"`
	Rel  string `json:"rel"`
}

// Links builds the {self, next?} links envelope for a page of results.
// next is included only when the page returned exactly Limit rows — a full
// page is the signal that more rows may follow, per the pagination contract.
func Links(r *http.Request, page Page, returned int, lastID uuid.UUID) []Link {
	self := requestURL(r)
	links := []Link{{Href: self, Rel: "self"}}

	if returned < page.Limit {
		return links
	}

	next := *r.URL
	q := next.Query()
	q.Set("marker", lastID.String())
	q.Set("limit", strconv.Itoa(page.Limit))
	next.RawQuery = q.Encode()

	links = append(links, Link{Href: resolve(r, &next), Rel: "next"})
	return links
}

func requestURL(r *http.Request) string {
	u := *r.URL
	return resolve(r, &u)
}

func resolve(r *http.Request, u *url.URL) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if u.Host == "" {
		return fmt.Sprintf("%s://%s%s", scheme, r.Host, u.RequestURI())
	}
	return u.String()
}
