// Package negotiate parses the Accept header and resolves a candidate set
// of response representations to the single best match.
package negotiate

import (
	"mime"
	"net/http"
	"sort"
	"strconv"
	"strings"
)

// Mime is a negotiated response representation.
type Mime int

// Priority order, low to high: Xml < Json < AP < Html. Ties on q-value are
// broken by this ordering, matching the HTML > AP > JSON > XML priority.
const (
	Xml Mime = iota
	Json
	AP
	Html
)

// Set is a bitset of candidate Mime values an endpoint is willing to produce.
type Set uint8

const (
	SetHTML Set = 1 << iota
	SetAP
	SetJSON
	SetXML
)

func (m Mime) toSingleton() Set {
	switch m {
	case Html:
		return SetHTML
	case AP:
		return SetAP
	case Json:
		return SetJSON
	case Xml:
		return SetXML
	default:
		return 0
	}
}

func (s Set) contains(m Set) bool { return s&m != 0 }

const asNamespace = "https://www.w3.org/ns/activitystreams"

// Reader wraps a request's Accept header for repeated negotiation.
type Reader struct {
	accept string
}

// NewReader extracts the Accept header from r, defaulting to empty (matches
// anything only via an explicit */* entry, never silently).
func NewReader(r *http.Request) Reader {
	return Reader{accept: r.Header.Get("Accept")}
}

type weighted struct {
	q float64
	m Mime
}

// Select returns the best representation in candidate per the Accept header,
// or false if nothing offered intersects candidate.
func (hr Reader) Select(candidate Set) (Mime, bool) {
	var picked []weighted
	for _, part := range splitAcceptList(hr.accept) {
		mt, params, err := mime.ParseMediaType(part)
		if err != nil {
			continue
		}
		q := 1.0
		if qv, ok := params["q"]; ok {
			if f, err := strconv.ParseFloat(qv, 64); err == nil {
				q = f
			}
		}
		typ, sub, _ := strings.Cut(mt, "/")

		var resolved Mime
		var matched bool
		switch {
		case typ == "*" && sub == "*":
			for _, m := range []Mime{Html, AP, Json, Xml} {
				if candidate.contains(m.toSingleton()) {
					resolved, matched = m, true
					break
				}
			}
		case typ == "text" && sub == "*":
			for _, m := range []Mime{Html, Xml} {
				if candidate.contains(m.toSingleton()) {
					resolved, matched = m, true
					break
				}
			}
		case typ == "text" && sub == "html":
			resolved, matched = Html, true
		case typ == "text" && sub == "xml":
			resolved, matched = Xml, true
		case typ == "text":
			// other text subtypes are ignored
		case typ == "application" && sub == "activity+json":
			resolved, matched = AP, true
		case typ == "application" && sub == "ld+json" && params["profile"] == asNamespace:
			resolved, matched = AP, true
		case typ == "application" && sub == "json":
			resolved, matched = Json, true
		}
		if !matched || !candidate.contains(resolved.toSingleton()) {
			continue
		}
		picked = append(picked, weighted{q: q, m: resolved})
	}
	if len(picked) == 0 {
		return 0, false
	}
	sort.Slice(picked, func(i, j int) bool {
		if picked[i].q != picked[j].q {
			return picked[i].q > picked[j].q
		}
		return picked[i].m > picked[j].m
	})
	return picked[0].m, true
}

func splitAcceptList(accept string) []string {
	if accept == "" {
		return nil
	}
	raw := strings.Split(accept, ",")
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// IsContentTypeAP reports whether a Content-Type value is one of the two
// recognized ActivityPub media types.
func IsContentTypeAP(contentType string) bool {
	mt, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	typ, sub, _ := strings.Cut(mt, "/")
	if typ != "application" {
		return false
	}
	switch sub {
	case "activity+json":
		return true
	case "ld+json":
		return params["profile"] == asNamespace
	default:
		return false
	}
}
