package negotiate

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func reader(accept string) Reader {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	if accept != "" {
		r.Header.Set("Accept", accept)
	}
	return NewReader(r)
}

func TestSelect(t *testing.T) {
	cases := []struct {
		name      string
		accept    string
		candidate Set
		want      Mime
		wantOK    bool
	}{
		{
			name:      "higher q-value prefers AP over low-weighted html",
			accept:    "text/html;q=0.1, application/activity+json",
			candidate: SetHTML | SetAP,
			want:      AP,
			wantOK:    true,
		},
		{
			name:      "single exact match",
			accept:    "text/html",
			candidate: SetHTML | SetAP | SetJSON,
			want:      Html,
			wantOK:    true,
		},
		{
			name:      "plain json",
			accept:    "application/json",
			candidate: SetAP | SetJSON,
			want:      Json,
			wantOK:    true,
		},
		{
			name:      "candidate intersection empty yields none",
			accept:    "application/activity+json",
			candidate: SetHTML | SetJSON,
			wantOK:    false,
		},
		{
			name:      "equal q picks highest priority among candidates",
			accept:    "application/json, application/activity+json, text/html",
			candidate: SetAP | SetJSON | SetHTML,
			want:      Html,
			wantOK:    true,
		},
		{
			name:      "equal q without html falls to AP",
			accept:    "application/json, application/activity+json",
			candidate: SetAP | SetJSON | SetHTML,
			want:      AP,
			wantOK:    true,
		},
		{
			name:      "wildcard picks first priority in candidate",
			accept:    "*/*",
			candidate: SetJSON | SetXML,
			want:      Json,
			wantOK:    true,
		},
		{
			name:      "text wildcard restricts to html/xml",
			accept:    "text/*",
			candidate: SetHTML | SetAP | SetJSON | SetXML,
			want:      Html,
			wantOK:    true,
		},
		{
			name:      "ld+json with AS profile is AP",
			accept:    `application/ld+json; profile="https://www.w3.org/ns/activitystreams"`,
			candidate: SetAP,
			want:      AP,
			wantOK:    true,
		},
		{
			name:      "ld+json without profile is not recognized",
			accept:    "application/ld+json",
			candidate: SetAP | SetJSON,
			wantOK:    false,
		},
		{
			name:      "empty accept matches nothing",
			accept:    "",
			candidate: SetHTML | SetAP,
			wantOK:    false,
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, ok := reader(c.accept).Select(c.candidate)
			if ok != c.wantOK {
				t.Fatalf("ok = %v, want %v", ok, c.wantOK)
			}
			if ok && got != c.want {
				t.Fatalf("mime = %v, want %v", got, c.want)
			}
		})
	}
}

func TestNegotiationMonotonicity(t *testing.T) {
	// select(A, S) in S ∪ {none}; select(A, S') >= select(A, S) in priority when S subset S'.
	accept := "text/html;q=0.5, application/activity+json;q=0.5"
	small := SetAP
	big := SetHTML | SetAP
	gotSmall, okSmall := reader(accept).Select(small)
	if !okSmall || gotSmall.toSingleton()&small == 0 {
		t.Fatalf("select over S must stay within S")
	}
	gotBig, okBig := reader(accept).Select(big)
	if !okBig {
		t.Fatalf("expected a match over the superset")
	}
	if gotBig < gotSmall {
		t.Fatalf("select(S') = %v should be >= select(S) = %v in priority", gotBig, gotSmall)
	}
}

func TestIsContentTypeAP(t *testing.T) {
	cases := map[string]bool{
		"application/activity+json": true,
		`application/ld+json; profile="https://www.w3.org/ns/activitystreams"`: true,
		"application/ld+json": false,
		"application/json":    false,
		"text/html":           false,
	}
	for in, want := range cases {
		if got := IsContentTypeAP(in); got != want {
			t.Errorf("IsContentTypeAP(%q) = %v, want %v", in, got, want)
		}
	}
}
