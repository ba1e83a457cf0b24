package http

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func acceptRequest(accept ...string) *http.Request {
	h := http.Header{}
	for _, a := range accept {
		h.Add("Accept", a)
	}
	return &http.Request{Header: h}
}

func TestNegotiateContentType(t *testing.T) {
	for _, c := range []struct {
		name   string
		accept []string
		prefs  []string
		want   string
	}{
		{"no accept header gives first choice", nil, []string{"application/json", "text/plain"}, "application/json"},
		{"nothing acceptable", []string{"text/html;q=0.9", "image/png"}, []string{"application/json"}, ""},
		{"equal quality goes to preference", []string{"text/plain,application/json"}, []string{"application/json", "text/plain"}, "application/json"},
		{"quality beats preference", []string{"application/json;q=0.5,text/plain;q=1.0"}, []string{"application/json", "text/plain"}, "text/plain"},
	} {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, negotiateContentType(acceptRequest(c.accept...), c.prefs))
		})
	}
}
