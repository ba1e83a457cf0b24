package http

import (
	"net/http"
	"sort"

	"github.com/golang/gddo/httputil/header"
)

// negotiateContentType picks the content type to respond with, from
// those available in order of preference. Of the types the Accept
// header mentions, the one with the highest quality wins, ties going
// to the earlier preference. No Accept header means the first
// preference; no acceptable type means "".
func negotiateContentType(r *http.Request, orderedPref []string) string {
	specs := header.ParseAccept(r.Header, "Accept")
	if len(specs) == 0 {
		return orderedPref[0]
	}

	var acceptable []header.AcceptSpec
	for _, spec := range specs {
		if rank(orderedPref, spec.Value) < len(orderedPref) {
			acceptable = append(acceptable, spec)
		}
	}
	if len(acceptable) == 0 {
		return ""
	}
	sort.SliceStable(acceptable, func(i, j int) bool {
		if acceptable[i].Q != acceptable[j].Q {
			return acceptable[i].Q > acceptable[j].Q
		}
		return rank(orderedPref, acceptable[i].Value) < rank(orderedPref, acceptable[j].Value)
	})
	return acceptable[0].Value
}

// rank is the position of s in prefs, or len(prefs) if it's absent.
func rank(prefs []string, s string) int {
	for i, p := range prefs {
		if p == s {
			return i
		}
	}
	return len(prefs)
}
