package http

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	ecserrors "github.com/fluxcd/ecsroll/pkg/errors"
)

func NewAPIRouter() *mux.Router {
	r := mux.NewRouter()

	r.NewRoute().Name(Verify).Methods("GET").Path("/v1/verify")
	r.NewRoute().Name(Status).Methods("GET").Path("/v1/status")
	r.NewRoute().Name(Outcomes).Methods("GET").Path("/v1/outcomes")

	return r
}

func WriteError(w http.ResponseWriter, r *http.Request, code int, err error) {
	// Clients asking for JSON get the whole error, help included;
	// anyone else gets the text.
	if len(r.Header.Get("Accept")) > 0 {
		switch negotiateContentType(r, []string{"application/json", "text/plain"}) {
		case "application/json":
			body, encodeErr := json.Marshal(err)
			if encodeErr != nil {
				w.Header().Set(http.CanonicalHeaderKey("Content-Type"), "text/plain; charset=utf-8")
				w.WriteHeader(http.StatusInternalServerError)
				fmt.Fprintf(w, "Error encoding error response: %s\n\nOriginal error: %s", encodeErr.Error(), err.Error())
				return
			}
			w.Header().Set(http.CanonicalHeaderKey("Content-Type"), "application/json; charset=utf-8")
			w.WriteHeader(code)
			w.Write(body)
			return
		case "text/plain":
			w.Header().Set(http.CanonicalHeaderKey("Content-Type"), "text/plain; charset=utf-8")
			w.WriteHeader(code)
			var e *ecserrors.Error
			if errors.As(err, &e) && e.Help != "" {
				fmt.Fprint(w, e.Help)
				return
			}
			fmt.Fprint(w, err.Error())
			return
		}
	}
	w.Header().Set(http.CanonicalHeaderKey("Content-Type"), "text/plain; charset=utf-8")
	w.WriteHeader(code)
	fmt.Fprint(w, err.Error())
}

func JSONResponse(w http.ResponseWriter, r *http.Request, result interface{}) {
	body, err := json.Marshal(result)
	if err != nil {
		ErrorResponse(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

// ErrorResponse writes err with a status code chosen by its kind.
func ErrorResponse(w http.ResponseWriter, r *http.Request, apiError error) {
	var outErr *ecserrors.Error
	if !errors.As(apiError, &outErr) {
		outErr = ecserrors.CoverAllError(apiError)
	}
	code := http.StatusInternalServerError
	switch outErr.Kind {
	case ecserrors.ServiceNotFound:
		code = http.StatusNotFound
	case ecserrors.Precondition:
		code = http.StatusUnprocessableEntity
	case ecserrors.PlatformUnavailable:
		code = http.StatusServiceUnavailable
	}
	WriteError(w, r, code, outErr)
}
