package gateway

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/weft-labs/weft/internal/engine"
	"github.com/weft-labs/weft/internal/ir"
)

// NewRouter builds the HTTP surface: POST /{module}/{operation} with a
// JSON object body, responding with the rule chain's respond body (or
// the operation output on passthrough paths) as JSON.
func NewRouter(g *Gateway) chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(requestLogger)
	r.Post("/{module}/{operation}", g.handleCall)
	return r
}

func (g *Gateway) handleCall(w http.ResponseWriter, r *http.Request) {
	path := "/" + chi.URLParam(r, "module") + "/" + chi.URLParam(r, "operation")

	body, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	out, err := g.Call(r.Context(), path, body)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	data, err := ir.MarshalValue(out)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// readBody decodes the request body into an object within the value
// domain. An empty body is an empty object.
func readBody(r *http.Request) (ir.Object, error) {
	data, err := io.ReadAll(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return ir.Object{}, nil
	}

	v, err := ir.FromJSON(data)
	if err != nil {
		return nil, err
	}
	obj, ok := v.(ir.Object)
	if !ok {
		return nil, errors.New("request body must be a JSON object")
	}
	return obj, nil
}

func statusFor(err error) int {
	var re *engine.RuntimeError
	switch {
	case errors.Is(err, ErrDenied):
		return http.StatusForbidden
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, ErrNoRespond):
		return http.StatusGatewayTimeout
	case errors.As(err, &re) && re.Code == engine.ErrCodeUnknownOperation:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	body, merr := ir.MarshalValue(ir.Object{"error": ir.String(err.Error())})
	if merr != nil {
		http.Error(w, err.Error(), status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// requestLogger logs one line per call with method, path, status, and
// elapsed time.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"elapsed", time.Since(start),
		)
	})
}
