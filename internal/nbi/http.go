package nbi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/signalsfoundry/meshroute/internal/logging"
	"github.com/signalsfoundry/meshroute/internal/nbi/types"
	"github.com/signalsfoundry/meshroute/internal/observability"
)

const multipartMemory = 8 << 20

// HTTPHandler serves the JSON API.
type HTTPHandler struct {
	svc     *TransmissionService
	metrics *observability.NBICollector
	expose  http.Handler
	log     logging.Logger
}

// HTTPOption customises NewHTTPHandler.
type HTTPOption func(*HTTPHandler)

// WithHTTPMetrics records per-route request metrics on c.
func WithHTTPMetrics(c *observability.NBICollector) HTTPOption {
	return func(h *HTTPHandler) { h.metrics = c }
}

// WithMetricsEndpoint serves h at /metrics.
func WithMetricsEndpoint(handler http.Handler) HTTPOption {
	return func(h *HTTPHandler) { h.expose = handler }
}

// NewHTTPHandler builds the router for svc.
func NewHTTPHandler(svc *TransmissionService, log logging.Logger, opts ...HTTPOption) http.Handler {
	if log == nil {
		log = logging.Noop()
	}
	h := &HTTPHandler{svc: svc, log: log}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	r := mux.NewRouter()
	r.Use(RequestIDMiddleware(log))
	h.RegisterRoutes(r)
	return r
}

// RegisterRoutes attaches the API to router.
func (h *HTTPHandler) RegisterRoutes(router *mux.Router) {
	router.Handle("/health", h.wrap("health", http.HandlerFunc(h.Health))).Methods(http.MethodGet)
	router.Handle("/api/transmit", h.wrap("transmit", http.HandlerFunc(h.Transmit))).Methods(http.MethodPost)
	router.Handle("/api/routes", h.wrap("routes", http.HandlerFunc(h.Routes))).Methods(http.MethodGet)
	if h.expose != nil {
		router.Handle("/metrics", h.expose).Methods(http.MethodGet)
	}
}

func (h *HTTPHandler) wrap(route string, next http.Handler) http.Handler {
	next = TracingMiddleware(route, next)
	if h.metrics != nil {
		next = h.metrics.HTTPMiddleware(route, next)
	}
	return next
}

// Health reports liveness.
func (h *HTTPHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Transmit accepts either a multipart form with a "file" part or a raw
// request body. src and dst come from the query string or form fields.
func (h *HTTPHandler) Transmit(w http.ResponseWriter, r *http.Request) {
	req, err := h.readTransmitRequest(w, r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp, err := h.svc.Transmit(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Routes reports the decision for the src/dst query parameters.
func (h *HTTPHandler) Routes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	view, err := h.svc.Routes(r.Context(), q.Get("src"), q.Get("dst"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *HTTPHandler) readTransmitRequest(w http.ResponseWriter, r *http.Request) (types.TransmitRequest, error) {
	limit := int64(h.svc.MaxPayloadBytes)
	if limit > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, limit+multipartMemory)
	}

	var req types.TransmitRequest
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if strings.HasPrefix(mediaType, "multipart/") {
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			return req, bodyError(err)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			return req, fmt.Errorf("%w: multipart field \"file\" is required", ErrInvalidRequest)
		}
		defer file.Close()
		if req.Payload, err = io.ReadAll(file); err != nil {
			return req, bodyError(err)
		}
		req.Filename = header.Filename
		req.Src = r.FormValue("src")
		req.Dst = r.FormValue("dst")
		return req, nil
	}

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		return req, bodyError(err)
	}
	q := r.URL.Query()
	req.Payload = payload
	req.Src = q.Get("src")
	req.Dst = q.Get("dst")
	req.Filename = q.Get("filename")
	return req, nil
}

func bodyError(err error) error {
	var tooBig *http.MaxBytesError
	if errors.As(err, &tooBig) {
		return fmt.Errorf("%w: body over %d bytes", ErrPayloadTooLarge, tooBig.Limit)
	}
	return fmt.Errorf("%w: read body: %v", ErrInvalidRequest, err)
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := HTTPStatus(err)
	if code >= http.StatusInternalServerError {
		logging.FromContext(r.Context(), h.log).Error(r.Context(), "request failed", logging.Err(err))
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
