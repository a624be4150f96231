package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/netip"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"glgapp.org/internal/auth"
	"glgapp.org/internal/gateway"
	"glgapp.org/internal/obs"
	"glgapp.org/internal/rules"
)

const serviceName = "glg-api"

// Pinger is a dependency the readiness probe checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyProbe pings the warehouse and the profile store.
type ReadyProbe struct {
	Warehouse Pinger
	Profiles  Pinger
	Timeout   time.Duration
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	timeout := rp.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	for _, p := range []Pinger{rp.Warehouse, rp.Profiles} {
		if p == nil {
			continue
		}
		if err := p.Ping(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Dispatcher runs one gateway endpoint.
type Dispatcher interface {
	Dispatch(ctx context.Context, endpoint string, raw map[string]any, token string) gateway.Response
}

// VideoLister returns the cached third-party listing.
type VideoLister interface {
	List(ctx context.Context) (json.RawMessage, error)
}

// Options wires the API.
type Options struct {
	Dispatcher   Dispatcher
	Videos       VideoLister
	Verifier     auth.Verifier
	Ready        ReadyProbe
	Version      string
	RateBurst    int
	RatePerSec   int
	MaxBodyBytes int64
	CORSOrigins  []string

	// TrustedProxies may set X-Forwarded-For. Without any, the peer address is
	// the client address.
	TrustedProxies []netip.Prefix
}

// API is the HTTP layer.
type API struct {
	mux          *http.ServeMux
	dispatcher   Dispatcher
	videos       VideoLister
	verifier     auth.Verifier
	readyProbe   ReadyProbe
	version      string
	rateBurst    int
	ratePerSec   int
	maxBodyBytes int64
	corsOrigins  []string
	proxies      []netip.Prefix
}

func New(opts Options) *API {
	a := &API{
		mux:          http.NewServeMux(),
		dispatcher:   opts.Dispatcher,
		videos:       opts.Videos,
		verifier:     opts.Verifier,
		readyProbe:   opts.Ready,
		version:      opts.Version,
		rateBurst:    opts.RateBurst,
		ratePerSec:   opts.RatePerSec,
		maxBodyBytes: opts.MaxBodyBytes,
		corsOrigins:  opts.CORSOrigins,
		proxies:      opts.TrustedProxies,
	}
	if a.rateBurst < 1 {
		a.rateBurst = 20
	}
	if a.ratePerSec < 1 {
		a.ratePerSec = 10
	}
	if a.maxBodyBytes < 1 {
		a.maxBodyBytes = 1 << 20
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)
	a.mux.Handle("/metrics", obs.Handler())

	for _, k := range rules.Kinds() {
		a.mux.HandleFunc("/"+k.String(), a.endpoint(k))
	}
	a.mux.HandleFunc("/get_videos", a.GetVideos)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not found", nil)
	})

	return a
}

// Handler returns the fully wrapped handler: tracing, metrics, then the middleware chain.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = MaxBodyBytes(h, a.maxBodyBytes)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = CORS(a.corsOrigins)(h)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RealIP(h, a.proxies)
	h = RequestID(h)
	h = obs.Instrument(h)
	return otelhttp.NewHandler(h, serviceName)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		obs.SetReady(false)
		obs.Warn("readiness check failed", map[string]any{
			"request_id": requestIDFrom(r.Context()),
			"error":      err,
		})
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	endpoints := make([]string, 0, len(rules.Kinds())+1)
	for _, k := range rules.Kinds() {
		endpoints = append(endpoints, "/"+k.String())
	}
	endpoints = append(endpoints, "/get_videos")
	writeJSON(w, http.StatusOK, map[string]any{
		"name":      serviceName,
		"time":      time.Now().UTC().Format(time.RFC3339),
		"version":   a.version,
		"endpoints": endpoints,
	})
}

// --- helpers ---

type errorBody struct {
	Error     string             `json:"error"`
	RequestID string             `json:"request_id,omitempty"`
	Details   []rules.FieldError `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string, details []rules.FieldError) {
	if code == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="glg-api"`)
	}
	writeJSON(w, code, errorBody{
		Error:     msg,
		RequestID: requestIDFrom(r.Context()),
		Details:   details,
	})
}

var errBodyTooLarge = errors.New("request body too large")

// decodeJSON reads a JSON object. Numbers stay json.Number so ids keep full
// precision; an empty body decodes to an empty object.
func decodeJSON(r *http.Request) (map[string]any, error) {
	out := map[string]any{}
	if r.Body == nil {
		return out, nil
	}
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			return map[string]any{}, nil
		case errors.As(err, &tooLarge):
			return nil, errBodyTooLarge
		}
		return nil, errors.New("request body must be a JSON object")
	}
	if dec.More() {
		return nil, errors.New("request body must contain a single JSON object")
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}
