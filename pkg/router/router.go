package router

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

type HandlerFunc func(http.ResponseWriter, *http.Request)

type route struct {
	method  string // empty matches any method
	pattern string
	handler http.Handler
}

// Router is a small method+path router. Patterns use "*" for one path
// segment, or a trailing "/**" for any remainder. Routes are tried in
// registration order, so register specific routes before generic ones.
type Router struct {
	routes []route
	logger *slog.Logger
}

func New(logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{logger: logger}
}

type paramsKey struct{}

// Params returns the path segments matched by "*" in the route pattern.
func Params(r *http.Request) []string {
	p, _ := r.Context().Value(paramsKey{}).([]string)
	return p
}

// Param returns the i-th wildcard segment, or "" when absent.
func Param(r *http.Request, i int) string {
	p := Params(r)
	if i < 0 || i >= len(p) {
		return ""
	}
	return p[i]
}

// ServeHTTP dispatches to the first matching route and logs the request.
func (rt *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	start := time.Now()
	lrw := &loggingResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

	pathMatched := false
	handled := false
	for _, r := range rt.routes {
		params, ok := matchWildcardRoute(req.URL.Path, r.pattern)
		if !ok {
			continue
		}
		pathMatched = true
		if r.method != "" && r.method != req.Method {
			continue
		}
		if len(params) > 0 {
			req = req.WithContext(context.WithValue(req.Context(), paramsKey{}, params))
		}
		r.handler.ServeHTTP(lrw, req)
		handled = true
		break
	}
	if !handled {
		if pathMatched {
			// Path exists but method not allowed
			http.Error(lrw, "Method Not Allowed", http.StatusMethodNotAllowed)
		} else {
			http.Error(lrw, "Not Found", http.StatusNotFound)
		}
	}

	level := slog.LevelInfo
	if lrw.statusCode >= 500 {
		level = slog.LevelError
	}
	rt.logger.Log(req.Context(), level, "http request",
		"method", req.Method,
		"path", req.URL.Path,
		"status", lrw.statusCode,
		"duration", time.Since(start),
	)
}

// matchWildcardRoute checks if a request path matches a wildcard route
// pattern and returns the segments the wildcards matched. "*" matches
// exactly one segment; only a trailing "**" matches the remainder.
func matchWildcardRoute(requestPath, routePattern string) ([]string, bool) {
	requestSegments := strings.Split(strings.Trim(requestPath, "/"), "/")
	routeSegments := strings.Split(strings.Trim(routePattern, "/"), "/")

	if routeSegments[len(routeSegments)-1] == "**" {
		prefix := routeSegments[:len(routeSegments)-1]
		if len(requestSegments) < len(prefix) {
			return nil, false
		}
		params, ok := matchSegments(requestSegments[:len(prefix)], prefix)
		if !ok {
			return nil, false
		}
		return append(params, strings.Join(requestSegments[len(prefix):], "/")), true
	}

	if len(requestSegments) != len(routeSegments) {
		return nil, false
	}
	return matchSegments(requestSegments, routeSegments)
}

func matchSegments(request, route []string) ([]string, bool) {
	var params []string
	for i, routeSegment := range route {
		if routeSegment == "*" {
			if request[i] == "" {
				return nil, false
			}
			params = append(params, request[i])
			continue
		}
		if request[i] != routeSegment {
			return nil, false
		}
	}
	return params, true
}

// --- Register paths ---
func (rt *Router) register(method, path string, handler http.Handler) {
	rt.routes = append(rt.routes, route{method: method, pattern: path, handler: handler})
}

func (rt *Router) GET(path string, handler HandlerFunc) {
	rt.register(http.MethodGet, path, http.HandlerFunc(handler))
}

func (rt *Router) POST(path string, handler HandlerFunc) {
	rt.register(http.MethodPost, path, http.HandlerFunc(handler))
}

func (rt *Router) PUT(path string, handler HandlerFunc) {
	rt.register(http.MethodPut, path, http.HandlerFunc(handler))
}

func (rt *Router) DELETE(path string, handler HandlerFunc) {
	rt.register(http.MethodDelete, path, http.HandlerFunc(handler))
}

// Handle mounts handler for every method on path.
func (rt *Router) Handle(path string, handler http.Handler) {
	rt.register("", path, handler)
}

// Routes lists the registered "METHOD PATTERN" pairs in match order.
func (rt *Router) Routes() []string {
	out := make([]string, len(rt.routes))
	for i, r := range rt.routes {
		method := r.method
		if method == "" {
			method = "*"
		}
		out[i] = method + " " + r.pattern
	}
	return out
}

// --- Start server ---

// Start serves on addr until ctx is cancelled, then shuts down gracefully.
func (rt *Router) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           rt,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		rt.logger.Info("server started", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		rt.logger.Info("server shutting down", "addr", addr)
		return srv.Shutdown(shutdownCtx)
	}
}

// --- Logging response writer to capture status codes ---
type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}
