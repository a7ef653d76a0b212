package httputil

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
)

// ParsePathString extracts a string path parameter
func ParsePathString(r *http.Request, key string) (string, error) {
	vars := mux.Vars(r)
	str := vars[key]
	if str == "" {
		return "", fmt.Errorf("missing path parameter: %s", key)
	}
	return str, nil
}

// ParseQueryString extracts a string query parameter
func ParseQueryString(r *http.Request, key string, defaultVal string) string {
	val := r.URL.Query().Get(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// ParseQueryInt extracts and parses an integer query parameter
func ParseQueryInt(r *http.Request, key string, defaultVal int) (int, error) {
	str := r.URL.Query().Get(key)
	if str == "" {
		return defaultVal, nil
	}
	val, err := strconv.Atoi(str)
	if err != nil {
		return 0, fmt.Errorf("invalid integer for query param %s: %s", key, str)
	}
	return val, nil
}

// ParseQueryFloat extracts and parses a float query parameter
func ParseQueryFloat(r *http.Request, key string, defaultVal float64) (float64, error) {
	str := r.URL.Query().Get(key)
	if str == "" {
		return defaultVal, nil
	}
	val, err := strconv.ParseFloat(str, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number for query param %s: %s", key, str)
	}
	return val, nil
}

// RequireQueryFloat extracts a float query parameter that must be present
func RequireQueryFloat(r *http.Request, key string) (float64, error) {
	str := r.URL.Query().Get(key)
	if str == "" {
		return 0, fmt.Errorf("missing required query param: %s", key)
	}
	val, err := strconv.ParseFloat(str, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number for query param %s: %s", key, str)
	}
	return val, nil
}

// ParseQueryBool extracts and parses a boolean query parameter. The returned
// pointer is nil when the parameter is absent.
func ParseQueryBool(r *http.Request, key string) (*bool, error) {
	str := r.URL.Query().Get(key)
	if str == "" {
		return nil, nil
	}
	val, err := strconv.ParseBool(str)
	if err != nil {
		return nil, fmt.Errorf("invalid boolean for query param %s: %s", key, str)
	}
	return &val, nil
}

// ParseQueryCSV extracts a comma-separated query parameter as a slice,
// trimming whitespace and dropping empty entries.
func ParseQueryCSV(r *http.Request, key string) []string {
	str := r.URL.Query().Get(key)
	if str == "" {
		return nil
	}
	parts := strings.Split(str, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// ClientIP returns the originating client address, preferring proxy headers.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if idx := strings.IndexByte(fwd, ','); idx > 0 {
			return strings.TrimSpace(fwd[:idx])
		}
		return strings.TrimSpace(fwd)
	}
	if real := r.Header.Get("X-Real-IP"); real != "" {
		return real
	}
	host := r.RemoteAddr
	if idx := strings.LastIndexByte(host, ':'); idx > 0 {
		return host[:idx]
	}
	return host
}
