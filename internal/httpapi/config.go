package httpapi

import "time"

// maxBodyBytes controls the maximum allowed request body size for JSON endpoints.
var maxBodyBytes int64 = 1 << 20

// SetMaxBodyBytes allows configuring the maximum request body size.
func SetMaxBodyBytes(n int64) {
	if n <= 0 {
		maxBodyBytes = 1 << 20
		return
	}
	maxBodyBytes = n
}

// pullTimeout bounds blocking (non-streaming) pull requests.
// Zero means no additional timeout beyond the request context.
var pullTimeout time.Duration

// SetPullTimeout sets the blocking pull timeout (0 disables).
func SetPullTimeout(d time.Duration) {
	if d < 0 {
		d = 0
	}
	pullTimeout = d
}

// CORS configuration (opt-in). If disabled, no CORS middleware is added.
var (
	corsEnabled        bool
	corsAllowedOrigins []string
	corsAllowedMethods []string
	corsAllowedHeaders []string
)

// SetCORSOptions configures CORS behavior for the HTTP server.
func SetCORSOptions(enabled bool, origins, methods, headers []string) {
	corsEnabled = enabled
	corsAllowedOrigins = append([]string(nil), origins...)
	corsAllowedMethods = append([]string(nil), methods...)
	corsAllowedHeaders = append([]string(nil), headers...)
}

// Per-IP rate limiting (opt-in). rps <= 0 disables it.
var (
	rateLimitRPS   float64
	rateLimitBurst int
)

// SetRateLimit configures per-client request rate limiting.
func SetRateLimit(rps float64, burst int) {
	if rps < 0 {
		rps = 0
	}
	if burst <= 0 {
		burst = 1
	}
	rateLimitRPS = rps
	rateLimitBurst = burst
}
