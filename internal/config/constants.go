package config

import "time"

// HTTP server timeouts
const (
	ServerRequestTimeout  = 40 * time.Second
	ServerReadTimeout     = 15 * time.Second
	ServerWriteTimeout    = 45 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 30 * time.Second
)

// ClientRequestTimeout bounds a CLI call to the server. It outlasts the
// server's own handler timeout, which covers the two sequential upstream calls
// of a listing.
const ClientRequestTimeout = ServerWriteTimeout + 5*time.Second

// Redis ping timeout at startup
const RedisPingTimeout = 5 * time.Second

// Pairing code space and generation
const (
	PairingCodeDigits      = 3
	PairingCodeSpace       = 1000
	PairingMaxCodeAttempts = 100
	PairingSessionTTL      = 10 * time.Minute
)

// Receiver polling. The refresh threshold keeps the displayed code well
// inside PairingSessionTTL.
const (
	PollInterval         = 2 * time.Second
	PollRefreshThreshold = 240
)

// Upstream (Xtream) requests
const (
	UpstreamTimeout   = 15 * time.Second
	UpstreamUserAgent = "Mozilla/5.0"
)

// Default rate limiting for the pairing endpoint, per client IP
const DefaultPairRateLimitPerMin = 60
