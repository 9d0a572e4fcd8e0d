package relay

import "time"

// Security/performance limits.
const (
	// Max bytes per websocket frame read (hard limit).
	maxFrameBytes = 64 << 10 // 64 KiB

	// Max message text length (runes).
	maxMessageChars = 4000

	// History query bounds for the archive-backed endpoints.
	defaultHistoryLimit = 30
	maxHistoryLimit     = 100
)

const (
	// Heartbeat defaults (can be overridden by env in ws_gateway.go).
	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second

	// Per-connection rate limits (events per window).
	rateLimitEvents = 120
	rateLimitWindow = 10 * time.Second

	// Upper bound on any single external-store call. No store call may stall
	// a request indefinitely; only the one request fails on expiry.
	defaultStoreTimeout = 3 * time.Second
)
