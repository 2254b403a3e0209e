package api

// Route constants for the API endpoints

const (
	// Health endpoint
	PingEndpoint = "/ping" // Health check endpoint

	// Claim endpoints
	SessionQueryParam     = "session"               // URL query parameter for session ID
	ClaimRewardEndpoint   = "/api/claimReward"      // POST: Create a claim for a session
	SessionStatusEndpoint = "/api/getSessionStatus" // GET: Session status with claim info
	QueueStatusEndpoint   = "/api/getQueueStatus"   // GET: Aggregated queue snapshot, cached

	// WebSocket endpoint
	ClaimWSEndpoint = "/ws/claim" // GET: Subscribe to claim progress updates
)

// LogExcludedPrefixes are URL path prefixes skipped by the request logging
// middleware.
var LogExcludedPrefixes = []string{PingEndpoint, QueueStatusEndpoint}
