package constants

const (
	// TokenType for Bearer authentication
	TokenType = "Bearer"

	// AuthHeaderName is the name of the Authorization header
	AuthHeaderName = "Authorization"

	// TokenQueryParam carries the ephemeral token on handshake requests
	TokenQueryParam = "token"
)

// Routes
const (
	TokenPath     = "/auth/token"
	HandshakePath = "/auth/handshake"
	HealthPath    = "/health"
	OpenAPIPath   = "/openapi.json"
)

// Error codes returned in the "error" field of JSON error bodies
const (
	ErrCodeNotAuthenticated    = "not_authenticated"
	ErrCodeInvalidToken        = "invalid_token"
	ErrCodeUpstreamUnavailable = "upstream_unavailable"
	ErrCodeServerError         = "server_error"
	ErrCodeMethodNotAllowed    = "method_not_allowed"
)

// Error descriptions surfaced to clients
const (
	MsgNotAuthenticated    = "Not authenticated"
	MsgIssueRejected       = "Could not generate ephemeral token"
	MsgUpstreamUnavailable = "Identity provider unavailable"
	MsgIssuanceFailed      = "Could not generate ephemeral token"
	MsgConsumeRejected     = "Token consumed, or not found, or expired"
)
