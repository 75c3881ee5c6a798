package types

// X402Version is the x402 version enum.
type X402Version int

const (
	X402Version1 X402Version = 1
)

// Scheme is the scheme enum.
type Scheme string

const (
	SchemeExact Scheme = "exact"
)

// Network is the network identifier advertised in payment requirements.
type Network string

// AuthorizationType is the authorization scheme enum.
type AuthorizationType string

const (
	// AuthorizationTypeEIP3009 is a direct transferWithAuthorization signature.
	AuthorizationTypeEIP3009 AuthorizationType = "eip3009"

	// AuthorizationTypePermit is an EIP-2612 permit letting the facilitator contract move funds.
	AuthorizationTypePermit AuthorizationType = "permit"
)

// InvalidReason is the invalid reason enum reported by the facilitator on verify.
type InvalidReason string

const (
	InvalidReasonInvalidAuthorizationSignature InvalidReason = "invalid_authorization_signature"
	InvalidReasonInsufficientFunds             InvalidReason = "insufficient_funds"
)

// ErrorReason is the error reason enum reported by the facilitator on settle.
type ErrorReason string

const (
	ErrorReasonInsufficientFunds     ErrorReason = "insufficient_funds"
	ErrorReasonUnexpectedSettleError ErrorReason = "unexpected_settle_error"
)
