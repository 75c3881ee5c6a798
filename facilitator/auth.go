package facilitator

import (
	"context"
	"net/http"
)

// APIKeyHeader is the header the facilitator reads the API key from.
const APIKeyHeader = "X-API-Key"

// AuthHeaders holds the extra headers sent on each facilitator call.
type AuthHeaders struct {
	Verify http.Header
	Settle http.Header
}

// AuthHeadersFunc returns the headers to attach to the next facilitator call.
type AuthHeadersFunc func(ctx context.Context) (AuthHeaders, error)

// StaticAPIKey sends the same API key on verify and settle.
// An empty key sends no headers.
func StaticAPIKey(key string) AuthHeadersFunc {
	return func(ctx context.Context) (AuthHeaders, error) {

		// Check if the facilitator is open
		if key == "" {
			return AuthHeaders{}, nil
		}

		// Set the API key for both operations
		verify := http.Header{}
		verify.Set(APIKeyHeader, key)
		settle := http.Header{}
		settle.Set(APIKeyHeader, key)

		return AuthHeaders{Verify: verify, Settle: settle}, nil
	}
}
