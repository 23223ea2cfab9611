// Package api provides the HTTP client for the public-key directory and the
// recovery-blob store. Both are plaintext CRUD services; everything sent to
// them is either a public key or an already-wrapped recovery blob.
//
// # Client Creation
//
//   - [NewClient]: Struct-based configuration for explicit, type-safe setup.
//   - [New]: Functional options pattern for flexible configuration.
//
// Both require a bearer token and base URL. The token is sent in the
// Authorization header on every request and identifies the owning account
// for publish and recovery operations.
//
// # Endpoints
//
//	GET  /v1/users/{sub}/public-key              -> PublicKeyRecord
//	GET  /v1/users/by-username/{name}/public-key -> PublicKeyRecord
//	PUT  /v1/me/public-key                       <- {"publicKey": hex}
//	GET  /v1/me/recovery-blob                    -> RecoveryBlob | 404
//	PUT  /v1/me/recovery-blob                    <- RecoveryBlob (full replace)
//
// # Retry Behavior
//
// Requests are retried with exponential backoff and jitter for these status
// codes by default:
//
//   - 408 Request Timeout
//   - 429 Too Many Requests
//   - 500 Internal Server Error
//   - 502 Bad Gateway
//   - 503 Service Unavailable
//   - 504 Gateway Timeout
//
// Network errors are retried too. A Retry-After header on 429 or 503 raises
// the next delay up to [RetryConfig.MaxDelay]. Outgoing requests also pass
// through a client-side token-bucket limiter.
//
// # Error Handling
//
// HTTP failures are returned as *apierrors.APIError and match the sentinels
// in the apierrors package via errors.Is. Exhausted network retries return
// *apierrors.NetworkError.
//
// # Thread Safety
//
// The [Client] type is safe for concurrent use.
package api
