package api

import "time"

// PublicKeyRecord is a directory entry.
type PublicKeyRecord struct {
	Sub        string    `json:"sub"`
	Username   string    `json:"username,omitempty"`
	PublicKey  string    `json:"publicKey"`
	ObservedAt time.Time `json:"observedAt,omitempty"`
}

type publishKeyRequest struct {
	PublicKey string `json:"publicKey"`
}

type errorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
}
