package model

// Wire DTOs for the endpoints the CLI consumes. Success bodies are the bare
// shapes documented in the service contracts; error bodies use the shared
// error envelope with a code, message and correlation identifier.

// ErrorEnvelope is the error body returned by all RegistryAccord services.
type ErrorEnvelope struct {
	Error *ErrorBody `json:"error,omitempty"`
}

// ErrorBody carries the classified upstream failure.
type ErrorBody struct {
	Code          string `json:"code"`
	Message       string `json:"message"`
	CorrelationID string `json:"correlationId"`
}

// NonceRequest is the body of POST /v1/session/nonce.
type NonceRequest struct {
	DID      string `json:"did"`
	Audience string `json:"aud"`
}

// IssueRequest is the body of POST /v1/session/issue. Signature is the
// base64 Ed25519 signature over "nonce|aud|did".
type IssueRequest struct {
	DID       string `json:"did"`
	Audience  string `json:"aud"`
	Nonce     string `json:"nonce"`
	Signature string `json:"signature"`
}

// IssueResponse is the body returned on successful session issuance.
type IssueResponse struct {
	JWT      string `json:"jwt"`
	Expiry   string `json:"exp"` // RFC3339
	Audience string `json:"aud"`
	Subject  string `json:"sub"`
}

// RegisterIdentityRequest is the body of POST /v1/identity. PublicKey is
// base64.
type RegisterIdentityRequest struct {
	DID       string `json:"did"`
	PublicKey string `json:"publicKey"`
}

// CreateRecordResponse is the body returned by POST /v1/repo/record.
type CreateRecordResponse struct {
	URI       string `json:"uri"`
	CID       string `json:"cid"`
	IndexedAt string `json:"indexedAt"`
}

// UploadInitRequest is the body of POST /v1/media/uploadInit.
type UploadInitRequest struct {
	MimeType string `json:"mimeType"`
	Size     int64  `json:"size"`
}

// UploadInitResponse carries the one-time upload and finalize URLs.
type UploadInitResponse struct {
	UploadURL   string `json:"uploadUrl"`
	FinalizeURL string `json:"finalizeUrl"`
}

// FinalizeRequest is the body of the finalize call, carrying the client's
// locally computed checksum.
type FinalizeRequest struct {
	Checksum string `json:"checksum"`
}

// FinalizeResponse is the server's view of the uploaded media. CID must
// match the client's digest byte for byte (case-insensitive hex compare).
type FinalizeResponse struct {
	CID      string `json:"cid"`
	MimeType string `json:"mimeType"`
	Size     int64  `json:"size"`
}

// Profile is the read-only profile view served by the gateway.
type Profile struct {
	DID       string `json:"did"`
	PostCount int    `json:"postCount"`
	FirstSeen string `json:"firstSeen,omitempty"` // RFC3339
}
