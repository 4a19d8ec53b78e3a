package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
)

// VerifyWebhookSignature checks the x-signature header of a gateway
// callback. The header carries "ts=<unix>,v1=<hex hmac>"; the signature is
// HMAC-SHA256 over the canonical manifest
//
//	id:<dataID>;request-id:<requestID>;ts:<ts>;
//
// compared in constant time. Any malformed header fails closed.
func VerifyWebhookSignature(signatureHeader, requestID, dataID, secret string) bool {
	if signatureHeader == "" || secret == "" {
		return false
	}
	var ts, received string
	for _, part := range strings.Split(signatureHeader, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch key {
		case "ts":
			ts = value
		case "v1":
			received = value
		}
	}
	if ts == "" || received == "" {
		return false
	}

	manifest := "id:" + dataID + ";request-id:" + requestID + ";ts:" + ts + ";"
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(manifest))
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(received))
}

// SignWebhookManifest builds the v1 signature for the given parts. Exposed
// for the sandbox tooling and the tests.
func SignWebhookManifest(requestID, dataID, ts, secret string) string {
	manifest := "id:" + dataID + ";request-id:" + requestID + ";ts:" + ts + ";"
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(manifest))
	return hex.EncodeToString(mac.Sum(nil))
}

// RequestSigner produces the authentication headers for outbound calls to
// the gateway: an HMAC-SHA256 signature over a canonical string of the
// client id, a per-request id, a timestamp, the request target and the body
// digest.
type RequestSigner struct {
	ClientID    string
	SecretKey   string
	RequestID   string
	RequestPath string
}

func NewRequestSigner(clientID, secretKey, requestPath string) *RequestSigner {
	return &RequestSigner{
		ClientID:    clientID,
		SecretKey:   secretKey,
		RequestID:   uuid.New().String(),
		RequestPath: requestPath,
	}
}

func (r *RequestSigner) Digest(jsonBody string) string {
	hash := sha256.Sum256([]byte(jsonBody))
	return base64.StdEncoding.EncodeToString(hash[:])
}

func (r *RequestSigner) Signature(digest, timestamp string) string {
	canonical := "Client-Id:" + r.ClientID + "\n" +
		"Request-Id:" + r.RequestID + "\n" +
		"Request-Timestamp:" + timestamp + "\n" +
		"Request-Target:" + r.RequestPath + "\n" +
		"Digest:" + digest

	mac := hmac.New(sha256.New, []byte(r.SecretKey))
	mac.Write([]byte(canonical))
	return "HMACSHA256=" + base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func (r *RequestSigner) Headers(jsonBody string) map[string]string {
	timestamp := time.Now().UTC().Format("2006-01-02T15:04:05Z")
	digest := r.Digest(jsonBody)

	return map[string]string{
		"Client-Id":         r.ClientID,
		"Request-Id":        r.RequestID,
		"Request-Timestamp": timestamp,
		"Signature":         r.Signature(digest, timestamp),
		"Content-Type":      "application/json",
		"Digest":            digest,
	}
}
