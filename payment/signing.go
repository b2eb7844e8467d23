package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/go-playground/validator/v10"
)

var eventValidator = validator.New()

// SignPayload computes the hex HMAC-SHA256 of the raw body under the shared
// provider secret. Both Payme and Click use this scheme over the exact bytes
// delivered, so verification never re-serializes the payload.
func SignPayload(secret string, rawBody []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(rawBody)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyPayload compares a presented signature in constant time.
func VerifyPayload(secret string, rawBody []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	expected := SignPayload(secret, rawBody)
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(signature)))
}

// ParseSettlementEvent decodes and validates the shared webhook payload
// shape. A nil error means every required field is present.
func ParseSettlementEvent(rawBody []byte) (*Event, error) {
	var evt Event
	if err := json.Unmarshal(rawBody, &evt); err != nil {
		return nil, err
	}
	evt.Status = strings.ToLower(evt.Status)
	if err := eventValidator.Struct(&evt); err != nil {
		return nil, err
	}
	return &evt, nil
}
