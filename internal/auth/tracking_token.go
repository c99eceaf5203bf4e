package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strings"
)

var tokenEncoding = base64.RawURLEncoding

func trackingSubject(providerID, trackingNumber string) string {
	return providerID + ":" + trackingNumber
}

func signTracking(secret, payload string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return mac.Sum(nil)
}

// CreateTrackingToken binds a tracking number to its provider so public
// tracking links cannot be enumerated.
func CreateTrackingToken(secret, providerID, trackingNumber string) string {
	payload := tokenEncoding.EncodeToString([]byte(trackingSubject(providerID, trackingNumber)))
	return payload + "." + tokenEncoding.EncodeToString(signTracking(secret, payload))
}

func VerifyTrackingToken(secret, token, providerID, trackingNumber string) bool {
	payload, sig, ok := strings.Cut(strings.TrimSpace(token), ".")
	if !ok || payload == "" || strings.Contains(sig, ".") {
		return false
	}
	got, err := tokenEncoding.DecodeString(sig)
	if err != nil || !hmac.Equal(got, signTracking(secret, payload)) {
		return false
	}
	subject, err := tokenEncoding.DecodeString(payload)
	if err != nil {
		return false
	}
	return hmac.Equal(subject, []byte(trackingSubject(providerID, trackingNumber)))
}
