package utils

import (
	"crypto/rand"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

// GenerateID returns prefix followed by 16 random hex digits.
func GenerateID(prefix string) string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return prefix + "_" + hex.EncodeToString(b)
}

// GenerateCallID returns a new call id. Call ids travel in URLs, so they
// are plain UUIDs.
func GenerateCallID() string {
	return uuid.NewString()
}

// GenerateConnectionID names one relay websocket connection in logs.
func GenerateConnectionID() string {
	return GenerateID("conn")
}

func GenerateRequestID() string {
	return "req_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
