package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

type stringCase struct {
	in      string
	wantErr bool
}

func runStringCases(t *testing.T, fn func(string) error, cases []stringCase) {
	t.Helper()
	for _, tc := range cases {
		err := fn(tc.in)
		if tc.wantErr {
			assert.Error(t, err, "input %q", tc.in)
		} else {
			assert.NoError(t, err, "input %q", tc.in)
		}
	}
}

func TestValidateIDs(t *testing.T) {
	cases := []stringCase{
		{"user_123", false},
		{"4b8f6c1e-2a7d-4f0e-9d3c-1f2e3d4c5b6a", false},
		{"", true},
		{strings.Repeat("a", maxIDLength+1), true},
		{"user 123", true},
		{"../etc", true},
	}
	runStringCases(t, ValidateUserID, cases)
	runStringCases(t, ValidateCallID, cases)

	assert.ErrorContains(t, ValidateCallID(""), "call ID")
	assert.ErrorContains(t, ValidateUserID(""), "user ID")
}

func TestValidateUsername(t *testing.T) {
	runStringCases(t, ValidateUsername, []stringCase{
		{"Jane Doe", false},
		{"j.doe", false},
		{"  padded  ", false},
		{"   ", true},
		{strings.Repeat("a", maxUsernameLength+1), true},
		{"jane<script>", true},
	})
}

func TestValidateTranscriptText(t *testing.T) {
	runStringCases(t, ValidateTranscriptText, []stringCase{
		{"I have five years of Go experience", false},
		{"Привет, как дела?", false},
		{strings.Repeat("я", MaxTranscriptLength), false},
		{"  ", true},
		{strings.Repeat("a", MaxTranscriptLength+1), true},
		{"\xff\xfe", true},
	})
}

func TestValidatePagination(t *testing.T) {
	assert.NoError(t, ValidatePagination(50, 0))
	assert.NoError(t, ValidatePagination(MaxPageSize, 200))
	assert.Error(t, ValidatePagination(0, 0))
	assert.Error(t, ValidatePagination(MaxPageSize+1, 0))
	assert.Error(t, ValidatePagination(10, -1))
}

func TestValidateParticipants(t *testing.T) {
	tests := []struct {
		name    string
		ids     []string
		wantErr string
	}{
		{"single", []string{"bob"}, ""},
		{"several", []string{"bob", "carol"}, ""},
		{"empty", nil, "at least one"},
		{"duplicate", []string{"bob", "bob"}, "duplicate"},
		{"invalid id", []string{"bob", "c d"}, "user ID"},
		{"too many", []string{"a", "b", "c", "d", "e", "f", "g", "h", "i"}, "too many"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateParticipants(tt.ids)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestValidateEndpoint(t *testing.T) {
	ws := func(s string) error { return ValidateEndpoint(s, "ws", "wss") }
	runStringCases(t, ws, []stringCase{
		{"ws://localhost:9000/v1/listen", false},
		{"wss://relay.example.com", false},
		{"", true},
		{"http://localhost:8080", true},
		{"ws://", true},
		{"://bad", true},
	})
	assert.ErrorContains(t, ValidateEndpoint("ftp://x", "http", "https"), "http, https")
}
