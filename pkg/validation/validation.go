package validation

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	MaxPageSize         = 100
	MaxParticipants     = 8
	MaxTranscriptLength = 2000 // runes per segment

	maxIDLength       = 100
	maxUsernameLength = 50
)

var (
	idPattern       = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_. -]+$`)
)

func ValidateUserID(userID string) error {
	return validateID(userID, "user ID")
}

func ValidateCallID(callID string) error {
	return validateID(callID, "call ID")
}

func validateID(id, field string) error {
	switch {
	case id == "":
		return fmt.Errorf("%s is required", field)
	case len(id) > maxIDLength:
		return fmt.Errorf("%s is too long (max %d characters)", field, maxIDLength)
	case !idPattern.MatchString(id):
		return fmt.Errorf("invalid %s format", field)
	}
	return nil
}

// ValidateUsername checks a display name after trimming surrounding space.
func ValidateUsername(username string) error {
	username = strings.TrimSpace(username)
	switch {
	case username == "":
		return fmt.Errorf("username is required")
	case utf8.RuneCountInString(username) > maxUsernameLength:
		return fmt.Errorf("username is too long (max %d characters)", maxUsernameLength)
	case !usernamePattern.MatchString(username):
		return fmt.Errorf("username may only contain letters, digits, space, '_', '-' and '.'")
	}
	return nil
}

func ValidatePagination(limit, offset int) error {
	if limit < 1 || limit > MaxPageSize {
		return fmt.Errorf("limit must be between 1 and %d", MaxPageSize)
	}
	if offset < 0 {
		return fmt.Errorf("offset must not be negative")
	}
	return nil
}

// ValidateParticipants checks the invitee list of a new call. Order is kept
// by the caller; duplicates are rejected here.
func ValidateParticipants(ids []string) error {
	if len(ids) == 0 {
		return fmt.Errorf("at least one participant is required")
	}
	if len(ids) > MaxParticipants {
		return fmt.Errorf("too many participants (max %d)", MaxParticipants)
	}
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if err := ValidateUserID(id); err != nil {
			return err
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("duplicate participant %q", id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

func ValidateTranscriptText(text string) error {
	switch {
	case strings.TrimSpace(text) == "":
		return fmt.Errorf("transcript text is required")
	case !utf8.ValidString(text):
		return fmt.Errorf("transcript text is not valid UTF-8")
	case utf8.RuneCountInString(text) > MaxTranscriptLength:
		return fmt.Errorf("transcript text is too long (max %d characters)", MaxTranscriptLength)
	}
	return nil
}

// ValidateEndpoint checks that raw is an absolute URL with a host and one of
// the allowed schemes.
func ValidateEndpoint(raw string, schemes ...string) error {
	if raw == "" {
		return fmt.Errorf("URL is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Host == "" {
		return fmt.Errorf("URL %q has no host", raw)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("URL %q must use one of %s", raw, strings.Join(schemes, ", "))
}
