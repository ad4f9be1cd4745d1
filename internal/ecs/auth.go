package ecs

import (
	"crypto/sha1"
	"encoding/hex"
	"net/url"
	"time"

	appErrors "github.com/campusconnect/ecsbridge/pkg/errors"
)

// AuthToken is a single-use authentication token issued through the ECS.
// SOV/EOV delimit its validity window; Realm binds it to one destination URL
// plus query parameters.
type AuthToken struct {
	Hash  string `json:"hash"`
	URL   string `json:"url,omitempty"`
	Realm string `json:"realm,omitempty"`
	SOV   string `json:"sov,omitempty"`
	EOV   string `json:"eov,omitempty"`
	MID   int    `json:"mid,omitempty"`
}

// ComputeRealm derives the realm string for a destination URL and its query
// parameters. Parameters are folded in encoded (sorted) form so both ends
// arrive at the same digest regardless of map iteration order.
func ComputeRealm(destURL string, params url.Values) string {
	material := destURL
	if len(params) > 0 {
		material += "?" + params.Encode()
	}

	sum := sha1.Sum([]byte(material))
	return hex.EncodeToString(sum[:])
}

// CheckAuthentication verifies a resolved token against the destination the
// caller is actually serving. The realm is recomputed locally and compared
// for equality, which stops a token issued for one resource from being
// replayed against another. The validity window is checked against now.
func CheckAuthentication(token *AuthToken, destURL string, params url.Values, now time.Time) error {
	if token == nil || token.Hash == "" {
		return appErrors.NewConnection("ecs auth token is empty", nil)
	}

	if token.Realm != "" {
		if expected := ComputeRealm(destURL, params); token.Realm != expected {
			return appErrors.NewConfiguration("ecs auth token realm does not match this destination")
		}
	}

	if token.SOV != "" {
		sov, err := ParseTime(token.SOV)
		if err != nil {
			return appErrors.NewConnection("ecs auth token carries a malformed sov", err)
		}
		if now.Before(sov) {
			return appErrors.NewConfiguration("ecs auth token is not yet valid")
		}
	}

	if token.EOV != "" {
		eov, err := ParseTime(token.EOV)
		if err != nil {
			return appErrors.NewConnection("ecs auth token carries a malformed eov", err)
		}
		if !now.Before(eov) {
			return appErrors.NewConfiguration("ecs auth token has expired")
		}
	}

	return nil
}

// ParseTime accepts the timestamp shapes ECS servers have been observed to
// emit. The metadata mapper uses it too when a date-typed course field is
// filled from a remote string.
func ParseTime(value string) (time.Time, error) {
	layouts := []string{
		time.RFC3339,
		"2006-01-02T15:04:05-0700",
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02",
	}

	var lastErr error
	for _, layout := range layouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts, nil
		} else {
			lastErr = err
		}
	}
	return time.Time{}, lastErr
}
