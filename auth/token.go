package auth

import (
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
)

// Token is the capability credential presented at connect time.
//
// NOTE: the token is plain base64-encoded JSON with no signature. Anyone
// who knows the encoding can mint a token for any userId. This matches the
// legacy wire contract; the trust boundary is the network in front of this
// service, not the token itself. Do not treat Verify as proof of identity.
type Token struct {
	UserID  string `json:"userId"`
	Exp     int64  `json:"exp"` // epoch milliseconds
	Purpose string `json:"purpose"`
}

var (
	ErrTokenMalformed = errors.New("auth: malformed token")
	ErrTokenExpired   = errors.New("auth: token expired")
	ErrWrongPurpose   = errors.New("auth: token purpose mismatch")
	ErrNoUser         = errors.New("auth: token has no userId")
)

// ParseToken decodes a raw capability token
func ParseToken(raw string) (*Token, error) {
	if raw == "" {
		return nil, ErrTokenMalformed
	}
	decoded, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		// Clients may use URL-safe encoding for query parameters
		decoded, err = base64.URLEncoding.DecodeString(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTokenMalformed, err)
		}
	}
	var tok Token
	if err := sonic.Unmarshal(decoded, &tok); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}
	return &tok, nil
}

// EncodeToken builds the wire form of a token. Used by test clients.
func EncodeToken(tok *Token) (string, error) {
	data, err := sonic.Marshal(tok)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// Verify checks expiry, purpose and user presence against the expected
// resource. Returns the user id on success.
func (t *Token) Verify(resource string, now time.Time) (string, error) {
	if t.UserID == "" {
		return "", ErrNoUser
	}
	if t.Exp <= now.UnixMilli() {
		return "", ErrTokenExpired
	}
	if t.Purpose != resource {
		return "", ErrWrongPurpose
	}
	return t.UserID, nil
}
