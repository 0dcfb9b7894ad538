package leviton

import (
	"encoding/json"
	"fmt"
)

// Session is an authenticated cloud session.
type Session struct {
	// Token is the login response "id"; it goes in the Authorization header.
	Token string
	// UserID is the login response "userId".
	UserID string
	// Raw is the complete login response body. The realtime channel
	// authenticates with it verbatim, and it is what gets persisted.
	Raw json.RawMessage
}

// ParseSession validates a login response and extracts the token and user id.
func ParseSession(raw []byte) (Session, error) {
	var body struct {
		ID     Text `json:"id"`
		UserID Text `json:"userId"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return Session{}, fmt.Errorf("%w: %w", ErrInvalidLoginResponse, err)
	}
	if body.ID == "" || body.UserID == "" {
		return Session{}, fmt.Errorf("%w: missing id or userId", ErrInvalidLoginResponse)
	}

	return Session{
		Token:  string(body.ID),
		UserID: string(body.UserID),
		Raw:    append(json.RawMessage(nil), raw...),
	}, nil
}

// Valid reports whether the session can authenticate requests.
func (s Session) Valid() bool {
	return s.Token != "" && s.UserID != "" && len(s.Raw) > 0
}
