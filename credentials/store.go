// Package credentials holds the persisted session fragment: the access
// credential, the refresh credential, and the identity record issued at
// sign-in.
package credentials

import "context"

// Persisted slot names. Stores that lay out fields individually use these keys
// under their namespace.
const (
	SlotAccessToken  = "access_token"
	SlotRefreshToken = "refresh_token"
	SlotIdentity     = "identity"
)

// DefaultNamespace is the key space used when none is configured.
const DefaultNamespace = "authclient"

// Identity is the user record returned by sign-in. It is never modified after
// it has been issued.
type Identity struct {
	ID          string `json:"id"`
	DisplayName string `json:"name"`
	Role        string `json:"role"`
	OrgUnit     string `json:"org_unit,omitempty"`
}

// IsZero reports whether the identity carries no user.
func (i Identity) IsZero() bool {
	return i.ID == ""
}

// Session is the credential state for one signed in user.
type Session struct {
	Identity     *Identity
	AccessToken  string
	RefreshToken string
}

// Valid reports whether the identity and access token are both present. A
// session holding only one of them is treated as signed out.
func (s Session) Valid() bool {
	return s.Identity != nil && !s.Identity.IsZero() && s.AccessToken != ""
}

// IsEmpty reports whether nothing at all is held.
func (s Session) IsEmpty() bool {
	return (s.Identity == nil || s.Identity.IsZero()) && s.AccessToken == "" && s.RefreshToken == ""
}

// Update describes a partial write. A nil field leaves the stored value
// untouched; a pointer to the zero value clears it.
type Update struct {
	AccessToken  *string
	RefreshToken *string
	Identity     *Identity
}

// Apply returns s with u applied.
func (u Update) Apply(s Session) Session {
	if u.AccessToken != nil {
		s.AccessToken = *u.AccessToken
	}
	if u.RefreshToken != nil {
		s.RefreshToken = *u.RefreshToken
	}
	if u.Identity != nil {
		if u.Identity.IsZero() {
			s.Identity = nil
		} else {
			id := *u.Identity
			s.Identity = &id
		}
	}
	return s
}

// Store persists the session fragment across process restarts. Every mutation
// is durable before it returns.
type Store interface {
	// Load returns the persisted session, or an empty Session when there is
	// none. Absence is a normal state and Load never fails.
	Load(ctx context.Context) Session

	// Save applies the update atomically.
	Save(ctx context.Context, update Update) error

	// Clear removes every persisted field atomically.
	Clear(ctx context.Context) error

	// Close releases any resources held by the store.
	Close() error
}
