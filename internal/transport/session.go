package transport

import "context"

// Session is the credential attached to every bulk request.
type Session struct {
	// InstanceURL is the base URL of the remote instance, e.g.
	// https://na1.example.com.
	InstanceURL string

	// AccessToken is the session id sent in the X-SFDC-Session header.
	AccessToken string

	// APIVersion selects the async endpoint version, e.g. "58.0".
	APIVersion string
}

// Refresher re-authenticates when the remote reports an expired session.
// How a new session is obtained (username/password login, refresh token,
// external secret store) is up to the caller.
type Refresher interface {
	Refresh(ctx context.Context) (*Session, error)
}

// RefresherFunc adapts a function to the Refresher interface.
type RefresherFunc func(ctx context.Context) (*Session, error)

// Refresh implements Refresher.
func (f RefresherFunc) Refresh(ctx context.Context) (*Session, error) {
	return f(ctx)
}
