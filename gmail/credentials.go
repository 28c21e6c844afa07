package gmail

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/impersonate"
	"google.golang.org/api/option"
)

var scopes = []string{gmail.GmailReadonlyScope, gmail.GmailSendScope}

// CredentialMode says which identity shape backs the token source. Delegated
// service accounts resolve "me" to the mailbox; impersonated ADC identities do
// not, so calls must name the mailbox explicitly.
type CredentialMode int

const (
	ModeDelegated CredentialMode = iota
	ModeImpersonated
)

func (m CredentialMode) String() string {
	if m == ModeDelegated {
		return "delegated"
	}
	return "impersonated"
}

// Credentials is the broker output: a token source authorized as the
// monitored mailbox, plus the mode the poller needs to pick the userId
// argument.
type Credentials struct {
	Mode    CredentialMode
	Mailbox string
	source  oauth2.TokenSource
}

// UserID returns the value to pass as the Gmail API userId argument.
func (c *Credentials) UserID() string {
	if c.Mode == ModeDelegated {
		return "me"
	}
	return c.Mailbox
}

// TokenSource exposes the underlying source for service construction.
func (c *Credentials) TokenSource() oauth2.TokenSource {
	return c.source
}

// Acquire resolves credentials for the mailbox. A readable service-account
// key file wins; otherwise application-default credentials impersonate the
// configured principal. Token refresh is handled by the returned source.
func Acquire(ctx context.Context, mailbox, keyPath, principal string) (*Credentials, error) {
	if keyPath != "" {
		key, err := os.ReadFile(keyPath)
		if err == nil {
			jwtCfg, err := google.JWTConfigFromJSON(key, scopes...)
			if err != nil {
				return nil, fmt.Errorf("unable to parse service account key: %w", err)
			}
			// Domain-wide delegation: act as the mailbox itself.
			jwtCfg.Subject = mailbox
			return &Credentials{
				Mode:    ModeDelegated,
				Mailbox: mailbox,
				source:  jwtCfg.TokenSource(ctx),
			}, nil
		}
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("unable to read service account key: %w", err)
		}
		// Absent key file is a valid state: fall through to impersonation.
	}

	if principal == "" {
		return nil, fmt.Errorf("%w: no key file at %q and no impersonation principal configured",
			ErrCredentialUnavailable, keyPath)
	}

	ts, err := impersonate.CredentialsTokenSource(ctx, impersonate.CredentialsConfig{
		TargetPrincipal: principal,
		Scopes:          scopes,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: impersonating %s: %v", ErrCredentialUnavailable, principal, err)
	}
	return &Credentials{
		Mode:    ModeImpersonated,
		Mailbox: mailbox,
		source:  ts,
	}, nil
}

// NewService builds the Gmail API service over the credential's token source.
func (c *Credentials) NewService(ctx context.Context) (*gmail.Service, error) {
	srv, err := gmail.NewService(ctx, option.WithTokenSource(c.source))
	if err != nil {
		return nil, fmt.Errorf("unable to create Gmail service: %w", err)
	}
	return srv, nil
}
