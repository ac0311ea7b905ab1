package identity

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/api/googleapi"
	identitytoolkit "google.golang.org/api/identitytoolkit/v3"
	"google.golang.org/api/option"
)

// FirebaseProvider signs users in and up through the Identity Toolkit
// relying-party REST API using a web API key.
type FirebaseProvider struct {
	rp *identitytoolkit.RelyingpartyService
}

// NewFirebaseProvider builds a provider for apiKey. Extra options are
// appended after the key (tests use them to point at a fake endpoint).
func NewFirebaseProvider(ctx context.Context, apiKey string, opts ...option.ClientOption) (*FirebaseProvider, error) {
	if apiKey == "" {
		return nil, errors.New("firebase api key required")
	}
	all := append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)
	svc, err := identitytoolkit.NewService(ctx, all...)
	if err != nil {
		return nil, fmt.Errorf("identitytoolkit client: %w", err)
	}
	return &FirebaseProvider{rp: svc.Relyingparty}, nil
}

// SignIn verifies an email/password pair.
func (p *FirebaseProvider) SignIn(ctx context.Context, email, password string) (Account, error) {
	resp, err := p.rp.VerifyPassword(&identitytoolkit.IdentitytoolkitRelyingpartyVerifyPasswordRequest{
		Email:             email,
		Password:          password,
		ReturnSecureToken: true,
	}).Context(ctx).Do()
	if err != nil {
		return Account{}, asProviderError(err)
	}
	return Account{UserID: resp.LocalId, Email: resp.Email}, nil
}

// SignUp creates a new email/password account.
func (p *FirebaseProvider) SignUp(ctx context.Context, email, password string) (Account, error) {
	resp, err := p.rp.SignupNewUser(&identitytoolkit.IdentitytoolkitRelyingpartySignupNewUserRequest{
		Email:    email,
		Password: password,
	}).Context(ctx).Do()
	if err != nil {
		return Account{}, asProviderError(err)
	}
	return Account{UserID: resp.LocalId, Email: resp.Email}, nil
}

// asProviderError lifts the error code out of a googleapi error body. The
// API reports it as the message, optionally followed by " : detail".
func asProviderError(err error) error {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return err
	}
	code := gerr.Message
	if code == "" && len(gerr.Errors) > 0 {
		code = gerr.Errors[0].Message
	}
	if code == "" {
		return err
	}
	return &ProviderError{Code: normalizeCode(code), Err: err}
}
