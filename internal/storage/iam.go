package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/compute/metadata"
	credentials "cloud.google.com/go/iam/credentials/apiv1"
	"cloud.google.com/go/iam/credentials/apiv1/credentialspb"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
)

const cloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

// tokenEarlyExpiry refreshes access tokens this long before they expire.
const tokenEarlyExpiry = 5 * time.Minute

// IAMSigner signs blobs through the IAM Credentials API as a named service
// account. The caller's credentials need iam.serviceAccounts.signBlob on it.
type IAMSigner struct {
	client *credentials.IamCredentialsClient
	name   string
}

// NewIAMSigner dials the IAM Credentials API with ts. The token source
// should be cached (see NewCachedTokenSource) so signing does not
// re-authenticate per call.
func NewIAMSigner(ctx context.Context, serviceAccount string, ts oauth2.TokenSource) (*IAMSigner, error) {
	if serviceAccount == "" {
		return nil, errors.New("iam signer: service account is required")
	}
	client, err := credentials.NewIamCredentialsClient(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, fmt.Errorf("iam credentials client: %w", err)
	}
	return &IAMSigner{client: client, name: "projects/-/serviceAccounts/" + serviceAccount}, nil
}

// SignBlob implements BlobSigner.
func (s *IAMSigner) SignBlob(ctx context.Context, payload []byte) ([]byte, error) {
	resp, err := s.client.SignBlob(ctx, &credentialspb.SignBlobRequest{
		Name:    s.name,
		Payload: payload,
	})
	if err != nil {
		return nil, fmt.Errorf("sign blob as %s: %w", s.name, err)
	}
	return resp.GetSignedBlob(), nil
}

// Close releases the client connection.
func (s *IAMSigner) Close() error {
	return s.client.Close()
}

// NewCachedTokenSource reuses tokens from src until shortly before expiry.
func NewCachedTokenSource(src oauth2.TokenSource) oauth2.TokenSource {
	return oauth2.ReuseTokenSourceWithExpiry(nil, src, tokenEarlyExpiry)
}

// DefaultTokenSource returns application default credentials behind a token
// cache.
func DefaultTokenSource(ctx context.Context) (oauth2.TokenSource, error) {
	creds, err := google.FindDefaultCredentials(ctx, cloudPlatformScope)
	if err != nil {
		return nil, fmt.Errorf("find default credentials: %w", err)
	}
	return NewCachedTokenSource(creds.TokenSource), nil
}

// ResolveServiceAccount returns configured when set, otherwise the default
// service account of the GCE/Cloud Run instance.
func ResolveServiceAccount(ctx context.Context, configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	if !metadata.OnGCE() {
		return "", errors.New("no signing service account configured and not running on GCE")
	}
	email, err := metadata.EmailWithContext(ctx, "default")
	if err != nil {
		return "", fmt.Errorf("metadata service account: %w", err)
	}
	return email, nil
}
