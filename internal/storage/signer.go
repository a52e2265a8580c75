package storage

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"cloud.google.com/go/storage"
)

// DefaultSignedURLTTL is the validity of issued URLs when none is configured.
const DefaultSignedURLTTL = time.Hour

// maxSignedURLTTL is the V4 signing limit.
const maxSignedURLTTL = 7 * 24 * time.Hour

// BlobSigner produces a signature over payload with a service identity's key.
type BlobSigner interface {
	SignBlob(ctx context.Context, payload []byte) ([]byte, error)
}

// URLSigner issues V4 signed GET URLs without holding a private key: the
// signature is delegated to a BlobSigner.
type URLSigner struct {
	bucket   string
	accessID string
	signer   BlobSigner
	ttl      time.Duration
	now      func() time.Time
}

// NewURLSigner returns a URLSigner for bucket, signing as the service
// account accessID. A non-positive ttl uses DefaultSignedURLTTL.
func NewURLSigner(bucket, accessID string, signer BlobSigner, ttl time.Duration) *URLSigner {
	if ttl <= 0 {
		ttl = DefaultSignedURLTTL
	}
	if ttl > maxSignedURLTTL {
		ttl = maxSignedURLTTL
	}
	return &URLSigner{bucket: bucket, accessID: accessID, signer: signer, ttl: ttl, now: time.Now}
}

// TTL returns how long issued URLs stay valid.
func (s *URLSigner) TTL() time.Duration { return s.ttl }

// SignedURL returns a GET URL for object that expires after the signer's TTL
// and makes the response carry contentType.
func (s *URLSigner) SignedURL(ctx context.Context, object, contentType string) (string, error) {
	opts := &storage.SignedURLOptions{
		GoogleAccessID: s.accessID,
		Method:         "GET",
		Expires:        s.now().Add(s.ttl),
		Scheme:         storage.SigningSchemeV4,
		SignBytes: func(b []byte) ([]byte, error) {
			return s.signer.SignBlob(ctx, b)
		},
	}
	if contentType != "" {
		opts.QueryParameters = url.Values{"response-content-type": {contentType}}
	}

	u, err := storage.SignedURL(s.bucket, object, opts)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrSigningFailed, object, err)
	}
	return u, nil
}
