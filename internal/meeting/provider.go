package meeting

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// Provider returns a video meeting URL for an appointment
type Provider interface {
	Link(ctx context.Context, appointmentID uuid.UUID) (string, error)
}

type linkProvider struct {
	base   *url.URL
	secret []byte
}

// NewLinkProvider builds links of the form <baseURL>/<appointmentId>, signed
// with a token query parameter when secret is set.
func NewLinkProvider(baseURL, secret string) (Provider, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid meeting base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("meeting base url must be absolute, got %q", baseURL)
	}
	return &linkProvider{base: base, secret: []byte(secret)}, nil
}

func (p *linkProvider) Link(ctx context.Context, appointmentID uuid.UUID) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	u := *p.base
	u.Path = u.Path + "/" + appointmentID.String()
	if len(p.secret) > 0 {
		mac := hmac.New(sha256.New, p.secret)
		mac.Write([]byte(appointmentID.String()))
		u.RawQuery = url.Values{"token": {hex.EncodeToString(mac.Sum(nil))[:32]}}.Encode()
	}
	return u.String(), nil
}
