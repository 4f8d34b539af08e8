// Package artifact renders the per-group identity artifact.
package artifact

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/skip2/go-qrcode"
)

// Generator renders an artifact for an identity URL.
type Generator interface {
	Render(ctx context.Context, identityURL string) ([]byte, error)
}

// QRGenerator renders identity URLs as PNG QR codes.
type QRGenerator struct {
	size int
}

// NewQRGenerator creates a generator producing size x size PNGs.
func NewQRGenerator(size int) *QRGenerator {
	if size <= 0 {
		size = 256
	}
	return &QRGenerator{size: size}
}

// Render encodes identityURL as a PNG QR code.
func (g *QRGenerator) Render(ctx context.Context, identityURL string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(identityURL) == "" {
		return nil, errors.New("artifact: empty identity url")
	}
	return qrcode.Encode(identityURL, qrcode.Medium, g.size)
}

// IdentityURL joins base and groupID. An empty base yields "".
func IdentityURL(base, groupID string) string {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" {
		return ""
	}
	return base + "/" + url.PathEscape(groupID)
}
