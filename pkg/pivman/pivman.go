// Package pivman manages the admin tool's own state on a PIV token: the
// metadata record describing how the management key is protected, the
// PIN-gated record holding a stored key, and the credential flows that keep
// the two consistent while PINs and keys change.
package pivman

import (
	"errors"
	"log/slog"

	"github.com/go-ctap/pivman/pkg/options"
	"github.com/go-ctap/pivman/pkg/piv"
)

// Client runs admin flows over an open session. It is stateless; the same
// Client may serve any number of sessions.
type Client struct {
	logger *slog.Logger
}

func NewClient(opts ...options.Option) *Client {
	oo := options.NewOptions(opts...)

	return &Client{
		logger: oo.Logger,
	}
}

// ReadMetadata fetches and decodes the admin metadata record. A token the
// tool has never written to yields an empty record. A token without the
// admin application at all fails with piv.ErrApplicationNotFound.
func (cl *Client) ReadMetadata(sess piv.Session) (*Metadata, error) {
	raw, err := sess.GetObject(piv.ObjectIDAdminData)
	if err != nil {
		if errors.Is(err, piv.ErrNotFound) {
			return &Metadata{}, nil
		}
		return nil, err
	}

	return ParseMetadata(raw)
}

// ReadProtectedData fetches the PIN-gated record. The PIN must be the most
// recently verified factor or the read fails with piv.ErrSecurityStatus.
func (cl *Client) ReadProtectedData(sess piv.Session) (*ProtectedData, error) {
	raw, err := sess.GetObject(piv.ObjectIDProtectedData)
	if err != nil {
		if errors.Is(err, piv.ErrNotFound) {
			return &ProtectedData{}, nil
		}
		return nil, err
	}

	return ParseProtectedData(raw)
}
