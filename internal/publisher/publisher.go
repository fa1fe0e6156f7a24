package publisher

import (
	"context"

	"github.com/clipcast/publisher/internal/model"
)

// Publisher is the uniform contract every platform adapter implements. The
// coordinator drives it; adapters never decide job-level outcomes.
//
// Preflight cheaply validates credentials and permissions before any bytes
// move; nil means go ahead. A failed preflight is terminal for the target,
// Upload must not be called after it.
//
// Upload delivers the staged file and returns the platform-assigned external
// ID. Failures are *Error values classified at this boundary; callers switch
// on Error.Kind and never inspect vendor message strings.
type Publisher interface {
	Platform() model.Platform
	CredentialKeys() []string
	Preflight(ctx context.Context, creds model.Credentials) error
	Upload(ctx context.Context, localPath string, meta model.VideoMeta, creds model.Credentials) (string, error)
}
