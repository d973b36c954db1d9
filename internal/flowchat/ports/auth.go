package ports

import (
	"context"

	"github.com/soochol/flowchat/internal/flowchat"
)

// Authorizer resolves the caller of a chat request. Any rejection must
// wrap flowchat.ErrUpstreamAuth.
type Authorizer interface {
	Authorize(ctx context.Context, appID, credentials string) (flowchat.Principal, error)
}
