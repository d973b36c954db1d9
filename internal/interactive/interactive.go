// Package interactive encodes the state of a paused run and hands it back
// exactly once to the next request on the same chat.
package interactive

import (
	"context"
	"errors"
	"fmt"

	"github.com/soochol/flowchat/internal/flowchat"
	"github.com/soochol/flowchat/internal/flowchat/ports"
	"github.com/soochol/flowchat/internal/xjson"
)

// Version is the envelope version written by Encode.
const Version = 1

var ErrUnsupportedVersion = errors.New("unsupported interactive state version")

type envelope struct {
	V     int                        `json:"v"`
	Value *flowchat.InteractiveValue `json:"value"`
}

// Encode serializes iv inside a versioned envelope. A nil value encodes
// to nil.
func Encode(iv *flowchat.InteractiveValue) ([]byte, error) {
	if iv == nil {
		return nil, nil
	}
	data, err := xjson.Marshal(envelope{V: Version, Value: iv})
	if err != nil {
		return nil, fmt.Errorf("encode interactive state: %w", err)
	}
	return data, nil
}

// Decode is the inverse of Encode. Empty input decodes to nil.
func Decode(data []byte) (*flowchat.InteractiveValue, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var env envelope
	if err := xjson.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode interactive state: %w", err)
	}
	if env.V != Version {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, env.V)
	}
	if env.Value == nil || env.Value.NodeID == "" {
		return nil, fmt.Errorf("decode interactive state: missing node id")
	}
	return env.Value, nil
}

// Latest returns the pending value of the most recent AI item. Only the
// last item of a conversation can be waiting for a reply.
func Latest(history []flowchat.ChatItem) *flowchat.InteractiveValue {
	if len(history) == 0 {
		return nil
	}
	last := history[len(history)-1]
	if last.Role != flowchat.RoleAI || !last.Pending {
		return nil
	}
	return last.Interactive
}

// Codec locates and consumes pending interactive values in a chat store.
type Codec struct {
	store ports.ChatStore
}

func NewCodec(store ports.ChatStore) *Codec {
	return &Codec{store: store}
}

// Pending reports the value awaiting a reply without consuming it.
func (c *Codec) Pending(ctx context.Context, appID, chatID string) (*flowchat.InteractiveValue, error) {
	if chatID == "" {
		return nil, nil
	}
	iv, err := c.store.LoadPendingInteractive(ctx, appID, chatID)
	if err != nil {
		return nil, fmt.Errorf("load pending interactive: %w", err)
	}
	return iv, nil
}

// Claim consumes the pending value. Exactly one caller wins; the others
// get flowchat.ErrNoPendingInteraction.
func (c *Codec) Claim(ctx context.Context, appID, chatID string) (*flowchat.InteractiveValue, error) {
	if chatID == "" {
		return nil, flowchat.ErrNoPendingInteraction
	}
	iv, err := c.store.ClaimInteractive(ctx, appID, chatID)
	if err != nil {
		if errors.Is(err, flowchat.ErrNoPendingInteraction) {
			return nil, err
		}
		return nil, fmt.Errorf("claim interactive: %w", err)
	}
	return iv, nil
}
