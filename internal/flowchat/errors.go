package flowchat

import (
	"errors"
	"fmt"
)

var (
	ErrGraphInvalid         = errors.New("graph invalid")
	ErrMaxRunTimesExceeded  = errors.New("max run times exceeded")
	ErrNoPendingInteraction = errors.New("no pending interaction")
	ErrUpstreamAuth         = errors.New("upstream auth failure")
)

// NodeError reports a single handler failure.
type NodeError struct {
	NodeID   string
	NodeType NodeType
	Err      error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("node %q (%s): %v", e.NodeID, e.NodeType, e.Err)
}

func (e *NodeError) Unwrap() error { return e.Err }
