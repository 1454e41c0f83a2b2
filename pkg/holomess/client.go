package holomess

import (
	"context"

	"github.com/cuemby/holonode/pkg/types"
	"github.com/cuemby/holonode/pkg/zomecall"
)

// Client calls the msgboard zomes as the caller's agent
type Client struct {
	caller *zomecall.Caller
}

// NewClient wraps a caller bound to the holomess cell
func NewClient(caller *zomecall.Caller) *Client {
	return &Client{caller: caller}
}

// Agent is the agent messages are posted as
func (c *Client) Agent() types.AgentPubKey {
	return c.caller.Agent()
}

// CreateMessage posts text and returns the new entry's action hash
func (c *Client) CreateMessage(ctx context.Context, text string) (types.ActionHash, error) {
	return zomecall.Call[types.ActionHash](ctx, c.caller, ZomeMessages, "create_message", text)
}

// GetMessages lists this agent's messages, oldest first
func (c *Client) GetMessages(ctx context.Context) ([]Message, error) {
	return zomecall.Call[[]Message](ctx, c.caller, ZomeMessages, "get_messages", nil)
}

// GetAllMessages lists every message on the board, newest first
func (c *Client) GetAllMessages(ctx context.Context) ([]Record[Message], error) {
	return zomecall.Call[[]Record[Message]](ctx, c.caller, ZomeMessages, "get_all_messages", nil)
}

// CreateProfile publishes a profile for this agent
func (c *Client) CreateProfile(ctx context.Context, profile Profile) (*Record[Profile], error) {
	rec, err := zomecall.Call[Record[Profile]](ctx, c.caller, ZomeProfiles, "create_profile", &profile)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetAgentProfile returns agent's latest profile, or nil if it has none
func (c *Client) GetAgentProfile(ctx context.Context, agent types.AgentPubKey) (*Profile, error) {
	return zomecall.Call[*Profile](ctx, c.caller, ZomeProfiles, "get_agent_profile", agent)
}
