package holomess

import "github.com/cuemby/holonode/pkg/types"

// Zome and role names declared by the msgboard bundle
const (
	RoleName     = "holomess"
	ZomeMessages = "holomess"
	ZomeProfiles = "profiles"
)

// Entry and link types
const (
	EntryMessage = "message"
	EntryProfile = "profile"

	LinkAgentToMessage = "agent_to_message"
	LinkAllMessages    = "all_messages"
	LinkAgentToProfile = "agent_to_profile"
)

// AllMessagesPath anchors the board-wide message index
const AllMessagesPath = "all_messages"

// Message is one board post
type Message struct {
	Text string `codec:"text"`
}

// Profile is an agent's public profile
type Profile struct {
	Nickname string            `codec:"nickname"`
	Fields   map[string]string `codec:"fields"`
}

// Record is a committed entry together with its action metadata
type Record[T any] struct {
	ActionHash types.ActionHash  `codec:"action_hash"`
	Author     types.AgentPubKey `codec:"author"`
	Timestamp  int64             `codec:"timestamp"` // microseconds since epoch
	Entry      T                 `codec:"entry"`
}
