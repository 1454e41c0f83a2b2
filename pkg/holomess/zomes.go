package holomess

import (
	"fmt"
	"sort"

	"github.com/cuemby/holonode/pkg/devhost"
	"github.com/cuemby/holonode/pkg/storage"
	"github.com/cuemby/holonode/pkg/types"
)

// Registry returns the zomes the msgboard bundle declares
func Registry() devhost.Registry {
	return devhost.NewRegistry(MessagesZome(), ProfilesZome())
}

// MessagesZome posts and lists board messages
func MessagesZome() *devhost.Zome {
	return &devhost.Zome{
		Name: ZomeMessages,
		Fns: map[string]devhost.Fn{
			"create_message":   createMessage,
			"get_messages":     getMessages,
			"get_all_messages": getAllMessages,
		},
	}
}

// ProfilesZome stores one profile per agent
func ProfilesZome() *devhost.Zome {
	return &devhost.Zome{
		Name: ZomeProfiles,
		Fns: map[string]devhost.Fn{
			"create_profile":    createProfile,
			"get_agent_profile": getAgentProfile,
		},
	}
}

func createMessage(cc *devhost.CallContext, input []byte) (interface{}, error) {
	text, err := devhost.Decode[string](input)
	if err != nil {
		return nil, err
	}
	hash, err := cc.CreateEntry(EntryMessage, &Message{Text: text})
	if err != nil {
		return nil, err
	}
	if err := cc.CreateLink(cc.Agent(), hash, LinkAgentToMessage); err != nil {
		return nil, err
	}
	if err := cc.CreateLink(devhost.PathHash(AllMessagesPath), hash, LinkAllMessages); err != nil {
		return nil, err
	}
	return hash, nil
}

func getMessages(cc *devhost.CallContext, _ []byte) (interface{}, error) {
	records, err := linkedRecords[Message](cc, cc.Agent(), LinkAgentToMessage)
	if err != nil {
		return nil, err
	}
	messages := make([]Message, 0, len(records))
	for _, r := range records {
		messages = append(messages, r.Entry)
	}
	return messages, nil
}

func getAllMessages(cc *devhost.CallContext, _ []byte) (interface{}, error) {
	records, err := linkedRecords[Message](cc, devhost.PathHash(AllMessagesPath), LinkAllMessages)
	if err != nil {
		return nil, err
	}
	// links come oldest first; reversing keeps commit order for equal timestamps
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Timestamp > records[j].Timestamp
	})
	return records, nil
}

func createProfile(cc *devhost.CallContext, input []byte) (interface{}, error) {
	profile, err := devhost.Decode[Profile](input)
	if err != nil {
		return nil, err
	}
	if profile.Nickname == "" {
		return nil, fmt.Errorf("profile nickname is required")
	}
	if profile.Fields == nil {
		profile.Fields = map[string]string{}
	}
	hash, err := cc.CreateEntry(EntryProfile, &profile)
	if err != nil {
		return nil, err
	}
	if err := cc.CreateLink(cc.Agent(), hash, LinkAgentToProfile); err != nil {
		return nil, err
	}
	return Record[Profile]{
		ActionHash: hash,
		Author:     cc.Agent(),
		Timestamp:  cc.Now().UnixMicro(),
		Entry:      profile,
	}, nil
}

// getAgentProfile returns the agent's latest profile, or nil
func getAgentProfile(cc *devhost.CallContext, input []byte) (interface{}, error) {
	agent, err := devhost.Decode[types.AgentPubKey](input)
	if err != nil {
		return nil, err
	}
	records, err := linkedRecords[Profile](cc, agent, LinkAgentToProfile)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	latest := records[len(records)-1].Entry
	return &latest, nil
}

// linkedRecords resolves the targets of base's links, oldest first. Targets
// that no longer resolve are skipped.
func linkedRecords[T any](cc *devhost.CallContext, base []byte, linkType string) ([]Record[T], error) {
	links, err := cc.GetLinks(base, linkType)
	if err != nil {
		return nil, err
	}
	records := make([]Record[T], 0, len(links))
	for _, l := range links {
		entry, err := cc.GetOptional(l.Target)
		if err != nil {
			return nil, err
		}
		if entry == nil {
			continue
		}
		r, err := toRecord[T](entry)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, nil
}

func toRecord[T any](e *storage.Entry) (Record[T], error) {
	content, err := devhost.Decode[T](e.Content)
	if err != nil {
		return Record[T]{}, fmt.Errorf("entry %s: %w", e.ActionHash, err)
	}
	return Record[T]{
		ActionHash: e.ActionHash,
		Author:     e.Author,
		Timestamp:  e.Timestamp,
		Entry:      content,
	}, nil
}
