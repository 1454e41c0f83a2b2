package storage

import (
	"errors"

	"github.com/cuemby/holonode/pkg/types"
)

// ErrNotFound is returned for lookups of absent records
var ErrNotFound = errors.New("not found")

// AppRecord is an installed app as the host keeps it
type AppRecord struct {
	Info        types.AppInfo       `json:"info"`
	BundlePath  string              `json:"bundle_path"`
	NetworkSeed string              `json:"network_seed,omitempty"`
	Zomes       map[string][]string `json:"zomes"` // role → zome names
}

// Entry is an entry committed to a cell's source chain
type Entry struct {
	ActionHash types.ActionHash  `json:"action_hash"`
	DnaHash    types.DnaHash     `json:"dna_hash"`
	Author     types.AgentPubKey `json:"author"`
	EntryType  string            `json:"entry_type"`
	Content    []byte            `json:"content"` // msgpack
	Timestamp  int64             `json:"timestamp"` // microseconds since epoch
}

// Link connects a base hash to a target hash under a link type
type Link struct {
	DnaHash   types.DnaHash `json:"dna_hash"`
	Base      []byte        `json:"base"`
	Target    []byte        `json:"target"`
	LinkType  string        `json:"link_type"`
	Timestamp int64         `json:"timestamp"`
}

// Store defines the persistent state of the reference host runtime
type Store interface {
	// Apps
	PutApp(app *AppRecord) error
	GetApp(id string) (*AppRecord, error)
	ListApps() ([]*AppRecord, error)

	// App interfaces
	PutInterface(port uint16) error
	DeleteInterface(port uint16) error
	ListInterfaces() ([]uint16, error)

	// Entries and links
	PutEntry(entry *Entry) error
	GetEntry(hash types.ActionHash) (*Entry, error)
	ListEntries(dna types.DnaHash, entryType string) ([]*Entry, error)
	PutLink(link *Link) error
	GetLinks(dna types.DnaHash, base []byte, linkType string) ([]*Link, error)

	// Nonces
	// UseNonce records (agent, nonce) until expiresAt and reports whether it
	// was unseen. Nonces expired as of now are pruned in the same transaction.
	UseNonce(agent types.AgentPubKey, nonce []byte, expiresAt, now int64) (bool, error)

	Close() error
}
