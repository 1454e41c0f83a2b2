package devhost

import (
	"errors"
	"fmt"
	"time"

	"github.com/cuemby/holonode/pkg/storage"
	"github.com/cuemby/holonode/pkg/types"
	"github.com/cuemby/holonode/pkg/wire"
	"golang.org/x/crypto/blake2b"
)

// Fn is one zome function. It receives the msgpack-encoded input and returns
// a value that is encoded as the call's result.
type Fn func(cc *CallContext, input []byte) (interface{}, error)

// Zome is a named set of functions a DNA can declare
type Zome struct {
	Name string
	Fns  map[string]Fn
}

// Registry maps zome names to implementations
type Registry map[string]*Zome

// NewRegistry builds a registry from zomes
func NewRegistry(zomes ...*Zome) Registry {
	r := make(Registry, len(zomes))
	for _, z := range zomes {
		r[z.Name] = z
	}
	return r
}

// ErrNotFound is returned by CallContext lookups for absent records
var ErrNotFound = storage.ErrNotFound

// CallContext is what a zome function sees of the cell it runs in
type CallContext struct {
	store storage.Store
	cell  types.CellID
	nonce []byte
	now   time.Time
	seq   int
}

// Agent is the agent the call runs as
func (cc *CallContext) Agent() types.AgentPubKey {
	return cc.cell.AgentPubKey
}

// Now is the call's timestamp
func (cc *CallContext) Now() time.Time {
	return cc.now
}

// Decode unpacks a zome function input
func Decode[T any](input []byte) (T, error) {
	var out T
	if err := wire.Unmarshal(input, &out); err != nil {
		return out, fmt.Errorf("invalid input for %T: %w", out, err)
	}
	return out, nil
}

// CreateEntry commits content under entryType and returns its action hash
func (cc *CallContext) CreateEntry(entryType string, content interface{}) (types.ActionHash, error) {
	data, err := wire.Marshal(content)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s entry: %w", entryType, err)
	}

	cc.seq++
	header, err := wire.Marshal(&struct {
		DnaHash   []byte `codec:"dna_hash"`
		Author    []byte `codec:"author"`
		EntryType string `codec:"entry_type"`
		Content   []byte `codec:"content"`
		Timestamp int64  `codec:"timestamp"`
		Nonce     []byte `codec:"nonce"`
		Seq       int    `codec:"seq"`
	}{cc.cell.DnaHash, cc.cell.AgentPubKey, entryType, data, cc.now.UnixMicro(), cc.nonce, cc.seq})
	if err != nil {
		return nil, err
	}
	sum := blake2b.Sum256(header)
	hash := types.ActionHash(sum[:])

	err = cc.store.PutEntry(&storage.Entry{
		ActionHash: hash,
		DnaHash:    cc.cell.DnaHash,
		Author:     cc.cell.AgentPubKey,
		EntryType:  entryType,
		Content:    data,
		Timestamp:  cc.now.UnixMicro(),
	})
	if err != nil {
		return nil, err
	}
	return hash, nil
}

// CreateLink links base to target under linkType
func (cc *CallContext) CreateLink(base, target []byte, linkType string) error {
	return cc.store.PutLink(&storage.Link{
		DnaHash:   cc.cell.DnaHash,
		Base:      base,
		Target:    target,
		LinkType:  linkType,
		Timestamp: cc.now.UnixMicro(),
	})
}

// GetLinks returns the links from base of linkType, oldest first
func (cc *CallContext) GetLinks(base []byte, linkType string) ([]*storage.Link, error) {
	return cc.store.GetLinks(cc.cell.DnaHash, base, linkType)
}

// Get returns the entry committed under hash in this DNA
func (cc *CallContext) Get(hash types.ActionHash) (*storage.Entry, error) {
	entry, err := cc.store.GetEntry(hash)
	if err != nil {
		return nil, err
	}
	if string(entry.DnaHash) != string(cc.cell.DnaHash) {
		return nil, fmt.Errorf("entry %s: %w", hash, ErrNotFound)
	}
	return entry, nil
}

// GetOptional is Get that reports absence as nil
func (cc *CallContext) GetOptional(hash types.ActionHash) (*storage.Entry, error) {
	entry, err := cc.Get(hash)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return entry, err
}

// PathHash is the anchor hash for a well-known path such as "all_messages"
func PathHash(path string) []byte {
	sum := blake2b.Sum256([]byte("path:" + path))
	return sum[:]
}
