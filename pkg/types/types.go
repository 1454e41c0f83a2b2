package types

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"strings"
	"time"
)

// KeystoreMode selects who owns the keystore directory
type KeystoreMode string

const (
	// KeystoreInProcess keeps the keystore under the storage root, created and owned by this node
	KeystoreInProcess KeystoreMode = "in_process"
	// KeystoreExternal points at a keystore directory provisioned outside the storage root
	KeystoreExternal KeystoreMode = "external"
)

// Valid reports whether the mode is one of the known modes
func (m KeystoreMode) Valid() bool {
	return m == KeystoreInProcess || m == KeystoreExternal
}

// NodeConfig is the persisted node configuration document.
// It is written once per storage root and never mutated after load.
type NodeConfig struct {
	StorageRoot     string         `yaml:"storage_root"`
	EnvironmentPath string         `yaml:"environment_path"`
	Keystore        KeystoreConfig `yaml:"keystore"`
	AdminPort       uint16         `yaml:"admin_port"`
	Network         NetworkConfig  `yaml:"network"`
}

// KeystoreConfig describes where agent keys live
type KeystoreConfig struct {
	Mode KeystoreMode `yaml:"mode"`
	Root string       `yaml:"root"`
}

// NetworkConfig holds the peer discovery endpoints handed to the host
type NetworkConfig struct {
	BootstrapURL string `yaml:"bootstrap_url"`
	RelayURL     string `yaml:"relay_url"`
}

// Clone returns a deep copy of the configuration
func (c *NodeConfig) Clone() *NodeConfig {
	if c == nil {
		return nil
	}
	cp := *c
	return &cp
}

// AgentPubKey is an ed25519 public key identifying the acting principal
type AgentPubKey []byte

// AgentPubKeySize is the length of a raw agent key
const AgentPubKeySize = 32

// String renders the key in multibase base64url form ("u" prefix)
func (k AgentPubKey) String() string {
	return "u" + base64.RawURLEncoding.EncodeToString(k)
}

// Equal reports whether both keys hold the same bytes
func (k AgentPubKey) Equal(other AgentPubKey) bool {
	return bytes.Equal(k, other)
}

// ParseAgentPubKey parses the multibase form produced by String
func ParseAgentPubKey(s string) (AgentPubKey, error) {
	if !strings.HasPrefix(s, "u") {
		return nil, fmt.Errorf("agent key %q: missing multibase prefix", s)
	}
	raw, err := base64.RawURLEncoding.DecodeString(s[1:])
	if err != nil {
		return nil, fmt.Errorf("agent key %q: %w", s, err)
	}
	if len(raw) != AgentPubKeySize {
		return nil, fmt.Errorf("agent key %q: want %d bytes, got %d", s, AgentPubKeySize, len(raw))
	}
	return AgentPubKey(raw), nil
}

// DnaHash is the content address of a DNA manifest
type DnaHash []byte

func (h DnaHash) String() string {
	return "u" + base64.RawURLEncoding.EncodeToString(h)
}

// ActionHash identifies an action (entry creation) on the host
type ActionHash []byte

func (h ActionHash) String() string {
	return "u" + base64.RawURLEncoding.EncodeToString(h)
}

// CellID combines a DNA with the agent running it
type CellID struct {
	DnaHash     DnaHash     `codec:"dna_hash"`
	AgentPubKey AgentPubKey `codec:"agent_pub_key"`
}

func (c CellID) String() string {
	return fmt.Sprintf("%s:%s", c.DnaHash, c.AgentPubKey)
}

// Equal reports whether both cell ids match
func (c CellID) Equal(other CellID) bool {
	return bytes.Equal(c.DnaHash, other.DnaHash) && c.AgentPubKey.Equal(other.AgentPubKey)
}

// AppStatus is the host-side state of an installed app
type AppStatus string

const (
	AppStatusRunning  AppStatus = "running"
	AppStatusDisabled AppStatus = "disabled"
)

// AppInfo describes an installed application as reported by the admin endpoint
type AppInfo struct {
	InstalledAppID string              `codec:"installed_app_id"`
	AgentPubKey    AgentPubKey         `codec:"agent_pub_key"`
	CellInfo       map[string][]CellID `codec:"cell_info"`
	Status         AppStatus           `codec:"status"`
}

// Cell returns the first cell provisioned for the given role
func (a *AppInfo) Cell(role string) (CellID, bool) {
	cells, ok := a.CellInfo[role]
	if !ok || len(cells) == 0 {
		return CellID{}, false
	}
	return cells[0], true
}

// InstallAppRequest asks the host to install a bundle under an app id
type InstallAppRequest struct {
	BundlePath     string      `codec:"bundle_path"`
	AgentPubKey    AgentPubKey `codec:"agent_pub_key"`
	InstalledAppID string      `codec:"installed_app_id"`
	NetworkSeed    string      `codec:"network_seed,omitempty"`
}

// ZomeCallUnsigned is the part of a zome call covered by the signature
type ZomeCallUnsigned struct {
	CellID     CellID      `codec:"cell_id"`
	ZomeName   string      `codec:"zome_name"`
	FnName     string      `codec:"fn_name"`
	Payload    []byte      `codec:"payload"`
	Provenance AgentPubKey `codec:"provenance"`
	Nonce      []byte      `codec:"nonce"`
	ExpiresAt  int64       `codec:"expires_at"` // microseconds since epoch
}

// Expiry returns ExpiresAt as a time
func (z *ZomeCallUnsigned) Expiry() time.Time {
	return time.UnixMicro(z.ExpiresAt)
}

// ZomeCall is a signed, replay-protected call envelope
type ZomeCall struct {
	ZomeCallUnsigned
	Signature []byte `codec:"signature"`
}

// Unsigned returns a copy of the unsigned portion
func (z *ZomeCall) Unsigned() ZomeCallUnsigned {
	return z.ZomeCallUnsigned
}
