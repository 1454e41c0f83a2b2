package bundle

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/cuemby/holonode/pkg/types"
	"github.com/cuemby/holonode/pkg/wire"
	"golang.org/x/crypto/blake2b"
	"gopkg.in/yaml.v3"
)

// ManifestVersion is the only manifest version understood
const ManifestVersion = "1"

// Manifest describes an application bundle
type Manifest struct {
	ManifestVersion string `yaml:"manifest_version"`
	Name            string `yaml:"name"`
	Description     string `yaml:"description,omitempty"`
	Roles           []Role `yaml:"roles"`
}

// Role binds a role name to the DNA provisioned for it
type Role struct {
	Name string `yaml:"name"`
	DNA  DNA    `yaml:"dna"`
}

// DNA is the content-addressed part of a role
type DNA struct {
	Name        string `yaml:"name" codec:"name"`
	NetworkSeed string `yaml:"network_seed,omitempty" codec:"network_seed"`
	Zomes       []Zome `yaml:"zomes" codec:"zomes"`
}

// Zome names one component and the entry/link types it declares
type Zome struct {
	Name       string   `yaml:"name" codec:"name"`
	EntryTypes []string `yaml:"entry_types,omitempty" codec:"entry_types"`
	LinkTypes  []string `yaml:"link_types,omitempty" codec:"link_types"`
}

// Load reads and validates a bundle manifest.
// A missing file fails with BundleNotFound.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, types.Errorf(types.KindBundleNotFound, "load bundle", "no bundle at %s", path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read bundle %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates manifest bytes
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("malformed bundle manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks structural invariants of the manifest
func (m *Manifest) Validate() error {
	if m.ManifestVersion != ManifestVersion {
		return fmt.Errorf("unsupported manifest version %q", m.ManifestVersion)
	}
	if m.Name == "" {
		return fmt.Errorf("bundle has no name")
	}
	if len(m.Roles) == 0 {
		return fmt.Errorf("bundle %s declares no roles", m.Name)
	}
	roles := make(map[string]bool)
	for _, r := range m.Roles {
		if r.Name == "" {
			return fmt.Errorf("bundle %s has a role without a name", m.Name)
		}
		if roles[r.Name] {
			return fmt.Errorf("bundle %s declares role %s twice", m.Name, r.Name)
		}
		roles[r.Name] = true
		if len(r.DNA.Zomes) == 0 {
			return fmt.Errorf("role %s declares no zomes", r.Name)
		}
		zomes := make(map[string]bool)
		for _, z := range r.DNA.Zomes {
			if z.Name == "" || zomes[z.Name] {
				return fmt.Errorf("role %s has an empty or duplicate zome name %q", r.Name, z.Name)
			}
			zomes[z.Name] = true
		}
	}
	return nil
}

// Role looks up a role by name
func (m *Manifest) Role(name string) (*Role, bool) {
	for i := range m.Roles {
		if m.Roles[i].Name == name {
			return &m.Roles[i], true
		}
	}
	return nil, false
}

// Hash returns the content address of the DNA: blake2b-256 over its msgpack
// encoding, with seedOverride replacing the manifest's network seed when set.
func (d DNA) Hash(seedOverride string) (types.DnaHash, error) {
	if seedOverride != "" {
		d.NetworkSeed = seedOverride
	}
	data, err := wire.Marshal(&d)
	if err != nil {
		return nil, fmt.Errorf("failed to encode dna %s: %w", d.Name, err)
	}
	sum := blake2b.Sum256(data)
	return types.DnaHash(sum[:]), nil
}

// HasZome reports whether the DNA declares the named zome
func (d DNA) HasZome(name string) bool {
	for _, z := range d.Zomes {
		if z.Name == name {
			return true
		}
	}
	return false
}
