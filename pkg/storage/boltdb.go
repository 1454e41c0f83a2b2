package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/cuemby/holonode/pkg/types"
	bolt "go.etcd.io/bbolt"
)

// DBFile is the database file created under the environment path
const DBFile = "devhost.db"

var (
	// Bucket names
	bucketApps       = []byte("apps")
	bucketInterfaces = []byte("interfaces")
	bucketEntries    = []byte("entries")
	bucketLinks      = []byte("links")
	bucketNonces     = []byte("nonces")
)

// BoltStore implements Store interface using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store under dataDir
func NewBoltStore(dataDir string) (*BoltStore, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	dbPath := filepath.Join(dataDir, DBFile)

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketApps,
			bucketInterfaces,
			bucketEntries,
			bucketLinks,
			bucketNonces,
		}

		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// App operations
func (s *BoltStore) PutApp(app *AppRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketApps)
		data, err := json.Marshal(app)
		if err != nil {
			return err
		}
		return b.Put([]byte(app.Info.InstalledAppID), data)
	})
}

func (s *BoltStore) GetApp(id string) (*AppRecord, error) {
	var app AppRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketApps)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("app %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &app)
	})
	if err != nil {
		return nil, err
	}
	return &app, nil
}

func (s *BoltStore) ListApps() ([]*AppRecord, error) {
	var apps []*AppRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketApps)
		return b.ForEach(func(k, v []byte) error {
			var app AppRecord
			if err := json.Unmarshal(v, &app); err != nil {
				return err
			}
			apps = append(apps, &app)
			return nil
		})
	})
	return apps, err
}

// App interface operations
func (s *BoltStore) PutInterface(port uint16) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketInterfaces).Put(portKey(port), []byte{})
	})
}

func (s *BoltStore) DeleteInterface(port uint16) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketInterfaces).Delete(portKey(port))
	})
}

func (s *BoltStore) ListInterfaces() ([]uint16, error) {
	var ports []uint16
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketInterfaces).ForEach(func(k, v []byte) error {
			if len(k) == 2 {
				ports = append(ports, binary.BigEndian.Uint16(k))
			}
			return nil
		})
	})
	return ports, err
}

func portKey(port uint16) []byte {
	k := make([]byte, 2)
	binary.BigEndian.PutUint16(k, port)
	return k
}

// Entry operations
func (s *BoltStore) PutEntry(entry *Entry) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketEntries).Put(entry.ActionHash, data)
	})
}

func (s *BoltStore) GetEntry(hash types.ActionHash) (*Entry, error) {
	var entry Entry
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketEntries).Get(hash)
		if data == nil {
			return fmt.Errorf("entry %s: %w", hash, ErrNotFound)
		}
		return json.Unmarshal(data, &entry)
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// ListEntries returns the entries of one type committed in a DNA, oldest first
func (s *BoltStore) ListEntries(dna types.DnaHash, entryType string) ([]*Entry, error) {
	var entries []*Entry
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketEntries).ForEach(func(k, v []byte) error {
			var entry Entry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			if bytes.Equal(entry.DnaHash, dna) && entry.EntryType == entryType {
				entries = append(entries, &entry)
			}
			return nil
		})
	})
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp < entries[j].Timestamp
	})
	return entries, err
}

// Link operations
func (s *BoltStore) PutLink(link *Link) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(link)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketLinks).Put(linkKey(link.DnaHash, link.Base, link.LinkType, link.Target), data)
	})
}

// GetLinks returns links from base of one type, oldest first
func (s *BoltStore) GetLinks(dna types.DnaHash, base []byte, linkType string) ([]*Link, error) {
	var links []*Link
	prefix := linkKey(dna, base, linkType, nil)
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketLinks).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var link Link
			if err := json.Unmarshal(v, &link); err != nil {
				return err
			}
			links = append(links, &link)
		}
		return nil
	})
	sort.SliceStable(links, func(i, j int) bool {
		return links[i].Timestamp < links[j].Timestamp
	})
	return links, err
}

// linkKey lays out length-prefixed dna, base and type followed by the target,
// so a key without target is a prefix of every matching link
func linkKey(dna types.DnaHash, base []byte, linkType string, target []byte) []byte {
	var buf bytes.Buffer
	for _, part := range [][]byte{dna, base, []byte(linkType)} {
		var n [2]byte
		binary.BigEndian.PutUint16(n[:], uint16(len(part)))
		buf.Write(n[:])
		buf.Write(part)
	}
	buf.Write(target)
	return buf.Bytes()
}

// Nonce operations
func (s *BoltStore) UseNonce(agent types.AgentPubKey, nonce []byte, expiresAt, now int64) (bool, error) {
	fresh := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNonces)

		var expired [][]byte
		err := b.ForEach(func(k, v []byte) error {
			if len(v) == 8 && int64(binary.BigEndian.Uint64(v)) <= now {
				expired = append(expired, append([]byte{}, k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range expired {
			if err := b.Delete(k); err != nil {
				return err
			}
		}

		key := append(append([]byte{}, agent...), nonce...)
		if b.Get(key) != nil {
			return nil
		}
		fresh = true
		v := make([]byte, 8)
		binary.BigEndian.PutUint64(v, uint64(expiresAt))
		return b.Put(key, v)
	})
	return fresh, err
}
