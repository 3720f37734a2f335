package clustermeta

import (
	"encoding/binary"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketMeta       = []byte("meta")
	keyCurrent       = []byte("current")
	keySnapshotTerm  = []byte("snapshot-term")
	keySnapshotIndex = []byte("snapshot-index")
)

// Store persists a single Meta value in a bolt database. A bolt
// transaction commits via its own write-ahead page and fsync, giving
// the same atomicity spec.md's meta.resql/meta.tmp.resql scratch-file
// rename affords, collapsed to one bucket holding one key since Meta
// is the only value this store ever holds.
type Store struct {
	db *bolt.DB
}

// OpenStore opens (creating if necessary) meta.db under dir.
func OpenStore(dir string) (*Store, error) {
	path := filepath.Join(dir, "meta.db")
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("clustermeta: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketMeta)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("clustermeta: init bucket: %w", err)
	}
	return &Store{db: db}, nil
}

// Load returns the persisted Meta, or (nil, false) if none has been
// saved yet.
func (s *Store) Load() (*Meta, bool, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketMeta).Get(keyCurrent)
		if v != nil {
			data = append([]byte{}, v...)
		}
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("clustermeta: load: %w", err)
	}
	if data == nil {
		return nil, false, nil
	}
	m, err := Decode(data)
	if err != nil {
		return nil, false, err
	}
	return m, true, nil
}

// Save persists m, replacing whatever was stored before. The bolt
// transaction commit is the durability point: on success m has
// survived a crash, matching the rename-into-place guarantee the
// scratch-file design in spec.md §4.5 describes.
func (s *Store) Save(m *Meta) error {
	data, err := Encode(m)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMeta).Put(keyCurrent, data)
	})
}

// SaveSnapshotBoundary persists the (term, index) the most recently
// completed snapshot folded up to, in the same bucket Meta lives in.
// cmd/resql reads this back at startup so logstore.Open's ssTerm/
// ssIndex arguments survive a clean restart; page headers already
// persist the index half durably (page.Page.prevIndex), but the term
// has no other home since spec.md's page format carries no term field
// below the snapshot boundary.
func (s *Store) SaveSnapshotBoundary(term, index uint64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMeta)
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], term)
		if err := b.Put(keySnapshotTerm, buf[:]); err != nil {
			return err
		}
		binary.BigEndian.PutUint64(buf[:], index)
		return b.Put(keySnapshotIndex, buf[:])
	})
}

// LoadSnapshotBoundary returns the last-saved snapshot (term, index),
// or (0, 0) if none has been saved yet (no snapshot taken so far).
func (s *Store) LoadSnapshotBoundary() (term, index uint64, err error) {
	err = s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMeta)
		if v := b.Get(keySnapshotTerm); v != nil {
			term = binary.BigEndian.Uint64(v)
		}
		if v := b.Get(keySnapshotIndex); v != nil {
			index = binary.BigEndian.Uint64(v)
		}
		return nil
	})
	return term, index, err
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
