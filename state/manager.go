package state

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"

	"escrowd/storage"
)

// Manager wraps a key-value database with RLP-encoded typed accessors. Every
// record family lives under its own prefix so unrelated writes can never
// collide.
type Manager struct {
	db storage.Database
}

// NewManager binds a manager to the supplied database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

var (
	escrowRecordPrefix     = []byte("escrow/record/")
	escrowIndexKey         = []byte("escrow/index")
	capabilityRecordPrefix = []byte("escrow/cap/")
	capabilityCounterKey   = []byte("escrow/cap-seq")
	claimRecordPrefix      = []byte("escrow/claim/")
	receiptRecordPrefix    = []byte("escrow/receipt/")
	receiptCounterKey      = []byte("escrow/receipt-seq")
	splitRecordPrefix      = []byte("escrow/split/")
	configKey              = []byte("escrow/config")
	guardKey               = []byte("escrow/guard")
	accountPrefix          = []byte("escrow/account/")
)

func uint64Key(prefix []byte, id uint64) []byte {
	key := make([]byte, len(prefix)+8)
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], id)
	return key
}

func addressKey(prefix []byte, addr [20]byte) []byte {
	key := make([]byte, len(prefix)+len(addr))
	copy(key, prefix)
	copy(key[len(prefix):], addr[:])
	return key
}

// KVPut encodes the value with RLP and stores it under key.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if m == nil || m.db == nil {
		return fmt.Errorf("state: manager not initialised")
	}
	if len(key) == 0 {
		return fmt.Errorf("state: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return m.db.Put(key, encoded)
}

// KVGet retrieves the value stored under key and decodes it into out. The
// boolean return reports whether the key existed.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if m == nil || m.db == nil {
		return false, fmt.Errorf("state: manager not initialised")
	}
	if len(key) == 0 {
		return false, fmt.Errorf("state: key must not be empty")
	}
	data, err := m.db.Get(key)
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return false, nil
		}
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// KVDelete removes the value stored under key. Missing keys are not an error.
func (m *Manager) KVDelete(key []byte) error {
	if m == nil || m.db == nil {
		return fmt.Errorf("state: manager not initialised")
	}
	if err := m.db.Delete(key); err != nil && !errors.Is(err, storage.ErrKeyNotFound) {
		return err
	}
	return nil
}

// nextSequence increments and persists the monotonic counter stored under key,
// returning the new value. The first issued value is 1.
func (m *Manager) nextSequence(key []byte) (uint64, error) {
	var current uint64
	if _, err := m.KVGet(key, &current); err != nil {
		return 0, err
	}
	next := current + 1
	if err := m.KVPut(key, next); err != nil {
		return 0, err
	}
	return next, nil
}
