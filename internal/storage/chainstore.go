package storage

import (
	"encoding/binary"
	"fmt"

	"github.com/forgelabs/forgecore/pkg/account"
	"github.com/forgelabs/forgecore/pkg/block"
	"github.com/forgelabs/forgecore/pkg/types"
	"github.com/forgelabs/forgecore/pkg/wire"
)

var (
	stateStorePrefix = []byte("st/")
	blockByHeightNS  = []byte("bn/")
	blockByHashNS    = []byte("bh/")
	latestKeyPrefix  = []byte("latest/")
)

// StateStore persists account state in a key-value DB. Its Apply takes
// any diff with an Each method rather than *state.StateDiff, so it does
// not satisfy state.Store directly; internal/node wraps it in an adapter
// (stateSink) that does. Neither package imports the other.
type StateStore struct {
	db DB
}

// NewStateStore wraps db, namespacing all keys under a fixed prefix so it
// can share an underlying database with BlockStore.
func NewStateStore(db DB) *StateStore {
	return &StateStore{db: NewPrefixDB(db, stateStorePrefix)}
}

// Get implements state.ReadState.
func (s *StateStore) Get(pubkey types.Pubkey) (account.Account, bool) {
	raw, err := s.db.Get(pubkey.Bytes())
	if err != nil || raw == nil {
		return account.Account{}, false
	}
	acc, err := wire.DecodeAccount(raw)
	if err != nil {
		return account.Account{}, false
	}
	return acc, true
}

// Apply implements state.Store, writing every set entry and deleting
// every tombstoned one. Callers must only ever invoke this for a
// finalized block's diff, in increasing block-height order.
func (s *StateStore) Apply(diff interface {
	Each(func(pubkey types.Pubkey, acc *account.Account))
}) error {
	var firstErr error
	diff.Each(func(pubkey types.Pubkey, acc *account.Account) {
		if firstErr != nil {
			return
		}
		if acc == nil {
			firstErr = s.db.Delete(pubkey.Bytes())
			return
		}
		firstErr = s.db.Put(pubkey.Bytes(), wire.EncodeAccount(*acc))
	})
	return firstErr
}

// BlockStore persists Confirmed and Finalized blocks, keyed by both hash
// and height, plus a per-commitment "latest" pointer -- the
// BlockStore contract.
type BlockStore struct {
	byHeight DB
	byHash   DB
	latest   DB
}

// NewBlockStore wraps db, namespacing height index, hash index, and
// latest-pointer keyspaces independently.
func NewBlockStore(db DB) *BlockStore {
	return &BlockStore{
		byHeight: NewPrefixDB(db, blockByHeightNS),
		byHash:   NewPrefixDB(db, blockByHashNS),
		latest:   NewPrefixDB(db, latestKeyPrefix),
	}
}

func heightKey(height uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], height)
	return b[:]
}

func decodeStoredBlock(buf []byte) (*block.Produced, block.Commitment, error) {
	if len(buf) < 1 {
		return nil, 0, fmt.Errorf("storage: stored block record too short")
	}
	c := block.Commitment(buf[0])
	b, err := wire.DecodeProduced(buf[1:])
	if err != nil {
		return nil, 0, err
	}
	return b, c, nil
}

// Put persists b at its height and hash, only if commitment is at
// least Confirmed (weaker commitments never touch disk), and advances
// the latest pointer for its commitment level.
func (s *BlockStore) Put(b *block.Produced, commitment block.Commitment) error {
	if commitment != block.Confirmed && commitment != block.Finalized {
		return nil
	}
	record := append([]byte{byte(commitment)}, wire.EncodeProduced(b)...)
	hk := heightKey(b.Height)
	if err := s.byHeight.Put(hk, record); err != nil {
		return fmt.Errorf("storage: put block by height: %w", err)
	}
	if err := s.byHash.Put(b.Hash().Bytes(), hk); err != nil {
		return fmt.Errorf("storage: put block by hash: %w", err)
	}
	return s.latest.Put([]byte{byte(commitment)}, hk)
}

// Latest returns the highest-height block persisted at exactly
// commitment's latest pointer.
func (s *BlockStore) Latest(commitment block.Commitment) (*block.Produced, bool, error) {
	key := []byte{byte(commitment)}
	has, err := s.latest.Has(key)
	if err != nil {
		return nil, false, fmt.Errorf("storage: latest pointer: %w", err)
	}
	if !has {
		return nil, false, nil
	}
	hk, err := s.latest.Get(key)
	if err != nil {
		return nil, false, fmt.Errorf("storage: latest pointer: %w", err)
	}
	if hk == nil {
		return nil, false, nil
	}
	record, err := s.byHeight.Get(hk)
	if err != nil {
		return nil, false, err
	}
	if record == nil {
		return nil, false, nil
	}
	b, _, err := decodeStoredBlock(record)
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

// GetByHeight returns the block persisted at height, along with the
// commitment level it was last stored under.
func (s *BlockStore) GetByHeight(height uint64) (*block.Produced, block.Commitment, bool, error) {
	record, err := s.byHeight.Get(heightKey(height))
	if err != nil {
		return nil, 0, false, err
	}
	if record == nil {
		return nil, 0, false, nil
	}
	b, c, err := decodeStoredBlock(record)
	if err != nil {
		return nil, 0, false, err
	}
	return b, c, true, nil
}

// GetByHash resolves a block by its content hash via the secondary index.
func (s *BlockStore) GetByHash(hash types.Hash) (*block.Produced, block.Commitment, bool, error) {
	hk, err := s.byHash.Get(hash.Bytes())
	if err != nil {
		return nil, 0, false, err
	}
	if hk == nil {
		return nil, 0, false, nil
	}
	record, err := s.byHeight.Get(hk)
	if err != nil {
		return nil, 0, false, err
	}
	if record == nil {
		return nil, 0, false, nil
	}
	b, c, err := decodeStoredBlock(record)
	if err != nil {
		return nil, 0, false, err
	}
	return b, c, true, nil
}
