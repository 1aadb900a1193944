package store

import (
	"bytes"
	"path/filepath"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/lattice-network/lattice/lib"
)

/*
	The block store is the single owner of block records and their lifecycle flags.
	Blocks live in an in-memory arena keyed by id, with parent links held as id
	references, and every mutation is written through to badger so a restart rebuilds
	the arena from disk. Callers receive copies; flags change only through the MarkX
	operations, which keeps the append-only discipline enforceable in one place.
*/

var (
	blockPrefix     = []byte("b/") // blockPrefix + id -> canonical block encoding
	committedPrefix = []byte("c/") // committedPrefix + shard -> id of the highest committed block
)

// Store is the durable, append-only DAG of blocks for the shards this node tracks
type Store struct {
	mu      sync.RWMutex
	db      *badger.DB
	log     lib.LoggerI
	maxWalk uint64 // bound on parent chain traversal

	blocks           map[string]*lib.Block // arena: id -> block, the only mutable copy
	highestCommitted map[uint64]string     // shard -> id of the highest committed block
}

// New() opens the database and rebuilds the in-memory arena from persisted blocks
func New(config lib.Config, log lib.LoggerI) (*Store, lib.ErrorI) {
	opts := badger.DefaultOptions(filepath.Join(config.DataDirPath, config.DBName)).
		WithLoggingLevel(badger.ERROR)
	if config.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true).WithLoggingLevel(badger.ERROR)
	}
	db, e := badger.Open(opts)
	if e != nil {
		return nil, lib.ErrOpenDB(e)
	}
	s := &Store{
		db:               db,
		log:              log,
		maxWalk:          config.MaxAncestorWalk,
		blocks:           make(map[string]*lib.Block),
		highestCommitted: make(map[uint64]string),
	}
	if err := s.load(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close() flushes and closes the underlying database
func (s *Store) Close() lib.ErrorI {
	if e := s.db.Close(); e != nil {
		return lib.ErrCloseDB(e)
	}
	return nil
}

// Insert() appends a new block to the DAG. The parent must already exist for any
// block above genesis, and non-dummy blocks must extend their parent by exactly one
func (s *Store) Insert(block *lib.Block) lib.ErrorI {
	s.mu.Lock()
	defer s.mu.Unlock()
	if block == nil || len(block.ID) == 0 {
		return lib.ErrNilBlock()
	}
	key := string(block.ID)
	if _, ok := s.blocks[key]; ok {
		return lib.ErrDuplicateBlock(block.ID)
	}
	if block.Height > 0 {
		parent, ok := s.blocks[string(block.Parent)]
		if !ok {
			return lib.ErrOrphanBlock(block.Parent)
		}
		// height must advance by exactly one along any path, dummies included
		if block.Height != parent.Height+1 {
			return lib.ErrHeightMismatch(parent.Height, block.Height)
		}
		// epoch is non-decreasing along the parent chain
		if block.Epoch < parent.Epoch {
			return lib.ErrEpochRegression(parent.Epoch, block.Epoch)
		}
	}
	stored, err := block.Copy()
	if err != nil {
		return err
	}
	if err = s.persistBlock(stored); err != nil {
		return err
	}
	s.blocks[key] = stored
	return nil
}

// Get() returns a copy of the block with the given id
func (s *Store) Get(id []byte) (*lib.Block, lib.ErrorI) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getLocked(id)
}

// Contains() reports whether a block with the given id exists
func (s *Store) Contains(id []byte) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.blocks[string(id)]
	return ok
}

// MarkProcessed() records that the block's commands were applied to local state.
// Re-marking an already processed block is a no-op
func (s *Store) MarkProcessed(id []byte) lib.ErrorI {
	s.mu.Lock()
	defer s.mu.Unlock()
	block, ok := s.blocks[string(id)]
	if !ok {
		return lib.ErrBlockNotFound(id)
	}
	if block.IsProcessed {
		return nil
	}
	block.IsProcessed = true
	return s.persistBlock(block)
}

// MarkCommitted() records that the commit rule was satisfied for the block.
// Committing before processing is an invalid transition; re-committing is a no-op
func (s *Store) MarkCommitted(id []byte) lib.ErrorI {
	s.mu.Lock()
	defer s.mu.Unlock()
	block, ok := s.blocks[string(id)]
	if !ok {
		return lib.ErrBlockNotFound(id)
	}
	if block.IsCommitted {
		return nil
	}
	if !block.IsProcessed {
		return lib.ErrInvalidTransition(id, "commit before process")
	}
	block.IsCommitted = true
	if err := s.persistBlock(block); err != nil {
		return err
	}
	return s.advanceCommitted(block)
}

// SetStoredAt() stamps the block's persistence time, settable exactly once
func (s *Store) SetStoredAt(id []byte, timestamp uint64) lib.ErrorI {
	s.mu.Lock()
	defer s.mu.Unlock()
	block, ok := s.blocks[string(id)]
	if !ok {
		return lib.ErrBlockNotFound(id)
	}
	if block.StoredAt != 0 {
		return lib.ErrAlreadyStored(id)
	}
	block.StoredAt = timestamp
	return s.persistBlock(block)
}

// IsAncestor() walks the parent chain from the descendant looking for the ancestor.
// The walk is bounded to protect against malformed chains
func (s *Store) IsAncestor(ancestorID, descendantID []byte) (bool, lib.ErrorI) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	current, ok := s.blocks[string(descendantID)]
	if !ok {
		return false, lib.ErrBlockNotFound(descendantID)
	}
	for walked := uint64(0); ; walked++ {
		if walked > s.maxWalk {
			return false, lib.ErrChainTooDeep(walked)
		}
		if bytes.Equal(current.ID, ancestorID) {
			return true, nil
		}
		if current.Height == 0 {
			return false, nil
		}
		current, ok = s.blocks[string(current.Parent)]
		if !ok {
			return false, nil
		}
	}
}

// HighestCommitted() returns a copy of the highest committed block for a shard
func (s *Store) HighestCommitted(shard uint64) (*lib.Block, lib.ErrorI) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.highestCommitted[shard]
	if !ok {
		return nil, lib.ErrNoCommittedBlock(shard)
	}
	return s.getLocked([]byte(id))
}

// TotalLeaderFeeForEpoch() sums the leader fees of every committed block in an epoch
func (s *Store) TotalLeaderFeeForEpoch(shard, epoch uint64) (total uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, block := range s.blocks {
		if block.Shard == shard && block.Epoch == epoch && block.IsCommitted {
			total += block.TotalLeaderFee
		}
	}
	return
}

// CommandAncestors() collects the commands of the block and its ancestry in
// ancestor-to-descendant order, bounded like any other chain walk
func (s *Store) CommandAncestors(id []byte) ([]*lib.Command, lib.ErrorI) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	current, ok := s.blocks[string(id)]
	if !ok {
		return nil, lib.ErrBlockNotFound(id)
	}
	var chain []*lib.Block
	for walked := uint64(0); ; walked++ {
		if walked > s.maxWalk {
			return nil, lib.ErrChainTooDeep(walked)
		}
		chain = append(chain, current)
		if current.Height == 0 {
			break
		}
		current, ok = s.blocks[string(current.Parent)]
		if !ok {
			break
		}
	}
	var commands []*lib.Command
	for i := len(chain) - 1; i >= 0; i-- {
		commands = append(commands, chain[i].Commands...)
	}
	return commands, nil
}

// Bootstrap() seeds the store with a genesis block: inserted, processed, and
// committed in one step. Re-bootstrapping an already seeded shard is a no-op
func (s *Store) Bootstrap(genesis *lib.Block) lib.ErrorI {
	if genesis == nil || len(genesis.ID) == 0 {
		return lib.ErrNilBlock()
	}
	if s.Contains(genesis.ID) {
		return nil
	}
	if err := s.Insert(genesis); err != nil {
		return err
	}
	if err := s.MarkProcessed(genesis.ID); err != nil {
		return err
	}
	return s.MarkCommitted(genesis.ID)
}

// getLocked() copies a block out of the arena; the caller must hold at least a read lock
func (s *Store) getLocked(id []byte) (*lib.Block, lib.ErrorI) {
	block, ok := s.blocks[string(id)]
	if !ok {
		return nil, lib.ErrBlockNotFound(id)
	}
	return block.Copy()
}

// advanceCommitted() moves the per-shard committed pointer if the block is higher;
// the caller must hold the write lock
func (s *Store) advanceCommitted(block *lib.Block) lib.ErrorI {
	if id, ok := s.highestCommitted[block.Shard]; ok {
		if prev := s.blocks[id]; prev != nil && prev.Height >= block.Height {
			return nil
		}
	}
	s.highestCommitted[block.Shard] = string(block.ID)
	e := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(committedKey(block.Shard), block.ID)
	})
	if e != nil {
		return lib.ErrStoreSet(e)
	}
	return nil
}

// persistBlock() writes the block through to disk; the caller must hold the write lock
func (s *Store) persistBlock(block *lib.Block) lib.ErrorI {
	bz, err := lib.Marshal(block)
	if err != nil {
		return err
	}
	e := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(blockKey(block.ID), bz)
	})
	if e != nil {
		return lib.ErrStoreSet(e)
	}
	return nil
}

// load() rebuilds the arena and committed pointers from the persisted state
func (s *Store) load() lib.ErrorI {
	e := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(blockPrefix); it.ValidForPrefix(blockPrefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				block := new(lib.Block)
				if err := lib.Unmarshal(val, block); err != nil {
					return err
				}
				s.blocks[string(block.ID)] = block
				return nil
			})
			if err != nil {
				return err
			}
		}
		for it.Seek(committedPrefix); it.ValidForPrefix(committedPrefix); it.Next() {
			shard := shardFromCommittedKey(it.Item().Key())
			err := it.Item().Value(func(val []byte) error {
				s.highestCommitted[shard] = string(val)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if e != nil {
		return lib.ErrStoreGet(e)
	}
	if len(s.blocks) != 0 {
		s.log.Infof("Loaded %d blocks from disk", len(s.blocks))
	}
	return nil
}

// blockKey() returns the storage key for a block id
func blockKey(id []byte) []byte { return append(append([]byte{}, blockPrefix...), id...) }

// committedKey() returns the storage key for a shard's committed pointer
func committedKey(shard uint64) []byte {
	return append(append([]byte{}, committedPrefix...), lib.Uint64ToBytes(shard)...)
}

// shardFromCommittedKey() recovers the shard from a committed pointer key
func shardFromCommittedKey(key []byte) uint64 {
	return lib.BytesToUint64(key[len(committedPrefix):])
}
