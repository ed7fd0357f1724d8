// Package node assembles a full validator from the consensus core's
// components and runs the single-threaded event loop that drives them.
// The loop selects among leader-schedule ticks, inbound gossip, and
// locally produced blocks with no priority between them when several are
// ready, and drains queued chain events to exhaustion after each one.
package node

import (
	"context"
	"fmt"
	"sync"

	"github.com/multiformats/go-multiaddr"

	"github.com/forgelabs/forgecore/config"
	"github.com/forgelabs/forgecore/internal/chain"
	"github.com/forgelabs/forgecore/internal/consensus"
	"github.com/forgelabs/forgecore/internal/gossip"
	"github.com/forgelabs/forgecore/internal/log"
	"github.com/forgelabs/forgecore/internal/mempool"
	"github.com/forgelabs/forgecore/internal/producer"
	"github.com/forgelabs/forgecore/internal/schedule"
	"github.com/forgelabs/forgecore/internal/state"
	"github.com/forgelabs/forgecore/internal/storage"
	"github.com/forgelabs/forgecore/internal/vm"
	"github.com/forgelabs/forgecore/pkg/block"
	"github.com/forgelabs/forgecore/pkg/crypto"
	"github.com/forgelabs/forgecore/pkg/vote"
)

// mempoolSize bounds pending transactions waiting for a slot.
const mempoolSize = 5000

// stateSink adapts storage.StateStore to the state.Store contract.
type stateSink struct {
	*storage.StateStore
}

func (s stateSink) Apply(diff *state.StateDiff) error {
	return s.StateStore.Apply(diff)
}

// blockConsumer adapts storage.BlockStore to the fanout's Consumer
// contract; the store itself decides that only Confirmed and Finalized
// blocks persist.
type blockConsumer struct {
	store *storage.BlockStore
}

func (c blockConsumer) Consume(b *block.Executed, commitment block.Commitment) {
	if err := c.store.Put(b.Block, commitment); err != nil {
		log.Storage.Error().
			Stringer("block", b.Block.Hash()).
			Stringer("commitment", commitment).
			Err(err).
			Msg("block store write failed")
	}
}

// Node is a fully wired validator: storage, VM, fork tree, producer,
// and the gossip overlay, joined by one event loop.
type Node struct {
	cfg     *config.Config
	genesis *block.Genesis
	key     *crypto.PrivateKey
	produce bool

	db         storage.DB
	blockStore *storage.BlockStore
	finalized  *state.Finalized

	machine *vm.Machine
	ch      *chain.Chain
	pool    *mempool.Pool
	prod    *producer.Producer
	fanout  *chain.Fanout

	network   *gossip.Network
	discovery *gossip.Discovery

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New performs all setup -- storage, finalized state recovery, VM,
// fork tree, schedule, producer, gossip -- and starts the background
// tasks those need (gossip socket and tick loop, DHT discovery, the
// block-consumer fanout), but not the event loop. Call Run to enter it.
func New(ctx context.Context, cfg *config.Config, genesis *block.Genesis, key *crypto.PrivateKey, produce bool) (*Node, error) {
	if err := genesis.Validate(); err != nil {
		return nil, err
	}

	db, err := storage.NewBadger(cfg.StateDir())
	if err != nil {
		return nil, fmt.Errorf("node: open state db: %w", err)
	}

	stateStore := storage.NewStateStore(db)
	blockStore := storage.NewBlockStore(db)

	// Recover the latest finalized block; a fresh data dir starts from
	// genesis and seeds its initial account state.
	finalized := &state.Finalized{
		Store:       stateSink{stateStore},
		BlockHash:   genesis.Hash(),
		BlockHeight: 0,
	}
	if latest, ok, err := blockStore.Latest(block.Finalized); err != nil {
		return nil, fmt.Errorf("node: recover finalized block: %w", err)
	} else if ok {
		finalized.BlockHash = latest.Hash()
		finalized.BlockHeight = latest.Height
	} else {
		seed := state.NewStateDiff()
		for _, entry := range genesis.State {
			seed.Set(entry.Pubkey, entry.Account)
		}
		if err := finalized.Store.Apply(seed); err != nil {
			return nil, fmt.Errorf("node: seed genesis state: %w", err)
		}
	}

	machine, err := vm.NewMachine(genesis)
	if err != nil {
		return nil, err
	}

	seed := genesis.Hash()
	lookupSched, err := schedule.New(seed, genesis)
	if err != nil {
		return nil, err
	}
	lookup := schedule.NewLookup(lookupSched)

	volatile := consensus.NewVolatileState(genesis, machine, finalized)
	ch := chain.New(genesis, volatile, lookup.LeaderAt, blockStore, nil)

	pool := mempool.New(mempoolSize, genesis.MaxTxSize)
	prod := producer.New(genesis, machine, key, pool)

	nodeCtx, cancel := context.WithCancel(ctx)

	listen, err := multiaddr.NewMultiaddr(fmt.Sprintf("/ip4/%s/tcp/%d", cfg.P2P.ListenAddr, cfg.P2P.Port))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("node: listen addr: %w", err)
	}
	network, err := gossip.NewNetwork(nodeCtx, genesis, key, []multiaddr.Multiaddr{listen})
	if err != nil {
		cancel()
		return nil, err
	}

	var bootstrap []multiaddr.Multiaddr
	for _, raw := range cfg.P2P.Bootstrap {
		addr, err := multiaddr.NewMultiaddr(raw)
		if err != nil {
			log.Gossip.Warn().Str("addr", raw).Err(err).Msg("bad bootstrap multiaddr")
			continue
		}
		bootstrap = append(bootstrap, addr)
		if err := network.Connect(addr); err != nil {
			log.Gossip.Warn().Str("addr", raw).Err(err).Msg("bootstrap connect failed")
		}
	}

	discovery, err := gossip.NewDiscovery(nodeCtx, network.Node(), genesis.ChainID, bootstrap)
	if err != nil {
		log.Gossip.Warn().Err(err).Msg("dht discovery unavailable")
	}

	n := &Node{
		cfg:        cfg,
		genesis:    genesis,
		key:        key,
		produce:    produce,
		db:         db,
		blockStore: blockStore,
		finalized:  finalized,
		machine:    machine,
		ch:         ch,
		pool:       pool,
		prod:       prod,
		fanout:     chain.NewFanout(blockConsumer{store: blockStore}),
		network:    network,
		discovery:  discovery,
		ctx:        nodeCtx,
		cancel:     cancel,
	}

	log.Info().
		Str("chain_id", genesis.ChainID).
		Stringer("genesis", seed).
		Stringer("validator", key.Public()).
		Uint64("finalized_height", finalized.BlockHeight).
		Bool("produce", produce).
		Msg("validator node initialized")
	return n, nil
}

// SubmitTransaction is the RPC-facing entry: queue locally and gossip
// to the other validators' mempools.
func (n *Node) SubmitTransaction(tx block.Transaction) error {
	if err := n.pool.Add(tx); err != nil {
		return err
	}
	return n.network.GossipTx(tx)
}

// Run enters the validator's event loop and blocks until ctx ends.
func (n *Node) Run() error {
	streamSched, err := schedule.New(n.genesis.Hash(), n.genesis)
	if err != nil {
		return err
	}
	ticks := schedule.NewStream(n.ctx, streamSched, n.genesis.GenesisTime, n.genesis.SlotInterval)
	me := n.key.Public()

	for {
		select {
		case <-n.ctx.Done():
			return nil

		case tick, ok := <-ticks.C():
			if !ok {
				return nil
			}
			// Slot boundaries drive periodic chain maintenance too.
			n.ch.Tick()
			if n.produce && tick.Leader.Pubkey == me {
				head := n.ch.Head()
				log.Producer.Debug().
					Uint64("slot", tick.Slot).
					Stringer("head", head.Hash).
					Uint64("height", head.Height).
					Msg("local validator leads this slot")
				n.prod.Produce(tick.Slot, head, n.ch.Root())
			}
			n.drainChainEvents()

		case ev := <-n.network.Events():
			n.handleNetworkEvent(ev)
			n.drainChainEvents()

		case b := <-n.prod.Out():
			n.ch.Include(b)
			if err := n.network.GossipBlock(b); err != nil {
				log.Gossip.Warn().Stringer("block", b.Hash()).Err(err).Msg("block gossip failed")
			}
			n.drainChainEvents()
		}
	}
}

func (n *Node) handleNetworkEvent(ev gossip.NetworkEvent) {
	switch e := ev.(type) {
	case gossip.BlockReceived:
		n.ch.Include(e.Block)

	case gossip.VoteReceived:
		// Votes count toward the fork tree immediately and wait in the
		// producer's pool for inclusion in the next produced block.
		n.ch.RecordVote(e.Vote)
		n.prod.RecordVote(e.Vote)

	case gossip.MissingBlock:
		n.ch.TryReplayBlock(e.Hash)

	case gossip.TxReceived:
		if err := n.pool.Add(e.Tx); err != nil {
			log.Producer.Debug().Stringer("tx", e.Tx.Hash()).Err(err).Msg("gossiped transaction rejected")
		}
	}
}

// drainChainEvents processes everything the chain queued during the
// last operation. Handling an event may queue more (voting records the
// own vote, which can confirm or finalize); the loop runs until the
// queue is empty.
func (n *Node) drainChainEvents() {
	for {
		ev, ok := n.ch.PollEvent()
		if !ok {
			return
		}
		switch e := ev.(type) {
		case chain.VoteEvent:
			v := vote.New(n.key, e.Target, e.Justification)
			n.ch.RecordVote(v)
			n.prod.RecordVote(v)
			if err := n.network.GossipVote(v); err != nil {
				log.Gossip.Warn().Err(err).Msg("vote gossip failed")
			}

		case chain.BlockMissingEvent:
			log.Chain.Info().Stringer("block", e.Hash).Msg("block missing, requesting replay")
			if err := n.network.GossipMissing(e.Hash); err != nil {
				log.Gossip.Warn().Err(err).Msg("replay request gossip failed")
			}

		case chain.BlockReplayedEvent:
			log.Chain.Info().Stringer("block", e.Block.Hash()).Msg("replaying block for a peer")
			if err := n.network.GossipBlock(e.Block); err != nil {
				log.Gossip.Warn().Err(err).Msg("replay gossip failed")
			}

		case chain.BlockIncludedEvent:
			log.Chain.Info().
				Stringer("block", e.Block.Block.Hash()).
				Uint64("height", e.Block.Block.Height).
				Uint64("epoch", e.Block.Block.Height/n.genesis.EpochBlocks).
				Msg("block included")
			// Don't re-propose what the chain already carries.
			n.prod.ExcludeVotes(e.Block.Block)
			n.pool.RemovePayload(e.Block.Block.Payload)
			n.fanout.Consume(e.Block, block.Included)

		case chain.BlockConfirmedEvent:
			log.Chain.Info().
				Stringer("block", e.Block.Block.Hash()).
				Uint64("height", e.Block.Block.Height).
				Str("votes", fmt.Sprintf("%.2f%%", 100*float64(e.Votes)/float64(n.ch.TotalStake()))).
				Msg("block confirmed")
			n.fanout.Consume(e.Block, block.Confirmed)

		case chain.BlockFinalizedEvent:
			log.Chain.Info().
				Stringer("block", e.Block.Block.Hash()).
				Uint64("height", e.Block.Block.Height).
				Str("votes", fmt.Sprintf("%.2f%%", 100*float64(e.Votes)/float64(n.ch.TotalStake()))).
				Msg("block finalized")
			n.fanout.Consume(e.Block, block.Finalized)
		}
	}
}

// Stop flushes in-flight work best-effort and releases every resource:
// schedule stream, gossip socket, fanout queue, and the database.
func (n *Node) Stop() {
	n.cancel()
	if n.discovery != nil {
		_ = n.discovery.Close()
	}
	if err := n.network.Close(); err != nil {
		log.Gossip.Warn().Err(err).Msg("gossip shutdown")
	}
	n.fanout.Close()
	n.wg.Wait()
	if err := n.db.Close(); err != nil {
		log.Storage.Warn().Err(err).Msg("database close")
	}
	log.Info().Msg("validator node stopped")
}
