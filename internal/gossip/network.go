package gossip

import (
	"context"
	"fmt"
	"time"

	libp2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"

	"github.com/forgelabs/forgecore/internal/log"
	"github.com/forgelabs/forgecore/pkg/block"
	"github.com/forgelabs/forgecore/pkg/crypto"
	"github.com/forgelabs/forgecore/pkg/types"
	"github.com/forgelabs/forgecore/pkg/vote"
	"github.com/forgelabs/forgecore/pkg/wire"
)

// eventBuffer bounds the inbound event queue between the gossip task
// and the main loop.
const eventBuffer = 1024

// NetworkEvent is one decoded, signature-checked message from the
// overlay, delivered to the validator's main loop.
type NetworkEvent interface {
	isNetworkEvent()
}

// BlockReceived carries a gossiped block proposal.
type BlockReceived struct {
	Block *block.Produced
	From  peer.ID
}

// VoteReceived carries a gossiped validator vote.
type VoteReceived struct {
	Vote vote.Vote
	From peer.ID
}

// MissingBlock carries a peer's replay request.
type MissingBlock struct {
	Hash types.Hash
	From peer.ID
}

// TxReceived carries a gossiped transaction for the mempool.
type TxReceived struct {
	Tx   block.Transaction
	From peer.ID
}

func (BlockReceived) isNetworkEvent() {}
func (VoteReceived) isNetworkEvent()  {}
func (MissingBlock) isNetworkEvent()  {}
func (TxReceived) isNetworkEvent()    {}

// Network is the consensus core's view of the gossip overlay: four
// topics per chain, typed events in, typed commands out. It owns the
// socket task; the main loop only ever touches channels.
type Network struct {
	genesis *block.Genesis
	node    *Node

	topicBlock  string
	topicVote   string
	topicReplay string
	topicTx     string

	events chan NetworkEvent
}

// ValidatorPeerID derives the libp2p peer id a validator's Ed25519 key
// produces, the link between genesis membership and overlay identity.
func ValidatorPeerID(pubkey types.Pubkey) (peer.ID, error) {
	pub, err := libp2pcrypto.UnmarshalEd25519PublicKey(pubkey.Bytes())
	if err != nil {
		return "", fmt.Errorf("gossip: validator pubkey: %w", err)
	}
	return peer.IDFromPublicKey(pub)
}

// NewNetwork brings the overlay up for one chain: an authorizer that
// admits only genesis validators with sufficient stake, a libp2p node
// keyed by the local validator identity, and subscriptions on the
// chain's block, vote, replay, and tx topics.
func NewNetwork(ctx context.Context, genesis *block.Genesis, key *crypto.PrivateKey, listenAddrs []multiaddr.Multiaddr) (*Network, error) {
	allowed := make(map[peer.ID]struct{}, len(genesis.Validators))
	for _, v := range genesis.Validators {
		if v.Stake < genesis.MinimumStake {
			continue
		}
		id, err := ValidatorPeerID(v.Pubkey)
		if err != nil {
			return nil, err
		}
		allowed[id] = struct{}{}
	}

	epochBlocks := genesis.EpochBlocks
	if epochBlocks == 0 {
		epochBlocks = 1
	}
	epochDuration := genesis.SlotInterval * time.Duration(epochBlocks)

	cfg := DefaultConfig()
	cfg.NetworkSize = len(genesis.Validators)
	cfg.MaxTransmitSize = genesis.MaxBlockSize * 2
	cfg.HistoryWindow = epochDuration
	cfg.LazyPushWindow = epochDuration
	cfg.ShuffleProbability = 0.3
	cfg.Authorizer = func(_ string, id peer.ID) bool {
		_, ok := allowed[id]
		return ok
	}

	node, err := NewNode(ctx, cfg, key, listenAddrs)
	if err != nil {
		return nil, err
	}

	nw := &Network{
		genesis:     genesis,
		node:        node,
		topicBlock:  fmt.Sprintf("/%s/block", genesis.ChainID),
		topicVote:   fmt.Sprintf("/%s/vote", genesis.ChainID),
		topicReplay: fmt.Sprintf("/%s/replay", genesis.ChainID),
		topicTx:     fmt.Sprintf("/%s/tx", genesis.ChainID),
		events:      make(chan NetworkEvent, eventBuffer),
	}
	node.Subscribe(nw.topicBlock, nw.onBlock)
	node.Subscribe(nw.topicVote, nw.onVote)
	node.Subscribe(nw.topicReplay, nw.onReplay)
	node.Subscribe(nw.topicTx, nw.onTx)
	return nw, nil
}

// Node exposes the underlying overlay node (discovery, bans).
func (nw *Network) Node() *Node { return nw.node }

// Events is the inbound channel the main loop selects on.
func (nw *Network) Events() <-chan NetworkEvent { return nw.events }

// Connect dials a bootstrap peer.
func (nw *Network) Connect(addr multiaddr.Multiaddr) error {
	return nw.node.Connect(addr)
}

// GossipBlock floods a block proposal.
func (nw *Network) GossipBlock(b *block.Produced) error {
	return nw.node.Publish(nw.topicBlock, wire.EncodeProduced(b))
}

// GossipVote floods a vote.
func (nw *Network) GossipVote(v vote.Vote) error {
	return nw.node.Publish(nw.topicVote, wire.EncodeVote(v))
}

// GossipMissing floods a replay request for a missing block hash.
func (nw *Network) GossipMissing(hash types.Hash) error {
	return nw.node.Publish(nw.topicReplay, hash.Multihash())
}

// GossipTx floods a transaction toward every validator's mempool.
func (nw *Network) GossipTx(tx block.Transaction) error {
	return nw.node.Publish(nw.topicTx, wire.EncodeTransaction(tx))
}

// Close tears the overlay down.
func (nw *Network) Close() error {
	return nw.node.Close()
}

func (nw *Network) emit(ev NetworkEvent) {
	select {
	case nw.events <- ev:
	default:
		log.Gossip.Warn().Msg("network event queue full, event dropped")
	}
}

// offense charges a peer for an invalid payload, disconnecting it if
// the ban threshold is crossed.
func (nw *Network) offense(from peer.ID, reason string) {
	if nw.node.Bans().RecordOffense(from, PenaltyInvalidPayload, reason) {
		nw.node.disconnectPeer(from)
	}
}

func (nw *Network) onBlock(from peer.ID, payload []byte) {
	b, err := wire.DecodeProduced(payload)
	if err != nil {
		nw.offense(from, "undecodable block")
		return
	}
	if !b.VerifySignature() {
		nw.offense(from, "bad block signature")
		return
	}
	nw.emit(BlockReceived{Block: b, From: from})
}

func (nw *Network) onVote(from peer.ID, payload []byte) {
	v, err := wire.DecodeVote(payload)
	if err != nil {
		nw.offense(from, "undecodable vote")
		return
	}
	if !v.VerifySignature() {
		nw.offense(from, "bad vote signature")
		return
	}
	nw.emit(VoteReceived{Vote: v, From: from})
}

func (nw *Network) onReplay(from peer.ID, payload []byte) {
	hash, err := types.HashFromMultihash(payload)
	if err != nil {
		nw.offense(from, "undecodable replay request")
		return
	}
	nw.emit(MissingBlock{Hash: hash, From: from})
}

func (nw *Network) onTx(from peer.ID, payload []byte) {
	tx, err := wire.DecodeTransaction(payload)
	if err != nil {
		nw.offense(from, "undecodable transaction")
		return
	}
	if !tx.VerifySignatures() {
		nw.offense(from, "bad transaction signatures")
		return
	}
	nw.emit(TxReceived{Tx: tx, From: from})
}
