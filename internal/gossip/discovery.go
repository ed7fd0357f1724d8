package gossip

import (
	"context"
	"sync"
	"time"

	dht "github.com/libp2p/go-libp2p-kad-dht"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/peerstore"
	drouting "github.com/libp2p/go-libp2p/p2p/discovery/routing"
	dutil "github.com/libp2p/go-libp2p/p2p/discovery/util"
	"github.com/multiformats/go-multiaddr"

	"github.com/forgelabs/forgecore/internal/log"
)

// discoveryInterval is how often the DHT is queried for new validator
// peers to feed the HyParView Join process.
const discoveryInterval = 30 * time.Second

// Discovery finds validator peers through a Kademlia DHT rendezvous
// keyed by the chain id, so a fresh node with a single bootstrap
// address can discover enough contacts to fill its views.
type Discovery struct {
	node       *Node
	dht        *dht.IpfsDHT
	rendezvous string
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

// NewDiscovery starts the DHT and its periodic FindPeers loop. The
// rendezvous namespace is derived from the chain id, isolating chains
// that share bootstrap infrastructure.
func NewDiscovery(ctx context.Context, node *Node, chainID string, bootstrap []multiaddr.Multiaddr) (*Discovery, error) {
	kad, err := dht.New(ctx, node.Host(), dht.Mode(dht.ModeAutoServer))
	if err != nil {
		return nil, err
	}
	if err := kad.Bootstrap(ctx); err != nil {
		return nil, err
	}

	for _, addr := range bootstrap {
		info, err := peer.AddrInfoFromP2pAddr(addr)
		if err != nil {
			log.Gossip.Warn().Str("addr", addr.String()).Err(err).Msg("bad bootstrap address")
			continue
		}
		node.Host().Peerstore().AddAddrs(info.ID, info.Addrs, peerstore.PermanentAddrTTL)
		if err := node.Host().Connect(ctx, *info); err != nil {
			log.Gossip.Warn().Stringer("peer", info.ID).Err(err).Msg("bootstrap dial failed")
		}
	}

	loopCtx, cancel := context.WithCancel(ctx)
	d := &Discovery{
		node:       node,
		dht:        kad,
		rendezvous: "forgecore/" + chainID,
		cancel:     cancel,
	}
	d.wg.Add(1)
	go d.loop(loopCtx)
	return d, nil
}

func (d *Discovery) loop(ctx context.Context) {
	defer d.wg.Done()
	routing := drouting.NewRoutingDiscovery(d.dht)
	dutil.Advertise(ctx, routing, d.rendezvous)

	ticker := time.NewTicker(discoveryInterval)
	defer ticker.Stop()

	d.findPeers(ctx, routing)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.findPeers(ctx, routing)
		}
	}
}

func (d *Discovery) findPeers(ctx context.Context, routing *drouting.RoutingDiscovery) {
	peers, err := routing.FindPeers(ctx, d.rendezvous)
	if err != nil {
		log.Gossip.Debug().Err(err).Msg("dht find peers failed")
		return
	}
	for info := range peers {
		if info.ID == d.node.ID() || len(info.Addrs) == 0 {
			continue
		}
		d.node.ConnectInfo(info)
	}
}

// Close stops the discovery loop and the DHT.
func (d *Discovery) Close() error {
	d.cancel()
	d.wg.Wait()
	return d.dht.Close()
}
