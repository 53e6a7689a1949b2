package node

import (
	"context"
	"testing"
	"time"

	"github.com/wdnprotocol/wdnd/blockchain"
	"github.com/wdnprotocol/wdnd/crypto"
	"github.com/wdnprotocol/wdnd/kv"
	"github.com/wdnprotocol/wdnd/p2p"
	"github.com/wdnprotocol/wdnd/rlp"
	"github.com/wdnprotocol/wdnd/task"
)

type testRig struct {
	node       *Engine
	blockchain *blockchain.Engine
	task       *task.Engine
}

func newTestRig(t *testing.T, peerID string, keeper bool) *testRig {
	t.Helper()
	store, err := kv.NewPebbleDatabase(kv.PebbleConfig{Path: t.TempDir()})
	if err != nil {
		t.Fatalf("NewPebbleDatabase: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	bdb, err := blockchain.OpenDB(store)
	if err != nil {
		t.Fatalf("blockchain.OpenDB: %v", err)
	}
	bengine, err := blockchain.NewEngine(bdb)
	if err != nil {
		t.Fatalf("blockchain.NewEngine: %v", err)
	}

	tdb, err := task.OpenDB(store)
	if err != nil {
		t.Fatalf("task.OpenDB: %v", err)
	}
	tengine := task.NewEngine(tdb, bengine.Caller(), peerID)

	ndb, err := OpenDB(store)
	if err != nil {
		t.Fatalf("node.OpenDB: %v", err)
	}
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	var keepers KeeperSource
	if keeper {
		keepers = NewStaticKeeperSource([]string{"account-" + peerID})
	} else {
		keepers = NewStaticKeeperSource(nil)
	}
	nengine := NewEngine(ndb, Identity{
		PeerID:     peerID,
		Account:    []byte("account-" + peerID),
		PrivateKey: key,
	}, keepers, bengine.Caller(), tengine.Caller())

	return &testRig{node: nengine, blockchain: bengine, task: tengine}
}

func (r *testRig) run(ctx context.Context) {
	go r.blockchain.Run(ctx)
	go r.task.Run(ctx)
	go r.node.Run(ctx)
}

func TestVerifyNodeInitSucceedsForKeeper(t *testing.T) {
	rig := newTestRig(t, "peer-1", true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rig.run(ctx)

	resp, err := rig.node.Caller().Call(ctx, ReqKeeperInit{})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	ack, ok := resp.(AckKeeperInit)
	if !ok || !ack.OK {
		t.Fatalf("verify_node_init failed: %+v", resp)
	}

	snap, err := rig.blockchain.Caller().Call(ctx, blockchain.ReqBlockCurrent{})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	block := snap.(blockchain.AckBlockCurrent).Block
	if len(block.Body.NodeActivation) != 1 {
		t.Fatalf("NodeActivation len = %d, want 1", len(block.Body.NodeActivation))
	}
	if len(block.Body.Tasks) != 2 {
		t.Fatalf("Tasks len = %d, want 2 (genesis seed)", len(block.Body.Tasks))
	}
}

func TestVerifyNodeInitRejectsNonKeeper(t *testing.T) {
	rig := newTestRig(t, "peer-1", false)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rig.run(ctx)

	resp, err := rig.node.Caller().Call(ctx, ReqKeeperInit{})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	ack, ok := resp.(AckKeeperInit)
	if !ok || ack.OK {
		t.Fatalf("expected rejection for non-keeper, got %+v", resp)
	}
}

func TestVerifyNodeInitRejectsAfterGenesis(t *testing.T) {
	rig := newTestRig(t, "peer-1", true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rig.run(ctx)

	if _, err := rig.node.Caller().Call(ctx, ReqKeeperInit{}); err != nil {
		t.Fatalf("Call: %v", err)
	}
	// Force a pack so current_block.Header.Index advances past 0.
	if err := rig.blockchain.Caller().Notify(ctx, blockchain.ReqBlockPack{}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	resp, err := rig.node.Caller().Call(ctx, ReqKeeperInit{})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	ack := resp.(AckKeeperInit)
	if ack.OK {
		t.Fatal("second verify_node_init should fail (node had inited)")
	}
	if ack.Error != "node had inited" {
		t.Fatalf("Error = %q, want %q", ack.Error, "node had inited")
	}
}

func TestPingAddsUnknownPeer(t *testing.T) {
	rig := newTestRig(t, "peer-1", true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rig.run(ctx)

	ping := p2p.PingMessage{PrincipalID: "account-peer-2", PeerID: "peer-2", Timestamp: 1}
	rig.node.handlePing(ping)

	rig.node.mu.RLock()
	d, ok := rig.node.known["peer-2"]
	rig.node.mu.RUnlock()
	if !ok {
		t.Fatal("peer-2 was not added")
	}
	if d.Status != Online || d.ActiveStatus != Inactived || d.NodeType != TypeWork {
		t.Fatalf("unexpected node data: %+v", d)
	}
}

func TestDistributeTaskRespectsPeerCap(t *testing.T) {
	rig := newTestRig(t, "peer-1", true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rig.run(ctx)

	if _, err := rig.node.Caller().Call(ctx, ReqKeeperInit{}); err != nil {
		t.Fatalf("Call: %v", err)
	}

	for _, id := range []string{"peer-2", "peer-3"} {
		rig.node.handlePing(p2p.PingMessage{PrincipalID: "account-" + id, PeerID: id})
	}

	overlay := p2p.NewGossipOverlay(p2p.DefaultGossipConfig())
	sub := overlay.Subscribe(p2p.TaskList)
	router := p2p.NewRouter(overlay)
	rig.node.SetNetworkCaller(router.Caller())
	go router.Run(ctx)
	time.Sleep(20 * time.Millisecond)

	rig.node.distributeTask(ctx)

	select {
	case msg := <-sub.Messages:
		if msg.Topic != p2p.TaskList {
			t.Fatalf("topic = %v, want TaskList", msg.Topic)
		}
		var tm p2p.TopicMessage
		if err := rlp.DecodeBytes(msg.Data, &tm); err != nil {
			t.Fatalf("decode TopicMessage: %v", err)
		}
		var assignments []DistributeData
		if err := rlp.DecodeBytes(tm.Data, &assignments); err != nil {
			t.Fatalf("decode assignments: %v", err)
		}
		perPeer := make(map[string]int)
		for _, a := range assignments {
			perPeer[a.PeerID]++
			if perPeer[a.PeerID] > perPeerTaskCap {
				t.Fatalf("peer %s assigned %d tasks, cap is %d", a.PeerID, perPeer[a.PeerID], perPeerTaskCap)
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("distribute_task never published an assignment")
	}
}
