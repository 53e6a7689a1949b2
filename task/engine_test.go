package task

import (
	"context"
	"testing"
	"time"

	"github.com/wdnprotocol/wdnd/blockchain"
	"github.com/wdnprotocol/wdnd/kv"
	"github.com/wdnprotocol/wdnd/p2p"
	"github.com/wdnprotocol/wdnd/rlp"
)

func newTestEngine(t *testing.T, peerID string) (*Engine, *blockchain.Engine) {
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

	tdb, err := OpenDB(store)
	if err != nil {
		t.Fatalf("task.OpenDB: %v", err)
	}
	engine := NewEngine(tdb, bengine.Caller(), peerID)
	return engine, bengine
}

func TestGenesisInitTaskSeedsCatalog(t *testing.T) {
	engine, bengine := newTestEngine(t, "peer-1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bengine.Run(ctx)
	go engine.Run(ctx)

	resp, err := engine.Caller().Call(ctx, ReqTaskInitGenesis{})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	ack, ok := resp.(AckTaskInitGenesis)
	if !ok || !ack.OK {
		t.Fatalf("genesis init failed: %+v", resp)
	}

	listResp, err := engine.Caller().Call(ctx, GetTaskList{})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	tasks := listResp.(GetTaskListResponse).Tasks
	if len(tasks) != 2 {
		t.Fatalf("catalog size = %d, want 2", len(tasks))
	}

	byID := map[int64]Data{}
	for _, task := range tasks {
		byID[task.ID] = task
	}
	if byID[1].RewardWeight != 100 || byID[2].RewardWeight != 200 {
		t.Fatalf("unexpected reward weights: %+v", byID)
	}

	snap, err := bengine.Caller().Call(ctx, blockchain.ReqBlockCurrent{})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	block := snap.(blockchain.AckBlockCurrent).Block
	if len(block.Body.Tasks) != 2 {
		t.Fatalf("block.Body.Tasks len = %d, want 2", len(block.Body.Tasks))
	}
}

func TestGossipDistributeTaskFiltersBySelf(t *testing.T) {
	engine, _ := newTestEngine(t, "peer-1")

	overlay := p2p.NewGossipOverlay(p2p.DefaultGossipConfig())
	router := p2p.NewRouter(overlay)
	if err := router.RegisterCaller(p2p.TaskList, engine.Caller()); err != nil {
		t.Fatalf("RegisterCaller: %v", err)
	}
	engine.SetNetworkCaller(router.Caller())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go router.Run(ctx)
	go engine.Run(ctx)
	time.Sleep(20 * time.Millisecond)

	assignments := []DistributeData{
		{TaskID: 1, PeerID: "peer-1"},
		{TaskID: 2, PeerID: "peer-2"},
	}
	payload, err := rlp.EncodeToBytes(assignments)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	tm := p2p.TopicMessage{SubTopic: p2p.DistributeTask, Data: payload}
	tmEnc, err := rlp.EncodeToBytes(tm)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := overlay.Publish(p2p.TaskList, tmEnc); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	engine.mu.RLock()
	defer engine.mu.RUnlock()
	if len(engine.assigned) != 1 || engine.assigned[0].TaskID != 1 {
		t.Fatalf("assigned = %+v, want only task 1", engine.assigned)
	}
}
