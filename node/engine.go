package node

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/rand"
	"sync"

	"github.com/wdnprotocol/wdnd/blockchain"
	"github.com/wdnprotocol/wdnd/bus"
	"github.com/wdnprotocol/wdnd/crypto"
	"github.com/wdnprotocol/wdnd/log"
	"github.com/wdnprotocol/wdnd/p2p"
	"github.com/wdnprotocol/wdnd/rlp"
	"github.com/wdnprotocol/wdnd/task"
)

// distributeEvery is how often (in packed blocks, measured from the last
// distribution) distribute_task runs.
const distributeEvery = 10

// perPeerTaskCap bounds how many tasks a single peer can be assigned in
// one distribution round.
const perPeerTaskCap = 2

// Engine is the node state machine: it owns the node DB, tracks the known
// peer set, and implements verify_node_init, distribute_task, and Ping
// handling.
type Engine struct {
	db  *DB
	log *log.Logger

	selfPeerID  string
	selfAccount []byte
	privKey     *ecdsa.PrivateKey
	pubKey      []byte

	keepers KeeperSource

	blockchain bus.Caller
	task       bus.Caller

	waiter  *bus.Waiter
	network bus.Caller

	mu                   sync.RWMutex
	known                map[string]Data
	lastDistributeBlock  uint64
}

// Identity bundles the local node's signing key and peer/account
// identifiers, kept together since every record this engine produces
// (activation, self's own NodeData) needs all three.
type Identity struct {
	PeerID     string
	Account    []byte
	PrivateKey *ecdsa.PrivateKey
}

// NewEngine creates a node Engine. blockchainCaller and taskCaller reach
// the blockchain and task engines; keepers answers the keeper-set
// membership check verify_node_init depends on.
func NewEngine(db *DB, identity Identity, keepers KeeperSource, blockchainCaller, taskCaller bus.Caller) *Engine {
	return &Engine{
		db:          db,
		log:         log.Default().Module("node.engine"),
		selfPeerID:  identity.PeerID,
		selfAccount: identity.Account,
		privKey:     identity.PrivateKey,
		pubKey:      crypto.FromECDSAPub(&identity.PrivateKey.PublicKey),
		keepers:     keepers,
		blockchain:  blockchainCaller,
		task:        taskCaller,
		waiter:      bus.NewWaiter(),
		known:       make(map[string]Data),
	}
}

// Caller returns a handle other state machines (and the gossip router,
// for KeepAlive topic delivery) use to reach this engine.
func (e *Engine) Caller() bus.Caller {
	return e.waiter.Caller()
}

// QueueDepth reports how many messages are currently buffered on this
// engine's mailbox, for metrics reporting.
func (e *Engine) QueueDepth() int {
	return e.waiter.QueueDepth()
}

// SetNetworkCaller registers the gossip router's outbound caller.
func (e *Engine) SetNetworkCaller(caller bus.Caller) {
	e.network = caller
}

// Run drives the engine's event loop until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	e.waiter.Wait(ctx, func(msg bus.Message) (bus.Message, bool) {
		return e.handle(ctx, msg)
	})
}

func (e *Engine) handle(ctx context.Context, msg bus.Message) (bus.Message, bool) {
	switch m := msg.(type) {
	case ReqKeeperInit:
		ok, errMsg := e.verifyNodeInit(ctx)
		return AckKeeperInit{OK: ok, Error: errMsg}, true

	case ReqWorkerActive:
		ok, errMsg := e.activateWorker(m.PeerID)
		// worker_active inversion bug (spec.md §9): the source returns
		// its error response when the activation succeeds. Fixed here:
		// OK reflects the actual outcome.
		return AckWorkerActive{OK: ok, Error: errMsg}, true

	case ReqWorkerActiveStatus:
		e.mu.RLock()
		d, found := e.known[m.PeerID]
		e.mu.RUnlock()
		if !found {
			return AckWorkerActiveStatus{Found: false}, true
		}
		return AckWorkerActiveStatus{Status: d.ActiveStatus, Found: true}, true

	case ReqNodeDistributeTask:
		e.maybeDistributeTask(ctx, m.BlockIndex)
		return nil, false

	case RequireNodeList:
		e.mu.RLock()
		nodes := make([]Data, 0, len(e.known))
		for _, d := range e.known {
			nodes = append(nodes, d)
		}
		e.mu.RUnlock()
		return AckNodeList{Nodes: nodes}, true

	case p2p.Network:
		e.handleGossip(ctx, m)
		return nil, false

	default:
		e.log.Warn("node engine received unrecognized message")
		return nil, false
	}
}

func (e *Engine) handleGossip(ctx context.Context, net p2p.Network) {
	switch net.Topic {
	case p2p.KeepAlive:
		var ping p2p.PingMessage
		if err := rlp.DecodeBytes(net.Data, &ping); err != nil {
			e.log.Warn("failed to decode ping", "err", err)
			return
		}
		e.handlePing(ping)

	default:
		e.log.Warn("node engine ignoring topic", "topic", net.Topic.TopicString())
	}
}

// handlePing implements the Ping sub-topic handling of spec.md §4.4: an
// unknown peer_id gets a freshly appended NodeData{status: Online,
// active: Inactived, type: Work}.
func (e *Engine) handlePing(ping p2p.PingMessage) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, known := e.known[ping.PeerID]; known {
		return
	}
	e.known[ping.PeerID] = Data{
		PeerID:       ping.PeerID,
		Account:      []byte(ping.PrincipalID),
		Status:       Online,
		ActiveStatus: Inactived,
		NodeType:     TypeWork,
	}
}

// activateWorker records this (or another) peer as an active worker node.
func (e *Engine) activateWorker(peerID string) (bool, string) {
	if peerID == "" {
		peerID = e.selfPeerID
	}
	d := Data{
		PeerID:       peerID,
		Account:      e.selfAccount,
		PubKey:       e.pubKey,
		Status:       Online,
		ActiveStatus: Actived,
		NodeType:     TypeWork,
	}
	if err := e.db.PutNode(d); err != nil {
		return false, err.Error()
	}
	e.mu.Lock()
	e.known[peerID] = d
	e.mu.Unlock()
	return true, ""
}

// verifyNodeInit implements spec.md §4.4's genesis keeper bootstrap. It
// must be the only genesis producer: any failure aborts with a distinct
// message naming the step that failed.
func (e *Engine) verifyNodeInit(ctx context.Context) (bool, string) {
	resp, err := e.blockchain.Call(ctx, blockchain.ReqBlockCurrent{})
	if err != nil {
		return false, fmt.Sprintf("read current block: %v", err)
	}
	current, ok := resp.(blockchain.AckBlockCurrent)
	if !ok {
		return false, "read current block: unexpected response"
	}
	if current.Block.Header.Index != 0 {
		return false, "node had inited"
	}

	isKeeper, err := e.keepers.IsKeeper(string(e.selfAccount))
	if err != nil {
		return false, fmt.Sprintf("keeper lookup: %v", err)
	}
	if !isKeeper {
		return false, "local principal is not a keeper"
	}

	activation := blockchain.NodeActivation{
		Operation: blockchain.Activate,
		PeerID:    e.selfPeerID,
		Account:   e.selfAccount,
		PubKey:    e.pubKey,
	}
	activationEnc, err := rlp.EncodeToBytes(activation)
	if err != nil {
		return false, fmt.Sprintf("encode activation: %v", err)
	}
	sig, err := crypto.Sign(crypto.Keccak256(activationEnc), e.privKey)
	if err != nil {
		return false, fmt.Sprintf("sign activation: %v", err)
	}
	signed := blockchain.NeedSignData[blockchain.NodeActivation]{Payload: activation, Signature: sig}

	selfNode := Data{
		PeerID:       e.selfPeerID,
		Account:      e.selfAccount,
		PubKey:       e.pubKey,
		Status:       Online,
		ActiveStatus: Actived,
		NodeType:     TypeKeeper,
	}
	if err := e.db.PutNode(selfNode); err != nil {
		return false, fmt.Sprintf("insert node: %v", err)
	}
	signedEnc, err := rlp.EncodeToBytes(signed)
	if err != nil {
		return false, fmt.Sprintf("encode signed activation: %v", err)
	}
	activationHash := crypto.Keccak256Hash(signedEnc)
	if err := e.db.PutActivation(activationHash, signedEnc); err != nil {
		return false, fmt.Sprintf("insert activation: %v", err)
	}
	e.mu.Lock()
	e.known[e.selfPeerID] = selfNode
	e.mu.Unlock()

	roots := e.db.Roots()
	saveResp, err := e.blockchain.Call(ctx, blockchain.ReqBlockSaveNodeActivation{
		Activation:        signed,
		NodeRoot:          roots.NodeRoot,
		ActivationRoot:    roots.NodeActivationRoot,
		CurrentActivation: roots.CurrentNodeActivationRoot,
	})
	if err != nil {
		return false, fmt.Sprintf("save node activation: %v", err)
	}
	if ack, ok := saveResp.(blockchain.AckBlockSaveNodeActivation); !ok || !ack.OK {
		return false, "save node activation: rejected"
	}

	taskResp, err := e.task.Call(ctx, task.ReqTaskInitGenesis{})
	if err != nil {
		return false, fmt.Sprintf("init genesis tasks: %v", err)
	}
	if ack, ok := taskResp.(task.AckTaskInitGenesis); !ok || !ack.OK {
		return false, "init genesis tasks: rejected"
	}

	tickResp, err := e.blockchain.Call(ctx, blockchain.ReqBlockStartTick{})
	if err != nil {
		return false, fmt.Sprintf("start block tick: %v", err)
	}
	if ack, ok := tickResp.(blockchain.AckBlockStartTick); !ok || !ack.OK {
		return false, "start block tick: rejected"
	}

	return true, ""
}

// maybeDistributeTask runs distribute_task when blockIndex is exactly
// distributeEvery blocks past the last distribution.
func (e *Engine) maybeDistributeTask(ctx context.Context, blockIndex uint64) {
	e.mu.RLock()
	last := e.lastDistributeBlock
	e.mu.RUnlock()

	if blockIndex < last || blockIndex-last != distributeEvery {
		return
	}
	e.distributeTask(ctx)

	e.mu.Lock()
	e.lastDistributeBlock = blockIndex
	e.mu.Unlock()
}

// distributeTask implements spec.md §4.4's assignment algorithm: shuffle
// the active peer list, then walk the task catalog assigning each task to
// distinct peers until either task.NodeLimit assignments exist or every
// peer has hit perPeerTaskCap, whichever comes first. Shuffle order
// breaks ties (first-seen in shuffle order wins).
func (e *Engine) distributeTask(ctx context.Context) {
	e.mu.RLock()
	peers := make([]string, 0, len(e.known))
	for peerID, d := range e.known {
		if d.Status == Online {
			peers = append(peers, peerID)
		}
	}
	e.mu.RUnlock()
	if len(peers) == 0 {
		return
	}
	rand.Shuffle(len(peers), func(i, j int) { peers[i], peers[j] = peers[j], peers[i] })

	resp, err := e.task.Call(ctx, task.GetTaskList{})
	if err != nil {
		e.log.Error("distribute_task: get task list failed", "err", err)
		return
	}
	list, ok := resp.(task.GetTaskListResponse)
	if !ok {
		e.log.Error("distribute_task: unexpected task list response")
		return
	}

	peerCount := make(map[string]int, len(peers))
	var assignments []DistributeData
	for _, t := range list.Tasks {
		if t.Status != task.Enable {
			continue
		}
		assignedForTask := uint64(0)
		for _, peerID := range peers {
			if assignedForTask >= t.NodeLimit {
				break
			}
			if peerCount[peerID] >= perPeerTaskCap {
				continue
			}
			assignments = append(assignments, DistributeData{TaskID: t.ID, PeerID: peerID})
			peerCount[peerID]++
			assignedForTask++
		}
	}
	if len(assignments) == 0 {
		return
	}

	e.publishDistributeTask(ctx, assignments)
}

func (e *Engine) publishDistributeTask(ctx context.Context, assignments []DistributeData) {
	if e.network == (bus.Caller{}) {
		return
	}
	payload, err := rlp.EncodeToBytes(assignments)
	if err != nil {
		e.log.Error("failed to encode DistributeTask payload", "err", err)
		return
	}
	tm := p2p.TopicMessage{SubTopic: p2p.DistributeTask, Data: payload}
	enc, err := rlp.EncodeToBytes(tm)
	if err != nil {
		e.log.Error("failed to encode TopicMessage", "err", err)
		return
	}
	if err := e.network.Notify(ctx, p2p.Network{Topic: p2p.TaskList, Data: enc}); err != nil {
		e.log.Warn("failed to publish DistributeTask", "err", err)
	}
}
