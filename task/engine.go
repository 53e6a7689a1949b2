package task

import (
	"context"
	"sync"

	"github.com/wdnprotocol/wdnd/blockchain"
	"github.com/wdnprotocol/wdnd/bus"
	"github.com/wdnprotocol/wdnd/crypto"
	"github.com/wdnprotocol/wdnd/log"
	"github.com/wdnprotocol/wdnd/p2p"
	"github.com/wdnprotocol/wdnd/rlp"
)

// Engine is the task-catalog state machine: it owns the task DB, keeps an
// in-memory view of the full catalog and of this node's own assignments,
// and answers both local requests and TaskList gossip traffic.
type Engine struct {
	db          *DB
	log         *log.Logger
	selfPeerID  string
	blockchain  bus.Caller

	waiter  *bus.Waiter
	network bus.Caller // publishes outbound gossip via the p2p.Router

	mu         sync.RWMutex
	catalog    map[int64]Data
	assigned   []DistributeData
}

// NewEngine creates a task Engine. blockchainCaller is used to submit
// ReqBlockSaveTaskOperation during genesis seeding; selfPeerID identifies
// which DistributeTask entries are this node's own assignments.
func NewEngine(db *DB, blockchainCaller bus.Caller, selfPeerID string) *Engine {
	return &Engine{
		db:         db,
		log:        log.Default().Module("task.engine"),
		selfPeerID: selfPeerID,
		blockchain: blockchainCaller,
		waiter:     bus.NewWaiter(),
		catalog:    make(map[int64]Data),
	}
}

// Caller returns a handle other state machines (and the gossip router, for
// TaskList topic delivery) use to reach this engine.
func (e *Engine) Caller() bus.Caller {
	return e.waiter.Caller()
}

// QueueDepth reports how many messages are currently buffered on this
// engine's mailbox, for metrics reporting.
func (e *Engine) QueueDepth() int {
	return e.waiter.QueueDepth()
}

// SetNetworkCaller registers the gossip router's outbound caller, used to
// publish replies and assignments on the TaskList topic.
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
	case ReqTaskInitGenesis:
		ok, errMsg := e.genesisInitTask(ctx)
		return AckTaskInitGenesis{OK: ok, Error: errMsg}, true

	case GetTaskList:
		return GetTaskListResponse{Tasks: e.lookupTasks(m.IDs)}, true

	case InvokeTask:
		// Launching the external task-process executor is out of scope;
		// the assignment is acknowledged without spawning anything.
		e.log.Info("invoke task recorded", "task_id", m.TaskID, "peer_id", m.PeerID)
		return AckInvokeTask{OK: true}, true

	case p2p.Network:
		e.handleGossip(ctx, m)
		return nil, false

	default:
		e.log.Warn("task engine received unrecognized message")
		return nil, false
	}
}

func (e *Engine) handleGossip(ctx context.Context, net p2p.Network) {
	var tm p2p.TopicMessage
	if err := rlp.DecodeBytes(net.Data, &tm); err != nil {
		e.log.Warn("failed to decode topic message", "err", err)
		return
	}

	switch tm.SubTopic {
	case p2p.ReqTaskList:
		e.replyTaskList(ctx)

	case p2p.AckTaskList:
		var tasks []Data
		if err := rlp.DecodeBytes(tm.Data, &tasks); err != nil {
			e.log.Warn("failed to decode AckTaskList payload", "err", err)
			return
		}
		e.mu.Lock()
		for _, t := range tasks {
			e.catalog[t.ID] = t
		}
		e.mu.Unlock()

	case p2p.DistributeTask:
		var assignments []DistributeData
		if err := rlp.DecodeBytes(tm.Data, &assignments); err != nil {
			e.log.Warn("failed to decode DistributeTask payload", "err", err)
			return
		}
		var mine []DistributeData
		for _, a := range assignments {
			if a.PeerID == e.selfPeerID {
				mine = append(mine, a)
			}
		}
		if len(mine) == 0 {
			return
		}
		e.mu.Lock()
		e.assigned = append(e.assigned, mine...)
		e.mu.Unlock()

	default:
		e.log.Warn("task engine ignoring unhandled sub-topic", "sub_topic", tm.SubTopic.String())
	}
}

// replyTaskList publishes this node's full catalog on TaskList/AckTaskList.
func (e *Engine) replyTaskList(ctx context.Context) {
	if e.network == (bus.Caller{}) {
		return
	}
	e.mu.RLock()
	tasks := make([]Data, 0, len(e.catalog))
	for _, t := range e.catalog {
		tasks = append(tasks, t)
	}
	e.mu.RUnlock()

	payload, err := rlp.EncodeToBytes(tasks)
	if err != nil {
		e.log.Error("failed to encode AckTaskList payload", "err", err)
		return
	}
	tm := p2p.TopicMessage{SubTopic: p2p.AckTaskList, Data: payload}
	enc, err := rlp.EncodeToBytes(tm)
	if err != nil {
		e.log.Error("failed to encode TopicMessage", "err", err)
		return
	}
	if err := e.network.Notify(ctx, p2p.Network{Topic: p2p.TaskList, Data: enc}); err != nil {
		e.log.Warn("failed to publish AckTaskList", "err", err)
	}
}

func (e *Engine) lookupTasks(ids []int64) []Data {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if len(ids) == 0 {
		out := make([]Data, 0, len(e.catalog))
		for _, t := range e.catalog {
			out = append(out, t)
		}
		return out
	}
	out := make([]Data, 0, len(ids))
	for _, id := range ids {
		if t, ok := e.catalog[id]; ok {
			out = append(out, t)
		}
	}
	return out
}

// genesisInitTask seeds the catalog with the two well-known bootstrap
// tasks and submits the resulting operations to the blockchain engine.
func (e *Engine) genesisInitTask(ctx context.Context) (bool, string) {
	seeds := []blockchain.TaskOperation{
		{ID: 1, Operation: blockchain.OpAdd, Name: "one", Kind: blockchain.LongTerm, NodeLimit: 100, RewardWeight: 100},
		{ID: 2, Operation: blockchain.OpAdd, Name: "two", Kind: blockchain.LongTerm, NodeLimit: 100, RewardWeight: 200},
	}

	for _, op := range seeds {
		if err := e.db.PutTaskOperation(op); err != nil {
			return false, err.Error()
		}
		data := Data{
			ID:           op.ID,
			Hash:         crypto.Keccak256Hash([]byte(op.Name)),
			Kind:         Kind(op.Kind),
			NodeLimit:    op.NodeLimit,
			Status:       Enable,
			RewardWeight: op.RewardWeight,
		}
		if err := e.db.PutTaskData(data); err != nil {
			return false, err.Error()
		}
		e.mu.Lock()
		e.catalog[data.ID] = data
		e.mu.Unlock()
	}

	roots := e.db.Roots()
	resp, err := e.blockchain.Call(ctx, blockchain.ReqBlockSaveTaskOperation{
		Operations: seeds,
		TaskRoot:   roots.TaskRoot,
		TaskOpRoot: roots.TaskOperationRoot,
		CurrentOp:  roots.CurrentTaskOperationRoot,
	})
	if err != nil {
		return false, err.Error()
	}
	ack, ok := resp.(blockchain.AckBlockSaveTaskOperation)
	if !ok || !ack.OK {
		return false, "blockchain engine rejected task operation save"
	}
	return true, ""
}
