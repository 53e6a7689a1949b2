package node

// ReqKeeperInit triggers verify_node_init: this node attempting to become
// the chain's genesis keeper. Sent once, typically from the admin API's
// keeper/init handler.
type ReqKeeperInit struct{}

// AckKeeperInit reports the outcome of verify_node_init.
type AckKeeperInit struct {
	OK    bool
	Error string
}

// ReqWorkerActive requests this node announce itself as an active worker.
type ReqWorkerActive struct {
	PeerID string
}

// AckWorkerActive reports whether the activation was recorded.
type AckWorkerActive struct {
	OK    bool
	Error string
}

// ReqWorkerActiveStatus asks for a peer's current active status.
type ReqWorkerActiveStatus struct {
	PeerID string
}

// AckWorkerActiveStatus answers ReqWorkerActiveStatus.
type AckWorkerActiveStatus struct {
	Status ActiveStatus
	Found  bool
}

// ReqNodeDistributeTask is the fire-and-forget notification the
// blockchain engine sends after every pack; the node engine checks
// whether it is time to run distribute_task (spec.md §4.4: every 10th
// block, measured from the last distribution).
type ReqNodeDistributeTask struct {
	BlockIndex uint64
}

// RequireNodeList asks for the node engine's known node list.
type RequireNodeList struct{}

// AckNodeList answers RequireNodeList.
type AckNodeList struct {
	Nodes []Data
}
