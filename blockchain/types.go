// Package blockchain implements the block-production and state-transition
// engine: the in-memory current-block accumulator, the content-addressed
// header/body archive, and the extra-column index pointers.
package blockchain

import (
	"github.com/wdnprotocol/wdnd/types"
)

// TaskOperationType names the kind of change a TaskOperation applies to
// the task catalog.
type TaskOperationType int

const (
	OpAdd TaskOperationType = iota
	OpRemove
	OpUpdate
)

func (t TaskOperationType) String() string {
	switch t {
	case OpAdd:
		return "Add"
	case OpRemove:
		return "Remove"
	case OpUpdate:
		return "Update"
	default:
		return "Unknown"
	}
}

// TaskOperationKind names whether a task runs indefinitely or once.
type TaskOperationKind int

const (
	LongTerm TaskOperationKind = iota
	Single
)

// TaskOperation is a change to the task catalog, recorded durably in the
// tasks/task_operations columns and mirrored into current_block.Body.Tasks
// on acceptance.
type TaskOperation struct {
	ID           int64
	Operation    TaskOperationType
	Name         string
	Kind         TaskOperationKind
	NodeLimit    uint64
	RewardWeight uint64
}

// TaskResult is a worker's reported outcome for one task assignment.
type TaskResult struct {
	TaskID int64
	PeerID string
	Hash   types.Hash
	Data   []byte
}

// ActivationOperation names whether a NodeActivation record activates or
// deactivates the subject peer.
type ActivationOperation int

const (
	Activate ActivationOperation = iota
	Deactivate
)

// NodeActivation is a self-signed record a node submits to join (or leave)
// the active keeper/worker set.
type NodeActivation struct {
	Operation ActivationOperation
	PeerID    string
	Account   []byte
	PubKey    []byte
}

// NeedSignData wraps a payload together with the signature over its
// serialized bytes, mirroring the generic "signed envelope" used for
// every record a peer submits on its own authority.
type NeedSignData[T any] struct {
	Payload   T
	Signature []byte
}

// Reward records a per-account reward credited in a packed block. Reward
// computation itself is not implemented (see Engine.computeRewards); this
// type exists so Body.Reward has somewhere to go once it is.
type Reward struct {
	Account types.Address
	Amount  uint64
	TaskID  int64
}

// Header is the fixed-size, hashable metadata of a block. The *_root
// fields are the cumulative trie roots after applying this block; the
// current_*_root fields are roots of the per-block scratch tries. Engine.pack
// starts the next current block from a zero Header with only Index set, so
// these roots are zero again after each pack.
type Header struct {
	Index                     uint64
	PreviousHash              types.Hash
	AccountRoot               types.Hash
	RewardRoot                types.Hash
	TaskRoot                  types.Hash
	TaskOperationRoot         types.Hash
	TaskResultRoot            types.Hash
	NodeRoot                  types.Hash
	NodeActivationRoot        types.Hash
	CurrentRewardRoot         types.Hash
	CurrentTaskOperationRoot  types.Hash
	CurrentTaskResultRoot     types.Hash
	CurrentNodeActivationRoot types.Hash
	Timestamp                 uint64
	Version                   uint64
	Minter                    []byte
	Signature                 []byte
}

// Body carries a block's payload: the rewards, task-catalog changes, task
// results, and node activations accepted during this block's window.
type Body struct {
	Reward          []Reward
	Tasks           []TaskOperation
	TaskResults     []TaskResult
	NodeActivation  []NeedSignData[NodeActivation]
}

// Block pairs a Header with its Body. A block's durable key, in both the
// block_headers and block_bodies columns, is keccak256(serialize(Block)).
type Block struct {
	Header Header
	Body   Body
}
