// Package task implements the task-catalog state machine: the set of
// runnable tasks a worker can be assigned, and the gossip handling that
// keeps every node's view of the catalog and its own assignments current.
package task

import "github.com/wdnprotocol/wdnd/types"

// Status names whether a catalog entry currently accepts assignments.
type Status int

const (
	Enable Status = iota
	Disable
)

// Kind names whether a task runs indefinitely or once per assignment.
type Kind int

const (
	LongTerm Kind = iota
	Single
)

// Data is the task catalog's durable record: the current state of one
// task, independent of the append-only TaskOperation log that produced it.
type Data struct {
	ID              int64
	Hash            types.Hash
	Kind            Kind
	NodeLimit       uint64
	CurrentNodeNum  uint64
	Status          Status
	RewardWeight    uint64
}

// DistributeData is one assignment: task ID to peer ID, as published on
// the TaskList topic's DistributeTask sub-topic.
type DistributeData struct {
	TaskID int64
	PeerID string
}
