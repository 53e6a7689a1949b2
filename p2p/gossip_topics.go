// Package p2p implements the gossip overlay: topic-addressed publish/
// subscribe messaging between nodes, plus the router that bridges the
// overlay to the in-process message bus (see package bus).
package p2p

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/wdnprotocol/wdnd/crypto"
	"github.com/wdnprotocol/wdnd/types"
)

// Topic is the coarse, overlay-level gossip channel a node joins. It is the
// first half of the two-level addressing scheme: Topic selects which
// gossipsub-style channel a message travels on, SubTopic (carried inside
// the message body as a TopicMessage) selects how the receiving state
// machine should interpret it.
type Topic int

const (
	NodeStatus Topic = iota
	NodeList
	TaskList
	TakeTask
	TaskResult
	NewBlock
	DataSync
	Vote
	Election
	KeepAlive
	// topicUnknown is what ParseTopic returns for a name outside the closed
	// set; the unrecognized name itself is not kept.
	topicUnknown
)

// topicNames mirrors the closed topic set. Its order matches the Topic
// declaration above but is otherwise just a display name.
var topicNames = [...]string{
	NodeStatus:   "NodeStatus",
	NodeList:     "NodeList",
	TaskList:     "TaskList",
	TakeTask:     "TakeTask",
	TaskResult:   "TaskResult",
	NewBlock:     "NewBlock",
	DataSync:     "DataSync",
	Vote:         "Vote",
	Election:     "Election",
	KeepAlive:    "KeepAlive",
	topicUnknown: "Unknown",
}

// TopicString returns the topic's name as it travels on the wire.
// Serialization of a topic uses its debug/display form, e.g. "DataSync".
func (t Topic) TopicString() string {
	if int(t) >= 0 && int(t) < len(topicNames) && t != topicUnknown {
		return topicNames[t]
	}
	return fmt.Sprintf("Unknown(%d)", int(t))
}

// ParseTopic converts a topic name string into a Topic. Names outside the
// closed set are not an error: they come back as topicUnknown, and the
// original name is not returned.
func ParseTopic(name string) Topic {
	for t, n := range topicNames {
		if Topic(t) == topicUnknown {
			continue
		}
		if n == name {
			return Topic(t)
		}
	}
	return topicUnknown
}

// SubTopic is the fine-grained dispatch tag carried inside a TopicMessage
// payload, naming which request/ack/notification variant the bytes decode
// to. Unlike Topic, SubTopic never appears on the gossipsub join path.
type SubTopic int

const (
	ReqNodeList SubTopic = iota
	AckNodeList
	ReqTaskList
	AckTaskList
	ReqNodeRunStatus
	AckNodeRunStatus
	ReqNodeActiveStatus
	AckNodeActiveStatus
	UploadTaskData
	DistributeTask
	GetTaskListSub
	GetTaskListResponseSub
	Ping
	Pong
)

var subTopicNames = [...]string{
	ReqNodeList:            "ReqNodeList",
	AckNodeList:            "AckNodeList",
	ReqTaskList:            "ReqTaskList",
	AckTaskList:            "AckTaskList",
	ReqNodeRunStatus:       "ReqNodeRunStatus",
	AckNodeRunStatus:       "AckNodeRunStatus",
	ReqNodeActiveStatus:    "ReqNodeActiveStatus",
	AckNodeActiveStatus:    "AckNodeActiveStatus",
	UploadTaskData:         "UploadTaskData",
	DistributeTask:         "DistributeTask",
	GetTaskListSub:         "GetTaskList",
	GetTaskListResponseSub: "GetTaskListResponse",
	Ping:                   "Ping",
	Pong:                   "Pong",
}

func (s SubTopic) String() string {
	if int(s) >= 0 && int(s) < len(subTopicNames) {
		return subTopicNames[s]
	}
	return fmt.Sprintf("sub_topic(%d)", int(s))
}

// TopicMessage is the body of every published gossip message: a sub-topic
// tag plus its sub-topic-specific binary payload. The envelope itself is
// serialized with rlp, matching the rest of the wire protocol.
type TopicMessage struct {
	SubTopic SubTopic
	Data     []byte
}

// PingMessage is the KeepAlive topic's payload.
type PingMessage struct {
	PrincipalID string
	PeerID      string
	Timestamp   int64
}

// MessageIDSize is the size, in bytes, of a deduplication message ID.
const MessageIDSize = 32

// MessageID identifies one gossip message for deduplication purposes.
// Per the gossip configuration, it is the hash of the payload bytes alone
// (not the topic, not a timestamp) so that two peers independently
// publishing identical bytes collapse to one delivery.
type MessageID [MessageIDSize]byte

// TopicHandler is invoked once per first-seen message delivered on a
// subscribed topic. sender is the publishing peer (zero for locally
// originated messages).
type TopicHandler func(topic Topic, msgID MessageID, sender types.Hash, data []byte)

// TopicScoreSnapshot holds per-topic delivery counters.
type TopicScoreSnapshot struct {
	MessagesReceived uint64
	FirstDeliveries  uint64
	DuplicatesDropped uint64
}

var (
	ErrTopicNotSubscribed     = errors.New("p2p: topic not subscribed")
	ErrTopicAlreadySubscribed = errors.New("p2p: topic already subscribed")
	ErrTopicManagerClosed     = errors.New("p2p: topic manager is closed")
	ErrTopicNilHandler        = errors.New("p2p: nil handler")
	ErrTopicEmptyData         = errors.New("p2p: empty data")
	ErrTopicDuplicateMessage  = errors.New("p2p: duplicate message")
	ErrTopicDataTooLarge      = errors.New("p2p: data exceeds max payload size")
)

// MaxPayloadSize bounds a single gossip message body.
const MaxPayloadSize = 10 * 1024 * 1024

// SeenTTL bounds how long a message ID is remembered for deduplication.
const SeenTTL = 384 * time.Second

type topicState struct {
	handler TopicHandler
	score   TopicScoreSnapshot
}

// TopicManager tracks this node's topic subscriptions, deduplicates
// inbound messages by MessageID, and dispatches first-seen deliveries to
// the registered handler. It is the overlay-facing half of the gossip
// router; TopicManager itself does no networking.
type TopicManager struct {
	mu     sync.RWMutex
	closed bool

	topics map[Topic]*topicState

	seen   map[MessageID]time.Time
	seenMu sync.Mutex
}

// NewTopicManager creates an empty TopicManager.
func NewTopicManager() *TopicManager {
	return &TopicManager{
		topics: make(map[Topic]*topicState),
		seen:   make(map[MessageID]time.Time),
	}
}

// ComputeMessageID hashes data for deduplication purposes: the gossip
// configuration's message ID is the hash of the payload bytes alone.
func ComputeMessageID(data []byte) MessageID {
	return MessageID(crypto.Keccak256Hash(data))
}

// Subscribe registers handler for topic. Returns an error if topic is
// already subscribed or handler is nil.
func (tm *TopicManager) Subscribe(topic Topic, handler TopicHandler) error {
	if handler == nil {
		return ErrTopicNilHandler
	}
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if tm.closed {
		return ErrTopicManagerClosed
	}
	if _, exists := tm.topics[topic]; exists {
		return ErrTopicAlreadySubscribed
	}
	tm.topics[topic] = &topicState{handler: handler}
	return nil
}

// Unsubscribe removes topic's handler.
func (tm *TopicManager) Unsubscribe(topic Topic) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if tm.closed {
		return ErrTopicManagerClosed
	}
	if _, exists := tm.topics[topic]; !exists {
		return ErrTopicNotSubscribed
	}
	delete(tm.topics, topic)
	return nil
}

// IsSubscribed reports whether topic currently has a handler.
func (tm *TopicManager) IsSubscribed(topic Topic) bool {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	_, exists := tm.topics[topic]
	return exists
}

// SubscribedTopics lists every topic with an active subscription.
func (tm *TopicManager) SubscribedTopics() []Topic {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	topics := make([]Topic, 0, len(tm.topics))
	for t := range tm.topics {
		topics = append(topics, t)
	}
	return topics
}

// Deliver processes one inbound message on topic: it deduplicates by
// MessageID and, on first sight, hands data to the topic's handler.
// ErrTopicDuplicateMessage is returned (not treated as fatal) for repeats.
func (tm *TopicManager) Deliver(topic Topic, sender types.Hash, data []byte) error {
	if len(data) == 0 {
		return ErrTopicEmptyData
	}
	if len(data) > MaxPayloadSize {
		return ErrTopicDataTooLarge
	}

	msgID := ComputeMessageID(data)

	tm.seenMu.Lock()
	if _, dup := tm.seen[msgID]; dup {
		tm.seenMu.Unlock()
		return ErrTopicDuplicateMessage
	}
	tm.seen[msgID] = time.Now()
	tm.seenMu.Unlock()

	tm.mu.RLock()
	defer tm.mu.RUnlock()
	if tm.closed {
		return ErrTopicManagerClosed
	}
	state, exists := tm.topics[topic]
	if !exists {
		return ErrTopicNotSubscribed
	}
	state.score.MessagesReceived++
	state.score.FirstDeliveries++
	state.handler(topic, msgID, sender, data)
	return nil
}

// TopicScore returns the delivery counters for a subscribed topic.
func (tm *TopicManager) TopicScore(topic Topic) (TopicScoreSnapshot, bool) {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	state, exists := tm.topics[topic]
	if !exists {
		return TopicScoreSnapshot{}, false
	}
	return state.score, true
}

// PruneSeenMessages evicts message IDs older than SeenTTL, bounding the
// dedup cache's memory growth. Call periodically from the router loop.
func (tm *TopicManager) PruneSeenMessages() int {
	cutoff := time.Now().Add(-SeenTTL)
	pruned := 0
	tm.seenMu.Lock()
	defer tm.seenMu.Unlock()
	for id, t := range tm.seen {
		if t.Before(cutoff) {
			delete(tm.seen, id)
			pruned++
		}
	}
	return pruned
}

// SeenCount returns the number of message IDs currently remembered.
func (tm *TopicManager) SeenCount() int {
	tm.seenMu.Lock()
	defer tm.seenMu.Unlock()
	return len(tm.seen)
}

// Close stops the manager from accepting further deliveries.
func (tm *TopicManager) Close() {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.closed = true
	tm.topics = make(map[Topic]*topicState)
}
