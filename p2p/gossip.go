// Package p2p: gossip overlay transport.
//
// GossipOverlay is the one physical pub/sub fabric every node joins. It
// owns no domain knowledge of Topic/SubTopic semantics — TopicManager and
// Router layer that on top — its only job is "peers subscribed to a topic
// receive bytes published to it, once, in best-effort fashion."
package p2p

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/wdnprotocol/wdnd/types"
)

// Gossip overlay errors.
var (
	ErrGossipClosed        = errors.New("gossip: overlay is closed")
	ErrGossipNilMsg        = errors.New("gossip: nil message")
	ErrGossipEmptyData     = errors.New("gossip: empty data")
	ErrGossipMsgTooLarge   = errors.New("gossip: message exceeds max size")
	ErrGossipZeroSender    = errors.New("gossip: sender ID must not be zero")
	ErrGossipZeroTimestamp = errors.New("gossip: timestamp must not be zero")
	ErrGossipSubNotFound   = errors.New("gossip: subscription not found")
	ErrGossipSubInactive   = errors.New("gossip: subscription already inactive")
	ErrGossipPeerBanned    = errors.New("gossip: peer is banned")
)

// GossipConfig configures the overlay.
type GossipConfig struct {
	MaxMessageSize     uint64        // maximum message size in bytes
	HeartbeatInterval  time.Duration // gossipsub-style heartbeat cadence
	PeerScoreThreshold float64       // minimum score to remain unbanned
	StrictSigning      bool          // require a valid signature on every message
}

// DefaultGossipConfig matches the gossip configuration: 10s heartbeat,
// strict message-signing validation.
func DefaultGossipConfig() GossipConfig {
	return GossipConfig{
		MaxMessageSize:     1 << 20, // 1 MiB
		HeartbeatInterval:  10 * time.Second,
		PeerScoreThreshold: -50.0,
		StrictSigning:      true,
	}
}

// GossipMessage is one message in flight on the overlay.
type GossipMessage struct {
	Topic     Topic
	Data      []byte
	SenderID  types.Hash
	Timestamp uint64
	MessageID MessageID
}

// GossipSubscription is an active subscription to a topic.
type GossipSubscription struct {
	Topic    Topic
	Messages chan *GossipMessage
	active   bool
	mu       sync.Mutex
}

// IsActive reports whether the subscription still receives deliveries.
func (gs *GossipSubscription) IsActive() bool {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	return gs.active
}

type bannedPeer struct {
	PeerID types.Hash
	Reason string
	Expiry uint64
}

// GossipOverlay fans out published messages to every subscriber of their
// topic. All methods are safe for concurrent use.
type GossipOverlay struct {
	mu     sync.RWMutex
	config GossipConfig
	closed bool

	subscriptions map[Topic][]*GossipSubscription
	topicPeers    map[Topic]map[types.Hash]bool

	peerScores map[types.Hash]float64
	banned     map[types.Hash]*bannedPeer

	seen map[MessageID]bool
}

// MinScore/MaxScore bound a peer's reputation score.
const (
	MinScore = -100.0
	MaxScore = 100.0
)

// NewGossipOverlay creates an overlay with the given configuration.
func NewGossipOverlay(config GossipConfig) *GossipOverlay {
	return &GossipOverlay{
		config:        config,
		subscriptions: make(map[Topic][]*GossipSubscription),
		topicPeers:    make(map[Topic]map[types.Hash]bool),
		peerScores:    make(map[types.Hash]float64),
		banned:        make(map[types.Hash]*bannedPeer),
		seen:          make(map[MessageID]bool),
	}
}

// Publish delivers data to every active subscriber of topic. The message
// ID is the hash of data alone, so two peers publishing identical bytes
// dedupe to the same ID.
func (gm *GossipOverlay) Publish(topic Topic, data []byte) error {
	if len(data) == 0 {
		return ErrGossipEmptyData
	}
	if gm.config.MaxMessageSize > 0 && uint64(len(data)) > gm.config.MaxMessageSize {
		return fmt.Errorf("%w: size %d > max %d", ErrGossipMsgTooLarge, len(data), gm.config.MaxMessageSize)
	}

	msgID := ComputeMessageID(data)
	msg := &GossipMessage{
		Topic:     topic,
		Data:      data,
		Timestamp: uint64(time.Now().Unix()),
		MessageID: msgID,
	}

	gm.mu.Lock()
	defer gm.mu.Unlock()
	if gm.closed {
		return ErrGossipClosed
	}
	gm.seen[msgID] = true

	for _, sub := range gm.subscriptions[topic] {
		sub.mu.Lock()
		if sub.active {
			select {
			case sub.Messages <- msg:
			default:
				// Subscriber's inbox is full; drop rather than block the
				// publisher.
			}
		}
		sub.mu.Unlock()
	}
	return nil
}

// Subscribe returns a new subscription to topic.
func (gm *GossipOverlay) Subscribe(topic Topic) *GossipSubscription {
	sub := &GossipSubscription{
		Topic:    topic,
		Messages: make(chan *GossipMessage, 64),
		active:   true,
	}
	gm.mu.Lock()
	defer gm.mu.Unlock()
	gm.subscriptions[topic] = append(gm.subscriptions[topic], sub)
	return sub
}

// Unsubscribe deactivates sub and removes it from its topic.
func (gm *GossipOverlay) Unsubscribe(sub *GossipSubscription) error {
	if sub == nil {
		return ErrGossipSubNotFound
	}
	sub.mu.Lock()
	if !sub.active {
		sub.mu.Unlock()
		return ErrGossipSubInactive
	}
	sub.active = false
	close(sub.Messages)
	sub.mu.Unlock()

	gm.mu.Lock()
	defer gm.mu.Unlock()
	subs := gm.subscriptions[sub.Topic]
	for i, s := range subs {
		if s == sub {
			gm.subscriptions[sub.Topic] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(gm.subscriptions[sub.Topic]) == 0 {
		delete(gm.subscriptions, sub.Topic)
	}
	return nil
}

// ValidateMessage checks that an inbound message is well-formed and that
// its sender isn't currently banned. With StrictSigning enabled, the
// caller is expected to have already verified msg's signature before
// calling this (signature verification lives at the transport boundary,
// not in the overlay itself).
func (gm *GossipOverlay) ValidateMessage(msg *GossipMessage) error {
	if msg == nil {
		return ErrGossipNilMsg
	}
	if len(msg.Data) == 0 {
		return ErrGossipEmptyData
	}
	if gm.config.MaxMessageSize > 0 && uint64(len(msg.Data)) > gm.config.MaxMessageSize {
		return fmt.Errorf("%w: size %d > max %d", ErrGossipMsgTooLarge, len(msg.Data), gm.config.MaxMessageSize)
	}
	if msg.SenderID.IsZero() {
		return ErrGossipZeroSender
	}
	if msg.Timestamp == 0 {
		return ErrGossipZeroTimestamp
	}

	gm.mu.RLock()
	defer gm.mu.RUnlock()
	if bp, ok := gm.banned[msg.SenderID]; ok {
		now := uint64(time.Now().Unix())
		if now < bp.Expiry {
			return fmt.Errorf("%w: %s", ErrGossipPeerBanned, bp.Reason)
		}
	}
	return nil
}

// PeerScore returns peerID's current reputation, 0 if unknown.
func (gm *GossipOverlay) PeerScore(peerID types.Hash) float64 {
	gm.mu.RLock()
	defer gm.mu.RUnlock()
	return gm.peerScores[peerID]
}

// UpdatePeerScore adjusts peerID's score by delta, clamped to
// [MinScore, MaxScore].
func (gm *GossipOverlay) UpdatePeerScore(peerID types.Hash, delta float64) {
	gm.mu.Lock()
	defer gm.mu.Unlock()
	score := gm.peerScores[peerID] + delta
	if score > MaxScore {
		score = MaxScore
	}
	if score < MinScore {
		score = MinScore
	}
	gm.peerScores[peerID] = score
}

// BanPeer bans peerID for duration seconds; banned peers fail
// ValidateMessage.
func (gm *GossipOverlay) BanPeer(peerID types.Hash, reason string, duration uint64) {
	gm.mu.Lock()
	defer gm.mu.Unlock()
	gm.banned[peerID] = &bannedPeer{
		PeerID: peerID,
		Reason: reason,
		Expiry: uint64(time.Now().Unix()) + duration,
	}
	gm.peerScores[peerID] = MinScore
}

// TopicPeers lists peers known to be subscribed to topic.
func (gm *GossipOverlay) TopicPeers(topic Topic) []types.Hash {
	gm.mu.RLock()
	defer gm.mu.RUnlock()
	peers := gm.topicPeers[topic]
	result := make([]types.Hash, 0, len(peers))
	for id := range peers {
		result = append(result, id)
	}
	return result
}

// AddTopicPeer records that peerID is subscribed to topic.
func (gm *GossipOverlay) AddTopicPeer(topic Topic, peerID types.Hash) {
	gm.mu.Lock()
	defer gm.mu.Unlock()
	if gm.topicPeers[topic] == nil {
		gm.topicPeers[topic] = make(map[types.Hash]bool)
	}
	gm.topicPeers[topic][peerID] = true
}

// RemoveTopicPeer forgets that peerID is subscribed to topic.
func (gm *GossipOverlay) RemoveTopicPeer(topic Topic, peerID types.Hash) {
	gm.mu.Lock()
	defer gm.mu.Unlock()
	if peers, ok := gm.topicPeers[topic]; ok {
		delete(peers, peerID)
		if len(peers) == 0 {
			delete(gm.topicPeers, topic)
		}
	}
}

// ActiveTopics lists topics with at least one subscription, sorted.
func (gm *GossipOverlay) ActiveTopics() []Topic {
	gm.mu.RLock()
	defer gm.mu.RUnlock()
	topics := make([]Topic, 0, len(gm.subscriptions))
	for topic := range gm.subscriptions {
		topics = append(topics, topic)
	}
	sort.Slice(topics, func(i, j int) bool { return topics[i] < topics[j] })
	return topics
}

// IsSeen reports whether msgID has already been published or delivered.
func (gm *GossipOverlay) IsSeen(msgID MessageID) bool {
	gm.mu.RLock()
	defer gm.mu.RUnlock()
	return gm.seen[msgID]
}

// Close shuts the overlay down, closing every subscription's channel.
func (gm *GossipOverlay) Close() {
	gm.mu.Lock()
	defer gm.mu.Unlock()
	if gm.closed {
		return
	}
	gm.closed = true
	for _, subs := range gm.subscriptions {
		for _, sub := range subs {
			sub.mu.Lock()
			if sub.active {
				sub.active = false
				close(sub.Messages)
			}
			sub.mu.Unlock()
		}
	}
}
