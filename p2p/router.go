package p2p

import (
	"context"
	"sync"
	"time"

	"github.com/wdnprotocol/wdnd/bus"
	"github.com/wdnprotocol/wdnd/log"
	"github.com/wdnprotocol/wdnd/types"
)

// defaultPeerRateLimit and defaultPeerRateBurst bound how many gossip
// deliveries per second a single sender may have dispatched to local
// callers before Router starts dropping them.
const (
	defaultPeerRateLimit = 200
	defaultPeerRateBurst = 50
)

// rateLimiter is a simple token bucket: tokens refill at refillRate per
// second up to maxTokens, and allow() debits one token per call.
type rateLimiter struct {
	tokens     float64
	maxTokens  float64
	refillRate float64
	lastRefill time.Time
}

func newRateLimiter(rate, burst int) *rateLimiter {
	return &rateLimiter{
		tokens:     float64(burst),
		maxTokens:  float64(burst),
		refillRate: float64(rate),
		lastRefill: time.Now(),
	}
}

func (rl *rateLimiter) allow() bool {
	now := time.Now()
	elapsed := now.Sub(rl.lastRefill).Seconds()
	rl.lastRefill = now
	rl.tokens += elapsed * rl.refillRate
	if rl.tokens > rl.maxTokens {
		rl.tokens = rl.maxTokens
	}
	if rl.tokens < 1.0 {
		return false
	}
	rl.tokens--
	return true
}

// Network is the bus message carrying gossip traffic in either direction.
// Outbound, PeerID is unset and Topic/Data name what to publish. Inbound,
// PeerID identifies the message's source peer.
type Network struct {
	PeerID types.Hash
	Topic  Topic
	Data   []byte
}

// Router bridges the gossip overlay to the message bus. Every state
// machine that wants to speak on a topic registers a Caller for it;
// Router owns the overlay subscriptions and the one select loop that
// moves bytes between the two sides.
type Router struct {
	overlay *GossipOverlay
	topics  *TopicManager
	log     *log.Logger

	waiter *bus.Waiter

	mu          sync.Mutex
	callers     map[Topic]bus.Caller
	overlaySubs []*GossipSubscription

	rateMu sync.Mutex
	rates  map[types.Hash]*rateLimiter
}

// NewRouter creates a Router over overlay. Register every topic a local
// state machine cares about with RegisterCaller before calling Run.
func NewRouter(overlay *GossipOverlay) *Router {
	return &Router{
		overlay: overlay,
		topics:  NewTopicManager(),
		log:     log.Default().Module("p2p.router"),
		waiter:  bus.NewWaiter(),
		callers: make(map[Topic]bus.Caller),
		rates:   make(map[types.Hash]*rateLimiter),
	}
}

// allowSender reports whether sender is still within its per-peer gossip
// delivery rate, lazily creating a token bucket for senders seen for the
// first time.
func (r *Router) allowSender(sender types.Hash) bool {
	r.rateMu.Lock()
	rl, ok := r.rates[sender]
	if !ok {
		rl = newRateLimiter(defaultPeerRateLimit, defaultPeerRateBurst)
		r.rates[sender] = rl
	}
	r.rateMu.Unlock()
	return rl.allow()
}

// Caller returns the handle state machines use to publish outbound
// Network messages through this router.
func (r *Router) Caller() bus.Caller {
	return r.waiter.Caller()
}

// RegisterCaller subscribes caller to receive every inbound Network
// message delivered on topic. Call before Run.
func (r *Router) RegisterCaller(topic Topic, caller bus.Caller) error {
	r.mu.Lock()
	r.callers[topic] = caller
	r.mu.Unlock()

	return r.topics.Subscribe(topic, func(t Topic, _ MessageID, sender types.Hash, data []byte) {
		if !r.allowSender(sender) {
			r.log.Warn("gossip delivery rate limited", "topic", t.TopicString(), "sender", sender.Hex())
			return
		}
		r.mu.Lock()
		c, ok := r.callers[t]
		r.mu.Unlock()
		if !ok {
			r.log.Warn("no caller registered for topic", "topic", t.TopicString())
			return
		}
		net := Network{PeerID: sender, Topic: t, Data: data}
		if err := c.Notify(context.Background(), net); err != nil {
			r.log.Warn("notify failed", "topic", t.TopicString(), "err", err)
		}
	})
}

// Run joins the overlay for every registered topic and runs the router's
// select loop until ctx is cancelled:
//
//  1. An outbound Network message pulled from the router's own Waiter is
//     published to the overlay on its topic. Publish errors are logged,
//     never propagated to the caller.
//  2. A message the overlay delivers on topic T is deduplicated and
//     dispatched (via the handler installed in RegisterCaller) to the
//     caller registered for T. If no caller is registered, it is dropped
//     with a log line.
func (r *Router) Run(ctx context.Context) {
	for _, t := range r.topics.SubscribedTopics() {
		sub := r.overlay.Subscribe(t)
		r.overlaySubs = append(r.overlaySubs, sub)
		go r.pumpInbound(ctx, sub)
	}

	r.waiter.Wait(ctx, func(msg bus.Message) (bus.Message, bool) {
		net, ok := msg.(Network)
		if !ok {
			r.log.Warn("router received non-Network message")
			return nil, false
		}
		if err := r.overlay.Publish(net.Topic, net.Data); err != nil {
			r.log.Error("gossip publish failed", "topic", net.Topic.TopicString(), "err", err)
		}
		return nil, false
	})

	for _, sub := range r.overlaySubs {
		_ = r.overlay.Unsubscribe(sub)
	}
}

// pumpInbound drains one topic's overlay subscription into the
// TopicManager, which deduplicates and dispatches first-seen deliveries.
func (r *Router) pumpInbound(ctx context.Context, sub *GossipSubscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.Messages:
			if !ok {
				return
			}
			if err := r.topics.Deliver(msg.Topic, msg.SenderID, msg.Data); err != nil {
				if err != ErrTopicDuplicateMessage {
					r.log.Warn("gossip delivery rejected", "topic", msg.Topic.TopicString(), "err", err)
				}
			}
		}
	}
}
