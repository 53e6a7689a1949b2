package p2p

import (
	"context"
	"testing"
	"time"

	"github.com/wdnprotocol/wdnd/bus"
	"github.com/wdnprotocol/wdnd/types"
)

func TestRouterPublishAndDeliver(t *testing.T) {
	overlay := NewGossipOverlay(DefaultGossipConfig())
	router := NewRouter(overlay)

	waiter := bus.NewWaiter()
	received := make(chan Network, 1)

	if err := router.RegisterCaller(TaskList, waiter.Caller()); err != nil {
		t.Fatalf("RegisterCaller: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go waiter.Wait(ctx, func(msg bus.Message) (bus.Message, bool) {
		if net, ok := msg.(Network); ok {
			received <- net
		}
		return nil, false
	})
	go router.Run(ctx)

	// Give the router's subscription goroutine a chance to join the topic
	// before anything is published.
	time.Sleep(20 * time.Millisecond)

	if err := overlay.Publish(TaskList, []byte("payload")); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case net := <-received:
		if string(net.Data) != "payload" {
			t.Fatalf("got %q, want %q", net.Data, "payload")
		}
		if net.Topic != TaskList {
			t.Fatalf("got topic %v, want TaskList", net.Topic)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("caller never received the delivered message")
	}
}

func TestRouterRateLimitsPerSender(t *testing.T) {
	router := NewRouter(NewGossipOverlay(DefaultGossipConfig()))
	sender := types.Hash{0x01}

	allowed := 0
	for i := 0; i < defaultPeerRateBurst+10; i++ {
		if router.allowSender(sender) {
			allowed++
		}
	}
	if allowed != defaultPeerRateBurst {
		t.Fatalf("allowed = %d, want burst of %d", allowed, defaultPeerRateBurst)
	}

	other := types.Hash{0x02}
	if !router.allowSender(other) {
		t.Fatal("a different sender's own burst should not be affected by another sender's usage")
	}
}

func TestRouterOutboundPublish(t *testing.T) {
	overlay := NewGossipOverlay(DefaultGossipConfig())
	router := NewRouter(overlay)
	sub := overlay.Subscribe(NewBlock)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go router.Run(ctx)

	caller := router.Caller()
	if err := caller.Notify(ctx, Network{Topic: NewBlock, Data: []byte("outbound")}); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	select {
	case msg := <-sub.Messages:
		if string(msg.Data) != "outbound" {
			t.Fatalf("got %q, want %q", msg.Data, "outbound")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("overlay never saw the published message")
	}
}
