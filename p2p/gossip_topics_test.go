package p2p

import (
	"testing"

	"github.com/wdnprotocol/wdnd/types"
)

func TestTopicString(t *testing.T) {
	cases := []struct {
		topic Topic
		want  string
	}{
		{DataSync, "DataSync"},
		{NewBlock, "NewBlock"},
		{KeepAlive, "KeepAlive"},
	}
	for _, c := range cases {
		if got := c.topic.TopicString(); got != c.want {
			t.Errorf("TopicString(%d) = %q, want %q", c.topic, got, c.want)
		}
	}
}

func TestParseTopicRoundTrip(t *testing.T) {
	t1 := DataSync
	name := t1.TopicString()
	t2 := ParseTopic(name)
	if t1 != t2 {
		t.Fatalf("round trip mismatch: %v != %v", t1, t2)
	}
}

func TestParseTopicUnknown(t *testing.T) {
	got := ParseTopic("NotARealTopic")
	if got != topicUnknown {
		t.Fatalf("ParseTopic(unknown) = %v, want topicUnknown", got)
	}
}

func TestComputeMessageIDDeterministic(t *testing.T) {
	data := []byte("hello gossip")
	id1 := ComputeMessageID(data)
	id2 := ComputeMessageID(append([]byte(nil), data...))
	if id1 != id2 {
		t.Fatalf("ComputeMessageID not deterministic: %x != %x", id1, id2)
	}

	id3 := ComputeMessageID([]byte("different"))
	if id1 == id3 {
		t.Fatalf("ComputeMessageID collided on different input")
	}
}

func TestTopicManagerSubscribeDeliver(t *testing.T) {
	tm := NewTopicManager()
	var got []byte
	if err := tm.Subscribe(TaskList, func(_ Topic, _ MessageID, _ types.Hash, data []byte) {
		got = data
	}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if err := tm.Deliver(TaskList, types.Hash{}, []byte("payload")); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if string(got) != "payload" {
		t.Fatalf("handler got %q, want %q", got, "payload")
	}

	// A second delivery of the same bytes is a duplicate.
	if err := tm.Deliver(TaskList, types.Hash{}, []byte("payload")); err != ErrTopicDuplicateMessage {
		t.Fatalf("second Deliver err = %v, want ErrTopicDuplicateMessage", err)
	}

	if err := tm.Deliver(NewBlock, types.Hash{}, []byte("other")); err != ErrTopicNotSubscribed {
		t.Fatalf("Deliver on unsubscribed topic err = %v, want ErrTopicNotSubscribed", err)
	}
}

func TestTopicManagerUnsubscribe(t *testing.T) {
	tm := NewTopicManager()
	noop := func(Topic, MessageID, types.Hash, []byte) {}
	if err := tm.Subscribe(Vote, noop); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := tm.Subscribe(Vote, noop); err != ErrTopicAlreadySubscribed {
		t.Fatalf("duplicate Subscribe err = %v, want ErrTopicAlreadySubscribed", err)
	}
	if err := tm.Unsubscribe(Vote); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}
	if tm.IsSubscribed(Vote) {
		t.Fatalf("IsSubscribed(Vote) = true after Unsubscribe")
	}
}
