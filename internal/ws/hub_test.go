package ws

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type stubConn struct {
	received []Message
	failWith error
	closed   bool
}

func (c *stubConn) WriteJSON(v interface{}) error {
	if c.failWith != nil {
		return c.failWith
	}
	c.received = append(c.received, v.(Message))
	return nil
}

func (c *stubConn) Close() error {
	c.closed = true
	return nil
}

func TestPublishNoSubscribers(t *testing.T) {
	hub := NewHub()
	// 購読者ゼロのトピックへの配信は何も起きない
	hub.Publish("job-1", Message{Type: "status_update", Data: Event{JobID: "job-1"}})
}

func TestPublishDeliversToTopicOnly(t *testing.T) {
	hub := NewHub()
	a := &stubConn{}
	b := &stubConn{}
	hub.Subscribe("job-1", a)
	hub.Subscribe("job-2", b)

	hub.Publish("job-1", Message{Type: "status_update", Data: Event{JobID: "job-1", Status: "in_progress", Step: "design"}})

	if len(a.received) != 1 {
		t.Fatalf("subscriber a received %d messages", len(a.received))
	}
	if a.received[0].Data.Step != "design" {
		t.Fatalf("unexpected event: %#v", a.received[0])
	}
	if len(b.received) != 0 {
		t.Fatalf("subscriber on another topic received %d messages", len(b.received))
	}
}

func TestFailingSubscriberIsPruned(t *testing.T) {
	hub := NewHub()
	bad := &stubConn{failWith: errors.New("connection reset")}
	good := &stubConn{}
	hub.Subscribe("job-1", bad)
	hub.Subscribe("job-1", good)

	hub.Publish("job-1", Message{Type: "status_update", Data: Event{JobID: "job-1"}})

	if len(good.received) != 1 {
		t.Fatalf("healthy subscriber did not receive the event")
	}
	if !bad.closed {
		t.Fatal("failing subscriber was not closed")
	}
	if hub.Subscribers("job-1") != 1 {
		t.Fatalf("expected 1 remaining subscriber, got %d", hub.Subscribers("job-1"))
	}

	// 除去後の再配信は正常な購読者にのみ届く
	hub.Publish("job-1", Message{Type: "status_update", Data: Event{JobID: "job-1"}})
	if len(good.received) != 2 {
		t.Fatalf("healthy subscriber received %d messages", len(good.received))
	}
}

// overlapConn は WriteJSON の同時呼び出しを検出します。
// *websocket.Conn は同時書き込みを許さないため、重なりは1回でも欠陥です。
type overlapConn struct {
	inWrite  int32
	overlaps int32
	writes   int32
}

func (c *overlapConn) WriteJSON(v interface{}) error {
	if atomic.AddInt32(&c.inWrite, 1) > 1 {
		atomic.AddInt32(&c.overlaps, 1)
	}
	time.Sleep(time.Millisecond)
	atomic.AddInt32(&c.inWrite, -1)
	atomic.AddInt32(&c.writes, 1)
	return nil
}

func (c *overlapConn) Close() error { return nil }

func TestConcurrentPublishersSerializePerConnection(t *testing.T) {
	hub := NewHub()
	conn := &overlapConn{}
	// 同一コネクションが複数トピックに登録されていても書き込みは直列化される
	hub.Subscribe(TopicJobList, conn)
	hub.Subscribe("job-1", conn)

	const publishers = 8
	var wg sync.WaitGroup
	for i := 0; i < publishers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			topic := TopicJobList
			if i%2 == 0 {
				topic = "job-1"
			}
			hub.Publish(topic, Message{Type: "status_update", Data: Event{JobID: "job-1"}})
		}(i)
	}
	wg.Wait()

	if n := atomic.LoadInt32(&conn.overlaps); n != 0 {
		t.Fatalf("WriteJSON was invoked concurrently %d time(s) on a single connection", n)
	}
	if n := atomic.LoadInt32(&conn.writes); n != publishers {
		t.Fatalf("expected %d writes, got %d", publishers, n)
	}
}

func TestUnsubscribe(t *testing.T) {
	hub := NewHub()
	conn := &stubConn{}
	hub.Subscribe(TopicJobList, conn)
	hub.Unsubscribe(TopicJobList, conn)

	hub.Publish(TopicJobList, Message{Type: "job_created", Data: Event{JobID: "job-1"}})
	if len(conn.received) != 0 {
		t.Fatalf("unsubscribed connection received %d messages", len(conn.received))
	}
	if hub.Subscribers(TopicJobList) != 0 {
		t.Fatalf("expected 0 subscribers, got %d", hub.Subscribers(TopicJobList))
	}
}
