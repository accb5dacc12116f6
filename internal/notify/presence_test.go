package notify

import (
	"sync"
	"testing"
)

type nopConn struct {
	id int
}

func (*nopConn) Push(Event) error { return nil }

func TestPresence_RegisterDeregister(t *testing.T) {
	p := NewPresence()
	conn1 := &nopConn{id: 1}
	conn2 := &nopConn{id: 2}

	if p.IsOnline(1) {
		t.Fatal("expected recipient 1 offline")
	}

	p.Register(1, conn1)
	p.Register(1, conn2)
	p.Register(1, conn2) // 重复注册应为空操作

	if !p.IsOnline(1) {
		t.Fatal("expected recipient 1 online")
	}
	if got := len(p.ConnectionsOf(1)); got != 2 {
		t.Fatalf("expected 2 connections, got %d", got)
	}

	p.Deregister(1, conn1)
	if got := len(p.ConnectionsOf(1)); got != 1 {
		t.Fatalf("expected 1 connection after deregister, got %d", got)
	}

	p.Deregister(1, conn1) // 重复注销应为空操作
	p.Deregister(1, conn2)
	if p.IsOnline(1) {
		t.Fatal("expected recipient 1 offline after all deregistered")
	}
	if conns := p.ConnectionsOf(1); conns != nil {
		t.Fatalf("expected nil connections, got %v", conns)
	}
}

func TestPresence_IsolatesRecipients(t *testing.T) {
	p := NewPresence()
	conn := &nopConn{}

	p.Register(1, conn)
	if p.IsOnline(2) {
		t.Fatal("recipient 2 should not be online")
	}
	p.Deregister(2, conn) // 注销不存在的接收者应为空操作
	if !p.IsOnline(1) {
		t.Fatal("recipient 1 should still be online")
	}
}

func TestPresence_ConcurrentRegistration(t *testing.T) {
	p := NewPresence()

	const workers = 32
	conns := make([]*nopConn, workers)
	for i := range conns {
		conns[i] = &nopConn{id: i}
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			recipientID := uint(i % 4)
			p.Register(recipientID, conns[i])
			p.IsOnline(recipientID)
			p.Deregister(recipientID, conns[i])
		}(i)
	}
	wg.Wait()

	for id := uint(0); id < 4; id++ {
		if p.IsOnline(id) {
			t.Fatalf("recipient %d should be offline after all deregistered", id)
		}
	}
}
