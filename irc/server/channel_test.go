package server

import (
	"net"
	"testing"
	"time"
)

func TestBroadcastDoesNotBlockMembership(t *testing.T) {
	// A pipe with no reader stalls every write to it.
	stuck, far := net.Pipe()
	defer stuck.Close()
	defer far.Close()

	ch := &Channel{Name: "#lobby", Members: make(map[string]*Client)}
	ch.AddMember(NewClient(nil, stuck))

	broadcastStarted := make(chan struct{})
	go func() {
		close(broadcastStarted)
		ch.SendToAll(":server NOTICE #lobby :stalled peer ahead", nil)
	}()
	<-broadcastStarted
	time.Sleep(50 * time.Millisecond)

	memberConn, memberFar := net.Pipe()
	defer memberConn.Close()
	defer memberFar.Close()

	added := make(chan struct{})
	go func() {
		ch.AddMember(NewClient(nil, memberConn))
		close(added)
	}()

	select {
	case <-added:
	case <-time.After(time.Second):
		t.Fatal("membership change blocked by a stalled broadcast")
	}
}
