package net

import (
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/l1jgo/netrepl/internal/protocol"
	"github.com/l1jgo/netrepl/internal/replication"
	"github.com/l1jgo/netrepl/internal/scene"
	"github.com/l1jgo/netrepl/internal/sim"
	"github.com/l1jgo/netrepl/internal/types"
)

// A peer that joined between node loop passes must not receive state for
// objects it was never told about.
func TestLateJoinerGetsSpawnBeforeState(t *testing.T) {
	log := zaptest.NewLogger(t)
	reg := types.NewRegistry()
	if err := sim.RegisterTypes(reg); err != nil {
		t.Fatalf("register types: %v", err)
	}
	tree := scene.NewTree()
	server := NewHub(Options{}, log)
	defer server.Close()
	r := replication.New(tree, reg, server, replication.WithLogger(log))
	r.Start(replication.ModeServer, replication.ServerClientID)

	pawnType, _ := reg.Find(sim.TypePawn)
	node := tree.Create(pawnType)
	r.Add(node, nil)
	r.Spawn(node)
	r.Tick()

	client, id, err, acceptErr := pipeJoin(t, server, "")
	if err != nil || acceptErr != nil {
		t.Fatalf("expected join to succeed: %v / %v", err, acceptErr)
	}
	defer client.Close()

	// The node loop has not taken the join yet.
	if peers := server.Peers(); len(peers) != 0 {
		t.Fatalf("expected untaken peer hidden from targets, got %v", peers)
	}
	r.Tick()
	server.Flush()

	for _, joined := range server.TakeJoined() {
		r.OnPeerConnected(joined)
	}
	r.Tick()
	server.Flush()

	toServer, _ := client.Session(replication.ServerClientID)
	first := recvWithin(t, toServer.InQueue)
	if kind := protocol.Kind(first[0]); kind != protocol.KindSpawn {
		t.Fatalf("expected the first message to peer %d to be a Spawn, got %s", id, kind)
	}
	second := recvWithin(t, toServer.InQueue)
	if kind := protocol.Kind(second[0]); kind != protocol.KindStateUpdate {
		t.Fatalf("expected a StateUpdate after the Spawn, got %s", kind)
	}
}

func TestLargestStateUpdateFitsOneFrame(t *testing.T) {
	if protocol.MaxMessageSize != maxBodySize {
		t.Fatalf("expected message budget %d to match frame body limit %d", protocol.MaxMessageSize, maxBodySize)
	}
}
