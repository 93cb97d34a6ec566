package framelog

import "testing"

func TestPushAndSnapshotBeforeFull(t *testing.T) {
	b := New(4)
	b.Push(Frame{Cmd: "a"})
	b.Push(Frame{Cmd: "b"})

	snap := b.Snapshot()
	if len(snap) != 2 || snap[0].Cmd != "a" || snap[1].Cmd != "b" {
		t.Fatalf("expected [a b], got %+v", snap)
	}
}

func TestPushWrapsAndPreservesChronologicalOrder(t *testing.T) {
	b := New(3)
	for _, cmd := range []string{"a", "b", "c", "d", "e"} {
		b.Push(Frame{Cmd: cmd})
	}

	snap := b.Snapshot()
	want := []string{"c", "d", "e"}
	if len(snap) != len(want) {
		t.Fatalf("expected %d frames, got %d", len(want), len(snap))
	}
	for i, cmd := range want {
		if snap[i].Cmd != cmd {
			t.Fatalf("frame %d: expected %q, got %q", i, cmd, snap[i].Cmd)
		}
	}
}

func TestResetClearsBuffer(t *testing.T) {
	b := New(2)
	b.Push(Frame{Cmd: "a"})
	b.Reset()
	if len(b.Snapshot()) != 0 {
		t.Fatal("expected empty snapshot after Reset")
	}
}

func TestNewDefaultsCapacity(t *testing.T) {
	b := New(0)
	if b.capacity != defaultCapacity {
		t.Fatalf("expected default capacity %d, got %d", defaultCapacity, b.capacity)
	}
}
