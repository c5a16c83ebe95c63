package game

import (
	"reflect"
	"testing"
)

func players(ids ...uint32) []*Player {
	out := make([]*Player, len(ids))
	for i, id := range ids {
		out[i] = NewPlayer(id, "", nil)
	}
	return out
}

func TestMatchQueueEnqueueIsIdempotent(t *testing.T) {
	t.Parallel()

	q := NewMatchQueue(2)
	p := NewPlayer(1, "a", nil)

	if !q.Enqueue(p) {
		t.Fatal("first Enqueue() = false")
	}
	if q.Enqueue(p) || q.Enqueue(NewPlayer(1, "copy", nil)) {
		t.Error("Enqueue() accepted a duplicate id")
	}
	if q.Len() != 1 {
		t.Errorf("Len() = %d, want 1", q.Len())
	}
	if p.Status() != StatusMatching {
		t.Errorf("status = %s, want matching", p.Status())
	}
}

func TestMatchQueueTryMatch(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		matchSize int
		queued    []uint32
		wantMatch []uint32
		wantLeft  []uint32
	}{
		{name: "empty", matchSize: 2, queued: nil, wantMatch: nil, wantLeft: []uint32{}},
		{name: "one short", matchSize: 3, queued: []uint32{1, 2}, wantMatch: nil, wantLeft: []uint32{1, 2}},
		{name: "exact", matchSize: 2, queued: []uint32{4, 9}, wantMatch: []uint32{4, 9}, wantLeft: []uint32{}},
		{name: "oldest first", matchSize: 2, queued: []uint32{5, 3, 8}, wantMatch: []uint32{5, 3}, wantLeft: []uint32{8}},
		{name: "size one", matchSize: 1, queued: []uint32{7, 6}, wantMatch: []uint32{7}, wantLeft: []uint32{6}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			q := NewMatchQueue(tt.matchSize)
			for _, p := range players(tt.queued...) {
				q.Enqueue(p)
			}

			matched := q.TryMatch()
			var got []uint32
			for _, p := range matched {
				got = append(got, p.ID)
			}
			if !reflect.DeepEqual(got, tt.wantMatch) {
				t.Errorf("TryMatch() = %v, want %v", got, tt.wantMatch)
			}
			if left := q.IDs(); !reflect.DeepEqual(left, tt.wantLeft) {
				t.Errorf("remaining = %v, want %v", left, tt.wantLeft)
			}
		})
	}
}

func TestMatchQueueRemovePreservesOrder(t *testing.T) {
	t.Parallel()

	q := NewMatchQueue(2)
	ps := players(1, 2, 3, 4)
	for _, p := range ps {
		q.Enqueue(p)
	}

	if !q.Remove(ps[1]) {
		t.Fatal("Remove() = false for a queued player")
	}
	if q.Remove(ps[1]) {
		t.Error("Remove() = true for a player already removed")
	}
	if got := q.IDs(); !reflect.DeepEqual(got, []uint32{1, 3, 4}) {
		t.Errorf("IDs() = %v, want [1 3 4]", got)
	}
}

func TestMatchQueueRequeueAtFront(t *testing.T) {
	t.Parallel()

	q := NewMatchQueue(2)
	for _, p := range players(10, 11) {
		q.Enqueue(p)
	}

	back := players(3, 2, 10)
	back[0].setInGame(5)
	q.Requeue(back)

	if got := q.IDs(); !reflect.DeepEqual(got, []uint32{3, 2, 10, 11}) {
		t.Errorf("IDs() = %v, want [3 2 10 11]", got)
	}
	if back[0].Status() != StatusMatching || back[0].RoomID() != 0 {
		t.Errorf("requeued player info = %+v", back[0].Info())
	}
}
