package store

import (
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/chartwork/mapsync/pkg/mapdata"
)

func TestNewSlug_LowercaseAndUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		s := NewSlug()
		if s != strings.ToLower(s) {
			t.Fatalf("slug %q is not lowercase", s)
		}
		if len(s) != 26 {
			t.Fatalf("slug %q has length %d, want 26", s, len(s))
		}
		if seen[s] {
			t.Fatalf("slug %q generated twice", s)
		}
		seen[s] = true
	}
}

func TestFillSlugs_OnlyFillsEmpty(t *testing.T) {
	m := mapdata.Map{ID: "keep-me"}
	FillSlugs(&m)
	if m.ID != "keep-me" {
		t.Errorf("existing slug overwritten: %q", m.ID)
	}
	if m.WriteID == "" || m.AdminID == "" {
		t.Errorf("empty slugs not filled: %+v", m)
	}
}

func TestSlugsDistinct(t *testing.T) {
	tests := []struct {
		name string
		m    mapdata.Map
		want bool
	}{
		{"all distinct", mapdata.Map{ID: "a", WriteID: "b", AdminID: "c"}, true},
		{"read equals write", mapdata.Map{ID: "a", WriteID: "a", AdminID: "c"}, false},
		{"read equals admin", mapdata.Map{ID: "a", WriteID: "b", AdminID: "a"}, false},
		{"write equals admin", mapdata.Map{ID: "a", WriteID: "b", AdminID: "b"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SlugsDistinct(tt.m); got != tt.want {
				t.Errorf("SlugsDistinct = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFanout_DeliversInSubscriptionOrderPerMap(t *testing.T) {
	f := NewFanout()

	var order []string
	f.Subscribe("m1", func(ev Event) { order = append(order, "first:"+ev.ObjectID) })
	f.Subscribe("m1", func(ev Event) { order = append(order, "second:"+ev.ObjectID) })
	f.Subscribe("m2", func(ev Event) { order = append(order, "other:"+ev.ObjectID) })

	emit := func(ev Event) {
		if err := f.Ordered(func() (Event, error) { return ev, nil }); err != nil {
			t.Fatalf("Ordered failed: %v", err)
		}
	}
	emit(Event{MapID: "m1", ObjectID: "a"})
	emit(Event{MapID: "m1", ObjectID: "b"})

	want := []string{"first:a", "second:a", "first:b", "second:b"}
	if len(order) != len(want) {
		t.Fatalf("got %d deliveries, want %d: %v", len(order), len(want), order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("delivery %d = %q, want %q", i, order[i], want[i])
		}
	}
}

func TestFanout_UnsubscribeStopsDelivery(t *testing.T) {
	f := NewFanout()

	got := 0
	unsub := f.Subscribe("m1", func(Event) { got++ })
	emit := func() {
		if err := f.Ordered(func() (Event, error) { return Event{MapID: "m1"}, nil }); err != nil {
			t.Fatalf("Ordered failed: %v", err)
		}
	}
	emit()
	unsub()
	emit()

	if got != 1 {
		t.Errorf("handler called %d times, want 1", got)
	}
}

func TestFanout_FailedCommitEmitsNothing(t *testing.T) {
	f := NewFanout()

	got := 0
	f.Subscribe("m1", func(Event) { got++ })
	err := f.Ordered(func() (Event, error) { return Event{}, ErrNotFound })
	if err != ErrNotFound {
		t.Fatalf("Ordered returned %v, want ErrNotFound", err)
	}
	if got != 0 {
		t.Errorf("handler called %d times after a failed commit", got)
	}
}

func TestFanout_DeliveryFollowsCommitOrderUnderContention(t *testing.T) {
	f := NewFanout()

	var delivered []int
	f.Subscribe("m1", func(ev Event) {
		n, err := strconv.Atoi(ev.ObjectID)
		if err != nil {
			t.Errorf("bad object id %q", ev.ObjectID)
			return
		}
		delivered = append(delivered, n)
	})

	// Racing writers: each commit takes the next sequence number while
	// holding the delivery slot, so handlers must observe a strictly
	// ascending sequence.
	seq := 0
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				err := f.Ordered(func() (Event, error) {
					seq++
					return Event{MapID: "m1", ObjectID: strconv.Itoa(seq)}, nil
				})
				if err != nil {
					t.Errorf("Ordered failed: %v", err)
				}
			}
		}()
	}
	wg.Wait()

	if len(delivered) != 1600 {
		t.Fatalf("got %d deliveries, want 1600", len(delivered))
	}
	for i, n := range delivered {
		if n != i+1 {
			t.Fatalf("delivery %d carried sequence %d; events reordered", i, n)
		}
	}
}
