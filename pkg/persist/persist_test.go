package persist

import (
	"testing"
	"time"
)

func TestMostRecent(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	metas := []SessionMeta{
		{ID: "a", UpdatedAt: base},
		{ID: "b", UpdatedAt: base.Add(2 * time.Hour)},
		{ID: "c", UpdatedAt: base.Add(time.Hour)},
		{ID: "d", UpdatedAt: base.Add(2 * time.Hour)},
	}
	got, ok := MostRecent(metas)
	if !ok || got.ID != "b" {
		t.Errorf("MostRecent = %+v, %v; want b", got, ok)
	}
	if _, ok := MostRecent(nil); ok {
		t.Error("MostRecent(nil) reported a result")
	}
}

func TestFind(t *testing.T) {
	t.Parallel()

	metas := []SessionMeta{{ID: "a"}, {ID: "b"}}
	if m, ok := Find(metas, "b"); !ok || m.ID != "b" {
		t.Errorf("Find(b) = %+v, %v", m, ok)
	}
	if _, ok := Find(metas, "z"); ok {
		t.Error("Find(z) reported a result")
	}
}

func TestListOpts_Window(t *testing.T) {
	t.Parallel()

	from, to, err := ListOpts{FromDay: "2026-04-01", ToDay: "2026-04-01"}.Window()
	if err != nil {
		t.Fatalf("Window: %v", err)
	}
	if to.Sub(from) != 24*time.Hour {
		t.Errorf("window = %v..%v, want one day", from, to)
	}

	from, to, err = ListOpts{}.Window()
	if err != nil || !from.IsZero() || !to.IsZero() {
		t.Errorf("open window = %v..%v, %v", from, to, err)
	}
}
