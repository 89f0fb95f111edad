package store

import (
	"errors"
	"testing"
	"time"
)

func TestCursorRoundTrip(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 30, 0, 123456000, time.UTC)
	decoded, err := DecodeCursor(EncodeCursor(Cursor{CreatedAt: at, ID: "msg_1"}))
	if err != nil {
		t.Fatalf("DecodeCursor() error = %v", err)
	}
	if !decoded.CreatedAt.Equal(at) || decoded.ID != "msg_1" {
		t.Fatalf("unexpected cursor %+v", decoded)
	}
}

func TestDecodeCursorEmptyMeansFirstPage(t *testing.T) {
	cursor, err := DecodeCursor("")
	if err != nil || cursor != nil {
		t.Fatalf("expected nil cursor, got %+v, %v", cursor, err)
	}
}

func TestDecodeCursorRejectsGarbage(t *testing.T) {
	for _, value := range []string{"%%%", "bm8tc2VwYXJhdG9y", "YWJjfA"} {
		if _, err := DecodeCursor(value); !errors.Is(err, ErrInvalidCursor) {
			t.Fatalf("DecodeCursor(%q) = %v, want ErrInvalidCursor", value, err)
		}
	}
}

func TestClampPageSize(t *testing.T) {
	cases := map[int]int{0: DefaultPageSize, -3: DefaultPageSize, 10: 10, 1000: MaxPageSize}
	for in, want := range cases {
		if got := ClampPageSize(in); got != want {
			t.Fatalf("ClampPageSize(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestBuildPage(t *testing.T) {
	base := time.Unix(1000, 0)
	items := []Message{
		{ID: "c", CreatedAt: base.Add(3 * time.Second)},
		{ID: "b", CreatedAt: base.Add(2 * time.Second)},
		{ID: "a", CreatedAt: base.Add(time.Second)},
	}
	page := buildPage(items, 2)
	if page.IsDone || len(page.Items) != 2 {
		t.Fatalf("expected a partial page of 2, got %+v", page)
	}
	cursor, err := DecodeCursor(page.ContinueCursor)
	if err != nil || cursor.ID != "b" {
		t.Fatalf("expected cursor at b, got %+v, %v", cursor, err)
	}
	if last := buildPage(items[2:], 2); !last.IsDone {
		t.Fatal("expected final page to be done")
	}
}
