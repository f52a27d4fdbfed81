package aggregate

import (
	"context"
	"testing"
)

func TestFSBlobStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewFSBlobStore(t.TempDir())

	if err := s.Write(ctx, "sites_a.json", []byte(`[{"SiteId":"S1"}]`)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := s.Write(ctx, "sites_b.json", []byte(`[]`)); err != nil {
		t.Fatalf("Write: %v", err)
	}

	names, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(names) != 2 || names[0] != "sites_a.json" || names[1] != "sites_b.json" {
		t.Fatalf("List = %v", names)
	}

	data, err := s.Read(ctx, "sites_a.json")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(data) != `[{"SiteId":"S1"}]` {
		t.Errorf("Read = %s", data)
	}

	if err := s.Delete(ctx, "sites_a.json"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	names, _ = s.List(ctx)
	if len(names) != 1 {
		t.Errorf("List after delete = %v", names)
	}
}

func TestFSBlobStoreRejectsEscapingNames(t *testing.T) {
	ctx := context.Background()
	s := NewFSBlobStore(t.TempDir())

	for _, name := range []string{"../outside.json", "/etc/passwd", "a/../../b.json"} {
		if _, err := s.Read(ctx, name); err == nil {
			t.Errorf("Read(%q) should fail", name)
		}
	}
}
