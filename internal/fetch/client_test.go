package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestFetchAllPagination(t *testing.T) {
	var gotKeys []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/sites" {
			t.Errorf("path = %q, want /sites", r.URL.Path)
		}
		gotKeys = append(gotKeys, r.Header.Get(subscriptionKeyHeader))

		page := r.URL.Query().Get("resultPage")
		switch page {
		case "0":
			fmt.Fprint(w, `{"sites":[{"SiteId":"S1"},{"SiteId":"S2"}],"hasMoreResults":true}`)
		case "1":
			fmt.Fprint(w, `{"sites":[{"SiteId":"S3"}],"hasMoreResults":false}`)
		default:
			t.Errorf("unexpected page request %q", page)
			http.Error(w, "no such page", http.StatusBadRequest)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret", time.Second)
	records, err := c.FetchAll(context.Background(), "sites")
	if err != nil {
		t.Fatalf("FetchAll: %v", err)
	}

	if len(records) != 3 {
		t.Fatalf("records = %d, want 3", len(records))
	}
	if records[2]["SiteId"] != "S3" {
		t.Errorf("last record = %v", records[2])
	}
	for _, k := range gotKeys {
		if k != "secret" {
			t.Errorf("subscription key header = %q", k)
		}
	}
}

func TestFetchAllMissingHasMoreStops(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		fmt.Fprint(w, `{"chargingStations":[{"ChargingStationId":"C1"}]}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", time.Second)
	records, err := c.FetchAll(context.Background(), "chargingstations")
	if err != nil {
		t.Fatalf("FetchAll: %v", err)
	}
	if calls != 1 {
		t.Errorf("requests = %d, want 1", calls)
	}
	if len(records) != 1 {
		t.Errorf("records = %d, want 1", len(records))
	}
}

func TestFetchAllUnknownFeed(t *testing.T) {
	c := NewClient("http://localhost", "", time.Second)
	if _, err := c.FetchAll(context.Background(), "nonsense"); err == nil {
		t.Fatal("expected error for unknown feed")
	}
}

func TestFetchAllHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "wrong", time.Second)
	if _, err := c.FetchAll(context.Background(), "sites"); err == nil {
		t.Fatal("expected error for 403 response")
	}
}

func TestFetchAllMissingEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"unexpected": []any{}})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", time.Second)
	if _, err := c.FetchAll(context.Background(), "sites"); err == nil {
		t.Fatal("expected error for missing envelope key")
	}
}
