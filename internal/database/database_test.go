package database

import (
	"testing"
	"time"

	"github.com/sna-ai/sna/internal/models"
)

func TestBuildDatabaseURLPrefersDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgresql://app:secret@db:5432/sna?sslmode=disable")
	t.Setenv("DB_HOST", "ignored")

	got, err := BuildDatabaseURL()
	if err != nil {
		t.Fatalf("BuildDatabaseURL returned error: %v", err)
	}
	if got != "postgresql://app:secret@db:5432/sna?sslmode=disable" {
		t.Errorf("unexpected URL: %s", got)
	}
}

func TestBuildDatabaseURLFromParts(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("DB_HOST", "localhost")
	t.Setenv("DB_PORT", "")
	t.Setenv("DB_USER", "sna")
	t.Setenv("DB_NAME", "sna")
	t.Setenv("DB_PASSWORD", "secret")
	t.Setenv("DB_SSLMODE", "")

	got, err := BuildDatabaseURL()
	if err != nil {
		t.Fatalf("BuildDatabaseURL returned error: %v", err)
	}
	want := "host=localhost port=5432 user=sna dbname=sna sslmode=disable password=secret"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestBuildDatabaseURLMissingHost(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("DB_HOST", "")

	if _, err := BuildDatabaseURL(); err == nil {
		t.Error("expected error when neither DATABASE_URL nor DB_HOST is set")
	}
}

func TestRedactedURL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "url form",
			in:   "postgresql://app:secret@db:5432/sna",
			want: "postgresql://app:***@db:5432/sna",
		},
		{
			name: "key value form",
			in:   "host=db user=app password=secret dbname=sna",
			want: "host=db user=app password=*** dbname=sna",
		},
		{
			name: "no password",
			in:   "host=db user=app dbname=sna",
			want: "host=db user=app dbname=sna",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RedactedURL(tt.in); got != tt.want {
				t.Errorf("RedactedURL(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestMediaItemsRoundTrip(t *testing.T) {
	items := []models.MediaItem{
		{Key: "3_1", Type: "photo", URL: "https://pbs.example/img1.jpg", Width: 1024, Height: 768},
		{Type: "video", URL: "https://video.example/v.mp4"},
	}

	raw, err := marshalMediaItems(items)
	if err != nil {
		t.Fatalf("marshalMediaItems returned error: %v", err)
	}
	back, err := unmarshalMediaItems(raw)
	if err != nil {
		t.Fatalf("unmarshalMediaItems returned error: %v", err)
	}
	if len(back) != 2 || back[0].URL != items[0].URL || back[1].Type != "video" {
		t.Errorf("round trip mismatch: %+v", back)
	}
}

func TestMediaItemsEmpty(t *testing.T) {
	raw, err := marshalMediaItems(nil)
	if err != nil {
		t.Fatalf("marshalMediaItems returned error: %v", err)
	}
	if string(raw) != "[]" {
		t.Errorf("expected empty JSON array, got %s", raw)
	}

	back, err := unmarshalMediaItems([]byte("[]"))
	if err != nil {
		t.Fatalf("unmarshalMediaItems returned error: %v", err)
	}
	if back != nil {
		t.Errorf("expected nil slice for empty array, got %+v", back)
	}
}

func TestNullHelpers(t *testing.T) {
	if ns := nullString(""); ns.Valid {
		t.Error("empty string should map to invalid NullString")
	}
	if ns := nullString("x"); !ns.Valid || ns.String != "x" {
		t.Errorf("unexpected NullString: %+v", ns)
	}

	if nt := nullTime(time.Time{}); nt.Valid {
		t.Error("zero time should map to invalid NullTime")
	}
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	if nt := nullTime(ts); !nt.Valid || !nt.Time.Equal(ts) {
		t.Errorf("unexpected NullTime: %+v", nt)
	}
}
