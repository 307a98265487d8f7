package formatter

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/desertthunder/swcache/internal/models"
	"github.com/desertthunder/swcache/internal/policy"
	"github.com/desertthunder/swcache/internal/shared"
	th "github.com/desertthunder/swcache/internal/testing"
)

var (
	origin = &url.URL{Scheme: "https", Host: "app.test"}
	stamp  = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
)

func TestParseFormat(t *testing.T) {
	tt := []struct {
		in   string
		want Format
	}{
		{"", FormatText},
		{"TXT", FormatText},
		{"md", FormatMarkdown},
		{"Markdown", FormatMarkdown},
		{"csv", FormatCSV},
		{" json ", FormatJSON},
	}
	for _, tc := range tt {
		got, err := ParseFormat(tc.in)
		if err != nil || got != tc.want {
			t.Errorf("ParseFormat(%q) = %q, %v; want %q", tc.in, got, err, tc.want)
		}
	}

	if _, err := ParseFormat("yaml"); !errors.Is(err, shared.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestRules(t *testing.T) {
	rules := policy.DefaultRules(origin)

	t.Run("CSV", func(t *testing.T) {
		data, err := Rules(rules, FormatCSV)
		if err != nil {
			t.Fatalf("Rules failed: %v", err)
		}
		lines := strings.Split(strings.TrimSpace(string(data)), "\n")
		if len(lines) != 11 {
			t.Fatalf("expected header plus 10 rows, got %d", len(lines))
		}
		if lines[0] != "#,Name,Match,Strategy,Cache,Max Entries,Max Age,Timeout" {
			t.Errorf("unexpected header %q", lines[0])
		}
		if !strings.HasPrefix(lines[3], "3,google-fonts-webfonts,host fonts.gstatic.com,CacheFirst,google-fonts-webfonts,4,365d,-") {
			t.Errorf("unexpected font row %q", lines[3])
		}
		if !strings.HasSuffix(lines[10], ",cross-origin,32,1h,10s") {
			t.Errorf("unexpected cross-origin row %q", lines[10])
		}
	})

	t.Run("Markdown", func(t *testing.T) {
		data, _ := Rules(rules, FormatMarkdown)
		out := string(data)
		if !strings.HasPrefix(out, "# Cache Rules\n\n| # | Name |") {
			t.Errorf("unexpected markdown header: %s", out)
		}
		if !strings.Contains(out, "| 8 | static-data-assets |") {
			t.Errorf("missing data row: %s", out)
		}
	})

	t.Run("Text", func(t *testing.T) {
		data, _ := Rules(rules, FormatText)
		out := string(data)
		for _, want := range []string{"google-apis", "NetworkOnly", "static-image-assets", "unbounded"} {
			if !strings.Contains(out, want) {
				t.Errorf("text output missing %q", want)
			}
		}
	})

	t.Run("JSON", func(t *testing.T) {
		data, _ := Rules(rules, FormatJSON)
		var decoded []map[string]any
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Fatalf("invalid JSON: %v", err)
		}
		if decoded[8]["network_timeout_seconds"] != 10.0 {
			t.Errorf("expected 10s timeout on others, got %v", decoded[8])
		}
	})
}

func TestDecision(t *testing.T) {
	router := policy.DefaultRouter(origin)

	t.Run("Matched Text", func(t *testing.T) {
		data, _ := Decision(router.Decide("https://app.test/"), FormatText)
		out := string(data)
		if !strings.Contains(out, "rule      others") || !strings.Contains(out, "timeout   10s") {
			t.Errorf("unexpected output:\n%s", out)
		}
	})

	t.Run("Matched Markdown", func(t *testing.T) {
		data, _ := Decision(router.Decide("https://fonts.gstatic.com/x.woff2"), FormatMarkdown)
		if !strings.Contains(string(data), "- **Cache**: google-fonts-webfonts (4 entries, 365d)") {
			t.Errorf("unexpected output:\n%s", data)
		}
	})

	t.Run("Matched CSV", func(t *testing.T) {
		data, err := Decision(router.Decide("https://app.test/logo.png"), FormatCSV)
		if err != nil {
			t.Fatalf("Decision failed: %v", err)
		}
		if !strings.Contains(string(data), "https://app.test/logo.png,static-image-assets,") {
			t.Errorf("unexpected output:\n%s", data)
		}
	})

	t.Run("No Decision", func(t *testing.T) {
		data, _ := Decision(router.Decide("not a url"), FormatText)
		if !strings.Contains(string(data), "no rule matched") {
			t.Errorf("unexpected output:\n%s", data)
		}
	})

	t.Run("JSON", func(t *testing.T) {
		data, _ := Decision(router.Decide("https://www.googleapis.com/x"), FormatJSON)
		if !strings.Contains(string(data), `"strategy": "NetworkOnly"`) {
			t.Errorf("unexpected output:\n%s", data)
		}
	})
}

func TestBuckets(t *testing.T) {
	stats := []models.BucketStats{
		{Name: "others", Entries: 2, Bytes: 2048, MaxEntries: 32, MaxAge: 86400, Oldest: stamp, Newest: stamp.Add(time.Hour)},
		{Name: "empty", MaxEntries: 4},
	}

	data, err := Buckets(stats, FormatCSV)
	if err != nil {
		t.Fatalf("Buckets failed: %v", err)
	}
	out := string(data)
	if !strings.Contains(out, "others,2,32,2.0 KiB,1d,2025-06-01 12:00:00,2025-06-01 13:00:00") {
		t.Errorf("unexpected CSV:\n%s", out)
	}
	if !strings.Contains(out, "empty,0,4,0 B,-,-,-") {
		t.Errorf("unexpected empty row:\n%s", out)
	}

	data, _ = Buckets(nil, FormatMarkdown)
	if !strings.Contains(string(data), "_empty_") {
		t.Errorf("expected empty marker, got %s", data)
	}
}

func TestEntries(t *testing.T) {
	entries := []*models.CacheEntry{
		models.NewCacheEntry("https://app.test/a|b.css", http.StatusOK, http.Header{"Content-Type": []string{"text/css"}}, []byte("body{}"), stamp),
	}

	data, _ := Entries("static-style-assets", entries, FormatMarkdown)
	out := string(data)
	if !strings.HasPrefix(out, "# static-style-assets") {
		t.Errorf("expected bucket title, got %s", out)
	}
	if !strings.Contains(out, `https://app.test/a\|b.css | 200 | text/css | 6 B`) {
		t.Errorf("unexpected row:\n%s", out)
	}
}

func TestFormatSeconds(t *testing.T) {
	tt := map[int64]string{0: "-", 30: "30s", 120: "2m", 3600: "1h", 86400: "1d", 365 * 86400: "365d", 90: "90s"}
	for in, want := range tt {
		if got := FormatSeconds(in); got != want {
			t.Errorf("FormatSeconds(%d) = %q, want %q", in, got, want)
		}
	}
}

func TestWriteExport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.csv")
	if err := WriteExport(path, []byte("a,b\n")); err != nil {
		t.Fatalf("WriteExport failed: %v", err)
	}
	th.AssertFileExists(t, path)
	if got := th.MustReadFile(t, path); got != "a,b\n" {
		t.Errorf("unexpected file content %q", got)
	}

	if err := WriteExport(filepath.Join(t.TempDir(), "missing", "x.csv"), nil); err == nil {
		t.Error("expected error writing into a missing directory")
	}
}
