// package formatter renders rule tables, routing decisions and bucket contents as text, Markdown, CSV or JSON
package formatter

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/desertthunder/swcache/internal/models"
	"github.com/desertthunder/swcache/internal/policy"
	"github.com/desertthunder/swcache/internal/shared"
)

// Format selects an output encoding.
type Format string

const (
	FormatText     Format = "text"
	FormatMarkdown Format = "markdown"
	FormatCSV      Format = "csv"
	FormatJSON     Format = "json"
)

// ParseFormat accepts a format name or a common alias ("md", "txt").
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text", "txt":
		return FormatText, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	case "csv":
		return FormatCSV, nil
	case "json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: unknown format %q", shared.ErrInvalidArgument, s)
	}
}

var ruleHeaders = []string{"#", "Name", "Match", "Strategy", "Cache", "Max Entries", "Max Age", "Timeout"}

func ruleRecords(rules []policy.Rule) [][]string {
	records := make([][]string, 0, len(rules))
	for i, r := range rules {
		limits := r.Limits()
		match := ""
		if r.Matcher != nil {
			match = r.Matcher.String()
		}
		records = append(records, []string{
			strconv.Itoa(i + 1),
			r.Name,
			match,
			r.Strategy.String(),
			dash(r.CacheName),
			limit(limits.MaxEntries),
			FormatSeconds(limits.MaxAgeSeconds),
			FormatSeconds(int64(r.NetworkTimeout / time.Second)),
		})
	}
	return records
}

// Rules renders a rule table.
func Rules(rules []policy.Rule, f Format) ([]byte, error) {
	switch f {
	case FormatJSON:
		return shared.MarshalJSON(rules, true)
	case FormatCSV:
		return toCSV(ruleHeaders, ruleRecords(rules))
	case FormatMarkdown:
		return toMarkdown("Cache Rules", ruleHeaders, ruleRecords(rules)), nil
	default:
		return toText(ruleHeaders, ruleRecords(rules)), nil
	}
}

// Decision renders the outcome of routing one URL.
func Decision(d policy.Decision, f Format) ([]byte, error) {
	if f == FormatJSON {
		return shared.MarshalJSON(d, true)
	}

	if !d.Matched {
		switch f {
		case FormatCSV:
			return toCSV([]string{"URL", "Rule"}, [][]string{{d.URL, ""}})
		case FormatMarkdown:
			return fmt.Appendf(nil, "`%s` matches no rule; the request goes straight to the network.\n", d.URL), nil
		default:
			return fmt.Appendf(nil, "%s\n  no rule matched (network pass-through)\n", d.URL), nil
		}
	}

	r := d.Rule
	limits := r.Limits()
	switch f {
	case FormatCSV:
		headers := append([]string{"URL"}, ruleHeaders[1:]...)
		record := append([]string{d.URL}, ruleRecords([]policy.Rule{*r})[0][1:]...)
		return toCSV(headers, [][]string{record})
	case FormatMarkdown:
		var buf bytes.Buffer
		fmt.Fprintf(&buf, "`%s`\n\n", d.URL)
		fmt.Fprintf(&buf, "- **Rule**: %s\n", r.Name)
		fmt.Fprintf(&buf, "- **Strategy**: %s\n", r.Strategy)
		if r.CacheName != "" {
			fmt.Fprintf(&buf, "- **Cache**: %s (%s entries, %s)\n", r.CacheName, limit(limits.MaxEntries), FormatSeconds(limits.MaxAgeSeconds))
		}
		if r.NetworkTimeout > 0 {
			fmt.Fprintf(&buf, "- **Network timeout**: %s\n", r.NetworkTimeout)
		}
		return buf.Bytes(), nil
	default:
		var buf bytes.Buffer
		fmt.Fprintf(&buf, "%s\n", d.URL)
		fmt.Fprintf(&buf, "  rule      %s\n", r.Name)
		fmt.Fprintf(&buf, "  strategy  %s\n", r.Strategy)
		if r.CacheName != "" {
			fmt.Fprintf(&buf, "  cache     %s (max %s entries, %s)\n", r.CacheName, limit(limits.MaxEntries), FormatSeconds(limits.MaxAgeSeconds))
		}
		if r.NetworkTimeout > 0 {
			fmt.Fprintf(&buf, "  timeout   %s\n", r.NetworkTimeout)
		}
		return buf.Bytes(), nil
	}
}

var bucketHeaders = []string{"Bucket", "Entries", "Max Entries", "Size", "Max Age", "Oldest", "Newest"}

func bucketRecords(stats []models.BucketStats) [][]string {
	records := make([][]string, 0, len(stats))
	for _, s := range stats {
		records = append(records, []string{
			s.Name,
			strconv.Itoa(s.Entries),
			limit(s.MaxEntries),
			shared.FormatBytes(s.Bytes),
			FormatSeconds(s.MaxAge),
			timestamp(s.Oldest),
			timestamp(s.Newest),
		})
	}
	return records
}

// Buckets renders bucket statistics.
func Buckets(stats []models.BucketStats, f Format) ([]byte, error) {
	switch f {
	case FormatJSON:
		return shared.MarshalJSON(stats, true)
	case FormatCSV:
		return toCSV(bucketHeaders, bucketRecords(stats))
	case FormatMarkdown:
		return toMarkdown("Cache Buckets", bucketHeaders, bucketRecords(stats)), nil
	default:
		return toText(bucketHeaders, bucketRecords(stats)), nil
	}
}

var entryHeaders = []string{"Key", "Status", "Type", "Size", "Stored", "Accessed"}

// Entries renders a bucket's entries from least to most recently used.
func Entries(bucket string, entries []*models.CacheEntry, f Format) ([]byte, error) {
	if f == FormatJSON {
		return shared.MarshalJSON(entries, true)
	}

	records := make([][]string, 0, len(entries))
	for _, e := range entries {
		records = append(records, []string{
			e.Key,
			strconv.Itoa(e.Status),
			dash(e.Header.Get("Content-Type")),
			shared.FormatBytes(e.Size()),
			timestamp(e.StoredAt),
			timestamp(e.AccessedAt),
		})
	}

	switch f {
	case FormatCSV:
		return toCSV(entryHeaders, records)
	case FormatMarkdown:
		return toMarkdown(bucket, entryHeaders, records), nil
	default:
		return toText(entryHeaders, records), nil
	}
}

// WriteExport writes rendered output to path.
func WriteExport(path string, data []byte) error {
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// FormatSeconds renders a duration in its largest whole unit: "365d", "1h", "90s". Zero renders as "-".
func FormatSeconds(s int64) string {
	switch {
	case s <= 0:
		return "-"
	case s%86400 == 0:
		return fmt.Sprintf("%dd", s/86400)
	case s%3600 == 0:
		return fmt.Sprintf("%dh", s/3600)
	case s%60 == 0:
		return fmt.Sprintf("%dm", s/60)
	default:
		return fmt.Sprintf("%ds", s)
	}
}

func limit(n int) string {
	if n <= 0 {
		return "unbounded"
	}
	return strconv.Itoa(n)
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func timestamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.DateTime)
}

func toCSV(headers []string, records [][]string) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}
	for _, record := range records {
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}
	return buf.Bytes(), nil
}

func toMarkdown(title string, headers []string, records [][]string) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "# %s\n\n", title)

	if len(records) == 0 {
		buf.WriteString("_empty_\n")
		return buf.Bytes()
	}

	buf.WriteString("| " + strings.Join(headers, " | ") + " |\n")
	buf.WriteString("|" + strings.Repeat(" --- |", len(headers)) + "\n")
	for _, r := range records {
		cells := make([]string, len(r))
		for i, c := range r {
			cells[i] = strings.ReplaceAll(c, "|", `\|`)
		}
		buf.WriteString("| " + strings.Join(cells, " | ") + " |\n")
	}
	return buf.Bytes()
}

func toText(headers []string, records [][]string) []byte {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		Rows(records...)
	return []byte(t.Render() + "\n")
}
