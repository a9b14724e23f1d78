package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/nao1215/kanpora/internal/survey"
)

// point is a listing location served by the fake search service.
type point struct {
	id       int
	lat, lng float64
}

// spreadPoints returns ten listings inside the box 46,-2,47,-1. No
// quadrant of the box holds more than three of them.
func spreadPoints() []point {
	points := make([]point, 10)
	for i := range points {
		points[i] = point{
			id:  1000 + i,
			lat: 46.05 + 0.1*float64(i),
			lng: -1.95 + 0.1*float64((7*i)%10),
		}
	}
	return points
}

// searchServer answers explore requests with the points inside the
// requested box, paginated the way the remote service does.
func searchServer(t *testing.T, points []point) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		coord := func(key string) float64 {
			v, err := strconv.ParseFloat(q.Get(key), 64)
			if err != nil {
				t.Errorf("bad %s parameter %q", key, q.Get(key))
			}
			return v
		}
		north, east, south, west := coord("ne_lat"), coord("ne_lng"), coord("sw_lat"), coord("sw_lng")
		offset, _ := strconv.Atoi(q.Get("items_offset"))  //nolint:errcheck // zero on bad input
		perPage, _ := strconv.Atoi(q.Get("items_per_grid")) //nolint:errcheck // zero on bad input

		var inside []point
		for _, p := range points {
			if p.lat >= south && p.lat <= north && p.lng >= west && p.lng <= east {
				inside = append(inside, p)
			}
		}

		var items []string
		for i := offset; i < len(inside) && i < offset+perPage; i++ {
			p := inside[i]
			items = append(items, fmt.Sprintf(
				`{"listing":{"id":%d,"room_type":"Entire home/apt","name":"Home %d","lat":%g,"lng":%g},`+
					`"pricing_quote":{"rate":{"amount":80}}}`, p.id, p.id, p.lat, p.lng))
		}

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"explore_tabs":[{"home_tab_metadata":{"listings_count":%d},"sections":[`+
			`{"section_type_uid":"PAGINATED_HOMES","listings":[%s]}]}]}`, len(inside), strings.Join(items, ","))
	}))
	t.Cleanup(srv.Close)
	return srv
}

// crawlConfig points the search API at url with a tiny page ceiling, so
// that the whole test area is saturated and its quadrants are not.
func crawlConfig(t *testing.T, url string, stallThreshold int) string {
	t.Helper()

	return writeTestConfig(t, fmt.Sprintf(`network:
  max_attempts: 1
  request_sleep: 1ms
  http_timeout: 5s
api:
  search_url: %s
crawl:
  page_size: 2
  max_pages: 2
  workers: 2
  stall_threshold: %d
`, url, stallThreshold))
}

// mustRun runs the CLI and fails the test on error.
func mustRun(t *testing.T, args ...string) string {
	t.Helper()

	out, err := runCLI(t, args...)
	if err != nil {
		t.Fatalf("kanpora %s: %v", strings.Join(args, " "), err)
	}
	return out
}

func TestDBCmd(t *testing.T) {
	t.Parallel()

	cfg := writeTestConfig(t, "")

	if _, err := runCLI(t, "--config", cfg, "db", "check"); err == nil {
		t.Fatal("expected check to fail before init")
	}

	out := mustRun(t, "--config", cfg, "db", "init")
	if !strings.Contains(out, "Database ready (sqlite)") {
		t.Errorf("unexpected init output:\n%s", out)
	}

	out = mustRun(t, "--config", cfg, "db", "check")
	if !strings.Contains(out, "Database OK") {
		t.Errorf("unexpected check output:\n%s", out)
	}

	_, err := runCLI(t, "--config", cfg, "db", "drop")
	if err == nil || !strings.Contains(err.Error(), "--yes") {
		t.Fatalf("expected drop to require --yes, got %v", err)
	}

	mustRun(t, "--config", cfg, "db", "drop", "--yes")
	if _, err := runCLI(t, "--config", cfg, "db", "check"); err == nil {
		t.Error("expected check to fail after drop")
	}
}

func TestAreaCmd(t *testing.T) {
	t.Parallel()

	cfg := writeTestConfig(t, "")
	mustRun(t, "--config", cfg, "db", "init")

	out := mustRun(t, "--config", cfg, "area", "list")
	if !strings.Contains(out, "No search areas found.") {
		t.Errorf("expected empty list, got:\n%s", out)
	}

	out = mustRun(t, "--config", cfg, "area", "add", "Ré", "--bbox=46.1,-1.6,46.3,-1.2")
	if !strings.Contains(out, "Added search area 1: Ré") {
		t.Errorf("unexpected add output:\n%s", out)
	}
	mustRun(t, "--config", cfg, "area", "add", "Bayonne",
		"--north=43.51", "--south=43.46", "--east=-1.43", "--west=-1.51")

	out = mustRun(t, "--config", cfg, "area", "list")
	for _, want := range []string{"Search areas (2):", "Ré", "Bayonne"} {
		if !strings.Contains(out, want) {
			t.Errorf("list should contain %q, got:\n%s", want, out)
		}
	}

	t.Run("rejects invalid boxes", func(t *testing.T) {
		if _, err := runCLI(t, "--config", cfg, "area", "add", "Bad", "--bbox=47,-1,46,-2"); err == nil {
			t.Error("expected error for inverted box")
		}
		if _, err := runCLI(t, "--config", cfg, "area", "add", "Bad", "--bbox=46,-2"); err == nil {
			t.Error("expected error for short bbox")
		}
		if _, err := runCLI(t, "--config", cfg, "area", "add", "Bad", "--north=47"); err == nil {
			t.Error("expected error for partial bounds")
		}
	})

	out = mustRun(t, "--config", cfg, "area", "delete", "Bayonne")
	if !strings.Contains(out, "Deleted search area 2: Bayonne") {
		t.Errorf("unexpected delete output:\n%s", out)
	}
	if _, err := runCLI(t, "--config", cfg, "area", "delete", "Bayonne"); err == nil {
		t.Error("expected error deleting an unknown area")
	}
}

func TestSurveyCmd(t *testing.T) {
	t.Parallel()

	cfg := writeTestConfig(t, "")
	mustRun(t, "--config", cfg, "db", "init")
	mustRun(t, "--config", cfg, "area", "add", "Ré", "--bbox=46.1,-1.6,46.3,-1.2")

	out := mustRun(t, "--config", cfg, "survey", "list")
	if !strings.Contains(out, "No surveys found.") {
		t.Errorf("expected empty list, got:\n%s", out)
	}

	out = mustRun(t, "--config", cfg, "survey", "add", "Ré", "-d", "spring")
	if !strings.Contains(out, "Added survey 1 of Ré") {
		t.Errorf("unexpected add output:\n%s", out)
	}
	mustRun(t, "--config", cfg, "survey", "add", "1")

	out = mustRun(t, "--config", cfg, "survey", "list", "--area", "Ré")
	for _, want := range []string{"Surveys (2):", "pending", "spring"} {
		if !strings.Contains(out, want) {
			t.Errorf("list should contain %q, got:\n%s", want, out)
		}
	}

	if _, err := runCLI(t, "--config", cfg, "survey", "add", "Nowhere"); err == nil {
		t.Error("expected error for unknown area")
	}
	if _, err := runCLI(t, "--config", cfg, "survey", "delete", "abc"); err == nil {
		t.Error("expected error for non-numeric id")
	}

	out = mustRun(t, "--config", cfg, "survey", "delete", "2")
	if !strings.Contains(out, "Deleted survey 2") {
		t.Errorf("unexpected delete output:\n%s", out)
	}
	out = mustRun(t, "--config", cfg, "survey", "list")
	if !strings.Contains(out, "Surveys (1):") {
		t.Errorf("expected one survey left, got:\n%s", out)
	}
}

func TestSurveyRunExportCompare(t *testing.T) {
	t.Parallel()

	srv := searchServer(t, spreadPoints())
	cfg := crawlConfig(t, srv.URL, 10)

	mustRun(t, "--config", cfg, "db", "init")
	mustRun(t, "--config", cfg, "area", "add", "Test Area", "--bbox=46,-2,47,-1")
	mustRun(t, "--config", cfg, "survey", "add", "Test Area")
	mustRun(t, "--config", cfg, "survey", "add", "Test Area")

	out := mustRun(t, "--config", cfg, "survey", "run", "1")
	for _, want := range []string{"Running survey 1...", "Survey 1 (Test Area): completed", "expected 10, saved 10 (100.0%)"} {
		if !strings.Contains(out, want) {
			t.Errorf("run output should contain %q, got:\n%s", want, out)
		}
	}

	t.Run("rerun of a completed survey adds nothing", func(t *testing.T) {
		out := mustRun(t, "--config", cfg, "survey", "run", "1")
		if !strings.Contains(out, "saved 10 (100.0%)") {
			t.Errorf("unexpected rerun output:\n%s", out)
		}
	})

	t.Run("export csv to a directory", func(t *testing.T) {
		dir := t.TempDir()
		out := mustRun(t, "--config", cfg, "survey", "export", "1", "-f", "csv", "-o", dir)
		if !strings.Contains(out, "Exported survey 1 (10 listings)") {
			t.Errorf("unexpected export output:\n%s", out)
		}

		files, err := filepath.Glob(filepath.Join(dir, "survey_1*.csv"))
		if err != nil || len(files) != 1 {
			t.Fatalf("expected one csv file, got %v (%v)", files, err)
		}
		data, err := os.ReadFile(files[0]) //nolint:gosec // test file
		if err != nil {
			t.Fatal(err)
		}
		lines := strings.Split(strings.TrimSpace(string(data)), "\n")
		if len(lines) != 11 {
			t.Errorf("expected header and 10 rows, got %d lines", len(lines))
		}
	})

	t.Run("export json to stdout", func(t *testing.T) {
		out := mustRun(t, "--config", cfg, "survey", "export", "1", "--format", "json")
		var doc struct {
			Completeness float64 `json:"completeness"`
			Rooms        []any   `json:"rooms"`
		}
		if err := json.Unmarshal([]byte(out), &doc); err != nil {
			t.Fatalf("export is not JSON: %v\n%s", err, out)
		}
		if len(doc.Rooms) != 10 {
			t.Errorf("expected 10 rooms, got %d", len(doc.Rooms))
		}
		if doc.Completeness != 1 {
			t.Errorf("completeness = %v, want 1", doc.Completeness)
		}
	})

	t.Run("compare with a later survey", func(t *testing.T) {
		mustRun(t, "--config", cfg, "survey", "run", "2")

		out := mustRun(t, "--config", cfg, "survey", "compare", "1", "2")
		if !strings.Contains(out, "SURVEY 1 -> SURVEY 2") {
			t.Errorf("unexpected compare output:\n%s", out)
		}

		path := filepath.Join(t.TempDir(), "diff.md")
		mustRun(t, "--config", cfg, "survey", "compare", "1", "2", "-f", "markdown", "-o", path)
		data, err := os.ReadFile(path) //nolint:gosec // test file
		if err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(string(data), "Survey 1 vs Survey 2") {
			t.Errorf("unexpected markdown comparison:\n%s", data)
		}
	})

	t.Run("unknown export format", func(t *testing.T) {
		if _, err := runCLI(t, "--config", cfg, "survey", "export", "1", "-f", "xml"); err == nil {
			t.Error("expected error for unknown format")
		}
	})
}

func TestSurveyRunStalled(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	t.Cleanup(srv.Close)
	cfg := crawlConfig(t, srv.URL, 1)

	mustRun(t, "--config", cfg, "db", "init")
	mustRun(t, "--config", cfg, "area", "add", "Blocked", "--bbox=46,-2,47,-1")
	mustRun(t, "--config", cfg, "survey", "add", "Blocked")

	out, err := runCLI(t, "--config", cfg, "survey", "run", "1")
	if err == nil {
		t.Fatal("expected a stalled crawl error")
	}
	if !errors.Is(err, survey.ErrCrawlStalled) {
		t.Errorf("expected ErrCrawlStalled, got %v", err)
	}
	if code := exitCode(err); code != exitStalled {
		t.Errorf("exitCode = %d, want %d", code, exitStalled)
	}
	if !strings.Contains(out, "crawl stalled") {
		t.Errorf("summary should report the stall, got:\n%s", out)
	}

	list := mustRun(t, "--config", cfg, "survey", "list")
	if !strings.Contains(list, "stalled") {
		t.Errorf("survey should be stored as stalled, got:\n%s", list)
	}
}
