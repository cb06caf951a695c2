package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/findex/internal/api"
	"github.com/opensource-finance/findex/internal/domain"
	"github.com/spf13/cobra"
)

// replayRow is one review from a review log export.
type replayRow struct {
	Item     domain.Item
	Ease     int
	Interval float64
}

// replayStats tracks replay results.
type replayStats struct {
	Processed int64
	Matched   int64
	Errors    int64

	// Sums in millionths, for atomic accumulation
	RatioMicros int64
	LatencyUs   int64
}

type replayOptions struct {
	csvPath      string
	baseURL      string
	collectionID string
	limit        int
	workers      int
	verbose      bool
}

func newReplayCmd() *cobra.Command {
	opts := replayOptions{}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Send a review log through a running findex server",
		Long: `replay reads a CSV review log with the columns
  id, deck, tags, model, maturity, ease, interval
and posts every row to POST /intervals, then prints how many reviews matched a
rule and the mean adjusted/baseline interval ratio.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.csvPath == "" {
				return errors.New("--csv is required")
			}
			if err := checkHealth(opts.baseURL); err != nil {
				return fmt.Errorf("findex not reachable at %s: %w", opts.baseURL, err)
			}

			file, err := os.Open(opts.csvPath)
			if err != nil {
				return err
			}
			defer file.Close()

			rows, err := readReviewLog(file, opts.limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "replaying %d reviews with %d workers\n", len(rows), opts.workers)
			start := time.Now()
			stats := runReplay(rows, opts, out)
			printReplayResults(out, stats, time.Since(start))
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.csvPath, "csv", "", "path to the review log CSV")
	cmd.Flags().StringVar(&opts.baseURL, "url", "http://localhost:8080", "findex base URL")
	cmd.Flags().StringVar(&opts.collectionID, "collection", domain.DefaultCollectionID, "collection ID for requests")
	cmd.Flags().IntVar(&opts.limit, "limit", 0, "maximum reviews to replay (0 = all)")
	cmd.Flags().IntVar(&opts.workers, "workers", 10, "number of concurrent workers")
	cmd.Flags().BoolVar(&opts.verbose, "verbose", false, "print each review result")
	return cmd
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// readReviewLog parses a review log. Columns are matched by header name and
// malformed rows are skipped.
func readReviewLog(r io.Reader, limit int) ([]replayRow, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	colIndex := make(map[string]int)
	for i, col := range header {
		colIndex[strings.ToLower(strings.TrimSpace(col))] = i
	}
	for _, required := range []string{"deck", "maturity", "ease", "interval"} {
		if _, ok := colIndex[required]; !ok {
			return nil, fmt.Errorf("missing column %q", required)
		}
	}

	field := func(record []string, name string) string {
		i, ok := colIndex[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	var rows []replayRow
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue
		}

		maturity, ok := domain.ParseMaturity(field(record, "maturity"))
		if !ok {
			continue
		}
		ease, err := strconv.Atoi(field(record, "ease"))
		if err != nil || ease < 1 || ease > 4 {
			continue
		}
		interval, err := strconv.ParseFloat(field(record, "interval"), 64)
		if err != nil || interval < 0 {
			continue
		}

		rows = append(rows, replayRow{
			Item: domain.Item{
				ID:       field(record, "id"),
				Deck:     field(record, "deck"),
				Tags:     strings.Fields(field(record, "tags")),
				Model:    field(record, "model"),
				Maturity: maturity,
			},
			Ease:     ease,
			Interval: interval,
		})

		if limit > 0 && len(rows) >= limit {
			break
		}
	}
	return rows, nil
}

func runReplay(rows []replayRow, opts replayOptions, out io.Writer) *replayStats {
	stats := &replayStats{}
	var outMu sync.Mutex

	work := make(chan replayRow, 100)
	var wg sync.WaitGroup

	for i := 0; i < max(opts.workers, 1); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for row := range work {
				start := time.Now()
				adj, err := postInterval(client, opts.baseURL, opts.collectionID, row)
				atomic.AddInt64(&stats.LatencyUs, time.Since(start).Microseconds())
				atomic.AddInt64(&stats.Processed, 1)

				if err != nil {
					atomic.AddInt64(&stats.Errors, 1)
					if opts.verbose {
						outMu.Lock()
						fmt.Fprintf(out, "ERROR: %s -> %v\n", row.Item.ID, err)
						outMu.Unlock()
					}
					continue
				}

				if adj.Matched {
					atomic.AddInt64(&stats.Matched, 1)
				}
				atomic.AddInt64(&stats.RatioMicros, int64(adj.Ratio()*1e6))

				if opts.verbose {
					outMu.Lock()
					fmt.Fprintf(out, "%-12s | %-20s | %-6s | ease %d | %8.2f -> %8.2f\n",
						row.Item.ID, row.Item.Deck, row.Item.Maturity, row.Ease,
						adj.BaselineInterval, adj.AdjustedInterval)
					outMu.Unlock()
				}
			}
		}()
	}

	for _, row := range rows {
		work <- row
	}
	close(work)
	wg.Wait()

	return stats
}

func postInterval(client *http.Client, baseURL, collectionID string, row replayRow) (*domain.Adjustment, error) {
	body, err := json.Marshal(api.IntervalRequest{
		Item:             row.Item,
		Ease:             row.Ease,
		BaselineInterval: row.Interval,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequest(http.MethodPost, baseURL+"/intervals", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(api.CollectionIDHeader, collectionID)

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var adj domain.Adjustment
	if err := json.NewDecoder(resp.Body).Decode(&adj); err != nil {
		return nil, err
	}
	return &adj, nil
}

func printReplayResults(out io.Writer, s *replayStats, duration time.Duration) {
	fmt.Fprintln(out)
	fmt.Fprintln(out, "REPLAY RESULTS")
	fmt.Fprintf(out, "   Processed:    %d\n", s.Processed)
	fmt.Fprintf(out, "   Matched:      %d\n", s.Matched)
	fmt.Fprintf(out, "   Errors:       %d\n", s.Errors)

	ok := s.Processed - s.Errors
	if ok > 0 {
		fmt.Fprintf(out, "   Match rate:   %.1f%%\n", float64(s.Matched)/float64(ok)*100)
		fmt.Fprintf(out, "   Mean ratio:   %.4f\n", float64(s.RatioMicros)/1e6/float64(ok))
	}
	if s.Processed > 0 {
		fmt.Fprintf(out, "   Avg latency:  %.2fms\n", float64(s.LatencyUs)/1000/float64(s.Processed))
	}
	fmt.Fprintf(out, "   Duration:     %s\n", duration.Round(time.Millisecond))
	if secs := duration.Seconds(); secs > 0 {
		fmt.Fprintf(out, "   Throughput:   %.0f reviews/sec\n", float64(s.Processed)/secs)
	}
}
