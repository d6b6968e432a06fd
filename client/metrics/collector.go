package metrics

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// Status codes carried by a Record.
const (
	StatusOK             = "OK"
	StatusError          = "ERROR"
	StatusPersistFailed  = "PERSIST_FAILED"
	StatusConnNew        = "CONN_NEW"
	StatusConnFailed     = "CONN_FAILED"
	StatusRetry          = "RETRY"
	StatusReceived       = "RECEIVED"
	StatusDropped        = "DROPPED"
	StatusFetchFailed    = "FETCH_FAILED"
	StatusSendRejected   = "SEND_REJECTED"
	StatusBroadcastError = "BROADCAST_FAILED"
)

type Record struct {
	Timestamp  time.Time
	Kind       string
	Latency    int64 // milliseconds
	StatusCode string
	RoomId     string
}

// Collector aggregates session events. Records are funnelled through a
// buffered channel and folded by a single goroutine. A nil *Collector is a
// valid no-op recorder.
type Collector struct {
	records   chan Record
	Done      chan struct{}
	csvFile   *os.File
	csvWriter *csv.Writer
	Stats     Statistics

	mu       sync.RWMutex
	closed   bool
	overflow atomic.Int64
}

type Statistics struct {
	TotalSends         int
	SuccessCount       int
	FailCount          int
	PersistFailures    int
	BroadcastFailures  int
	Rejected           int
	TotalConnections   int
	ConnectionFailures int
	RetryCount         int
	Received           int
	Dropped            int
	FetchFailures      int
	TotalLatency       int64
	MinLatency         int64
	MaxLatency         int64
	StartTime          time.Time
	EndTime            time.Time

	Latencies  []int64
	RoomCounts map[string]int
}

// NewCollector creates a collector. When csvPath is not empty every record is
// also appended to that file.
func NewCollector(csvPath string) (*Collector, error) {
	c := &Collector{
		records: make(chan Record, 10000),
		Done:    make(chan struct{}),
		Stats: Statistics{
			MinLatency: 1<<63 - 1,
			Latencies:  make([]int64, 0),
			RoomCounts: make(map[string]int),
		},
	}
	if csvPath == "" {
		return c, nil
	}

	file, err := os.Create(csvPath)
	if err != nil {
		return nil, err
	}
	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"timestamp", "kind", "latency_ms", "statusCode", "roomId"}); err != nil {
		file.Close()
		return nil, err
	}
	writer.Flush()
	c.csvFile = file
	c.csvWriter = writer
	return c, nil
}

// Record queues r without blocking. Records sent after Close, or while the
// buffer is full, are discarded; the latter are counted by Overflow.
func (c *Collector) Record(r Record) {
	if c == nil {
		return
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now()
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.records <- r:
	default:
		c.overflow.Add(1)
	}
}

// Overflow returns how many records were dropped on a full buffer.
func (c *Collector) Overflow() int64 {
	if c == nil {
		return 0
	}
	return c.overflow.Load()
}

func (c *Collector) Start() {
	c.Stats.StartTime = time.Now()
	go func() {
		for r := range c.records {
			c.fold(r)
			if c.csvWriter != nil {
				c.csvWriter.Write([]string{
					r.Timestamp.Format(time.RFC3339),
					r.Kind,
					strconv.FormatInt(r.Latency, 10),
					r.StatusCode,
					r.RoomId,
				})
			}
		}
		if c.csvWriter != nil {
			c.csvWriter.Flush()
			c.csvFile.Close()
		}
		c.Stats.EndTime = time.Now()
		close(c.Done)
	}()
}

func (c *Collector) fold(r Record) {
	switch r.StatusCode {
	case StatusConnNew:
		c.Stats.TotalConnections++
		return
	case StatusConnFailed:
		c.Stats.ConnectionFailures++
		return
	case StatusRetry:
		c.Stats.RetryCount++
		return
	case StatusReceived:
		c.Stats.Received++
		return
	case StatusDropped:
		c.Stats.Dropped++
		return
	case StatusFetchFailed:
		c.Stats.FetchFailures++
		return
	case StatusSendRejected:
		c.Stats.Rejected++
		return
	}

	c.Stats.TotalSends++
	switch r.StatusCode {
	case StatusOK:
		c.Stats.SuccessCount++
		c.Stats.TotalLatency += r.Latency
		if r.Latency < c.Stats.MinLatency {
			c.Stats.MinLatency = r.Latency
		}
		if r.Latency > c.Stats.MaxLatency {
			c.Stats.MaxLatency = r.Latency
		}
		c.Stats.Latencies = append(c.Stats.Latencies, r.Latency)
		c.Stats.RoomCounts[r.RoomId]++
	case StatusPersistFailed:
		c.Stats.PersistFailures++
		c.Stats.SuccessCount++
		c.Stats.RoomCounts[r.RoomId]++
	case StatusBroadcastError:
		c.Stats.BroadcastFailures++
		c.Stats.SuccessCount++
		c.Stats.RoomCounts[r.RoomId]++
	default:
		c.Stats.FailCount++
	}
}

func (c *Collector) RecordConnection(roomID string) {
	c.Record(Record{Kind: "connection", StatusCode: StatusConnNew, RoomId: roomID})
}

func (c *Collector) RecordConnectionFailure(roomID string) {
	c.Record(Record{Kind: "connection", StatusCode: StatusConnFailed, RoomId: roomID})
}

func (c *Collector) RecordRetry() {
	c.Record(Record{Kind: "connection", StatusCode: StatusRetry})
}

func (c *Collector) RecordDropped() {
	c.Record(Record{Kind: "frame", StatusCode: StatusDropped})
}

func (c *Collector) RecordReceived(roomID string) {
	c.Record(Record{Kind: "frame", StatusCode: StatusReceived, RoomId: roomID})
}

func (c *Collector) RecordFetchFailure(roomID, what string) {
	c.Record(Record{Kind: what, StatusCode: StatusFetchFailed, RoomId: roomID})
}

func (c *Collector) RecordRejected(roomID string) {
	c.Record(Record{Kind: "send", StatusCode: StatusSendRejected, RoomId: roomID})
}

// RecordSend folds the outcome of one dual-path send. Latency is the sum of
// both paths.
func (c *Collector) RecordSend(roomID string, persist, broadcast time.Duration, persistErr, broadcastErr error) {
	status := StatusOK
	switch {
	case persistErr != nil && broadcastErr != nil:
		status = StatusError
	case persistErr != nil:
		status = StatusPersistFailed
	case broadcastErr != nil:
		status = StatusBroadcastError
	}
	c.Record(Record{
		Kind:       "send",
		Latency:    (persist + broadcast).Milliseconds(),
		StatusCode: status,
		RoomId:     roomID,
	})
}

// Close stops accepting records; wait on Done for the final stats.
func (c *Collector) Close() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.records)
}

func (c *Collector) CalculatePercentiles() (median, p95, p99 int64) {
	if len(c.Stats.Latencies) == 0 {
		return 0, 0, 0
	}
	sort.Slice(c.Stats.Latencies, func(i, j int) bool {
		return c.Stats.Latencies[i] < c.Stats.Latencies[j]
	})

	n := len(c.Stats.Latencies)
	median = c.Stats.Latencies[n/2]
	p95 = c.Stats.Latencies[int(float64(n-1)*0.95)]
	p99 = c.Stats.Latencies[int(float64(n-1)*0.99)]
	return
}

func (c *Collector) PrintSummary(w io.Writer) {
	duration := c.Stats.EndTime.Sub(c.Stats.StartTime).Seconds()
	var avgLatency float64
	if n := len(c.Stats.Latencies); n > 0 {
		avgLatency = float64(c.Stats.TotalLatency) / float64(n)
	}
	minLatency := c.Stats.MinLatency
	if len(c.Stats.Latencies) == 0 {
		minLatency = 0
	}
	median, p95, p99 := c.CalculatePercentiles()

	fmt.Fprintln(w, "========= Session Summary =========")
	fmt.Fprintf(w, "Duration: %.2f seconds\n", duration)
	fmt.Fprintf(w, "Connections: %d (failed: %d, retries: %d)\n",
		c.Stats.TotalConnections, c.Stats.ConnectionFailures, c.Stats.RetryCount)
	fmt.Fprintf(w, "Frames received: %d (dropped: %d)\n", c.Stats.Received, c.Stats.Dropped)
	fmt.Fprintf(w, "Fetch failures: %d\n", c.Stats.FetchFailures)
	if n := c.Overflow(); n > 0 {
		fmt.Fprintf(w, "Records lost to a full buffer: %d\n", n)
	}
	fmt.Fprintf(w, "Sends: %d (delivered: %d, failed: %d, rejected: %d)\n",
		c.Stats.TotalSends, c.Stats.SuccessCount, c.Stats.FailCount, c.Stats.Rejected)
	fmt.Fprintf(w, "Persist failures: %d, broadcast failures: %d\n",
		c.Stats.PersistFailures, c.Stats.BroadcastFailures)
	fmt.Fprintf(w, "Avg Latency: %.2f ms\n", avgLatency)
	fmt.Fprintf(w, "Min Latency: %d ms\n", minLatency)
	fmt.Fprintf(w, "Max Latency: %d ms\n", c.Stats.MaxLatency)
	fmt.Fprintf(w, "Median Latency: %d ms\n", median)
	fmt.Fprintf(w, "P95 Latency: %d ms\n", p95)
	fmt.Fprintf(w, "P99 Latency: %d ms\n", p99)

	if len(c.Stats.RoomCounts) > 0 {
		fmt.Fprintln(w, "\n--- Sends per room ---")
		rooms := make([]string, 0, len(c.Stats.RoomCounts))
		for room := range c.Stats.RoomCounts {
			rooms = append(rooms, room)
		}
		sort.Strings(rooms)
		for _, room := range rooms {
			fmt.Fprintf(w, "%s: %d\n", room, c.Stats.RoomCounts[room])
		}
	}
	fmt.Fprintln(w, "===================================")
}
