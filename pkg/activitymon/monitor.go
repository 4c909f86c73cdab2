package activitymon

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// OnIncrement es un hook opcional para reportar métricas a sistemas externos
var OnIncrement func(key string)

type Event struct {
	Timestamp      time.Time         `json:"timestamp"`
	TraceID        string            `json:"trace_id"`
	ChannelID      string            `json:"channel_id"`
	ConversationID string            `json:"conversation_id"`
	Actor          string            `json:"actor"`       // bot | advisor id | scheduler | dispatcher
	Stage          string            `json:"stage"`       // inbound | engine_step | tool_call | ai_request | ai_reply | outbound | dispatch | scheduler
	Kind           string            `json:"kind"`        // text | buttons | media | template | nombre de tool o trigger
	Status         string            `json:"status"`      // ok | error | skipped
	Error          string            `json:"error"`       // optional
	Metadata       map[string]string `json:"metadata"`    // optional technical details
	DurationMs     int64             `json:"duration_ms"` // optional
}

type Stats struct {
	TotalInbound     int64   `json:"total_inbound"`
	TotalEngineSteps int64   `json:"total_engine_steps"`
	TotalToolCalls   int64   `json:"total_tool_calls"`
	TotalOutbound    int64   `json:"total_outbound"`
	TotalDispatches  int64   `json:"total_dispatches"`
	TotalErrors      int64   `json:"total_errors"`
	RecentEvents     []Event `json:"recent_events"`
}

type Monitor struct {
	eventsMu sync.Mutex
	events   []Event
	idx      int
	count    int

	totalInbound     int64
	totalEngineSteps int64
	totalToolCalls   int64
	totalOutbound    int64
	totalDispatches  int64
	totalErrors      int64
}

func New(size int) *Monitor {
	if size <= 0 {
		size = 200
	}
	return &Monitor{events: make([]Event, size)}
}

func (m *Monitor) Record(e Event) {
	e.Timestamp = time.Now().UTC()

	switch e.Stage {
	case "inbound":
		atomic.AddInt64(&m.totalInbound, 1)
	case "engine_step":
		atomic.AddInt64(&m.totalEngineSteps, 1)
	case "tool_call":
		atomic.AddInt64(&m.totalToolCalls, 1)
	case "dispatch":
		if e.Status == "ok" {
			atomic.AddInt64(&m.totalDispatches, 1)
		}
	case "outbound":
		if e.Status == "ok" {
			atomic.AddInt64(&m.totalOutbound, 1)
			if OnIncrement != nil {
				OnIncrement("processed")
			}
		}
	}

	if e.Status == "error" {
		atomic.AddInt64(&m.totalErrors, 1)
		if OnIncrement != nil {
			OnIncrement("error")
		}
	}

	m.eventsMu.Lock()
	m.events[m.idx] = e
	m.idx = (m.idx + 1) % len(m.events)
	if m.count < len(m.events) {
		m.count++
	}
	m.eventsMu.Unlock()
}

func (m *Monitor) GetStats() Stats {
	m.eventsMu.Lock()
	defer m.eventsMu.Unlock()

	res := make([]Event, 0, m.count)
	cutoff := time.Time{}
	if defaultTTL > 0 {
		cutoff = time.Now().UTC().Add(-defaultTTL)
	}
	start := (m.idx - m.count) % len(m.events)
	if start < 0 {
		start += len(m.events)
	}
	for i := 0; i < m.count; i++ {
		e := m.events[(start+i)%len(m.events)]
		if !cutoff.IsZero() && !e.Timestamp.IsZero() && e.Timestamp.Before(cutoff) {
			continue
		}
		res = append(res, e)
	}

	return Stats{
		TotalInbound:     atomic.LoadInt64(&m.totalInbound),
		TotalEngineSteps: atomic.LoadInt64(&m.totalEngineSteps),
		TotalToolCalls:   atomic.LoadInt64(&m.totalToolCalls),
		TotalOutbound:    atomic.LoadInt64(&m.totalOutbound),
		TotalDispatches:  atomic.LoadInt64(&m.totalDispatches),
		TotalErrors:      atomic.LoadInt64(&m.totalErrors),
		RecentEvents:     res,
	}
}

func envInt(name string, def int) int {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envDuration(name string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err == nil {
		return d
	}
	sec, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	if sec <= 0 {
		return 0
	}
	return time.Duration(sec) * time.Second
}

var defaultTTL time.Duration

var defaultMonitor = func() *Monitor {
	size := envInt("ACTIVITY_MONITOR_BUFFER", 200)
	defaultTTL = envDuration("ACTIVITY_MONITOR_TTL", 0)
	return New(size)
}()

func Record(e Event) {
	defaultMonitor.Record(e)
}

func GetStats() Stats {
	return defaultMonitor.GetStats()
}
