package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-station/internal/model"
	"github.com/stemsi/exstem-station/internal/service"
)

const (
	diagnosticsInterval = 5 * time.Second
	backlogTimeout      = time.Second
)

// QueueBacklog reports how much work the background workers still owe.
type QueueBacklog interface {
	Backlog(ctx context.Context) (model.QueueBacklog, error)
}

// SystemHandler streams station diagnostics via SSE so an invigilator can
// see at a glance whether answers and results are still leaving the kiosk.
type SystemHandler struct {
	queues    QueueBacklog
	station   *service.StationService
	startTime time.Time
	diskPath  string
	log       zerolog.Logger
}

// NewSystemHandler creates a new SystemHandler.
func NewSystemHandler(queues QueueBacklog, station *service.StationService, log zerolog.Logger) *SystemHandler {
	return &SystemHandler{
		queues:    queues,
		station:   station,
		startTime: time.Now(),
		diskPath:  "/",
		log:       log.With().Str("component", "system_handler").Logger(),
	}
}

// ---------- SSE Endpoint ----------

type stationDiagnostics struct {
	Timestamp int64  `json:"timestamp"`
	Uptime    string `json:"uptime"`

	// Attempt
	Phase            model.Phase `json:"phase"`
	RemainingSeconds int         `json:"remaining_seconds"`
	FailedAnswers    int64       `json:"failed_answers"`

	// Worker queues; nil when Redis could not be reached.
	Backlog *model.QueueBacklog `json:"backlog"`

	// Host
	DiskFreeBytes uint64 `json:"disk_free_bytes"`
	AppRSSBytes   uint64 `json:"app_rss_bytes"`

	// Go runtime
	Goroutines int    `json:"goroutines"`
	HeapAlloc  uint64 `json:"heap_alloc"`
	NumGC      uint32 `json:"num_gc"`
	GoVersion  string `json:"go_version"`
}

// DiagnosticsSSE godoc
// GET /api/v1/station/diagnostics
func (h *SystemHandler) DiagnosticsSSE(c *gin.Context) {
	reqCtx := c.Request.Context()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Status(http.StatusOK)

	h.log.Debug().Msg("Diagnostics stream opened")

	ticker := time.NewTicker(diagnosticsInterval)
	defer ticker.Stop()

	if err := h.writeDiagnostics(reqCtx, c.Writer); err != nil {
		return
	}

	for {
		select {
		case <-reqCtx.Done():
			h.log.Debug().Msg("Diagnostics stream closed")
			return
		case <-ticker.C:
			if err := h.writeDiagnostics(reqCtx, c.Writer); err != nil {
				return
			}
		}
	}
}

func (h *SystemHandler) writeDiagnostics(ctx context.Context, w gin.ResponseWriter) error {
	data, err := json.Marshal(h.collect(ctx))
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	w.Flush()
	return nil
}

func (h *SystemHandler) collect(ctx context.Context) stationDiagnostics {
	view := h.station.Controller().View()

	d := stationDiagnostics{
		Timestamp:        time.Now().Unix(),
		Uptime:           formatDuration(time.Since(h.startTime)),
		Phase:            view.Phase,
		RemainingSeconds: view.RemainingSeconds,
		FailedAnswers:    view.FailedAnswers,
		GoVersion:        runtime.Version(),
	}

	if h.queues != nil {
		bctx, cancel := context.WithTimeout(ctx, backlogTimeout)
		backlog, err := h.queues.Backlog(bctx)
		cancel()
		if err != nil {
			h.log.Warn().Err(err).Msg("Queue backlog unavailable")
		} else {
			d.Backlog = &backlog
		}
	}

	// ── Disk ──
	d.DiskFreeBytes, _ = readDiskFree(h.diskPath)

	// ── Go Runtime ──
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	d.Goroutines = runtime.NumGoroutine()
	d.HeapAlloc = ms.HeapAlloc
	d.NumGC = ms.NumGC

	// ── App RSS ──
	d.AppRSSBytes, _ = readProcessRSS()

	return d
}

// ---------- Host Readers ----------

// readDiskFree uses syscall.Statfs to get the bytes available to the station.
func readDiskFree(path string) (uint64, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return 0, err
	}
	return stat.Bavail * uint64(stat.Bsize), nil
}

// readProcessRSS reads VmRSS from /proc/self/status.
func readProcessRSS() (uint64, error) {
	f, err := os.Open("/proc/self/status")
	if err != nil {
		return 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "VmRSS:") {
			// Format: "VmRSS:     12345 kB"
			fields := strings.Fields(line)
			if len(fields) < 2 {
				break
			}
			kb, err := strconv.ParseUint(fields[1], 10, 64)
			if err != nil {
				return 0, err
			}
			return kb * 1024, nil
		}
	}
	return 0, fmt.Errorf("VmRSS not found")
}

// ---------- Helpers ----------

func formatDuration(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	return fmt.Sprintf("%dm %ds", minutes, seconds)
}
