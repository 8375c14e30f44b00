package v1

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"
)

type HealthResponse struct {
	Status         string  `json:"status"`
	Version        string  `json:"version"`
	Network        string  `json:"network"`
	Contract       string  `json:"contract"`
	StoreBackend   string  `json:"store_backend"`
	SignedIn       bool    `json:"signed_in"`
	UptimeSeconds  int64   `json:"uptime_seconds"`
	CPULoadPercent float64 `json:"cpu_load_percent"`
	MemoryUsedPct  float64 `json:"memory_used_percent"`
}

// Health reports liveness plus host load. Host stats that fail to load leave their fields zero.
type Health struct {
	version  string
	network  string
	contract string
	store    string
	session  Session
	started  time.Time
	log      *zap.Logger
}

func NewHealth(version, network, contract, storeBackend string, sess Session, log *zap.Logger) *Health {
	return &Health{
		version:  version,
		network:  network,
		contract: contract,
		store:    storeBackend,
		session:  sess,
		started:  time.Now(),
		log:      log,
	}
}

func (h *Health) Handle(c *gin.Context) {
	resp := HealthResponse{
		Status:        "ok",
		Version:       h.version,
		Network:       h.network,
		Contract:      h.contract,
		StoreBackend:  h.store,
		SignedIn:      h.session.IsSignedIn(),
		UptimeSeconds: int64(time.Since(h.started).Seconds()),
	}

	if pct, err := cpu.PercentWithContext(c.Request.Context(), 0, false); err == nil && len(pct) > 0 {
		resp.CPULoadPercent = pct[0]
	} else if err != nil {
		h.log.Debug("cpu stats unavailable", zap.Error(err))
	}
	if vm, err := mem.VirtualMemoryWithContext(c.Request.Context()); err == nil {
		resp.MemoryUsedPct = vm.UsedPercent
	} else {
		h.log.Debug("memory stats unavailable", zap.Error(err))
	}

	c.JSON(http.StatusOK, resp)
}
