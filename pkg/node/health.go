// Copyright 2025 Certen Protocol
package node

import (
	"sync"
	"time"
)

// HealthStatus tracks per-component liveness for the /health endpoint,
// grounded on the teacher's root HealthStatus (consensus/database/etc
// string fields updated as components come up or degrade).
type HealthStatus struct {
	mu sync.RWMutex

	Status     string `json:"status"` // "starting", "ok", "degraded"
	Consensus  string `json:"consensus"`
	Storage    string `json:"storage"`
	Oracle     string `json:"oracle"`
	Mempool    string `json:"mempool"`
	Height     uint64 `json:"height"`
	UptimeSecs int64  `json:"uptime_seconds"`

	startedAt time.Time
}

// NewHealthStatus constructs a HealthStatus in the "starting" state.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		Status:    "starting",
		Consensus: "starting",
		Storage:   "starting",
		Oracle:    "starting",
		Mempool:   "starting",
		startedAt: time.Now(),
	}
}

func (h *HealthStatus) set(field *string, value string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	*field = value
}

// MarkReady flips every component to its healthy steady state.
func (h *HealthStatus) MarkReady() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Status = "ok"
	h.Consensus = "running"
	h.Storage = "connected"
	h.Oracle = "active"
	h.Mempool = "active"
}

// SetHeight records the latest consensus height for the snapshot.
func (h *HealthStatus) SetHeight(height uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Height = height
}

// Snapshot returns a copy of the current status safe for JSON encoding.
func (h *HealthStatus) Snapshot() HealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := *h
	out.UptimeSecs = int64(time.Since(h.startedAt).Seconds())
	return out
}
