package launcher

import (
	"context"
	"log/slog"
	"time"

	"github.com/rojlabs/roj/internal/hive"
)

// AgentLister reports the registered agents. Satisfied by the registry.
type AgentLister interface {
	Snapshot() []hive.AgentInfo
}

// StartIdleReaper stops workers whose agents have gone quiet. A worker
// counts as idle when it is past the idle timeout and no agent that
// registered under its name is working or heartbeating.
func (l *Launcher) StartIdleReaper(ctx context.Context, agents AgentLister) {
	if l.cfg.IdleTimeout == 0 {
		return
	}

	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snapshot := agents.Snapshot()
			for _, info := range l.ListRunning() {
				if !workerIdle(info, snapshot, l.cfg.IdleTimeout, time.Now()) {
					continue
				}
				slog.Info("stopping idle worker", "worker", info.Name, "timeout", l.cfg.IdleTimeout)
				if err := l.StopWorker(ctx, info.Name); err != nil {
					slog.Error("failed to stop idle worker", "worker", info.Name, "error", err)
				}
			}
		}
	}
}

func workerIdle(info WorkerInfo, agents []hive.AgentInfo, timeout time.Duration, now time.Time) bool {
	if now.Sub(info.StartedAt) < timeout {
		return false
	}
	for _, a := range agents {
		if a.Endpoint != info.Name {
			continue
		}
		if len(a.CurrentTasks) > 0 {
			return false
		}
		if now.Sub(a.LastHeartbeat) < timeout {
			return false
		}
	}
	return true
}
