// Package diagnostics checks the health of a steward installation: the
// configuration, the durable store, and the host the runs execute on.
package diagnostics

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/stewardlabs/steward/internal/config"
	"github.com/stewardlabs/steward/internal/core"
	"github.com/stewardlabs/steward/internal/store"
)

// CheckStatus is the outcome of one check.
type CheckStatus string

const (
	CheckOK   CheckStatus = "ok"
	CheckWarn CheckStatus = "warn"
	CheckFail CheckStatus = "fail"
)

// Check is one named health probe result.
type Check struct {
	Name    string      `json:"name"`
	Status  CheckStatus `json:"status"`
	Detail  string      `json:"detail,omitempty"`
	Elapsed string      `json:"elapsed"`
}

// Report aggregates all checks of one doctor pass.
type Report struct {
	Checks  []Check `json:"checks"`
	Healthy bool    `json:"healthy"`
}

// Run performs the full checkup against the given configuration.
func Run(ctx context.Context, cfg *config.Config) *Report {
	r := &Report{Healthy: true}

	r.add(checkConfig(cfg))
	r.add(checkStoreDir(cfg))
	r.add(checkStore(ctx, cfg))
	r.add(checkDiskSpace(cfg))
	r.add(checkMemory())
	r.add(checkLoad())

	return r
}

func (r *Report) add(c Check) {
	r.Checks = append(r.Checks, c)
	if c.Status == CheckFail {
		r.Healthy = false
	}
}

func timed(name string, fn func() (CheckStatus, string)) Check {
	start := time.Now()
	status, detail := fn()
	return Check{
		Name:    name,
		Status:  status,
		Detail:  detail,
		Elapsed: time.Since(start).Round(time.Millisecond).String(),
	}
}

func checkConfig(cfg *config.Config) Check {
	return timed("config", func() (CheckStatus, string) {
		if err := cfg.Validate(); err != nil {
			return CheckFail, err.Error()
		}
		return CheckOK, fmt.Sprintf("backend=%s engine=%s", cfg.State.Backend, cfg.Runtime.Engine)
	})
}

func checkStoreDir(cfg *config.Config) Check {
	return timed("state directory", func() (CheckStatus, string) {
		dir := cfg.State.Dir
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return CheckFail, fmt.Sprintf("cannot create %s: %v", dir, err)
		}
		probe := filepath.Join(dir, ".doctor-probe")
		if err := os.WriteFile(probe, []byte("ok"), 0o600); err != nil {
			return CheckFail, fmt.Sprintf("%s is not writable: %v", dir, err)
		}
		_ = os.Remove(probe)
		return CheckOK, dir
	})
}

// checkStore opens the configured backend, writes nothing, and lists
// sessions. A corrupt run document surfaces here with its code.
func checkStore(ctx context.Context, cfg *config.Config) Check {
	return timed("state store", func() (CheckStatus, string) {
		b, err := store.ParseBackend(cfg.State.Backend)
		if err != nil {
			return CheckFail, err.Error()
		}
		st, err := store.New(b, cfg.State.Dir, store.Options{})
		if err != nil {
			return CheckFail, err.Error()
		}
		defer func() { _ = core.CloseStore(st) }()

		summaries, err := st.ListSessions(ctx)
		if err != nil {
			return CheckFail, err.Error()
		}
		return CheckOK, fmt.Sprintf("%d runs", len(summaries))
	})
}

func checkDiskSpace(cfg *config.Config) Check {
	return timed("disk space", func() (CheckStatus, string) {
		dir, err := filepath.Abs(cfg.State.Dir)
		if err != nil {
			dir = "/"
		}
		usage, err := disk.Usage(dir)
		if err != nil {
			usage, err = disk.Usage("/")
		}
		if err != nil {
			return CheckWarn, fmt.Sprintf("usage unavailable: %v", err)
		}
		detail := fmt.Sprintf("%.1f%% used, %.1f GB free",
			usage.UsedPercent, float64(usage.Free)/1024/1024/1024)
		if usage.UsedPercent > 95 {
			return CheckWarn, detail
		}
		return CheckOK, detail
	})
}

func checkMemory() Check {
	return timed("memory", func() (CheckStatus, string) {
		vm, err := mem.VirtualMemory()
		if err != nil {
			return CheckWarn, fmt.Sprintf("unavailable: %v", err)
		}
		detail := fmt.Sprintf("%.1f%% used of %.1f GB",
			vm.UsedPercent, float64(vm.Total)/1024/1024/1024)
		if vm.UsedPercent > 95 {
			return CheckWarn, detail
		}
		return CheckOK, detail
	})
}

func checkLoad() Check {
	return timed("load average", func() (CheckStatus, string) {
		avg, err := load.Avg()
		if err != nil {
			return CheckWarn, fmt.Sprintf("unavailable: %v", err)
		}
		return CheckOK, fmt.Sprintf("%.2f %.2f %.2f", avg.Load1, avg.Load5, avg.Load15)
	})
}
