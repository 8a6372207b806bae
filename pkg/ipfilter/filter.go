// Package ipfilter implements the IP abuse filter described in spec §4.8:
// an allowlist, a banlist with absolute deadlines, and a flaglist of
// decaying soft-penalty counters that escalate to an automatic ban.
package ipfilter

import (
	"encoding/json"
	"errors"
	"net"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/docvault/engine/pkg/metrics"
)

// Permanent marks a ban with no expiry.
const Permanent = -1

const autoBanDuration = time.Hour

type banEntry struct {
	// DeadlineUnix is the ban's absolute deadline in Unix seconds, or
	// Permanent if the ban never expires.
	DeadlineUnix int64 `json:"deadline_unix"`
}

// Filter is the IP abuse filter. All state is guarded by mu; the decay and
// cleaner background tasks run until Stop is called.
type Filter struct {
	mu         sync.Mutex
	allow      map[string]struct{}
	bans       map[string]banEntry
	flags      map[string]int
	banAfter   func() int
	logger     *zap.Logger
	path       string
	stopCh     chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
}

// New creates an IP filter. banAfter is read on every flag so that §5's
// shared "process-wide atomic, adjustable by admin actions" semantics hold.
func New(logger *zap.Logger, banAfter func() int) *Filter {
	return &Filter{
		allow:    make(map[string]struct{}),
		bans:     make(map[string]banEntry),
		flags:    make(map[string]int),
		banAfter: banAfter,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// Load restores persisted state from config/ipbanmanager (§6). A missing
// file is not an error.
func Load(path string, logger *zap.Logger, banAfter func() int) (*Filter, error) {
	f := New(logger, banAfter)
	f.path = path

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return f, nil
	}
	if err != nil {
		return nil, err
	}

	var snapshot struct {
		Allow []string            `json:"allow"`
		Bans  map[string]banEntry `json:"bans"`
		Flags map[string]int      `json:"flags"`
	}
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, err
	}
	for _, ip := range snapshot.Allow {
		f.allow[ip] = struct{}{}
	}
	if snapshot.Bans != nil {
		f.bans = snapshot.Bans
	}
	if snapshot.Flags != nil {
		f.flags = snapshot.Flags
	}
	return f, nil
}

// Save persists state to disk, if the filter was loaded from a file.
func (f *Filter) Save() error {
	if f.path == "" {
		return nil
	}
	f.mu.Lock()
	snapshot := struct {
		Allow []string            `json:"allow"`
		Bans  map[string]banEntry `json:"bans"`
		Flags map[string]int      `json:"flags"`
	}{
		Bans:  f.bans,
		Flags: f.flags,
	}
	for ip := range f.allow {
		snapshot.Allow = append(snapshot.Allow, ip)
	}
	f.mu.Unlock()

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(f.path, data, 0o600)
}

// ValidIP reports whether s parses as an IPv4 or IPv6 literal.
func ValidIP(s string) bool {
	return net.ParseIP(s) != nil
}

// IsAllowed reports whether ip is on the allowlist, exempt from any penalty.
func (f *Filter) IsAllowed(ip string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.allow[ip]
	return ok
}

// Allow adds ip to the allowlist and clears any existing ban/flag state.
func (f *Filter) Allow(ip string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.allow[ip] = struct{}{}
	delete(f.bans, ip)
	delete(f.flags, ip)
}

// IsBanned reports whether ip is currently banned.
func (f *Filter) IsBanned(ip string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.isBannedLocked(ip, time.Now())
}

func (f *Filter) isBannedLocked(ip string, now time.Time) bool {
	entry, ok := f.bans[ip]
	if !ok {
		return false
	}
	if entry.DeadlineUnix == Permanent {
		return true
	}
	return time.Unix(entry.DeadlineUnix, 0).After(now)
}

// Ban bans ip for duration; duration <= 0 means permanent.
func (f *Filter) Ban(ip string, duration time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, allowed := f.allow[ip]; allowed {
		return
	}
	f.bans[ip] = banEntry{DeadlineUnix: deadline(duration)}
	metrics.BanEvents.WithLabelValues("manual").Inc()
}

func deadline(duration time.Duration) int64 {
	if duration <= 0 {
		return Permanent
	}
	return time.Now().Add(duration).Unix()
}

// ExtendBan pushes an existing ban's deadline forward by delta. A
// permanent ban is left permanent.
func (f *Filter) ExtendBan(ip string, delta time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.bans[ip]
	if !ok {
		return errors.New("ip is not banned")
	}
	if entry.DeadlineUnix == Permanent {
		return nil
	}
	entry.DeadlineUnix += int64(delta.Seconds())
	f.bans[ip] = entry
	return nil
}

// Unban removes any ban on ip.
func (f *Filter) Unban(ip string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.bans, ip)
}

// IsFlagged reports whether ip has a non-zero flag count.
func (f *Filter) IsFlagged(ip string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.flags[ip] > 0
}

// Flag increments ip's flag counter; a no-op for allowlisted IPs. When the
// counter reaches banAfter, ip is auto-banned for one hour.
func (f *Filter) Flag(ip string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, allowed := f.allow[ip]; allowed {
		return
	}

	f.flags[ip]++
	threshold := 10
	if f.banAfter != nil {
		if v := f.banAfter(); v > 0 {
			threshold = v
		}
	}

	if f.flags[ip] >= threshold {
		f.bans[ip] = banEntry{DeadlineUnix: deadline(autoBanDuration)}
		f.flags[ip] = 0
		metrics.BanEvents.WithLabelValues("auto").Inc()
		if f.logger != nil {
			f.logger.Warn("ip auto-banned after flag threshold", zap.String("ip", ip), zap.Int("threshold", threshold))
		}
	}
}

// StartBackgroundTasks launches the decay (once a minute) and cleaner
// (once a second) loops described in §4.8. Call Stop to terminate
// them.
func (f *Filter) StartBackgroundTasks() {
	f.wg.Add(2)
	go f.decayLoop()
	go f.cleanerLoop()
}

// Stop terminates the background tasks and waits for them to exit.
func (f *Filter) Stop() {
	f.stopOnce.Do(func() { close(f.stopCh) })
	f.wg.Wait()
}

func (f *Filter) decayLoop() {
	defer f.wg.Done()
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-f.stopCh:
			return
		case <-ticker.C:
			f.decayOnce()
		}
	}
}

func (f *Filter) decayOnce() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for ip, count := range f.flags {
		if count <= 1 {
			delete(f.flags, ip)
			continue
		}
		f.flags[ip] = count - 1
	}
}

func (f *Filter) cleanerLoop() {
	defer f.wg.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-f.stopCh:
			return
		case <-ticker.C:
			f.cleanOnce()
		}
	}
}

func (f *Filter) cleanOnce() {
	now := time.Now()
	f.mu.Lock()
	defer f.mu.Unlock()
	for ip, entry := range f.bans {
		if entry.DeadlineUnix == Permanent {
			continue
		}
		if !time.Unix(entry.DeadlineUnix, 0).After(now) {
			delete(f.bans, ip)
		}
	}
}
