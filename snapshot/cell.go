// Package snapshot holds the shared, lock-guarded status cell written by the
// refresh loop and read by the renderer and the status endpoint.
package snapshot

import (
	"sync"
	"time"

	"github.com/wolfeidau/seedkeeper"
)

// Freshness records which sources were refreshed on the most recent tick.
type Freshness uint8

const (
	// LocalFresh is set when the daemon session stats were updated.
	LocalFresh Freshness = 1 << 0
	// RemoteFresh is set when the tracker account status was updated.
	RemoteFresh Freshness = 1 << 1

	// AllFresh has both bits set.
	AllFresh = LocalFresh | RemoteFresh
)

// Has reports whether every bit in f is set.
func (m Freshness) Has(f Freshness) bool {
	return m&f == f
}

// String returns a two character form, remote bit first ("RL", "-L", "R-", "--").
func (m Freshness) String() string {
	b := []byte("--")
	if m.Has(RemoteFresh) {
		b[0] = 'R'
	}
	if m.Has(LocalFresh) {
		b[1] = 'L'
	}
	return string(b)
}

// Snapshot is a consistent copy of the cell's contents. Local and Remote are
// nil until the first successful fetch of that source.
type Snapshot struct {
	Local  *seedkeeper.SessionStats  `json:"local,omitempty"`
	Remote *seedkeeper.AccountStatus `json:"remote,omitempty"`
	Mask   Freshness                 `json:"mask"`

	// LocalAt and RemoteAt are when the stored values were fetched.
	LocalAt  time.Time `json:"local_at,omitzero"`
	RemoteAt time.Time `json:"remote_at,omitzero"`

	// Host is the keeper's own machine. It is outside the freshness mask.
	Host   *seedkeeper.HostStatus `json:"host,omitempty"`
	HostAt time.Time              `json:"host_at,omitzero"`
}

// Cell guards the latest Snapshot with a single reader/writer lock.
// Each stored value is replaced wholesale; readers always get copies.
type Cell struct {
	now func() time.Time

	mu       sync.RWMutex
	local    *seedkeeper.SessionStats
	remote   *seedkeeper.AccountStatus
	mask     Freshness
	localAt  time.Time
	remoteAt time.Time
	host     *seedkeeper.HostStatus
	hostAt   time.Time
}

// Option configures a Cell.
type Option func(*Cell)

// WithNow sets the time function used to stamp writes.
func WithNow(now func() time.Time) Option {
	return func(c *Cell) {
		c.now = now
	}
}

// New creates an empty cell.
func New(opts ...Option) *Cell {
	c := &Cell{now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Write replaces local, remote and the freshness mask in one critical
// section. A nil value clears that field. The fetch timestamp of a value is
// only advanced when its freshness bit is set.
func (c *Cell) Write(local *seedkeeper.SessionStats, remote *seedkeeper.AccountStatus, mask Freshness) {
	local = cloneLocal(local)
	remote = cloneRemote(remote)
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.local = local
	c.remote = remote
	c.mask = mask & AllFresh
	switch {
	case local == nil:
		c.localAt = time.Time{}
	case mask.Has(LocalFresh):
		c.localAt = now
	}
	switch {
	case remote == nil:
		c.remoteAt = time.Time{}
	case mask.Has(RemoteFresh):
		c.remoteAt = now
	}
}

// WriteHost replaces the stored host status wholesale.
func (c *Cell) WriteHost(host seedkeeper.HostStatus) {
	cp := host.Clone()
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.host = &cp
	c.hostAt = now
}

// ReadLocal returns the stored session stats, if any.
func (c *Cell) ReadLocal() (seedkeeper.SessionStats, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.local == nil {
		return seedkeeper.SessionStats{}, false
	}
	return *c.local, true
}

// ReadRemote returns the stored account status, if any.
func (c *Cell) ReadRemote() (seedkeeper.AccountStatus, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.remote == nil {
		return seedkeeper.AccountStatus{}, false
	}
	return *c.remote, true
}

// ReadMask returns the freshness mask of the most recent write.
func (c *Cell) ReadMask() Freshness {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mask
}

// Read returns a copy of the whole snapshot taken under one lock.
func (c *Cell) Read() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Snapshot{
		Local:    cloneLocal(c.local),
		Remote:   cloneRemote(c.remote),
		Mask:     c.mask,
		LocalAt:  c.localAt,
		RemoteAt: c.remoteAt,
		Host:     cloneHost(c.host),
		HostAt:   c.hostAt,
	}
}

func cloneLocal(v *seedkeeper.SessionStats) *seedkeeper.SessionStats {
	if v == nil {
		return nil
	}
	cp := *v
	return &cp
}

func cloneRemote(v *seedkeeper.AccountStatus) *seedkeeper.AccountStatus {
	if v == nil {
		return nil
	}
	cp := *v
	return &cp
}

func cloneHost(v *seedkeeper.HostStatus) *seedkeeper.HostStatus {
	if v == nil {
		return nil
	}
	cp := v.Clone()
	return &cp
}
