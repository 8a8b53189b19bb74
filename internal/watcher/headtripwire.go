package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// HeadTripwire polls .git/HEAD (resolving one level of "ref:
// refs/heads/..." indirection to the referenced ref file) and signals
// on Changed() whenever the resolved commit changes. It catches
// branch switches and checkouts that land outside the normal file
// watcher's view, such as a `git checkout` that touches many files
// faster than fsnotify/polling can debounce, or a bare ref update.
type HeadTripwire struct {
	gitDir   string
	interval time.Duration
	changed  chan struct{}
	stopCh   chan struct{}
	last     string
}

// NewHeadTripwire creates a tripwire watching the .git directory under
// root, polling every interval. It is a no-op if root has no .git
// directory.
func NewHeadTripwire(root string, interval time.Duration) *HeadTripwire {
	return &HeadTripwire{
		gitDir:   filepath.Join(root, ".git"),
		interval: interval,
		changed:  make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
	}
}

// Changed delivers a signal each time the resolved HEAD commit
// changes. Sends are non-blocking and coalesce: a consumer slow to
// drain the channel only sees one pending signal, not one per poll.
func (h *HeadTripwire) Changed() <-chan struct{} {
	return h.changed
}

// Run polls until ctx is cancelled or Stop is called.
func (h *HeadTripwire) Run(ctx context.Context) {
	if _, err := os.Stat(h.gitDir); err != nil {
		return
	}
	h.last = h.resolve()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stopCh:
			return
		case <-ticker.C:
			current := h.resolve()
			if current != "" && current != h.last {
				h.last = current
				select {
				case h.changed <- struct{}{}:
				default:
				}
			}
		}
	}
}

// Stop halts the polling loop.
func (h *HeadTripwire) Stop() {
	select {
	case <-h.stopCh:
	default:
		close(h.stopCh)
	}
}

// resolve reads .git/HEAD and, when it is a symbolic ref, follows one
// level of indirection to the packed or loose ref it names. Returns
// the raw commit hash (or ref contents) it ultimately finds, or ""
// if HEAD cannot be read.
func (h *HeadTripwire) resolve() string {
	data, err := os.ReadFile(filepath.Join(h.gitDir, "HEAD"))
	if err != nil {
		return ""
	}
	content := strings.TrimSpace(string(data))

	ref, ok := strings.CutPrefix(content, "ref: ")
	if !ok {
		return content
	}

	if refData, err := os.ReadFile(filepath.Join(h.gitDir, ref)); err == nil {
		return strings.TrimSpace(string(refData))
	}

	// Loose ref file absent; fall back to packed-refs.
	packed, err := os.ReadFile(filepath.Join(h.gitDir, "packed-refs"))
	if err != nil {
		return content
	}
	for _, line := range strings.Split(string(packed), "\n") {
		if strings.HasSuffix(line, " "+ref) {
			fields := strings.Fields(line)
			if len(fields) == 2 {
				return fields[0]
			}
		}
	}
	return content
}
