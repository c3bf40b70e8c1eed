package agent

import (
	"fmt"
	"sync"
)

// ViewRegistry tracks the dashboard views currently open on the device and
// lets the click handler focus or open them.
type ViewRegistry interface {
	List() []string
	Focus(url string) error
	Open(url string) error
}

// MemoryViews is the in-process view registry. The toast relay reports view
// opens and closes through the control API; click routing reads it back.
type MemoryViews struct {
	mu   sync.Mutex
	urls []string
}

// NewMemoryViews creates an empty registry.
func NewMemoryViews() *MemoryViews {
	return &MemoryViews{}
}

// List returns the open view URLs in registration order.
func (v *MemoryViews) List() []string {
	v.mu.Lock()
	defer v.mu.Unlock()

	out := make([]string, len(v.urls))
	copy(out, v.urls)
	return out
}

// Focus brings an already-open view to the front.
func (v *MemoryViews) Focus(url string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	for i, u := range v.urls {
		if u == url {
			// Move to front, mirroring window focus order
			v.urls = append([]string{u}, append(v.urls[:i:i], v.urls[i+1:]...)...)
			return nil
		}
	}

	return fmt.Errorf("no open view for %s", url)
}

// Open registers a new view and focuses it.
func (v *MemoryViews) Open(url string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.urls = append([]string{url}, v.urls...)
	return nil
}

// Close removes a view, keeping duplicates intact.
func (v *MemoryViews) Close(url string) {
	v.mu.Lock()
	defer v.mu.Unlock()

	for i, u := range v.urls {
		if u == url {
			v.urls = append(v.urls[:i], v.urls[i+1:]...)
			return
		}
	}
}
