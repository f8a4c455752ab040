package poller

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/andrewhowdencom/drip/internal/model"
	"github.com/andrewhowdencom/drip/internal/sourcer"
)

// Poller periodically checks a list of sources for updates and remembers the
// last good copy of each.
type Poller struct {
	sourcer    sourcer.Sourcer
	mu         sync.Mutex
	knownState map[string]string
	latest     map[string]*sourcer.Source
}

// New creates a new Poller.
func New(src sourcer.Sourcer) *Poller {
	return &Poller{
		sourcer:    src,
		knownState: make(map[string]string),
		latest:     make(map[string]*sourcer.Source),
	}
}

// Poll checks the sources at urls. It returns whether any of them changed
// since the last poll. A source that cannot be fetched keeps its last good
// copy.
func (p *Poller) Poll(urls []string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var (
		changed bool
		polled  int
		lastErr error
	)

	wanted := make(map[string]bool, len(urls))
	for _, url := range urls {
		wanted[url] = true
		updated, err := p.pollURL(url)
		if err != nil {
			// If a source can't be found, we log the error and continue.
			slog.Warn("error checking source", "url", url, "error", err)
			lastErr = err
			continue
		}
		polled++
		changed = changed || updated
	}

	for url := range p.latest {
		if !wanted[url] {
			delete(p.latest, url)
			delete(p.knownState, url)
			changed = true
		}
	}

	// If we failed to poll all sources, then we should return the last error we saw.
	if polled == 0 && lastErr != nil {
		return changed, fmt.Errorf("failed to poll any sources: %w", lastErr)
	}
	return changed, nil
}

func (p *Poller) pollURL(url string) (bool, error) {
	source, state, err := p.sourcer.Source(url)
	if err != nil {
		return false, err
	}

	if known, ok := p.knownState[url]; ok && known == state {
		return false, nil // No change
	}

	slog.Debug("source changed", "url", url, "state", state)
	p.knownState[url] = state
	p.latest[url] = source
	return true, nil
}

// Templates returns the templates of every known source, in the order of urls.
// Later sources override earlier ones with the same template ID.
func (p *Poller) Templates(urls []string) []model.Template {
	p.mu.Lock()
	defer p.mu.Unlock()

	var templates []model.Template
	for _, url := range urls {
		if s, ok := p.latest[url]; ok {
			templates = append(templates, s.Templates...)
		}
	}
	return templates
}
