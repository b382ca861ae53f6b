package connectivity

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/kimhsiao/ferrysync/backend/internal/logging"
)

const (
	defaultProbeInterval = 5 * time.Second
	probeTimeout         = 3 * time.Second
)

// Prober is a Source that polls the local network interfaces and an HTTP
// health endpoint, emitting a Status whenever the observation changes.
type Prober struct {
	healthURL  string
	interval   time.Duration
	client     *http.Client
	interfaces func() ([]net.Interface, error)
	logger     *logging.Logger
}

// NewProber creates a Prober. An empty healthURL treats any connected
// interface as reachable.
func NewProber(healthURL string, interval time.Duration) *Prober {
	if interval <= 0 {
		interval = defaultProbeInterval
	}
	return &Prober{
		healthURL:  healthURL,
		interval:   interval,
		client:     &http.Client{Timeout: probeTimeout},
		interfaces: net.Interfaces,
		logger:     logging.Component("prober"),
	}
}

// Probe takes a single observation.
func (p *Prober) Probe(ctx context.Context) Status {
	typ := p.connectionType()
	status := Status{Type: typ, Connected: typ != ConnectionNone}
	if !status.Connected {
		return status
	}
	status.InternetReachable = p.reachable(ctx)
	return status
}

// Subscribe starts polling and calls fn with the first observation and
// every change after it. The returned function stops polling and waits for
// the poller to exit.
func (p *Prober) Subscribe(fn func(Status)) func() {
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		var last *Status
		for {
			status := p.Probe(ctx)
			if ctx.Err() != nil {
				return
			}
			if last == nil || *last != status {
				last = &status
				fn(status)
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			wg.Wait()
		})
	}
}

func (p *Prober) connectionType() ConnectionType {
	ifaces, err := p.interfaces()
	if err != nil {
		p.logger.Warn("failed to list network interfaces: " + err.Error())
		return ConnectionUnknown
	}
	found := ConnectionNone
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		typ := classify(iface.Name)
		// Prefer a recognised medium over "other" (tunnels, bridges).
		if found == ConnectionNone || found == ConnectionOther {
			found = typ
		}
		if typ != ConnectionOther {
			return typ
		}
	}
	return found
}

func classify(name string) ConnectionType {
	switch {
	case strings.HasPrefix(name, "wl"), strings.HasPrefix(name, "wifi"):
		return ConnectionWiFi
	case strings.HasPrefix(name, "ww"), strings.HasPrefix(name, "rmnet"), strings.HasPrefix(name, "pdp_ip"):
		return ConnectionCellular
	case strings.HasPrefix(name, "en"), strings.HasPrefix(name, "eth"):
		return ConnectionEthernet
	default:
		return ConnectionOther
	}
}

func (p *Prober) reachable(ctx context.Context) bool {
	if p.healthURL == "" {
		return true
	}
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.healthURL, nil)
	if err != nil {
		p.logger.Warn("invalid health url: " + err.Error())
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Debug("health probe failed", map[string]interface{}{"error": err.Error()})
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < http.StatusInternalServerError
}
