// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package discovery locates the plant dashboard API via mDNS (multicast DNS).
//
// Plant API servers advertise themselves with the service type
// "_plantapi._tcp". Each advertisement may carry TXT records:
//   - scheme: "http" (default) or "https"
//   - path: base path prefix, e.g. "/dashboard"
//   - live_port: port serving the live event stream, when it differs
//     from the REST port
//   - id: stable server identifier
//
// # Thread Safety
//
// All scanner operations are thread-safe and use read-write locks to protect
// the internal service map.
//
// # Example Usage
//
//	scanner := discovery.NewScanner("_plantapi._tcp", "local.")
//
//	endpoint, err := scanner.Resolve(ctx, 5*time.Second)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(endpoint.BaseURL, endpoint.LiveBaseURL)
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"

	apperrors "github.com/soothill/plant-feed/pkg/errors"
	"github.com/soothill/plant-feed/pkg/interfaces"
	"github.com/soothill/plant-feed/pkg/logger"
	"github.com/soothill/plant-feed/pkg/metrics"
)

// ErrNoService is returned by Resolve when nothing answered the browse.
var ErrNoService = errors.New("no plant API service found")

// Service represents a discovered plant API server
type Service struct {
	Name      string
	Address   net.IP
	Port      int
	TXTRecord map[string]string
	Hostname  string
}

// ID returns a unique identifier for the service
func (s *Service) ID() string {
	if s.TXTRecord != nil {
		if id, ok := s.TXTRecord["id"]; ok && id != "" {
			return id
		}
	}
	return net.JoinHostPort(s.hostString(), strconv.Itoa(s.Port))
}

func (s *Service) hostString() string {
	if s.Address == nil {
		return ""
	}
	return s.Address.String()
}

func (s *Service) scheme() string {
	if strings.EqualFold(s.TXTRecord["scheme"], "https") {
		return "https"
	}
	return "http"
}

func (s *Service) path() string {
	p := strings.TrimSpace(s.TXTRecord["path"])
	if p == "" || p == "/" {
		return ""
	}
	return "/" + strings.Trim(p, "/")
}

func (s *Service) urlFor(port int) string {
	u := url.URL{
		Scheme: s.scheme(),
		Host:   net.JoinHostPort(s.hostString(), strconv.Itoa(port)),
		Path:   s.path(),
	}
	return u.String()
}

// BaseURL returns the REST base URL the service advertises
func (s *Service) BaseURL() string {
	return s.urlFor(s.Port)
}

// LiveBaseURL returns the live stream base URL. A valid live_port TXT
// record selects a separate port; otherwise the REST port is used.
func (s *Service) LiveBaseURL() string {
	if raw, ok := s.TXTRecord["live_port"]; ok {
		if port, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil && port > 0 && port <= 65535 {
			return s.urlFor(port)
		}
	}
	return s.BaseURL()
}

// Endpoint converts the service into the resolved API location
func (s *Service) Endpoint() *interfaces.Endpoint {
	return &interfaces.Endpoint{BaseURL: s.BaseURL(), LiveBaseURL: s.LiveBaseURL()}
}

// browseFunc sends entries until ctx ends and then closes the channel,
// including when it returns an error.
type browseFunc func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error

// Scanner handles plant API discovery via mDNS
type Scanner struct {
	serviceType string
	domain      string
	browse      browseFunc
	services    map[string]*Service
	mu          sync.RWMutex // Protects services map
}

var _ interfaces.EndpointResolver = (*Scanner)(nil)

// NewScanner creates a new service scanner
func NewScanner(serviceType, domain string) *Scanner {
	return &Scanner{
		serviceType: serviceType,
		domain:      domain,
		browse:      zeroconfBrowse,
		services:    make(map[string]*Service),
	}
}

func zeroconfBrowse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		close(entries)
		return fmt.Errorf("failed to create resolver: %w", err)
	}
	return resolver.Browse(ctx, service, domain, entries)
}

// Discover performs a single discovery scan and returns the services seen
// during it. The browser closes entries when the scan context ends, which
// is what lets the consumer goroutine finish.
func (s *Scanner) Discover(ctx context.Context, timeout time.Duration) ([]*Service, error) {
	start := time.Now()
	defer func() { metrics.DiscoveryDuration.Observe(time.Since(start).Seconds()) }()

	// Buffered channel to prevent blocking the resolver
	entries := make(chan *zeroconf.ServiceEntry, 10)
	discovered := make([]*Service, 0)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for entry := range entries {
			svc := parseServiceEntry(entry)
			if svc == nil {
				continue
			}
			id := svc.ID()

			s.mu.Lock()
			s.services[id] = svc
			s.mu.Unlock()

			discovered = append(discovered, svc)

			logger.Info().
				Str("service_id", id).
				Str("service_name", svc.Name).
				Str("base_url", svc.BaseURL()).
				Str("live_base_url", svc.LiveBaseURL()).
				Msg("Discovered plant API")
		}
	}()

	discoverCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := s.browse(discoverCtx, s.serviceType, s.domain, entries); err != nil {
		cancel()
		return nil, apperrors.NewDiscoveryError("browse", err)
	}

	<-discoverCtx.Done()
	wg.Wait()

	return discovered, nil
}

// Resolve browses for the API and returns the first service by name.
func (s *Scanner) Resolve(ctx context.Context, timeout time.Duration) (*interfaces.Endpoint, error) {
	services, err := s.Discover(ctx, timeout)
	if err != nil {
		return nil, err
	}
	if len(services) == 0 {
		return nil, apperrors.NewDiscoveryError("resolve", fmt.Errorf("%w: %s in %s", ErrNoService, s.serviceType, s.domain))
	}

	sort.Slice(services, func(i, j int) bool { return services[i].Name < services[j].Name })
	return services[0].Endpoint(), nil
}

// parseServiceEntry converts a zeroconf service entry to a Service
func parseServiceEntry(entry *zeroconf.ServiceEntry) *Service {
	if entry == nil {
		return nil
	}

	if len(entry.AddrIPv4) == 0 && len(entry.AddrIPv6) == 0 {
		return nil
	}
	if entry.Port <= 0 || entry.Port > 65535 {
		return nil
	}

	// Prefer IPv4, fallback to IPv6
	var addr net.IP
	if len(entry.AddrIPv4) > 0 {
		addr = entry.AddrIPv4[0]
	} else {
		addr = entry.AddrIPv6[0]
	}

	return &Service{
		Name:      entry.Instance,
		Address:   addr,
		Port:      entry.Port,
		TXTRecord: parseTXT(entry.Text),
		Hostname:  entry.HostName,
	}
}

// parseTXT splits key=value TXT strings. Keys are lowercased; entries
// without "=" are ignored and later duplicates win.
func parseTXT(records []string) map[string]string {
	txt := make(map[string]string, len(records))
	for _, record := range records {
		key, value, ok := strings.Cut(record, "=")
		if !ok || key == "" {
			continue
		}
		txt[strings.ToLower(key)] = value
	}
	return txt
}

// Services returns all discovered services
func (s *Scanner) Services() []*Service {
	s.mu.RLock()
	defer s.mu.RUnlock()

	services := make([]*Service, 0, len(s.services))
	for _, svc := range s.services {
		services = append(services, svc)
	}
	return services
}

// ServiceByID returns a service by its ID, or nil if not found
func (s *Scanner) ServiceByID(id string) *Service {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.services[id]
}
