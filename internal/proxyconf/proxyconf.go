// SPDX-License-Identifier: MIT

// Package proxyconf keeps the reverse-proxy domain configuration record.
// The nginx/certbot mechanics live behind the Provisioner interface; the
// default provisioner only records intent, so the daemon runs unchanged
// on hosts without a proxy.
package proxyconf

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/streamhib/restreamd/internal/log"
	"github.com/streamhib/restreamd/internal/session"
	"github.com/streamhib/restreamd/internal/store"
)

var domainPattern = regexp.MustCompile(`^[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// Record is the persisted domain configuration.
type Record struct {
	DomainName   string    `json:"domain_name,omitempty"`
	SSLEnabled   bool      `json:"ssl_enabled,omitempty"`
	Port         int       `json:"port,omitempty"`
	ConfiguredAt time.Time `json:"configured_at,omitzero"`
}

// Configured reports whether a domain has been set up.
func (r Record) Configured() bool { return r.DomainName != "" }

// URL renders the panel's public URL for the record, or the fallback
// when no domain is configured.
func (r Record) URL(fallback string) string {
	if !r.Configured() {
		return fallback
	}
	scheme := "http"
	if r.SSLEnabled {
		scheme = "https"
	}
	if (r.SSLEnabled && r.Port == 443) || (!r.SSLEnabled && r.Port == 80) || r.Port == 0 {
		return fmt.Sprintf("%s://%s", scheme, r.DomainName)
	}
	return fmt.Sprintf("%s://%s:%d", scheme, r.DomainName, r.Port)
}

// Provisioner applies the domain configuration to the host proxy.
type Provisioner interface {
	Apply(rec Record) error
	Remove(domain string) error
}

// noopProvisioner records intent in the log and succeeds.
type noopProvisioner struct {
	log zerolog.Logger
}

// NewNoopProvisioner returns a provisioner that only logs.
func NewNoopProvisioner() Provisioner {
	return noopProvisioner{log: log.WithComponent("proxyconf")}
}

func (p noopProvisioner) Apply(rec Record) error {
	p.log.Info().
		Str("event", "proxyconf.apply_skipped").
		Str("domain", rec.DomainName).
		Bool("ssl", rec.SSLEnabled).
		Msg("no proxy provisioner configured, recording only")
	return nil
}

func (p noopProvisioner) Remove(domain string) error {
	p.log.Info().
		Str("event", "proxyconf.remove_skipped").
		Str("domain", domain).
		Msg("no proxy provisioner configured, recording only")
	return nil
}

// Store persists the domain record and drives the provisioner.
type Store struct {
	mu   sync.Mutex
	path string
	prov Provisioner
	log  zerolog.Logger
}

// Open builds a Store over the given JSON document path.
func Open(path string, prov Provisioner) *Store {
	if prov == nil {
		prov = NewNoopProvisioner()
	}
	return &Store{
		path: path,
		prov: prov,
		log:  log.WithComponent("proxyconf"),
	}
}

// Current returns the persisted record (zero value when none).
func (s *Store) Current() (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var rec Record
	if err := store.ReadJSON(s.path, &rec); err != nil {
		return Record{}, fmt.Errorf("load domain config: %w", err)
	}
	return rec, nil
}

// Setup validates, provisions and persists a domain configuration.
func (s *Store) Setup(domain string, ssl bool, port int) (Record, error) {
	domain = strings.TrimSpace(strings.ToLower(domain))
	if domain == "" || !domainPattern.MatchString(domain) {
		return Record{}, fmt.Errorf("%w: invalid domain name %q", session.ErrInvalidInput, domain)
	}
	if port < 0 || port > 65535 {
		return Record{}, fmt.Errorf("%w: invalid port %d", session.ErrInvalidInput, port)
	}

	rec := Record{
		DomainName:   domain,
		SSLEnabled:   ssl,
		Port:         port,
		ConfiguredAt: time.Now().UTC(),
	}
	if err := s.prov.Apply(rec); err != nil {
		return Record{}, fmt.Errorf("provision domain %s: %w", domain, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := store.WriteJSON(s.path, rec); err != nil {
		return Record{}, fmt.Errorf("persist domain config: %w", err)
	}
	s.log.Info().Str("event", "proxyconf.configured").Str("domain", domain).Msg("domain configured")
	return rec, nil
}

// Clear removes the domain configuration and deprovisions the proxy.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rec Record
	if err := store.ReadJSON(s.path, &rec); err != nil {
		return fmt.Errorf("load domain config: %w", err)
	}
	if rec.Configured() {
		if err := s.prov.Remove(rec.DomainName); err != nil {
			return fmt.Errorf("deprovision domain %s: %w", rec.DomainName, err)
		}
	}
	if err := store.WriteJSON(s.path, Record{}); err != nil {
		return fmt.Errorf("persist domain config: %w", err)
	}
	s.log.Info().Str("event", "proxyconf.cleared").Str("domain", rec.DomainName).Msg("domain configuration removed")
	return nil
}
