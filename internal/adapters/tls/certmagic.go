// Package tls serves the API over HTTPS with certificates managed by CertMagic.
package tls

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/caddyserver/certmagic"
	"github.com/libdns/azure"
)

// Config describes the certificates to manage and the listener timeouts.
type Config struct {
	Domains      []string
	Email        string
	CacheDir     string
	Staging      bool
	DNS          DNSConfig
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DNSConfig holds Azure DNS provider configuration for DNS-01 challenges.
type DNSConfig struct {
	SubscriptionID    string
	ResourceGroupName string
	ClientID          string // user-assigned managed identity, optional
}

// Enabled reports whether DNS-01 challenges are configured.
func (c DNSConfig) Enabled() bool {
	return c.SubscriptionID != "" && c.ResourceGroupName != ""
}

// Validate reports missing domains or account email.
func (c Config) Validate() error {
	if len(c.Domains) == 0 {
		return errors.New("no certificate domains configured")
	}
	if c.Email == "" {
		return errors.New("no ACME account email configured")
	}
	return nil
}

// Server serves a handler over HTTPS.
type Server struct {
	config Config
	magic  *certmagic.Config
	server *http.Server
	logger *slog.Logger

	ctx    context.Context // scopes certificate maintenance
	cancel context.CancelFunc
}

// NewServer prepares a CertMagic configuration of its own for the domains.
// Certificates are obtained in the background once serving starts.
func NewServer(cfg Config, handler http.Handler, logger *slog.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger = logger.With("component", "tls")

	magic := certmagic.NewDefault()
	if cfg.CacheDir != "" {
		magic.Storage = &certmagic.FileStorage{Path: cfg.CacheDir}
	}

	acme := certmagic.ACMEIssuer{
		CA:     certmagic.LetsEncryptProductionCA,
		Email:  cfg.Email,
		Agreed: true,
	}
	if cfg.Staging {
		acme.CA = certmagic.LetsEncryptStagingCA
	}
	if cfg.DNS.Enabled() {
		// an empty ClientId selects the system-assigned managed identity
		acme.DNS01Solver = &certmagic.DNS01Solver{
			DNSManager: certmagic.DNSManager{
				DNSProvider: &azure.Provider{
					SubscriptionId:    cfg.DNS.SubscriptionID,
					ResourceGroupName: cfg.DNS.ResourceGroupName,
					ClientId:          cfg.DNS.ClientID,
				},
			},
		}
		logger.Info("using DNS-01 challenge", "resource_group", cfg.DNS.ResourceGroupName)
	}
	magic.Issuers = []certmagic.Issuer{certmagic.NewACMEIssuer(magic, acme)}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		config: cfg,
		magic:  magic,
		server: &http.Server{
			Handler:           handler,
			TLSConfig:         magic.TLSConfig(),
			ReadTimeout:       cfg.ReadTimeout,
			WriteTimeout:      cfg.WriteTimeout,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// ListenAndServe starts certificate management and serves HTTPS on addr
// until Shutdown.
func (s *Server) ListenAndServe(addr string) error {
	if err := s.magic.ManageAsync(s.ctx, s.config.Domains); err != nil {
		return fmt.Errorf("managing certificates: %w", err)
	}

	s.server.Addr = addr
	s.logger.Info("listening", "address", addr, "domains", s.config.Domains)
	if err := s.server.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops certificate maintenance and drains the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	return s.server.Shutdown(ctx)
}

// TLSConfig returns the configuration handed to the listener.
func (s *Server) TLSConfig() *tls.Config {
	return s.server.TLSConfig
}
