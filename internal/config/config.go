// Package config loads the toolkit configuration from YAML.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/alanta/keyvault-ca-sub000/internal/kv"
)

// Defaults applied when the file omits a value.
const (
	DefaultListen       = ":8080"
	DefaultDatabasePath = "revocations.db"
	DefaultOCSPValidity = 24 * time.Hour
	DefaultCRLValidity  = 7 * 24 * time.Hour
)

// configYAML is the YAML representation of a Config.
type configYAML struct {
	Server struct {
		Listen string `yaml:"listen"`
	} `yaml:"server"`

	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	Issuer referenceYAML `yaml:"issuer"`

	OCSP struct {
		Signer   referenceYAML `yaml:"signer"`
		Validity string        `yaml:"validity"` // e.g. "24h" or "7d"
	} `yaml:"ocsp"`

	CRL struct {
		Validity string `yaml:"validity"`
	} `yaml:"crl"`
}

type referenceYAML struct {
	Vault string `yaml:"vault"`
	Name  string `yaml:"name"`
}

// Config is the parsed and validated configuration.
type Config struct {
	Listen       string
	DatabasePath string

	// Issuer is the custody reference of the issuing CA certificate.
	Issuer kv.Reference

	// OCSPSigner is the custody reference of the delegated OCSP
	// signing certificate.
	OCSPSigner   kv.Reference
	OCSPValidity time.Duration

	CRLValidity time.Duration
}

// LoadFromFile reads and parses the configuration at path.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes parses configuration from YAML bytes.
func LoadFromBytes(data []byte) (*Config, error) {
	var cy configYAML
	if err := yaml.Unmarshal(data, &cy); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	cfg := &Config{
		Listen:       cy.Server.Listen,
		DatabasePath: cy.Database.Path,
		Issuer:       kv.Reference{Vault: cy.Issuer.Vault, Name: cy.Issuer.Name},
		OCSPSigner:   kv.Reference{Vault: cy.OCSP.Signer.Vault, Name: cy.OCSP.Signer.Name},
		OCSPValidity: DefaultOCSPValidity,
		CRLValidity:  DefaultCRLValidity,
	}
	if cfg.Listen == "" {
		cfg.Listen = DefaultListen
	}
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = DefaultDatabasePath
	}
	if cy.OCSP.Validity != "" {
		d, err := parseDuration(cy.OCSP.Validity)
		if err != nil {
			return nil, fmt.Errorf("ocsp.validity: %w", err)
		}
		cfg.OCSPValidity = d
	}
	if cy.CRL.Validity != "" {
		d, err := parseDuration(cy.CRL.Validity)
		if err != nil {
			return nil, fmt.Errorf("crl.validity: %w", err)
		}
		cfg.CRLValidity = d
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Issuer.Vault == "" || c.Issuer.Name == "" {
		return fmt.Errorf("issuer.vault and issuer.name are required")
	}
	// The OCSP signer defaults to the issuer's own namespace.
	if c.OCSPSigner.Vault == "" {
		c.OCSPSigner.Vault = c.Issuer.Vault
	}
	if c.OCSPValidity <= 0 || c.CRLValidity <= 0 {
		return fmt.Errorf("validity windows must be positive")
	}
	return nil
}

// parseDuration accepts Go duration strings plus a "d" suffix for days.
func parseDuration(s string) (time.Duration, error) {
	if strings.HasSuffix(s, "d") {
		days, err := strconv.Atoi(strings.TrimSuffix(s, "d"))
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		return time.Duration(days) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return d, nil
}
