/*
Package config loads the TOML configuration of the zmp command.

Every key is optional; keys left out keep their defaults.

	log_level = "debug"

	[registry]
	backend = "etcd"
	endpoints = ["127.0.0.1:2379"]
	lease_ttl = "10s"

	[client]
	timeout = "2s"
	retries = 3

	[[nodes]]
	name = "adder"
	services = ["add"]
*/
package config

import (
	"strings"
	"time"

	"github.com/dermesser/zmp/log"
	"github.com/dermesser/zmp/registry"
	"github.com/dermesser/zmp/securitymanager"

	"github.com/BurntSushi/toml"
	"github.com/nuclio/errors"
	"github.com/nuclio/logger"
)

const (
	BackendFile = "file"
	BackendEtcd = "etcd"

	// only usable inside one process, so not accepted from a file
	BackendMemory = "memory"
)

type RegistryConfig struct {
	Backend string

	// document path of the file backend
	Path string

	Etcd registry.EtcdConfig
}

// SecurityConfig names CURVE key files. Nodes are secured when the node key
// pair is set; clients when the client pair and the node public key are.
type SecurityConfig struct {
	NodePublicKeyFile    string
	NodePrivateKeyFile   string
	ClientPublicKeyFile  string
	ClientPrivateKeyFile string

	// public keys of the clients a node admits; empty admits any client
	AllowedClientKeys []string
}

type ClientConfig struct {
	Timeout time.Duration
	Retries int
}

type NodeConfig struct {
	Name     string
	Address  string
	Services []string
	Traces   bool
}

type Config struct {
	LogLevel string
	Registry RegistryConfig
	Security SecurityConfig
	Client   ClientConfig
	Nodes    []NodeConfig
}

type fileRegistry struct {
	Backend     string   `toml:"backend"`
	Path        string   `toml:"path"`
	Endpoints   []string `toml:"endpoints"`
	Prefix      string   `toml:"prefix"`
	DialTimeout string   `toml:"dial_timeout"`
	LeaseTTL    string   `toml:"lease_ttl"`
}

type fileSecurity struct {
	NodePublicKey     string   `toml:"node_public_key"`
	NodePrivateKey    string   `toml:"node_private_key"`
	ClientPublicKey   string   `toml:"client_public_key"`
	ClientPrivateKey  string   `toml:"client_private_key"`
	AllowedClientKeys []string `toml:"allowed_client_keys"`
}

type fileClient struct {
	Timeout string `toml:"timeout"`
	Retries int    `toml:"retries"`
}

type fileNode struct {
	Name     string   `toml:"name"`
	Address  string   `toml:"address"`
	Services []string `toml:"services"`
	Traces   bool     `toml:"traces"`
}

type fileConfig struct {
	LogLevel string       `toml:"log_level"`
	Registry fileRegistry `toml:"registry"`
	Security fileSecurity `toml:"security"`
	Client   fileClient   `toml:"client"`
	Nodes    []fileNode   `toml:"nodes"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		LogLevel: log.LevelInfo,
		Registry: RegistryConfig{
			Backend: BackendFile,
			Path:    registry.DefaultFilePath(),
			Etcd: registry.EtcdConfig{
				Prefix:      registry.DefaultEtcdPrefix,
				DialTimeout: 5 * time.Second,
			},
		},
		Client: ClientConfig{
			Timeout: 10 * time.Second,
			Retries: 2,
		},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return nil, errors.Wrapf(err, "Failed to load config from %s", path)
	}

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, errors.Errorf("Unknown config key %s in %s", undecoded[0].String(), path)
	}

	if err := cfg.overlay(meta, &raw); err != nil {
		return nil, errors.Wrapf(err, "Invalid config %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrapf(err, "Invalid config %s", path)
	}
	return cfg, nil
}

func (c *Config) overlay(meta toml.MetaData, raw *fileConfig) error {
	if meta.IsDefined("log_level") {
		c.LogLevel = strings.ToLower(strings.TrimSpace(raw.LogLevel))
	}

	if meta.IsDefined("registry", "backend") {
		c.Registry.Backend = strings.ToLower(strings.TrimSpace(raw.Registry.Backend))
	}
	if meta.IsDefined("registry", "path") {
		c.Registry.Path = strings.TrimSpace(raw.Registry.Path)
	}
	if meta.IsDefined("registry", "endpoints") {
		c.Registry.Etcd.Endpoints = normalize(raw.Registry.Endpoints)
	}
	if meta.IsDefined("registry", "prefix") {
		c.Registry.Etcd.Prefix = strings.TrimSpace(raw.Registry.Prefix)
	}
	if meta.IsDefined("registry", "dial_timeout") {
		d, err := parseDuration("registry.dial_timeout", raw.Registry.DialTimeout)
		if err != nil {
			return err
		}
		c.Registry.Etcd.DialTimeout = d
	}
	if meta.IsDefined("registry", "lease_ttl") {
		d, err := parseDuration("registry.lease_ttl", raw.Registry.LeaseTTL)
		if err != nil {
			return err
		}
		c.Registry.Etcd.LeaseTTL = d
	}

	if meta.IsDefined("security", "node_public_key") {
		c.Security.NodePublicKeyFile = strings.TrimSpace(raw.Security.NodePublicKey)
	}
	if meta.IsDefined("security", "node_private_key") {
		c.Security.NodePrivateKeyFile = strings.TrimSpace(raw.Security.NodePrivateKey)
	}
	if meta.IsDefined("security", "client_public_key") {
		c.Security.ClientPublicKeyFile = strings.TrimSpace(raw.Security.ClientPublicKey)
	}
	if meta.IsDefined("security", "client_private_key") {
		c.Security.ClientPrivateKeyFile = strings.TrimSpace(raw.Security.ClientPrivateKey)
	}
	if meta.IsDefined("security", "allowed_client_keys") {
		c.Security.AllowedClientKeys = normalize(raw.Security.AllowedClientKeys)
	}

	if meta.IsDefined("client", "timeout") {
		d, err := parseDuration("client.timeout", raw.Client.Timeout)
		if err != nil {
			return err
		}
		c.Client.Timeout = d
	}
	if meta.IsDefined("client", "retries") {
		c.Client.Retries = raw.Client.Retries
	}

	for _, node := range raw.Nodes {
		c.Nodes = append(c.Nodes, NodeConfig{
			Name:     strings.TrimSpace(node.Name),
			Address:  strings.TrimSpace(node.Address),
			Services: normalize(node.Services),
			Traces:   node.Traces,
		})
	}
	return nil
}

// Validate checks values the file format cannot.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case log.LevelError, log.LevelWarn, log.LevelInfo, log.LevelDebug:
	default:
		return errors.Errorf("Invalid log level %q", c.LogLevel)
	}

	switch c.Registry.Backend {
	case BackendFile:
		if c.Registry.Path == "" {
			return errors.New("The file registry needs a path")
		}
	case BackendEtcd:
		if len(c.Registry.Etcd.Endpoints) == 0 {
			return errors.New("The etcd registry needs at least one endpoint")
		}
	case BackendMemory:
		return errors.New("The memory registry cannot be shared between processes")
	default:
		return errors.Errorf("Unknown registry backend %q", c.Registry.Backend)
	}

	if c.Client.Timeout <= 0 {
		return errors.New("Client timeout must be positive")
	}
	if c.Client.Retries < 0 {
		return errors.New("Client retries must not be negative")
	}

	names := map[string]bool{}
	for i, node := range c.Nodes {
		if node.Name == "" {
			return errors.Errorf("Node %d has no name", i)
		}
		if names[node.Name] {
			return errors.Errorf("Node %s is configured twice", node.Name)
		}
		names[node.Name] = true
	}
	return nil
}

// OpenRegistry connects to the configured registry backend.
func (c *Config) OpenRegistry(parentLogger logger.Logger) (registry.Registry, error) {
	switch c.Registry.Backend {
	case BackendFile:
		file, err := registry.NewFile(parentLogger, c.Registry.Path)
		if err != nil {
			return nil, err
		}
		return file, nil
	case BackendEtcd:
		etcd, err := registry.NewEtcd(parentLogger, c.Registry.Etcd)
		if err != nil {
			return nil, err
		}
		return etcd, nil
	}
	return nil, errors.Errorf("Cannot open a %q registry", c.Registry.Backend)
}

// NodeSecurity returns the node security manager, or nil when no node key
// pair is configured.
func (c *Config) NodeSecurity() (*securitymanager.NodeSecurityManager, error) {
	if c.Security.NodePublicKeyFile == "" && c.Security.NodePrivateKeyFile == "" {
		return nil, nil
	}

	security, err := securitymanager.NewNodeSecurityManager()
	if err != nil {
		return nil, err
	}
	if err := security.LoadKeys(c.Security.NodePublicKeyFile, c.Security.NodePrivateKeyFile); err != nil {
		return nil, errors.Wrap(err, "Failed to load node keys")
	}
	security.AddClientKeys(c.Security.AllowedClientKeys...)
	return security, nil
}

// ClientSecurity returns the client security manager, or nil when no client
// key pair is configured.
func (c *Config) ClientSecurity() (*securitymanager.ClientSecurityManager, error) {
	if c.Security.ClientPublicKeyFile == "" && c.Security.ClientPrivateKeyFile == "" {
		return nil, nil
	}
	if c.Security.NodePublicKeyFile == "" {
		return nil, errors.New("A secured client needs the node public key")
	}

	security, err := securitymanager.NewClientSecurityManager()
	if err != nil {
		return nil, err
	}
	if err := security.LoadKeys(c.Security.ClientPublicKeyFile, c.Security.ClientPrivateKeyFile); err != nil {
		return nil, errors.Wrap(err, "Failed to load client keys")
	}
	if err := security.LoadNodePublicKey(c.Security.NodePublicKeyFile); err != nil {
		return nil, errors.Wrap(err, "Failed to load node public key")
	}
	return security, nil
}

// Node returns the node named name.
func (c *Config) Node(name string) (NodeConfig, bool) {
	for _, node := range c.Nodes {
		if node.Name == name {
			return node, true
		}
	}
	return NodeConfig{}, false
}

func parseDuration(key, value string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return 0, errors.Wrapf(err, "Failed to parse %s", key)
	}
	return d, nil
}

func normalize(in []string) []string {
	out := make([]string, 0, len(in))
	for _, value := range in {
		if value = strings.TrimSpace(value); value != "" {
			out = append(out, value)
		}
	}
	return out
}
