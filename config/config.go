/*
Package config implements a parser for OpenVPN client connection profiles
represented in the TOML format: https://github.com/toml-lang/toml.

Profiles are named TOML tables, each describing one remote to dial and
the connection parameters to use for it.

	# This is a connection profile named "home"
	[connection.home]

	# remote specifies the "host:port" address of the server to dial.
	remote = "vpn.example.com:1194"

	# protocol selects the transport. Currently supported values are
	# "udp" and "tcp".
	protocol = "udp"

	# platform and version populate the IV_PLAT/IV_VER peer-info fields
	# sent to the server during key exchange.
	platform = "linux"
	version = "2.6.0"

	# data_ciphers lists the data ciphers advertised to the server via
	# IV_CIPHERS, most preferred first.
	data_ciphers = ["AES-256-GCM", "AES-128-GCM"]

	# tls_crypt_key_file, if set, points at a 256 byte static key file
	# used to wrap the control channel's TLS handshake.
	tls_crypt_key_file = "/etc/ovpnc/tls-crypt.key"

	# server_name overrides the TLS ServerName sent during the
	# handshake. Defaults to the host part of remote.
	server_name = "vpn.example.com"

	# insecure_skip_verify disables server certificate verification.
	# Never set this outside of testing.
	insecure_skip_verify = false
*/
package config

import (
	"fmt"
	"net"
	"os"

	"github.com/openvpn-go/ovpn/ovpn"
	"github.com/pelletier/go-toml"
)

// Config contains the connection profiles parsed from a TOML file.
type Config struct {
	// The entire tree as a map as parsed from the TOML representation.
	// Apps may access this tree to handle their own config tables.
	Map map[string]interface{}
	// All the connection profiles defined in the configuration.
	Connections []NamedConnection
}

// NamedConnection pairs a profile's name with its ovpn.Config.
type NamedConnection struct {
	Name   string
	Config *ovpn.Config
}

func toBool(v interface{}) (bool, error) {
	if b, ok := v.(bool); ok {
		return b, nil
	}
	return false, fmt.Errorf("supplied value could not be parsed as a bool")
}

func toString(v interface{}) (string, error) {
	if s, ok := v.(string); ok {
		return s, nil
	}
	return "", fmt.Errorf("supplied value could not be parsed as a string")
}

// go-toml's ToMap function represents arrays as []interface{}, so string
// arrays need a value-by-value conversion pass.
func toStringSlice(v interface{}) ([]string, error) {
	raw, ok := v.([]interface{})
	if !ok {
		return nil, fmt.Errorf("expected array value")
	}
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		s, err := toString(r)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func toProtocol(v interface{}) (string, error) {
	s, err := toString(v)
	if err != nil {
		return "", err
	}
	switch s {
	case "udp", "tcp":
		return s, nil
	}
	return "", fmt.Errorf("expect 'udp' or 'tcp'")
}

func loadStaticKeyFile(path string) ([]byte, error) {
	key, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tls-crypt key file: %v", err)
	}
	return key, nil
}

// tlsCryptParams and tlsParams hold the raw profile keys prior to
// conversion into their ovpn.TLSCryptConfig/ovpn.TLSConfig counterparts.
type tlsCryptParams struct {
	keyFile string
}

type tlsParams struct {
	serverName              string
	insecureSkipVerify      bool
	useKeyMaterialExporters bool
}

func newConnectionConfig(name string, ccfg map[string]interface{}) (*NamedConnection, error) {
	nc := &NamedConnection{
		Name:   name,
		Config: &ovpn.Config{Name: name},
	}
	var tlsCrypt tlsCryptParams
	var tlsCfg tlsParams
	var haveTLSCfg bool
	for k, v := range ccfg {
		var err error
		switch k {
		case "remote":
			nc.Config.Remote, err = toString(v)
		case "protocol":
			nc.Config.Protocol, err = toProtocol(v)
		case "platform":
			nc.Config.Platform, err = toString(v)
		case "version":
			nc.Config.Version, err = toString(v)
		case "gui_version":
			nc.Config.GUIVersion, err = toString(v)
		case "data_ciphers":
			nc.Config.DataCiphers, err = toStringSlice(v)
		case "tls_crypt_key_file":
			tlsCrypt.keyFile, err = toString(v)
		case "server_name":
			haveTLSCfg = true
			tlsCfg.serverName, err = toString(v)
		case "insecure_skip_verify":
			haveTLSCfg = true
			tlsCfg.insecureSkipVerify, err = toBool(v)
		case "use_key_material_exporters":
			haveTLSCfg = true
			tlsCfg.useKeyMaterialExporters, err = toBool(v)
		default:
			return nil, fmt.Errorf("unrecognised parameter '%v'", k)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to process %v: %v", k, err)
		}
	}

	if tlsCrypt.keyFile != "" {
		key, err := loadStaticKeyFile(tlsCrypt.keyFile)
		if err != nil {
			return nil, err
		}
		nc.Config.ControlWrapper = &ovpn.TLSCryptConfig{StaticKey: key}
	}
	if haveTLSCfg || nc.Config.ControlWrapper != nil {
		if tlsCfg.serverName == "" {
			if host, _, err := net.SplitHostPort(nc.Config.Remote); err == nil {
				tlsCfg.serverName = host
			}
		}
		nc.Config.ControlCrypto = &ovpn.TLSConfig{
			ServerName:              tlsCfg.serverName,
			UseKeyMaterialExporters: tlsCfg.useKeyMaterialExporters,
			InsecureSkipVerify:      tlsCfg.insecureSkipVerify,
		}
	}

	return nc, nil
}

func (cfg *Config) loadConnections() error {
	var connections map[string]interface{}

	got, ok := cfg.Map["connection"]
	if !ok {
		return fmt.Errorf("no connection table present")
	}
	connections, ok = got.(map[string]interface{})
	if !ok {
		return fmt.Errorf("connection instances must be named, e.g. '[connection.home]'")
	}

	for name, got := range connections {
		cmap, ok := got.(map[string]interface{})
		if !ok {
			return fmt.Errorf("connection instances must be named, e.g. '[connection.home]'")
		}
		nc, err := newConnectionConfig(name, cmap)
		if err != nil {
			return fmt.Errorf("connection %v: %v", name, err)
		}
		cfg.Connections = append(cfg.Connections, *nc)
	}
	return nil
}

func newConfig(tree *toml.Tree) (*Config, error) {
	cfg := &Config{Map: tree.ToMap()}
	if err := cfg.loadConnections(); err != nil {
		return nil, fmt.Errorf("failed to parse connections: %v", err)
	}
	return cfg, nil
}

// LoadFile loads configuration from the specified file.
func LoadFile(path string) (*Config, error) {
	tree, err := toml.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config file: %v", err)
	}
	return newConfig(tree)
}

// LoadString loads configuration from the specified string.
func LoadString(content string) (*Config, error) {
	tree, err := toml.Load(content)
	if err != nil {
		return nil, fmt.Errorf("failed to load config string: %v", err)
	}
	return newConfig(tree)
}

// Find returns the named connection profile, if present.
func (cfg *Config) Find(name string) (*NamedConnection, bool) {
	for i := range cfg.Connections {
		if cfg.Connections[i].Name == name {
			return &cfg.Connections[i], true
		}
	}
	return nil, false
}
