package config

import (
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/cybroslabs/libdlms-engine/base"
	"github.com/cybroslabs/libdlms-engine/ciphering"
	"github.com/cybroslabs/libdlms-engine/serial"
	"github.com/cybroslabs/libdlms-engine/settings"
	"github.com/cybroslabs/libdlms-engine/tcp"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"k8s.io/utils/ptr"
)

const envPrefix = "DLMS"

// Profile describes one meter connection.
type Profile struct {
	Interface         string          `mapstructure:"interface" toml:"interface"` // hdlc, wrapper
	ClientAddress     int             `mapstructure:"client_address" toml:"client_address"`
	ServerAddress     int             `mapstructure:"server_address" toml:"server_address"`
	ServerAddressSize int             `mapstructure:"server_address_size" toml:"server_address_size,omitzero"`
	LogicalName       *bool           `mapstructure:"logical_name" toml:"logical_name"`
	MaxPDUSize        *uint16         `mapstructure:"max_pdu_size" toml:"max_pdu_size"`
	Authentication    string          `mapstructure:"authentication" toml:"authentication"` // none, low, high, high-gmac...
	Password          string          `mapstructure:"password" toml:"password,omitempty"`
	HDLC              HDLCConfig      `mapstructure:"hdlc" toml:"hdlc"`
	Security          SecurityConfig  `mapstructure:"security" toml:"security"`
	Transport         TransportConfig `mapstructure:"transport" toml:"transport"`
	Log               LogConfig       `mapstructure:"log" toml:"log"`
}

type HDLCConfig struct {
	MaxInfoTX uint16 `mapstructure:"max_info_tx" toml:"max_info_tx"`
	MaxInfoRX uint16 `mapstructure:"max_info_rx" toml:"max_info_rx"`
	Window    byte   `mapstructure:"window" toml:"window"`
}

// SecurityConfig keys and titles are hex encoded.
type SecurityConfig struct {
	Level             string `mapstructure:"level" toml:"level"` // none, authentication, encryption, authentication-encryption
	SystemTitle       string `mapstructure:"system_title" toml:"system_title,omitempty"`
	ServerSystemTitle string `mapstructure:"server_system_title" toml:"server_system_title,omitempty"`
	EncryptionKey     string `mapstructure:"encryption_key" toml:"encryption_key,omitempty"`
	AuthenticationKey string `mapstructure:"authentication_key" toml:"authentication_key,omitempty"`
	InvocationCounter uint32 `mapstructure:"invocation_counter" toml:"invocation_counter,omitzero"`
}

type TransportConfig struct {
	Type    string        `mapstructure:"type" toml:"type"` // tcp, serial
	Timeout time.Duration `mapstructure:"timeout" toml:"timeout"`
	TCP     TCPConfig     `mapstructure:"tcp" toml:"tcp"`
	Serial  SerialConfig  `mapstructure:"serial" toml:"serial"`
}

type TCPConfig struct {
	Address string `mapstructure:"address" toml:"address,omitempty"` // e.g. "192.168.1.100:4059"
}

type SerialConfig struct {
	Device   string `mapstructure:"device" toml:"device,omitempty"`
	BaudRate int    `mapstructure:"baud_rate" toml:"baud_rate"`
	DataBits int    `mapstructure:"data_bits" toml:"data_bits"`
	Parity   string `mapstructure:"parity" toml:"parity"` // N, O, E, M, S
	StopBits int    `mapstructure:"stop_bits" toml:"stop_bits"`
}

type LogConfig struct {
	Level string `mapstructure:"level" toml:"level"` // debug, info, warn, error
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("interface", "hdlc")
	v.SetDefault("client_address", 0x10)
	v.SetDefault("server_address", 1)
	v.SetDefault("server_address_size", 0)
	v.SetDefault("authentication", "none")
	v.SetDefault("password", "")
	v.SetDefault("hdlc.max_info_tx", 128)
	v.SetDefault("hdlc.max_info_rx", 128)
	v.SetDefault("hdlc.window", 1)
	v.SetDefault("security.level", "none")
	v.SetDefault("security.system_title", "")
	v.SetDefault("security.server_system_title", "")
	v.SetDefault("security.encryption_key", "")
	v.SetDefault("security.authentication_key", "")
	v.SetDefault("security.invocation_counter", 0)
	v.SetDefault("transport.type", "tcp")
	v.SetDefault("transport.timeout", 5*time.Second)
	v.SetDefault("transport.tcp.address", "")
	v.SetDefault("transport.serial.device", "")
	v.SetDefault("transport.serial.baud_rate", 9600)
	v.SetDefault("transport.serial.data_bits", 8)
	v.SetDefault("transport.serial.parity", "N")
	v.SetDefault("transport.serial.stop_bits", 1)
	v.SetDefault("log.level", "info")
}

// Load reads profile from file (yaml, toml, json by extension), DLMS_ prefixed
// environment variables override it, DLMS_TRANSPORT_TCP_ADDRESS for example.
// Empty path means defaults and environment only.
func Load(path string) (*Profile, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var p Profile
	if err := v.Unmarshal(&p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	p.Transport.Serial.Parity = strings.ToUpper(p.Transport.Serial.Parity)
	return &p, nil
}

// WriteTOML exports profile in a form Load reads back.
func WriteTOML(w io.Writer, p *Profile) error {
	return toml.NewEncoder(w).Encode(p)
}

func parseInterface(name string) (base.InterfaceType, error) {
	switch strings.ToLower(name) {
	case "hdlc":
		return base.InterfaceTypeHDLC, nil
	case "wrapper", "tcp":
		return base.InterfaceTypeWrapper, nil
	}
	return 0, fmt.Errorf("interface %q: %w", name, base.ErrInvalidSettings)
}

func parseAuthentication(name string) (base.Authentication, error) {
	name = strings.ToLower(name)
	for a := base.AuthenticationNone; a <= base.AuthenticationHighEcdsa; a++ {
		if a.String() == name {
			return a, nil
		}
	}
	return 0, fmt.Errorf("authentication %q: %w", name, base.ErrInvalidSettings)
}

func parseSecurity(name string) (base.DlmsSecurity, error) {
	switch strings.ToLower(name) {
	case "", "none":
		return base.SecurityNone, nil
	case "authentication":
		return base.SecurityAuthentication, nil
	case "encryption":
		return base.SecurityEncryption, nil
	case "authentication-encryption":
		return base.SecurityAuthenticationEncryption, nil
	}
	return 0, fmt.Errorf("security %q: %w", name, base.ErrInvalidSettings)
}

func decodeHex(name string, s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	b, err := hex.DecodeString(strings.ReplaceAll(s, " ", ""))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return b, nil
}

// Settings builds client session settings, with cipher when security level
// is not none.
func (p *Profile) Settings() (*settings.Settings, error) {
	s := settings.New(false)
	var err error
	if s.InterfaceType, err = parseInterface(p.Interface); err != nil {
		return nil, err
	}
	if s.Authentication, err = parseAuthentication(p.Authentication); err != nil {
		return nil, err
	}
	s.ClientAddress = p.ClientAddress
	s.ServerAddress = p.ServerAddress
	s.ServerAddressSize = p.ServerAddressSize
	s.ServiceClass = base.ServiceClassConfirmed
	s.UseLogicalNameReferencing = ptr.Deref(p.LogicalName, s.UseLogicalNameReferencing)
	s.MaxReceivePDUSize = ptr.Deref(p.MaxPDUSize, s.MaxReceivePDUSize)
	if p.Password != "" {
		s.Password = []byte(p.Password)
	}
	if p.HDLC.MaxInfoTX != 0 {
		s.Limits.MaxInfoTX = p.HDLC.MaxInfoTX
	}
	if p.HDLC.MaxInfoRX != 0 {
		s.Limits.MaxInfoRX = p.HDLC.MaxInfoRX
	}
	if p.HDLC.Window != 0 {
		s.Limits.WindowSizeTX = p.HDLC.Window
		s.Limits.WindowSizeRX = p.HDLC.Window
	}

	sec, err := parseSecurity(p.Security.Level)
	if err != nil {
		return nil, err
	}
	if sec != base.SecurityNone {
		cs := ciphering.CipheringSettings{Security: sec, InvocationCounter: p.Security.InvocationCounter}
		if cs.SystemTitle, err = decodeHex("system title", p.Security.SystemTitle); err != nil {
			return nil, err
		}
		if cs.EncryptionKey, err = decodeHex("encryption key", p.Security.EncryptionKey); err != nil {
			return nil, err
		}
		if cs.AuthenticationKey, err = decodeHex("authentication key", p.Security.AuthenticationKey); err != nil {
			return nil, err
		}
		c, err := ciphering.New(&cs)
		if err != nil {
			return nil, fmt.Errorf("ciphering: %w", err)
		}
		s.Cipher = c
		// usually learned from aare
		if s.SourceSystemTitle, err = decodeHex("server system title", p.Security.ServerSystemTitle); err != nil {
			return nil, err
		}
	}

	if err = s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Stream returns not yet opened transport.
func (p *Profile) Stream() (base.Stream, error) {
	switch strings.ToLower(p.Transport.Type) {
	case "tcp":
		if p.Transport.TCP.Address == "" {
			return nil, fmt.Errorf("tcp address not set: %w", base.ErrInvalidSettings)
		}
		return tcp.New(p.Transport.TCP.Address, p.Transport.Timeout), nil
	case "serial":
		c := p.Transport.Serial
		if c.Device == "" {
			return nil, fmt.Errorf("serial device not set: %w", base.ErrInvalidSettings)
		}
		parity, err := base.ParseSerialParity(c.Parity)
		if err != nil {
			return nil, err
		}
		stop := base.SerialOneStopBit
		if c.StopBits == 2 {
			stop = base.SerialTwoStopBits
		}
		return serial.New(c.Device, &base.SerialStreamSettings{
			BaudRate:    c.BaudRate,
			DataBits:    base.SerialDataBits(c.DataBits),
			Parity:      parity,
			StopBits:    stop,
			FlowControl: base.SerialNoFlowControl,
		}, p.Transport.Timeout)
	}
	return nil, fmt.Errorf("transport %q: %w", p.Transport.Type, base.ErrInvalidSettings)
}

// Logger builds production zap logger with configured level.
func (p *Profile) Logger() (*zap.SugaredLogger, error) {
	level, err := zap.ParseAtomicLevel(p.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = level
	l, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return l.Sugar(), nil
}
