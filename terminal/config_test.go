package terminal

import (
	"bytes"
	"errors"
	"flag"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"framedftp/auth"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func validConfig(t *testing.T) *Config {
	config := DefaultConfig()
	config.RootDir = t.TempDir()
	config.Users = []UserConfig{{Username: "alice", Password: "secret"}}
	return config
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	assert.Equal(t, 2121, config.ListenPort)
	assert.Equal(t, ".", config.RootDir)
	assert.Equal(t, ":2121", config.Addr())
	assert.Equal(t, "info", config.LogLevel)
}

func TestParseFlags(t *testing.T) {
	config, err := ParseFlags([]string{
		"-port", "8021",
		"-root", "/srv/ftp",
		"-accept-timeout", "5s",
		"-trusted-subnets", "10.0.0.0/8, 192.168.0.0/16",
		"-max-upload", "1048576",
		"-user", "alice", "-password", "secret", "-home", "/home/alice",
	}, io.Discard)
	require.NoError(t, err)

	assert.Equal(t, 8021, config.ListenPort)
	assert.Equal(t, "/srv/ftp", config.RootDir)
	assert.Equal(t, 5*time.Second, config.AcceptTimeout)
	assert.Equal(t, []string{"10.0.0.0/8", "192.168.0.0/16"}, config.TrustedSubnets)
	assert.Equal(t, uint32(1<<20), config.MaxUpload)
	require.Len(t, config.Users, 1)
	assert.Equal(t, UserConfig{Username: "alice", Password: "secret", Home: "/home/alice"}, config.Users[0])
}

func TestParseFlagsErrors(t *testing.T) {
	_, err := ParseFlags([]string{"-user", "alice"}, io.Discard)
	assert.Error(t, err)

	_, err = ParseFlags([]string{"-password", "x"}, io.Discard)
	assert.Error(t, err)

	_, err = ParseFlags([]string{"-port", "abc"}, io.Discard)
	assert.Error(t, err)

	_, err = ParseFlags([]string{"stray"}, io.Discard)
	assert.Error(t, err)

	_, err = ParseFlags([]string{"-version"}, io.Discard)
	assert.True(t, errors.Is(err, ErrVersion))

	var usage bytes.Buffer
	_, err = ParseFlags([]string{"-h"}, &usage)
	assert.True(t, errors.Is(err, flag.ErrHelp))
	assert.Contains(t, usage.String(), "-accept-timeout")
}

func TestConfigFilePrecedence(t *testing.T) {
	path := writeFile(t, "server.yaml", `
listen_port: 9021
root: /data
accept_timeout: 12s
compress: true
trusted_subnets: [127.0.0.0/8]
users:
  - username: bob
    password_hash: "$2a$10$abcdefghijklmnopqrstuuJ0bMWxS6b3E3W8b1rQ0b7yC5pZ3m5yW"
    home: /home/bob
`)

	config, err := ParseFlags([]string{"-config", path, "-port", "7021"}, io.Discard)
	require.NoError(t, err)

	// Flag wins over the file, the file wins over defaults.
	assert.Equal(t, 7021, config.ListenPort)
	assert.Equal(t, "/data", config.RootDir)
	assert.Equal(t, 12*time.Second, config.AcceptTimeout)
	assert.True(t, config.Compress)
	assert.Equal(t, []string{"127.0.0.0/8"}, config.TrustedSubnets)
	assert.Equal(t, DefaultConfig().ConnectTimeout, config.ConnectTimeout)
	require.Len(t, config.Users, 1)
	assert.Equal(t, "bob", config.Users[0].Username)
	assert.Equal(t, "/home/bob", config.Users[0].Home)
}

func TestConfigFileErrors(t *testing.T) {
	_, err := ParseFlags([]string{"-config", filepath.Join(t.TempDir(), "missing.yaml")}, io.Discard)
	assert.Error(t, err)

	path := writeFile(t, "bad.yaml", "listen_port: [not, a, port]\n")
	_, err = ParseFlags([]string{"-config", path}, io.Discard)
	assert.Error(t, err)
}

func TestValidateConfig(t *testing.T) {
	require.NoError(t, ValidateConfig(validConfig(t)))

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"missing root", func(c *Config) { c.RootDir = filepath.Join(c.RootDir, "nope") }},
		{"bad port", func(c *Config) { c.ListenPort = 70000 }},
		{"port range reversed", func(c *Config) { c.DataPortStart, c.DataPortEnd = 30000, 20000 }},
		{"privileged data ports", func(c *Config) { c.DataPortStart, c.DataPortEnd = 20, 21 }},
		{"passive host name", func(c *Config) { c.PassiveHost = "ftp.example.com" }},
		{"zero accept timeout", func(c *Config) { c.AcceptTimeout = 0 }},
		{"negative io timeout", func(c *Config) { c.IOTimeout = -time.Second }},
		{"compression level", func(c *Config) { c.CompressionLevel = 10 }},
		{"bad cidr", func(c *Config) { c.TrustedSubnets = []string{"10.0.0.0/33"} }},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }},
		{"no users", func(c *Config) { c.Users = nil }},
		{"bad username", func(c *Config) { c.Users = []UserConfig{{Username: "a b", Password: "x"}} }},
		{"no password", func(c *Config) { c.Users = []UserConfig{{Username: "alice"}} }},
		{"bad home", func(c *Config) { c.Users[0].Home = "/../etc" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := validConfig(t)
			tt.mutate(config)
			assert.Error(t, ValidateConfig(config))
		})
	}
}

func TestServerOptions(t *testing.T) {
	config := validConfig(t)
	config.ListenHost = "127.0.0.1"
	config.ListenPort = 0
	config.DataPortStart, config.DataPortEnd = 40000, 40010
	config.PassiveHost = "203.0.113.5"
	config.MaxUpload = 4096

	hash, err := auth.HashPassword("builder")
	require.NoError(t, err)
	config.Users = append(config.Users, UserConfig{Username: "bob", PasswordHash: hash})

	opts, err := ServerOptions(config, logrus.NewEntry(logrus.New()))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:0", opts.Addr)
	require.NotNil(t, opts.Session.Data.Ports)
	assert.Equal(t, 11, opts.Session.Data.Ports.Size())
	assert.Equal(t, "203.0.113.5", opts.Session.Data.PassiveHost)
	assert.Equal(t, uint32(4096), opts.Session.Transfer.MaxLength)

	_, err = opts.Session.Auth.AuthenticateUser("alice", "secret")
	assert.NoError(t, err)
	_, err = opts.Session.Auth.AuthenticateUser("bob", "builder")
	assert.NoError(t, err)
}

func TestConfigureLogging(t *testing.T) {
	logger := logrus.New()
	config := DefaultConfig()
	config.LogLevel = "debug"
	config.LogFormat = "json"
	require.NoError(t, ConfigureLogging(logger, config))
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logger.Formatter)
}

func TestPrintStartupInfo(t *testing.T) {
	var out bytes.Buffer
	config := validConfig(t)
	config.TrustedSubnets = []string{"10.0.0.0/8"}
	PrintStartupInfo(&out, config, "127.0.0.1:2121")

	text := out.String()
	assert.Contains(t, text, "127.0.0.1:2121")
	assert.Contains(t, text, config.RootDir)
	assert.Contains(t, text, "10.0.0.0/8")
	assert.Contains(t, text, "alice")
}
