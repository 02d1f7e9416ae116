package terminal

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"framedftp/auth"
	"framedftp/datachannel"
	"framedftp/fsroot"
	"framedftp/protocol"
	"framedftp/server"
	"framedftp/transfer"
)

// UserConfig is one static credential. Either Password or PasswordHash must
// be set; a plain password is hashed at startup.
type UserConfig struct {
	Username     string `yaml:"username"`
	Password     string `yaml:"password,omitempty"`
	PasswordHash string `yaml:"password_hash,omitempty"`
	Home         string `yaml:"home,omitempty"`
}

// Config holds the server configuration from defaults, an optional YAML file
// and command line flags, in increasing order of precedence.
type Config struct {
	ListenHost    string `yaml:"listen_host"`
	ListenPort    int    `yaml:"listen_port"`
	DataPortStart int    `yaml:"data_port_start"`
	DataPortEnd   int    `yaml:"data_port_end"`
	RootDir       string `yaml:"root"`
	PassiveHost   string `yaml:"passive_host"`
	Banner        string `yaml:"banner"`

	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	AcceptTimeout  time.Duration `yaml:"accept_timeout"`
	IOTimeout      time.Duration `yaml:"io_timeout"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`

	Compress         bool   `yaml:"compress"`
	CompressionLevel int    `yaml:"compression_level"`
	MaxUpload        uint32 `yaml:"max_upload"`
	SpoolDir         string `yaml:"spool_dir"`

	StrictPeer     bool     `yaml:"strict_peer"`
	TrustedSubnets []string `yaml:"trusted_subnets"`
	MaxConnections int      `yaml:"max_connections"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	Users []UserConfig `yaml:"users"`
}

// DefaultConfig returns the default server configuration
func DefaultConfig() *Config {
	return &Config{
		ListenPort:     2121,
		RootDir:        ".",
		Banner:         protocol.DefaultBanner,
		ConnectTimeout: datachannel.DefaultConnectTimeout,
		AcceptTimeout:  datachannel.DefaultAcceptTimeout,
		IOTimeout:      datachannel.DefaultIOTimeout,
		IdleTimeout:    5 * time.Minute,
		LogLevel:       "info",
		LogFormat:      "text",
	}
}

// LoadFile merges a YAML file into c. Keys absent from the file keep their
// current values.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// Addr returns the control listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.ListenHost, strconv.Itoa(c.ListenPort))
}

// stringList is a comma separated flag value.
type stringList []string

func (l *stringList) String() string {
	return strings.Join(*l, ",")
}

func (l *stringList) Set(v string) error {
	*l = nil
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			*l = append(*l, part)
		}
	}
	return nil
}

// cliOnly holds flags that are not part of the YAML file.
type cliOnly struct {
	configPath string
	user       string
	password   string
	home       string
	version    bool
}

func bindFlags(fs *flag.FlagSet, c *Config, o *cliOnly) {
	fs.StringVar(&o.configPath, "config", "", "YAML configuration file")
	fs.StringVar(&o.user, "user", "", "add a user with this name")
	fs.StringVar(&o.password, "password", "", "password for -user")
	fs.StringVar(&o.home, "home", "", "home directory for -user, relative to the root")
	fs.BoolVar(&o.version, "version", false, "print version and exit")

	fs.StringVar(&c.ListenHost, "host", c.ListenHost, "control listen host")
	fs.IntVar(&c.ListenPort, "port", c.ListenPort, "control listen port")
	fs.IntVar(&c.DataPortStart, "data-port-start", c.DataPortStart, "first passive data port (0 lets the OS pick)")
	fs.IntVar(&c.DataPortEnd, "data-port-end", c.DataPortEnd, "last passive data port")
	fs.StringVar(&c.RootDir, "root", c.RootDir, "root directory served to clients")
	fs.StringVar(&c.PassiveHost, "passive-host", c.PassiveHost, "IP advertised in passive replies")
	fs.StringVar(&c.Banner, "banner", c.Banner, "greeting text")
	fs.DurationVar(&c.ConnectTimeout, "connect-timeout", c.ConnectTimeout, "active mode connect timeout")
	fs.DurationVar(&c.AcceptTimeout, "accept-timeout", c.AcceptTimeout, "passive mode accept timeout")
	fs.DurationVar(&c.IOTimeout, "io-timeout", c.IOTimeout, "timeout of each data channel read or write")
	fs.DurationVar(&c.IdleTimeout, "idle-timeout", c.IdleTimeout, "control connection idle timeout (0 disables)")
	fs.BoolVar(&c.Compress, "compress", c.Compress, "start sessions in MODE Z")
	fs.IntVar(&c.CompressionLevel, "compression-level", c.CompressionLevel, "zlib level 1-9 (0 for default)")
	fs.Func("max-upload", "largest accepted frame payload in bytes (0 for no limit)", func(v string) error {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return err
		}
		c.MaxUpload = uint32(n)
		return nil
	})
	fs.StringVar(&c.SpoolDir, "spool-dir", c.SpoolDir, "directory for temporary compressed payloads")
	fs.BoolVar(&c.StrictPeer, "strict-peer", c.StrictPeer, "require data connections from the control peer")
	fs.Var((*stringList)(&c.TrustedSubnets), "trusted-subnets", "comma separated CIDRs allowed to connect")
	fs.IntVar(&c.MaxConnections, "max-connections", c.MaxConnections, "concurrent session limit (0 for none)")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "debug, info, warn or error")
	fs.StringVar(&c.LogFormat, "log-format", c.LogFormat, "text or json")
}

// ErrVersion is returned by ParseFlags when -version was given.
var ErrVersion = errors.New("version requested")

// ParseFlags builds the configuration from args (without the program name).
// Flags override the YAML file given by -config, which overrides defaults.
// flag.ErrHelp is returned for -h.
func ParseFlags(args []string, output io.Writer) (*Config, error) {
	// First pass only finds -config.
	var scratchOpts cliOnly
	scratch := flag.NewFlagSet("ftpserver", flag.ContinueOnError)
	scratch.SetOutput(io.Discard)
	bindFlags(scratch, DefaultConfig(), &scratchOpts)
	if err := scratch.Parse(args); err != nil && !errors.Is(err, flag.ErrHelp) {
		return nil, err
	}

	config := DefaultConfig()
	if scratchOpts.configPath != "" {
		if err := config.LoadFile(scratchOpts.configPath); err != nil {
			return nil, err
		}
	}

	var opts cliOnly
	fs := flag.NewFlagSet("ftpserver", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.Usage = func() { PrintUsage(fs) }
	bindFlags(fs, config, &opts)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	if opts.version {
		return nil, ErrVersion
	}

	if opts.user != "" {
		if opts.password == "" {
			return nil, fmt.Errorf("-user %s needs -password", opts.user)
		}
		config.Users = append(config.Users, UserConfig{Username: opts.user, Password: opts.password, Home: opts.home})
	} else if opts.password != "" {
		return nil, errors.New("-password needs -user")
	}
	return config, nil
}

// ValidateConfig validates the parsed configuration
func ValidateConfig(config *Config) error {
	// Ensure root directory exists
	info, err := os.Stat(config.RootDir)
	if os.IsNotExist(err) {
		return fmt.Errorf("root directory does not exist: %s", config.RootDir)
	}
	if err != nil {
		return fmt.Errorf("root directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("root is not a directory: %s", config.RootDir)
	}

	if config.ListenPort < 0 || config.ListenPort > 65535 {
		return fmt.Errorf("invalid listen port: %d (must be 0-65535)", config.ListenPort)
	}

	if config.DataPortStart != 0 || config.DataPortEnd != 0 {
		if _, err := datachannel.NewPortRange(config.DataPortStart, config.DataPortEnd); err != nil {
			return err
		}
	}

	if config.PassiveHost != "" && net.ParseIP(config.PassiveHost) == nil {
		return fmt.Errorf("passive host must be an IP address: %s", config.PassiveHost)
	}

	for name, d := range map[string]time.Duration{
		"connect timeout": config.ConnectTimeout,
		"accept timeout":  config.AcceptTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	if config.IOTimeout < 0 || config.IdleTimeout < 0 {
		return errors.New("io and idle timeouts must not be negative")
	}

	if config.CompressionLevel < 0 || config.CompressionLevel > 9 {
		return fmt.Errorf("invalid compression level: %d (must be 0-9)", config.CompressionLevel)
	}
	if config.MaxConnections < 0 {
		return fmt.Errorf("invalid max connections: %d", config.MaxConnections)
	}
	for _, cidr := range config.TrustedSubnets {
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			return fmt.Errorf("invalid CIDR in trusted subnets: %s", cidr)
		}
	}

	if _, err := logrus.ParseLevel(config.LogLevel); err != nil {
		return err
	}
	if config.LogFormat != "text" && config.LogFormat != "json" {
		return fmt.Errorf("invalid log format: %s (must be text or json)", config.LogFormat)
	}

	if len(config.Users) == 0 {
		return errors.New("no users configured: use -user/-password or a config file")
	}
	for _, u := range config.Users {
		if !auth.IsValidUsername(u.Username) {
			return fmt.Errorf("invalid username %q", u.Username)
		}
		if u.Password == "" && u.PasswordHash == "" {
			return fmt.Errorf("user %q has neither password nor password_hash", u.Username)
		}
		if u.Home != "" && !auth.IsValidDirectory(u.Home) {
			return fmt.Errorf("user %q: invalid home directory %q", u.Username, u.Home)
		}
	}
	return nil
}

// ConfigureLogging applies the level and format to logger.
func ConfigureLogging(logger *logrus.Logger, config *Config) error {
	level, err := logrus.ParseLevel(config.LogLevel)
	if err != nil {
		return err
	}
	logger.SetLevel(level)
	if config.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return nil
}

// BuildUsers hashes the configured credentials into a user manager.
func BuildUsers(config *Config) (*auth.UserManager, error) {
	um := auth.NewUserManager()
	for _, u := range config.Users {
		var err error
		if u.PasswordHash != "" {
			_, err = um.AddProfile(auth.UserProfile{Username: u.Username, PasswordHash: u.PasswordHash, HomeDir: u.Home})
		} else {
			_, err = um.AddUser(u.Username, u.Password, u.Home)
		}
		if err != nil {
			return nil, err
		}
	}
	return um, nil
}

// ServerOptions turns a validated configuration into server options.
func ServerOptions(config *Config, log *logrus.Entry) (server.Options, error) {
	root, err := fsroot.New(config.RootDir)
	if err != nil {
		return server.Options{}, err
	}
	users, err := BuildUsers(config)
	if err != nil {
		return server.Options{}, err
	}

	data := datachannel.Config{
		ConnectTimeout: config.ConnectTimeout,
		AcceptTimeout:  config.AcceptTimeout,
		IOTimeout:      config.IOTimeout,
		PassiveHost:    config.PassiveHost,
		StrictPeer:     config.StrictPeer,
	}
	if config.DataPortStart != 0 || config.DataPortEnd != 0 {
		ports, err := datachannel.NewPortRange(config.DataPortStart, config.DataPortEnd)
		if err != nil {
			return server.Options{}, err
		}
		data.Ports = ports
	}

	return server.Options{
		Addr: config.Addr(),
		Session: protocol.Config{
			Root: root,
			Auth: auth.NewAuthService(users),
			Data: data,
			Transfer: transfer.Options{
				Level:     config.CompressionLevel,
				SpoolDir:  config.SpoolDir,
				MaxLength: config.MaxUpload,
			},
			Compress:    config.Compress,
			IdleTimeout: config.IdleTimeout,
			Banner:      config.Banner,
		},
		TrustedSubnets: config.TrustedSubnets,
		MaxConnections: config.MaxConnections,
		Log:            log,
	}, nil
}
