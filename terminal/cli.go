// Package terminal holds the command line side of both binaries: server
// configuration, startup output and the interactive client's helpers.
package terminal

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
)

// Version is printed by -version and the client banner.
const Version = "1.0.0"

// PrintStartupInfo prints server startup information
func PrintStartupInfo(w io.Writer, config *Config, addr string) {
	title := color.New(color.FgGreen, color.Bold)
	label := color.New(color.FgCyan)

	title.Fprintf(w, "framedftp server v%s\n", Version)
	label.Fprint(w, "  Listening on:    ")
	fmt.Fprintln(w, addr)
	label.Fprint(w, "  Root directory:  ")
	fmt.Fprintln(w, config.RootDir)

	label.Fprint(w, "  Data ports:      ")
	if config.DataPortStart == 0 && config.DataPortEnd == 0 {
		fmt.Fprintln(w, "any")
	} else {
		fmt.Fprintf(w, "%d-%d\n", config.DataPortStart, config.DataPortEnd)
	}
	if config.PassiveHost != "" {
		label.Fprint(w, "  Passive host:    ")
		fmt.Fprintln(w, config.PassiveHost)
	}

	label.Fprint(w, "  Timeouts:        ")
	fmt.Fprintf(w, "connect %s, accept %s, io %s, idle %s\n",
		config.ConnectTimeout, config.AcceptTimeout, config.IOTimeout, config.IdleTimeout)

	label.Fprint(w, "  Compression:     ")
	if config.Compress {
		fmt.Fprintln(w, "MODE Z by default")
	} else {
		fmt.Fprintln(w, "off by default")
	}

	if len(config.TrustedSubnets) > 0 {
		label.Fprint(w, "  Trusted subnets: ")
		fmt.Fprintln(w, strings.Join(config.TrustedSubnets, ", "))
	}

	names := make([]string, 0, len(config.Users))
	for _, u := range config.Users {
		names = append(names, u.Username)
	}
	label.Fprint(w, "  Configured users: ")
	fmt.Fprintln(w, strings.Join(names, ", "))
}

// PrintUsage prints usage information
func PrintUsage(fs *flag.FlagSet) {
	w := fs.Output()
	fmt.Fprintf(w, "Usage: %s [flags]\n\n", fs.Name())
	fmt.Fprintln(w, "Flags:")
	fs.PrintDefaults()
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Examples:")
	fmt.Fprintf(w, "  %s -user alice -password secret\n", fs.Name())
	fmt.Fprintf(w, "  %s -port 8021 -root /srv/ftp -config users.yaml\n", fs.Name())
	fmt.Fprintf(w, "  %s -config server.yaml -log-level debug\n", fs.Name())
}

// ShowVersion displays version information
func ShowVersion(w io.Writer) {
	fmt.Fprintf(w, "framedftp server v%s\n", Version)
}

// HandleStartupError handles startup errors with appropriate logging and exit
func HandleStartupError(log *logrus.Entry, err error, context string) {
	log.WithField("error", err.Error()).Errorf("Failed to %s", context)
	os.Exit(1)
}
