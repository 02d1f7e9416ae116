package terminal

import (
	"os"
	"strings"
	"time"

	"github.com/c-bata/go-prompt"

	"framedftp/client"
)

// RemoteLister is the part of the client the completer needs.
type RemoteLister interface {
	List(dir string) ([]client.Entry, error)
}

// CommandCompleter handles command and argument completion
type CommandCompleter struct {
	commands     []prompt.Suggest
	remote       RemoteLister
	remoteFiles  []string
	remoteDirs   []string
	lastUpdate   time.Time
	cacheTimeout time.Duration
	localDir     func() (string, error)
}

// Commands understood by the interactive client.
var Commands = []prompt.Suggest{
	{Text: "open", Description: "Connect to a server: open host:port"},
	{Text: "login", Description: "Log in: login user"},
	{Text: "pwd", Description: "Show remote directory"},
	{Text: "cd", Description: "Change remote directory"},
	{Text: "cdup", Description: "Go to the parent remote directory"},
	{Text: "ls", Description: "List remote directory"},
	{Text: "lls", Description: "List local directory"},
	{Text: "get", Description: "Download: get remote [local]"},
	{Text: "put", Description: "Upload: put local [remote]"},
	{Text: "import", Description: "Copy from an FTP server: import host:port path [remote]"},
	{Text: "size", Description: "Show remote file size"},
	{Text: "mkdir", Description: "Create remote directory"},
	{Text: "rm", Description: "Delete remote file"},
	{Text: "modez", Description: "Toggle compression: modez on|off"},
	{Text: "passive", Description: "Use passive transfers"},
	{Text: "active", Description: "Use active transfers"},
	{Text: "theme", Description: "Change terminal theme: theme dark|light"},
	{Text: "raw", Description: "Send a raw control line"},
	{Text: "close", Description: "Disconnect"},
	{Text: "help", Description: "Show help information"},
	{Text: "exit", Description: "Quit the client"},
}

// NewCommandCompleter creates a new command completer
func NewCommandCompleter() *CommandCompleter {
	return &CommandCompleter{
		commands:     Commands,
		cacheTimeout: 15 * time.Second,
		localDir:     os.Getwd,
	}
}

// SetRemote sets the connection used to complete remote names; nil clears it.
func (c *CommandCompleter) SetRemote(remote RemoteLister) {
	c.remote = remote
	c.ClearCache()
}

// UpdateRemoteFiles updates the cached remote files and directories
func (c *CommandCompleter) UpdateRemoteFiles(files, dirs []string) {
	c.remoteFiles = files
	c.remoteDirs = dirs
	c.lastUpdate = time.Now()
}

// ClearCache forgets cached remote names, e.g. after a cd.
func (c *CommandCompleter) ClearCache() {
	c.remoteFiles = nil
	c.remoteDirs = nil
	c.lastUpdate = time.Time{}
}

// Completer returns suggestions for the current input
func (c *CommandCompleter) Completer(d prompt.Document) []prompt.Suggest {
	text := d.TextBeforeCursor()
	words := strings.Fields(text)

	if len(words) == 0 || (len(words) == 1 && !strings.HasSuffix(text, " ")) {
		prefix := ""
		if len(words) == 1 {
			prefix = words[0]
		}
		return filter(c.commands, prefix)
	}
	if strings.HasSuffix(text, " ") {
		return nil
	}
	return c.suggestArguments(strings.ToLower(words[0]), words[len(words)-1])
}

func (c *CommandCompleter) suggestArguments(cmd, prefix string) []prompt.Suggest {
	switch cmd {
	case "cd", "ls", "mkdir":
		return c.suggest(c.remoteNames(true), prefix, "Remote directory")
	case "get", "rm", "size":
		return c.suggest(c.remoteNames(false), prefix, "Remote file")
	case "put":
		return c.suggest(c.localFiles(), prefix, "Local file")
	case "theme":
		return filter([]prompt.Suggest{{Text: "dark"}, {Text: "light"}}, prefix)
	case "modez":
		return filter([]prompt.Suggest{{Text: "on"}, {Text: "off"}}, prefix)
	}
	return nil
}

func (c *CommandCompleter) suggest(names []string, prefix, description string) []prompt.Suggest {
	var suggestions []prompt.Suggest
	for _, name := range names {
		// Hidden names only when asked for
		if strings.HasPrefix(name, ".") && !strings.HasPrefix(prefix, ".") {
			continue
		}
		if strings.HasPrefix(strings.ToLower(name), strings.ToLower(prefix)) {
			suggestions = append(suggestions, prompt.Suggest{Text: name, Description: description})
		}
	}
	return suggestions
}

func (c *CommandCompleter) remoteNames(dirs bool) []string {
	if c.remote != nil && time.Since(c.lastUpdate) > c.cacheTimeout {
		c.refreshRemoteCache()
	}
	if dirs {
		return c.remoteDirs
	}
	return c.remoteFiles
}

// refreshRemoteCache lists the working directory; failures keep the old cache.
func (c *CommandCompleter) refreshRemoteCache() {
	entries, err := c.remote.List("")
	if err != nil {
		return
	}
	var files, dirs []string
	for _, e := range entries {
		if e.IsDir {
			dirs = append(dirs, e.Name)
		} else {
			files = append(files, e.Name)
		}
	}
	c.UpdateRemoteFiles(files, dirs)
}

func (c *CommandCompleter) localFiles() []string {
	dir, err := c.localDir()
	if err != nil {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var files []string
	for _, entry := range entries {
		if !entry.IsDir() {
			files = append(files, entry.Name())
		}
	}
	return files
}

func filter(suggestions []prompt.Suggest, prefix string) []prompt.Suggest {
	var filtered []prompt.Suggest
	for _, s := range suggestions {
		if strings.HasPrefix(strings.ToLower(s.Text), strings.ToLower(prefix)) {
			filtered = append(filtered, s)
		}
	}
	return filtered
}
