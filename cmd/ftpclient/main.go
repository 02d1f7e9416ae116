package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/c-bata/go-prompt"
	"github.com/sirupsen/logrus"

	"framedftp/client"
	"framedftp/perfmetrics"
	"framedftp/terminal"
)

// shell is the state of one interactive client run.
type shell struct {
	opts      client.Options
	conn      *client.Client
	host      string
	cwd       string
	theme     *terminal.ThemeManager
	completer *terminal.CommandCompleter
	table     *terminal.TableFormatter
	perf      *perfmetrics.Logger
}

func main() {
	addr := flag.String("addr", "", "server address to connect to at startup")
	user := flag.String("user", "", "user to log in as after connecting")
	active := flag.Bool("active", false, "use active transfers")
	compress := flag.Bool("compress", false, "enable MODE Z after login")
	timeout := flag.Duration("timeout", client.DefaultTimeout, "dial and data channel timeout")
	logLevel := flag.String("log-level", "warn", "debug, info, warn or error")
	perfLog := flag.String("perf-log", "", "append one CSV row per transfer to this file")
	flag.Parse()

	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logrus.SetLevel(level)

	sh := &shell{
		opts: client.Options{
			Timeout: *timeout,
			Active:  *active,
			Log:     logrus.NewEntry(logrus.StandardLogger()),
		},
		completer: terminal.NewCommandCompleter(),
		table:     terminal.NewTableFormatter(os.Stdout),
	}

	if *perfLog != "" {
		if sh.perf, err = perfmetrics.NewLogger(*perfLog); err != nil {
			fmt.Printf("Warning: performance log disabled: %v\n", err)
		}
	}

	themePath, err := terminal.DefaultThemePath()
	if err == nil {
		sh.theme, err = terminal.NewThemeManager(themePath)
	}
	if err != nil {
		fmt.Printf("Warning: Failed to initialize theme manager: %v\n", err)
		sh.theme, _ = terminal.NewThemeManager("")
	}

	sh.theme.Prompt().Printf("framedftp client v%s\n", terminal.Version)
	sh.theme.Text().Println("Type 'help' for available commands")
	fmt.Println()

	if *addr != "" {
		sh.open(*addr)
		if sh.conn != nil && *user != "" {
			sh.login(*user)
			if *compress {
				sh.modez([]string{"on"})
			}
		}
	}

	p := prompt.New(
		sh.execute,
		sh.completer.Completer,
		prompt.OptionTitle("framedftp"),
		prompt.OptionLivePrefix(func() (string, bool) {
			if sh.conn != nil {
				return fmt.Sprintf("[%s] %s> ", sh.host, sh.cwd), true
			}
			return "framedftp> ", true
		}),
		prompt.OptionPrefixTextColor(prompt.Green),
		prompt.OptionPreviewSuggestionTextColor(prompt.Blue),
		prompt.OptionSelectedSuggestionBGColor(prompt.LightGray),
		prompt.OptionSuggestionBGColor(prompt.DarkGray),
		prompt.OptionCompletionWordSeparator(" "),
		prompt.OptionAddKeyBind(prompt.KeyBind{
			Key: prompt.ControlC,
			Fn: func(*prompt.Buffer) {
				sh.exit()
			},
		}),
	)
	p.Run()
}

// localCommands work without a connection.
var localCommands = map[string]bool{
	"open": true, "lls": true, "passive": true, "active": true,
	"theme": true, "help": true, "exit": true, "quit": true,
}

func (sh *shell) execute(input string) {
	args := terminal.SplitArgs(strings.TrimSpace(input))
	if len(args) == 0 {
		return
	}
	cmd, args := strings.ToLower(args[0]), args[1:]

	commands := map[string]func([]string){
		"open":    sh.cmdOpen,
		"login":   sh.cmdLogin,
		"pwd":     sh.cmdPwd,
		"cd":      sh.cmdCd,
		"cdup":    sh.cmdCdup,
		"ls":      sh.cmdLs,
		"lls":     sh.cmdLls,
		"get":     sh.cmdGet,
		"put":     sh.cmdPut,
		"import":  sh.cmdImport,
		"size":    sh.cmdSize,
		"mkdir":   sh.cmdMkdir,
		"rm":      sh.cmdRm,
		"modez":   sh.modez,
		"passive": func([]string) { sh.setActive(false) },
		"active":  func([]string) { sh.setActive(true) },
		"theme":   sh.cmdTheme,
		"raw":     sh.cmdRaw,
		"close":   func([]string) { sh.close() },
		"help":    func([]string) { sh.help() },
		"exit":    func([]string) { sh.exit() },
		"quit":    func([]string) { sh.exit() },
	}

	fn, ok := commands[cmd]
	if !ok {
		sh.fail(fmt.Errorf("unknown command %q, type 'help'", cmd))
		return
	}
	if !localCommands[cmd] && sh.conn == nil {
		sh.fail(fmt.Errorf("not connected, use 'open host:port'"))
		return
	}
	fn(args)
}

func (sh *shell) ok(format string, args ...interface{}) {
	sh.theme.Success().Printf(format+"\n", args...)
}

func (sh *shell) fail(err error) {
	sh.theme.Failure().Printf("Error: %v\n", err)
}

func (sh *shell) usage(text string) {
	sh.theme.Info().Println("Usage: " + text)
}

func (sh *shell) open(addr string) {
	if sh.conn != nil {
		sh.close()
	}
	ctx, cancel := context.WithTimeout(context.Background(), sh.opts.Timeout)
	defer cancel()

	conn, err := client.Dial(ctx, addr, sh.opts)
	if err != nil {
		sh.fail(err)
		return
	}
	sh.conn, sh.host, sh.cwd = conn, addr, "/"
	sh.ok("Connected to %s: %s", addr, conn.Greeting())
}

func (sh *shell) cmdOpen(args []string) {
	if len(args) != 1 {
		sh.usage("open host:port")
		return
	}
	sh.open(args[0])
}

func (sh *shell) login(user string) {
	password, err := terminal.ReadPassword(os.Stdin, os.Stdout, "Password: ")
	if err != nil {
		sh.fail(err)
		return
	}
	if err := sh.conn.Login(user, password); err != nil {
		sh.fail(err)
		return
	}
	sh.completer.SetRemote(sh.conn)
	sh.refreshCwd()
	sh.ok("Logged in as %s", user)
}

func (sh *shell) cmdLogin(args []string) {
	if len(args) != 1 {
		sh.usage("login user")
		return
	}
	sh.login(args[0])
}

func (sh *shell) refreshCwd() {
	if cwd, err := sh.conn.Pwd(); err == nil {
		sh.cwd = cwd
	}
}

func (sh *shell) cmdPwd([]string) {
	cwd, err := sh.conn.Pwd()
	if err != nil {
		sh.fail(err)
		return
	}
	sh.cwd = cwd
	fmt.Println(cwd)
}

func (sh *shell) cmdCd(args []string) {
	if len(args) != 1 {
		sh.usage("cd dir")
		return
	}
	cwd, err := sh.conn.Cwd(args[0])
	if err != nil {
		sh.fail(err)
		return
	}
	sh.cwd = cwd
	sh.completer.ClearCache()
}

func (sh *shell) cmdCdup([]string) {
	cwd, err := sh.conn.Cdup()
	if err != nil {
		sh.fail(err)
		return
	}
	sh.cwd = cwd
	sh.completer.ClearCache()
}

func (sh *shell) cmdLs(args []string) {
	dir := ""
	if len(args) > 0 {
		dir = args[0]
	}
	entries, err := sh.conn.List(dir)
	if err != nil {
		sh.fail(err)
		return
	}
	if err := sh.table.FormatRemote(entries); err != nil {
		sh.fail(err)
	}
}

func (sh *shell) cmdLls(args []string) {
	dir := "."
	if len(args) > 0 {
		dir = args[0]
	}
	if err := sh.table.FormatLocalDirectory(dir); err != nil {
		sh.fail(err)
	}
}

func (sh *shell) cmdGet(args []string) {
	if len(args) < 1 || len(args) > 2 {
		sh.usage("get remote [local]")
		return
	}
	local := filepath.Base(args[0])
	if len(args) == 2 {
		local = args[1]
	}
	stats, err := sh.conn.RetrieveFile(context.Background(), args[0], local)
	if err != nil {
		sh.fail(err)
		return
	}
	sh.record("get", args[0], stats)
	sh.ok("Downloaded %s: %s", local, stats)
}

func (sh *shell) cmdPut(args []string) {
	if len(args) < 1 || len(args) > 2 {
		sh.usage("put local [remote]")
		return
	}
	remote := ""
	if len(args) == 2 {
		remote = args[1]
	}
	stats, err := sh.conn.StoreFile(context.Background(), args[0], remote)
	if err != nil {
		sh.fail(err)
		return
	}
	sh.completer.ClearCache()
	sh.record("put", args[0], stats)
	sh.ok("Uploaded %s: %s", args[0], stats)
}

// record appends a transfer to the performance log when one is configured.
func (sh *shell) record(direction, name string, stats client.Stats) {
	if sh.perf == nil {
		return
	}
	err := sh.perf.Log(perfmetrics.Record{
		Server:     sh.host,
		Direction:  direction,
		FileName:   name,
		Bytes:      stats.Bytes,
		Compressed: stats.Compressed,
		Active:     sh.opts.Active,
		Duration:   stats.Duration,
	})
	if err != nil {
		sh.fail(err)
	}
}

func (sh *shell) cmdImport(args []string) {
	if len(args) < 2 || len(args) > 3 {
		sh.usage("import host:port path [remote]  (set FTP_USER / FTP_PASSWORD for non-anonymous login)")
		return
	}
	src := client.FTPSource{
		Addr:     args[0],
		Path:     args[1],
		User:     os.Getenv("FTP_USER"),
		Password: os.Getenv("FTP_PASSWORD"),
	}
	remote := ""
	if len(args) == 3 {
		remote = args[2]
	}
	stats, err := sh.conn.ImportFromFTP(context.Background(), src, remote)
	if err != nil {
		sh.fail(err)
		return
	}
	sh.completer.ClearCache()
	sh.record("import", args[1], stats)
	sh.ok("Imported %s from %s: %s", args[1], args[0], stats)
}

func (sh *shell) cmdSize(args []string) {
	if len(args) != 1 {
		sh.usage("size file")
		return
	}
	size, err := sh.conn.Size(args[0])
	if err != nil {
		sh.fail(err)
		return
	}
	fmt.Printf("%s: %d bytes (%s)\n", args[0], size, terminal.FormatSize(size))
}

func (sh *shell) cmdMkdir(args []string) {
	if len(args) != 1 {
		sh.usage("mkdir dir")
		return
	}
	dir, err := sh.conn.Mkdir(args[0])
	if err != nil {
		sh.fail(err)
		return
	}
	sh.completer.ClearCache()
	sh.ok("Created %s", dir)
}

func (sh *shell) cmdRm(args []string) {
	if len(args) != 1 {
		sh.usage("rm file")
		return
	}
	if err := sh.conn.Delete(args[0]); err != nil {
		sh.fail(err)
		return
	}
	sh.completer.ClearCache()
	sh.ok("Deleted %s", args[0])
}

func (sh *shell) modez(args []string) {
	if len(args) != 1 {
		sh.usage("modez on|off")
		return
	}
	var on bool
	switch strings.ToLower(args[0]) {
	case "on":
		on = true
	case "off":
	default:
		sh.usage("modez on|off")
		return
	}
	if err := sh.conn.SetCompression(on); err != nil {
		sh.fail(err)
		return
	}
	if on {
		sh.ok("MODE Z compression enabled.")
	} else {
		sh.ok("MODE Z compression disabled.")
	}
}

// setActive applies to the next connection; the current one keeps its mode.
func (sh *shell) setActive(active bool) {
	sh.opts.Active = active
	mode := "passive"
	if active {
		mode = "active"
	}
	if sh.conn != nil {
		sh.ok("Transfers will use %s mode after the next 'open'", mode)
		return
	}
	sh.ok("Transfers will use %s mode", mode)
}

func (sh *shell) cmdTheme(args []string) {
	if len(args) != 1 {
		sh.usage("theme dark|light (current: " + sh.theme.ThemeName() + ")")
		return
	}
	if err := sh.theme.SetTheme(args[0]); err != nil {
		sh.fail(err)
		return
	}
	sh.ok("Theme set to %s", args[0])
}

func (sh *shell) cmdRaw(args []string) {
	if len(args) == 0 {
		sh.usage("raw COMMAND [args]")
		return
	}
	code, msg, err := sh.conn.Raw(strings.Join(args, " "))
	if err != nil {
		sh.fail(err)
		return
	}
	fmt.Printf("%d %s\n", code, msg)
}

func (sh *shell) close() {
	if sh.conn == nil {
		return
	}
	if err := sh.conn.Quit(); err != nil {
		sh.fail(err)
	}
	sh.completer.SetRemote(nil)
	sh.conn, sh.host, sh.cwd = nil, "", ""
	sh.ok("Disconnected")
}

func (sh *shell) exit() {
	sh.close()
	fmt.Println("Exiting...")
	os.Exit(0)
}

func (sh *shell) help() {
	fmt.Println("Commands:")
	for _, s := range terminal.Commands {
		fmt.Printf("  %-8s %s\n", s.Text, s.Description)
	}
	fmt.Printf("\nTransfers time out after %s per read or write.\n", sh.opts.Timeout.Round(time.Second))
}
