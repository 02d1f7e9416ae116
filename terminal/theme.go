package terminal

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"gopkg.in/yaml.v3"
)

// Theme represents a terminal theme configuration
type Theme struct {
	Name         string `yaml:"name"`
	PromptColor  string `yaml:"prompt_color"`
	TextColor    string `yaml:"text_color"`
	ErrorColor   string `yaml:"error_color"`
	SuccessColor string `yaml:"success_color"`
	InfoColor    string `yaml:"info_color"`
}

var themes = map[string]Theme{
	"dark": {
		Name:         "dark",
		PromptColor:  "green",
		TextColor:    "white",
		ErrorColor:   "red",
		SuccessColor: "green",
		InfoColor:    "cyan",
	},
	"light": {
		Name:         "light",
		PromptColor:  "blue",
		TextColor:    "black",
		ErrorColor:   "red",
		SuccessColor: "green",
		InfoColor:    "blue",
	},
}

// ThemeManager loads and saves the client's theme.
type ThemeManager struct {
	currentTheme Theme
	configPath   string
}

// DefaultThemePath is ~/.framedftp-theme.yaml.
func DefaultThemePath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".framedftp-theme.yaml"), nil
}

// NewThemeManager loads the theme at configPath, writing the default theme
// there if the file does not exist yet. An empty path keeps the theme in
// memory only.
func NewThemeManager(configPath string) (*ThemeManager, error) {
	tm := &ThemeManager{configPath: configPath, currentTheme: themes["dark"]}
	if configPath == "" {
		return tm, nil
	}

	if err := tm.LoadTheme(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load theme: %w", err)
		}
		if err := tm.SaveTheme(); err != nil {
			return nil, fmt.Errorf("failed to save default theme: %w", err)
		}
	}
	return tm, nil
}

// LoadTheme loads the theme from config file
func (tm *ThemeManager) LoadTheme() error {
	data, err := os.ReadFile(tm.configPath)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, &tm.currentTheme)
}

// SaveTheme saves the current theme to config file
func (tm *ThemeManager) SaveTheme() error {
	if tm.configPath == "" {
		return nil
	}
	data, err := yaml.Marshal(tm.currentTheme)
	if err != nil {
		return err
	}
	return os.WriteFile(tm.configPath, data, 0644)
}

// SetTheme sets a new theme
func (tm *ThemeManager) SetTheme(name string) error {
	theme, ok := themes[name]
	if !ok {
		return fmt.Errorf("unknown theme: %s", name)
	}
	tm.currentTheme = theme
	return tm.SaveTheme()
}

// ThemeName returns the name of the current theme
func (tm *ThemeManager) ThemeName() string {
	return tm.currentTheme.Name
}

func (tm *ThemeManager) Prompt() *color.Color  { return colorFromName(tm.currentTheme.PromptColor) }
func (tm *ThemeManager) Text() *color.Color    { return colorFromName(tm.currentTheme.TextColor) }
func (tm *ThemeManager) Failure() *color.Color { return colorFromName(tm.currentTheme.ErrorColor) }
func (tm *ThemeManager) Success() *color.Color { return colorFromName(tm.currentTheme.SuccessColor) }
func (tm *ThemeManager) Info() *color.Color    { return colorFromName(tm.currentTheme.InfoColor) }

func colorFromName(name string) *color.Color {
	switch name {
	case "black":
		return color.New(color.FgBlack)
	case "red":
		return color.New(color.FgRed)
	case "green":
		return color.New(color.FgGreen)
	case "yellow":
		return color.New(color.FgYellow)
	case "blue":
		return color.New(color.FgBlue)
	case "magenta":
		return color.New(color.FgMagenta)
	case "cyan":
		return color.New(color.FgCyan)
	default:
		return color.New(color.FgWhite)
	}
}
