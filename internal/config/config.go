package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

type EditorOptions struct {
	DebounceMs   int    `toml:"debounce-ms"`
	AutoCommit   *bool  `toml:"auto-commit"`
	HistoryLimit *int   `toml:"history-limit"`
	Document     string `toml:"document"`
	LabelWidth   int    `toml:"label-width"`
}

// MaxHistory returns the history limit; zero means unbounded.
func (o EditorOptions) MaxHistory() int {
	if o.HistoryLimit == nil {
		return 0
	}
	return max(*o.HistoryLimit, 0)
}

// Debounce returns the debounce delay and whether debounced commits are on.
func (o EditorOptions) Debounce() (time.Duration, bool) {
	auto := o.AutoCommit == nil || *o.AutoCommit
	return time.Duration(o.DebounceMs) * time.Millisecond, auto && o.DebounceMs > 0
}

type Field struct {
	Name                string  `toml:"name"`
	Label               string  `toml:"label"`
	Align               string  `toml:"align"`
	DecimalAlignPercent float64 `toml:"decimal-align-percent"`
}

type Theme struct {
	Foreground           string `toml:"foreground"`
	Background           string `toml:"background"`
	LabelForeground      string `toml:"label-foreground"`
	FocusForeground      string `toml:"focus-foreground"`
	FocusBackground      string `toml:"focus-background"`
	PendingForeground    string `toml:"pending-foreground"`
	StatuslineForeground string `toml:"statusline-foreground"`
	StatuslineBackground string `toml:"statusline-background"`
}

type Config struct {
	Editor EditorOptions     `toml:"editor"`
	Fields []Field           `toml:"field"`
	Theme  Theme             `toml:"theme"`
	Keymap map[string]string `toml:"keymap"`
}

func boolPtr(v bool) *bool { return &v }

func intPtr(v int) *int { return &v }

func Default() Config {
	return Config{
		Editor: EditorOptions{
			DebounceMs:   500,
			AutoCommit:   boolPtr(true),
			HistoryLimit: intPtr(200),
			LabelWidth:   12,
		},
		Fields: []Field{
			{Name: "title", Label: "Title", Align: "left"},
			{Name: "price", Label: "Price", Align: "decimal", DecimalAlignPercent: 60},
			{Name: "note", Label: "Note", Align: "left"},
		},
		Theme: Theme{
			Foreground:           "#B3B1AD",
			Background:           "#0A0E14",
			LabelForeground:      "#59C2FF",
			FocusForeground:      "#0A0E14",
			FocusBackground:      "#E6B450",
			PendingForeground:    "#FFA759",
			StatuslineForeground: "#B3B1AD",
			StatuslineBackground: "#0F1419",
		},
		Keymap: map[string]string{
			"left":      "move_left",
			"right":     "move_right",
			"home":      "line_start",
			"end":       "line_end",
			"ctrl+a":    "line_start",
			"ctrl+e":    "line_end",
			"backspace": "backspace",
			"del":       "delete_char",
			"tab":       "next_field",
			"down":      "next_field",
			"shift+tab": "prev_field",
			"up":        "prev_field",
			"ctrl+z":    "undo",
			"ctrl+y":    "redo",
			"enter":     "commit",
			"ctrl+s":    "save",
			"ctrl+r":    "reload",
			"esc":       "quit",
			"ctrl+c":    "quit",
		},
	}
}

func Load() (Config, error) {
	cfg := Default()
	path, err := ConfigPath()
	if err != nil {
		return cfg, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	var userCfg Config
	if _, err := toml.Decode(string(data), &userCfg); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}

	if userCfg.Editor.DebounceMs > 0 {
		cfg.Editor.DebounceMs = userCfg.Editor.DebounceMs
	}
	if userCfg.Editor.AutoCommit != nil {
		cfg.Editor.AutoCommit = userCfg.Editor.AutoCommit
	}
	if userCfg.Editor.HistoryLimit != nil {
		cfg.Editor.HistoryLimit = userCfg.Editor.HistoryLimit
	}
	if userCfg.Editor.Document != "" {
		cfg.Editor.Document = userCfg.Editor.Document
	}
	if userCfg.Editor.LabelWidth > 0 {
		cfg.Editor.LabelWidth = userCfg.Editor.LabelWidth
	}
	if len(userCfg.Fields) > 0 {
		cfg.Fields = userCfg.Fields
	}
	mergeTheme(&cfg.Theme, userCfg.Theme)
	for k, v := range userCfg.Keymap {
		cfg.Keymap[k] = v
	}

	return cfg, nil
}

func mergeTheme(dst *Theme, src Theme) {
	if src.Foreground != "" {
		dst.Foreground = src.Foreground
	}
	if src.Background != "" {
		dst.Background = src.Background
	}
	if src.LabelForeground != "" {
		dst.LabelForeground = src.LabelForeground
	}
	if src.FocusForeground != "" {
		dst.FocusForeground = src.FocusForeground
	}
	if src.FocusBackground != "" {
		dst.FocusBackground = src.FocusBackground
	}
	if src.PendingForeground != "" {
		dst.PendingForeground = src.PendingForeground
	}
	if src.StatuslineForeground != "" {
		dst.StatuslineForeground = src.StatuslineForeground
	}
	if src.StatuslineBackground != "" {
		dst.StatuslineBackground = src.StatuslineBackground
	}
}

func ConfigDir() (string, error) {
	if v := os.Getenv("QFIELD_CONFIG_HOME"); v != "" {
		return filepath.Join(v), nil
	}
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "qfield"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "qfield"), nil
}

func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}
