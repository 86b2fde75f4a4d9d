package main

import (
	"encoding/json"
	"flag"
	"os"

	"github.com/aperturetechnology/MEGAchat/internal/flagx"
)

// Config holds the inspector's settings: where the cache files live and
// which session's cache to open.
type Config struct {
	AppDir    string
	SessionID string
	Verbose   bool
}

func (c *Config) LoadDefaults() {
	c.AppDir = "."
}

type jsonConfig struct {
	AppDir    string `json:"app_dir"`
	SessionID string `json:"session_id"`
	Verbose   bool   `json:"verbose"`
}

// loadConfig applies defaults, then a JSON file (-c/-config), then flags.
// Later sources win.
func loadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJSON(cfg)
	parseFlags(cfg)
	return cfg
}

func parseJSON(cfg *Config) {
	path := flagx.JSONConfigFile()
	if path == "" {
		return
	}

	var jc jsonConfig
	data, err := os.ReadFile(path)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	if jc.AppDir != "" {
		cfg.AppDir = jc.AppDir
	}
	if jc.SessionID != "" {
		cfg.SessionID = jc.SessionID
	}
	cfg.Verbose = jc.Verbose
}

func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-d", "-sid", "-v"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)
	fs.StringVar(&cfg.AppDir, "d", cfg.AppDir, "directory the cache files live in")
	fs.StringVar(&cfg.SessionID, "sid", cfg.SessionID, "session id the cache belongs to (empty for the anonymous cache)")
	fs.BoolVar(&cfg.Verbose, "v", cfg.Verbose, "verbose logging")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}
}
