package agent

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the bridge's runtime configuration, loaded once at startup
// from a YAML file with environment overrides. The bridge runs unattended
// on a shop workstation; everything it needs to know lives here.
type Config struct {
	APIBase string `yaml:"api_base"`
	AgentID string `yaml:"agent_id"`

	// ExchangeDir is the directory the tool watches, usually a network
	// mount. LocalRoot is where the tool's workbook tree (ToolRoot in its
	// own path syntax) is mounted on this machine.
	ExchangeDir string `yaml:"exchange_dir"`
	LocalRoot   string `yaml:"local_root"`
	ToolRoot    string `yaml:"tool_root"`

	// FallbackPdfDir is the scratch directory the tool drops rendered pdfs
	// into when it ignores the requested location.
	FallbackPdfDir string `yaml:"fallback_pdf_dir"`

	PollInterval time.Duration `yaml:"poll_interval"`
	ScanInterval time.Duration `yaml:"scan_interval"`
	ReplyTimeout time.Duration `yaml:"reply_timeout"`
	SettleDelay  time.Duration `yaml:"settle_delay"`

	// PdfWaitAttempts times PdfWaitDelay bounds how long to wait for a pdf
	// the tool is still rendering.
	PdfWaitAttempts int           `yaml:"pdf_wait_attempts"`
	PdfWaitDelay    time.Duration `yaml:"pdf_wait_delay"`

	// ReplyPatterns are doublestar globs a reply filename must match.
	ReplyPatterns []string `yaml:"reply_patterns"`
}

// LoadConfig reads path if it exists, then applies env overrides and
// defaults. A missing file is fine; a malformed one is not.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	applyEnv(cfg)
	applyDefaults(cfg)

	if cfg.ExchangeDir == "" {
		return nil, fmt.Errorf("exchange_dir is required")
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setString := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setDuration := func(dst *time.Duration, key string) {
		if v := os.Getenv(key); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				*dst = d
			}
		}
	}

	setString(&cfg.APIBase, "BRIDGE_API_BASE")
	setString(&cfg.AgentID, "BRIDGE_AGENT_ID")
	setString(&cfg.ExchangeDir, "BRIDGE_EXCHANGE_DIR")
	setString(&cfg.LocalRoot, "BRIDGE_LOCAL_ROOT")
	setString(&cfg.ToolRoot, "BRIDGE_TOOL_ROOT")
	setString(&cfg.FallbackPdfDir, "BRIDGE_FALLBACK_PDF_DIR")
	setDuration(&cfg.PollInterval, "BRIDGE_POLL_INTERVAL")
	setDuration(&cfg.ReplyTimeout, "BRIDGE_REPLY_TIMEOUT")
}

func applyDefaults(cfg *Config) {
	if cfg.APIBase == "" {
		cfg.APIBase = "http://localhost:5006"
	}
	if cfg.AgentID == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "bridge"
		}
		cfg.AgentID = host
	}
	if cfg.ToolRoot == "" {
		cfg.ToolRoot = `F:\nxerp`
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = 2 * time.Second
	}
	if cfg.ReplyTimeout <= 0 {
		cfg.ReplyTimeout = 10 * time.Minute
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = 2 * time.Second
	}
	if cfg.PdfWaitAttempts <= 0 {
		cfg.PdfWaitAttempts = 15
	}
	if cfg.PdfWaitDelay <= 0 {
		cfg.PdfWaitDelay = time.Second
	}
	if len(cfg.ReplyPatterns) == 0 {
		cfg.ReplyPatterns = []string{"*.xml", "*.rac"}
	}
	cfg.APIBase = strings.TrimRight(cfg.APIBase, "/")
}

// LocalPath translates a tool-native path under ToolRoot into a path on
// this machine's mount. Paths outside ToolRoot map into LocalRoot by their
// basename so a surprise location still lands somewhere writable.
func (c *Config) LocalPath(toolPath string) string {
	norm := strings.ReplaceAll(toolPath, `\`, "/")
	root := strings.ReplaceAll(c.ToolRoot, `\`, "/")

	rel := strings.TrimPrefix(norm, root)
	if rel == norm {
		// Not under the tool root; keep the basename only.
		if i := strings.LastIndex(norm, "/"); i >= 0 {
			rel = norm[i:]
		} else {
			rel = "/" + norm
		}
	}
	rel = strings.TrimPrefix(rel, "/")
	return filepath.Join(c.LocalRoot, filepath.FromSlash(rel))
}
