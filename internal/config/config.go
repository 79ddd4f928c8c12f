package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds the dispatcher's process-wide settings. Loaded once at
// startup from the environment and passed around explicitly.
type Config struct {
	NodeID   string
	HTTPPort int
	LogLevel string

	// DataDir is the root for the badger database and the artifact store.
	DataDir string

	// ToolQuoteRoot is the base directory, in the fabrication tool's own
	// path convention, under which generated workbooks live. It ends up
	// verbatim inside descriptors, so it keeps the tool-side separator.
	ToolQuoteRoot string

	// ToolPdfDir is the tool-side working directory for rendered PDFs.
	ToolPdfDir string

	// CompanyName and LoadingSite feed the fixed company blocks of the
	// descriptor. They rarely change but differ between installations.
	CompanyName string
	LoadingSite string
}

func Load() *Config {
	return &Config{
		NodeID:        getEnv("NODE_ID", "dispatcher-default"),
		HTTPPort:      getEnvInt("HTTP_PORT", 5006),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		DataDir:       getEnv("DATA_DIR", "./data"),
		ToolQuoteRoot: getEnv("TOOL_QUOTE_ROOT", `F:\nxerp`),
		ToolPdfDir:    getEnv("TOOL_PDF_DIR", `F:\nxerppdf\`),
		CompanyName:   getEnv("COMPANY_NAME", "GRANITEX inc."),
		LoadingSite:   getEnv("LOADING_SITE", "GRANITEX RAP"),
	}
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
