package cmd

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/humblenginr/sentence_slicer/config"
	"github.com/humblenginr/sentence_slicer/logging"
	"github.com/humblenginr/sentence_slicer/scraper"
)

type commandContext struct {
	configFlag *string
	verbose    *bool
	quiet      *bool

	configOnce sync.Once
	config     *config.Config
	logger     *slog.Logger
	configErr  error
}

func newCommandContext(configFlag *string, verbose, quiet *bool) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		verbose:    verbose,
		quiet:      quiet,
	}
}

// ensureConfig loads the configuration once and installs the logger it
// describes as the slog default.
func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}

		level := cfg.Logging.Level
		switch {
		case c.quiet != nil && *c.quiet:
			level = "error"
		case c.verbose != nil && *c.verbose:
			level = "debug"
		}
		logger, err := logging.New(logging.Options{Level: level, Format: cfg.Logging.Format})
		if err != nil {
			c.configErr = err
			return
		}
		slog.SetDefault(logger)

		c.config = cfg
		c.logger = logger
	})
	return c.config, c.configErr
}

// preflight fails when any required binary is missing from PATH, naming
// all of them at once.
func preflight(reqs ...scraper.Requirement) error {
	missing := scraper.MissingBinaries(reqs)
	if len(missing) == 0 {
		return nil
	}
	return fmt.Errorf("missing dependencies:\n  %s", strings.Join(missing, "\n  "))
}
