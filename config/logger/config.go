package logger

import (
	"fmt"
	"strings"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

var (
	LogLevels     = []string{"debug", "info", "warning", "error", "fatal"}
	LogFormats    = []string{"human", "logfmt", "json"}
	LogTimestamps = []string{"short", "disable", "full"}
)

// Config configures logging
type Config struct {
	Level     string `yaml:"level"`     // One of LogLevels
	Format    string `yaml:"format"`    // One of LogFormats
	Timestamp string `yaml:"timestamp"` // One of LogTimestamps
	Caller    bool   `yaml:"caller"`    // Add the calling function and file
}

// DefaultConfig defines the default configuration
var DefaultConfig = Config{
	Level:     "info",
	Format:    "human",
	Timestamp: "short",
}

// FlagConfig receives the values of the flags added by RegisterFlags
var FlagConfig = Config{}

// RegisterFlags adds the log flags to fs. They default to zero values, so
// that Merge only overrides the config file for flags that were set.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.StringVar(&FlagConfig.Level, "log-level", "",
		"Log level "+describe(DefaultConfig.Level, LogLevels))
	fs.StringVar(&FlagConfig.Format, "log-format", "",
		"Log format "+describe(DefaultConfig.Format, LogFormats))
	fs.StringVar(&FlagConfig.Timestamp, "log-timestamp", "",
		"Log timestamp "+describe(DefaultConfig.Timestamp, LogTimestamps))
	fs.BoolVar(&FlagConfig.Caller, "log-caller", false,
		"Add the calling function to every log entry")
}

// Check validates a Config instance
func (c Config) Check() error {
	if _, err := logrus.ParseLevel(c.Level); err != nil {
		return fmt.Errorf("log.level: must be one of: %s", strings.Join(LogLevels, ", "))
	}
	if !lo.Contains(LogFormats, c.Format) {
		return fmt.Errorf("log.format: must be one of: %s", strings.Join(LogFormats, ", "))
	}
	if c.Timestamp != "" && !lo.Contains(LogTimestamps, c.Timestamp) {
		return fmt.Errorf("log.timestamp: must be one of: %s", strings.Join(LogTimestamps, ", "))
	}
	return nil
}

// Merge returns c with every non-zero field of o applied on top
func (c Config) Merge(o Config) Config {
	c.Level = lo.CoalesceOrEmpty(o.Level, c.Level)
	c.Format = lo.CoalesceOrEmpty(o.Format, c.Format)
	c.Timestamp = lo.CoalesceOrEmpty(o.Timestamp, c.Timestamp)
	c.Caller = c.Caller || o.Caller
	return c
}

// Configure applies c to the logrus standard logger
func Configure(c Config) {
	ConfigureLogger(logrus.StandardLogger(), c)
}

// ConfigureLogger applies c to l. The Config must have passed Check.
func ConfigureLogger(l *logrus.Logger, c Config) {
	l.SetFormatter(c.formatter())
	l.SetReportCaller(c.Caller)
	if level, err := logrus.ParseLevel(c.Level); err == nil {
		l.SetLevel(level)
	} else {
		l.Warnf("Ignoring invalid log level: %s", c.Level)
	}
}

func (c Config) formatter() logrus.Formatter {
	noTimestamp := c.Timestamp == "disable"
	text := &logrus.TextFormatter{
		DisableTimestamp: noTimestamp,
		FullTimestamp:    c.Timestamp == "full",
	}
	switch c.Format {
	case "json":
		return &logrus.JSONFormatter{DisableTimestamp: noTimestamp}
	case "logfmt":
		text.DisableColors = true
		return text
	default:
		return &NamespaceFormatter{Parent: text}
	}
}

func describe(def string, options []string) string {
	return fmt.Sprintf("(default: %s; options: %s)", def, strings.Join(options, ", "))
}
