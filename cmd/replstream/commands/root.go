package commands

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/PowerDNS/replstream/config"
	"github.com/PowerDNS/replstream/config/logger"
)

const (
	MaximumMinPID   = 200
	SkipPIDCheckEnv = "REPLSTREAM_NO_PID_CHECK"

	TimeoutExitCode = 75 // EX_TEMPFAIL from sysexits.h

	// shutdownGrace is how long commands get to return after the timeout
	shutdownGrace = 10 * time.Second
)

var (
	configFile   string
	instanceName string
	debug        bool
	minimumPID   int
	logConfig    bool
	timeout      time.Duration
	conf         config.Config
)

var (
	// These are set by Execute
	rootCtx    context.Context
	rootCancel context.CancelFunc
)

var rootHelp = `This tool serves and fetches replication group snapshots.

A member runs 'serve' to hand the newest stored snapshot of its group to
members that need to restore. A restoring member runs 'fetch' against it.
`

var rootCmd = &cobra.Command{
	Use:     "replstream",
	Short:   "Replication snapshot transfer",
	Long:    rootHelp,
	Version: version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		c, err := loadConfig()
		if err != nil {
			logrus.Fatal(err)
		}
		conf = c
		logger.Configure(conf.Log)
		ensureMinimumPID()
		logrus.WithField("version", version).Debug("Running")
		if logConfig {
			logrus.Infof("Effective configuration:\n%s\n", conf.String())
		}
		watchTimeout()
	},
	Run: func(cmd *cobra.Command, args []string) {
		_ = cmd.Help()
	},
}

func init() {
	fs := rootCmd.PersistentFlags()
	fs.StringVarP(&configFile, "config", "c", "replstream.yaml", "Config file")
	fs.StringVarP(&instanceName, "instance", "i", "",
		"Instance name, defaults to hostname. MUST be unique within the group")
	fs.BoolVar(&debug, "debug", false, "Enable debug logging")
	fs.BoolVar(&logConfig, "log-config", false, "Log the evaluated configuration on startup")
	fs.IntVar(&minimumPID, "minimum-pid", 0, fmt.Sprintf(
		"Fork processes until the PID is at least this value, to avoid LMDB lock PID clashes in containers (max %d)",
		MaximumMinPID))
	fs.DurationVar(&timeout, "timeout", 0,
		fmt.Sprintf("Abort the command after this duration (exit code %d)", TimeoutExitCode))
	logger.RegisterFlags(fs)
}

// loadConfig reads the config file and applies the command line overrides.
// The file must be valid on its own.
func loadConfig() (config.Config, error) {
	c := config.Default()
	c.Version = version
	if err := c.LoadYAMLFile(configFile, true); err != nil {
		return c, errors.Wrapf(err, "load config file %q", configFile)
	}
	if err := c.Check(); err != nil {
		return c, errors.Wrap(err, "config file error")
	}

	c.Log = c.Log.Merge(logger.FlagConfig)
	if debug {
		c.Log.Level = "debug"
	}
	if instanceName != "" {
		c.Instance = instanceName
	}
	if c.Instance != "" {
		return c, nil
	}
	hostname, err := os.Hostname()
	if err != nil {
		return c, errors.Wrap(err, "no instance name configured and no hostname")
	}
	c.Instance = hostname
	return c, nil
}

// watchTimeout cancels rootCtx once the --timeout expires, and exits the
// process if the command does not return within shutdownGrace.
func watchTimeout() {
	if timeout <= 0 {
		return
	}
	logrus.WithField("timeout", timeout).Info("Setting command timeout")
	time.AfterFunc(timeout, func() {
		logrus.Warn("Timeout reached, cancelling")
		rootCancel()
		time.Sleep(shutdownGrace)
		logrus.Error("Shutdown took too long, forcing exit")
		os.Exit(TimeoutExitCode)
	})
}

func Execute() {
	rootCtx, rootCancel = context.WithCancel(context.Background())
	defer rootCancel()
	err := rootCmd.Execute()
	switch {
	case err == nil:
	case timeout > 0 && errors.Is(err, context.Canceled):
		logrus.WithError(err).Error("Aborted, likely due to timeout")
		os.Exit(TimeoutExitCode)
	default:
		logrus.WithError(err).Error("Error")
		os.Exit(1)
	}
}

// ensureMinimumPID respawns the process until it runs with a PID of at least
// --minimum-pid. This only matters when the term index lives in LMDB, which
// tracks readers by PID.
func ensureMinimumPID() {
	if minimumPID <= 0 || conf.Terms.LMDB.Path == "" {
		return
	}
	want := min(minimumPID, MaximumMinPID)
	pid := os.Getpid()
	l := logrus.WithFields(logrus.Fields{"pid": pid, "minimum_pid": want})
	switch {
	case pid >= want:
		l.Debug("PID satisfies minimum")
		return
	case os.Getenv(SkipPIDCheckEnv) != "":
		l.Warn("PID does NOT satisfy minimum, but requested to skip check")
		return
	}

	l.WithField("n", want-pid).Info("Spawning processes to increase PID")
	for range want - pid {
		_ = exec.Command("/nonexistent").Run()
	}
	os.Exit(respawn(l))
}

// respawn runs this command again as a child and returns its exit code
func respawn(l logrus.FieldLogger) int {
	l.Info("Starting new instance")
	cmd := exec.Command(os.Args[0], os.Args[1:]...)
	cmd.Env = append(os.Environ(), SkipPIDCheckEnv+"=1")
	cmd.Stdin, cmd.Stdout, cmd.Stderr = os.Stdin, os.Stdout, os.Stderr
	err := cmd.Run()
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return 0
	case errors.As(err, &exitErr):
		return exitErr.ExitCode()
	default:
		l.WithError(err).Error("Error running as subcommand")
		return 1
	}
}
