package commands

import (
	"context"
	"errors"
	"os"

	"github.com/PowerDNS/simpleblob"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/wojas/go-healthz"
	"golang.org/x/sync/errgroup"

	"github.com/PowerDNS/replstream/lmdbenv/stats"
	"github.com/PowerDNS/replstream/repl"
	"github.com/PowerDNS/replstream/server"
	"github.com/PowerDNS/replstream/server/cleaner"
	"github.com/PowerDNS/replstream/status"
	"github.com/PowerDNS/replstream/status/healthtracker"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe() error {
	if conf.Listen == "" {
		return errors.New("listen: no snapshot server address configured")
	}
	ctx, cancel := context.WithCancel(rootCtx)
	defer cancel()

	st, err := simpleblob.GetBackend(ctx, conf.Storage.Type, conf.Storage.Options)
	if err != nil {
		return err
	}
	logrus.WithField("storage_type", conf.Storage.Type).Info("Storage backend initialised")
	status.SetStorage(st)

	ts, err := openTerms(conf.Terms)
	if err != nil {
		return err
	}
	defer ts.Close()
	status.SetTerms(ts.Terms)
	if ts.env != nil {
		collector := stats.NewCollector()
		collector.AddTarget("terms", ts.env)
		prometheus.MustRegister(collector)
		status.AddLMDBEnv("terms", ts.env)
		defer status.RemoveLMDBEnv("terms")
	}

	group, err := conf.Group.Membership()
	if err != nil {
		return err
	}

	l := logrus.WithField("group", conf.Group.Name)
	srv, err := server.New(conf, st, group, ts, l)
	if err != nil {
		return err
	}
	status.SetEvents(srv.Events())

	ht := healthtracker.New(conf.Health.Send, "send", "send snapshot", l)
	ht.Register()
	defer ht.Deregister()

	healthz.AddBuildInfo()
	if hostname, err := os.Hostname(); err == nil {
		healthz.SetMeta("hostname", hostname)
	}
	healthz.SetMeta("version", version)
	healthz.SetMeta("group", conf.Group.Name)

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return srv.ListenAndServe(ctx)
	})
	eg.Go(func() error {
		return cleaner.New(conf.Group.Name, st, conf.Cleanup, l).Run(ctx)
	})
	eg.Go(func() error {
		return srv.Events().Handle(ctx, func(ev server.Event) error {
			switch {
			case !ev.Failed():
				ht.AddSuccess()
			case errors.Is(ev.Err, context.Canceled), errors.Is(ev.Err, repl.ErrDisconnected):
				// Shutdown, or the receiver went away
			default:
				ht.AddFailure()
			}
			return nil
		})
	})

	status.StartHTTPServer(conf)

	logrus.Info("Snapshot server running")
	return eg.Wait()
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the newest stored snapshot of the group to restoring members",
	Run: func(cmd *cobra.Command, args []string) {
		if err := runServe(); err != nil {
			if errors.Is(err, context.Canceled) {
				logrus.Info("Snapshot server stopped")
				return
			}
			logrus.WithError(err).Fatal("Error")
		}
	},
}
