package commands

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/PowerDNS/simpleblob"
	"github.com/c2h5oh/datasize"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/PowerDNS/replstream/options"
	"github.com/PowerDNS/replstream/repl"
	"github.com/PowerDNS/replstream/replay"
	"github.com/PowerDNS/replstream/server"
	"github.com/PowerDNS/replstream/snapshot"
	"github.com/PowerDNS/replstream/utils"
	"github.com/PowerDNS/replstream/utils/bufpool"
)

// writeQueueSize is the number of received chunks that can wait for the
// output file
const writeQueueSize = 8

func init() {
	rootCmd.AddCommand(fetchCmd)
	fetchCmd.Flags().StringP("output", "o", "",
		"Write the raw payload to this file instead of storing it as a snapshot")
	fetchCmd.Flags().StringToStringP("option", "O", nil,
		"Extra handshake option as key=value, can be repeated")
}

var fetchCmd = &cobra.Command{
	Use:          "fetch <address>",
	Short:        "Request the current snapshot from a serving member",
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		output, err := cmd.Flags().GetString("output")
		if err != nil {
			return err
		}
		extra, err := cmd.Flags().GetStringToString("option")
		if err != nil {
			return err
		}

		ctx, cancel := context.WithCancel(rootCtx)
		defer cancel()

		var st simpleblob.Interface
		if output == "" {
			st, err = simpleblob.GetBackend(ctx, conf.Storage.Type, conf.Storage.Options)
			if err != nil {
				return err
			}
		}

		opts := options.Map(extra).Clone()
		opts[server.OptionGroup] = conf.Group.Name
		opts[server.OptionInstance] = conf.Instance

		d := net.Dialer{Timeout: conf.Transfer.IOTimeout}
		conn, err := d.DialContext(ctx, "tcp", args[0])
		if err != nil {
			return err
		}
		l := logrus.WithField("group", conf.Group.Name)
		r := repl.Receiver{
			IOTimeout:  conf.Transfer.IOTimeout,
			BufferSize: int(conf.Transfer.WindowSize.Bytes()),
			Pool:       bufpool.New("fetch", conf.Transfer.MaxIdleBuffers),
			Logger:     l,
		}
		t0 := time.Now()
		snap, err := r.RequestSnapshot(ctx, conn, opts)
		if err != nil {
			return err
		}
		defer func() {
			_ = snap.Close()
		}()
		h := snap.Header
		l = l.WithFields(logrus.Fields{
			"position":  h.Position,
			"term":      h.Term,
			"prev_term": h.PrevTerm,
			"size":      datasize.ByteSize(h.Length).HumanReadable(),
			"source":    h.Options[server.OptionName],
		})

		if output != "" {
			if err := receiveToFile(ctx, snap, output, l); err != nil {
				return err
			}
			l.WithFields(logrus.Fields{
				"output":       output,
				"time_receive": utils.TimeDiff(time.Now(), t0),
				"rate":         utils.TransferRate(h.Length, time.Since(t0)),
			}).Info("Snapshot received")
		} else {
			asm := replay.NewAssembler()
			if err := snap.Forward(asm); err != nil {
				return err
			}
			payload, _ := asm.Take(replay.ValueID{RecordID: h.Position, TxnID: h.Term})
			tReceived := time.Now()
			ni, stat, err := snapshot.Store(ctx, st, conf.Group.Name, conf.Instance, h.Position, payload)
			if err != nil {
				return err
			}
			l.WithFields(logrus.Fields{
				"snapshot":        ni.FullName,
				"time_receive":    utils.TimeDiff(tReceived, t0),
				"rate":            utils.TransferRate(h.Length, tReceived.Sub(t0)),
				"size_compressed": stat.CompressedSize.HumanReadable(),
				"time_compress":   stat.TCompressed,
			}).Info("Snapshot received and stored")
		}

		fmt.Printf("group version %d, %d members\n", snap.Group.Version, len(snap.Group.Members))
		for _, m := range snap.Group.Members {
			fmt.Printf("  %d\t%s\t%s\n", m.ID, m.Address, m.Role)
		}
		return nil
	},
}

// receiveToFile writes the payload to a file while it is being received
func receiveToFile(ctx context.Context, snap *repl.Snapshot, output string, l logrus.FieldLogger) error {
	f, err := os.Create(output)
	if err != nil {
		return err
	}
	applier := replay.NewAsyncApplier(ctx, l, writeQueueSize,
		func(_, _, pos uint64, data []byte) error {
			_, err := f.WriteAt(data, int64(pos))
			return err
		})
	err = snap.Forward(applier)
	if closeErr := applier.Close(); err == nil {
		err = closeErr
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	return err
}
