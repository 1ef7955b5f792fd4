package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/PowerDNS/simpleblob"
	"github.com/c2h5oh/datasize"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/PowerDNS/replstream/snapshot"
)

// storageTimeout bounds every storage subcommand
const storageTimeout = time.Minute

var snapshotsFlags struct {
	long       bool
	all        bool
	local      bool
	output     string
	uncompress bool
	name       string
	force      bool
	position   int64
}

func init() {
	rootCmd.AddCommand(snapshotsCmd)
	snapshotsCmd.AddCommand(
		snapshotsListCmd,
		snapshotsRemoveCmd,
		snapshotsInspectCmd,
		snapshotsGetCmd,
		snapshotsPutCmd,
	)

	f := &snapshotsFlags
	snapshotsListCmd.Flags().BoolVarP(&f.long, "long", "l", false,
		"Show position, time, instance and size")
	snapshotsListCmd.Flags().BoolVarP(&f.all, "all", "a", false,
		"List every blob in storage, not only snapshots of this group")
	snapshotsInspectCmd.Flags().BoolVarP(&f.local, "local", "l", false,
		"Argument is a local file, not a stored snapshot")
	snapshotsGetCmd.Flags().StringVarP(&f.output, "output", "o", "",
		"Output filename (default: the snapshot name)")
	snapshotsGetCmd.Flags().BoolVarP(&f.uncompress, "uncompress", "u", false,
		"Write the uncompressed payload")
	snapshotsPutCmd.Flags().StringVarP(&f.name, "name", "n", "",
		"Store under this name instead of the local file name")
	snapshotsPutCmd.Flags().BoolVar(&f.force, "force", false,
		"Store even if the name does not parse as a snapshot name")
	snapshotsPutCmd.Flags().Int64Var(&f.position, "position", -1,
		"File is an uncompressed payload at this log position; compress and name it for this instance")
}

// storageCommand builds a RunE that opens the configured storage backend
// before calling fn.
func storageCommand(fn func(ctx context.Context, st simpleblob.Interface, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(rootCtx, storageTimeout)
		defer cancel()
		st, err := getStorage(ctx)
		if err != nil {
			return errors.Wrap(err, "open storage")
		}
		return fn(ctx, st, args)
	}
}

func getStorage(ctx context.Context) (simpleblob.Interface, error) {
	return simpleblob.GetBackend(ctx, conf.Storage.Type, conf.Storage.Options)
}

var snapshotsCmd = &cobra.Command{
	Use:   "snapshots",
	Short: "Stored snapshot operations (list, get, put, remove, inspect)",
	Run: func(cmd *cobra.Command, args []string) {
		_ = cmd.Help()
	},
}

var snapshotsListCmd = &cobra.Command{
	Use:          "list",
	Short:        "List snapshots of the group, oldest first",
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE:         storageCommand(listSnapshots),
}

func listSnapshots(ctx context.Context, st simpleblob.Interface, _ []string) error {
	blobs, err := st.List(ctx, "")
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	defer w.Flush()

	if snapshotsFlags.all {
		for _, b := range blobs {
			_, _ = fmt.Fprintf(w, "%d\t%s\n", b.Size, b.Name)
		}
		return nil
	}

	list, err := snapshot.List(ctx, st, conf.Group.Name, logrus.StandardLogger())
	if err != nil {
		return err
	}
	if !snapshotsFlags.long {
		for _, ni := range list {
			_, _ = fmt.Fprintln(w, ni.FullName)
		}
		return nil
	}
	sizes := lo.SliceToMap(blobs, func(b simpleblob.Blob) (string, int64) {
		return b.Name, b.Size
	})
	for _, ni := range list {
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
			ni.Position,
			ni.Timestamp.Format(time.RFC3339),
			ni.InstanceID,
			datasize.ByteSize(sizes[ni.FullName]).HumanReadable(),
			ni.FullName)
	}
	return nil
}

var snapshotsRemoveCmd = &cobra.Command{
	Use:          "remove <name>...",
	Short:        "Remove stored snapshots",
	Args:         cobra.MinimumNArgs(1),
	SilenceUsage: true,
	RunE: storageCommand(func(ctx context.Context, st simpleblob.Interface, args []string) error {
		for _, name := range args {
			if err := st.Delete(ctx, name); err != nil {
				return errors.Wrapf(err, "remove %s", name)
			}
			logrus.WithField("snapshot", name).Info("Removed")
		}
		return nil
	}),
}

var snapshotsInspectCmd = &cobra.Command{
	Use:          "inspect <name>",
	Short:        "Show snapshot details and the term it would be served with",
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if snapshotsFlags.local {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			return inspectSnapshot(filepath.Base(args[0]), data)
		}
		return storageCommand(func(ctx context.Context, st simpleblob.Interface, args []string) error {
			data, err := st.Load(ctx, args[0])
			if err != nil {
				return err
			}
			return inspectSnapshot(args[0], data)
		})(cmd, args)
	},
}

func inspectSnapshot(name string, data []byte) error {
	ni, err := snapshot.ParseName(name)
	if err != nil {
		return err
	}
	payload, err := snapshot.LoadData(data)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 1, ' ', 0)
	defer w.Flush()
	row := func(k, format string, a ...any) {
		_, _ = fmt.Fprintf(w, k+":\t"+format+"\n", a...)
	}
	row("name", "%s", ni.FullName)
	row("group", "%s", ni.GroupName)
	row("instance", "%s", ni.InstanceID)
	row("time", "%s (%s ago)", ni.Timestamp, time.Since(ni.Timestamp).Round(time.Second))
	row("position", "%d", ni.Position)
	row("compressed", "%s", datasize.ByteSize(len(data)).HumanReadable())
	row("payload", "%s", datasize.ByteSize(len(payload)).HumanReadable())

	ts, err := openTerms(conf.Terms)
	if err != nil {
		return err
	}
	defer ts.Close()
	tl, err := ts.TermLogAt(ni.Position)
	if err != nil {
		row("term", "unknown (%v)", err)
		return nil
	}
	row("term", "%d (prev %d)", tl.Term(), tl.PrevTermAt(ni.Position))
	return nil
}

var snapshotsGetCmd = &cobra.Command{
	Use:          "get <name>",
	Short:        "Download a snapshot",
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE: storageCommand(func(ctx context.Context, st simpleblob.Interface, args []string) error {
		load := st.Load
		if snapshotsFlags.uncompress {
			load = func(ctx context.Context, name string) ([]byte, error) {
				return snapshot.Load(ctx, st, name)
			}
		}
		data, err := load(ctx, args[0])
		if err != nil {
			return err
		}
		out := lo.CoalesceOrEmpty(snapshotsFlags.output, args[0])
		return os.WriteFile(out, data, 0666)
	}),
}

var snapshotsPutCmd = &cobra.Command{
	Use:          "put <file>",
	Short:        "Upload a snapshot",
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE: storageCommand(func(ctx context.Context, st simpleblob.Interface, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		f := snapshotsFlags

		if f.position >= 0 {
			ni, stat, err := snapshot.Store(ctx, st, conf.Group.Name, conf.Instance, uint64(f.position), data)
			if err != nil {
				return err
			}
			logrus.WithFields(logrus.Fields{
				"snapshot":        ni.FullName,
				"size_compressed": stat.CompressedSize.HumanReadable(),
			}).Info("Stored snapshot")
			return nil
		}

		name := lo.CoalesceOrEmpty(f.name, filepath.Base(args[0]))
		if _, err := snapshot.ParseName(name); err != nil {
			if !f.force {
				return errors.Wrap(err,
					"invalid snapshot name (use -n to pick another, or --force to skip this check)")
			}
			logrus.WithError(err).Warn("Storing under an invalid snapshot name")
		}
		return st.Store(ctx, name, data)
	}),
}
