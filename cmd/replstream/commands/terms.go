package commands

import (
	"fmt"
	"strconv"

	"github.com/PowerDNS/lmdb-go/lmdb"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/PowerDNS/replstream/config"
	"github.com/PowerDNS/replstream/lmdbenv"
	"github.com/PowerDNS/replstream/termlog"
	"github.com/PowerDNS/replstream/termlog/lmdbterms"
)

// termSource is the term index configured in the config file
type termSource struct {
	termlog.Locator
	env   *lmdb.Env        // nil for static terms
	store *lmdbterms.Store // nil for static terms
	log   *termlog.Log     // nil for LMDB terms
}

func openTerms(c config.Terms) (*termSource, error) {
	if c.LMDB.Path == "" {
		l := termlog.New()
		for i, t := range c.Static {
			if err := l.DefineTerm(t.PrevTerm, t.Term, t.Start); err != nil {
				return nil, errors.Wrapf(err, "terms.static[%d]", i)
			}
		}
		l.Commit(c.Committed)
		return &termSource{Locator: l, log: l}, nil
	}

	env, err := lmdbenv.NewWithOptions(c.LMDB.Path, c.LMDB.Options)
	if err != nil {
		return nil, errors.Wrap(err, "terms.lmdb")
	}
	store, err := lmdbterms.Open(env)
	if err != nil {
		_ = env.Close()
		return nil, errors.Wrap(err, "terms.lmdb")
	}
	logrus.WithField("path", c.LMDB.Path).Debug("Opened term index")
	return &termSource{Locator: store, env: env, store: store}, nil
}

// Terms lists all known terms
func (ts *termSource) Terms() ([]termlog.Term, error) {
	if ts.store != nil {
		return ts.store.Terms()
	}
	return ts.log.Terms(), nil
}

func (ts *termSource) Close() {
	if ts.env != nil {
		_ = ts.env.Close()
	}
}

func (ts *termSource) requireLMDB() error {
	if ts.store == nil {
		return errors.New("terms are static in the config, configure terms.lmdb to modify them")
	}
	return nil
}

func init() {
	rootCmd.AddCommand(termsCmd)
	termsCmd.AddCommand(termsListCmd)
	termsCmd.AddCommand(termsLookupCmd)
	termsCmd.AddCommand(termsDefineCmd)
	termsCmd.AddCommand(termsCommitCmd)
}

func parseUints(args []string) ([]uint64, error) {
	res := make([]uint64, len(args))
	for i, arg := range args {
		v, err := strconv.ParseUint(arg, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q: %v", arg, err)
		}
		res[i] = v
	}
	return res, nil
}

var termsCmd = &cobra.Command{
	Use:   "terms",
	Short: "Term index operations (list, lookup, define, commit)",
	Run: func(cmd *cobra.Command, args []string) {
		_ = cmd.Help()
	},
}

var termsListCmd = &cobra.Command{
	Use:          "list",
	Short:        "List the terms and the positions they cover",
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		ts, err := openTerms(conf.Terms)
		if err != nil {
			return err
		}
		defer ts.Close()

		terms, err := ts.Terms()
		if err != nil {
			return err
		}
		fmt.Printf("%10s %10s %20s %20s\n", "TERM", "PREV", "START", "END")
		for _, t := range terms {
			fmt.Printf("%10d %10d %20d %20d\n", t.Num, t.Prev, t.Start, t.End)
		}
		return nil
	},
}

var termsLookupCmd = &cobra.Command{
	Use:          "lookup <position>",
	Short:        "Show the term and previous term a snapshot at a position would carry",
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := parseUints(args)
		if err != nil {
			return err
		}
		ts, err := openTerms(conf.Terms)
		if err != nil {
			return err
		}
		defer ts.Close()

		tl, err := ts.TermLogAt(v[0])
		if err != nil {
			return err
		}
		fmt.Printf("position %d: term %d, prev term %d, term covers [%d, %d]\n",
			v[0], tl.Term(), tl.PrevTermAt(v[0]), tl.StartPosition(), tl.EndPosition())
		return nil
	},
}

var termsDefineCmd = &cobra.Command{
	Use:          "define <prev-term> <term> <start>",
	Short:        "Start a new term at a position in the LMDB term index",
	Args:         cobra.ExactArgs(3),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := parseUints(args)
		if err != nil {
			return err
		}
		ts, err := openTerms(conf.Terms)
		if err != nil {
			return err
		}
		defer ts.Close()
		if err := ts.requireLMDB(); err != nil {
			return err
		}
		return ts.store.DefineTerm(v[0], v[1], v[2])
	},
}

var termsCommitCmd = &cobra.Command{
	Use:          "commit <position>",
	Short:        "Record the highest committed position in the LMDB term index",
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := parseUints(args)
		if err != nil {
			return err
		}
		ts, err := openTerms(conf.Terms)
		if err != nil {
			return err
		}
		defer ts.Close()
		if err := ts.requireLMDB(); err != nil {
			return err
		}
		return ts.store.Commit(v[0])
	},
}
