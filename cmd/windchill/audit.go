package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jmerrifield20/windchill/internal/ledger"
	"github.com/jmerrifield20/windchill/pkg/client"
)

// ── verify ───────────────────────────────────────────────────────────────────

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the whole chain from genesis",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if serverURL != "" {
			c, err := remote()
			if err != nil {
				return err
			}
			v, err := c.Verify(ctx)
			if err != nil {
				return err
			}
			return reportVerdict(v)
		}

		// A tampered file is refused at open; report it like any other
		// verification failure.
		err := withLedger(ctx, func(fl *ledger.FileLedger) error {
			if err := fl.VerifyChain(ctx); err != nil {
				return err
			}
			n, _ := fl.Len(ctx)
			root, _ := fl.Root(ctx)
			fmt.Printf("ok: %d entries, root %s\n", n, root.Hex())
			return nil
		})
		return localVerdict(err)
	},
}

// ── verify-entry ─────────────────────────────────────────────────────────────

var verifyEntryCmd = &cobra.Command{
	Use:   "verify-entry <seq>",
	Short: "Check one entry against its predecessor",
	Long: `verify-entry recomputes a single link. It is a spot check: an entry that
passes may still sit on a chain that was rewritten before it. Use 'verify'
to prove the chain.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		seq, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("seq must be a non-negative integer")
		}
		ctx := cmd.Context()

		if serverURL != "" {
			c, err := remote()
			if err != nil {
				return err
			}
			v, err := c.VerifyEntry(ctx, seq)
			if err != nil {
				return err
			}
			return reportVerdict(v)
		}

		err = withLedger(ctx, func(fl *ledger.FileLedger) error {
			if err := fl.VerifyEntry(ctx, seq); err != nil {
				return err
			}
			fmt.Printf("ok: entry %d links to its predecessor\n", seq)
			return nil
		})
		return localVerdict(err)
	},
}

func localVerdict(err error) error {
	var ie *ledger.IntegrityError
	if errors.As(err, &ie) {
		fmt.Fprintf(os.Stderr, "FAILED at sequence %d: %s\n", ie.SequenceID, ie.Reason)
		if !ie.Expected.IsZero() || !ie.Actual.IsZero() {
			fmt.Fprintf(os.Stderr, "  expected root %s\n  stored root   %s\n", ie.Expected.Hex(), ie.Actual.Hex())
		}
		return errVerifyFailed
	}
	return err
}

func reportVerdict(v *client.Verdict) error {
	if v.Valid {
		fmt.Println("ok")
		return nil
	}
	fmt.Fprintf(os.Stderr, "FAILED at sequence %d: %s\n", v.SequenceID, v.Reason)
	if v.Expected != "" {
		fmt.Fprintf(os.Stderr, "  expected root %s\n  stored root   %s\n", v.Expected, v.Actual)
	}
	return errVerifyFailed
}

// ── show ─────────────────────────────────────────────────────────────────────

var showCmd = &cobra.Command{
	Use:   "show <seq>",
	Short: "Print one ledger entry as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		seq, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("seq must be a non-negative integer")
		}
		ctx := cmd.Context()

		if serverURL != "" {
			c, err := remote()
			if err != nil {
				return err
			}
			e, err := c.Entry(ctx, seq)
			if err != nil {
				return err
			}
			return printJSON(e)
		}

		return withLedger(ctx, func(fl *ledger.FileLedger) error {
			e, err := fl.Get(ctx, seq)
			if err != nil {
				return err
			}
			return printJSON(e)
		})
	},
}

// ── list ─────────────────────────────────────────────────────────────────────

var (
	listFrom  uint64
	listLimit int
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List ledger entries as a table",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "SEQ\tTYPE\tTIMESTAMP\tSCENE\tROOT")
		row := func(seq uint64, typ string, ts float64, scene, root string) {
			fmt.Fprintf(w, "%d\t%s\t%.4f\t%s\t%s\n", seq, typ, ts, scene, root)
		}

		if serverURL != "" {
			c, err := remote()
			if err != nil {
				return err
			}
			page, err := c.Entries(ctx, listFrom, listLimit)
			if err != nil {
				return err
			}
			for _, e := range page.Entries {
				row(e.SequenceID, e.EntryType, e.Timestamp, e.SceneID, e.MerkleRoot)
			}
			return w.Flush()
		}

		err := withLedger(ctx, func(fl *ledger.FileLedger) error {
			shown := 0
			for e, err := range fl.EntriesFrom(ctx, listFrom) {
				if err != nil {
					return err
				}
				if shown == listLimit {
					break
				}
				row(e.SequenceID, e.Type.String(), e.Timestamp, e.SceneID, e.RootHex())
				shown++
			}
			return nil
		})
		if err != nil {
			return err
		}
		return w.Flush()
	},
}

func init() {
	listCmd.Flags().Uint64Var(&listFrom, "from", 0, "first sequence id to list")
	listCmd.Flags().IntVar(&listLimit, "limit", 100, "maximum number of entries")
}
