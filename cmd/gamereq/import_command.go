package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gamerequest/gamerequest-server/internal/di/providers"
	"github.com/gamerequest/gamerequest-server/internal/importer"
)

func newImportCommand(ctx *commandContext) *cobra.Command {
	var (
		file string
		as   string
	)

	cmd := &cobra.Command{
		Use:   "import [game names...]",
		Short: "Import owned games into the library",
		Long: "Resolves each name against the game catalog and records it as a completed request.\n" +
			"Names come from the arguments and from --file (one per line, - for stdin).\n" +
			"Stop the server first: the command writes to the request index directly.",
		RunE: func(cmd *cobra.Command, args []string) error {
			names := append([]string(nil), args...)
			if file != "" {
				fromFile, err := readNames(cmd.InOrStdin(), file)
				if err != nil {
					return err
				}
				names = append(names, fromFile...)
			}
			if len(names) == 0 {
				return errors.New("no game names given")
			}

			owner, err := ctx.adminActor(cmd.Context(), as)
			if err != nil {
				return err
			}
			// Subscribes the index to the rows the import creates.
			if _, err := invoke[*providers.SearchIndexHandle](ctx); err != nil {
				return err
			}
			orchestrator, err := invoke[*importer.Orchestrator](ctx)
			if err != nil {
				return err
			}

			res, err := orchestrator.ImportBatch(cmd.Context(), names, owner)
			if err != nil {
				return err
			}
			printBatch(cmd.OutOrStdout(), res)
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "File with one game name per line (- for stdin)")
	cmd.Flags().StringVar(&as, "as", "", "Admin username to import as (default: first admin)")
	return cmd
}

// readNames returns the non-blank lines of path. Lines starting with # are
// skipped.
func readNames(stdin io.Reader, path string) ([]string, error) {
	r := stdin
	if path != "-" {
		f, err := os.Open(path) //#nosec G304 -- operator supplied path
		if err != nil {
			return nil, fmt.Errorf("open names file: %w", err)
		}
		defer f.Close()
		r = f
	}

	var names []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		names = append(names, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read names: %w", err)
	}
	return names, nil
}

func printBatch(w io.Writer, res *importer.BatchResult) {
	fmt.Fprintf(w, "Batch %s: %d games, %d imported, %d failed\n",
		res.BatchID, res.Total, res.Successful(), res.FailedCount())

	if len(res.Imported) > 0 {
		rows := make([][]string, 0, len(res.Imported))
		for _, g := range res.Imported {
			rows = append(rows, []string{
				g.OriginalName,
				g.ResolvedName,
				strconv.FormatInt(g.CatalogID, 10),
				strconv.FormatFloat(g.Confidence, 'f', 2, 64),
			})
		}
		fmt.Fprintln(w, renderTable(
			[]string{"Name", "Matched", "IGDB ID", "Confidence"},
			rows,
			[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight},
		))
	}

	if len(res.Failed) > 0 {
		rows := make([][]string, 0, len(res.Failed))
		for _, f := range res.Failed {
			retry := ""
			if f.Class.Retryable() {
				retry = "yes"
			}
			rows = append(rows, []string{f.Name, string(f.Class), f.Reason, retry})
		}
		fmt.Fprintln(w, renderTable(
			[]string{"Name", "Class", "Reason", "Retry"},
			rows,
			nil,
		))
	}
}
