package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/lead-enrich/internal/excel"
	"github.com/sells-group/lead-enrich/internal/model"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show per-provider enrichment progress for the current dataset",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("store"); err != nil {
			return err
		}
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		summary, err := st.StatusSummary(ctx)
		if err != nil {
			return eris.Wrap(err, "status summary")
		}

		if input, ok, err := st.GetMeta(ctx, excel.MetaInputFile); err == nil && ok {
			fmt.Printf("Input: %s\n\n", input)
		}
		formatSummary(os.Stdout, summary)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func formatSummary(out io.Writer, s *model.StatusSummary) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PROVIDER\tCOMPLETE\tERROR\tAWAITING\tTIMEOUT\tPENDING")
	fmt.Fprintf(w, "lusha\t%d\t%d\t-\t-\t%d\n",
		s.Lusha.Complete, s.Lusha.Error, s.Lusha.Pending)
	fmt.Fprintf(w, "apollo\t%d\t%d\t%d\t%d\t%d\n",
		s.Apollo.Complete, s.Apollo.Error, s.Apollo.AwaitingCallback, s.Apollo.Timeout, s.Apollo.Pending)
	w.Flush()
	fmt.Fprintf(out, "\nTotal rows: %d\n", s.TotalRows)
}
