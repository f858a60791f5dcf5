package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/lead-enrich/internal/excel"
)

var exportCmd = &cobra.Command{
	Use:   "export <output.xlsx>",
	Short: "Write the enriched workbook from stored results",
	Long:  "Re-reads the workbook recorded by the last enrich run and writes a copy with the enrichment columns appended. Useful after a timeout sweep or late callbacks.",
	Args:  cobra.ExactArgs(1),
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

		input, ok, err := st.GetMeta(ctx, excel.MetaInputFile)
		if err != nil {
			return eris.Wrap(err, "read input file meta")
		}
		if !ok {
			return eris.New("no input file recorded; run enrich first")
		}

		n, err := excel.Export(ctx, st, input, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Exported %d rows to %s\n", n, args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(exportCmd)
}
