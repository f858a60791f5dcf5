package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/lead-enrich/internal/excel"
	"github.com/sells-group/lead-enrich/internal/pipeline"
)

var (
	enrichOutput string
	rulesPath    string
)

var enrichCmd = &cobra.Command{
	Use:   "enrich <input.xlsx>",
	Short: "Run the full enrichment pipeline on a workbook",
	Long:  "Loads the workbook, enriches every person through Lusha and Apollo, waits for Apollo's phone callbacks on the local webhook listener, and writes the enriched copy.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		mapping, err := explicitMapping(cmd)
		if err != nil {
			return err
		}

		env, err := initPipeline(ctx, "enrich")
		if err != nil {
			return err
		}
		defer env.Close()

		input := args[0]
		output := enrichOutput
		if output == "" {
			output = deriveOutputPath(input)
		}

		// Standalone mode runs its own callback listener; serve mode
		// mounts the same routes into the API server instead.
		env.Listener.Start(cfg.Webhook.Port)
		defer func() {
			shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = env.Listener.Shutdown(shutCtx)
		}()

		run, err := env.Pipeline.Run(ctx, pipeline.RunRequest{
			InputPath:  input,
			OutputPath: output,
			Mapping:    mapping,
		})
		if err != nil {
			return eris.Wrap(err, "enrich")
		}

		summary, err := env.Store.StatusSummary(ctx)
		if err != nil {
			return eris.Wrap(err, "status summary")
		}

		fmt.Printf("Run %s: %s\n\n", truncateID(run.ID), run.Status)
		formatSummary(os.Stdout, summary)
		fmt.Printf("\nOutput: %s\n", run.OutputFile)
		return nil
	},
}

func init() {
	enrichCmd.Flags().StringVarP(&enrichOutput, "output", "o", "", "output workbook path (default <input>_enriched.xlsx)")
	enrichCmd.Flags().Int("first", 0, "0-based first-name column, skips detection")
	enrichCmd.Flags().Int("last", 0, "0-based last-name column, skips detection")
	enrichCmd.Flags().Int("company", 0, "0-based company column, skips detection")
	enrichCmd.Flags().StringVar(&rulesPath, "rules", "", "YAML phone classification rules override")
	rootCmd.AddCommand(enrichCmd)
}

// explicitMapping builds the column mapping from --first/--last/--company.
// The three flags travel together; giving none means model detection.
func explicitMapping(cmd *cobra.Command) (*excel.ColumnMapping, error) {
	flags := cmd.Flags()
	set := 0
	for _, name := range []string{"first", "last", "company"} {
		if flags.Changed(name) {
			set++
		}
	}
	switch set {
	case 0:
		return nil, nil
	case 3:
		first, _ := flags.GetInt("first")
		last, _ := flags.GetInt("last")
		company, _ := flags.GetInt("company")
		return &excel.ColumnMapping{FirstName: first, LastName: last, Company: company}, nil
	default:
		return nil, eris.New("--first, --last, and --company must be given together")
	}
}

// deriveOutputPath appends _enriched to the input file stem.
func deriveOutputPath(input string) string {
	ext := filepath.Ext(input)
	return strings.TrimSuffix(input, ext) + "_enriched" + ext
}
