package main

import (
	"encoding/json"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/finrecon/internal/model"
	"github.com/sells-group/finrecon/internal/workflow"
)

var (
	ingestCompany  string
	ingestNoCache  bool
	ingestForce    bool
	ingestOutput   string
	ingestTemporal bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [files...]",
	Short: "Ingest financial documents for a company",
	Long:  "Extracts, normalizes and reconciles the given files (local paths, http(s):// or ftp:// URLs) and prints the batch result as JSON.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		req := buildIngestRequest(ingestCompany, args, ingestNoCache, ingestForce)

		var batch *model.BatchResult
		if ingestTemporal {
			if cfg.Temporal.TaskQueue == "" {
				return eris.New("temporal.task_queue is required with --temporal")
			}
			c, err := workflow.Dial(cfg.Temporal)
			if err != nil {
				return err
			}
			defer c.Close()
			if batch, err = workflow.Run(ctx, c, cfg.Temporal.TaskQueue, req); err != nil {
				return err
			}
		} else {
			env, err := initEnv(ctx, "ingest")
			if err != nil {
				return err
			}
			defer env.Close()

			if batch, err = env.Pipeline.Run(ctx, req); err != nil {
				return err
			}
			usage := env.Oracle.Usage()
			zap.L().Info("token usage",
				zap.Int64("input", usage.InputTokens),
				zap.Int64("output", usage.OutputTokens),
				zap.Int64("cache_read", usage.CacheReadInputTokens),
			)
		}

		out := cmd.OutOrStdout()
		if ingestOutput != "" {
			f, err := os.Create(ingestOutput)
			if err != nil {
				return eris.Wrap(err, "create output file")
			}
			defer f.Close() //nolint:errcheck
			out = f
		}
		if err := writeBatch(out, batch); err != nil {
			return err
		}

		if batch.Status == model.BatchError {
			return eris.Errorf("all %d files failed", batch.Summary.Total)
		}
		return nil
	},
}

func buildIngestRequest(company string, paths []string, noCache, force bool) model.IngestRequest {
	req := model.IngestRequest{
		CompanySlug:    company,
		FilePaths:      paths,
		ForceReextract: force,
	}
	if noCache {
		off := false
		req.UseCache = &off
	}
	return req
}

func writeBatch(w io.Writer, batch *model.BatchResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(batch), "write batch result")
}

func init() {
	ingestCmd.Flags().StringVarP(&ingestCompany, "company", "c", "", "company slug (required)")
	ingestCmd.Flags().BoolVar(&ingestNoCache, "no-cache", false, "neither read nor write the extraction cache")
	ingestCmd.Flags().BoolVar(&ingestForce, "force", false, "re-extract even when a cached extraction exists")
	ingestCmd.Flags().StringVarP(&ingestOutput, "output", "o", "", "write the batch result to a file instead of stdout")
	ingestCmd.Flags().BoolVar(&ingestTemporal, "temporal", false, "run the batch as a Temporal workflow")
	_ = ingestCmd.MarkFlagRequired("company")
	rootCmd.AddCommand(ingestCmd)
}
