package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/askscribe/internal/extract"
	"github.com/xxxsen/askscribe/internal/job"
	"github.com/xxxsen/askscribe/internal/schedule"
)

func main() {
	var configPath string
	var userID string

	rootCmd := &cobra.Command{
		Use:           "askscribe",
		Short:         "ask questions about your documents",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.json")
	rootCmd.PersistentFlags().StringVar(&userID, "user", "", "owner of the documents")

	withApp := func(fn func(ctx context.Context, a *app, args []string) error) func(cmd *cobra.Command, args []string) error {
		return func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, configPath)
			if err != nil {
				return err
			}
			defer a.Close()
			return fn(ctx, a, args)
		}
	}
	requireUser := func() error {
		if userID == "" {
			return fmt.Errorf("--user is required")
		}
		return nil
	}

	var displayName string
	var deferProcessing bool
	ingestCmd := &cobra.Command{
		Use:   "ingest FILE...",
		Short: "upload and index documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: withApp(func(ctx context.Context, a *app, args []string) error {
			if err := requireUser(); err != nil {
				return err
			}
			if displayName != "" && len(args) > 1 {
				return fmt.Errorf("--name needs exactly one file")
			}
			failed := 0
			for _, path := range args {
				var err error
				if deferProcessing {
					doc, uerr := a.documents.Upload(ctx, userID, path, displayName)
					if uerr == nil {
						fmt.Printf("%d\t%s\tqueued\n", doc.ID, doc.DisplayName())
					}
					err = uerr
				} else {
					doc, ierr := a.documents.Ingest(ctx, userID, path, displayName)
					if doc != nil {
						status := "processed"
						if !doc.Processed {
							status = "failed"
						}
						fmt.Printf("%d\t%s\t%s\t%d chunks\n", doc.ID, doc.DisplayName(), status, doc.ChunkCount)
					}
					err = ierr
				}
				if err != nil {
					failed++
					fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d files failed", failed, len(args))
			}
			return nil
		}),
	}
	ingestCmd.Flags().StringVar(&displayName, "name", "", "original file name to record")
	ingestCmd.Flags().BoolVar(&deferProcessing, "defer", false, "store only and let serve index it")

	removeCmd := &cobra.Command{
		Use:   "remove DOC_ID",
		Short: "delete a document and its index entries",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, a *app, args []string) error {
			if err := requireUser(); err != nil {
				return err
			}
			id, err := parseDocID(args[0])
			if err != nil {
				return err
			}
			return a.documents.Delete(ctx, userID, id)
		}),
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list documents",
		Args:  cobra.NoArgs,
		RunE: withApp(func(ctx context.Context, a *app, args []string) error {
			if err := requireUser(); err != nil {
				return err
			}
			docs, err := a.documents.List(ctx, userID)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tTYPE\tSIZE\tCHUNKS\tSTATUS\tUPLOADED")
			for _, doc := range docs {
				status := "processed"
				if !doc.Processed {
					status = "pending"
					if doc.LastError != "" {
						status = "failed: " + extract.Truncate(doc.LastError, 40)
					}
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%s\t%s\n", doc.ID, doc.DisplayName(), doc.FileType,
					extract.FormatFileSize(doc.FileSize), doc.ChunkCount, status,
					time.Unix(doc.UploadTime, 0).Format(time.DateTime))
			}
			return w.Flush()
		}),
	}

	chunksCmd := &cobra.Command{
		Use:   "chunks DOC_ID",
		Short: "show the indexed chunks of a document",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, a *app, args []string) error {
			if err := requireUser(); err != nil {
				return err
			}
			id, err := parseDocID(args[0])
			if err != nil {
				return err
			}
			chunks, err := a.documents.Chunks(ctx, userID, id)
			if err != nil {
				return err
			}
			return printJSON(chunks)
		}),
	}

	askCmd := &cobra.Command{
		Use:   "ask QUESTION",
		Short: "answer a question from your documents",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, a *app, args []string) error {
			if err := requireUser(); err != nil {
				return err
			}
			return printJSON(a.engine.Answer(ctx, args[0], userID))
		}),
	}

	var topK int
	searchCmd := &cobra.Command{
		Use:   "search QUERY",
		Short: "show the chunks that best match a query",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, a *app, args []string) error {
			if err := requireUser(); err != nil {
				return err
			}
			results, err := a.store.Search(ctx, args[0], userID, topK)
			if err != nil {
				return err
			}
			return printJSON(results)
		}),
	}
	searchCmd.Flags().IntVarP(&topK, "top", "k", 5, "number of chunks to return")

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "show index statistics",
		Args:  cobra.NoArgs,
		RunE: withApp(func(ctx context.Context, a *app, args []string) error {
			return printJSON(a.store.Stats())
		}),
	}

	reindexCmd := &cobra.Command{
		Use:   "reindex",
		Short: "re-weight every indexed chunk and rewrite the index snapshot",
		Args:  cobra.NoArgs,
		RunE: withApp(func(ctx context.Context, a *app, args []string) error {
			return a.store.Rebuild(ctx)
		}),
	}

	reprocessCmd := &cobra.Command{
		Use:   "reprocess DOC_ID",
		Short: "extract and index a document again",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, a *app, args []string) error {
			if err := requireUser(); err != nil {
				return err
			}
			id, err := parseDocID(args[0])
			if err != nil {
				return err
			}
			doc, err := a.documents.Reprocess(ctx, userID, id)
			if err != nil {
				return err
			}
			fmt.Printf("%d\t%s\t%d chunks\n", doc.ID, doc.DisplayName(), doc.ChunkCount)
			return nil
		}),
	}

	var maxWords int
	summarizeCmd := &cobra.Command{
		Use:   "summarize DOC_ID",
		Short: "summarize a document and list its keywords",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, a *app, args []string) error {
			if err := requireUser(); err != nil {
				return err
			}
			id, err := parseDocID(args[0])
			if err != nil {
				return err
			}
			summary, err := a.documents.Summarize(ctx, userID, id, maxWords)
			if err != nil {
				return err
			}
			return printJSON(summary)
		}),
	}
	summarizeCmd.Flags().IntVar(&maxWords, "words", 500, "maximum summary length in words")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "index queued documents in the background",
		Args:  cobra.NoArgs,
		RunE: withApp(func(ctx context.Context, a *app, args []string) error {
			return runWorker(ctx, a)
		}),
	}

	rootCmd.AddCommand(ingestCmd, removeCmd, listCmd, chunksCmd, askCmd, searchCmd, statsCmd,
		reindexCmd, reprocessCmd, summarizeCmd, serveCmd)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		logutil.GetLogger(context.Background()).Fatal("command failed", zap.Error(err))
	}
}

func runWorker(ctx context.Context, a *app) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	scheduler := schedule.NewCronScheduler()
	pending := job.NewPendingIngestJob(a.documents, a.store, a.cfg.Schedule.Batch)
	if err := scheduler.AddJob(pending, a.cfg.Schedule.PendingSpec); err != nil {
		return fmt.Errorf("schedule %s: %w", pending.Name(), err)
	}
	if spec := a.cfg.Schedule.RebuildSpec; spec != "" {
		rebuild := job.NewIndexRebuildJob(a.store)
		if err := scheduler.AddJob(rebuild, spec); err != nil {
			return fmt.Errorf("schedule %s: %w", rebuild.Name(), err)
		}
	}
	scheduler.Start(ctx)
	logutil.GetLogger(ctx).Info("worker started", zap.String("pending_spec", a.cfg.Schedule.PendingSpec))
	if err := scheduler.RunNow(pending.Name()); err != nil {
		logutil.GetLogger(ctx).Warn("initial pending run failed", zap.Error(err))
	}

	<-ctx.Done()
	logutil.GetLogger(context.Background()).Info("worker stopping...")
	scheduler.Stop()
	return nil
}

func parseDocID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid document id: %s", s)
	}
	return id, nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
