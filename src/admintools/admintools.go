package admintools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"git.handmade.network/hmn/assetpipe/src/assetdata"
	"git.handmade.network/hmn/assetpipe/src/config"
	"git.handmade.network/hmn/assetpipe/src/db"
	"git.handmade.network/hmn/assetpipe/src/oops"
	"git.handmade.network/hmn/assetpipe/src/queue"
	"git.handmade.network/hmn/assetpipe/src/website"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func init() {
	adminCommand := &cobra.Command{
		Use:   "admin",
		Short: "Miscellaneous admin commands",
	}
	website.AssetpipeCommand.AddCommand(adminCommand)

	requeueCommand := &cobra.Command{
		Use:   "requeue [version id]",
		Short: "Enqueue a render job for an asset version",
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) < 1 {
				fmt.Printf("You must provide a version id.\n\n")
				cmd.Usage()
				os.Exit(1)
			}

			versionID, err := uuid.Parse(args[0])
			if err != nil {
				fmt.Printf("ERROR: bad version id: %v\n", err)
				os.Exit(1)
			}

			ctx := context.Background()
			pool, err := db.NewConnPool(ctx, config.Config.Postgres)
			exitOnError(err)
			defer pool.Close()
			q, err := queue.Open(ctx, config.Config.Queue)
			exitOnError(err)
			defer q.Close()

			err = RequeueVersion(ctx, assetdata.NewPgStore(pool), q, config.Config.Queue.WorkQueue, versionID)
			exitOnError(err)
			fmt.Printf("Enqueued render job for version %s\n", versionID)
		},
	}
	adminCommand.AddCommand(requeueCommand)

	var retryDeadLetters bool
	deadLettersCommand := &cobra.Command{
		Use:   "deadletters",
		Short: "Drain and print the dead-letter queue",
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()
			q, err := queue.Open(ctx, config.Config.Queue)
			exitOnError(err)
			defer q.Close()

			n, err := DrainDeadLetters(ctx, q, config.Config.Queue, retryDeadLetters, os.Stdout)
			exitOnError(err)
			fmt.Printf("Drained %d dead letters\n", n)
		},
	}
	deadLettersCommand.Flags().BoolVar(&retryDeadLetters, "retry", false, "Put each dead-lettered version back on the work queue")
	adminCommand.AddCommand(deadLettersCommand)

	renditionsCommand := &cobra.Command{
		Use:   "renditions [version id]",
		Short: "List every rendition of an asset version, ready or not",
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) < 1 {
				fmt.Printf("You must provide a version id.\n\n")
				cmd.Usage()
				os.Exit(1)
			}
			versionID, err := uuid.Parse(args[0])
			if err != nil {
				fmt.Printf("ERROR: bad version id: %v\n", err)
				os.Exit(1)
			}

			ctx := context.Background()
			pool, err := db.NewConnPool(ctx, config.Config.Postgres)
			exitOnError(err)
			defer pool.Close()

			renditions, err := assetdata.NewPgStore(pool).ListRenditions(ctx, versionID, false)
			exitOnError(err)
			for _, r := range renditions {
				fmt.Printf("%-8s %5dx%-5d ready=%-5v %s\n", r.Kind, r.Width, r.Height, r.Ready, r.Key)
			}
			fmt.Printf("%d renditions\n", len(renditions))
		},
	}
	adminCommand.AddCommand(renditionsCommand)
}

func exitOnError(err error) {
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
}

func RequeueVersion(ctx context.Context, versions assetdata.RenditionStore, q queue.Queue, workQueue string, versionID uuid.UUID) error {
	if _, err := versions.GetVersion(ctx, versionID); err != nil {
		return err
	}
	return queue.EnqueueJSON(ctx, q, workQueue, queue.RenderJob{VersionID: versionID})
}

/*
Pops dead letters until the queue is empty, writing each one to out. With
retry set, every letter that names a valid version is put back on the work
queue. Letters are consumed either way; there is no way to peek at a remote
queue.
*/
func DrainDeadLetters(ctx context.Context, q queue.Queue, cfg config.QueueConfig, retry bool, out io.Writer) (int, error) {
	n := 0
	for {
		payload, err := q.Dequeue(ctx, cfg.DeadLetterQueue, time.Second)
		if err != nil {
			return n, oops.New(err, "failed to read dead letters")
		}
		if payload == nil {
			return n, nil
		}
		n++

		var letter queue.DeadLetter
		if err := json.Unmarshal(payload, &letter); err != nil {
			fmt.Fprintf(out, "undecodable dead letter: %s\n", payload)
			continue
		}
		fmt.Fprintf(out, "[%s] version %s: %s\n", letter.Timestamp, letter.VersionID, letter.Error)

		if retry {
			versionID, err := uuid.Parse(letter.VersionID)
			if err != nil {
				fmt.Fprintf(out, "  not retrying: bad version id\n")
				continue
			}
			if err := queue.EnqueueJSON(ctx, q, cfg.WorkQueue, queue.RenderJob{VersionID: versionID}); err != nil {
				return n, err
			}
			fmt.Fprintf(out, "  requeued\n")
		}
	}
}
