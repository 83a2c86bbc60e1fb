package cli

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	units "github.com/docker/go-units"
	"github.com/spf13/cobra"

	"s3pipe/internal/api"
	"s3pipe/internal/combine"
	"s3pipe/internal/config"
	"s3pipe/internal/upload"
)

type putFlags struct {
	partSize    string
	concurrency int
	noAutoAbort bool
	contentType string
}

func newPutCmd(opts *options) *cobra.Command {
	flags := &putFlags{}

	cmd := &cobra.Command{
		Use:   "put <key> [file...]",
		Short: "Upload stdin, or the given files concatenated in order, as one object",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPut(cmd, opts, flags, args[0], args[1:])
		},
	}

	cmd.Flags().StringVar(&flags.partSize, "part-size", "", "Part size such as 16MiB (default from config)")
	cmd.Flags().IntVarP(&flags.concurrency, "concurrency", "c", 0, "Maximum parts in flight (default from config)")
	cmd.Flags().BoolVar(&flags.noAutoAbort, "no-auto-abort", false, "Leave the multipart upload open on failure")
	cmd.Flags().StringVar(&flags.contentType, "content-type", "", "Content type of the object")

	return cmd
}

func runPut(cmd *cobra.Command, opts *options, flags *putFlags, key string, files []string) error {
	streamConfig, err := config.LoadStreamConfig(opts.cfg.StreamConfigPath)
	if err != nil {
		return err
	}

	streamOpts := streamConfig.Options(opts.logger, nil)
	if flags.partSize != "" {
		size, err := config.ParseByteSize(flags.partSize)
		if err == nil {
			streamOpts.PartSize, err = size.Int()
		}
		if err != nil || size == 0 {
			return fmt.Errorf("invalid --part-size %q", flags.partSize)
		}
	}
	if flags.concurrency > 0 {
		streamOpts.MaxConcurrentUploads = flags.concurrency
	}
	// The command aborts on its own so the session is gone before it exits.
	streamOpts.DisableAutoAbort = true

	src, err := openSources(cmd.InOrStdin(), files)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := api.NewStore(ctx, opts.cfg)
	if err != nil {
		src.Close()
		return err
	}

	target := upload.Target{Bucket: opts.cfg.S3Bucket, Key: key, ContentType: flags.contentType}
	stream := upload.NewStream(ctx, store, target, streamOpts)

	fail := func(err error) error {
		if !flags.noAutoAbort {
			if abortErr := stream.Abort(); abortErr != nil {
				opts.logger.Warnf("Failed to abort upload: %v", abortErr)
			}
		}
		return fmt.Errorf("upload of %s failed: %w", key, err)
	}

	// Reading stdin can block indefinitely, so the copy must not keep a
	// cancelled stream waiting.
	copied := make(chan error, 1)
	go func() {
		_, err := io.Copy(stream, src)
		src.Close()
		copied <- err
	}()

	select {
	case err := <-copied:
		if err != nil {
			return fail(err)
		}
	case <-stream.Done():
		_, err := stream.Result()
		return fail(err)
	}

	if err := stream.Close(); err != nil {
		return fail(err)
	}

	completion, _ := stream.Result()
	fmt.Fprintf(cmd.OutOrStdout(), "%s/%s %s %s\n", completion.Bucket, completion.Key, completion.ETag, units.HumanSize(float64(completion.Size)))
	return nil
}

// openSources returns stdin when no files are given.
func openSources(stdin io.Reader, files []string) (*combine.Reader, error) {
	if len(files) == 0 {
		return combine.NewReader(stdin), nil
	}

	sources := make([]io.Reader, 0, len(files))
	for _, name := range files {
		f, err := os.Open(name)
		if err != nil {
			combine.NewReader(sources...).Close()
			return nil, err
		}
		sources = append(sources, f)
	}
	return combine.NewReader(sources...), nil
}
