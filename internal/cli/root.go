package cli

import (
	"fmt"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/spf13/cobra"

	"s3pipe/internal/config"
)

type options struct {
	cfg    *config.Config
	logger log.Logger
}

func newRootCmd() *cobra.Command {
	opts := &options{cfg: config.Load(), logger: log.NewLogger()}

	rootCmd := &cobra.Command{
		Use:           "s3pipe",
		Short:         "Stream data into S3 multipart uploads",
		Long:          "Stream stdin or files of unknown length into one S3 object without buffering it whole",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			opts.logger.EnableDebugLog(opts.cfg.Debug)
			if err := opts.cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			return nil
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.cfg.S3Bucket, "bucket", "b", opts.cfg.S3Bucket, "Target bucket")
	flags.StringVar(&opts.cfg.StorageBackend, "backend", opts.cfg.StorageBackend, "Storage backend: s3 or minio")
	flags.StringVar(&opts.cfg.S3Endpoint, "endpoint", opts.cfg.S3Endpoint, "Endpoint of an S3-compatible store")
	flags.StringVar(&opts.cfg.S3Region, "region", opts.cfg.S3Region, "Bucket region")
	flags.BoolVar(&opts.cfg.MinioUseSSL, "ssl", opts.cfg.MinioUseSSL, "Use TLS for the minio backend")
	flags.StringVar(&opts.cfg.StreamConfigPath, "config", opts.cfg.StreamConfigPath, "Path to the stream config file")
	flags.BoolVar(&opts.cfg.Debug, "debug", opts.cfg.Debug, "Enable debug logging")

	rootCmd.AddCommand(newPutCmd(opts))
	rootCmd.AddCommand(newGetCmd(opts))

	return rootCmd
}

func Execute() error {
	return newRootCmd().Execute()
}
