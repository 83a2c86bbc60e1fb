package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"s3pipe/internal/api"
)

func newGetCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Write an object to stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := api.NewStore(cmd.Context(), opts.cfg)
			if err != nil {
				return err
			}

			body, err := store.GetObject(cmd.Context(), opts.cfg.S3Bucket, args[0])
			if err != nil {
				return fmt.Errorf("failed to get %s: %w", args[0], err)
			}
			defer body.Close()

			_, err = io.Copy(cmd.OutOrStdout(), body)
			return err
		},
	}
}
