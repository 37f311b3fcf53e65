package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/your-org/chirp/internal/auth"
	"github.com/your-org/chirp/internal/storage"
)

func newBackfillCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "backfill-dimensions",
		Short: "Fill in width and height for images stored without them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(cmd.Context(), func(db *storage.PostgresStore) error {
				tools, err := ctx.newFaceTools(cmd.Context(), db, false)
				if err != nil {
					return err
				}
				defer tools.close()

				updated, failed, err := tools.service.BackfillDimensions(cmd.Context(), limit)
				fmt.Fprintf(cmd.OutOrStdout(), "Updated %d images, %d failed\n", updated, failed)
				return err
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 1000, "Maximum number of images to update")
	return cmd
}

func newSweepCommand(ctx *commandContext) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Delete finished scrape jobs older than the retention window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if olderThan <= 0 {
				olderThan = cfg.Scrape.Retention
			}
			return ctx.withStore(cmd.Context(), func(db *storage.PostgresStore) error {
				n, err := db.DeleteJobsOlderThan(cmd.Context(), time.Now().Add(-olderThan))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d jobs older than %s\n", n, olderThan)
				return nil
			})
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "Age cutoff (defaults to scrape.retention)")
	return cmd
}

func newSetAPIKeyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "set-api-key",
		Short: "Store a bcrypt hash of a new API key",
		Long:  "Reads the new key twice from stdin and stores its hash. Requests may then use either this key or the one in the config file.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := readConfirmedKey(cmd.InOrStdin(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			hash, err := auth.HashKey(key)
			if err != nil {
				return err
			}
			return ctx.withStore(cmd.Context(), func(db *storage.PostgresStore) error {
				if err := db.SetConfigValue(cmd.Context(), storage.ConfigKeyAPIKeyHash, hash); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "API key updated.")
				return nil
			})
		},
	}
}

// readConfirmedKey reads a key and its confirmation, one per line.
func readConfirmedKey(in io.Reader, prompt io.Writer) (string, error) {
	scanner := bufio.NewScanner(in)
	read := func(label string) (string, error) {
		fmt.Fprint(prompt, label)
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return "", err
			}
			return "", io.ErrUnexpectedEOF
		}
		return strings.TrimSpace(scanner.Text()), nil
	}

	key, err := read("New API key: ")
	if err != nil {
		return "", err
	}
	confirm, err := read("Confirm API key: ")
	if err != nil {
		return "", err
	}
	if key != confirm {
		return "", errors.New("keys do not match")
	}
	return key, nil
}
