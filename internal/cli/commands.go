package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/halvorsen-labs/devcrypt/internal/chunkcrypt"
)

var (
	workdir   string
	dryRun    bool
	chunkSize int
)

var encCmd = &cobra.Command{
	Use:   "enc <device>",
	Short: "Encrypt a block device in place, one chunk at a time",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMode(chunkcrypt.ModeEncrypt, args[0])
	},
}

var decCmd = &cobra.Command{
	Use:   "dec <device>",
	Short: "Decrypt a block device in place, one chunk at a time",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMode(chunkcrypt.ModeDecrypt, args[0])
	},
}

func init() {
	for _, c := range []*cobra.Command{encCmd, decCmd} {
		c.Flags().StringVarP(&workdir, "workdir", "w", "", "directory holding key material, offset log, sparse log, and stage files (required)")
		c.Flags().BoolVarP(&dryRun, "dry-run", "n", false, "stage and advance state without writing to the device")
		c.Flags().IntVarP(&chunkSize, "chunk-size", "s", 0, "chunk size in bytes, must be a multiple of 16 (default 4096, or devcrypt.yaml's chunk_size)")
		c.MarkFlagRequired("workdir")
	}
}

func runMode(mode chunkcrypt.Mode, devicePath string) error {
	if err := validateWorkdirPath(workdir); err != nil {
		return err
	}
	if err := ensureWorkdir(workdir); err != nil {
		return err
	}

	size := chunkSize
	if size == 0 {
		size = viper.GetInt("chunk_size")
	}

	summary, err := chunkcrypt.Run(chunkcrypt.Config{
		Mode:       mode,
		Workdir:    workdir,
		DevicePath: devicePath,
		ChunkSize:  size,
		DryRun:     dryRun,
		Log:        log,
	})
	if err != nil {
		return err
	}

	if summary.AlreadyDone {
		fmt.Fprintf(log.Out, "already done: %d bytes processed\n", summary.BytesProcessed)
		return nil
	}
	fmt.Fprintf(log.Out, "%s complete: %d bytes processed, %d sparse chunk(s), %s elapsed\n",
		mode, summary.BytesProcessed, summary.SparseChunks, summary.Elapsed)
	return nil
}
