// Command mkfs formats a fresh volume image: it creates the backing file,
// stamps it with a volume UUID, and lays down an empty root directory
// through fsys.Format.
package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/minifs/filesys/backend/file"
	"github.com/minifs/filesys/fsys"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "mkfs <image> <sectors>",
	Short: "Format a new minifs volume image",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		log := logrus.StandardLogger()
		if verbose {
			log.SetLevel(logrus.DebugLevel)
		}

		sectors, err := strconv.ParseUint(args[1], 10, 32)
		if err != nil {
			return fmt.Errorf("mkfs: invalid sector count %q: %w", args[1], err)
		}

		b, err := file.CreateFromPath(args[0], uint32(sectors))
		if err != nil {
			return err
		}
		defer b.Close()

		id, err := b.StampVolumeID()
		if err != nil {
			return err
		}

		fs, err := fsys.Format(b, log)
		if err != nil {
			return fmt.Errorf("mkfs: format: %w", err)
		}
		if err := fs.Done(); err != nil {
			return fmt.Errorf("mkfs: done: %w", err)
		}

		fmt.Printf("formatted %s: %d sectors, volume %s\n", args[0], sectors, id)
		return nil
	},
}

func init() {
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log at debug level")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
