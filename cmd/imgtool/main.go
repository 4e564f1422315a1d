// Command imgtool inspects and moves data in and out of minifs volume
// images: describing the backing file's host metadata, listing
// directories, reporting free-space fragmentation, and importing/
// exporting file contents, optionally through an lz4 or xz compressor.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/pierrec/lz4"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/ulikunitz/xz"

	"github.com/minifs/filesys/backend/file"
	"github.com/minifs/filesys/fsys"
	"github.com/minifs/filesys/handle"
)

var imagePath string

var rootCmd = &cobra.Command{
	Use:   "imgtool",
	Short: "Inspect and move data in and out of a minifs volume image",
}

var describeCmd = &cobra.Command{
	Use:   "describe",
	Short: "Print host file system metadata about the image",
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := file.OpenFromPath(imagePath, true)
		if err != nil {
			return err
		}
		defer b.Close()

		d, err := b.Describe()
		if err != nil {
			return err
		}
		fmt.Printf("path:     %s\n", d.Path)
		fmt.Printf("sectors:  %d\n", d.Sectors)
		fmt.Printf("volume:   %s\n", d.VolumeID)
		fmt.Printf("version:  %s\n", d.Version)
		fmt.Printf("modified: %s\n", d.ModTime)
		if d.HasBirth {
			fmt.Printf("created:  %s\n", d.BirthTime)
		}
		if d.HasChange {
			fmt.Printf("changed:  %s\n", d.ChangeTime)
		}
		return nil
	},
}

var dfCmd = &cobra.Command{
	Use:   "df",
	Short: "Report free-sector fragmentation",
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := file.OpenFromPath(imagePath, true)
		if err != nil {
			return err
		}
		defer b.Close()

		fs, err := fsys.Open(b, quietLog(), fsys.Options{ReadOnly: true})
		if err != nil {
			return err
		}
		fmt.Printf("free sectors: %d\n", fs.FreeSectors())
		for _, run := range fs.FreeRuns() {
			fmt.Printf("  run at %d, length %d\n", run.Position, run.Count)
		}
		return nil
	},
}

var lsCmd = &cobra.Command{
	Use:   "ls <path>",
	Short: "List a directory's entries",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := file.OpenFromPath(imagePath, true)
		if err != nil {
			return err
		}
		defer b.Close()

		fs, err := fsys.Open(b, quietLog(), fsys.Options{ReadOnly: true})
		if err != nil {
			return err
		}
		cwd, err := fs.RootCwd()
		if err != nil {
			return err
		}
		defer fs.CloseCwd(cwd)

		names, err := fs.Readdir(cwd, args[0])
		if err != nil {
			return err
		}
		for _, name := range names {
			fmt.Println(name)
		}
		return nil
	},
}

var exportCompress string

var exportCmd = &cobra.Command{
	Use:   "export <path-in-image> <host-file>",
	Short: "Copy a file out of the image, optionally compressing it",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := file.OpenFromPath(imagePath, true)
		if err != nil {
			return err
		}
		defer b.Close()

		fs, err := fsys.Open(b, quietLog(), fsys.Options{ReadOnly: true})
		if err != nil {
			return err
		}
		cwd, err := fs.RootCwd()
		if err != nil {
			return err
		}
		defer fs.CloseCwd(cwd)

		src, err := fs.Open(cwd, args[0])
		if err != nil {
			return err
		}
		defer src.Close()

		out, err := os.Create(args[1])
		if err != nil {
			return err
		}
		defer out.Close()

		w, closeW, err := wrapWriter(out, exportCompress)
		if err != nil {
			return err
		}
		if _, err := copyFromHandle(w, src); err != nil {
			return err
		}
		return closeW()
	},
}

var importCompress string

var importCmd = &cobra.Command{
	Use:   "import <host-file> <path-in-image>",
	Short: "Copy a host file into the image, optionally decompressing it",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := file.OpenFromPath(imagePath, false)
		if err != nil {
			return err
		}
		defer b.Close()

		fs, err := fsys.Open(b, quietLog(), fsys.Options{})
		if err != nil {
			return err
		}
		cwd, err := fs.RootCwd()
		if err != nil {
			return err
		}
		defer fs.CloseCwd(cwd)

		in, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer in.Close()

		r, err := wrapReader(in, importCompress)
		if err != nil {
			return err
		}

		if err := fs.Create(cwd, args[1], 0, false); err != nil {
			return err
		}
		dst, err := fs.Open(cwd, args[1])
		if err != nil {
			return err
		}
		defer dst.Close()

		_, err = copyIntoHandle(dst, r)
		if err != nil {
			return err
		}
		return fs.Done()
	},
}

func quietLog() logrus.FieldLogger {
	l := logrus.New()
	l.SetLevel(logrus.WarnLevel)
	return l
}

// wrapWriter returns w wrapped by the requested compressor, and a close
// function the caller must call to flush it (compressors buffer output
// until Close).
func wrapWriter(w io.Writer, compress string) (io.Writer, func() error, error) {
	switch compress {
	case "", "none":
		return w, func() error { return nil }, nil
	case "lz4":
		lw := lz4.NewWriter(w)
		return lw, lw.Close, nil
	case "xz":
		xw, err := xz.NewWriter(w)
		if err != nil {
			return nil, nil, fmt.Errorf("imgtool: xz writer: %w", err)
		}
		return xw, xw.Close, nil
	default:
		return nil, nil, fmt.Errorf("imgtool: unknown compression %q", compress)
	}
}

func wrapReader(r io.Reader, compress string) (io.Reader, error) {
	switch compress {
	case "", "none":
		return r, nil
	case "lz4":
		return lz4.NewReader(r), nil
	case "xz":
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("imgtool: xz reader: %w", err)
		}
		return xr, nil
	default:
		return nil, fmt.Errorf("imgtool: unknown compression %q", compress)
	}
}

func copyFromHandle(w io.Writer, h *handle.File) (int64, error) {
	buf := make([]byte, 64*1024)
	var total int64
	for {
		n, err := h.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return total, werr
			}
			total += int64(n)
		}
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, nil
		}
	}
}

func copyIntoHandle(h *handle.File, r io.Reader) (int64, error) {
	buf := make([]byte, 64*1024)
	var total int64
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if _, werr := h.Write(buf[:n]); werr != nil {
				return total, werr
			}
			total += int64(n)
		}
		if err == io.EOF {
			return total, nil
		}
		if err != nil {
			return total, err
		}
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&imagePath, "image", "", "path to the volume image")
	rootCmd.MarkPersistentFlagRequired("image")

	exportCmd.Flags().StringVar(&exportCompress, "compress", "none", "none, lz4, or xz")
	importCmd.Flags().StringVar(&importCompress, "compress", "none", "none, lz4, or xz")

	rootCmd.AddCommand(describeCmd, dfCmd, lsCmd, exportCmd, importCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
