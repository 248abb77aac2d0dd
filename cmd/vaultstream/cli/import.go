package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/richoarbianto/vaultstream"
)

var importName string

var importCmd = &cobra.Command{
	Use:   "import <source>",
	Short: "Import a file into the vault",
	Long: `Import reads the source file in chunk-width windows, encrypts each
window and commits it to the vault. Progress is persisted after every chunk:
re-running the same import after an interruption resumes where it stopped,
as long as the source still fingerprints the same.`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func init() {
	importCmd.Flags().StringVar(&importName, "name", "", "Display name for the imported file (default: source basename)")
	rootCmd.AddCommand(importCmd)
}

func runImport(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	log := newLogger()
	store, err := openStore(log)
	if err != nil {
		return err
	}
	defer store.Close()

	src, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer src.Close()
	info, err := src.Stat()
	if err != nil {
		return err
	}

	name := importName
	if name == "" {
		name = filepath.Base(args[0])
	}

	fp, err := vaultstream.SourceFingerprint(store, src, info.Size())
	if err != nil {
		return fmt.Errorf("fingerprinting source: %w", err)
	}

	cfg := coreConfig(log)
	pipeline, err := vaultstream.StartImport(ctx, store, vaultstream.ImportRequest{
		TargetName:  name,
		TotalBytes:  info.Size(),
		Fingerprint: fp,
		OnProgress:  printProgress,
	}, cfg)
	if err != nil {
		return err
	}

	if pipeline.Resumed() {
		fmt.Fprintf(os.Stderr, "Resuming at chunk %d (%s already committed)\n",
			pipeline.CommittedChunks(), humanize.IBytes(uint64(pipeline.SkipBytes())))
	}
	if _, err := src.Seek(pipeline.SkipBytes(), io.SeekStart); err != nil {
		return fmt.Errorf("seeking to resume point: %w", err)
	}

	state := pipeline.State()
	window := make([]byte, state.ChunkSize)
	for pipeline.CommittedChunks() < state.TotalChunks {
		if err := ctx.Err(); err != nil {
			fmt.Fprintln(os.Stderr, "\nInterrupted; progress is saved, re-run to resume")
			return err
		}
		n, err := io.ReadFull(src, window)
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			err = nil
		}
		if err != nil {
			return fmt.Errorf("reading source: %w", err)
		}
		if _, err := pipeline.WriteChunk(ctx, window[:n]); err != nil {
			return err
		}
	}

	handle, err := pipeline.Finish(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stderr)
	fmt.Printf("Imported %s (%s) as %s\n", handle.Name, humanize.IBytes(uint64(handle.Size)), handle.ID)
	return nil
}

func printProgress(p vaultstream.Progress) {
	fmt.Fprintf(os.Stderr, "\r%s / %s (%d/%d chunks)",
		humanize.IBytes(uint64(p.BytesWritten)), humanize.IBytes(uint64(p.TotalBytes)),
		p.ChunksCompleted, p.TotalChunks)
}
