package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-lapse/internal/stager"
)

var importCmd = &cobra.Command{
	Use:   "import <path> [path...]",
	Short: "Import photos into the library",
	Long: `Import photos from files or folders into the library.

Every file goes through the same staging as a browser upload: identical
content is detected by fingerprint and reported as a duplicate of the
stored image. Files are staged in batches.

Example:
  face-lapse import ~/selfies
  face-lapse import -r --batch-size 25 ~/selfies/2023 ~/selfies/2024
  face-lapse import IMG_0001.jpg IMG_0002.jpg`,
	Args: cobra.MinimumNArgs(1),
	RunE: runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)
	importCmd.Flags().BoolP("recursive", "r", false, "Search folders recursively")
	importCmd.Flags().Int("batch-size", 10, "Files staged per batch")
	importCmd.Flags().Bool("json", false, "Output descriptors as JSON")
}

// isImageFile checks if a file has an extension the pipeline can ingest
func isImageFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg", ".png", ".webp", ".heic", ".heif", ".bmp", ".tif", ".tiff", ".gif":
		return true
	}
	return false
}

// collectImageFiles expands the arguments into a sorted list of image files.
func collectImageFiles(paths []string, recursive bool) ([]string, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("cannot access %s: %w", p, err)
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}

		if recursive {
			err := filepath.WalkDir(p, func(path string, d os.DirEntry, err error) error {
				if err != nil {
					return err
				}
				if !d.IsDir() && isImageFile(d.Name()) {
					files = append(files, path)
				}
				return nil
			})
			if err != nil {
				return nil, fmt.Errorf("cannot walk folder %s: %w", p, err)
			}
			continue
		}

		entries, err := os.ReadDir(p)
		if err != nil {
			return nil, fmt.Errorf("cannot read folder %s: %w", p, err)
		}
		for _, entry := range entries {
			if !entry.IsDir() && isImageFile(entry.Name()) {
				files = append(files, filepath.Join(p, entry.Name()))
			}
		}
	}
	sort.Strings(files)
	return files, nil
}

func runImport(cmd *cobra.Command, args []string) error {
	recursive := mustGetBool(cmd, "recursive")
	batchSize := mustGetInt(cmd, "batch-size")
	jsonOutput := mustGetBool(cmd, "json")
	if batchSize < 1 {
		return errors.New("--batch-size must be at least 1")
	}

	files, err := collectImageFiles(args, recursive)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		fmt.Println("No image files found.")
		return nil
	}

	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	var bar *progressbar.ProgressBar
	if !jsonOutput {
		fmt.Printf("Found %d image(s) to import\n", len(files))
		bar = progressbar.NewOptions(len(files),
			progressbar.OptionSetDescription("Importing"),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("files"),
			progressbar.OptionShowElapsedTimeOnFinish(),
			progressbar.OptionSetPredictTime(true),
			progressbar.OptionFullWidth(),
		)
	}

	var (
		all                    []stager.Descriptor
		created, skipped, fail int
	)
	for start := 0; start < len(files); start += batchSize {
		end := min(start+batchSize, len(files))
		batch := make([]stager.Upload, 0, end-start)
		for _, path := range files[start:end] {
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", path, err)
			}
			batch = append(batch, stager.Upload{Filename: filepath.Base(path), Data: data})
		}

		descriptors, err := a.stager.Stage(ctx, batch)
		if err != nil {
			return fmt.Errorf("import failed after %d file(s): %w", start, err)
		}
		for _, d := range descriptors {
			switch {
			case d.Error != "":
				fail++
			case d.Skipped:
				skipped++
			default:
				created++
			}
		}
		all = append(all, descriptors...)
		if bar != nil {
			bar.Add(len(batch))
		}
	}

	if jsonOutput {
		return outputJSON(all)
	}

	fmt.Println()
	for _, d := range all {
		if d.Error != "" {
			fmt.Printf("Failed: %s: %s\n", d.SourceFilename, d.Error)
		}
	}
	fmt.Printf("Imported %d new, %d duplicate(s), %d failed\n", created, skipped, fail)
	if created > 0 {
		fmt.Println("Run 'face-lapse align --pending' to align the new photos.")
	}
	return nil
}
