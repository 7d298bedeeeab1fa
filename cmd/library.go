package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-lapse/internal/blob"
	"github.com/kozaktomas/face-lapse/internal/constants"
	"github.com/kozaktomas/face-lapse/internal/database"
	"github.com/kozaktomas/face-lapse/internal/fingerprint"
	"github.com/kozaktomas/face-lapse/internal/raster"
)

// nearHashMaxDim bounds the copy perceptual hashes are computed from.
const nearHashMaxDim = 256

var libraryCmd = &cobra.Command{
	Use:   "library",
	Short: "Library maintenance commands",
}

var checkDuplicatesCmd = &cobra.Command{
	Use:   "check-duplicates",
	Short: "Report stored originals with identical or similar content",
	Long: `Scan every stored original, group files with an identical content
fingerprint and show which of them the database still references.
With --near, also list visually similar pairs by perceptual hash distance.`,
	Args: cobra.NoArgs,
	RunE: runCheckDuplicates,
}

var backfillFingerprintsCmd = &cobra.Command{
	Use:   "backfill-fingerprints",
	Short: "Compute fingerprints for images stored without one",
	Args:  cobra.NoArgs,
	RunE:  runBackfillFingerprints,
}

var interpolateDatesCmd = &cobra.Command{
	Use:   "interpolate-dates",
	Short: "Fill missing capture times from the surrounding photos",
	Args:  cobra.NoArgs,
	RunE:  runInterpolateDates,
}

var repairOrderCmd = &cobra.Command{
	Use:   "repair-order",
	Short: "Renumber the library by its legacy ordering key",
	Long: `Sort the library by sort_order, then the number in the filename, then the
capture time and finally the upload time, and renumber it densely.`,
	Args: cobra.NoArgs,
	RunE: runRepairOrder,
}

func init() {
	rootCmd.AddCommand(libraryCmd)
	libraryCmd.AddCommand(checkDuplicatesCmd, backfillFingerprintsCmd, interpolateDatesCmd, repairOrderCmd)

	checkDuplicatesCmd.Flags().Int("near", -1, "Also report pairs within this perceptual hash distance (0-64)")
	checkDuplicatesCmd.Flags().Bool("json", false, "Output as JSON")
}

// duplicateFile is one stored original in a duplicate group.
type duplicateFile struct {
	Key     string `json:"key"`
	ImageID *int64 `json:"image_id,omitempty"`
}

type duplicateGroup struct {
	Fingerprint string          `json:"fingerprint"`
	Files       []duplicateFile `json:"files"`
}

type duplicateReport struct {
	Scanned int                    `json:"scanned"`
	Groups  []duplicateGroup       `json:"groups"`
	Near    []fingerprint.NearPair `json:"near,omitempty"`
}

func runCheckDuplicates(cmd *cobra.Command, args []string) error {
	near := mustGetInt(cmd, "near")
	jsonOutput := mustGetBool(cmd, "json")
	if near > 64 {
		return errors.New("--near must be between 0 and 64")
	}

	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	keys, err := a.blobs.List(ctx, constants.OriginalsPrefix)
	if err != nil {
		return fmt.Errorf("failed to list originals: %w", err)
	}
	if !jsonOutput {
		fmt.Printf("Scanning %d stored original(s)\n", len(keys))
	}

	// stored name -> record id
	referenced := make(map[string]int64)
	records, err := a.images.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list images: %w", err)
	}
	for _, rec := range records {
		referenced[rec.OriginalFilename] = rec.ID
	}

	fingerprints := make(map[string]string, len(keys))
	var hashed []fingerprint.Hashed
	for _, key := range keys {
		data, err := readBlob(ctx, a.blobs, key)
		if err != nil {
			fmt.Printf("Warning: %s: %v\n", key, err)
			continue
		}
		fingerprints[key] = fingerprint.Compute(data)

		if near >= 0 {
			img, err := raster.Decode(data)
			if err != nil {
				a.logger.Debug("skipping undecodable original", "key", key, "error", err)
				continue
			}
			thumb, _ := raster.FitLongEdge(img, nearHashMaxDim)
			hashes, err := fingerprint.ComputeHashes(thumb)
			if err != nil {
				continue
			}
			hashed = append(hashed, fingerprint.Hashed{Key: key, Hashes: *hashes})
		}
	}

	report := duplicateReport{Scanned: len(fingerprints)}
	groups := fingerprint.GroupExact(fingerprints)
	for _, g := range groups {
		files := make([]duplicateFile, 0, len(g.Keys))
		for _, key := range g.Keys {
			f := duplicateFile{Key: key}
			if id, ok := referenced[path.Base(key)]; ok {
				f.ImageID = &id
			}
			files = append(files, f)
		}
		report.Groups = append(report.Groups, duplicateGroup{Fingerprint: g.Fingerprint, Files: files})
	}
	if near >= 0 {
		report.Near = fingerprint.FindNear(hashed, near)
	}

	if jsonOutput {
		return outputJSON(report)
	}

	if len(groups) == 0 {
		fmt.Println("No exact duplicates found.")
	}
	for _, g := range report.Groups {
		fmt.Printf("\nFingerprint %s\n", g.Fingerprint[:16])
		for _, f := range g.Files {
			if f.ImageID != nil {
				fmt.Printf("  %s (image #%d)\n", f.Key, *f.ImageID)
			} else {
				fmt.Printf("  %s (not referenced)\n", f.Key)
			}
		}
	}
	if near >= 0 {
		fmt.Printf("\n%d similar pair(s) within distance %d\n", len(report.Near), near)
		for _, p := range report.Near {
			fmt.Printf("  %s ~ %s (phash %d, dhash %d)\n", p.A, p.B, p.PHashDist, p.DHashDist)
		}
	}
	return nil
}

func readBlob(ctx context.Context, blobs blob.Store, key string) ([]byte, error) {
	rc, err := blobs.Open(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func runBackfillFingerprints(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	missing, err := a.images.ListMissingFingerprint(ctx)
	if err != nil {
		return fmt.Errorf("failed to list images: %w", err)
	}
	if len(missing) == 0 {
		fmt.Println("Every image has a fingerprint.")
		return nil
	}

	bar := progressbar.NewOptions(len(missing),
		progressbar.OptionSetDescription("Fingerprinting"),
		progressbar.OptionShowCount(),
		progressbar.OptionFullWidth(),
	)

	var filled int
	var problems []string
	for _, rec := range missing {
		bar.Add(1)
		rc, err := a.blobs.Open(ctx, blob.OriginalKey(rec.OriginalFilename))
		if err != nil {
			problems = append(problems, fmt.Sprintf("#%d %s: %v", rec.ID, rec.OriginalFilename, err))
			continue
		}
		fp, _, err := fingerprint.ComputeReader(rc)
		rc.Close()
		if err != nil {
			problems = append(problems, fmt.Sprintf("#%d %s: %v", rec.ID, rec.OriginalFilename, err))
			continue
		}

		err = a.images.SetFingerprint(ctx, rec.ID, fp)
		if errors.Is(err, database.ErrDuplicateFingerprint) {
			problems = append(problems, fmt.Sprintf("#%d %s: same content as another image", rec.ID, rec.OriginalFilename))
			continue
		}
		if err != nil {
			return err
		}
		filled++
	}
	fmt.Println()

	for _, p := range problems {
		fmt.Printf("Skipped: %s\n", p)
	}
	fmt.Printf("Fingerprinted %d of %d image(s)\n", filled, len(missing))
	return nil
}

func runInterpolateDates(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	updates, err := a.resolver.FillMissing(ctx, nil)
	if err != nil {
		return err
	}
	fmt.Printf("Interpolated capture time for %d image(s)\n", len(updates))
	return nil
}

func runRepairOrder(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.library.Normalize(ctx); err != nil {
		return fmt.Errorf("failed to repair order: %w", err)
	}
	fmt.Println("Library order repaired.")
	return nil
}
