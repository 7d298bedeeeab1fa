package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/kozaktomas/face-lapse/internal/database"
)

// runRepositoryTests exercises both repositories against any dialect.
// newPool must return a migrated pool with empty tables.
func runRepositoryTests(t *testing.T, newPool func(t *testing.T) *Pool) {
	ctx := context.Background()

	create := func(t *testing.T, repo *ImageRepository, fp string) *database.ImageRecord {
		t.Helper()
		rec, err := repo.Create(ctx, database.NewImage{Fingerprint: fp, SourceFilename: "IMG_" + fp + ".JPG", Extension: ".jpg"})
		if err != nil {
			t.Fatalf("Create(%s) failed: %v", fp, err)
		}
		return rec
	}

	orderOf := func(t *testing.T, repo *ImageRepository) []int64 {
		t.Helper()
		images, err := repo.List(ctx)
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		ids := make([]int64, len(images))
		for i, img := range images {
			if img.SortOrder != i {
				t.Errorf("image %d has sort_order %d at position %d", img.ID, img.SortOrder, i)
			}
			ids[i] = img.ID
		}
		return ids
	}

	t.Run("CreateAppendsAndNamesByID", func(t *testing.T) {
		repo := NewImageRepository(newPool(t))
		a := create(t, repo, "aaa")
		b := create(t, repo, "bbb")

		if b.ID <= a.ID {
			t.Errorf("expected increasing ids, got %d then %d", a.ID, b.ID)
		}
		if a.SortOrder != 0 || b.SortOrder != 1 {
			t.Errorf("expected sort orders 0,1 got %d,%d", a.SortOrder, b.SortOrder)
		}
		if want := fmt.Sprintf("%d.jpg", a.ID); a.OriginalFilename != want {
			t.Errorf("expected stored name %s, got %s", want, a.OriginalFilename)
		}
		if a.SourceFilename != "IMG_aaa.JPG" {
			t.Errorf("unexpected source filename %s", a.SourceFilename)
		}
		if a.FaceDetected != nil {
			t.Errorf("expected unknown face state, got %v", *a.FaceDetected)
		}
		if !a.IncludedInVideo || a.HasAligned {
			t.Errorf("unexpected flags: included=%v aligned=%v", a.IncludedInVideo, a.HasAligned)
		}
	})

	t.Run("DuplicateFingerprintRejected", func(t *testing.T) {
		repo := NewImageRepository(newPool(t))
		a := create(t, repo, "same")

		_, err := repo.Create(ctx, database.NewImage{Fingerprint: "same", Extension: ".jpg"})
		if !errors.Is(err, database.ErrDuplicateFingerprint) {
			t.Fatalf("expected ErrDuplicateFingerprint, got %v", err)
		}

		found, err := repo.FindByFingerprint(ctx, "same")
		if err != nil || found == nil || found.ID != a.ID {
			t.Fatalf("FindByFingerprint = %v, %v; want id %d", found, err, a.ID)
		}
		missing, err := repo.FindByFingerprint(ctx, "other")
		if err != nil || missing != nil {
			t.Errorf("expected nil for unknown fingerprint, got %v, %v", missing, err)
		}

		images, _ := repo.List(ctx)
		if len(images) != 1 {
			t.Errorf("expected 1 record after rejected duplicate, got %d", len(images))
		}
	})

	t.Run("GetMissing", func(t *testing.T) {
		repo := NewImageRepository(newPool(t))
		if _, err := repo.Get(ctx, 9999); !errors.Is(err, database.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("VersionChangesOnMutation", func(t *testing.T) {
		repo := NewImageRepository(newPool(t))
		v0, err := repo.Version(ctx)
		if err != nil {
			t.Fatalf("Version failed: %v", err)
		}
		create(t, repo, "v1")
		v1, _ := repo.Version(ctx)
		if v1 <= v0 {
			t.Errorf("expected version to grow, got %d then %d", v0, v1)
		}

		snap, err := repo.Snapshot(ctx)
		if err != nil {
			t.Fatalf("Snapshot failed: %v", err)
		}
		if snap.Version != v1 || len(snap.Images) != 1 {
			t.Errorf("snapshot = version %d with %d images, want %d with 1", snap.Version, len(snap.Images), v1)
		}
	})

	t.Run("SaveAlignment", func(t *testing.T) {
		repo := NewImageRepository(newPool(t))
		a := create(t, repo, "align")

		_, err := repo.SaveAlignment(ctx, a.ID, database.AlignmentUpdate{FaceDetected: false, HasAligned: true})
		if !errors.Is(err, database.ErrInvalidAlignment) {
			t.Errorf("expected ErrInvalidAlignment, got %v", err)
		}

		updated, err := repo.SaveAlignment(ctx, a.ID, database.AlignmentUpdate{
			FaceDetected:    true,
			HasAligned:      true,
			IncludedInVideo: true,
			LeftEye:         &database.Point{X: 100.5, Y: 200},
			RightEye:        &database.Point{X: 180, Y: 201.25},
		})
		if err != nil {
			t.Fatalf("SaveAlignment failed: %v", err)
		}
		if !updated.FaceFound() || !updated.HasAligned {
			t.Errorf("expected aligned record, got face=%v aligned=%v", updated.FaceDetected, updated.HasAligned)
		}
		if updated.LeftEye == nil || updated.LeftEye.X != 100.5 || updated.RightEye == nil || updated.RightEye.Y != 201.25 {
			t.Errorf("landmarks not stored: %+v %+v", updated.LeftEye, updated.RightEye)
		}

		if _, err := repo.SaveAlignment(ctx, 9999, database.AlignmentUpdate{}); !errors.Is(err, database.ErrNotFound) {
			t.Errorf("expected ErrNotFound for unknown id, got %v", err)
		}
	})

	t.Run("ToggleIncluded", func(t *testing.T) {
		repo := NewImageRepository(newPool(t))
		a := create(t, repo, "toggle")

		if _, err := repo.ToggleIncluded(ctx, a.ID); !errors.Is(err, database.ErrNotAligned) {
			t.Errorf("expected ErrNotAligned, got %v", err)
		}

		if _, err := repo.SaveAlignment(ctx, a.ID, database.AlignmentUpdate{FaceDetected: true, HasAligned: true, IncludedInVideo: true}); err != nil {
			t.Fatalf("SaveAlignment failed: %v", err)
		}
		toggled, err := repo.ToggleIncluded(ctx, a.ID)
		if err != nil {
			t.Fatalf("ToggleIncluded failed: %v", err)
		}
		if toggled.IncludedInVideo {
			t.Error("expected included_in_video to flip to false")
		}
		if toggled.SortOrder != a.SortOrder {
			t.Errorf("toggle changed sort_order from %d to %d", a.SortOrder, toggled.SortOrder)
		}
	})

	t.Run("UpdateOrder", func(t *testing.T) {
		repo := NewImageRepository(newPool(t))
		a := create(t, repo, "o1")
		b := create(t, repo, "o2")
		c := create(t, repo, "o3")

		err := repo.UpdateOrder(ctx, func(current []database.ImageRecord) ([]int64, error) {
			return []int64{b.ID, c.ID, a.ID}, nil
		})
		if err != nil {
			t.Fatalf("UpdateOrder failed: %v", err)
		}
		got := orderOf(t, repo)
		if len(got) != 3 || got[0] != b.ID || got[1] != c.ID || got[2] != a.ID {
			t.Errorf("order = %v, want [%d %d %d]", got, b.ID, c.ID, a.ID)
		}

		// Incomplete and duplicated permutations leave the order untouched.
		for _, ids := range [][]int64{{a.ID, b.ID}, {a.ID, a.ID, b.ID}, {a.ID, b.ID, 9999}} {
			err := repo.UpdateOrder(ctx, func([]database.ImageRecord) ([]int64, error) { return ids, nil })
			if !errors.Is(err, database.ErrOrderMismatch) {
				t.Errorf("ids %v: expected ErrOrderMismatch, got %v", ids, err)
			}
		}
		callbackErr := errors.New("rejected")
		if err := repo.UpdateOrder(ctx, func([]database.ImageRecord) ([]int64, error) { return nil, callbackErr }); !errors.Is(err, callbackErr) {
			t.Errorf("expected callback error, got %v", err)
		}
		got = orderOf(t, repo)
		if got[0] != b.ID || got[1] != c.ID || got[2] != a.ID {
			t.Errorf("order changed after rejected updates: %v", got)
		}
	})

	t.Run("DeleteRenormalizes", func(t *testing.T) {
		repo := NewImageRepository(newPool(t))
		a := create(t, repo, "d1")
		b := create(t, repo, "d2")
		c := create(t, repo, "d3")

		deleted, err := repo.Delete(ctx, b.ID)
		if err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if deleted.ID != b.ID {
			t.Errorf("deleted id %d, want %d", deleted.ID, b.ID)
		}
		got := orderOf(t, repo)
		if len(got) != 2 || got[0] != a.ID || got[1] != c.ID {
			t.Errorf("order after delete = %v", got)
		}
		if _, err := repo.Delete(ctx, b.ID); !errors.Is(err, database.ErrNotFound) {
			t.Errorf("expected ErrNotFound deleting twice, got %v", err)
		}
		// The fingerprint is free again once its holder is gone.
		if _, err := repo.Create(ctx, database.NewImage{Fingerprint: "d2", Extension: ".png"}); err != nil {
			t.Errorf("re-create after delete failed: %v", err)
		}
	})

	t.Run("DeleteNoFace", func(t *testing.T) {
		repo := NewImageRepository(newPool(t))
		face := create(t, repo, "n1")
		noFace := create(t, repo, "n2")
		unknown := create(t, repo, "n3")
		face2 := create(t, repo, "n4")

		for _, id := range []int64{face.ID, face2.ID} {
			if _, err := repo.SaveAlignment(ctx, id, database.AlignmentUpdate{FaceDetected: true, HasAligned: true, IncludedInVideo: true}); err != nil {
				t.Fatalf("SaveAlignment failed: %v", err)
			}
		}
		if _, err := repo.SaveAlignment(ctx, noFace.ID, database.AlignmentUpdate{FaceDetected: false}); err != nil {
			t.Fatalf("SaveAlignment failed: %v", err)
		}

		deleted, err := repo.DeleteNoFace(ctx)
		if err != nil {
			t.Fatalf("DeleteNoFace failed: %v", err)
		}
		if len(deleted) != 1 || deleted[0].ID != noFace.ID {
			t.Fatalf("deleted = %v, want only %d", deleted, noFace.ID)
		}
		got := orderOf(t, repo)
		if len(got) != 3 || got[0] != face.ID || got[1] != unknown.ID || got[2] != face2.ID {
			t.Errorf("order after dismiss = %v", got)
		}
	})

	t.Run("PhotoTimesAndFingerprints", func(t *testing.T) {
		repo := NewImageRepository(newPool(t))
		a := create(t, repo, "p1")
		at := time.Date(2023, 5, 17, 8, 30, 0, 0, time.UTC)

		if err := repo.SetPhotoTimes(ctx, []database.PhotoTime{{ID: a.ID, At: at, Source: database.TakenSourceExif}}); err != nil {
			t.Fatalf("SetPhotoTimes failed: %v", err)
		}
		got, err := repo.Get(ctx, a.ID)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if got.PhotoTakenAt == nil || !got.PhotoTakenAt.Equal(at) {
			t.Errorf("photo_taken_at = %v, want %v", got.PhotoTakenAt, at)
		}
		if got.PhotoTakenSource != database.TakenSourceExif {
			t.Errorf("photo_taken_source = %q", got.PhotoTakenSource)
		}

		legacy, err := repo.Create(ctx, database.NewImage{Extension: ".jpg"})
		if err != nil {
			t.Fatalf("Create without fingerprint failed: %v", err)
		}
		missing, err := repo.ListMissingFingerprint(ctx)
		if err != nil || len(missing) != 1 || missing[0].ID != legacy.ID {
			t.Fatalf("ListMissingFingerprint = %v, %v", missing, err)
		}
		if err := repo.SetFingerprint(ctx, legacy.ID, "p1"); !errors.Is(err, database.ErrDuplicateFingerprint) {
			t.Errorf("expected ErrDuplicateFingerprint, got %v", err)
		}
		if err := repo.SetFingerprint(ctx, legacy.ID, "p2"); err != nil {
			t.Errorf("SetFingerprint failed: %v", err)
		}
	})

	t.Run("VideoArtifactSingleton", func(t *testing.T) {
		repo := NewVideoRepository(newPool(t))

		none, err := repo.LatestVideo(ctx)
		if err != nil || none != nil {
			t.Fatalf("expected no artifact, got %v, %v", none, err)
		}

		first := &database.VideoArtifact{FrameCount: 3, FrameDuration: 0.1, TotalDuration: 0.3,
			BlobKey: "videos/latest.mp4", Filename: "latest.mp4", CreatedAt: time.Now()}
		second := &database.VideoArtifact{FrameCount: 5, FrameDuration: 0.2, TotalDuration: 1.0,
			BlobKey: "videos/latest.mp4", Filename: "latest.mp4", ShowDates: true, Birthday: "2020-02-29",
			CreatedAt: time.Now()}
		for _, v := range []*database.VideoArtifact{first, second} {
			if err := repo.SaveVideo(ctx, v); err != nil {
				t.Fatalf("SaveVideo failed: %v", err)
			}
		}

		got, err := repo.LatestVideo(ctx)
		if err != nil || got == nil {
			t.Fatalf("LatestVideo = %v, %v", got, err)
		}
		if got.FrameCount != 5 || got.Birthday != "2020-02-29" || !got.ShowDates {
			t.Errorf("expected the second artifact, got %+v", got)
		}
	})
}
