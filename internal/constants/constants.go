// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

// Upload constants
const (
	// MaxUploadSize is the maximum multipart upload size in bytes (500MB)
	MaxUploadSize = 500 << 20

	// DefaultUploadBatchSize is the number of files the CLI sends per staging batch
	DefaultUploadBatchSize = 10

	// DefaultExtension is used when neither the client filename nor the content
	// identifies a known image format
	DefaultExtension = ".jpg"
)

// Blob key prefixes
const (
	// OriginalsPrefix holds uploaded bytes exactly as received
	OriginalsPrefix = "originals"

	// AlignedPrefix holds aligned JPEG rasters named by record id
	AlignedPrefix = "aligned"

	// VideosPrefix holds the rendered timelapse
	VideosPrefix = "videos"

	// LatestVideoName is the singleton artifact file name
	LatestVideoName = "latest.mp4"
)

// Caching constants
const (
	// ImmutableCacheControl is sent with original image bytes, which never
	// change for a given id
	ImmutableCacheControl = "public, max-age=31536000, immutable"

	// RevalidateCacheControl is sent with aligned rasters, which re-alignment rewrites
	RevalidateCacheControl = "no-cache"
)

// Event channel constants
const (
	// EventChannelBuffer is the buffer size for CLI progress event channels
	EventChannelBuffer = 100
)
