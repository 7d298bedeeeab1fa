package static

import (
	"embed"
	"io/fs"
	"net/http"
)

// dist holds the frontend build; the directory ships with only a .gitkeep
// when the UI has not been built.
//
//go:embed all:dist/*
var distFS embed.FS

// GetFileSystem returns an http.FileSystem for the embedded dist directory.
func GetFileSystem() http.FileSystem {
	fsys, err := fs.Sub(distFS, "dist")
	if err != nil {
		panic(err)
	}
	return http.FS(fsys)
}

// HasDist reports whether a frontend build with an index.html is embedded.
func HasDist() bool {
	_, err := fs.Stat(distFS, "dist/index.html")
	return err == nil
}
