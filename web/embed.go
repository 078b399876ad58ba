// Package web carries the panel's templates and static assets.
package web

import (
	"embed"
	"io/fs"
)

//go:embed templates static
var assets embed.FS

// Templates holds layouts, partials and pages under templates/.
var Templates fs.FS = assets

// Static returns the asset tree rooted at static/ for the file server.
func Static() (fs.FS, error) {
	return fs.Sub(assets, "static")
}
