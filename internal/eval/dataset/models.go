package dataset

import (
	"path/filepath"
	"strings"
)

// Record is one labeled example of an evaluation dataset
type Record struct {
	// Image is a local path or an http(s) URL. Relative paths are
	// resolved against the dataset file's directory.
	Image string `json:"image" parquet:"image"`
	Label string `json:"label" parquet:"label"`
}

// IsRemote reports whether the image has to be downloaded
func (r *Record) IsRemote() bool {
	return strings.HasPrefix(r.Image, "http://") || strings.HasPrefix(r.Image, "https://")
}

// resolve makes a relative image path relative to baseDir
func (r *Record) resolve(baseDir string) {
	if r.Image == "" || r.IsRemote() || filepath.IsAbs(r.Image) {
		return
	}
	r.Image = filepath.Join(baseDir, r.Image)
}
