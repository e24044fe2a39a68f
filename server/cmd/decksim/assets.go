package main

import (
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
)

// assets serves files from several roots at "/". The first root holding the
// requested file wins, so the deck UI shadows plugin folders.
type assets struct {
	roots []string
	fs    []http.Handler
}

// newAssets serves the given directories, skipping empty ones.
func newAssets(dirs ...string) *assets {
	a := &assets{}
	for _, d := range dirs {
		if d == "" {
			continue
		}
		a.roots = append(a.roots, d)
		a.fs = append(a.fs, http.FileServer(http.Dir(d)))
		slog.Info("serving static files", "dir", d)
	}
	return a
}

func (a *assets) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rel := filepath.FromSlash(path.Clean("/" + r.URL.Path))
	for i, root := range a.roots {
		if _, err := os.Stat(filepath.Join(root, rel)); err == nil {
			a.fs[i].ServeHTTP(w, r)
			return
		}
	}
	http.NotFound(w, r)
}
