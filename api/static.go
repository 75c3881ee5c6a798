package handler

import (
	"errors"
	"io/fs"
	"net/http"
	"path"
)

// Favicon redirects browsers asking for /favicon.ico to the SVG icon.
func Favicon(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/favicon.svg", http.StatusMovedPermanently)
}

// Static serves files from dir for GET and HEAD. Directories are only served
// through their index.html; everything else is a 404.
func Static(dir string) http.Handler {
	files := http.FileServer(noListingFS{http.Dir(dir)})

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			http.NotFound(w, r)
			return
		}
		files.ServeHTTP(w, r)
	})
}

// noListingFS hides directories that have no index.html.
type noListingFS struct {
	fs http.FileSystem
}

func (n noListingFS) Open(name string) (http.File, error) {
	f, err := n.fs.Open(name)
	if err != nil {
		return nil, err
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if !info.IsDir() {
		return f, nil
	}

	// Only expose the directory if it has an index page
	index, err := n.fs.Open(path.Join(name, "index.html"))
	if err != nil {
		f.Close()
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fs.ErrNotExist
		}
		return nil, err
	}
	index.Close()

	return f, nil
}
