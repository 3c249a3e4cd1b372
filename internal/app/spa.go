package app

import (
	"net/http"
	"os"
	"path"
	"path/filepath"
)

// SPA serves files from dir. Paths that name no file, and directories without
// an index.html, get dir/index.html so the app can route them client side.
func SPA(dir string) http.Handler {
	files := http.FileServer(http.Dir(dir))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := filepath.Join(dir, filepath.FromSlash(path.Clean("/"+r.URL.Path)))
		if fi, err := os.Stat(name); err == nil {
			if !fi.IsDir() {
				files.ServeHTTP(w, r)
				return
			}
			if _, err := os.Stat(filepath.Join(name, "index.html")); err == nil {
				files.ServeHTTP(w, r)
				return
			}
		}
		serveIndex(w, r, filepath.Join(dir, "index.html"))
	})
}

func serveIndex(w http.ResponseWriter, r *http.Request, index string) {
	f, err := os.Open(index)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil || fi.IsDir() {
		http.NotFound(w, r)
		return
	}
	http.ServeContent(w, r, "index.html", fi.ModTime(), f)
}
