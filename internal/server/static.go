package server

import (
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
)

func (s *Server) handleStatic(w http.ResponseWriter, r *http.Request) {
	if s.staticDir == "" {
		http.NotFound(w, r)
		return
	}
	name := r.URL.Path
	if strings.HasSuffix(name, "/") {
		name += "index.html"
	}
	name = path.Clean("/" + name)
	f, err := os.Open(filepath.Join(s.staticDir, filepath.FromSlash(name)))
	if err == nil {
		var st os.FileInfo
		if st, err = f.Stat(); err == nil && st.IsDir() {
			err = os.ErrNotExist
		}
		if err != nil {
			_ = f.Close()
		}
	}
	if err != nil {
		s.requestError(r, "static open failed", err)
		http.Error(w, "Failed to read existing file", http.StatusInternalServerError)
		return
	}
	defer f.Close()
	w.Header().Set("Content-Type", contentType(name))
	if _, err := io.Copy(w, f); err != nil {
		s.logger.Debug("static_send_aborted", "path", name, "error", err)
	}
}

// contentType maps the handful of extensions the web UI ships.
func contentType(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".html":
		return "text/html"
	case ".js":
		return "application/javascript"
	case ".css":
		return "text/css"
	case ".png":
		return "image/png"
	case ".ico":
		return "image/x-icon"
	case ".svg":
		return "image/svg+xml"
	default:
		return "text/plain"
	}
}
