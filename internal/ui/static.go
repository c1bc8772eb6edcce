package ui

import (
	"bytes"
	"io/fs"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"cassandra/pkg/logger"
)

// StaticServer serves the chat page. Files in userDir take priority over the
// embedded assets so the page can be customised without a rebuild.
type StaticServer struct {
	userDir string
	embedFS fs.FS
	started time.Time
}

// NewStaticServer creates a StaticServer. userDir may be empty.
func NewStaticServer(userDir string, embedFS fs.FS) *StaticServer {
	return &StaticServer{
		userDir: userDir,
		embedFS: embedFS,
		started: time.Now(),
	}
}

// UserDir returns the override directory.
func (s *StaticServer) UserDir() string {
	return s.userDir
}

// ServeHTTP implements http.Handler.
func (s *StaticServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	name := r.URL.Path
	if name == "" || strings.HasSuffix(name, "/") {
		name += "index.html"
	}
	if strings.Contains(name, "..") {
		logger.Warn().Str("path", r.URL.Path).Msg("path traversal attempt blocked")
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}
	name = strings.TrimPrefix(path.Clean(name), "/")

	if data, modTime, ok := s.readUser(name); ok {
		s.serveContent(w, r, name, data, modTime)
		return
	}
	if s.embedFS != nil {
		if data, err := fs.ReadFile(s.embedFS, name); err == nil {
			s.serveContent(w, r, name, data, s.started)
			return
		}
	}
	http.NotFound(w, r)
}

// readUser reads name from the override directory, refusing anything that
// resolves outside of it.
func (s *StaticServer) readUser(name string) ([]byte, time.Time, bool) {
	if s.userDir == "" {
		return nil, time.Time{}, false
	}
	root, err := filepath.Abs(s.userDir)
	if err != nil {
		return nil, time.Time{}, false
	}
	full := filepath.Join(root, filepath.FromSlash(name))
	if !strings.HasPrefix(full, root+string(os.PathSeparator)) {
		return nil, time.Time{}, false
	}
	info, err := os.Stat(full)
	if err != nil || info.IsDir() {
		return nil, time.Time{}, false
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, time.Time{}, false
	}
	return data, info.ModTime(), true
}

func (s *StaticServer) serveContent(w http.ResponseWriter, r *http.Request, name string, data []byte, modTime time.Time) {
	if ct := mime.TypeByExtension(path.Ext(name)); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	// the watcher pushes reloads; the browser must not serve a stale copy
	w.Header().Set("Cache-Control", "no-cache")
	http.ServeContent(w, r, name, modTime, bytes.NewReader(data))
}
