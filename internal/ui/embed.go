// Package ui serves the browser chat page and renders replies as HTML.
package ui

import (
	"embed"
	"io/fs"
)

//go:embed all:web
var embeddedUI embed.FS

// EmbedFS returns the built-in page assets rooted at the web directory.
func EmbedFS() fs.FS {
	sub, err := fs.Sub(embeddedUI, "web")
	if err != nil {
		// web is embedded at compile time
		panic("ui: embedded web directory missing: " + err.Error())
	}
	return sub
}
