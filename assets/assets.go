// Package assets embeds the static files shipped with the binaries.
package assets

import (
	"embed"
	"io/fs"
)

//go:embed templates/email/*
var files embed.FS

// EmailTemplates returns the email templates, at the root of the returned FS.
func EmailTemplates() fs.FS {
	sub, err := fs.Sub(files, "templates/email")
	if err != nil {
		panic(err) // the directory is embedded
	}
	return sub
}
