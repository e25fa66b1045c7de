// Package appfs exposes the files embedded in the binary: database migrations and message templates.
package appfs

import "embed"

//go:embed migrations assets
var FS embed.FS
