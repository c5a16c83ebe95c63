// Package dashboard provides the embedded spectator UI served by the status
// API at the root path.
package dashboard

import (
	"embed"
	"fmt"
)

// DistFS holds the dashboard/dist files.
//
//go:embed all:dist
var DistFS embed.FS

// Index returns the dashboard entry page.
func Index() ([]byte, error) {
	data, err := DistFS.ReadFile("dist/index.html")
	if err != nil {
		return nil, fmt.Errorf("dashboard index missing: %w", err)
	}
	return data, nil
}
