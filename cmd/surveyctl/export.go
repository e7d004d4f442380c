package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/meshfield/meshmap/internal/fsutil"
	"github.com/meshfield/meshmap/internal/heatmap"
	"github.com/meshfield/meshmap/internal/security"
)

func handleExport(args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	server := fs.String("server", defaultServer, "Base URL of the meshmapd daemon")
	target := fs.Int64("target", 0, "Database ID of the target node")
	out := fs.String("out", "", "Output HTML file (defaults to a name derived from the title)")
	title := fs.String("title", "", "Chart title (defaults to the target node)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *target == 0 {
		return fmt.Errorf("--target is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	chartTitle := *title
	if chartTitle == "" {
		chartTitle = fmt.Sprintf("Coverage for node %d", *target)
	}

	path, err := exportHeatmap(ctx, fsutil.OSFileSystem{}, *server, *target, *out, chartTitle)
	if err != nil {
		return err
	}
	fmt.Printf("Wrote heatmap to %s\n", path)
	return nil
}

// exportHeatmap loads a node's measurements from the daemon and writes the
// rendered chart through the given filesystem. Returns the path written.
func exportHeatmap(ctx context.Context, fsys fsutil.FileSystem, server string, target int64, out, title string) (string, error) {
	m := heatmap.New(server, nil)
	records, err := m.LoadData(ctx, target)
	if err != nil {
		return "", fmt.Errorf("failed to load measurements: %w", err)
	}
	if len(records) == 0 {
		return "", fmt.Errorf("no measurements recorded for node %d", target)
	}
	m.Render(records, true)

	if out == "" {
		out = security.SanitizeFilename(title) + ".html"
	}
	if err := security.ValidateExportPath(out); err != nil {
		return "", fmt.Errorf("refusing to write %s: %w", out, err)
	}

	f, err := fsys.Create(out)
	if err != nil {
		return "", err
	}
	defer f.Close()

	if err := m.ExportHTML(f, title); err != nil {
		return "", err
	}
	return out, nil
}
