package repository

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/soochol/flowchat/internal/flowchat"
	"github.com/soochol/flowchat/internal/xjson"
)

// AppSaver is the write side of an app store.
type AppSaver interface {
	SaveApp(ctx context.Context, app *flowchat.App) error
}

// LoadAppsDir saves every app definition (*.yaml, *.yml or *.json) found
// in dir. A missing dir is not an error. The file name is used as the app
// id when the definition has none.
func LoadAppsDir(ctx context.Context, repo AppSaver, dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read apps dir: %w", err)
	}

	n := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if ext != ".yaml" && ext != ".yml" && ext != ".json" {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return n, fmt.Errorf("read %s: %w", path, err)
		}
		var app flowchat.App
		if ext == ".json" {
			err = xjson.Unmarshal(data, &app)
		} else {
			err = yaml.Unmarshal(data, &app)
		}
		if err != nil {
			return n, fmt.Errorf("parse %s: %w", path, err)
		}
		if app.ID == "" {
			app.ID = strings.TrimSuffix(e.Name(), ext)
		}
		if err := repo.SaveApp(ctx, &app); err != nil {
			return n, fmt.Errorf("save app %s: %w", app.ID, err)
		}
		slog.Info("app loaded", "id", app.ID, "nodes", len(app.Nodes), "edges", len(app.Edges))
		n++
	}
	return n, nil
}
