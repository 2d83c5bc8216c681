package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/telemetrics/telemetrics/internal/model"
)

// BackupPath returns where the backup of id is written under dataDir:
// {dataDir}/{year}/{year}_{grand prix}_{session}.json with spaces in the
// grand prix replaced by underscores and slashes by dashes.
func BackupPath(dataDir string, id model.SessionID) string {
	gp := strings.NewReplacer(" ", "_", "/", "-").Replace(id.GrandPrix)
	name := fmt.Sprintf("%d_%s_%s.json", id.Year, gp, id.Type)
	return filepath.Join(dataDir, strconv.Itoa(id.Year), name)
}

// WriteBackup writes every document of a session, empty ones included, as
// one indented JSON object keyed by data type in production order.
func WriteBackup(dataDir string, id model.SessionID, docs []model.Document) (string, error) {
	var buf bytes.Buffer
	buf.WriteString("{\n")
	for i, doc := range docs {
		payload, err := json.Marshal(doc)
		if err != nil {
			return "", fmt.Errorf("pipeline: backup %s: %w", doc.Type, err)
		}
		var indented bytes.Buffer
		if err := json.Indent(&indented, payload, "  ", "  "); err != nil {
			return "", fmt.Errorf("pipeline: backup %s: %w", doc.Type, err)
		}
		fmt.Fprintf(&buf, "  %q: %s", doc.Type, indented.Bytes())
		if i < len(docs)-1 {
			buf.WriteByte(',')
		}
		buf.WriteByte('\n')
	}
	buf.WriteString("}\n")

	path := BackupPath(dataDir, id)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("pipeline: backup dir: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("pipeline: write backup: %w", err)
	}
	return path, nil
}
