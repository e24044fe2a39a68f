package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"

	"github.com/ulanzi/decksim/pkg/deckctx"
)

const manifestFile = "manifest.json"

// Load scans dir for plugin folders whose name ends in suffix and returns
// the complete catalog. A plugin whose manifest is missing or invalid is
// left out entirely, so the returned Set never holds partial entries. Only a
// failure to read dir itself is returned as an error.
func Load(dir, suffix string, languages []string) (Set, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %q: %w", dir, err)
	}

	set := make(Set)
	for _, e := range entries {
		if !e.IsDir() || !strings.HasSuffix(e.Name(), suffix) {
			continue
		}
		d, err := loadPlugin(filepath.Join(dir, e.Name()), languages)
		if err != nil {
			slog.Warn("catalog: skipping plugin", "dir", e.Name(), "err", err)
			continue
		}
		d.Dir = e.Name()
		set[d.Dir] = d
	}
	return set, nil
}

// loadPlugin reads one plugin folder. manifest.json and the localization
// files may contain comments and trailing commas.
func loadPlugin(path string, languages []string) (Descriptor, error) {
	data, err := os.ReadFile(filepath.Join(path, manifestFile))
	if err != nil {
		return Descriptor{}, fmt.Errorf("read manifest: %w", err)
	}
	data = jsonc.ToJSON(data)

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return Descriptor{}, fmt.Errorf("parse manifest: %w", err)
	}
	var f manifestFields
	if err := json.Unmarshal(data, &f); err != nil {
		return Descriptor{}, fmt.Errorf("parse manifest: %w", err)
	}
	if !deckctx.IsMain(f.UUID) {
		return Descriptor{}, fmt.Errorf("manifest UUID %q: %w", f.UUID, deckctx.ErrMalformedContext)
	}
	for i, a := range f.Actions {
		if !strings.HasPrefix(a.UUID, f.UUID+".") {
			slog.Warn("catalog: action UUID does not extend plugin UUID",
				"plugin", f.UUID, "action", a.UUID, "index", i)
		}
	}

	d := Descriptor{
		UUID:        f.UUID,
		Name:        f.Name,
		Description: f.Description,
		Icon:        f.Icon,
		CodePath:    f.CodePath,
		Actions:     f.Actions,
		Localized:   make(map[string]Localization),
		manifest:    raw,
	}
	for _, lang := range languages {
		l, err := loadLocalization(path, lang)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			slog.Warn("catalog: ignoring localization", "plugin", f.UUID, "language", lang, "err", err)
			continue
		}
		d.Localized[lang] = l
	}
	return d, nil
}

func loadLocalization(path, lang string) (Localization, error) {
	data, err := os.ReadFile(filepath.Join(path, lang+".json"))
	if err != nil {
		return Localization{}, err
	}
	data = jsonc.ToJSON(data)

	var l Localization
	if err := json.Unmarshal(data, &l); err != nil {
		return Localization{}, fmt.Errorf("parse %s.json: %w", lang, err)
	}
	l.raw = json.RawMessage(data)
	return l, nil
}
