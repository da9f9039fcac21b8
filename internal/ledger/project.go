package ledger

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fulmenhq/reface/internal/syntax"
	"github.com/fulmenhq/reface/pkg/ignore"
	"github.com/pelletier/go-toml/v2"
)

// manifestFiles are recognized at the project root, in reporting order.
var manifestFiles = []string{
	"pyproject.toml", "setup.py", "requirements.txt",
	"package.json", "tsconfig.json",
	"go.mod", "Cargo.toml", "Makefile",
}

const (
	maxDetectFiles   = 2000
	maxListedFiles   = 200
	maxReportedLangs = 3
)

type pyproject struct {
	Project struct {
		Name string `toml:"name"`
	} `toml:"project"`
	Tool struct {
		Poetry struct {
			Name string `toml:"name"`
		} `toml:"poetry"`
	} `toml:"tool"`
}

type cargoManifest struct {
	Package struct {
		Name string `toml:"name"`
	} `toml:"package"`
}

// DetectProject reports the manifests, name and dominant languages under dir.
// A missing dir yields an empty structure.
func DetectProject(dir string) (*ProjectStructure, error) {
	ps := &ProjectStructure{Manifests: []string{}, Languages: []string{}}
	st, err := os.Stat(dir)
	if err != nil || !st.IsDir() {
		return ps, nil
	}

	for _, name := range manifestFiles {
		data, err := os.ReadFile(filepath.Join(dir, name)) // #nosec G304 -- fixed manifest names under the project dir
		if err != nil {
			continue
		}
		ps.Manifests = append(ps.Manifests, name)
		if ps.Name == "" {
			ps.Name = manifestName(name, data)
		}
	}

	files, err := ScanTree(dir, -1)
	if err != nil {
		return nil, err
	}
	counts := map[string]int{}
	for i, f := range files {
		if i >= maxDetectFiles {
			break
		}
		if lang := syntax.Language(f); lang != "" {
			counts[lang]++
		}
	}
	langs := make([]string, 0, len(counts))
	for l := range counts {
		langs = append(langs, l)
	}
	sort.Slice(langs, func(i, j int) bool {
		if counts[langs[i]] != counts[langs[j]] {
			return counts[langs[i]] > counts[langs[j]]
		}
		return langs[i] < langs[j]
	})
	if len(langs) > maxReportedLangs {
		langs = langs[:maxReportedLangs]
	}
	ps.Languages = langs
	if len(files) > maxListedFiles {
		files = files[:maxListedFiles]
	}
	ps.Files = files
	return ps, nil
}

func manifestName(manifest string, data []byte) string {
	switch manifest {
	case "pyproject.toml":
		var p pyproject
		if toml.Unmarshal(data, &p) == nil {
			if p.Project.Name != "" {
				return p.Project.Name
			}
			return p.Tool.Poetry.Name
		}
	case "Cargo.toml":
		var c cargoManifest
		if toml.Unmarshal(data, &c) == nil {
			return c.Package.Name
		}
	case "package.json":
		var p struct {
			Name string `json:"name"`
		}
		if json.Unmarshal(data, &p) == nil {
			return p.Name
		}
	case "go.mod":
		sc := bufio.NewScanner(bytes.NewReader(data))
		for sc.Scan() {
			if line := strings.TrimSpace(sc.Text()); strings.HasPrefix(line, "module ") {
				return strings.TrimSpace(strings.TrimPrefix(line, "module"))
			}
		}
	}
	return ""
}

// ScanTree lists files under dir as slash paths relative to dir, skipping what
// .gitignore and .refaceignore exclude. depth counts directories below dir; a
// negative depth is unlimited.
func ScanTree(dir string, depth int) ([]string, error) {
	matcher, err := ignore.NewMatcher(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, rerr := filepath.Rel(dir, path)
		if rerr != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			if matcher.IsIgnoredDir(rel) {
				return filepath.SkipDir
			}
			if depth >= 0 && strings.Count(rel, "/")+1 > depth {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || matcher.IsIgnored(rel) {
			return nil
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", dir, err)
	}
	sort.Strings(files)
	return files, nil
}
