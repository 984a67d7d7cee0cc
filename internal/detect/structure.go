package detect

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"tribunal/internal/rubric"
	"tribunal/internal/schema"
)

// maxScanSize is the largest file read for dangerous-pattern scanning.
const maxScanSize = 1 << 20 // 1 MB

// skipDirs are directory base names excluded from the walk.
var skipDirs = map[string]bool{
	".git":         true,
	"vendor":       true,
	"node_modules": true,
	"__pycache__":  true,
	"dist":         true,
	"build":        true,
	".build":       true,
}

// dangerousPattern flags an execution or injection primitive in source text.
// Matches become security-tagged evidence; the synthesis engine never infers
// security findings on its own.
type dangerousPattern struct {
	re   *regexp.Regexp
	desc string
}

var dangerousPatterns = []dangerousPattern{
	{regexp.MustCompile(`os\.system\s*\(`), "direct shell command execution"},
	{regexp.MustCompile(`subprocess\.\w+\(.*shell\s*=\s*True`), "subprocess with shell=True"},
	{regexp.MustCompile(`\beval\s*\(`), "eval of dynamic input"},
	{regexp.MustCompile(`\bexec\s*\(`), "exec of dynamic input"},
	{regexp.MustCompile(`pickle\.loads\s*\(`), "unsafe deserialization"},
	{regexp.MustCompile(`child_process\.exec\s*\(`), "node shell execution"},
	{regexp.MustCompile(`exec\.Command\(\s*"(?:sh|bash)"\s*,\s*"-c"`), "shell -c invocation"},
}

// scannableExts are source extensions checked for dangerous patterns.
var scannableExts = map[string]bool{
	".go": true, ".py": true, ".js": true, ".ts": true,
	".rb": true, ".sh": true, ".rs": true, ".java": true,
}

// languageFor classifies a file extension.
func languageFor(ext string) string {
	switch ext {
	case ".go":
		return "Go"
	case ".py":
		return "Python"
	case ".js", ".jsx":
		return "JavaScript"
	case ".ts", ".tsx":
		return "TypeScript"
	case ".rs":
		return "Rust"
	case ".java":
		return "Java"
	case ".rb":
		return "Ruby"
	case ".sh", ".bash":
		return "Shell"
	case ".md":
		return "Markdown"
	case ".yaml", ".yml", ".toml", ".json":
		return "Config"
	default:
		return "Other"
	}
}

// isManifest recognizes dependency manifest file names.
func isManifest(base string) bool {
	switch base {
	case "go.mod", "package.json", "requirements.txt",
		"Cargo.toml", "pyproject.toml", "pom.xml":
		return true
	}
	return false
}

// isTestFile recognizes common test-file naming conventions.
func isTestFile(base string) bool {
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	switch {
	case ext == ".go" && strings.HasSuffix(stem, "_test"):
		return true
	case ext == ".py" && (strings.HasPrefix(base, "test_") || strings.HasSuffix(stem, "_test")):
		return true
	case strings.Contains(base, ".test.") || strings.Contains(base, ".spec."):
		return true
	}
	return false
}

// Structure walks the target tree and produces repo-structure evidence: a
// tree inventory, dependency manifests, test coverage shape, and
// security-tagged findings for dangerous call patterns.
type Structure struct {
	refs []string
}

// NewStructure builds the structure detector for a rubric.
func NewStructure(r rubric.Rubric) *Structure {
	return &Structure{refs: refsFor(r, schema.SourceRepoStructure)}
}

func (d *Structure) Name() string            { return "structure" }
func (d *Structure) Kind() schema.SourceKind { return schema.SourceRepoStructure }

// Detect walks target.Root. The walk honors ctx between directory entries.
func (d *Structure) Detect(ctx context.Context, target Target) ([]schema.EvidenceItem, error) {
	info, err := os.Stat(target.Root)
	if err != nil || !info.IsDir() {
		return nil, &Failure{Detector: d.Name(), Reason: fmt.Sprintf("target root %q is not a directory", target.Root), Err: err}
	}

	var (
		items     []schema.EvidenceItem
		langCount = map[string]int{}
		dirCount  = 0
		fileCount = 0
		testCount = 0
	)

	walkErr := filepath.WalkDir(target.Root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		rel, relErr := filepath.Rel(target.Root, path)
		if relErr != nil {
			return relErr
		}
		if entry.IsDir() {
			if skipDirs[entry.Name()] && path != target.Root {
				return fs.SkipDir
			}
			if path != target.Root {
				dirCount++
			}
			return nil
		}

		base := entry.Name()
		ext := filepath.Ext(base)
		fileCount++
		langCount[languageFor(ext)]++
		if isTestFile(base) {
			testCount++
		}

		if isManifest(base) {
			data, readErr := os.ReadFile(path)
			if readErr == nil {
				items = append(items, schema.EvidenceItem{
					ID:            newID("st"),
					SourceKind:    schema.SourceRepoStructure,
					CriterionRefs: d.refs,
					Summary:       fmt.Sprintf("dependency manifest %s (%d bytes)", rel, len(data)),
					Attrs:         map[string]string{"manifest": rel},
					Locator:       rel,
				})
			}
			return nil
		}

		if scannableExts[ext] {
			if fi, infoErr := entry.Info(); infoErr == nil && fi.Size() <= maxScanSize {
				items = append(items, d.scanDangerous(rel, path)...)
			}
		}
		return nil
	})
	if walkErr != nil {
		return nil, &Failure{Detector: d.Name(), Reason: "tree walk", Err: walkErr}
	}

	inventory := schema.EvidenceItem{
		ID:            newID("st"),
		SourceKind:    schema.SourceRepoStructure,
		CriterionRefs: d.refs,
		Summary:       fmt.Sprintf("tree inventory: %d files in %d directories, %d test files", fileCount, dirCount, testCount),
		Attrs: map[string]string{
			"files":      strconv.Itoa(fileCount),
			"dirs":       strconv.Itoa(dirCount),
			"test_files": strconv.Itoa(testCount),
			"languages":  languageSummary(langCount),
		},
		Locator: target.Root,
	}
	return append([]schema.EvidenceItem{inventory}, items...), nil
}

// scanDangerous reads one file and emits a security-tagged item per pattern
// class found, with a line locator for the first hit.
func (d *Structure) scanDangerous(rel, path string) []schema.EvidenceItem {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var items []schema.EvidenceItem
	lines := strings.Split(string(data), "\n")
	for _, p := range dangerousPatterns {
		for i, line := range lines {
			if p.re.MatchString(line) {
				items = append(items, schema.EvidenceItem{
					ID:            newID("sec"),
					SourceKind:    schema.SourceRepoStructure,
					CriterionRefs: d.refs,
					Summary:       fmt.Sprintf("%s in %s", p.desc, rel),
					Attrs:         map[string]string{"pattern": p.re.String()},
					Locator:       fmt.Sprintf("%s:%d", rel, i+1),
					Security:      true,
				})
				break // one item per pattern class per file
			}
		}
	}
	return items
}

// languageSummary renders langCount as "Go=12,Python=3" in stable order.
func languageSummary(counts map[string]int) string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, counts[k]))
	}
	return strings.Join(parts, ",")
}
