package detect

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"tribunal/internal/rubric"
	"tribunal/internal/schema"
)

// maxCommits bounds how much history is read; discipline is judged on the
// recent window, not the whole project lifetime.
const maxCommits = 200

// History reads the target's git log and produces version-history evidence:
// commit cadence, author spread, and a bulk-drop flag.
type History struct {
	refs []string
}

// NewHistory builds the history detector for a rubric.
func NewHistory(r rubric.Rubric) *History {
	return &History{refs: refsFor(r, schema.SourceVersionHistory)}
}

func (d *History) Name() string            { return "history" }
func (d *History) Kind() schema.SourceKind { return schema.SourceVersionHistory }

// commit is one parsed log entry.
type commit struct {
	Hash    string
	Author  string
	Date    string
	Subject string
}

// Detect shells out to git. A target that is not a git repository is a
// Failure, which the pipeline absorbs as partial evidence.
func (d *History) Detect(ctx context.Context, target Target) ([]schema.EvidenceItem, error) {
	commits, err := gitLog(ctx, target.Root)
	if err != nil {
		return nil, &Failure{Detector: d.Name(), Reason: "git log", Err: err}
	}
	if len(commits) == 0 {
		return nil, &Failure{Detector: d.Name(), Reason: "repository has no commits"}
	}

	authors := map[string]int{}
	fixups := 0
	for _, c := range commits {
		authors[c.Author]++
		subject := strings.ToLower(c.Subject)
		if strings.HasPrefix(subject, "fix") || strings.Contains(subject, "refactor") {
			fixups++
		}
	}

	cadence := schema.EvidenceItem{
		ID:            newID("hist"),
		SourceKind:    schema.SourceVersionHistory,
		CriterionRefs: d.refs,
		Summary: fmt.Sprintf("commit history: %d commits by %d author(s), %d fix/refactor commits, latest %s",
			len(commits), len(authors), fixups, commits[0].Date),
		Attrs: map[string]string{
			"commits":  strconv.Itoa(len(commits)),
			"authors":  strconv.Itoa(len(authors)),
			"fixups":   strconv.Itoa(fixups),
			"earliest": commits[len(commits)-1].Date,
			"latest":   commits[0].Date,
		},
		Locator: target.Root,
	}
	items := []schema.EvidenceItem{cadence}

	// A single-commit history is the classic bulk drop: no iteration to
	// review. Recorded as its own item so scorers can cite it directly.
	if len(commits) == 1 {
		items = append(items, schema.EvidenceItem{
			ID:            newID("hist"),
			SourceKind:    schema.SourceVersionHistory,
			CriterionRefs: d.refs,
			Summary:       fmt.Sprintf("bulk drop: entire history is a single commit %q", commits[0].Subject),
			Attrs:         map[string]string{"hash": commits[0].Hash},
			Locator:       target.Root,
		})
	}
	return items, nil
}

// gitLog runs git log with a parse-friendly format. The caller's ctx bounds
// the subprocess.
func gitLog(ctx context.Context, root string) ([]commit, error) {
	cmd := exec.CommandContext(ctx, "git", "-C", root, "log",
		"--pretty=format:%H|%an|%ad|%s", "--date=short", "-n", strconv.Itoa(maxCommits))
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("git log in %s: %w", root, err)
	}

	var commits []commit
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "|", 4)
		if len(parts) != 4 {
			continue
		}
		commits = append(commits, commit{Hash: parts[0], Author: parts[1], Date: parts[2], Subject: parts[3]})
	}
	return commits, nil
}
