package pathpolicy

import (
	"fmt"
	"regexp"
	"strings"
)

// ProjectRootEnv overrides every other project root rule.
const ProjectRootEnv = "REFACE_PROJECT_ROOT"

var (
	tagPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?im)^\s*project\s*:\s*([A-Za-z0-9._\- ]{1,40})\s*$`),
		regexp.MustCompile(`(?im)^\s*project-tag\s*:\s*([A-Za-z0-9._\- ]{1,40})\s*$`),
		regexp.MustCompile(`(?i)#project\(([A-Za-z0-9._\- ]{1,40})\)`),
		regexp.MustCompile(`(?i)\[project:([A-Za-z0-9._\- ]{1,40})\]`),
		regexp.MustCompile(`(?im)^\s*tag\s*:\s*([A-Za-z0-9._\- ]{1,30})\s*$`),
	}
	nonSlug = regexp.MustCompile(`[^a-z0-9]+`)
)

// ResolveProjectRoot picks the isolated project root for a thread. The first rule
// that applies wins: env override, project tag, issue slug, pull request number.
// An empty result means the scope is unrestricted.
func ResolveProjectRoot(env, tag string, issueNumber, prNumber int, slug string) string {
	if env = strings.TrimSpace(env); env != "" {
		return strings.Trim(strings.ReplaceAll(env, "\\", "/"), "/")
	}
	if tag = Slugify(tag); tag != "" {
		return "projects/" + tag
	}
	if issueNumber > 0 {
		s := Slugify(slug)
		if s == "" {
			s = fmt.Sprintf("issue-%d", issueNumber)
		}
		return fmt.Sprintf("projects/issue-%d-%s", issueNumber, s)
	}
	if prNumber > 0 {
		return fmt.Sprintf("projects/pr-%d", prNumber)
	}
	return ""
}

// ProjectTag extracts a project tag from free text such as "Project: alpha",
// "#project(alpha)" or "[project:alpha]".
func ProjectTag(text string) string {
	for _, re := range tagPatterns {
		if m := re.FindStringSubmatch(text); m != nil {
			if s := Slugify(m[1]); s != "" {
				return s
			}
		}
	}
	return ""
}

// Slugify lowercases text and collapses non-alphanumerics into single dashes, capped at 60 bytes.
func Slugify(text string) string {
	s := strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(text), "-"), "-")
	if len(s) > 60 {
		s = strings.TrimRight(s[:60], "-")
	}
	return s
}
