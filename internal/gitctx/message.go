package gitctx

import (
	"fmt"
	"strings"

	"github.com/aymerick/raymond"
	"github.com/fulmenhq/reface/internal/assets"
)

// MaxSummaryEntries is how many changelog entries the commit subject lists.
const MaxSummaryEntries = 3

// MessageData is the handlebars context for commit message templates.
type MessageData struct {
	Name      string
	Path      string
	Changelog []string
}

func (d MessageData) context() map[string]interface{} {
	shown := d.Changelog
	more := 0
	if len(shown) > MaxSummaryEntries {
		more = len(shown) - MaxSummaryEntries
		shown = shown[:MaxSummaryEntries]
	}
	return map[string]interface{}{
		"name":      d.Name,
		"path":      d.Path,
		"summary":   strings.Join(shown, "; "),
		"more":      more,
		"changelog": d.Changelog,
	}
}

// CommitMessage renders tpl (or the embedded default when empty) with data.
func CommitMessage(tpl string, data MessageData) (string, error) {
	if strings.TrimSpace(tpl) == "" {
		b, ok := assets.GetTemplate("commit-message.hbs")
		if !ok {
			return "", fmt.Errorf("default commit template missing")
		}
		tpl = string(b)
	}
	out, err := raymond.Render(tpl, data.context())
	if err != nil {
		return "", fmt.Errorf("render commit message: %w", err)
	}
	return strings.TrimRight(out, "\n"), nil
}
