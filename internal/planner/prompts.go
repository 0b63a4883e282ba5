package planner

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// defaultSystemPrompt instructs the model on the action vocabulary and the
// fallback output format for models without tool calling.
const defaultSystemPrompt = `You are a web browser assistant. Given a task and a snapshot of the
current page, produce the shortest ordered sequence of browser actions that
accomplishes the task.

Submit your plan with the propose_plan tool. If you cannot call tools, return
ONLY a JSON array of actions in this format, no other text:
[
  {"action": "navigate", "url": "https://..."},
  {"action": "click", "target": "..."},
  {"action": "type", "target": "...", "text": "..."},
  {"action": "scroll", "direction": "up|down", "amount": 300},
  {"action": "wait", "wait_seconds": 2},
  {"action": "wait", "wait_for": "..."},
  {"action": "screenshot"},
  {"action": "respond", "message": "..."}
]

Rules:
1. Use only these action types: navigate, click, type, scroll, wait, screenshot, respond.
2. "target" is either a short description of the element ("the search box",
   "first result link") or a standard CSS selector. Use ONLY standard CSS
   selectors: tags, #ids, .classes, [attr='value'] and combinations.
   NEVER use jQuery selectors like :contains() or :visible.
3. Prefer element descriptions or selectors taken from the INTERACTIVE
   ELEMENTS list over invented selectors.
4. After navigating, the page changes; do not reference elements from the
   previous page.
5. Use respond when the task needs no further browser action, or to report
   the answer back to the user.
6. Keep plans short; never exceed 20 steps.`

// PromptManager serves the system prompt, optionally assembled from a
// directory of markdown fragments so operators can tune planner behavior
// without a rebuild. An empty directory name means the built-in prompt.
type PromptManager struct {
	Directory string
}

func NewPromptManager(dir string) *PromptManager {
	return &PromptManager{Directory: dir}
}

// SystemPrompt returns the assembled prompt. Files are joined in a fixed
// order with the well-known names first, remaining .md files alphabetically.
func (pm *PromptManager) SystemPrompt() (string, error) {
	if pm.Directory == "" {
		return defaultSystemPrompt, nil
	}

	entries, err := os.ReadDir(pm.Directory)
	if err != nil {
		return "", fmt.Errorf("failed to read prompts directory: %w", err)
	}

	order := map[string]int{
		"identity.md": 1,
		"actions.md":  2,
		"rules.md":    3,
	}
	sort.Slice(entries, func(i, j int) bool {
		oi, okI := order[entries[i].Name()]
		oj, okJ := order[entries[j].Name()]
		if okI && okJ {
			return oi < oj
		}
		if okI {
			return true
		}
		if okJ {
			return false
		}
		return entries[i].Name() < entries[j].Name()
	})

	var contents []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(pm.Directory, e.Name()))
		if err != nil {
			continue
		}
		contents = append(contents, strings.TrimSpace(string(data)))
	}

	if len(contents) == 0 {
		return defaultSystemPrompt, nil
	}
	return strings.Join(contents, "\n\n---\n\n"), nil
}
