package cli

import (
	"sort"
	"strings"

	"github.com/psaab/nvmetctl/pkg/tree"
)

// shellCommands are handled by the loop itself, outside the node tables.
var shellCommands = []tree.Candidate{
	{Name: "exit", Desc: "Leave the shell"},
	{Name: "quit", Desc: "Leave the shell"},
	{Name: "help", Desc: "Show available commands"},
}

// splitLine divides typed text into completed words and the partial word
// being completed. A trailing space means the last word is complete.
func splitLine(text string) (words []string, partial string) {
	words = strings.Fields(text)
	trailingSpace := len(text) > 0 && text[len(text)-1] == ' '
	if !trailingSpace && len(words) > 0 {
		partial = words[len(words)-1]
		words = words[:len(words)-1]
	}
	return words, partial
}

// candidates produces completion candidates for the typed text at the
// current node, including the shell's own commands when a command name is
// being completed.
func (c *CLI) candidates(text string) []tree.Candidate {
	words, partial := splitLine(text)
	candidates := c.node.Complete(words, partial)
	if len(words) == 0 {
		for _, sc := range shellCommands {
			if strings.HasPrefix(sc.Name, partial) {
				candidates = append(candidates, sc)
			}
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Name < candidates[j].Name })
	return candidates
}

// completer implements readline.AutoCompleter over the current node.
type completer struct {
	cli *CLI
}

func (rc *completer) Do(line []rune, pos int) ([][]rune, int) {
	text := string(line[:pos])
	candidates := rc.cli.candidates(text)
	if len(candidates) == 0 {
		return nil, 0
	}

	_, partial := splitLine(text)
	names := make([]string, len(candidates))
	for i, c := range candidates {
		names[i] = c.Name
	}

	if len(names) == 1 {
		suffix := names[0][len(partial):]
		return [][]rune{[]rune(suffix + " ")}, len(partial)
	}

	// Multiple matches: show descriptions above the prompt.
	tree.WriteHelp(rc.cli.rl.Stdout(), candidates)

	cp := tree.CommonPrefix(names)
	suffix := cp[len(partial):]
	if suffix == "" {
		return nil, 0
	}
	return [][]rune{[]rune(suffix)}, len(partial)
}
