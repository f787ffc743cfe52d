// Package cli implements the interactive shell over the configuration tree.
package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/chzyer/readline"

	"github.com/psaab/nvmetctl/pkg/tree"
)

// CLI is the interactive command-line interface. The current node tracks
// where in the tree the user is; every command dispatches against it.
type CLI struct {
	rl      *readline.Instance
	node    *tree.Node
	history string
}

// New creates a CLI positioned at the given tree root.
func New(root *tree.Node, historyFile string) *CLI {
	return &CLI{node: root, history: historyFile}
}

var errExit = fmt.Errorf("exit")

// Run starts the interactive loop and blocks until exit or EOF.
func (c *CLI) Run() error {
	var err error
	c.rl, err = readline.NewEx(&readline.Config{
		Prompt:          c.prompt(),
		HistoryFile:     c.history,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete:    &completer{cli: c},
		Listener: readline.FuncListener(func(line []rune, pos int, key rune) ([]rune, int, bool) {
			if key != '?' || pos < 1 {
				return line, pos, false
			}
			// Strip the '?' that readline already inserted.
			cleanLine := make([]rune, 0, len(line)-1)
			cleanLine = append(cleanLine, line[:pos-1]...)
			cleanLine = append(cleanLine, line[pos:]...)
			text := string(cleanLine[:pos-1])

			candidates := c.candidates(text)
			if len(candidates) == 0 {
				fmt.Fprintln(c.rl.Stdout(), "  (no help available)")
			} else {
				tree.WriteHelp(c.rl.Stdout(), candidates)
			}
			return cleanLine, pos - 1, true
		}),
	})
	if err != nil {
		return fmt.Errorf("readline init: %w", err)
	}
	defer c.rl.Close()

	fmt.Println("nvmetctl - NVMe target configuration shell")
	fmt.Println("Type '?' for help")
	fmt.Println()

	for {
		line, err := c.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			if err == io.EOF {
				break
			}
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if err := c.dispatch(line); err != nil {
			if err == errExit {
				return nil
			}
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
	}
	return nil
}

func (c *CLI) dispatch(line string) error {
	fields := strings.Fields(line)
	switch fields[0] {
	case "exit", "quit":
		return errExit
	case "help":
		tree.WriteHelp(os.Stdout, c.candidates(""))
		return nil
	}

	target, err := c.node.Dispatch(line)
	if err != nil {
		return err
	}
	if target != nil {
		c.node = target
		c.rl.SetPrompt(c.prompt())
	}
	return nil
}

func (c *CLI) prompt() string {
	return fmt.Sprintf("%s> ", c.node.Path())
}
