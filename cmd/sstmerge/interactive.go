package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/KevoDB/kmerge/pkg/iterator"
)

// Command completer for readline
var completer = readline.NewPrefixCompleter(
	readline.PcItem(".help"),
	readline.PcItem(".exit"),
	readline.PcItem(".stats"),
	readline.PcItem(".tables"),
	readline.PcItem(".flush"),
	readline.PcItem("GET"),
	readline.PcItem("PUT"),
	readline.PcItem("DELETE"),
	readline.PcItem("SCAN",
		readline.PcItem("RANGE"),
		readline.PcItem("LIVE"),
	),
)

const helpText = `
sstmerge - interactive shell over the merged tables

Commands:
  .help                   - Show this help message
  .exit                   - Exit the program
  .stats                  - Show source and block cache statistics
  .tables                 - List the tables being merged, newest first
  .flush PATH             - Write pending edits into a new table at PATH

  GET key                 - Retrieve the newest value for key
  PUT key value           - Store a key-value pair in memory, shadowing the tables
  DELETE key              - Record a deletion in memory, shadowing the tables

  SCAN                    - Scan all keys, including deleted ones
  SCAN prefix             - Scan keys with the given prefix
  SCAN RANGE start end    - Scan keys in range [start, end)
  SCAN LIVE ...           - Any of the above, hiding deleted keys
`

func runInteractive(ctx context.Context, s *session, out io.Writer) error {
	fmt.Fprintln(out, "sstmerge interactive shell")
	fmt.Fprintln(out, "Enter .help for usage hints.")

	historyFile := filepath.Join(os.TempDir(), ".sstmerge_history")
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "sstmerge> ",
		HistoryFile:     historyFile,
		AutoComplete:    completer,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		Stdout:          out,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize readline: %w", err)
	}
	defer rl.Close()

	for {
		line, readErr := rl.Readline()
		if readErr != nil {
			if readErr == readline.ErrInterrupt {
				if len(line) == 0 {
					return nil
				}
				continue
			} else if readErr == io.EOF {
				fmt.Fprintln(out, "Goodbye!")
				return nil
			}
			return fmt.Errorf("error reading input: %w", readErr)
		}

		if done := execute(ctx, s, out, strings.TrimSpace(line)); done {
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// execute runs one shell command and reports whether the shell should exit
func execute(ctx context.Context, s *session, out io.Writer, line string) bool {
	if line == "" {
		return false
	}

	parts := strings.Fields(line)
	cmd := strings.ToUpper(parts[0])

	// Special dot commands
	if strings.HasPrefix(cmd, ".") {
		switch strings.ToLower(cmd) {
		case ".help":
			fmt.Fprint(out, helpText)

		case ".exit":
			fmt.Fprintln(out, "Goodbye!")
			return true

		case ".stats":
			printStats(s, out)

		case ".tables":
			for i, r := range s.readers {
				fmt.Fprintf(out, "  %d: %s (%d keys)\n", i, r.Path(), r.GetKeyCount())
			}

		case ".flush":
			if len(parts) < 2 {
				fmt.Fprintln(out, "Error: .flush requires a path argument")
				return false
			}
			n, err := s.Flush(ctx, parts[1])
			if err != nil {
				fmt.Fprintf(out, "Error flushing edits: %s\n", err)
			} else if n == 0 {
				fmt.Fprintln(out, "Nothing to flush")
			} else {
				fmt.Fprintf(out, "%d entries flushed to %s\n", n, parts[1])
			}

		default:
			fmt.Fprintf(out, "Unknown command: %s\n", cmd)
		}
		return false
	}

	switch cmd {
	case "GET":
		if len(parts) < 2 {
			fmt.Fprintln(out, "Error: GET requires a key argument")
			return false
		}
		val, err := s.Get(ctx, []byte(parts[1]))
		if errors.Is(err, iterator.ErrNotFound) {
			fmt.Fprintln(out, "Key not found")
		} else if err != nil {
			fmt.Fprintf(out, "Error getting value: %s\n", err)
		} else {
			fmt.Fprintf(out, "%s\n", val)
		}

	case "PUT":
		if len(parts) < 3 {
			fmt.Fprintln(out, "Error: PUT requires key and value arguments")
			return false
		}
		s.Put([]byte(parts[1]), []byte(strings.Join(parts[2:], " ")))
		fmt.Fprintln(out, "Value stored")

	case "DELETE":
		if len(parts) < 2 {
			fmt.Fprintln(out, "Error: DELETE requires a key argument")
			return false
		}
		s.Delete([]byte(parts[1]))
		fmt.Fprintln(out, "Key deleted")

	case "SCAN":
		args := parts[1:]
		live := false
		if len(args) > 0 && strings.ToUpper(args[0]) == "LIVE" {
			live = true
			args = args[1:]
		}

		var start, end []byte
		switch {
		case len(args) == 0:
		case len(args) == 1:
			start = []byte(args[0])
			end = makeKeySuccessor(start)
		case len(args) == 3 && strings.ToUpper(args[0]) == "RANGE":
			start, end = []byte(args[1]), []byte(args[2])
		default:
			fmt.Fprintln(out, "Error: Invalid SCAN syntax. See .help for usage")
			return false
		}

		startTime := time.Now()
		n, err := s.Print(ctx, out, start, end, live)
		if err != nil {
			fmt.Fprintf(out, "Error scanning: %s\n", err)
			return false
		}
		fmt.Fprintf(out, "%d entries found (%.2f ms)\n", n, float64(time.Since(startTime).Microseconds())/1000.0)

	default:
		fmt.Fprintf(out, "Unknown command: %s\n", cmd)
	}
	return false
}

func printStats(s *session, out io.Writer) {
	var keys int
	for _, r := range s.readers {
		keys += r.GetKeyCount()
	}

	fmt.Fprintln(out, "Merge Statistics:")
	fmt.Fprintf(out, "  Tables: %d (%d keys before de-duplication)\n", len(s.readers), keys)
	fmt.Fprintf(out, "  Edits: %d memtables, %d bytes\n", len(s.pool.GetMemTables()), s.pool.TotalSize())
	if stats, ok := s.CacheStats(); ok {
		fmt.Fprintf(out, "  Block cache: %d blocks, %d hits, %d misses\n", stats.Len, stats.Hits, stats.Misses)
	} else {
		fmt.Fprintln(out, "  Block cache: disabled")
	}
}

// makeKeySuccessor returns the smallest key greater than every key that
// starts with prefix, or nil when no such key exists
func makeKeySuccessor(prefix []byte) []byte {
	succ := append([]byte(nil), prefix...)
	for i := len(succ) - 1; i >= 0; i-- {
		if succ[i] < 0xff {
			succ[i]++
			return succ[:i+1]
		}
	}
	return nil
}
