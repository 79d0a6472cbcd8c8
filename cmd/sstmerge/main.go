package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

const usageText = `sstmerge - merge sorted tables into a single de-duplicated stream

Usage: sstmerge [options] table.sst [table.sst ...]

Tables are listed newest first: when several tables hold the same key, the
value from the earliest table on the command line wins. Tables registered in
a manifest (-manifest) are added after the command line tables, newest first.

By default the merged stream is printed as "key: value" lines. With -out the
stream is written into a new table instead; tombstones are preserved unless
-live is given. With -i an interactive shell is started.

Options:
`

// Options holds the command line configuration
type Options struct {
	ConfigPath  string
	ManifestDir string
	StartKey    string
	EndKey      string
	Live        bool
	OutPath     string
	Interactive bool
	Tables      []string
}

func main() {
	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if err == flag.ErrHelp {
			os.Exit(0)
		}
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

// parseFlags parses command line arguments and returns the Options
func parseFlags(args []string, output io.Writer) (Options, error) {
	fs := flag.NewFlagSet("sstmerge", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.Usage = func() {
		fmt.Fprint(fs.Output(), usageText)
		fs.PrintDefaults()
		fmt.Fprint(fs.Output(), "\nType .help in the interactive shell for its commands.\n")
	}

	var opts Options
	fs.StringVar(&opts.ConfigPath, "config", "", "Path to a JSON configuration file")
	fs.StringVar(&opts.ManifestDir, "manifest", "", "Directory holding a table manifest to merge")
	fs.StringVar(&opts.StartKey, "start", "", "First key to include")
	fs.StringVar(&opts.EndKey, "end", "", "Key at which to stop (exclusive)")
	fs.BoolVar(&opts.Live, "live", false, "Hide deleted keys")
	fs.StringVar(&opts.OutPath, "out", "", "Write the merged stream into a new table at this path")
	fs.BoolVar(&opts.Interactive, "i", false, "Start an interactive shell")

	if err := fs.Parse(args); err != nil {
		return Options{}, err
	}
	opts.Tables = fs.Args()

	if opts.Interactive && opts.OutPath != "" {
		err := fmt.Errorf("-i and -out cannot be combined")
		fmt.Fprintln(output, err)
		return Options{}, err
	}
	return opts, nil
}

// bounds converts the -start/-end flags into range bounds, nil meaning open
func (o Options) bounds() (start, end []byte) {
	if o.StartKey != "" {
		start = []byte(o.StartKey)
	}
	if o.EndKey != "" {
		end = []byte(o.EndKey)
	}
	return start, end
}

func run(ctx context.Context, opts Options, out io.Writer) error {
	s, err := openSession(opts)
	if err != nil {
		return err
	}
	defer s.Close()

	switch {
	case opts.Interactive:
		return runInteractive(ctx, s, out)
	case opts.OutPath != "":
		start, end := opts.bounds()
		n, err := s.WriteTable(ctx, opts.OutPath, start, end, opts.Live)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%d entries written to %s\n", n, opts.OutPath)
		return nil
	default:
		start, end := opts.bounds()
		_, err := s.Print(ctx, out, start, end, opts.Live)
		return err
	}
}
