// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"flag"
	"io"
	"time"
)

// newFlagSet builds the flag.FlagSet evloop-fetch parses its
// command line with, writing usage/parse errors to errOut.
func newFlagSet(name string, errOut io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(errOut)
	return fs
}

// headerList collects repeated -H flags, the same repeatable-flag.Value
// idiom trustydns-dig's flagutil.StringValue uses for -cafile.
type headerList []string

func (h *headerList) String() string {
	if h == nil {
		return ""
	}
	return ""
}

func (h *headerList) Set(v string) error {
	*h = append(*h, v)
	return nil
}

// config holds every evloop-fetch command-line option, mirroring
// trustydns-dig's own config struct plus flagSet-backed parseCommandLine.
type config struct {
	help    bool
	version bool
	verbose bool

	url     string
	method  string
	timeout time.Duration
	headers headerList
}

func parseCommandLine(fs *flag.FlagSet, cfg *config, args []string) error {
	fs.BoolVar(&cfg.help, "h", false, "print this help text and exit")
	fs.BoolVar(&cfg.version, "version", false, "print the version and exit")
	fs.BoolVar(&cfg.verbose, "v", false, "log structured round-trip events to stderr")
	fs.StringVar(&cfg.method, "method", "GET", "HTTP method to issue")
	fs.DurationVar(&cfg.timeout, "timeout", 30*time.Second, "overall deadline for dial + round trip")
	fs.Var(&cfg.headers, "H", "additional request header \"Name: value\" (repeatable)")
	return fs.Parse(args[1:])
}
