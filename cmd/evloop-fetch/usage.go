// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"flag"
	"fmt"
	"io"
)

func printUsage(out io.Writer, fs *flag.FlagSet) {
	fmt.Fprintf(out, "usage: %s [flags] <url>\n\n", programName)
	fmt.Fprintln(out, "Fetches <url> over HTTP/1.1 and prints the response status line,")
	fmt.Fprintln(out, "headers, and body.")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "flags:")
	fs.PrintDefaults()
}
