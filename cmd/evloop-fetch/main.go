// SPDX-License-Identifier: GPL-3.0-or-later

// Command evloop-fetch issues a single HTTP(S) request through the
// evloop/dnsresolver/tlsprovider/httpclient stack and prints the
// response status line, headers, and body — a small end-to-end
// exercise of the whole module, grounded on trustydns-dig's
// mainInit/mainExecute/config.go shape and on
// bassosimone-nop's Example_httpsRoundTrip for how the pieces compose.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/bassosimone/evloop"
	"github.com/bassosimone/evloop/dnsresolver"
	"github.com/bassosimone/evloop/httpclient"
	"github.com/bassosimone/evloop/tlsprovider"
)

const programName = "evloop-fetch"

// Version is the program's release version.
const Version = "0.1.0"

var (
	stdout io.Writer
	stderr io.Writer
)

func mainInit(out, err io.Writer) {
	stdout, stderr = out, err
}

func main() {
	mainInit(os.Stdout, os.Stderr)
	os.Exit(mainExecute(os.Args))
}

func fatal(args ...any) int {
	fmt.Fprint(stderr, "fatal: ", programName, ": ")
	fmt.Fprintln(stderr, args...)
	return 1
}

func mainExecute(args []string) int {
	cfg := &config{}
	fs := newFlagSet(args[0], stderr)
	if err := parseCommandLine(fs, cfg, args); err != nil {
		return 1 // usage already printed by the flag package
	}
	if cfg.help {
		printUsage(stdout, fs)
		return 0
	}
	if cfg.version {
		fmt.Fprintln(stdout, programName, "version", Version)
		return 0
	}
	if fs.NArg() != 1 {
		printUsage(stderr, fs)
		return 1
	}
	cfg.url = fs.Arg(0)

	target, err := url.Parse(cfg.url)
	if err != nil {
		return fatal("invalid URL:", err)
	}
	scheme, host, port, err := splitTarget(target)
	if err != nil {
		return fatal(err)
	}

	logger := slog.New(slog.NewTextHandler(stderr, nil))
	loopCfg := evloop.NewConfig()
	if cfg.verbose {
		loopCfg.Logger = logger
	}
	backend, err := evloop.NewDefaultBackend()
	if err != nil {
		return fatal("cannot create event loop backend:", err)
	}
	loop := evloop.New(backend, loopCfg)
	defer loop.Close()

	resolver := dnsresolver.New(loop, dnsresolver.NewConfig())

	hcCfg := httpclient.NewConfig()
	hcCfg.Resolver = resolver
	if cfg.verbose {
		hcCfg.Logger = logger
		hcCfg.ObserveConns = true
	}
	if scheme == "https" {
		hcCfg.TLSProvider = &tlsprovider.StdlibProvider{}
	}
	client := httpclient.New(loop, hcCfg)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.timeout)
	defer cancel()

	var (
		done   bool
		fatErr error
		resp   *httpclient.Response
	)

	resolver.Init(func(resolvConfErr, hostsErr error) {
		if resolvConfErr != nil {
			done, fatErr = true, fmt.Errorf("loading name servers: %w", resolvConfErr)
			return
		}

		conn, err := client.NewConnection(ctx, scheme, host, port)
		if err != nil {
			done, fatErr = true, err
			return
		}

		req := httpclient.NewRequest(strings.ToUpper(cfg.method), requestPath(target))
		for _, raw := range cfg.headers {
			name, value, ok := strings.Cut(raw, ":")
			if !ok {
				done, fatErr = true, fmt.Errorf("malformed -H value %q, want \"Name: value\"", raw)
				return
			}
			req.Headers.Add(strings.TrimSpace(name), strings.TrimSpace(value))
		}

		conn.Do(req, nil, func(_ any, r *httpclient.Response, err error) {
			done, resp, fatErr = true, r, err
		})
	})

	for !done {
		if err := loop.Tick(); err != nil {
			return fatal("event loop error:", err)
		}
		if ctx.Err() != nil && !done {
			return fatal("timed out waiting for", target.String())
		}
	}
	if fatErr != nil {
		var herr *httpclient.Error
		if errors.As(fatErr, &herr) {
			return fatal(herr)
		}
		return fatal(fatErr)
	}

	printResponse(stdout, resp)
	if resp.StatusCode >= 400 {
		return 1
	}
	return 0
}

func printResponse(out io.Writer, resp *httpclient.Response) {
	fmt.Fprintf(out, "HTTP %d %s\n", resp.StatusCode, resp.ReasonPhrase)
	for _, key := range resp.Headers.Keys() {
		for _, value := range resp.Headers.Values(key) {
			fmt.Fprintf(out, "%s: %s\n", key, value)
		}
	}
	fmt.Fprintln(out)
	out.Write(resp.Body)
	if len(resp.Body) == 0 || resp.Body[len(resp.Body)-1] != '\n' {
		fmt.Fprintln(out)
	}
}

// splitTarget extracts scheme, host, and port from target, applying
// the http/https default ports (spec.md §4.4's request-target model).
func splitTarget(target *url.URL) (scheme, host string, port uint16, err error) {
	scheme = target.Scheme
	if scheme == "" {
		scheme = "http"
	}
	if scheme != "http" && scheme != "https" {
		return "", "", 0, fmt.Errorf("unsupported scheme %q", scheme)
	}
	host = target.Hostname()
	if host == "" {
		return "", "", 0, errors.New("missing host in URL")
	}
	if p := target.Port(); p != "" {
		n, err := strconv.ParseUint(p, 10, 16)
		if err != nil {
			return "", "", 0, fmt.Errorf("invalid port %q", p)
		}
		port = uint16(n)
	} else if scheme == "https" {
		port = 443
	} else {
		port = 80
	}
	return scheme, host, port, nil
}

func requestPath(target *url.URL) string {
	path := target.EscapedPath()
	if path == "" {
		path = "/"
	}
	if target.RawQuery != "" {
		path += "?" + target.RawQuery
	}
	return path
}
