// Command flushworker runs a standalone remote flush worker: it accepts a
// RUN_REQUEST, pulls memtable images from the named memory node, builds
// the merged SST, and reports the result, per spec.md §4.5.
//
// Usage:
//
//	flushworker -listen=:7770 -out=/var/lib/ridgeline/remote-flush
//
// Reference: spec.md §4.5, §6 (External Interfaces: wire protocol).
package main

import (
	"flag"
	"fmt"
	"net"
	"os"

	"github.com/ridgelinedb/ridgeline/internal/logging"
	"github.com/ridgelinedb/ridgeline/internal/remoteflush"
	"github.com/ridgelinedb/ridgeline/internal/transport"
)

var (
	listen   = flag.String("listen", ":7770", "Address to listen on")
	outDir   = flag.String("out", "", "Directory to write SST outputs into (required; overridden per-request if set by the caller)")
	logLevel = flag.String("log-level", "info", "error, warn, info, or debug")
)

func main() {
	flag.Parse()

	if *outDir == "" {
		fmt.Fprintln(os.Stderr, "flushworker: -out is required")
		os.Exit(1)
	}
	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "flushworker: create output dir: %v\n", err)
		os.Exit(1)
	}

	level := logging.LevelInfo
	switch *logLevel {
	case "error":
		level = logging.LevelError
	case "warn":
		level = logging.LevelWarn
	case "debug":
		level = logging.LevelDebug
	}
	logger := logging.NewDefaultLogger(level)

	ln, err := net.Listen("tcp", *listen)
	if err != nil {
		fmt.Fprintf(os.Stderr, "flushworker: listen %s: %v\n", *listen, err)
		os.Exit(1)
	}
	logger.Infof(logging.NSWorker+"listening on %s (out=%s)", ln.Addr(), *outDir)

	session := remoteflush.NewWorkerSession(logger)
	fetcher := &remoteflush.TCPImageFetcher{}

	for {
		conn, err := ln.Accept()
		if err != nil {
			logger.Errorf(logging.NSWorker+"accept: %v", err)
			continue
		}
		go func() {
			ch := transport.NewTCPChannel(conn)
			defer ch.Close()
			if err := remoteflush.ServeWorkerConn(ch, session, fetcher, *outDir); err != nil {
				logger.Warnf(logging.NSWorker+"connection %s: %v", conn.RemoteAddr(), err)
			}
		}()
	}
}
