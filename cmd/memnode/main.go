// Command memnode runs a standalone remote-flush memory node: it holds
// packed memtable images in memory on behalf of a generator until a
// worker fetches them, per spec.md §4.4.
//
// Usage:
//
//	memnode -listen=:7760 -max-bytes=1073741824
//
// Reference: spec.md §4.4, §6 (External Interfaces: wire protocol).
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
	listen   = flag.String("listen", ":7760", "Address to listen on")
	maxBytes = flag.Int64("max-bytes", 0, "Maximum bytes held at once (0 = unbounded)")
	logLevel = flag.String("log-level", "info", "error, warn, info, or debug")
)

func main() {
	flag.Parse()

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
		fmt.Fprintf(os.Stderr, "memnode: listen %s: %v\n", *listen, err)
		os.Exit(1)
	}
	logger.Infof(logging.NSMemNode+"listening on %s (max-bytes=%d)", ln.Addr(), *maxBytes)

	node := remoteflush.NewMemNode(*maxBytes, logger)

	for {
		conn, err := ln.Accept()
		if err != nil {
			logger.Errorf(logging.NSMemNode+"accept: %v", err)
			continue
		}
		go func() {
			ch := transport.NewTCPChannel(conn)
			defer ch.Close()
			if err := remoteflush.ServeMemNodeConn(ch, node, logger); err != nil {
				logger.Warnf(logging.NSMemNode+"connection %s: %v", conn.RemoteAddr(), err)
			}
		}()
	}
}
