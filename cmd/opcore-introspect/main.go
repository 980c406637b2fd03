// Command opcore-introspect serves bytecode hover information for one
// or more serialized root programs over stdio, using the same
// Content-Length framing as any other language server so an editor can
// attach to it directly.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/solalang/opcore/internal/bytecode"
	"github.com/solalang/opcore/internal/introspect"
	"github.com/solalang/opcore/internal/obslog"
	"github.com/solalang/opcore/internal/wire"
)

func main() {
	debug := flag.Bool("debug", false, "enable debug logging")
	sessionFlag := flag.String("session", "", "build session UUID the bytecode files were serialized with")
	flag.Parse()

	log, err := obslog.New(*debug)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Sync()

	var sessionID uuid.UUID
	if *sessionFlag != "" {
		sessionID, err = uuid.Parse(*sessionFlag)
		if err != nil {
			fmt.Fprintln(os.Stderr, "invalid -session:", err)
			os.Exit(1)
		}
	}

	table := bytecode.NewTable()
	server := introspect.NewServer(os.Stdin, os.Stdout, table, log)

	for _, path := range flag.Args() {
		prog, err := wire.Load(path, path, sessionID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "skipping %s: %v\n", path, err)
			continue
		}
		server.Register("file://"+path, prog)
	}

	if err := server.Run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
