// Command safesandbox runs an untrusted program under the supervisor
// described in package supervisor: a pty-mediated, resource-limited,
// optionally chrooted child with a single classified exit code.
//
// Most invocations take this path straight through to supervisor.Run. Two
// argv[1] markers instead dispatch into a re-exec'd helper role, both
// existing because Go cannot safely fork a multithreaded process and keep
// running arbitrary Go code (particularly setuid) in the child the way
// SafeRun.c's C code does; see the childsetup and rogue package docs.
package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joeycumines/safesandbox/internal/childsetup"
	"github.com/joeycumines/safesandbox/internal/cli"
	"github.com/joeycumines/safesandbox/internal/limits"
	"github.com/joeycumines/safesandbox/internal/rogue"
	"github.com/joeycumines/safesandbox/internal/supervisor"
)

func main() {
	args := os.Args[1:]

	if len(args) >= 1 {
		switch args[0] {
		case rogue.KillHelperFlag:
			if len(args) < 2 {
				fmt.Fprintln(os.Stderr, "safesandbox: missing uid for rogue kill helper")
				os.Exit(limits.BadUser)
			}
			uid, err := strconv.Atoi(args[1])
			if err != nil {
				fmt.Fprintln(os.Stderr, "safesandbox: bad uid for rogue kill helper:", err)
				os.Exit(limits.BadUser)
			}
			rogue.RunKillHelper(uid) // never returns
		case childsetup.ReexecFlag:
			if err := childsetup.Main(args[1:]); err != nil {
				if f, ok := err.(*childsetup.Fault); ok {
					fmt.Fprintln(os.Stderr, "safesandbox:", f.Error())
					os.Exit(f.Code)
				}
				fmt.Fprintln(os.Stderr, "safesandbox:", err)
				os.Exit(limits.SetupErr)
			}
			return // unreachable: Main only returns via error
		}
	}

	l, err := cli.Parse(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, "safesandbox:", err)
		os.Exit(limits.SetupErr)
	}

	os.Exit(supervisor.Run(l))
}
