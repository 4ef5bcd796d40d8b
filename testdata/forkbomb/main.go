// Command forkbomb is a test fixture, not part of the module's build: it
// reimplements the spirit of original_source/SafeRun/ForkFest2.c (a
// recursive self-forking loop) to exercise max_procs end to end under the
// supervisor. It is intentionally excluded from the module by the
// "ignore" build tag; compile and run it explicitly against a built
// safesandbox binary with a small -p limit to confirm RLIMIT_NPROC stops
// the recursion rather than exhausting the host.
//
//go:build ignore

package main

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
)

func main() {
	depth := 0
	if len(os.Args) > 1 {
		fmt.Sscanf(os.Args[1], "%d", &depth)
	}

	fmt.Printf("forkbomb: pid %d depth %d\n", os.Getpid(), depth)

	cmd := exec.Command(os.Args[0], fmt.Sprint(depth+1))
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		fmt.Fprintln(os.Stderr, "forkbomb: spawn failed:", err)
		os.Exit(0)
	}
	_ = cmd.Wait()
}
