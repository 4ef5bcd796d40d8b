// Package rogue implements the supervisor's rogue-process hunter, grounded
// on SafeRun.c's FindRogues: lower the sandboxed user's scheduling priority
// to gain a race-condition advantage, fork a helper that drops to that uid
// and signals every one of its own processes, and independently kill the
// child's entire process group. See spec §4.4.
package rogue

import (
	"os"
	"os/user"
	"strconv"
	"syscall"

	"golang.org/x/sys/unix"
)

// KillHelperFlag is the argv[0]-following marker cmd/safesandbox checks for
// at the very start of main, before any other initialization: when present,
// the process immediately performs the setuid+kill-all step below and
// exits, rather than running as the supervisor. This is the same re-exec
// pattern runc/Docker use to get a fresh, single-threaded process image for
// privilege-dropping operations that are unsafe to perform in a process
// that the Go runtime has already made multithreaded.
const KillHelperFlag = "-__rogue_kill_as_uid"

// Hunt kills every surviving process belonging to sessionID's process
// group, plus (if userName is non-empty and resolvable) every process
// owned by that user. It returns true if either step killed at least one
// process. sessionID of 0 skips the process-group kill.
func Hunt(sessionID int, userName string) bool {
	killed := false

	if userName != "" {
		if uid, ok := resolveUID(userName); ok {
			killed = killByUser(uid) || killed
		}
	}

	if sessionID != 0 {
		if err := unix.Kill(-sessionID, unix.SIGKILL); err == nil {
			killed = true
		}
	}

	return killed
}

func resolveUID(userName string) (int, bool) {
	u, err := user.Lookup(userName)
	if err != nil {
		return 0, false
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return 0, false
	}
	return uid, true
}

// killByUser lowers the user's scheduling priority (a head start in the
// race against processes that are still forking), then forks a single
// child that drops to that uid and issues kill(-1, SIGKILL) — a kill of
// "every process the calling (now-uid'd) process is permitted to signal".
// The fork+setuid+kill sequence must happen in a freshly forked process,
// not the supervisor's own (already-multithreaded) process, since setuid
// in a threaded Go binary only affects the calling thread's credentials,
// not the whole process; ForkExec re-execing a tiny self-contained helper
// sidesteps that entirely.
func killByUser(uid int) bool {
	if err := unix.Setpriority(unix.PRIO_USER, uid, 19); err != nil {
		// Not fatal: SafeRun.c only attempts the user-kill path when both
		// getpwnam and setpriority succeed; here, proceed regardless, since
		// failing to gain the scheduling edge shouldn't skip the kill.
		_ = err
	}

	self, err := os.Executable()
	if err != nil {
		return false
	}

	pid, err := syscall.ForkExec(self, []string{self, KillHelperFlag, strconv.Itoa(uid)}, &syscall.ProcAttr{
		Files: []uintptr{0, 1, 2},
	})
	if err != nil {
		return false
	}

	var ws syscall.WaitStatus
	if _, err := syscall.Wait4(pid, &ws, 0, nil); err != nil {
		return false
	}
	return ws.Exited() && ws.ExitStatus() != 0
}

// RunKillHelper is the body of the re-exec'd helper process: setuid to uid
// and signal every process it can now reach. It never returns; the process
// exits with a nonzero status if the kill reached at least one process
// (mirroring SafeRun.c's DoChild-style "exit(!kill(-1,9))" convention), or
// a zero status if the setuid or the kill failed.
func RunKillHelper(uid int) {
	if err := unix.Setuid(uid); err != nil {
		os.Exit(0)
	}
	err := unix.Kill(-1, unix.SIGKILL)
	if err == nil {
		os.Exit(1)
	}
	os.Exit(0)
}
