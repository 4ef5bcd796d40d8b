//go:build linux

// Package childsetup implements the ordered, non-restartable setup sequence
// that runs in the forked child before it execs the sandboxed program:
// change ownership, unshare namespaces, bind-mount paths, chroot, drop
// privileges, new session, apply resource limits, rewire descriptors,
// exec. (Start does the namespace unshare and descriptor rewiring when it
// creates the process; Main does the rest, in that order.) See spec
// §4.5 ("DoChild"), grounded line-for-line on SafeRun.c's DoChild.
//
// Go cannot safely fork a multithreaded process and continue running
// arbitrary Go code in the child the way C's fork() can: after a bare
// fork, a Go child only has one live OS thread but a runtime that assumes
// many, including for the privilege-dropping (setuid) step. So this
// package uses the same re-exec idiom containerd/runc use: the supervisor
// forks+execs its own binary image again (Start, below) with a hidden
// marker argument; the re-exec'd process, freshly loaded by execve and not
// yet multithreaded, runs Main, which performs every DoChild step in order
// and finally execs the real target, replacing its own image.
package childsetup

import (
	"fmt"
	"os"
	"os/exec"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/joeycumines/safesandbox/internal/limits"
)

// ReexecFlag is the marker argument that routes cmd/safesandbox's main into
// Main instead of the supervisor loop.
const ReexecFlag = "-__safesandbox_child_setup"

const (
	envChroot       = "SAFESANDBOX_CHROOT"
	envUnshareNet   = "SAFESANDBOX_UNSHARE_NET"
	envUser         = "SAFESANDBOX_USER"
	envMounts       = "SAFESANDBOX_MOUNTS"
	envCPUMs        = "SAFESANDBOX_CPU_MS"
	envMemBytes     = "SAFESANDBOX_MEM_BYTES"
	envMaxProcs     = "SAFESANDBOX_MAX_PROCS"
	mountsSeparator = "\x1f" // unit separator; host paths may contain ':'
)

// Fault is an internal-culpable setup error, carrying the spec §6 exit code
// it must be mapped to by the caller.
type Fault struct {
	Code int
	Err  error
}

func (f *Fault) Error() string { return f.Err.Error() }
func (f *Fault) Unwrap() error { return f.Err }

func fault(code int, format string, args ...any) *Fault {
	return &Fault{Code: code, Err: fmt.Errorf(format, args...)}
}

// Start forks and execs the re-exec'd child-setup process, with stdin,
// stdout, and stderr dup'd directly onto fds 0, 1, 2 (spec §4.5 step 7 is
// thus satisfied by the kernel's own exec, not a later dup2 call). It
// unshares namespaces at clone() time via Cloneflags when ChrootJail is
// set, matching DoChild step 3a; everything after that (bind mounts,
// chroot, ownership, setuid, setsid, rlimits) happens inside Main.
func Start(l limits.Limits, stdin, stdout, stderr *os.File) (*os.Process, error) {
	self, err := os.Executable()
	if err != nil {
		return nil, fault(limits.SetupErr, "resolve self executable: %w", err)
	}

	var cloneFlags uintptr
	if l.ChrootJail {
		cloneFlags = unix.CLONE_NEWNS | unix.CLONE_NEWIPC | unix.CLONE_NEWUTS
		if l.UnshareNetwork {
			cloneFlags |= unix.CLONE_NEWNET
		}
	}

	env := os.Environ()
	env = append(env,
		envChroot+"="+boolEnv(l.ChrootJail),
		envUnshareNet+"="+boolEnv(l.UnshareNetwork),
		envUser+"="+l.SandboxUser,
		envMounts+"="+strings.Join(l.MountSources, mountsSeparator),
		envCPUMs+"="+strconv.FormatInt(l.MaxCPUMs, 10),
		envMemBytes+"="+strconv.FormatInt(l.MaxAddressSpaceBytes, 10),
		envMaxProcs+"="+strconv.Itoa(l.MaxProcs),
	)

	args := append([]string{self, ReexecFlag}, l.Argv...)

	proc, err := os.StartProcess(self, args, &os.ProcAttr{
		Env:   env,
		Files: []*os.File{stdin, stdout, stderr},
		Sys: &syscall.SysProcAttr{
			Cloneflags: cloneFlags,
		},
	})
	if err != nil {
		return nil, fault(limits.BadFork, "fork/exec child-setup: %w", err)
	}
	return proc, nil
}

// Main runs inside the re-exec'd process. It never returns on success: it
// ends by replacing its own image with the sandboxed target via
// syscall.Exec. On any failure it returns a *Fault for the caller (the
// thin cmd/safesandbox dispatcher) to report and exit with.
func Main(argv []string) error {
	chrootJail := os.Getenv(envChroot) == "1"
	userName := os.Getenv(envUser)
	var mounts []string
	if m := os.Getenv(envMounts); m != "" {
		mounts = strings.Split(m, mountsSeparator)
	}
	cpuMs, _ := strconv.ParseInt(os.Getenv(envCPUMs), 10, 64)
	memBytes, _ := strconv.ParseInt(os.Getenv(envMemBytes), 10, 64)
	maxProcs, _ := strconv.Atoi(os.Getenv(envMaxProcs))

	var uid int
	haveUser := userName != ""
	if haveUser {
		u, err := user.Lookup(userName)
		if err != nil {
			return fault(limits.BadUser, "lookup user %q: %w", userName, err)
		}
		uid, err = strconv.Atoi(u.Uid)
		if err != nil {
			return fault(limits.BadUser, "parse uid for %q: %w", userName, err)
		}

		// Step 2: ownership fix-up, before chroot, while "." still resolves
		// against the real filesystem.
		if err := ChownContents(".", uid); err != nil {
			return fault(limits.BadUser, "chown contents for %q: %w", userName, err)
		}
	}

	// Step 3: bind-mount then chroot. Namespace unshare already happened at
	// clone() time (Start's Cloneflags), consistent with "unshare flags must
	// precede the bind mounts, which must precede chroot".
	if chrootJail {
		for _, src := range mounts {
			if src == "" {
				continue
			}
			dest := "." + src // strip the leading slash, keep it relative to "."
			if err := os.MkdirAll(dest, 0755); err != nil && !os.IsExist(err) {
				return fault(limits.BadChroot, "mkdir %s: %w", dest, err)
			}
			if err := unix.Mount(src, dest, "", unix.MS_BIND, ""); err != nil {
				return fault(limits.BadChroot, "bind-mount %s -> %s: %w", src, dest, err)
			}
		}

		if err := unix.Chroot("."); err != nil {
			return fault(limits.BadChroot, "chroot: %w", err)
		}
		if err := unix.Chdir("/"); err != nil {
			return fault(limits.BadChroot, "chdir / after chroot: %w", err)
		}
	}

	// Step 4: drop privileges.
	if haveUser {
		if err := unix.Setuid(uid); err != nil {
			return fault(limits.BadUser, "setuid %d: %w", uid, err)
		}
	}

	// Step 5: new session, so the child's pid matches its session id for
	// rogue hunting.
	if _, err := unix.Setsid(); err != nil {
		return fault(limits.BadUser, "setsid: %w", err)
	}

	// Step 6: resource limits.
	cpuSecs := (cpuMs + 999) / 1000
	if err := unix.Setrlimit(unix.RLIMIT_CPU, &unix.Rlimit{Cur: uint64(cpuSecs), Max: uint64(cpuSecs)}); err != nil {
		return fault(limits.BadUser, "setrlimit cpu: %w", err)
	}
	if err := unix.Setrlimit(unix.RLIMIT_AS, &unix.Rlimit{Cur: uint64(memBytes), Max: uint64(memBytes)}); err != nil {
		return fault(limits.BadUser, "setrlimit as: %w", err)
	}
	if err := unix.Setrlimit(unix.RLIMIT_NPROC, &unix.Rlimit{Cur: uint64(maxProcs), Max: uint64(maxProcs)}); err != nil {
		return fault(limits.BadUser, "setrlimit nproc: %w", err)
	}

	// Step 7 (descriptor rewiring) already happened via Start's os.ProcAttr.Files.
	// Step 8: exec.
	if len(argv) == 0 {
		return fault(limits.BadExec, "no command given")
	}
	path, err := exec.LookPath(argv[0])
	if err != nil {
		return fault(limits.BadExec, "lookup %s: %w", argv[0], err)
	}
	if err := syscall.Exec(path, argv, os.Environ()); err != nil {
		return fault(limits.BadExec, "exec %s: %w", argv[0], err)
	}
	return nil // unreachable
}

func boolEnv(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// ChownContents recursively chowns path and its contents to uid, adding
// owner read/write permission, mirroring SafeRun.c's ChownContents. It is
// used both before chroot (dropping ownership to the sandboxed user) and
// by the supervisor afterward (reclaiming ownership back to the invoking
// user), so it is exported.
func ChownContents(path string, uid int) error {
	info, err := os.Lstat(path)
	if err != nil {
		return err
	}
	if err := os.Lchown(path, uid, -1); err != nil {
		return err
	}
	if err := os.Chmod(path, info.Mode()|0600); err != nil {
		return err
	}
	if !info.IsDir() {
		return nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return err
	}
	for _, ent := range entries {
		if ent.Name() == "." || ent.Name() == ".." {
			continue
		}
		if err := ChownContents(filepath.Join(path, ent.Name()), uid); err != nil {
			return err
		}
	}
	return nil
}
