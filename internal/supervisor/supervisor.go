// Package supervisor implements the main loop of spec §4.6: open the pty,
// fork into childsetup, run the three pumps concurrently, poll the
// wallclock, classify the outcome, hunt rogues, and report a single exit
// code. Grounded line-for-line on SafeRun.c's main (parent branch).
package supervisor

import (
	"fmt"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/joeycumines/safesandbox/internal/childsetup"
	"github.com/joeycumines/safesandbox/internal/limits"
	"github.com/joeycumines/safesandbox/internal/logx"
	"github.com/joeycumines/safesandbox/internal/ptyio"
	"github.com/joeycumines/safesandbox/internal/pump"
	"github.com/joeycumines/safesandbox/internal/rogue"
)

const pollInterval = 20 * time.Millisecond

// Run executes one sandboxed invocation of l.Argv and returns the process
// exit code the supervisor itself should exit with (spec §6).
func Run(l limits.Limits) int {
	log := logx.New(l.Quiet, l.StdoutErrors)
	report := logx.ReportStream(l.Quiet, l.StdoutErrors)

	if l.SandboxUser != "" {
		rogue.Hunt(0, l.SandboxUser) // clean up from prior runs, spec §4.6 step 5
	}

	var lockFile *os.File
	if l.SandboxUser != "" && l.UserMutex {
		f, err := acquireLock(l.SandboxUser)
		if err != nil {
			log.Err().Err(err).Log("user already in use")
			return limits.BadUser
		}
		lockFile = f
	}

	if l.SandboxUser == "" && os.Geteuid() == 0 {
		log.Err().Log("user required when running as root")
		return limits.BadUser
	}

	pair, err := ptyio.Open(l.BinaryInput)
	if err != nil {
		_ = lockFile.Close()
		log.Err().Err(err).Log("setup failed")
		return limits.SetupErr
	}
	var inPipeR, inPipeW *os.File
	if l.BinaryInput {
		inPipeR, inPipeW, err = os.Pipe()
		if err != nil {
			pair.Close()
			_ = lockFile.Close()
			log.Err().Err(err).Log("setup failed")
			return limits.SetupErr
		}
	}

	errPipeR, errPipeW, err := os.Pipe()
	if err != nil {
		pair.Close()
		_ = inPipeR.Close()
		_ = inPipeW.Close()
		_ = lockFile.Close()
		log.Err().Err(err).Log("setup failed")
		return limits.SetupErr
	}

	// Descriptors handed to the forked child.
	var childStdin, childStdout *os.File
	if l.BinaryInput {
		childStdin = inPipeR
	} else {
		childStdin = pair.Slave
	}
	childStdout = pair.Slave

	proc, err := childsetup.Start(l, childStdin, childStdout, errPipeW)
	_ = errPipeW.Close()
	// The parent keeps its own copy of whichever descriptor will serve as
	// the mop-up endpoint (the pty slave when input is line-oriented, the
	// pipe's read end when binary): matching SafeRun.c's main, which closes
	// sPty immediately in the binary-input branch (the child has its own
	// copy and closes it in DoChild) and otherwise holds onto it.
	if l.BinaryInput {
		_ = pair.Slave.Close()
	}
	if err != nil {
		pair.Close()
		_ = errPipeR.Close()
		_ = inPipeR.Close()
		_ = inPipeW.Close()
		_ = lockFile.Close()
		if f, ok := err.(*childsetup.Fault); ok {
			log.Err().Err(err).Log("fork failed")
			return f.Code
		}
		log.Err().Err(err).Log("fork failed")
		return limits.BadFork
	}

	var interrupted atomic.Bool
	sigCh := make(chan os.Signal, 4)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)
	go func() {
		for range sigCh {
			interrupted.Store(true)
		}
	}()
	defer signal.Stop(sigCh)

	var goFlag atomic.Bool
	goFlag.Store(true)
	eofSem := make(chan struct{}, 1)

	var inDst *os.File
	var mopUpFile *os.File
	isPty := !l.BinaryInput
	if isPty {
		inDst = pair.Master
		mopUpFile = pair.Slave
	} else {
		inDst = inPipeW
		mopUpFile = inPipeR
	}

	var wg sync.WaitGroup
	wg.Add(3)

	go func() {
		defer wg.Done()
		pump.Input(pump.InputConfig{
			Src:    os.Stdin,
			Dst:    inDst,
			IsPty:  isPty,
			Go:     &goFlag,
			EOFSem: eofSem,
			Log:    log,
		})
	}()

	var outResult, errResult pump.OutputResult
	go func() {
		defer wg.Done()
		outResult = pump.Output(pump.OutputConfig{Src: pair.Master, Dst: os.Stdout, Budget: l.MaxOutputBytes})
	}()
	go func() {
		defer wg.Done()
		errResult = pump.Output(pump.OutputConfig{Src: errPipeR, Dst: os.Stderr, Budget: l.MaxOutputBytes})
	}()

	// Poll loop: every 20ms check interrupted / child exit / wallclock, spec §4.6 step 11.
	var progErrors uint
	var ihsError int
	start := time.Now()
	var waitStatus syscall.WaitStatus
	exited := false
	var waitErr error

	for {
		if interrupted.Load() {
			break
		}
		wpid, werr := syscall.Wait4(proc.Pid, &waitStatus, syscall.WNOHANG, nil)
		if werr != nil {
			waitErr = werr
			break
		}
		if wpid == proc.Pid {
			exited = true
			break
		}
		if time.Since(start).Milliseconds() >= l.MaxWallclockMs {
			break
		}
		time.Sleep(pollInterval)
	}

	if !exited && waitErr == nil {
		_ = proc.Kill()
		_, _ = syscall.Wait4(proc.Pid, &waitStatus, 0, nil)
		if !interrupted.Load() {
			log.Err().Int64("wallclock_ms", l.MaxWallclockMs).Logf("Wallclock time exceeded %d mS", l.MaxWallclockMs)
			progErrors |= limits.TimeoutBit
		}
	}

	var childStatus int
	switch {
	case interrupted.Load():
		ihsError = limits.Interrupted
	case waitErr != nil:
		ihsError = limits.BadWait
	case !waitStatus.Exited():
		progErrors |= limits.RTFault
		if waitStatus.Signaled() {
			log.Err().Str("signal", waitStatus.Signal().String()).Logf("Abnormal termination via signal %s", waitStatus.Signal())
		} else {
			log.Err().Log("Abnormal termination")
		}
	default:
		code := waitStatus.ExitStatus()
		if code >= limits.AppFailureBase {
			code = limits.IHSError - 1
		} else if code >= limits.IHSError {
			ihsError = code
		}
		childStatus = code
	}

	if numRogues := rogue.Hunt(proc.Pid, l.SandboxUser); numRogues {
		log.Err().Log("Killed rogue child processes")
		progErrors |= limits.RogueProcs
	}

	var rusageSelf, rusageChildren unix.Rusage
	_ = unix.Getrusage(unix.RUSAGE_SELF, &rusageSelf)
	_ = unix.Getrusage(unix.RUSAGE_CHILDREN, &rusageChildren)
	msUsage := rusageMs(&rusageSelf) + rusageMs(&rusageChildren)
	if l.MaxCPUMs <= msUsage {
		log.Err().Int64("cpu_ms", l.MaxCPUMs).Logf("CPU time exceeded %d mS", l.MaxCPUMs)
		progErrors |= limits.TimeoutBit
	}

	if l.UnreadInputAllowed == -1 {
		goFlag.Store(false)
	}
	eofSem <- struct{}{} // the sole post, spec §4.6 step 17

	extraIn := mopUpDrain(mopUpFile)
	if extraIn > 0 && l.UnreadInputAllowed != -1 && l.UnreadInputAllowed != extraIn {
		fmt.Fprintf(report, "%d input bytes dropped\n", extraIn)
		progErrors |= limits.UnreadInputBit
	}
	_ = mopUpFile.Close()

	wg.Wait()
	_ = pair.Master.Close()
	_ = errPipeR.Close()

	if l.SandboxUser != "" {
		_ = reclaimOwnership(os.Getuid())
		if lockFile != nil {
			_ = lockFile.Close()
			_ = os.Remove(limits.LockfilePath(l.SandboxUser))
		}
	}

	if outResult.Status == pump.Overrun || errResult.Status == pump.Overrun {
		progErrors |= limits.OutputOverrun
	}

	return Classify(ihsError, progErrors, childStatus)
}

// Classify maps (ihsError, progErrors, status) to a single exit code,
// spec §4.7.
func Classify(ihsError int, progErrors uint, status int) int {
	switch {
	case ihsError != 0:
		return ihsError
	case progErrors != 0:
		return limits.AppFailureBase | int(progErrors)
	default:
		return status
	}
}

func rusageMs(ru *unix.Rusage) int64 {
	return int64(ru.Utime.Sec+ru.Stime.Sec)*1000 + int64(ru.Utime.Usec+ru.Stime.Usec)/1000
}

func mopUpDrain(f *os.File) int64 {
	buf := make([]byte, 4096)
	var total int64
	for {
		n, err := f.Read(buf)
		if n > 0 {
			total += int64(n)
		}
		if err != nil || n <= 0 {
			break
		}
	}
	return total
}

func acquireLock(user string) (*os.File, error) {
	path := limits.LockfilePath(user)
	f, err := os.OpenFile(path, os.O_RDONLY|os.O_CREATE, 0444)
	if err != nil {
		return nil, err
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()
		return nil, err
	}
	return f, nil
}

func reclaimOwnership(uid int) error {
	// Give access back to the calling user; mirrors SafeRun.c's final
	// ChownContents(".", getuid()) call.
	return childsetup.ChownContents(".", uid)
}
