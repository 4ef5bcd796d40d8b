// Package pump implements the supervisor's three stream pumps: one feeding
// the child's input endpoint, two draining its stdout/stderr. See spec §4.2
// and §4.3, grounded on SafeRun.c's PumpInput/PumpOutput.
package pump

import (
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/joeycumines/safesandbox/internal/logx"
)

const (
	bufSize      = 4096
	eotByte      = 0x04
	pollInterval = 50 * time.Millisecond
	eofRetryWait = 100 * time.Millisecond
)

// InputConfig parameterizes the input pump. EOFSem stands in for the
// counting semaphore of spec §3: a capacity-1 channel, posted exactly once
// by the supervisor loop after it decides no further EOTs are needed.
type InputConfig struct {
	Src   *os.File // supervisor stdin
	Dst   *os.File // child input endpoint (master pty or pipe write end)
	IsPty bool
	Go    *atomic.Bool
	EOFSem chan struct{}
	Log   *logx.Logger
}

// Input runs the input pump to completion. It always closes Dst on exit.
func Input(cfg InputConfig) {
	defer cfg.Dst.Close()

	buf := make([]byte, bufSize)
	atStart := true
	charsRead := 0
	srcFd := int(cfg.Src.Fd())
	dstFd := int(cfg.Dst.Fd())

	for {
		ready, err := pollReadable(srcFd, pollInterval)
		if err != nil {
			if cfg.Log != nil {
				cfg.Log.Warning().Err(err).Str("stream", "input").Log("poll failed")
			}
			break
		}

		charsRead = 0
		if ready {
			n, rerr := cfg.Src.Read(buf)
			charsRead = n
			if n > 0 {
				atStart = buf[n-1] == '\n'
				if _, werr := cfg.Dst.Write(buf[:n]); werr != nil {
					break
				}
			}
			if rerr != nil && n == 0 {
				charsRead = 0
			}
		}

		if !(cfg.Go.Load() && (!ready || charsRead > 0)) {
			break
		}
	}

	if cfg.IsPty {
		if charsRead == 0 {
			if !atStart {
				_, _ = cfg.Dst.Write([]byte{eotByte})
			}
			for !trySemAcquire(cfg.EOFSem) {
				if writable, _ := pollWritable(dstFd); writable {
					_, _ = cfg.Dst.Write([]byte{eotByte})
				}
				time.Sleep(eofRetryWait)
			}
		} else {
			<-cfg.EOFSem
		}
		_, _ = cfg.Dst.Write([]byte{eotByte}) // one more for the mop-up reader
	}
}

// pollReadable waits up to d for srcFd to become readable, per spec §4.2's
// 50ms poll.
func pollReadable(fd int, d time.Duration) (bool, error) {
	tv := unix.NsecToTimeval(d.Nanoseconds())
	rfds := &unix.FdSet{}
	fdSet(rfds, fd)
	n, err := unix.Select(fd+1, rfds, nil, nil, &tv)
	if err != nil {
		if err == unix.EINTR {
			return false, nil
		}
		return false, err
	}
	return n > 0, nil
}

func pollWritable(fd int) (bool, error) {
	pfd := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLOUT}}
	n, err := unix.Poll(pfd, 0)
	if err != nil {
		if err == unix.EINTR {
			return false, nil
		}
		return false, err
	}
	return n > 0 && pfd[0].Revents&unix.POLLOUT != 0, nil
}

func fdSet(set *unix.FdSet, fd int) {
	set.Bits[fd/64] |= 1 << (uint(fd) % 64)
}

// trySemAcquire implements sem_trywait against a capacity-1 channel: it
// returns true the moment the supervisor has posted, without blocking.
func trySemAcquire(sem chan struct{}) bool {
	select {
	case <-sem:
		return true
	default:
		return false
	}
}
