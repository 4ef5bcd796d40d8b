// Package ptyio opens and conditions the pseudo-terminal pair the
// supervisor uses to mediate the child's stdin/stdout, grounded on the
// pty handling in joeycumines-go-utilpkg's prompt/termtest package
// (pty.go's termios calls, console.go's use of github.com/creack/pty).
package ptyio

import (
	"fmt"
	"os"

	"github.com/creack/pty"
	"github.com/pkg/term/termios"
	"golang.org/x/sys/unix"
)

// Pair is the supervisor's open pseudo-terminal: the master end it reads
// and writes, and the slave end it hands to the child as a file of
// childsetup.Start. Open has already opened Slave with the access mode
// binary_input requires (spec §4.6 step 4); SlaveName records its path.
type Pair struct {
	Master    *os.File
	Slave     *os.File
	SlaveName string
}

// Open allocates a master/slave pty pair (getpt/grantpt/ptsname/unlockpt,
// spec §4.6 step 3), conditions the master per §4.1, and opens the slave
// read-write or write-only depending on binaryInput.
func Open(binaryInput bool) (*Pair, error) {
	m, s, err := pty.Open()
	if err != nil {
		return nil, fmt.Errorf("ptyio: open master/slave pty: %w", err)
	}
	name := s.Name()
	_ = s.Close()

	if err := Condition(m); err != nil {
		_ = m.Close()
		return nil, err
	}

	flag := os.O_RDWR
	if binaryInput {
		flag = os.O_WRONLY
	}
	slave, err := os.OpenFile(name, flag, 0)
	if err != nil {
		_ = m.Close()
		return nil, fmt.Errorf("ptyio: open slave %s: %w", name, err)
	}

	return &Pair{Master: m, Slave: slave, SlaveName: name}, nil
}

// Condition puts the master side into a non-echoing, no-output-translation
// mode: clear ECHO, ECHOE, ECHOK, ECHONL (local flags) and ONLCR (output
// flag), applied immediately (TCSANOW). See spec §4.1.
func Condition(master *os.File) error {
	fd := master.Fd()

	term, err := termios.Tcgetattr(fd)
	if err != nil {
		return fmt.Errorf("ptyio: tcgetattr: %w", err)
	}

	term.Lflag &^= unix.ECHO | unix.ECHOE | unix.ECHOK | unix.ECHONL
	term.Oflag &^= unix.ONLCR

	if err := termios.Tcsetattr(fd, termios.TCSANOW, term); err != nil {
		return fmt.Errorf("ptyio: tcsetattr: %w", err)
	}
	return nil
}

// Close releases both ends of the pair; safe to call after the slave has
// already been handed off to (and closed by) the child setup path, since
// os.File.Close is idempotent-safe against a double close error, which
// callers here ignore.
func (p *Pair) Close() {
	if p.Slave != nil {
		_ = p.Slave.Close()
	}
	if p.Master != nil {
		_ = p.Master.Close()
	}
}
