// Package cli parses the supervisor's command line into a limits.Limits.
//
// The flag syntax is the one the supervisor has always used: a dash, a
// single letter, and the value concatenated directly after it (-T10000,
// not -T 10000). That rules out the standard flag package, which wants a
// separator or an "=", and every third-party flag/pflag library in the
// pack assumes the same; there's nothing to reuse here, so this is a small
// hand-rolled scanner, grounded on SafeRun.c's ProcessArgs.
package cli

import (
	"fmt"
	"strconv"

	"github.com/joeycumines/safesandbox/internal/limits"
)

// Parse scans args (not including argv[0]) for recognized flags and returns
// the resulting Limits plus the remaining argv for the child command.
//
// Parsing stops at the first argument that doesn't start with '-', or that
// is exactly "-"; everything from there on is the child's argv.
func Parse(args []string) (limits.Limits, error) {
	l := limits.Default()

	i := 0
	for ; i < len(args); i++ {
		a := args[i]
		if len(a) < 2 || a[0] != '-' {
			break
		}
		flag := a[1]
		rest := a[2:]

		switch flag {
		case 'p':
			n, err := atoiDefault(rest, 0)
			if err != nil {
				return limits.Limits{}, fmt.Errorf("cli: -p: %w", err)
			}
			l.MaxProcs = limits.ClampMaxProcs(n)
		case 'o':
			n, err := atoi64Default(rest, 0)
			if err != nil {
				return limits.Limits{}, fmt.Errorf("cli: -o: %w", err)
			}
			l.MaxOutputBytes = n
		case 'T':
			n, err := atoi64Default(rest, 0)
			if err != nil {
				return limits.Limits{}, fmt.Errorf("cli: -T: %w", err)
			}
			l.MaxWallclockMs = n
		case 't':
			n, err := atoi64Default(rest, 0)
			if err != nil {
				return limits.Limits{}, fmt.Errorf("cli: -t: %w", err)
			}
			l.MaxCPUMs = n
		case 's':
			n, err := atoi64Default(rest, 0)
			if err != nil {
				return limits.Limits{}, fmt.Errorf("cli: -s: %w", err)
			}
			l.MaxAddressSpaceBytes = n
		case 'f':
			n, err := atoiDefault(rest, 0)
			if err != nil {
				return limits.Limits{}, fmt.Errorf("cli: -f: %w", err)
			}
			l.AllowFiles = n > 0
		case 'r':
			l.ChrootJail = true
		case 'n':
			l.UnshareNetwork = true
		case 'u':
			l.SandboxUser = rest
		case 'd':
			if len(l.MountSources) < limits.MaxMounts {
				l.MountSources = append(l.MountSources, rest)
			}
		case 'i':
			if rest == "" {
				l.UnreadInputAllowed = -1
			} else {
				n, err := strconv.ParseInt(rest, 10, 64)
				if err != nil {
					return limits.Limits{}, fmt.Errorf("cli: -i: %w", err)
				}
				l.UnreadInputAllowed = n
			}
		case 'b':
			l.BinaryInput = true
		case 'm':
			l.StdoutErrors = true
		case 'q':
			l.Quiet = true
		case 'x':
			l.UserMutex = true
		default:
			// Unrecognized flags are ignored, matching ProcessArgs's silent
			// fallthrough (no else-if branch matches, the loop just continues).
		}
	}

	l.Argv = args[i:]
	return l, nil
}

func atoiDefault(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	return strconv.Atoi(s)
}

func atoi64Default(s string, def int64) (int64, error) {
	if s == "" {
		return def, nil
	}
	return strconv.ParseInt(s, 10, 64)
}
