package pump

import (
	"fmt"
	"os"
)

// Overrun is the status flag Output returns when more bytes were
// produced than the budget allowed, spec §4.3.
const Overrun = 0x2

// OutputConfig parameterizes one output or error pump instance.
type OutputConfig struct {
	Src    *os.File // child's stdout or stderr endpoint
	Dst    *os.File // supervisor's corresponding stream
	Budget int64    // byte budget; Src forwards at most this many bytes
}

// OutputResult is what the pump reports back once Src has closed.
type OutputResult struct {
	BytesRead int64
	Status    int // 0, or Overrun
}

// Output drains Src into Dst up to Budget bytes, dropping the rest, and
// appends a "... and N dropped bytes\n" suffix to Dst if anything was
// dropped. Identical for stdout and stderr; see spec §4.3.
func Output(cfg OutputConfig) OutputResult {
	buf := make([]byte, bufSize)
	var res OutputResult
	remaining := cfg.Budget

	for {
		n, err := cfg.Src.Read(buf)
		if n > 0 {
			toWrite := int64(n)
			if toWrite > remaining {
				toWrite = remaining
			}
			if toWrite > 0 {
				_, _ = cfg.Dst.Write(buf[:toWrite])
				remaining -= toWrite
			}
			res.BytesRead += int64(n)
		}
		if err != nil {
			break
		}
		if n <= 0 {
			break
		}
	}

	if res.BytesRead > cfg.Budget {
		dropped := res.BytesRead - cfg.Budget
		_, _ = fmt.Fprintf(cfg.Dst, "... and %d dropped bytes\n", dropped)
		res.Status = Overrun
	}

	return res
}
