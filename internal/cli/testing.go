package cli

import (
	"bytes"
	"io"
	"os"
	"sync"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

// mu serialises TestExecute, as it replaces os.Stdout and os.Stderr for the whole process.
var mu sync.Mutex //nolint:gochecknoglobals // guards the process wide outputs

// TestExecute executes command with args and returns everything it wrote, to its own outputs
// and to os.Stdout and os.Stderr, e.g. the colored output of fatih/color.
func TestExecute(t *testing.T, command *cobra.Command, args ...string) (string, error) {
	t.Helper()

	mu.Lock()
	defer mu.Unlock()

	buf := &syncBuffer{}
	command.SetOut(buf)
	command.SetErr(buf)

	stdout, stderr := os.Stdout, os.Stderr

	rOut, wOut, err := os.Pipe()
	require.NoError(t, err)

	rErr, wErr, err := os.Pipe()
	require.NoError(t, err)

	os.Stdout, os.Stderr = wOut, wErr

	var wg sync.WaitGroup // drain the pipes, so large outputs do not block the command

	wg.Add(2) //nolint:mnd // stdout and stderr

	for _, r := range []io.Reader{rOut, rErr} {
		go func() {
			defer wg.Done()

			_, _ = io.Copy(buf, r)
		}()
	}

	command.SetArgs(args)
	_, cmdErr := command.ExecuteC()

	require.NoError(t, wOut.Close())
	require.NoError(t, wErr.Close())
	wg.Wait()

	os.Stdout, os.Stderr = stdout, stderr

	return buf.String(), cmdErr
}

type syncBuffer struct {
	b  bytes.Buffer
	mu sync.Mutex
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.b.Write(p) //nolint:wrapcheck
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.b.String()
}
