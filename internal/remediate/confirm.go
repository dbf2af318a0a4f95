package remediate

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrConfirmationDenied means the operator did not type the confirmation
// token. It is an outcome, not a failure of the run.
var ErrConfirmationDenied = errors.New("remediation not confirmed")

// Confirm prints a prompt to w and reads one line from r. Only the exact
// token, without surrounding line endings, is accepted.
func Confirm(r io.Reader, w io.Writer, token string, steps int) error {
	if r == nil {
		return ErrConfirmationDenied
	}
	if w != nil {
		fmt.Fprintf(w, "This will permanently remove %d item(s) from this host.\n", steps)
		fmt.Fprintf(w, "Type %s to continue: ", token)
	}
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("read confirmation: %w", err)
	}
	if strings.TrimRight(line, "\r\n") != token {
		return ErrConfirmationDenied
	}
	return nil
}
