package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/term"
)

// prompter reads answers for 'config init'.
type prompter struct {
	in  *bufio.Reader
	out io.Writer
	// fd is the terminal used to read secrets without echo, or -1.
	fd int
}

func newPrompter(in io.Reader, out io.Writer) *prompter {
	p := &prompter{in: bufio.NewReader(in), out: out, fd: -1}
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		p.fd = int(f.Fd())
	}
	return p
}

// text asks for a value, returning def when the answer is empty.
func (p *prompter) text(label, def string) string {
	if def != "" {
		fmt.Fprintf(p.out, "%s [%s]: ", label, def)
	} else {
		fmt.Fprintf(p.out, "%s: ", label)
	}
	input, _ := p.in.ReadString('\n')
	input = strings.TrimSpace(input)
	if input == "" {
		return def
	}
	return input
}

// required asks until a non-empty value is given.
func (p *prompter) required(label, def string) (string, error) {
	for i := 0; i < 3; i++ {
		if v := p.text(label+" (required)", def); v != "" {
			return v, nil
		}
		fmt.Fprintf(p.out, "  Error: %s is required\n", strings.ToLower(label))
	}
	return "", fmt.Errorf("%s is required", strings.ToLower(label))
}

// number asks for a positive integer.
func (p *prompter) number(label string, def int) int {
	v := p.text(label, strconv.Itoa(def))
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// yes asks a yes/no question.
func (p *prompter) yes(label string, def bool) bool {
	hint := "y/N"
	if def {
		hint = "Y/n"
	}
	fmt.Fprintf(p.out, "%s [%s]: ", label, hint)
	input, _ := p.in.ReadString('\n')
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "y", "yes":
		return true
	case "n", "no":
		return false
	}
	return def
}

// secret reads a value without echo when attached to a terminal. An empty
// answer keeps def.
func (p *prompter) secret(label, def string) string {
	hint := ""
	if def != "" {
		hint = " [keep current]"
	}
	fmt.Fprintf(p.out, "%s%s: ", label, hint)

	var input string
	if p.fd >= 0 {
		b, err := term.ReadPassword(p.fd)
		fmt.Fprintln(p.out)
		if err == nil {
			input = string(b)
		}
	} else {
		input, _ = p.in.ReadString('\n')
	}
	input = strings.TrimSpace(input)
	if input == "" {
		return def
	}
	return input
}
