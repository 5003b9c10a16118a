package cli

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// prompter reads answers to interactive questions line by line.
type prompter struct {
	in  *bufio.Reader
	out io.Writer
}

func newPrompter(in io.Reader, out io.Writer) *prompter {
	return &prompter{in: bufio.NewReader(in), out: out}
}

// String asks for a value and returns def on an empty answer.
func (p *prompter) String(label, def string) string {
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

// Int asks for a positive integer; invalid answers fall back to def.
func (p *prompter) Int(label string, def int) int {
	v, err := strconv.Atoi(p.String(label, strconv.Itoa(def)))
	if err != nil || v < 0 {
		return def
	}
	return v
}

// Choice asks for one of options and re-asks until it gets one.
func (p *prompter) Choice(label string, options []string, def string) string {
	for {
		answer := strings.ToLower(p.String(fmt.Sprintf("%s (%s)", label, strings.Join(options, ", ")), def))
		for _, o := range options {
			if answer == o {
				return o
			}
		}
		fmt.Fprintln(p.out, "Invalid choice, please try again.")
	}
}

// Confirm asks a yes/no question.
func (p *prompter) Confirm(label string) bool {
	answer := strings.ToLower(p.String(label+" [y/N]", ""))
	return answer == "y" || answer == "yes"
}
