package collect

import (
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
)

// readLine returns the next input line, trimmed. A final unterminated
// line still counts; only true exhaustion is an error.
func (c *Collector) readLine() (string, error) {
	if c.ctx != nil {
		if err := c.ctx.Err(); err != nil {
			return "", err
		}
	}
	line, err := c.input().ReadString('\n')
	if err != nil && line == "" {
		if err == io.EOF {
			return "", fmt.Errorf("input exhausted")
		}
		return "", err
	}
	return strings.TrimSpace(line), nil
}

type validator func(string) error

func notEmpty(value string) error {
	if value == "" {
		return fmt.Errorf("must not be empty")
	}
	return nil
}

func validCIDR(value string) error {
	if _, _, err := net.ParseCIDR(value); err != nil {
		return fmt.Errorf("expected an address like 192.168.1.50/24")
	}
	return nil
}

func validIP(value string) error {
	if net.ParseIP(value) == nil {
		return fmt.Errorf("expected an IP address")
	}
	return nil
}

func emptyOr(inner validator) validator {
	return func(value string) error {
		if value == "" {
			return nil
		}
		return inner(value)
	}
}

// promptString asks until the validator accepts. Empty input takes the
// default, then still validates.
func (c *Collector) promptString(label, def string, valid validator) (string, error) {
	for {
		if def != "" {
			fmt.Fprintf(c.out(), "%s [%s]: ", label, def)
		} else {
			fmt.Fprintf(c.out(), "%s: ", label)
		}
		value, err := c.readLine()
		if err != nil {
			return "", err
		}
		if value == "" {
			value = def
		}
		if err := valid(value); err != nil {
			fmt.Fprintf(c.out(), "%v\n", err)
			continue
		}
		return value, nil
	}
}

func (c *Collector) promptInt(label string, def, min, max int) (int, error) {
	for {
		fmt.Fprintf(c.out(), "%s [%d]: ", label, def)
		value, err := c.readLine()
		if err != nil {
			return 0, err
		}
		if value == "" {
			return def, nil
		}
		n, err := strconv.Atoi(value)
		if err != nil {
			fmt.Fprintf(c.out(), "expected a number\n")
			continue
		}
		if n < min || n > max {
			fmt.Fprintf(c.out(), "must be between %d and %d\n", min, max)
			continue
		}
		return n, nil
	}
}

func (c *Collector) promptBool(label string, def bool) (bool, error) {
	hint := "y/N"
	if def {
		hint = "Y/n"
	}
	for {
		fmt.Fprintf(c.out(), "%s [%s]: ", label, hint)
		value, err := c.readLine()
		if err != nil {
			return false, err
		}
		switch strings.ToLower(value) {
		case "":
			return def, nil
		case "y", "yes":
			return true, nil
		case "n", "no":
			return false, nil
		default:
			fmt.Fprintf(c.out(), "answer y or n\n")
		}
	}
}

func (c *Collector) promptChoice(label string, options []string, def string) (string, error) {
	for {
		fmt.Fprintf(c.out(), "%s (%s) [%s]: ", label, strings.Join(options, ", "), def)
		value, err := c.readLine()
		if err != nil {
			return "", err
		}
		if value == "" {
			return def, nil
		}
		for _, option := range options {
			if value == option {
				return value, nil
			}
		}
		fmt.Fprintf(c.out(), "pick one of: %s\n", strings.Join(options, ", "))
	}
}

// promptSecret reads a non-empty credential twice and loops until both
// entries match.
func (c *Collector) promptSecret(label string) (string, error) {
	for {
		first, err := c.readSecret(label)
		if err != nil {
			return "", err
		}
		if first == "" {
			fmt.Fprintf(c.out(), "must not be empty\n")
			continue
		}
		second, err := c.readSecret(label + " (confirm)")
		if err != nil {
			return "", err
		}
		if first != second {
			fmt.Fprintf(c.out(), "entries do not match, try again\n")
			continue
		}
		return first, nil
	}
}
