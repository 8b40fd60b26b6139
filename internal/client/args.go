package client

import (
	"fmt"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
)

type ValidationError struct {
	Arg   string
	Cause string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid argument %q: %s", e.Arg, e.Cause)
}

// Request describes one share request built from command-line input.
type Request struct {
	FilePath   string
	Title      string
	Recipients []string
}

// ParseArgs validates the file argument and an optional comma-separated
// recipient list into a Request.
func ParseArgs(args []string, title, recipients string) (*Request, error) {
	if len(args) != 1 {
		return nil, &ValidationError{Arg: "<file>", Cause: "exactly one file is required"}
	}

	path := filepath.Clean(args[0])
	info, err := os.Stat(path)
	if err != nil {
		return nil, &ValidationError{Arg: args[0], Cause: "not found or not accessible"}
	}
	if info.IsDir() {
		return nil, &ValidationError{Arg: args[0], Cause: "directories cannot be shared, pass a file"}
	}

	req := &Request{FilePath: path, Title: title}
	for _, part := range strings.Split(recipients, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		addr, err := mail.ParseAddress(part)
		if err != nil {
			return nil, &ValidationError{Arg: part, Cause: "not a valid email address"}
		}
		req.Recipients = append(req.Recipients, addr.Address)
	}
	return req, nil
}
