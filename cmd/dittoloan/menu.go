package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/marmos91/dittoloan/internal/protocol/wire"
)

const menuText = `
1) Borrow a book
2) Renew a loan
3) Return a book
4) Look up a title
0) Quit
> `

var menuOps = map[string]wire.Operation{
	"1": wire.OpBorrow,
	"2": wire.OpRenew,
	"3": wire.OpReturn,
	"4": wire.OpLookup,
}

// runMenu drives an interactive session until the user quits or in ends.
func runMenu(ctx context.Context, in io.Reader, out io.Writer, do doFunc) error {
	scanner := bufio.NewScanner(in)

	prompt := func(label string) (string, bool) {
		fmt.Fprint(out, label)
		if !scanner.Scan() {
			return "", false
		}
		return strings.TrimSpace(scanner.Text()), true
	}

	for {
		choice, ok := prompt(menuText)
		if !ok || choice == "0" {
			return scanner.Err()
		}

		op, known := menuOps[choice]
		if !known {
			fmt.Fprintf(out, "Unknown option %q\n", choice)
			continue
		}

		title, ok := prompt("Title: ")
		if !ok {
			return scanner.Err()
		}
		isbn, ok := prompt("ISBN: ")
		if !ok {
			return scanner.Err()
		}

		var number string
		if op == wire.OpRenew || op == wire.OpReturn {
			if number, ok = prompt("Copy number: "); !ok {
				return scanner.Err()
			}
		}

		req, err := newRequest(op, title, isbn, number)
		if err != nil {
			fmt.Fprintf(out, "Invalid request: %v\n", err)
			continue
		}

		resp, err := do(ctx, req)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, describe(req, resp))
	}
}
