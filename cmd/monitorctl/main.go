// Command monitorctl is the operator tool of a monitor cluster.
//
//	monitorctl token -uuid A1 -secret ...            issue a node token
//	monitorctl call -device M0 -cmd getServiceStatus  call a command on a device
package main

import (
	"fmt"
	"io"
	"os"
)

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: monitorctl <command> [flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "commands:")
	fmt.Fprintln(w, "  token   issue a device token for a node UUID")
	fmt.Fprintln(w, "  call    send one RPC call to a device and print the reply")
}

func main() {
	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "token":
		err = runToken(os.Args[2:], os.Stdout)
	case "call":
		err = runCall(os.Args[2:], os.Stdout)
	case "help", "-h", "--help":
		usage(os.Stdout)
		return
	default:
		fmt.Fprintf(os.Stderr, "monitorctl: unknown command %q\n\n", os.Args[1])
		usage(os.Stderr)
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "monitorctl %s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}
