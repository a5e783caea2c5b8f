// Command monitor-tui is a terminal viewer over a monitor node's admin
// endpoint.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

func main() {
	addr := flag.String("addr", "http://127.0.0.1:9090", "Admin endpoint of the monitor node")
	services := flag.String("services", "", "Comma-separated services to show (default: all)")
	interval := flag.Duration("interval", 2*time.Second, "Refresh interval")
	flag.Parse()

	var filter []string
	for _, s := range strings.Split(*services, ",") {
		if s = strings.TrimSpace(s); s != "" {
			filter = append(filter, s)
		}
	}

	client := newStatusClient(*addr, filter)
	p := tea.NewProgram(initialModel(client, *interval), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "monitor-tui: %v\n", err)
		os.Exit(1)
	}
}
