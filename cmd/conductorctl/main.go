// Command conductorctl is the operator CLI against a running cmd/conductor
// process: inspect supervised projects and the shared-resource wait graph,
// force an unhealthy project's recovery, or drive the scheduler directly.
// Grounded on cmd/agentctl's os.Args[1]-switch subcommand dispatch with a
// per-subcommand flag.FlagSet.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"conductor/pkg/controlapi"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "inspect":
		handleInspect(os.Args[2:])
	case "recover":
		handleRecover(os.Args[2:])
	case "scheduler":
		handleScheduler(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command %q\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `conductorctl - operator CLI for cmd/conductor

Usage:
  conductorctl inspect [-addr http://localhost:8080]
  conductorctl recover <project-id> [-addr http://localhost:8080]
  conductorctl scheduler rebalance [-addr http://localhost:8080]
  conductorctl scheduler set-strategy <name> [-addr http://localhost:8080]`)
}

func handleInspect(args []string) {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:8080", "conductor control API base address")
	_ = fs.Parse(args)

	resp, err := http.Get(*addr + "/control/inspect")
	if err != nil {
		fatalf("inspect request failed: %v", err)
	}
	defer resp.Body.Close()

	var out controlapi.InspectResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		fatalf("failed to decode inspect response: %v", err)
	}
	printJSON(out)
}

func handleRecover(args []string) {
	fs := flag.NewFlagSet("recover", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:8080", "conductor control API base address")
	principal := fs.String("principal", "conductorctl", "identity recorded with the command")
	if err := fs.Parse(args); err != nil || fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Error: expected 'recover <project-id>'")
		os.Exit(1)
	}
	projectID := fs.Arg(0)

	sendCommand(*addr, controlapi.CommandRequest{
		Verb:      "recover_project",
		ProjectID: projectID,
		Principal: *principal,
	})
}

func handleScheduler(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Error: expected 'scheduler rebalance' or 'scheduler set-strategy <name>'")
		os.Exit(1)
	}

	switch args[0] {
	case "rebalance":
		fs := flag.NewFlagSet("scheduler-rebalance", flag.ExitOnError)
		addr := fs.String("addr", "http://localhost:8080", "conductor control API base address")
		principal := fs.String("principal", "conductorctl", "identity recorded with the command")
		_ = fs.Parse(args[1:])
		sendCommand(*addr, controlapi.CommandRequest{Verb: "scheduler.rebalanceNow", Principal: *principal})

	case "set-strategy":
		fs := flag.NewFlagSet("scheduler-set-strategy", flag.ExitOnError)
		addr := fs.String("addr", "http://localhost:8080", "conductor control API base address")
		principal := fs.String("principal", "conductorctl", "identity recorded with the command")
		if err := fs.Parse(args[1:]); err != nil || fs.NArg() < 1 {
			fmt.Fprintln(os.Stderr, "Error: expected 'scheduler set-strategy <Equal|WeightedByPriority|UsageDriven>'")
			os.Exit(1)
		}
		sendCommand(*addr, controlapi.CommandRequest{
			Verb:      "scheduler.setStrategy",
			Principal: *principal,
			Args:      controlapi.SetStrategyArgs{Strategy: fs.Arg(0)},
		})

	default:
		fmt.Fprintf(os.Stderr, "Error: unknown scheduler subcommand %q\n", args[0])
		os.Exit(1)
	}
}

func sendCommand(addr string, req controlapi.CommandRequest) {
	body, err := json.Marshal(req)
	if err != nil {
		fatalf("failed to marshal command: %v", err)
	}

	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Post(addr+"/control/command", "application/json", bytes.NewReader(body))
	if err != nil {
		fatalf("command request failed: %v", err)
	}
	defer resp.Body.Close()

	var out controlapi.CommandResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		fatalf("failed to decode command response: %v", err)
	}
	if !out.OK {
		fatalf("command failed: %s", out.Error)
	}
	printJSON(out)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
