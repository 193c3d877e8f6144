// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Command tsimctl is the CLI facade over a running tsimd's HTTP external
// interface layer (spec §4.I): submit, status, cancel, and hosts, plus
// setup/teardown and scoped add-host/remove-host against the live
// namespace topology.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"tsim.dev/tsim/internal/job"
)

const (
	exitOK         = 0
	exitValidation = 1
	exitUsage      = exitValidation
	exitContention = 2
	exitError      = 4
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, "usage: tsimctl <submit|status|cancel|jobs|hosts|add-host|remove-host|setup|teardown> [args]")
		return exitUsage
	}

	fs := flag.NewFlagSet("tsimctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	addr := fs.String("addr", "http://127.0.0.1:8080", "tsimd API base URL")

	sub, rest := args[0], args[1:]
	if err := fs.Parse(rest); err != nil {
		return exitUsage
	}
	client := &apiClient{baseURL: *addr, http: &http.Client{Timeout: 30 * time.Second}}

	switch sub {
	case "submit":
		return cmdSubmit(client, fs.Args(), stdout, stderr)
	case "status":
		return cmdStatus(client, fs.Args(), stdout, stderr)
	case "cancel":
		return cmdCancel(client, fs.Args(), stdout, stderr)
	case "jobs":
		return cmdJobs(client, stdout, stderr)
	case "hosts":
		return cmdHosts(client, stdout, stderr)
	case "setup":
		return cmdSetup(client, stdout, stderr)
	case "teardown":
		return cmdTeardown(client, fs.Args(), stdout, stderr)
	case "add-host":
		return cmdAddHost(client, fs.Args(), stdout, stderr)
	case "remove-host":
		return cmdRemoveHost(client, fs.Args(), stdout, stderr)
	default:
		fmt.Fprintf(stderr, "unknown subcommand %q\n", sub)
		return exitUsage
	}
}

func cmdSubmit(c *apiClient, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("submit", flag.ContinueOnError)
	fs.SetOutput(stderr)
	src := fs.String("src", "", "source IP address")
	dst := fs.String("dst", "", "destination IP address")
	mode := fs.String("mode", "quick", "analysis mode: quick or detailed")
	username := fs.String("user", "", "submitting username")
	serviceSpec := fs.String("service-spec", "", `port specification, e.g. "80,443/tcp,22-25,ssh" (expanded server-side)`)
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if *src == "" || *dst == "" {
		fmt.Fprintln(stderr, "submit requires -src and -dst")
		return exitValidation
	}

	body := map[string]any{
		"username": *username,
		"params": job.Params{
			SourceIP:     *src,
			DestIP:       *dst,
			AnalysisMode: job.AnalysisMode(*mode),
		},
	}
	if *serviceSpec != "" {
		body["service_spec"] = *serviceSpec
	}
	var rec job.Record
	if err := c.postJSON("/jobs", body, &rec); err != nil {
		fmt.Fprintln(stderr, err)
		return exitCodeFor(err)
	}
	fmt.Fprintln(stdout, rec.RunID)
	return exitOK
}

func cmdStatus(c *apiClient, args []string, stdout, stderr io.Writer) int {
	if len(args) != 1 {
		fmt.Fprintln(stderr, "usage: tsimctl status <run_id>")
		return exitUsage
	}
	var out json.RawMessage
	if err := c.getJSON("/jobs/"+args[0], &out); err != nil {
		fmt.Fprintln(stderr, err)
		return exitCodeFor(err)
	}
	fmt.Fprintln(stdout, string(out))
	return exitOK
}

func cmdCancel(c *apiClient, args []string, stdout, stderr io.Writer) int {
	if len(args) != 1 {
		fmt.Fprintln(stderr, "usage: tsimctl cancel <run_id>")
		return exitUsage
	}
	var out json.RawMessage
	if err := c.deleteJSON("/jobs/"+args[0], &out); err != nil {
		fmt.Fprintln(stderr, err)
		return exitCodeFor(err)
	}
	fmt.Fprintln(stdout, string(out))
	return exitOK
}

func cmdJobs(c *apiClient, stdout, stderr io.Writer) int {
	var out json.RawMessage
	if err := c.getJSON("/jobs", &out); err != nil {
		fmt.Fprintln(stderr, err)
		return exitCodeFor(err)
	}
	fmt.Fprintln(stdout, string(out))
	return exitOK
}

func cmdHosts(c *apiClient, stdout, stderr io.Writer) int {
	var out json.RawMessage
	if err := c.getJSON("/hosts", &out); err != nil {
		fmt.Fprintln(stderr, err)
		return exitCodeFor(err)
	}
	fmt.Fprintln(stdout, string(out))
	return exitOK
}

func cmdSetup(c *apiClient, stdout, stderr io.Writer) int {
	var out json.RawMessage
	if err := c.postJSON("/setup", map[string]any{}, &out); err != nil {
		fmt.Fprintln(stderr, err)
		return exitCodeFor(err)
	}
	fmt.Fprintln(stdout, string(out))
	return exitOK
}

func cmdTeardown(c *apiClient, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("teardown", flag.ContinueOnError)
	fs.SetOutput(stderr)
	scope := fs.String("scope", "", `teardown scope: all (default), router, hosts-only, or wsgi-created`)
	router := fs.String("router", "", `router name, required when -scope=router`)
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if *scope == "router" && *router == "" {
		fmt.Fprintln(stderr, "teardown -scope=router requires -router")
		return exitValidation
	}

	body := map[string]any{}
	if *scope != "" {
		body["scope"] = *scope
	}
	if *router != "" {
		body["router"] = *router
	}

	var out json.RawMessage
	if err := c.postJSON("/teardown", body, &out); err != nil {
		fmt.Fprintln(stderr, err)
		return exitCodeFor(err)
	}
	fmt.Fprintln(stdout, string(out))
	return exitOK
}

func cmdAddHost(c *apiClient, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("add-host", flag.ContinueOnError)
	fs.SetOutput(stderr)
	name := fs.String("name", "", "host name")
	primaryAddress := fs.String("address", "", "primary address, e.g. 10.1.1.5/24")
	connectedRouter := fs.String("router", "", "router this host attaches to")
	connectedIface := fs.String("iface", "", "router-side interface the host attaches to")
	username := fs.String("user", "", "requesting username, stamped into the host's creator tag")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if *name == "" || *primaryAddress == "" || *connectedRouter == "" || *connectedIface == "" {
		fmt.Fprintln(stderr, "add-host requires -name, -address, -router and -iface")
		return exitValidation
	}

	addr, prefixLen := *primaryAddress, 0
	if idx := strings.LastIndex(*primaryAddress, "/"); idx >= 0 {
		addr = (*primaryAddress)[:idx]
		fmt.Sscanf((*primaryAddress)[idx+1:], "%d", &prefixLen)
	}

	body := map[string]any{
		"name":                *name,
		"primary_address":     addr,
		"prefix_len":          prefixLen,
		"connected_router":    *connectedRouter,
		"connected_interface": *connectedIface,
		"username":            *username,
	}
	var out json.RawMessage
	if err := c.postJSON("/hosts", body, &out); err != nil {
		fmt.Fprintln(stderr, err)
		return exitCodeFor(err)
	}
	fmt.Fprintln(stdout, string(out))
	return exitOK
}

func cmdRemoveHost(c *apiClient, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("remove-host", flag.ContinueOnError)
	fs.SetOutput(stderr)
	username := fs.String("user", "", "requesting username; must match the lease holder to release it")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "usage: tsimctl remove-host [-user=<name>] <host>")
		return exitUsage
	}
	path := "/hosts/" + fs.Arg(0)
	if *username != "" {
		path += "?username=" + *username
	}
	var out json.RawMessage
	if err := c.deleteJSON(path, &out); err != nil {
		fmt.Fprintln(stderr, err)
		return exitCodeFor(err)
	}
	fmt.Fprintln(stdout, string(out))
	return exitOK
}

// apiClient is a thin JSON client over tsimd's external interface layer.
type apiClient struct {
	baseURL string
	http    *http.Client
}

func (c *apiClient) getJSON(path string, out any) error {
	resp, err := c.http.Get(c.baseURL + path)
	if err != nil {
		return fmt.Errorf("contacting tsimd: %w", err)
	}
	defer resp.Body.Close()
	return decodeResponse(resp, out)
}

func (c *apiClient) postJSON(path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := c.http.Post(c.baseURL+path, "application/json", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("contacting tsimd: %w", err)
	}
	defer resp.Body.Close()
	return decodeResponse(resp, out)
}

func (c *apiClient) deleteJSON(path string, out any) error {
	req, err := http.NewRequest(http.MethodDelete, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("contacting tsimd: %w", err)
	}
	defer resp.Body.Close()
	return decodeResponse(resp, out)
}

func decodeResponse(resp *http.Response, out any) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("tsimd returned %s: %s", resp.Status, string(body))
	}
	if len(body) == 0 {
		return nil
	}
	return json.Unmarshal(body, out)
}

func exitCodeFor(err error) int {
	if err == nil {
		return exitOK
	}
	// apiClient surfaces tsimd's HTTP status in the error text; 400/404/422
	// map to validation failures, 409/423/503 to lock contention, and anything
	// else (namespace-operation failures included, which tsimd reports as 500)
	// to the generic error code.
	msg := err.Error()
	switch {
	case containsAny(msg, "400", "404", "422"):
		return exitValidation
	case containsAny(msg, "409", "423", "503"):
		return exitContention
	default:
		return exitError
	}
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
