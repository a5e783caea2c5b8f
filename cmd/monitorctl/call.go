package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dd0wney/cluso-monitor/pkg/logging"
	"github.com/dd0wney/cluso-monitor/pkg/metrics"
	"github.com/dd0wney/cluso-monitor/pkg/protocol"
	"github.com/dd0wney/cluso-monitor/pkg/rpc"
	"github.com/dd0wney/cluso-monitor/pkg/transport"
)

// settleDelay gives freshly dialled subscriptions time to connect before the
// call is published; PUB sockets drop frames for peers not yet attached.
const settleDelay = 500 * time.Millisecond

type callOptions struct {
	kind     string
	listen   string
	peers    []string
	compress bool
	device   string
	cmd      string
	code     string
	params   json.RawMessage
	timeout  time.Duration
}

func parseCallFlags(args []string) (callOptions, error) {
	fs := flag.NewFlagSet("call", flag.ContinueOnError)
	kind := fs.String("transport", "nng", "Transport kind (nng or zmq)")
	listen := fs.String("listen", "tcp://0.0.0.0:7099", "PUB address of this transient node; the target must dial it")
	peers := fs.String("peers", "", "Comma-separated PUB addresses to subscribe to")
	compress := fs.Bool("compress", false, "Snappy-compress frame bodies")
	device := fs.String("device", "", "UUID of the device to call")
	cmd := fs.String("cmd", "status", "Command name")
	code := fs.String("code", "0", "Command code")
	params := fs.String("params", "null", "JSON parameters")
	timeout := fs.Duration("timeout", rpc.DefaultCallTimeout, "How long to wait for the reply")
	if err := fs.Parse(args); err != nil {
		return callOptions{}, err
	}

	if *device == "" {
		return callOptions{}, errors.New("-device is required")
	}
	if !json.Valid([]byte(*params)) {
		return callOptions{}, fmt.Errorf("-params is not valid JSON: %s", *params)
	}

	var peerList []string
	for _, p := range strings.Split(*peers, ",") {
		if p = strings.TrimSpace(p); p != "" {
			peerList = append(peerList, p)
		}
	}

	return callOptions{
		kind:     *kind,
		listen:   *listen,
		peers:    peerList,
		compress: *compress,
		device:   *device,
		cmd:      *cmd,
		code:     *code,
		params:   json.RawMessage(*params),
		timeout:  *timeout,
	}, nil
}

func runCall(args []string, out io.Writer) error {
	opts, err := parseCallFlags(args)
	if err != nil {
		return err
	}

	self := "monitorctl-" + uuid.NewString()
	logger := logging.DefaultLogger()
	reg := metrics.NewRegistry()

	tr, err := transport.New(transport.Config{
		Self:     self,
		Kind:     opts.kind,
		Listen:   opts.listen,
		Peers:    opts.peers,
		Compress: opts.compress,
	}, logger, reg)
	if err != nil {
		return err
	}
	defer tr.Close()

	router := rpc.NewRouter(rpc.Config{Self: self, CallTimeout: opts.timeout}, tr, logger, reg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go router.Serve(ctx, tr.Inbound())

	time.Sleep(settleDelay)

	back, err := router.Call(ctx, opts.device, protocol.CallPayload{
		CmdName:    opts.cmd,
		CmdCode:    opts.code,
		Parameters: opts.params,
	})
	if err != nil {
		return err
	}
	return printBack(out, back)
}

func printBack(out io.Writer, back *protocol.BackPayload) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(back); err != nil {
		return err
	}
	if perr := back.AsError(); perr != nil {
		return perr
	}
	return nil
}
