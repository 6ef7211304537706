package main

import (
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/realtime-relay/relay/internal/probe"
)

func newProbeCmd() *cobra.Command {
	var (
		url      string
		events   []string
		listen   time.Duration
		attempts int
	)
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Connect to a running relay and report the events it returns",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := log.New()
			logger.SetOutput(cmd.ErrOrStderr())

			res, err := probe.New(url, attempts, logger).Run(cmd.Context(), events, listen)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "subprotocol: %s\n", res.Subprotocol)
			fmt.Fprintf(out, "handshake:   %s (%v)\n", res.Handshake.Type, res.Latency.Round(time.Millisecond))
			fmt.Fprintf(out, "events:      %s\n", strings.Join(res.Events, ", "))
			if res.Dropped > 0 {
				fmt.Fprintf(out, "malformed:   %d\n", res.Dropped)
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&url, "url", "ws://127.0.0.1:3000/", "relay address")
	flags.StringArrayVarP(&events, "event", "e", nil, "JSON event to send after the handshake (repeatable)")
	flags.DurationVar(&listen, "listen", 5*time.Second, "how long to collect events")
	flags.IntVar(&attempts, "attempts", 3, "dial attempts before giving up")
	return cmd
}
