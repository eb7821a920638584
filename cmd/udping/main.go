// Command udping is a small demo of the transport: a reliable-UDP echo
// server and a client that measures application-level round trips over
// an established connection.
//
// Server:
//
//	udping -s -b "*:7777"
//
// Client:
//
//	udping -c 5 127.0.0.1:7777
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/apex/log"
	"github.com/pborman/getopt/v2"
	"github.com/renet-go/renet/pkg/config"
	"github.com/renet-go/renet/pkg/transport"
	"golang.org/x/sync/errgroup"
)

func main() {
	bind := getopt.StringLong("bind", 'b', "*:7777", "bind address in server mode")
	serve := getopt.BoolLong("server", 's', "run as an echo server")
	count := getopt.IntLong("count", 'c', 5, "pings to send before disconnecting")
	interval := getopt.IntLong("interval", 'i', 1000, "milliseconds between pings")
	compress := getopt.BoolLong("compress", 'z', "compress payloads on the wire")
	verbose := getopt.BoolLong("verbose", 'v', "enable debug logs")
	getopt.Parse()

	if *verbose {
		log.SetLevel(log.DebugLevel)
	}
	options := []config.Option{}
	if *compress {
		options = append(options, config.WithCompressor(transport.NewS2Compressor()))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	if *serve {
		opts := append(options,
			config.WithBindAddress(*bind),
			config.WithPeerCount(32),
		)
		g.Go(func() error { return runServer(ctx, opts) })
	} else {
		args := getopt.Args()
		if len(args) != 1 {
			getopt.Usage()
			os.Exit(1)
		}
		g.Go(func() error {
			return runClient(ctx, args[0], *count, time.Duration(*interval)*time.Millisecond, options)
		})
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("udping failed")
	}
}

// runServer echoes every payload back on the channel it arrived on.
func runServer(ctx context.Context, options []config.Option) error {
	h, err := transport.NewHost(options...)
	if err != nil {
		return err
	}
	defer h.Close()
	log.Infof("echo server on %s", h.Address())

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		ev, err := h.Service(100 * time.Millisecond)
		if err != nil {
			return err
		}
		if ev == nil {
			continue
		}
		switch ev.Type {
		case transport.EventConnect:
			log.Infof("peer connected from %s", ev.Peer.Address())
		case transport.EventReceive:
			if err := ev.Peer.Send(ev.Data, ev.ChannelID, transport.DeliveryReliable); err != nil {
				log.WithError(err).Warn("cannot echo")
			}
		case transport.EventDisconnect:
			log.Info("peer disconnected")
		}
	}
}

// runClient sends count payloads and prints the application-level round
// trip of each echo, then disconnects gracefully.
func runClient(ctx context.Context, address string, count int, interval time.Duration, options []config.Option) error {
	h, err := transport.NewHost(options...)
	if err != nil {
		return err
	}
	defer h.Close()

	peer, err := h.Connect(address, 1, 0)
	if err != nil {
		return err
	}

	sent := 0
	received := 0
	sendTimes := map[string]time.Time{}
	nextSend := time.Time{}
	finalRTT := time.Duration(0)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if peer.State() == transport.StateConnected &&
			sent < count && time.Now().After(nextSend) {
			payload := fmt.Sprintf("udping %d", sent)
			if err := peer.Send([]byte(payload), 0, transport.DeliveryReliable); err != nil {
				return err
			}
			sendTimes[payload] = time.Now()
			nextSend = time.Now().Add(interval)
			sent++
		}

		ev, err := h.Service(10 * time.Millisecond)
		if err != nil {
			return err
		}
		if ev == nil {
			continue
		}
		switch ev.Type {
		case transport.EventConnect:
			log.Infof("connected to %s, transport rtt %s", address, peer.RoundTripTime())

		case transport.EventReceive:
			start, ok := sendTimes[string(ev.Data)]
			if !ok {
				log.Warnf("unexpected echo: %q", ev.Data)
				continue
			}
			received++
			fmt.Printf("%s: seq=%d time=%s\n", address, received-1, time.Since(start))
			if received >= count {
				finalRTT = peer.RoundTripTime()
				if err := peer.Disconnect(0); err != nil {
					return err
				}
			}

		case transport.EventDisconnect:
			fmt.Printf("%d sent, %d echoed, transport rtt %s\n", sent, received, finalRTT)
			return nil
		}
	}
}
