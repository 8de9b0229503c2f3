// BSD 3-Clause License
//
// Copyright (c) 2020, Sperax
// All rights reserved.
//
// Redistribution and use in source and binary forms, with or without
// modification, are permitted provided that the following conditions are met:
//
// 1. Redistributions of source code must retain the above copyright notice, this
//    list of conditions and the following disclaimer.
//
// 2. Redistributions in binary form must reproduce the above copyright notice,
//    this list of conditions and the following disclaimer in the documentation
//    and/or other materials provided with the distribution.
//
// 3. Neither the name of the copyright holder nor the names of its
//    contributors may be used to endorse or promote products derived from
//    this software without specific prior written permission.
//
// THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND CONTRIBUTORS "AS IS"
// AND ANY EXPRESS OR IMPLIED WARRANTIES, INCLUDING, BUT NOT LIMITED TO, THE
// IMPLIED WARRANTIES OF MERCHANTABILITY AND FITNESS FOR A PARTICULAR PURPOSE ARE
// DISCLAIMED. IN NO EVENT SHALL THE COPYRIGHT HOLDER OR CONTRIBUTORS BE LIABLE
// FOR ANY DIRECT, INDIRECT, INCIDENTAL, SPECIAL, EXEMPLARY, OR CONSEQUENTIAL
// DAMAGES (INCLUDING, BUT NOT LIMITED TO, PROCUREMENT OF SUBSTITUTE GOODS OR
// SERVICES; LOSS OF USE, DATA, OR PROFITS; OR BUSINESS INTERRUPTION) HOWEVER
// CAUSED AND ON ANY THEORY OF LIABILITY, WHETHER IN CONTRACT, STRICT LIABILITY,
// OR TORT (INCLUDING NEGLIGENCE OR OTHERWISE) ARISING IN ANY WAY OUT OF THE USE
// OF THIS SOFTWARE, EVEN IF ADVISED OF THE POSSIBILITY OF SUCH DAMAGE.

// Command overlaynode runs one attested overlay node: it brings up the
// Connection Manager supervisor over TCP and the shared-secret bootstrap
// protocol above it, taking its listen port and peer list either from
// positional CLI arguments or from a one-shot POST /setup HTTP body.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"code.cloudfoundry.org/bytefmt"
	"github.com/dstack-tee/overlay/attestation"
	"github.com/dstack-tee/overlay/bus"
	"github.com/dstack-tee/overlay/configserver"
	"github.com/dstack-tee/overlay/identity"
	"github.com/dstack-tee/overlay/sharedsecret"
	"github.com/dstack-tee/overlay/supervisor"
	"github.com/dstack-tee/overlay/transport/tcp"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:                 "overlaynode",
		Usage:                "run an attested P2P overlay node",
		EnableBashCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "secret",
				Usage: "hex-encoded 32-byte node secret key; a random one is generated if omitted",
			},
			&cli.StringFlag{
				Name:  "bootstrap-secret",
				Usage: "hex-encoded shared secret this node already holds; omit to run as a joiner",
			},
			&cli.StringFlag{
				Name:  "setup-addr",
				Value: configserver.DefaultAddr,
				Usage: "address for the POST /setup config front-end, used only when no positional port/peers are given",
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(c *cli.Context) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	local, err := loadOrGenerateSecret(c.String("secret"))
	if err != nil {
		return err
	}

	port, peers, err := resolveConfig(ctx, c)
	if err != nil {
		return err
	}

	appBus := bus.New(nil)
	inbox := bus.NewInbox(bus.DefaultSubscriberCapacity)

	sup, err := supervisor.Start(ctx, supervisor.Config{
		ListenAddr:  fmt.Sprintf(":%d", port),
		Peers:       peers,
		Local:       local,
		Attestation: attestation.Stub{},
		Inbox:       inbox.Sender(),
		Broadcast:   appBus,
	})
	if err != nil {
		return err
	}

	printStartupBanner(local, port, peers)

	proto := buildProtocol(c.String("bootstrap-secret"), appBus, inbox)
	go func() {
		if err := proto.Run(ctx); err != nil {
			slog.Default().Info("shared-secret protocol stopped", "error", err)
		}
	}()

	slog.Default().Info("overlay node started", "listen", sup.Addr().String(), "peers", peers)
	sup.Wait()
	return nil
}

// resolveConfig implements the dual config surface: positional "port
// peer1 peer2 …" arguments take priority; with none given, the node waits
// for a single POST /setup JSON body instead.
func resolveConfig(ctx context.Context, c *cli.Context) (uint16, []string, error) {
	if c.NArg() > 0 {
		port, err := strconv.Atoi(c.Args().Get(0))
		if err != nil {
			return 0, nil, fmt.Errorf("invalid port %q: %w", c.Args().Get(0), err)
		}
		return uint16(port), c.Args().Slice()[1:], nil
	}

	cfg, err := awaitHTTPConfig(ctx, c.String("setup-addr"))
	if err != nil {
		return 0, nil, err
	}
	return cfg.Port, cfg.Peers, nil
}

func awaitHTTPConfig(ctx context.Context, addr string) (configserver.Config, error) {
	srv := configserver.New(configserver.Options{Addr: addr})
	ln, err := srv.Listen()
	if err != nil {
		return configserver.Config{}, err
	}
	go func() { _ = srv.Serve(ctx, ln) }()

	slog.Default().Info("waiting for POST /setup", "addr", ln.Addr().String())
	select {
	case cfg := <-srv.Configs():
		return cfg, nil
	case <-ctx.Done():
		return configserver.Config{}, ctx.Err()
	}
}

// printStartupBanner renders the node's identity, listen port, peer list
// and max frame size as an ASCII table on stdout, right after the
// supervisor has started listening and dialing.
func printStartupBanner(local identity.SecretKey, port uint16, peers []string) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"field", "value"})
	table.Append([]string{"public key", local.Public().String()})
	table.Append([]string{"listen port", strconv.Itoa(int(port))})
	table.Append([]string{"peers", strings.Join(peers, ", ")})
	table.Append([]string{"max frame size", bytefmt.ByteSize(uint64(tcp.MaxMessageLength))})
	table.Render()
}

func loadOrGenerateSecret(hexSecret string) (identity.SecretKey, error) {
	if hexSecret == "" {
		return identity.GenerateSecretKey(nil)
	}
	raw, err := hex.DecodeString(hexSecret)
	if err != nil {
		return identity.SecretKey{}, fmt.Errorf("invalid --secret: %w", err)
	}
	return identity.SecretKeyFromBytes(raw)
}

// loggingConsumer stands in for the out-of-scope light-client consumer:
// it just logs the secret it receives.
type loggingConsumer struct {
	logger *slog.Logger
}

func (c loggingConsumer) Deliver(secret []byte) {
	c.logger.Info("shared secret received", "secret", hex.EncodeToString(secret))
}

func buildProtocol(bootstrapSecretHex string, b *bus.Bus, inbox *bus.Inbox) *sharedsecret.Protocol {
	logger := slog.Default().With("component", "sharedsecret")

	if bootstrapSecretHex == "" {
		return sharedsecret.NewJoiner(b, inbox, loggingConsumer{logger: logger})
	}

	secret, err := hex.DecodeString(bootstrapSecretHex)
	if err != nil {
		logger.Error("invalid --bootstrap-secret, running as a joiner instead", "error", err)
		return sharedsecret.NewJoiner(b, inbox, loggingConsumer{logger: logger})
	}
	return sharedsecret.NewBootstrap(b, inbox, secret)
}
