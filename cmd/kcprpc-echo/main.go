// The MIT License (MIT)
//
// # Copyright (c) 2016 xtaci
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Command kcprpc-echo wires a kcprpc server and client together over a
// loopback KCP session and runs a handful of calls end to end. It is not
// a general-purpose CLI (spec.md §1 treats CLI/config surfaces as an
// external collaborator); it exists to demonstrate the library the way
// xtaci-kcptun's server/main.go and client/main.go demonstrate kcptun,
// minus the flag parsing.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/xtaci/kcprpc/endpoint"
	"github.com/xtaci/kcprpc/kcpconn"
)

type user struct {
	Name  string         `cbor:"name"`
	Age   int            `cbor:"age"`
	Perms map[int]string `cbor:"perms"`
}

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Timestamp().Logger()

	srv := endpoint.NewServer(
		endpoint.WithLogger(log.With().Str("role", "server").Logger()),
		endpoint.WithMaxFrameSize(1024),
	)
	mustBind(srv.Bind("echo", func(s string) string { return s }))
	mustBind(srv.Bind("add", func(a, b int) int { return a + b }))
	mustBind(srv.Bind("mul", func(a, b float64) float64 { return a * b }))
	mustBind(srv.Bind("get_user", func() user {
		return user{Name: "lilei", Age: 32, Perms: map[int]string{1: "read", 2: "write"}}
	}))
	mustBind(srv.Bind("cat", func(s *kcpconn.Session, a, b string) string { return a + b }))

	var sessionID uint64
	srv.BindConnect(func(s *kcpconn.Session) {
		sessionID = s.ID
		log.Info().Uint64("session", s.ID).Msg("client connected")
	})

	if err := srv.Start("127.0.0.1:18010"); err != nil {
		fatal(err)
	}
	defer srv.Stop()

	cli := endpoint.NewClient(
		endpoint.WithLogger(log.With().Str("role", "client").Logger()),
		endpoint.WithConnectTimeout(2*time.Second),
	)
	mustBind(cli.Bind("sub", func(a, b int) int { return a - b }))

	connected := make(chan struct{})
	cli.BindConnect(func(s *kcpconn.Session) { close(connected) })

	if err := cli.Start("127.0.0.1:18010"); err != nil {
		fatal(err)
	}
	defer cli.Stop()

	select {
	case <-connected:
	case <-time.After(3 * time.Second):
		fatal(fmt.Errorf("client never connected"))
	}

	sum, err := endpoint.ClientCall[int](cli, "add", time.Second, 11, 12)
	log.Info().Int("sum", sum).Err(err).Msg("add(11,12)")

	greeting, err := endpoint.ClientCall[string](cli, "cat", time.Second, "abc", "123")
	log.Info().Str("greeting", greeting).Err(err).Msg("cat(abc,123)")

	_, err = endpoint.ClientCall[int](cli, "no_exists_fn", time.Second, 12, 13)
	log.Info().Err(err).Msg("no_exists_fn(12,13)")

	if sessionID != 0 {
		diff, err := endpoint.ServerCall[int](srv, sessionID, "sub", time.Second, 15, 6)
		log.Info().Int("diff", diff).Err(err).Msg("server -> client sub(15,6)")
	}

	time.Sleep(200 * time.Millisecond)
}

func mustBind(err error) {
	if err != nil {
		fatal(err)
	}
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "kcprpc-echo:", err)
	os.Exit(1)
}
