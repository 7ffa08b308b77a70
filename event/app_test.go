// SPDX-License-Identifier: MPL-2.0

package event

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppRequestResponse(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer lis.Close()

	server := NewApp(AppConfig{Log: zerolog.Nop()})
	server.Register("ping", func(c *Conn, m *Message) {
		resp := SuccessResponse(m)
		resp.Response["pong"] = true
		require.NoError(t, c.Send(resp))
	})
	go server.Serve(lis)
	defer server.Close()

	got := make(chan *Message, 1)
	client := NewApp(AppConfig{
		Log: zerolog.Nop(),
		OnConnected: func(c *Conn) {
			require.NoError(t, c.Send(NewMessage("ping", "u-ping")))
		},
	})
	client.Register("ping", func(c *Conn, m *Message) {
		got <- m
	})
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go client.Connect(ctx, func() (net.Conn, error) {
		return net.Dial("tcp", lis.Addr().String())
	}, 50*time.Millisecond)

	select {
	case m := <-got:
		assert.True(t, m.IsResponse())
		assert.Equal(t, "u-ping", m.UUID)
		assert.Equal(t, true, m.Response["pong"])
	case <-time.After(3 * time.Second):
		t.Fatal("no response received")
	}
}

func TestAppUnknownEventIgnored(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer lis.Close()

	handled := make(chan struct{}, 1)
	server := NewApp(AppConfig{Log: zerolog.Nop()})
	server.Register("known", func(c *Conn, m *Message) {
		handled <- struct{}{}
	})
	go server.Serve(lis)
	defer server.Close()

	nc, err := net.Dial("tcp", lis.Addr().String())
	require.NoError(t, err)
	defer nc.Close()

	// An unknown event must not kill the connection.
	_, err = nc.Write([]byte(`{"event":"bogus","uuid":"u1","version":1}` + "\n"))
	require.NoError(t, err)
	_, err = nc.Write([]byte(`{"event":"known","uuid":"u2","version":1}` + "\n"))
	require.NoError(t, err)

	select {
	case <-handled:
	case <-time.After(2 * time.Second):
		t.Fatal("handler not invoked after unknown event")
	}
}

func TestAppOnCloseFires(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer lis.Close()

	closed := make(chan struct{}, 1)
	server := NewApp(AppConfig{
		Log:     zerolog.Nop(),
		OnClose: func(c *Conn) { closed <- struct{}{} },
	})
	go server.Serve(lis)
	defer server.Close()

	nc, err := net.Dial("tcp", lis.Addr().String())
	require.NoError(t, err)
	nc.Close()

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("close callback not invoked")
	}
}

func TestAppClientReconnects(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer lis.Close()

	server := NewApp(AppConfig{Log: zerolog.Nop()})
	go server.Serve(lis)
	defer server.Close()

	connects := make(chan *Conn, 4)
	client := NewApp(AppConfig{
		Log:         zerolog.Nop(),
		OnConnected: func(c *Conn) { connects <- c },
	})
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go client.Connect(ctx, func() (net.Conn, error) {
		return net.Dial("tcp", lis.Addr().String())
	}, 20*time.Millisecond)

	var first *Conn
	select {
	case first = <-connects:
	case <-time.After(2 * time.Second):
		t.Fatal("client never connected")
	}

	// Drop the link: the client redials on its own.
	first.Close()

	select {
	case <-connects:
	case <-time.After(2 * time.Second):
		t.Fatal("client did not reconnect")
	}
}
