package broker_test

import (
	"bufio"
	"context"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/questline/eventbus/pkg/eventbus/broker"
)

// fakeRedisAddr serves a minimal RESP endpoint: HELLO gets the unknown-command
// error an old server would send (go-redis then falls back to RESP2), PING
// gets +PONG, and every other command gets +OK, the way an idle Redis behaves
// on a pub/sub connection.
func fakeRedisAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				r := bufio.NewReader(c)
				for {
					line, err := r.ReadString('\n')
					if err != nil {
						return
					}
					if !strings.HasPrefix(line, "*") {
						continue
					}
					argc, err := strconv.Atoi(strings.TrimSpace(line[1:]))
					if err != nil || argc < 1 {
						return
					}
					args := make([]string, 0, argc)
					for i := 0; i < argc; i++ {
						if _, err := r.ReadString('\n'); err != nil {
							return
						}
						arg, err := r.ReadString('\n')
						if err != nil {
							return
						}
						args = append(args, strings.TrimSpace(arg))
					}
					switch strings.ToUpper(args[0]) {
					case "HELLO":
						_, _ = c.Write([]byte("-ERR unknown command 'hello'\r\n"))
					case "PING":
						_, _ = c.Write([]byte("+PONG\r\n"))
					default:
						_, _ = c.Write([]byte("+OK\r\n"))
					}
				}
			}(conn)
		}
	}()
	return ln.Addr().String()
}

// A subscription opened without patterns has no confirmation to wait for;
// it must come back immediately so the bus can add patterns as handlers
// register.
func TestRedisSubscribeWithoutPatterns(t *testing.T) {
	addr := fakeRedisAddr(t)
	br, err := broker.NewRedisBroker(broker.RedisConfig{URL: "redis://" + addr + "/0?protocol=2"})
	require.NoError(t, err)
	defer br.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, br.Ping(ctx))

	start := time.Now()
	sub, err := br.Subscribe(ctx)
	require.NoError(t, err, "empty subscription must not wait for a confirmation")
	assert.Less(t, time.Since(start), time.Second)

	assert.NoError(t, sub.Subscribe(ctx, "events.gamification.*"))
	assert.NoError(t, sub.Close())
}
