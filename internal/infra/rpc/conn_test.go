package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"langd/internal/domain"
)

// fakeServer reads newline-framed requests from its end of the pipes and
// answers through a handler, simulating a managed process's stdio.
type fakeServer struct {
	in  *io.PipeReader
	out *io.PipeWriter

	mu sync.Mutex
}

func newConnPair(t *testing.T, handler func(req Request) (string, bool)) (*Conn, *fakeServer) {
	t.Helper()

	hostReader, serverWriter := io.Pipe()
	serverReader, hostWriter := io.Pipe()

	server := &fakeServer{in: serverReader, out: serverWriter}
	go func() {
		scanner := bufio.NewScanner(serverReader)
		scanner.Buffer(make([]byte, 64*1024), maxFrameSize)
		for scanner.Scan() {
			var req Request
			if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
				continue
			}
			reply, ok := handler(req)
			if !ok {
				continue
			}
			server.send(reply)
		}
	}()

	conn := NewConn(hostReader, hostWriter, ConnOptions{Logger: zap.NewNop()})
	t.Cleanup(func() {
		_ = conn.Close()
		_ = serverWriter.Close()
		_ = hostWriter.Close()
	})
	return conn, server
}

func (s *fakeServer) send(frame string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = s.out.Write([]byte(frame + "\n"))
}

func TestConnCallRoundTrip(t *testing.T) {
	conn, _ := newConnPair(t, func(req Request) (string, bool) {
		require.Equal(t, Version, req.JSONRPC)
		return fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"result":{"echo":%q}}`, req.ID, req.Method), true
	})

	result, err := conn.Call(context.Background(), "hover", map[string]int{"line": 3}, time.Second)

	require.NoError(t, err)
	require.JSONEq(t, `{"echo":"hover"}`, string(result))
}

func TestConnMatchesRepliesOutOfOrder(t *testing.T) {
	var mu sync.Mutex
	held := make(map[int64]string)
	release := make(chan struct{})

	conn, server := newConnPair(t, func(req Request) (string, bool) {
		mu.Lock()
		held[req.ID] = fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"result":%d}`, req.ID, req.ID)
		pending := len(held)
		mu.Unlock()
		if pending == 2 {
			close(release)
		}
		return "", false
	})

	go func() {
		<-release
		mu.Lock()
		frames := make([]string, 0, len(held))
		for id := int64(2); id >= 1; id-- {
			frames = append(frames, held[id])
		}
		mu.Unlock()
		// Deliver the second request's reply first.
		for _, frame := range frames {
			server.send(frame)
		}
	}()

	var wg sync.WaitGroup
	results := make([]string, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result, err := conn.Call(context.Background(), "diagnostics", nil, time.Second)
			require.NoError(t, err)
			results[i] = string(result)
		}(i)
	}
	wg.Wait()

	require.ElementsMatch(t, []string{"1", "2"}, results)
}

func TestConnCallErrorResponse(t *testing.T) {
	conn, _ := newConnPair(t, func(req Request) (string, bool) {
		return fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"error":{"code":-32601,"message":"method not found"}}`, req.ID), true
	})

	_, err := conn.Call(context.Background(), "bogus", nil, time.Second)

	require.Error(t, err)
	code, ok := domain.CodeFrom(err)
	require.True(t, ok)
	require.Equal(t, domain.CodeProtocol, code)
	require.Contains(t, err.Error(), "method not found")
}

func TestConnCallTimeout(t *testing.T) {
	conn, _ := newConnPair(t, func(Request) (string, bool) {
		return "", false // never reply
	})

	start := time.Now()
	_, err := conn.Call(context.Background(), "diagnostics", nil, 50*time.Millisecond)

	require.ErrorIs(t, err, domain.ErrRequestTimeout)
	require.Less(t, time.Since(start), time.Second)
}

func TestConnLateReplyAfterTimeoutIsDropped(t *testing.T) {
	replies := make(chan string, 1)
	conn, server := newConnPair(t, func(req Request) (string, bool) {
		select {
		case frame := <-replies:
			return frame, true
		default:
			return "", false
		}
	})

	_, err := conn.Call(context.Background(), "slow", nil, 20*time.Millisecond)
	require.ErrorIs(t, err, domain.ErrRequestTimeout)

	// The late reply for the retired ID must not disturb the next call.
	server.send(`{"jsonrpc":"2.0","id":1,"result":"late"}`)
	replies <- `{"jsonrpc":"2.0","id":2,"result":"fresh"}`

	result, err := conn.Call(context.Background(), "fast", nil, time.Second)
	require.NoError(t, err)
	require.JSONEq(t, `"fresh"`, string(result))
}

func TestConnMalformedFrameDoesNotKillConnection(t *testing.T) {
	conn, server := newConnPair(t, func(req Request) (string, bool) {
		return fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"result":"ok"}`, req.ID), true
	})

	server.send(`{this is not json`)

	result, err := conn.Call(context.Background(), "ping", nil, time.Second)
	require.NoError(t, err)
	require.JSONEq(t, `"ok"`, string(result))
}

func TestConnNotificationDispatch(t *testing.T) {
	conn, server := newConnPair(t, func(Request) (string, bool) { return "", false })

	got := make(chan string, 1)
	conn.OnNotification(func(method string, params json.RawMessage) {
		got <- method + ":" + string(params)
	})

	server.send(`{"jsonrpc":"2.0","method":"log","params":{"level":"info"}}`)

	select {
	case payload := <-got:
		require.Equal(t, `log:{"level":"info"}`, payload)
	case <-time.After(time.Second):
		t.Fatal("notification was not dispatched")
	}
}

func TestConnCloseFailsPendingCalls(t *testing.T) {
	conn, _ := newConnPair(t, func(Request) (string, bool) { return "", false })

	errs := make(chan error, 1)
	go func() {
		_, err := conn.Call(context.Background(), "diagnostics", nil, time.Minute)
		errs <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, conn.Close())

	select {
	case err := <-errs:
		require.ErrorIs(t, err, domain.ErrConnectionClosed)
	case <-time.After(time.Second):
		t.Fatal("pending call did not fail on close")
	}

	_, err := conn.Call(context.Background(), "diagnostics", nil, time.Second)
	require.ErrorIs(t, err, domain.ErrConnectionClosed)
}
