package broker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lnls-bpm/bpm-core/pkg/message"
)

func startTestBroker(t *testing.T) (*Broker, string) {
	b, err := New("127.0.0.1:0", nil)
	require.NoError(t, err)
	go b.Serve()
	t.Cleanup(func() { b.Close() })
	return b, b.Addr().String()
}

func TestClientWorkerRoundTrip(t *testing.T) {
	_, addr := startTestBroker(t)

	wc, err := DialWorker(addr, "echo")
	require.NoError(t, err)
	defer wc.Close()

	go func() {
		req, err := wc.Next()
		if err != nil {
			return
		}
		wc.Reply(req) // echo it back
	}()

	cl, err := Dial(addr)
	require.NoError(t, err)
	defer cl.Close()

	body := message.New([]byte{0x01}, []byte("payload"))
	reply, err := cl.Request("echo", body)
	require.NoError(t, err)
	require.Len(t, reply.Frames, 2)
	assert.Equal(t, []byte{0x01}, reply.Frames[0])
	assert.Equal(t, []byte("payload"), reply.Frames[1])
}

func TestTwoRequestsServedFIFO(t *testing.T) {
	_, addr := startTestBroker(t)

	wc, err := DialWorker(addr, "counter")
	require.NoError(t, err)
	defer wc.Close()

	order := make(chan string, 2)
	go func() {
		for i := 0; i < 2; i++ {
			req, err := wc.Next()
			if err != nil {
				return
			}
			order <- string(req.Frames[0])
			wc.Reply(req)
		}
	}()

	cl1, err := Dial(addr)
	require.NoError(t, err)
	defer cl1.Close()
	cl2, err := Dial(addr)
	require.NoError(t, err)
	defer cl2.Close()

	_, err = cl1.Request("counter", message.New([]byte("first")))
	require.NoError(t, err)
	_, err = cl2.Request("counter", message.New([]byte("second")))
	require.NoError(t, err)

	select {
	case first := <-order:
		assert.Equal(t, "first", first)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for worker order")
	}
}

func TestRequestToUnknownServiceBlocksUntilWorkerArrives(t *testing.T) {
	_, addr := startTestBroker(t)

	replyCh := make(chan error, 1)
	go func() {
		cl, err := Dial(addr)
		if err != nil {
			replyCh <- err
			return
		}
		defer cl.Close()
		_, err = cl.Request("late", message.New([]byte("x")))
		replyCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	wc, err := DialWorker(addr, "late")
	require.NoError(t, err)
	defer wc.Close()
	req, err := wc.Next()
	require.NoError(t, err)
	require.NoError(t, wc.Reply(req))

	select {
	case err := <-replyCh:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for client reply")
	}
}
