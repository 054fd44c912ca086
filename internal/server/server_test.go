package server

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/nugget/petdoor-sim/internal/door"
	"github.com/nugget/petdoor-sim/internal/events"
	"github.com/nugget/petdoor-sim/internal/protocol"
)

// testClient is a minimal phone-app stand-in: it frames inbound
// messages off the socket into a channel.
type testClient struct {
	t    *testing.T
	conn net.Conn
	msgs chan protocol.Message
	wg   sync.WaitGroup
}

func dialClient(t *testing.T, addr string) *testClient {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial %s: %v", addr, err)
	}
	c := &testClient{t: t, conn: conn, msgs: make(chan protocol.Message, 128)}
	c.wg.Add(1)
	go c.readLoop()
	t.Cleanup(c.close)
	return c
}

func (c *testClient) close() {
	c.conn.Close()
	c.wg.Wait()
}

func (c *testClient) readLoop() {
	defer c.wg.Done()
	framer := protocol.NewFramer(0)
	buf := make([]byte, 4096)
	for {
		n, err := c.conn.Read(buf)
		if err != nil {
			close(c.msgs)
			return
		}
		framer.Append(buf[:n])
		for {
			obj, err := framer.Next()
			if err != nil || obj == nil {
				break
			}
			var msg protocol.Message
			if json.Unmarshal(obj, &msg) == nil {
				c.msgs <- msg
			}
		}
	}
}

func (c *testClient) send(msg protocol.Message) {
	c.t.Helper()
	data, err := json.Marshal(msg)
	if err != nil {
		c.t.Fatalf("marshal: %v", err)
	}
	if _, err := c.conn.Write(data); err != nil {
		c.t.Fatalf("write: %v", err)
	}
}

// waitFor returns the first message satisfying pred, consuming the
// stream until then.
func (c *testClient) waitFor(pred func(protocol.Message) bool, timeout time.Duration) protocol.Message {
	c.t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case msg, ok := <-c.msgs:
			if !ok {
				c.t.Fatal("connection closed while waiting for message")
			}
			if pred(msg) {
				return msg
			}
		case <-deadline:
			c.t.Fatal("timed out waiting for message")
		}
	}
}

func byCmd(cmd string) func(protocol.Message) bool {
	return func(m protocol.Message) bool { return m[protocol.KeyCommand] == cmd }
}

func startTestServer(t *testing.T, st door.State) (*Server, *door.Simulator, string) {
	t.Helper()
	bus := events.New()
	sim := door.New(st, testLogger(), bus)
	srv := New("127.0.0.1", 0, sim, bus, testLogger())
	sim.SetBroadcaster(srv.Hub())

	ctx, cancel := context.WithCancel(context.Background())
	if err := srv.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	sim.Start(ctx)
	t.Cleanup(func() {
		cancel()
		srv.Stop()
		sim.Stop()
	})
	return srv, sim, srv.Addr().String()
}

func TestEndToEndPing(t *testing.T) {
	_, _, addr := startTestServer(t, testState())
	c := dialClient(t, addr)

	c.send(protocol.Message{"PING": "abc123"})
	pong := c.waitFor(byCmd(protocol.CmdPong), time.Second)
	if pong[protocol.KeyPong] != "abc123" {
		t.Errorf("PONG = %v, want token echo", pong[protocol.KeyPong])
	}
}

func TestEndToEndBasicCycle(t *testing.T) {
	_, sim, addr := startTestServer(t, testState())
	before := sim.Snapshot().TotalOpenCycles
	c := dialClient(t, addr)

	c.send(protocol.Message{protocol.KeyCommand: protocol.CmdOpen, protocol.FieldMsgID: float64(1)})

	// The RISING broadcast is queued before the OPEN reply, so status
	// broadcasts seen while waiting for the reply are recorded too.
	var phases []string
	reply := c.waitFor(func(m protocol.Message) bool {
		if m[protocol.KeyCommand] == protocol.CmdGetDoorStatus {
			if p, ok := m[protocol.FieldDoorStatus].(string); ok {
				phases = append(phases, p)
			}
		}
		return m[protocol.FieldMsgID] == float64(1)
	}, time.Second)
	if reply[protocol.FieldSuccess] != protocol.SuccessTrue {
		t.Fatalf("OPEN reply = %v", reply)
	}

	// The status broadcasts arrive as the cycle progresses.
	deadline := time.After(3 * time.Second)
	for len(phases) == 0 || phases[len(phases)-1] != "CLOSED" {
		select {
		case msg, ok := <-c.msgs:
			if !ok {
				t.Fatal("connection closed mid-cycle")
			}
			if msg[protocol.KeyCommand] == protocol.CmdGetDoorStatus {
				if p, ok := msg[protocol.FieldDoorStatus].(string); ok {
					phases = append(phases, p)
				}
			}
		case <-deadline:
			t.Fatalf("cycle never completed; phases so far %v", phases)
		}
	}

	want := []string{"RISING", "HOLDING", "CLOSING_TOP_OPEN", "CLOSING_MID_OPEN", "CLOSED"}
	i := 0
	for _, p := range phases {
		if i < len(want) && p == want[i] {
			i++
		}
	}
	if i != len(want) {
		t.Errorf("phases %v missing expected subsequence %v", phases, want)
	}

	if after := sim.Snapshot().TotalOpenCycles; after != before+1 {
		t.Errorf("TotalOpenCycles = %d, want %d", after, before+1)
	}
}

func TestEndToEndPreconditionRejection(t *testing.T) {
	st := testState()
	st.Power = false
	_, sim, addr := startTestServer(t, st)
	c := dialClient(t, addr)

	c.send(protocol.Message{protocol.KeyCommand: protocol.CmdOpen, protocol.FieldMsgID: float64(2)})
	reply := c.waitFor(func(m protocol.Message) bool {
		return m[protocol.FieldMsgID] == float64(2)
	}, time.Second)

	if reply[protocol.FieldSuccess] != protocol.SuccessFalse {
		t.Fatalf("success = %v, want \"false\"", reply[protocol.FieldSuccess])
	}
	if got := sim.Snapshot().DoorStatus; got != door.PhaseClosed {
		t.Errorf("phase = %s, want CLOSED", got)
	}

	// No door-status broadcast may follow a rejected command.
	select {
	case msg := <-c.msgs:
		if msg[protocol.KeyCommand] == protocol.CmdGetDoorStatus {
			t.Errorf("unexpected status broadcast after rejection: %v", msg)
		}
	case <-time.After(200 * time.Millisecond):
	}
}

func TestBroadcastFanOut(t *testing.T) {
	_, sim, addr := startTestServer(t, testState())

	c1 := dialClient(t, addr)
	c2 := dialClient(t, addr)

	// Both clients are registered once the server has seen them; give
	// the accept loop a moment.
	time.Sleep(50 * time.Millisecond)

	sim.SetBattery(33)

	for i, c := range []*testClient{c1, c2} {
		msg := c.waitFor(byCmd(protocol.CmdGetDoorBattery), time.Second)
		if msg[protocol.FieldBatteryPercent] != float64(33) {
			t.Errorf("client %d: batteryPercent = %v, want 33", i+1, msg[protocol.FieldBatteryPercent])
		}
	}
}

func TestSplitFramesAcrossWrites(t *testing.T) {
	_, _, addr := startTestServer(t, testState())
	c := dialClient(t, addr)

	raw := []byte(`{"CMD":"GET_DOOR_STATUS","msgId":9}`)
	for _, b := range raw {
		if _, err := c.conn.Write([]byte{b}); err != nil {
			t.Fatalf("write: %v", err)
		}
		time.Sleep(time.Millisecond)
	}

	reply := c.waitFor(func(m protocol.Message) bool {
		return m[protocol.FieldMsgID] == float64(9)
	}, 2*time.Second)
	if reply[protocol.FieldDoorStatus] != "CLOSED" {
		t.Errorf("doorStatus = %v, want CLOSED", reply[protocol.FieldDoorStatus])
	}
}

func TestMalformedFrameSkipped(t *testing.T) {
	_, _, addr := startTestServer(t, testState())
	c := dialClient(t, addr)

	// An object that frames but does not parse is logged and skipped;
	// the connection stays up and later commands still work.
	if _, err := c.conn.Write([]byte(`{"CMD":}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	c.send(protocol.Message{"PING": "still-alive"})

	pong := c.waitFor(byCmd(protocol.CmdPong), time.Second)
	if pong[protocol.KeyPong] != "still-alive" {
		t.Errorf("PONG = %v, connection should survive a bad frame", pong[protocol.KeyPong])
	}
}

func TestPeerDisconnectCleansUp(t *testing.T) {
	srv, _, addr := startTestServer(t, testState())

	c := dialClient(t, addr)
	deadline := time.Now().Add(time.Second)
	for srv.Hub().PeerCount() != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := srv.Hub().PeerCount(); got != 1 {
		t.Fatalf("PeerCount = %d, want 1", got)
	}

	c.close()
	deadline = time.Now().Add(time.Second)
	for srv.Hub().PeerCount() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := srv.Hub().PeerCount(); got != 0 {
		t.Errorf("PeerCount = %d after disconnect, want 0", got)
	}
}

func TestConnectDisconnectCallbacks(t *testing.T) {
	bus := events.New()
	sim := door.New(testState(), testLogger(), bus)
	srv := New("127.0.0.1", 0, sim, bus, testLogger())
	sim.SetBroadcaster(srv.Hub())

	connected := make(chan string, 1)
	disconnected := make(chan string, 1)
	srv.OnConnect = func(id string) { connected <- id }
	srv.OnDisconnect = func(id string) { disconnected <- id }

	ctx, cancel := context.WithCancel(context.Background())
	if err := srv.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() {
		cancel()
		srv.Stop()
	})

	c := dialClient(t, srv.Addr().String())

	var id string
	select {
	case id = <-connected:
	case <-time.After(time.Second):
		t.Fatal("OnConnect never fired")
	}

	c.close()
	select {
	case gone := <-disconnected:
		if gone != id {
			t.Errorf("OnDisconnect id = %q, want %q", gone, id)
		}
	case <-time.After(time.Second):
		t.Fatal("OnDisconnect never fired")
	}
}
