package motionreport

import (
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"klipper-stepgen/pkg/stepcompress"
)

// dial connects a test subscriber to an httptest server.
func dial(t *testing.T, s *Server, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/motion"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	// Wait for the server to register the client
	deadline := time.Now().Add(2 * time.Second)
	for s.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(time.Millisecond)
	}
	return conn
}

func newTestServer() (*Server, *httptest.Server) {
	s := New(":0")
	mux := http.NewServeMux()
	mux.HandleFunc("/motion", s.handleWebSocket)
	return s, httptest.NewServer(mux)
}

func TestBroadcastReachesSubscriber(t *testing.T) {
	s, ts := newTestServer()
	defer ts.Close()

	conn := dial(t, s, ts)
	defer conn.Close()

	s.Broadcast(StepUpdate{
		Oid:        3,
		FirstClock: 1000,
		LastClock:  11000,
		Interval:   1000,
		Count:      10,
		Dir:        true,
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got StepUpdate
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if got.Oid != 3 || got.Count != 10 || got.Interval != 1000 || !got.Dir {
		t.Errorf("received %+v", got)
	}
}

func TestAttachBroadcastsFlushedChunks(t *testing.T) {
	s, ts := newTestServer()
	defer ts.Close()

	conn := dial(t, s, ts)
	defer conn.Close()

	sc := stepcompress.New(7)
	defer sc.Free()
	sc.Fill(0, false, 11, 12)
	sc.SetTime(0., 1000000.)
	s.Attach(sc)

	qa := stepcompress.NewQueueAppend(sc, 0., 0.5)
	for i := 1; i <= 5; i++ {
		if err := qa.Append(float64(i) * 2000.); err != nil {
			t.Fatal(err)
		}
	}
	qa.Finish()
	if err := sc.Flush(math.MaxUint64); err != nil {
		t.Fatal(err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got StepUpdate
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if got.Oid != 7 || got.Count != 5 || got.LastClock != 10000 {
		t.Errorf("received %+v", got)
	}
}

func TestSubscriberRemovedOnClose(t *testing.T) {
	s, ts := newTestServer()
	defer ts.Close()

	conn := dial(t, s, ts)
	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for s.ClientCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("closed client never removed")
		}
		time.Sleep(time.Millisecond)
	}
}
