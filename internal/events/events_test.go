package events

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/segmentio/kafka-go"
)

type recorder struct {
	got []Event
	err error
}

func (r *recorder) Publish(_ context.Context, ev Event) error {
	if r.err != nil {
		return r.err
	}
	r.got = append(r.got, ev)
	return nil
}

func TestFanout_PartialFailureIsNotAnError(t *testing.T) {
	ok := &recorder{}
	bad := &recorder{err: errors.New("broker down")}
	f := NewFanout(nil).Add("kafka", bad).Add("ws", ok)

	ev := New(LimitBreached, "P1", map[string]string{"limit_id": "L1"})
	if err := f.Publish(context.Background(), ev); err != nil {
		t.Fatalf("expected nil with one healthy sink, got %v", err)
	}
	if len(ok.got) != 1 || ok.got[0].ID != ev.ID {
		t.Errorf("healthy sink did not receive event: %+v", ok.got)
	}
}

func TestFanout_AllFailedReturnsError(t *testing.T) {
	f := NewFanout(nil).Add("a", &recorder{err: errors.New("x")}).Add("b", &recorder{err: errors.New("y")})
	if err := f.Publish(context.Background(), New(VaRCalculated, "P1", nil)); err == nil {
		t.Error("expected error when every sink fails")
	}
}

func TestFanout_Empty(t *testing.T) {
	if err := NewFanout(nil).Publish(context.Background(), New(VaRCalculated, "P1", nil)); err != nil {
		t.Errorf("empty fan-out should succeed, got %v", err)
	}
}

type fakeWriter struct {
	msgs []kafka.Message
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestKafkaPublisher_KeysByPortfolio(t *testing.T) {
	w := &fakeWriter{}
	p := NewKafkaPublisher(w)

	ev := New(StressCompleted, "P7", map[string]string{"scenario_id": "gfc-2008"})
	if err := p.Publish(context.Background(), ev); err != nil {
		t.Fatal(err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("got %d messages", len(w.msgs))
	}
	m := w.msgs[0]
	if string(m.Key) != "P7" {
		t.Errorf("key = %q, want P7", m.Key)
	}
	if len(m.Headers) != 1 || string(m.Headers[0].Value) != string(StressCompleted) {
		t.Errorf("headers = %+v", m.Headers)
	}
	var decoded Event
	if err := json.Unmarshal(m.Value, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.ID != ev.ID || decoded.Type != StressCompleted {
		t.Errorf("decoded = %+v", decoded)
	}
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	return conn
}

func waitClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.Clients() != n {
		if time.Now().After(deadline) {
			t.Fatalf("clients = %d, want %d", h.Clients(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHub_FiltersByPortfolio(t *testing.T) {
	h := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(h.HandleWS))
	defer srv.Close()

	all := dial(t, srv, "")
	defer all.Close()
	p2 := dial(t, srv, "?portfolio=P2")
	defer p2.Close()
	waitClients(t, h, 2)

	_ = h.Publish(ctx, New(VaRCalculated, "P1", nil))
	_ = h.Publish(ctx, New(VaRCalculated, "P2", nil))

	readPortfolio := func(c *websocket.Conn) string {
		c.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := c.ReadMessage()
		if err != nil {
			t.Fatal(err)
		}
		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			t.Fatal(err)
		}
		return ev.PortfolioID
	}

	if got := readPortfolio(all); got != "P1" {
		t.Errorf("unfiltered client first event = %s, want P1", got)
	}
	if got := readPortfolio(all); got != "P2" {
		t.Errorf("unfiltered client second event = %s, want P2", got)
	}
	if got := readPortfolio(p2); got != "P2" {
		t.Errorf("filtered client got %s, want P2", got)
	}
}
