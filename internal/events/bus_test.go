package events

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/meshbridge-project/meshbridge/internal/testutil/testlog"
)

func TestBusIsolatesFailingHandlers(t *testing.T) {
	testlog.Start(t)
	bus := NewBus()

	var calls []string
	record := func(name string) HandlerFunc {
		return func(_ context.Context, ev Event) error {
			calls = append(calls, name+":"+string(ev.Type))
			return nil
		}
	}

	bus.SubscribeAll("first", record("first"))
	bus.SubscribeAll("panics", func(context.Context, Event) error {
		calls = append(calls, "panics")
		panic("sink blew up")
	})
	bus.SubscribeAll("errors", func(context.Context, Event) error {
		calls = append(calls, "errors")
		return errors.New("sink unavailable")
	})
	bus.SubscribeAll("last", record("last"))

	bus.Consume(context.Background(), New(Ack{Code: "01020304"}, nil))
	bus.Consume(context.Background(), New(Trace{Tag: 9}, nil))

	want := []string{
		"first:ack", "panics", "errors", "last:ack",
		"first:trace", "panics", "errors", "last:trace",
	}
	if !reflect.DeepEqual(calls, want) {
		t.Fatalf("calls = %v, want %v", calls, want)
	}
}

func TestBusTypedHandlersRunAfterGlobal(t *testing.T) {
	testlog.Start(t)
	bus := NewBus()

	var calls []string
	bus.Subscribe(EventAck, "ack", func(_ context.Context, ev Event) error {
		calls = append(calls, "ack")
		return nil
	})
	bus.SubscribeAll("all", func(_ context.Context, ev Event) error {
		calls = append(calls, "all:"+string(ev.Type))
		return nil
	})

	bus.Consume(context.Background(), New(Ack{}, nil))
	bus.Consume(context.Background(), New(DirectMessage{}, nil))

	want := []string{"all:ack", "ack", "all:direct_message"}
	if !reflect.DeepEqual(calls, want) {
		t.Fatalf("calls = %v, want %v", calls, want)
	}
}

func TestBusStopDropsEvents(t *testing.T) {
	testlog.Start(t)
	bus := NewBus()

	n := 0
	bus.SubscribeAll("count", func(context.Context, Event) error {
		n++
		return nil
	})
	bus.Consume(context.Background(), New(Ack{}, nil))
	bus.Stop()
	bus.Consume(context.Background(), New(Ack{}, nil))

	if n != 1 {
		t.Fatalf("handler ran %d times", n)
	}
}

func TestSinkFuncAdapts(t *testing.T) {
	var got EventType
	var sink Sink = SinkFunc(func(_ context.Context, ev Event) { got = ev.Type })
	sink.Consume(context.Background(), New(Contact{Name: "x"}, nil))
	if got != EventContact {
		t.Fatalf("sink saw %q", got)
	}
}
