package gocommand

import (
	"context"
	"errors"
	"testing"

	"github.com/goliatone/go-command"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"
)

type noteMessage struct {
	Body string
}

func (noteMessage) Type() string { return "appstore.command.note" }

type blankTypeMessage struct{}

func (blankTypeMessage) Type() string { return "" }

type rejectedMessage struct{}

func (rejectedMessage) Type() string { return "appstore.command.rejected" }

func (rejectedMessage) Validate() error { return errors.New("missing vendor id") }

type probeMessage struct{}

func (probeMessage) Type() string { return "appstore.command.queue_probe" }

type lookupMessage struct {
	VendorID string
}

func (lookupMessage) Type() string { return "appstore.query.lookup" }

func TestValidateMessageContract(t *testing.T) {
	if err := ValidateMessageContract(noteMessage{Body: "ok"}); err != nil {
		t.Fatalf("expected valid message, got %v", err)
	}
	if err := ValidateMessageContract(blankTypeMessage{}); err == nil {
		t.Fatal("expected blank type to fail contract validation")
	}
	if err := ValidateMessageContract(rejectedMessage{}); err == nil {
		t.Fatal("expected Validate() failure to bubble")
	}
}

func TestRegistryAndDispatchWiring(t *testing.T) {
	adapter := NewRegistryAdapter(command.NewRegistry())
	executed := 0
	resolverRuns := 0

	cmd := command.CommandFunc[noteMessage](func(context.Context, noteMessage) error {
		executed++
		return nil
	})

	subscription, err := RegisterAndSubscribe(adapter, cmd)
	if err != nil {
		t.Fatalf("register and subscribe: %v", err)
	}
	defer subscription.Unsubscribe()

	if err := adapter.AddResolver("audit", func(any, command.CommandMeta, *command.Registry) error {
		resolverRuns++
		return nil
	}); err != nil {
		t.Fatalf("add resolver: %v", err)
	}
	if !adapter.HasResolver("audit") {
		t.Fatal("expected audit resolver to be registered")
	}
	if err := adapter.Initialize(); err != nil {
		t.Fatalf("initialize registry: %v", err)
	}
	if resolverRuns == 0 {
		t.Fatal("expected resolver hook to run during initialization")
	}

	if err := Dispatch(context.Background(), noteMessage{Body: "first"}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if executed != 1 {
		t.Fatalf("expected one execution, got %d", executed)
	}
}

func TestQueryRoundTrip(t *testing.T) {
	adapter := NewRegistryAdapter(command.NewRegistry())

	qry := command.QueryFunc[lookupMessage, string](func(_ context.Context, msg lookupMessage) (string, error) {
		return "domain-for-" + msg.VendorID, nil
	})

	subscription, err := RegisterAndSubscribeQuery(adapter, qry)
	if err != nil {
		t.Fatalf("register and subscribe query: %v", err)
	}
	defer subscription.Unsubscribe()

	result, err := Query[lookupMessage, string](context.Background(), lookupMessage{VendorID: "vendor_1"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if result != "domain-for-vendor_1" {
		t.Fatalf("unexpected query result: %q", result)
	}
}

func TestQueueResolverMirrorsCommands(t *testing.T) {
	adapter := NewRegistryAdapter(command.NewRegistry())
	queueRegistry := jobqueuecommand.NewRegistry()

	cmd := command.CommandFunc[probeMessage](func(context.Context, probeMessage) error { return nil })

	if err := adapter.AddQueueResolver("queue", queueRegistry); err != nil {
		t.Fatalf("add queue resolver: %v", err)
	}
	if err := adapter.RegisterCommand(cmd); err != nil {
		t.Fatalf("register command: %v", err)
	}
	if err := adapter.Initialize(); err != nil {
		t.Fatalf("initialize registry: %v", err)
	}

	if _, ok := queueRegistry.Get("appstore.command.queue_probe"); !ok {
		t.Fatal("expected command to be mirrored into the queue registry")
	}
}

func TestRegisterAndSubscribeValidation(t *testing.T) {
	if _, err := RegisterAndSubscribe[noteMessage](nil, nil); err == nil {
		t.Fatal("expected error for missing registry")
	}
	adapter := NewRegistryAdapter(nil)
	if _, err := RegisterAndSubscribe[noteMessage](adapter, nil); err == nil {
		t.Fatal("expected error for missing command")
	}
}
