package mq

import (
	"errors"
	"strings"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
)

type fakeDeclarer struct {
	calls   []string
	failOn  string
	queueAr map[string]amqp.Table
}

func (f *fakeDeclarer) ExchangeDeclare(name, kind string, _, _, _, _ bool, _ amqp.Table) error {
	f.calls = append(f.calls, "exchange "+name)
	if f.failOn == name {
		return errors.New("access refused")
	}
	return nil
}

func (f *fakeDeclarer) QueueDeclare(name string, _, _, _, _ bool, args amqp.Table) (amqp.Queue, error) {
	f.calls = append(f.calls, "queue "+name)
	if f.queueAr == nil {
		f.queueAr = make(map[string]amqp.Table)
	}
	f.queueAr[name] = args
	return amqp.Queue{Name: name}, nil
}

func (f *fakeDeclarer) QueueBind(name, key, exchange string, _ bool, _ amqp.Table) error {
	f.calls = append(f.calls, "bind "+name+" "+key+" "+exchange)
	return nil
}

func TestTopologyDeclare_Order(t *testing.T) {
	d := &fakeDeclarer{}
	if err := DefaultTopology().declare(d); err != nil {
		t.Fatalf("declare: %v", err)
	}

	// обменники объявляются до очередей, очереди до привязок
	phase := 0
	for _, c := range d.calls {
		var p int
		switch {
		case strings.HasPrefix(c, "exchange"):
			p = 0
		case strings.HasPrefix(c, "queue"):
			p = 1
		default:
			p = 2
		}
		if p < phase {
			t.Fatalf("out of order call %q in %v", c, d.calls)
		}
		phase = p
	}

	args := d.queueAr[string(QueueTasksInvoke)]
	if args["x-dead-letter-exchange"] != string(ExchangeDLQ) {
		t.Errorf("tasks.invoke must dead-letter to %s, got %v", ExchangeDLQ, args)
	}
	if d.queueAr[string(QueueExecutionEvents)]["x-overflow"] != "drop-head" {
		t.Error("executions.events must be bounded")
	}
}

func TestTopologyDeclare_Error(t *testing.T) {
	d := &fakeDeclarer{failOn: string(ExchangeTasks)}
	err := DefaultTopology().declare(d)
	if err == nil || !strings.Contains(err.Error(), string(ExchangeTasks)) {
		t.Fatalf("expected exchange error, got %v", err)
	}
	for _, c := range d.calls {
		if strings.HasPrefix(c, "queue") {
			t.Errorf("queues declared after failure: %v", d.calls)
		}
	}
}

func TestTopologyString(t *testing.T) {
	s := TopologyInfo()
	for _, want := range []string{
		"stepflow.tasks (direct)",
		"tasks.invoke [routing: invoke]",
		"executions.events [routing: execution.#]",
	} {
		if !strings.Contains(s, want) {
			t.Errorf("topology description misses %q:\n%s", want, s)
		}
	}
}
