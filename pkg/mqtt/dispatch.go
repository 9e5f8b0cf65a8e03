package mqtt

import (
	"sync"

	"github.com/sirupsen/logrus"
)

type notification struct {
	msg *Message
	ev  *Event
}

// dispatcher serialises observer calls onto one goroutine. The queue is
// unbounded so transport goroutines never block on a slow observer.
type dispatcher struct {
	mu       sync.Mutex
	observer Observer
	queue    []notification
	closed   bool

	wake   chan struct{}
	done   chan struct{}
	logger *logrus.Logger
}

func newDispatcher(observer Observer, logger *logrus.Logger) *dispatcher {
	d := &dispatcher{
		observer: observer,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
		logger:   logger,
	}
	go d.run()
	return d
}

func (d *dispatcher) setObserver(observer Observer) {
	d.mu.Lock()
	d.observer = observer
	d.mu.Unlock()
}

func (d *dispatcher) message(msg Message) {
	d.push(notification{msg: &msg})
}

func (d *dispatcher) event(ev Event) {
	d.push(notification{ev: &ev})
}

func (d *dispatcher) push(n notification) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.queue = append(d.queue, n)
	d.mu.Unlock()
	d.signal()
}

// close stops accepting notifications. Already queued ones are still
// delivered; done is closed afterwards. It does not wait, so it is safe to
// call from inside an observer.
func (d *dispatcher) close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.signal()
}

func (d *dispatcher) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *dispatcher) run() {
	defer close(d.done)

	for {
		d.mu.Lock()
		batch := d.queue
		d.queue = nil
		closed := d.closed
		d.mu.Unlock()

		if len(batch) == 0 {
			if closed {
				return
			}
			<-d.wake
			continue
		}

		for _, n := range batch {
			d.deliver(n)
		}
	}
}

func (d *dispatcher) deliver(n notification) {
	d.mu.Lock()
	observer := d.observer
	d.mu.Unlock()

	if observer == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			fields := logrus.Fields{"panic": r}
			if n.msg != nil {
				fields["topic"] = n.msg.Topic
			}
			d.logger.WithFields(fields).Error("Observer panic recovered")
		}
	}()

	if n.msg != nil {
		observer.HandleMessage(*n.msg)
		return
	}
	observer.HandleEvent(*n.ev)
}
