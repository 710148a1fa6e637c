package bus

import (
	"sync"

	"github.com/google/uuid"

	"github.com/cuemby/qsched/pkg/qerr"
)

// Event is a published, fire-and-forget message: a resource-change
// notification, a cancellation broadcast, or a per-job run/kill request.
type Event struct {
	ID      string
	Topic   string
	Payload any
}

// Publisher is the narrow fire-and-forget half of the control surface.
type Publisher interface {
	Publish(topic string, payload any)
}

// Subscriber lets a caller observe published events; within this
// repository only the tests subscribe.
type Subscriber interface {
	Subscribe(topic string) <-chan Event
}

// Bus is the in-memory Publisher/Subscriber qsched uses outside of a real
// broker deployment.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string][]chan Event
}

// New constructs an empty Bus.
func New() *Bus {
	return &Bus{subscribers: make(map[string][]chan Event)}
}

// Publish fans payload out, non-blockingly, to every subscriber of topic.
func (b *Bus) Publish(topic string, payload any) {
	ev := Event{ID: uuid.NewString(), Topic: topic, Payload: payload}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subscribers[topic] {
		select {
		case ch <- ev:
		default:
			// Slow subscriber; drop rather than block the single-threaded
			// reactor.
		}
	}
}

// Subscribe returns a channel that receives every future Publish to topic.
// The channel is buffered; callers that fall behind lose events rather
// than stall the publisher.
func (b *Bus) Subscribe(topic string) <-chan Event {
	ch := make(chan Event, 32)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[topic] = append(b.subscribers[topic], ch)
	return ch
}

// Request is one control-surface call: a topic plus a loosely-typed
// payload the handler on the other end decodes itself.
type Request struct {
	Topic   string
	Payload any
}

// Response is what a control-surface handler returns: either a payload or
// a qerr.Error, never both.
type Response struct {
	Payload any
	Err     error
}

// Responder dispatches a control-surface Request to whichever handler is
// registered for its topic and returns that handler's Response. This is
// the narrow interface onto the RPC broker's request/response mechanics.
type Responder interface {
	Handle(req Request) Response
}

// HandlerFunc adapts a plain function to Responder-compatible dispatch.
type HandlerFunc func(payload any) (any, error)

// Router dispatches Requests to topic-registered HandlerFuncs, the
// synchronous counterpart to Bus's asynchronous fan-out.
type Router struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewRouter constructs an empty Router.
func NewRouter() *Router {
	return &Router{handlers: make(map[string]HandlerFunc)}
}

// Register binds topic to fn, replacing any prior registration.
func (r *Router) Register(topic string, fn HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[topic] = fn
}

// Handle looks up req.Topic and invokes its handler. An unregistered topic
// is reported the same way a malformed request would be: as an error
// Response, never a panic.
func (r *Router) Handle(req Request) Response {
	r.mu.RLock()
	fn, ok := r.handlers[req.Topic]
	r.mu.RUnlock()
	if !ok {
		return Response{Err: qerr.New(qerr.NotFound, "no handler registered for topic "+req.Topic)}
	}
	payload, err := fn(req.Payload)
	return Response{Payload: payload, Err: err}
}
