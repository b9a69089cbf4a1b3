package sessions

import (
	"sync"
	"time"

	"github.com/cockroachdb/errors"
)

// Mode is the transport a session was created by. It decides what happens
// when the session's stream goes away.
type Mode string

const (
	// ModeSSE sessions are opened by GET on the SSE endpoint and closed as soon
	// as that stream disconnects.
	ModeSSE Mode = "sse"
	// ModeHTTP sessions are opened by a Streamable HTTP initialize call and
	// survive stream disconnects until they expire.
	ModeHTTP Mode = "http"
)

// AttachPolicy decides what happens when a second stream attaches to a
// session that already has one.
type AttachPolicy string

const (
	PolicySupersede AttachPolicy = "supersede"
	PolicyReject    AttachPolicy = "reject"
)

const (
	RemoveReasonClosed     = "closed"
	RemoveReasonExpired    = "expired"
	RemoveReasonDisconnect = "disconnect"
	RemoveReasonShutdown   = "shutdown"
)

var (
	ErrSessionNotFound           = errors.New("session not found")
	ErrSessionBusy               = errors.New("session already has an attached stream")
	ErrSessionClosed             = errors.New("session is closed")
	ErrSessionAlreadyInitialized = errors.New("session already initialized")
	ErrNotAttached               = errors.New("no stream attached to the session")
	ErrQueueFull                 = errors.New("session outbound queue is full")
	ErrIdSpaceExhausted          = errors.New("could not allocate a unique session id")
)

type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Message is one queued outbound event. Seq is unique and increasing within
// a session and is used as the SSE event id.
type Message struct {
	Seq  uint64
	Data any
}

type Session struct {
	Id        string
	Mode      Mode
	CreatedAt time.Time

	sh *shard

	// guarded by sh.mu
	client          ClientInfo
	protocolVersion string
	initialized     bool
	lastSeen        time.Time
	queue           []*Message
	seq             uint64
	closed          bool
	attachment      *Attachment

	done    chan struct{}
	stateMu sync.Mutex
}

func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) LastSeen() time.Time {
	s.sh.mu.Lock()
	defer s.sh.mu.Unlock()
	return s.lastSeen
}

func (s *Session) Initialized() bool {
	s.sh.mu.Lock()
	defer s.sh.mu.Unlock()
	return s.initialized
}

func (s *Session) Client() ClientInfo {
	s.sh.mu.Lock()
	defer s.sh.mu.Unlock()
	return s.client
}

func (s *Session) ProtocolVersion() string {
	s.sh.mu.Lock()
	defer s.sh.mu.Unlock()
	return s.protocolVersion
}

func (s *Session) Closed() bool {
	s.sh.mu.Lock()
	defer s.sh.mu.Unlock()
	return s.closed
}

func (s *Session) Attached() bool {
	s.sh.mu.Lock()
	defer s.sh.mu.Unlock()
	return s.attachment != nil
}

// QueueLen reports the number of messages waiting for a stream.
func (s *Session) QueueLen() int {
	s.sh.mu.Lock()
	defer s.sh.mu.Unlock()
	return len(s.queue)
}

// LockState serializes calls that mutate session state (initialize and the
// initialized notification). Tool calls do not take it.
func (s *Session) LockState() func() {
	s.stateMu.Lock()
	return s.stateMu.Unlock
}

// markClosed must be called with sh.mu held.
func (s *Session) markClosed() {
	if s.closed {
		return
	}
	s.closed = true
	s.queue = nil
	if s.attachment != nil {
		s.attachment.evict()
		s.attachment = nil
	}
	close(s.done)
}

// Attachment is the exclusive slot a stream holds on a session.
type Attachment struct {
	Id        string
	SessionId string

	wake      chan struct{}
	evicted   chan struct{}
	evictOnce sync.Once
}

func newAttachment(id, sessionId string) *Attachment {
	return &Attachment{
		Id:        id,
		SessionId: sessionId,
		wake:      make(chan struct{}, 1),
		evicted:   make(chan struct{}),
	}
}

// Wake fires when new messages are queued for this attachment.
func (a *Attachment) Wake() <-chan struct{} {
	return a.wake
}

// Evicted is closed when another stream supersedes this one or the session closes.
func (a *Attachment) Evicted() <-chan struct{} {
	return a.evicted
}

func (a *Attachment) signal() {
	select {
	case a.wake <- struct{}{}:
	default:
	}
}

func (a *Attachment) evict() {
	a.evictOnce.Do(func() {
		close(a.evicted)
	})
}
