package sessions

import (
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"

	"github.com/mjytdlp/mjytdlp/utils"
)

const (
	DefaultShards    = 32
	DefaultQueueSize = 256

	maxIdAttempts = 8
)

type Options struct {
	Shards       int
	QueueSize    int
	AttachPolicy AttachPolicy
	Clock        clockwork.Clock

	// OnCreate and OnRemove are called outside of any store lock.
	OnCreate func(sess *Session)
	OnRemove func(sess *Session, reason string)

	// newId is swapped in tests to force collisions.
	newId func() string
}

type shard struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// Store keeps every live session of the process. Sessions are spread over
// shards by id hash so unrelated sessions never contend on the same lock.
type Store struct {
	shards []*shard
	opts   Options
	clock  clockwork.Clock
}

func NewStore(opts Options) *Store {
	if opts.Shards <= 0 {
		opts.Shards = DefaultShards
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.AttachPolicy == "" {
		opts.AttachPolicy = PolicySupersede
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.newId == nil {
		opts.newId = utils.NewSessionId
	}

	shards := make([]*shard, opts.Shards)
	for i := range shards {
		shards[i] = &shard{sessions: make(map[string]*Session)}
	}

	return &Store{
		shards: shards,
		opts:   opts,
		clock:  opts.Clock,
	}
}

func (s *Store) Clock() clockwork.Clock {
	return s.clock
}

func (s *Store) shardFor(id string) *shard {
	return s.shards[xxhash.Sum64String(id)%uint64(len(s.shards))]
}

// Create allocates a fresh session.
func (s *Store) Create(mode Mode, client ClientInfo, protocolVersion string) (*Session, error) {
	sess, _, err := s.create(mode, client, protocolVersion, false)
	return sess, err
}

// CreateAttached allocates a session and attaches a stream to it in one step,
// so no message can be enqueued before the stream exists.
func (s *Store) CreateAttached(mode Mode) (*Session, *Attachment, error) {
	return s.create(mode, ClientInfo{}, "", true)
}

func (s *Store) create(mode Mode, client ClientInfo, protocolVersion string, attach bool) (*Session, *Attachment, error) {
	for attempt := 0; attempt < maxIdAttempts; attempt++ {
		id := s.opts.newId()
		sh := s.shardFor(id)

		sh.mu.Lock()
		if _, exists := sh.sessions[id]; exists {
			sh.mu.Unlock()
			log.WithField("session", id).Warn("session id collision, retrying")
			continue
		}

		now := s.clock.Now()
		sess := &Session{
			Id:              id,
			Mode:            mode,
			CreatedAt:       now,
			sh:              sh,
			client:          client,
			protocolVersion: protocolVersion,
			lastSeen:        now,
			done:            make(chan struct{}),
		}
		var att *Attachment
		if attach {
			att = newAttachment(utils.NewAttachmentId(), id)
			sess.attachment = att
		}
		sh.sessions[id] = sess
		sh.mu.Unlock()

		if s.opts.OnCreate != nil {
			s.opts.OnCreate(sess)
		}
		return sess, att, nil
	}

	return nil, nil, ErrIdSpaceExhausted
}

// Get returns the session and records activity on it.
func (s *Store) Get(id string) (*Session, error) {
	sh := s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	sess, ok := sh.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if sess.closed {
		return nil, ErrSessionClosed
	}
	sess.lastSeen = s.clock.Now()
	return sess, nil
}

// Touch records activity without returning the session.
func (s *Store) Touch(id string) {
	_, _ = s.Get(id)
}

// Initialize records the client info of an initialize call on an existing session.
func (s *Store) Initialize(id string, client ClientInfo, protocolVersion string) error {
	sh := s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	sess, ok := sh.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	if sess.closed {
		return ErrSessionClosed
	}
	sess.client = client
	sess.protocolVersion = protocolVersion
	sess.lastSeen = s.clock.Now()
	return nil
}

// MarkInitialized handles notifications/initialized. A repeated notification
// returns ErrSessionAlreadyInitialized and leaves the session unchanged.
func (s *Store) MarkInitialized(id string) error {
	sh := s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	sess, ok := sh.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	if sess.closed {
		return ErrSessionClosed
	}
	sess.lastSeen = s.clock.Now()
	if sess.initialized {
		return ErrSessionAlreadyInitialized
	}
	sess.initialized = true
	return nil
}

// Close removes the session. Unknown ids return ErrSessionNotFound.
func (s *Store) Close(id string) error {
	return s.remove(id, RemoveReasonClosed)
}

func (s *Store) remove(id, reason string) error {
	sh := s.shardFor(id)
	sh.mu.Lock()
	sess, ok := sh.sessions[id]
	if !ok {
		sh.mu.Unlock()
		return ErrSessionNotFound
	}
	delete(sh.sessions, id)
	sess.markClosed()
	sh.mu.Unlock()

	if s.opts.OnRemove != nil {
		s.opts.OnRemove(sess, reason)
	}
	return nil
}

// Sweep removes every session idle for at least idle as of now and returns
// their ids. Calling it twice with the same arguments removes nothing the
// second time.
func (s *Store) Sweep(now time.Time, idle time.Duration) []string {
	var removed []*Session
	for _, sh := range s.shards {
		sh.mu.Lock()
		for id, sess := range sh.sessions {
			if now.Sub(sess.lastSeen) >= idle {
				delete(sh.sessions, id)
				sess.markClosed()
				removed = append(removed, sess)
			}
		}
		sh.mu.Unlock()
	}

	ids := make([]string, 0, len(removed))
	for _, sess := range removed {
		ids = append(ids, sess.Id)
		if s.opts.OnRemove != nil {
			s.opts.OnRemove(sess, RemoveReasonExpired)
		}
	}
	return ids
}

// CloseAll closes every session, used at shutdown.
func (s *Store) CloseAll() int {
	var removed []*Session
	for _, sh := range s.shards {
		sh.mu.Lock()
		for id, sess := range sh.sessions {
			delete(sh.sessions, id)
			sess.markClosed()
			removed = append(removed, sess)
		}
		sh.mu.Unlock()
	}

	if s.opts.OnRemove != nil {
		for _, sess := range removed {
			s.opts.OnRemove(sess, RemoveReasonShutdown)
		}
	}
	return len(removed)
}

func (s *Store) Len() int {
	total := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		total += len(sh.sessions)
		sh.mu.Unlock()
	}
	return total
}

// Attach gives a stream the session's delivery slot. Queued messages are
// signalled right away so the stream drains them first.
func (s *Store) Attach(id string) (*Attachment, error) {
	sh := s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	sess, ok := sh.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if sess.closed {
		return nil, ErrSessionClosed
	}
	if sess.attachment != nil {
		if s.opts.AttachPolicy == PolicyReject {
			return nil, ErrSessionBusy
		}
		log.WithFields(log.Fields{
			"session":    id,
			"attachment": sess.attachment.Id,
		}).Info("stream superseded by a new attachment")
		sess.attachment.evict()
	}

	att := newAttachment(utils.NewAttachmentId(), id)
	sess.attachment = att
	sess.lastSeen = s.clock.Now()
	if len(sess.queue) > 0 {
		att.signal()
	}
	return att, nil
}

// Detach releases the slot if att still holds it. SSE sessions close with
// their stream, HTTP sessions stay until they expire. The returned flag
// reports whether the session was closed.
func (s *Store) Detach(id string, att *Attachment) bool {
	sh := s.shardFor(id)
	sh.mu.Lock()
	sess, ok := sh.sessions[id]
	if !ok || sess.attachment != att {
		sh.mu.Unlock()
		return false
	}
	sess.attachment = nil
	att.evict()
	sess.lastSeen = s.clock.Now()
	if sess.Mode != ModeSSE {
		sh.mu.Unlock()
		return false
	}
	delete(sh.sessions, id)
	sess.markClosed()
	sh.mu.Unlock()

	if s.opts.OnRemove != nil {
		s.opts.OnRemove(sess, RemoveReasonDisconnect)
	}
	return true
}

// Enqueue appends a message for delivery on the session's stream. An SSE
// session without a stream drops it with ErrNotAttached; HTTP sessions keep
// it until a stream attaches or the queue fills up.
func (s *Store) Enqueue(id string, data any) error {
	sh := s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	sess, ok := sh.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	if sess.closed {
		return ErrSessionClosed
	}
	if sess.attachment == nil && sess.Mode == ModeSSE {
		return ErrNotAttached
	}
	if len(sess.queue) >= s.opts.QueueSize {
		return ErrQueueFull
	}

	sess.seq++
	sess.queue = append(sess.queue, &Message{Seq: sess.seq, Data: data})
	if sess.attachment != nil {
		sess.attachment.signal()
	}
	return nil
}

// Drain hands every queued message to the attached stream in enqueue order.
// A stream that lost its slot gets ErrNotAttached and no messages. Whatever
// the stream can not write goes back through Requeue.
func (s *Store) Drain(id string, att *Attachment) ([]*Message, error) {
	sh := s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	sess, ok := sh.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if sess.closed {
		return nil, ErrSessionClosed
	}
	if sess.attachment != att {
		return nil, ErrNotAttached
	}
	if len(sess.queue) == 0 {
		return nil, nil
	}

	out := sess.queue
	sess.queue = nil
	return out, nil
}

// Requeue puts messages a stream failed to write back at the head of the
// queue, ahead of anything enqueued since the drain. The queue limit does not
// apply to them. Closed sessions drop them.
func (s *Store) Requeue(id string, messages []*Message) error {
	if len(messages) == 0 {
		return nil
	}
	sh := s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	sess, ok := sh.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	if sess.closed {
		return ErrSessionClosed
	}

	queue := make([]*Message, 0, len(messages)+len(sess.queue))
	queue = append(queue, messages...)
	sess.queue = append(queue, sess.queue...)
	if sess.attachment != nil {
		sess.attachment.signal()
	}
	return nil
}
