// Package broadcaster implements the State Broadcaster (C10): a bounded,
// replayable ring buffer of proto.Event plus a websocket hub that streams
// new events to subscribers and lets a reconnecting client catch up from
// its last-seen sequence number. Grounded on two teacher shapes: pkg/
// eventlog/writer.go's daily-rotated append-only JSONL durability layer
// (adapted here from proto.AgentMsg to proto.Event and still rotated by UTC
// date, independently of ring eviction), and gorilla/websocket's own documented
// hub pattern (register/unregister/broadcast channels, one read/write pump
// goroutine pair per client) since the teacher never builds a websocket
// server of its own to crib from directly.
package broadcaster

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"conductor/pkg/eventbus"
	"conductor/pkg/logx"
	"conductor/pkg/proto"
)

// DefaultCapacity is the ring buffer's default retained-event count.
const DefaultCapacity = 4096

// Broadcaster owns the durable sequence-numbered event stream and the set
// of live websocket subscribers.
type Broadcaster struct {
	mu       sync.RWMutex
	ring     []proto.Event
	capacity int
	nextSeq  int64
	oldest   int64 // 0 until the first eviction, then the seq of ring[0]

	disk *diskLog
	log  *logx.Logger

	hubMu sync.Mutex
	hub   map[*client]struct{}
}

// New constructs a Broadcaster retaining up to capacity events in memory.
// logDir may be empty to disable on-disk durability.
func New(capacity int, logDir string, log *logx.Logger) (*Broadcaster, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	b := &Broadcaster{
		capacity: capacity,
		ring:     make([]proto.Event, 0, capacity),
		log:      log,
		hub:      make(map[*client]struct{}),
	}
	if logDir != "" {
		disk, err := newDiskLog(logDir)
		if err != nil {
			return nil, err
		}
		b.disk = disk
	}
	return b, nil
}

// Publish assigns the next sequence number to evt, retains it in the ring
// (evicting the oldest entry if at capacity), appends it to the durable log
// if configured, and fans it out to every live websocket subscriber.
func (b *Broadcaster) Publish(evt proto.Event) proto.Event {
	b.mu.Lock()
	b.nextSeq++
	evt.Seq = b.nextSeq
	if len(b.ring) >= b.capacity {
		b.oldest = b.ring[0].Seq + 1
		b.ring = append(b.ring[1:], evt)
	} else {
		b.ring = append(b.ring, evt)
	}
	b.mu.Unlock()

	if b.disk != nil {
		if err := b.disk.append(evt); err != nil {
			b.log.Warn("broadcaster: failed to persist event seq %d: %v", evt.Seq, err)
		}
	}
	b.fanOut(evt)
	return evt
}

// ReplayFrom returns every retained event with Seq > sinceSeq, in order. It
// returns *proto.ResyncRequired if sinceSeq has already fallen off the back
// of the ring buffer — the caller must fetch a fresh snapshot instead of
// trying to resume the stream.
func (b *Broadcaster) ReplayFrom(sinceSeq int64) ([]proto.Event, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.ring) > 0 && sinceSeq > 0 && sinceSeq < b.ring[0].Seq-1 {
		return nil, &proto.ResyncRequired{OldestAvailableSeq: b.ring[0].Seq, RequestedSeq: sinceSeq}
	}

	out := make([]proto.Event, 0, len(b.ring))
	for _, evt := range b.ring {
		if evt.Seq > sinceSeq {
			out = append(out, evt)
		}
	}
	return out, nil
}

// LatestSeq reports the most recently assigned sequence number.
func (b *Broadcaster) LatestSeq() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.nextSeq
}

// Close flushes and closes the durable log, if configured.
func (b *Broadcaster) Close() error {
	if b.disk == nil {
		return nil
	}
	return b.disk.close()
}

// upgrader accepts cross-origin connections; the operator CLI and any
// browser-based dashboard both need this, and auth is enforced upstream by
// the HTTP handler chain, not by origin checking.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// ServeWS upgrades r to a websocket connection and streams events from it.
// A `since` query parameter (a sequence number) replays retained history
// before switching to live delivery; omitting it starts from the live tail
// only.
func (b *Broadcaster) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.log.Warn("broadcaster: websocket upgrade failed: %v", err)
		return
	}

	c := &client{conn: conn, send: make(chan proto.Event, 256)}
	b.register(c)
	defer b.unregister(c)

	if since := r.URL.Query().Get("since"); since != "" {
		var sinceSeq int64
		if _, err := fmt.Sscanf(since, "%d", &sinceSeq); err == nil {
			backlog, err := b.ReplayFrom(sinceSeq)
			if err != nil {
				_ = conn.WriteJSON(errorFrame(err))
			} else {
				for _, evt := range backlog {
					c.send <- evt
				}
			}
		}
	}

	go c.writePump()
	c.readPump() // blocks until the client disconnects; discards inbound frames
}

func errorFrame(err error) map[string]any {
	return map[string]any{"kind": "resync_required", "error": err.Error()}
}

func (b *Broadcaster) register(c *client) {
	b.hubMu.Lock()
	defer b.hubMu.Unlock()
	b.hub[c] = struct{}{}
}

func (b *Broadcaster) unregister(c *client) {
	b.hubMu.Lock()
	defer b.hubMu.Unlock()
	if _, ok := b.hub[c]; ok {
		delete(b.hub, c)
		close(c.send)
	}
}

func (b *Broadcaster) fanOut(evt proto.Event) {
	b.hubMu.Lock()
	defer b.hubMu.Unlock()
	for c := range b.hub {
		select {
		case c.send <- evt:
		default:
			b.log.Warn("broadcaster: dropping event seq %d for slow subscriber", evt.Seq)
		}
	}
}

// client is one live websocket subscriber.
type client struct {
	conn *websocket.Conn
	send chan proto.Event
}

func (c *client) writePump() {
	for evt := range c.send {
		if err := c.conn.WriteJSON(evt); err != nil {
			return
		}
	}
	_ = c.conn.Close()
}

func (c *client) readPump() {
	defer c.conn.Close()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// diskLog is a daily-rotated, append-only JSONL durability layer for the
// event stream, generalizing pkg/eventlog.Writer from proto.AgentMsg to
// proto.Event.
type diskLog struct {
	mu          sync.Mutex
	dir         string
	currentFile *os.File
	currentDate string
}

func newDiskLog(dir string) (*diskLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create broadcaster log directory: %w", err)
	}
	d := &diskLog{dir: dir}
	if err := d.rotateIfNeeded(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *diskLog) append(evt proto.Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.rotateIfNeeded(); err != nil {
		return err
	}
	line, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := d.currentFile.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return d.currentFile.Sync()
}

func (d *diskLog) rotateIfNeeded() error {
	newDate := time.Now().UTC().Format("2006-01-02")
	if d.currentFile != nil && d.currentDate == newDate {
		return nil
	}
	if d.currentFile != nil {
		if err := d.currentFile.Close(); err != nil {
			return fmt.Errorf("close broadcaster log file: %w", err)
		}
	}
	path := filepath.Join(d.dir, fmt.Sprintf("events-%s.jsonl", newDate))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open broadcaster log file %s: %w", path, err)
	}
	d.currentFile = f
	d.currentDate = newDate
	return nil
}

func (d *diskLog) close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.currentFile == nil {
		return nil
	}
	err := d.currentFile.Close()
	d.currentFile = nil
	return err
}

// Subscribe wires b as an eventbus subscriber: every event bus delivers
// (control- or data-plane) is republished onto the replayable stream. The
// returned func unsubscribes, mirroring eventbus.Bus.Subscribe's own
// convention.
func Subscribe(bus *eventbus.Bus, b *Broadcaster, kinds ...proto.EventKind) func() {
	return bus.Subscribe(func(evt proto.Event) { b.Publish(evt) }, kinds...)
}
