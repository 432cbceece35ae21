package events

import (
	"container/heap"
	"fmt"
	"sync"
	"time"

	"github.com/highwizardry/gameserver/broadcast"
	"github.com/highwizardry/gameserver/logger"
	"github.com/highwizardry/gameserver/models"
	"github.com/highwizardry/gameserver/registry"
)

// HistorySize bounds the in-memory ring of executed events.
const HistorySize = 100

type periodicTask struct {
	Interval   time.Duration
	LastRun    time.Time
	Enabled    bool
	Descriptor *Descriptor
}

// Dispatcher owns the event queues and the tick loop.
type Dispatcher struct {
	players     *registry.Players
	locations   *registry.Locations
	broadcaster broadcast.Broadcaster
	online      func() []string

	mu        sync.Mutex
	oneOff    []*Descriptor
	scheduled scheduleQueue
	periodic  map[string]*periodicTask
	history   []HistoryEntry
	histNext  int

	tick       time.Duration
	stop       chan struct{}
	done       chan struct{}
	now        func() time.Time
	onExecuted func()
}

// NewDispatcher wires the dispatcher. online reports the ids of players
// with live sessions; the broadcaster carries notifications out.
func NewDispatcher(players *registry.Players, locations *registry.Locations, b broadcast.Broadcaster, online func() []string, tick time.Duration) *Dispatcher {
	if tick <= 0 {
		tick = time.Second
	}
	d := &Dispatcher{
		players:     players,
		locations:   locations,
		broadcaster: b,
		online:      online,
		periodic:    make(map[string]*periodicTask),
		history:     make([]HistoryEntry, 0, HistorySize),
		tick:        tick,
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
		now:         time.Now,
	}
	heap.Init(&d.scheduled)
	return d
}

// SetClock overrides the time source for tests.
func (d *Dispatcher) SetClock(now func() time.Time) { d.now = now }

// SetOnExecuted installs a counter fired once per executed event.
func (d *Dispatcher) SetOnExecuted(fn func()) { d.onExecuted = fn }

// Start runs the tick loop until Stop.
func (d *Dispatcher) Start() {
	go func() {
		defer close(d.done)
		ticker := time.NewTicker(d.tick)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				d.Tick(d.now())
			case <-d.stop:
				return
			}
		}
	}()
}

// Stop cancels the tick loop and waits for it to exit.
func (d *Dispatcher) Stop() {
	close(d.stop)
	<-d.done
}

// Inject queues a one-off event for the next tick.
func (d *Dispatcher) Inject(desc *Descriptor) {
	d.mu.Lock()
	d.oneOff = append(d.oneOff, desc)
	d.mu.Unlock()
}

// Schedule queues an event for a specific time.
func (d *Dispatcher) Schedule(desc *Descriptor, executeAt time.Time) {
	d.mu.Lock()
	heap.Push(&d.scheduled, &scheduledEvent{ExecuteAt: executeAt, Descriptor: desc})
	d.mu.Unlock()
}

// Register installs a periodic event under id. It starts enabled.
func (d *Dispatcher) Register(id string, interval time.Duration, desc *Descriptor) {
	d.mu.Lock()
	d.periodic[id] = &periodicTask{
		Interval:   interval,
		LastRun:    d.now(),
		Enabled:    true,
		Descriptor: desc,
	}
	d.mu.Unlock()
}

// Enable and Disable flip a periodic event. Unknown ids are ignored.
func (d *Dispatcher) Enable(id string)  { d.setEnabled(id, true) }
func (d *Dispatcher) Disable(id string) { d.setEnabled(id, false) }

func (d *Dispatcher) setEnabled(id string, enabled bool) {
	d.mu.Lock()
	if t, ok := d.periodic[id]; ok {
		t.Enabled = enabled
	}
	d.mu.Unlock()
}

// History returns up to n most recent entries, newest last.
func (d *Dispatcher) History(n int) []HistoryEntry {
	d.mu.Lock()
	defer d.mu.Unlock()

	total := len(d.history)
	if n <= 0 || n > total {
		n = total
	}

	out := make([]HistoryEntry, 0, n)
	if total < HistorySize {
		out = append(out, d.history[total-n:]...)
		return out
	}
	// Full ring: histNext is the oldest slot.
	for i := 0; i < n; i++ {
		idx := (d.histNext + (total - n) + i) % HistorySize
		out = append(out, d.history[idx])
	}
	return out
}

// Tick drains the one-off queue, fires due scheduled events and runs any
// periodic event whose interval has elapsed.
func (d *Dispatcher) Tick(now time.Time) {
	d.mu.Lock()
	batch := d.oneOff
	d.oneOff = nil

	for _, due := range d.scheduled.drainDue(now) {
		batch = append(batch, due.Descriptor)
	}

	for _, task := range d.periodic {
		if task.Enabled && now.Sub(task.LastRun) >= task.Interval {
			task.LastRun = now
			batch = append(batch, task.Descriptor)
		}
	}
	d.mu.Unlock()

	for _, desc := range batch {
		d.execute(desc, now)
	}
}

// execute runs one handler, applies its deltas through the registry and
// emits the notification. Handler panics are logged and never halt the
// tick.
func (d *Dispatcher) execute(desc *Descriptor, now time.Time) {
	entry := HistoryEntry{Name: desc.Name, ExecutedAt: now}
	defer func() {
		if r := recover(); r != nil {
			entry.Error = fmt.Sprintf("panic: %v", r)
			logger.Log.Errorf("event %s panicked: %v", desc.Name, r)
		}
		d.record(entry)
	}()

	ctx := &Context{
		Now:       now,
		EventData: desc.EventData,
		PlayersAt: d.locations.PlayersAt,
		Online:    d.online,
		GetPlayer: d.players.Get,
	}

	deltas := map[string]StatDelta{}
	if desc.Handler != nil {
		deltas = desc.Handler(ctx)
	}

	for playerID, delta := range deltas {
		dl := delta
		if _, err := d.players.Update(playerID, func(p *models.Player) {
			p.Health += dl.Health
			p.Energy += dl.Energy
			p.Mana += dl.Mana
			p.XP += dl.XP
			p.Pennies += dl.Pennies
		}); err != nil {
			logger.Log.Warnf("event %s: apply delta to %s: %v", desc.Name, playerID, err)
			continue
		}
		entry.Affected++
	}

	d.notify(desc, now)
	if d.onExecuted != nil {
		d.onExecuted()
	}
}

func (d *Dispatcher) notify(desc *Descriptor, now time.Time) {
	msg := models.Outbound(models.MsgGameEvent, map[string]interface{}{
		"eventName":   desc.Name,
		"eventType":   string(desc.Scope),
		"description": desc.Description,
		"timestamp":   now.UnixMilli(),
		"data":        desc.EventData,
	})

	switch desc.Scope {
	case ScopeGlobal:
		d.broadcaster.Broadcast(msg, "")
	case ScopeLocation:
		d.broadcaster.BroadcastToLocation(desc.LocationID, msg, "")
	case ScopePlayer, ScopePlayers:
		for _, id := range desc.PlayerIDs {
			d.broadcaster.SendTo(id, msg)
		}
	}
}

func (d *Dispatcher) record(entry HistoryEntry) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.history) < HistorySize {
		d.history = append(d.history, entry)
		return
	}
	d.history[d.histNext] = entry
	d.histNext = (d.histNext + 1) % HistorySize
}
