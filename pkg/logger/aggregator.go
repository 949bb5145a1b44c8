package logger

import (
	"context"
	"fmt"
	"hash/fnv"
	"os"
	"sort"
	"sync"
	"time"
)

// Sink ships an aggregated batch.
type Sink interface {
	PublishMessage(ctx context.Context, topic string, payload interface{}) error
}

type CollectionConfig struct {
	TimeInterval   time.Duration
	CountThreshold int
	Topic          string
	Publisher      Sink
}

// Aggregate counts repeats of one warning or error at one call site.
type Aggregate struct {
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Caller    string                 `json:"caller"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	Count     int                    `json:"count"`
	FirstSeen time.Time              `json:"first_seen"`
	LastSeen  time.Time              `json:"last_seen"`
	seq       uint64
}

// Aggregator folds repeated log lines together and flushes them on a timer or
// once CountThreshold distinct lines are pending. Repeats keep the fields of
// the first occurrence.
type Aggregator struct {
	cfg     CollectionConfig
	mu      sync.Mutex
	pending map[uint64]*Aggregate
	seq     uint64
	sends   sync.WaitGroup
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
}

func NewAggregator(cfg *CollectionConfig) *Aggregator {
	c := *cfg
	if c.TimeInterval <= 0 {
		c.TimeInterval = 30 * time.Second
	}
	if c.CountThreshold <= 0 {
		c.CountThreshold = 100
	}
	a := &Aggregator{
		cfg:     c,
		pending: make(map[uint64]*Aggregate),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go a.loop()
	return a
}

func (a *Aggregator) Add(level, msg, caller string, fields []Field) {
	key := fingerprint(level, msg, caller)
	now := time.Now().UTC()

	a.mu.Lock()
	defer a.mu.Unlock()
	if e, ok := a.pending[key]; ok {
		e.Count++
		e.LastSeen = now
		return
	}
	var fm map[string]interface{}
	if len(fields) > 0 {
		fm = make(map[string]interface{}, len(fields))
		for _, f := range fields {
			fm[f.Key] = f.plain()
		}
	}
	a.seq++
	a.pending[key] = &Aggregate{Level: level, Message: msg, Caller: caller, Fields: fm, Count: 1, FirstSeen: now, LastSeen: now, seq: a.seq}
	if len(a.pending) >= a.cfg.CountThreshold {
		a.flushLocked()
	}
}

func (a *Aggregator) loop() {
	defer close(a.done)
	t := time.NewTicker(a.cfg.TimeInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			a.mu.Lock()
			a.flushLocked()
			a.mu.Unlock()
		case <-a.stop:
			a.mu.Lock()
			a.flushLocked()
			a.mu.Unlock()
			return
		}
	}
}

func (a *Aggregator) flushLocked() {
	if len(a.pending) == 0 || a.cfg.Publisher == nil {
		return
	}
	batch := make([]Aggregate, 0, len(a.pending))
	for _, e := range a.pending {
		batch = append(batch, *e)
	}
	sort.Slice(batch, func(i, j int) bool { return batch[i].seq < batch[j].seq })
	a.pending = make(map[uint64]*Aggregate)

	a.sends.Add(1)
	go func() {
		defer a.sends.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.cfg.Publisher.PublishMessage(ctx, a.cfg.Topic, batch); err != nil {
			// The logger cannot log its own shipping failure.
			fmt.Fprintf(os.Stderr, "log aggregator: ship %d entries: %v\n", len(batch), err)
		}
	}()
}

// Close flushes what is pending and waits for in-flight sends.
func (a *Aggregator) Close() {
	a.once.Do(func() { close(a.stop) })
	<-a.done
	a.sends.Wait()
}

func fingerprint(level, msg, caller string) uint64 {
	h := fnv.New64a()
	for _, s := range [...]string{level, msg, caller} {
		h.Write([]byte(s))
		h.Write([]byte{0})
	}
	return h.Sum64()
}
