package events

import "sync"

// Handler 事件处理器
type Handler func(event Event)

// Bus 进程内事件总线
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
}

func NewBus() *Bus {
	return &Bus{handlers: make(map[EventType][]Handler)}
}

// Subscribe registers handler for eventType (EventAll matches every event).
func (b *Bus) Subscribe(eventType EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

func (b *Bus) SubscribeAll(handler Handler) {
	b.Subscribe(EventAll, handler)
}

// Publish runs every matching handler on its own goroutine.
func (b *Bus) Publish(event Event) {
	for _, h := range b.matching(event.Type()) {
		go h(event)
	}
}

// PublishSync runs every matching handler before returning.
func (b *Bus) PublishSync(event Event) {
	for _, h := range b.matching(event.Type()) {
		h(event)
	}
}

func (b *Bus) matching(t EventType) []Handler {
	if b == nil {
		return nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	// 复制一份，避免在锁内执行处理器
	out := make([]Handler, 0, len(b.handlers[t])+len(b.handlers[EventAll]))
	out = append(out, b.handlers[t]...)
	out = append(out, b.handlers[EventAll]...)
	return out
}
