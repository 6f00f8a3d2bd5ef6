package events

import (
	"context"
	"log/slog"
	"sync"

	"AgentVault/pkg/logger"
)

// Sink 将事件镜像到外部系统。Bus 在进程内分发后由后台 goroutine 异步调用它。
type Sink interface {
	Emit(ctx context.Context, event Event) error
	Close() error
}

// Publisher 是编排器持有的发布端能力。
type Publisher interface {
	Publish(event Event)
}

// sinkBuffer 是镜像队列的容量，写满后继续发布会丢弃并计数。
const sinkBuffer = 256

// Bus 是进程内事件总线。订阅者各持有一条带缓冲通道，
// 发布永不阻塞：订阅者或外部 Sink 消费不过来时丢弃事件并计数。
type Bus struct {
	mu          sync.Mutex
	subscribers map[uint64]chan Event
	nextID      uint64
	dropped     uint64
	sink        Sink
	sinkCh      chan Event
	sinkDone    chan struct{}
	closed      bool
}

// BusOption 定义 Bus 的可选配置。
type BusOption func(*Bus)

// WithSink 让总线把每个事件镜像到外部 Sink。
func WithSink(sink Sink) BusOption {
	return func(b *Bus) {
		b.sink = sink
	}
}

// NewBus 创建事件总线。
func NewBus(opts ...BusOption) *Bus {
	b := &Bus{
		subscribers: make(map[uint64]chan Event),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	if b.sink != nil {
		b.sinkCh = make(chan Event, sinkBuffer)
		b.sinkDone = make(chan struct{})
		go b.sinkLoop()
	}
	return b
}

// Subscribe 注册一个订阅者，返回只读通道和取消函数。
// buffer 小于等于零时使用默认缓冲 64。取消函数可重复调用。
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Event, buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	b.subscribers[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subscribers[id]; ok {
				delete(b.subscribers, id)
				close(sub)
			}
		})
	}
	return ch, cancel
}

// Publish 实现 Publisher。慢订阅者和慢 Sink 都不会拖慢发布方。
func (b *Bus) Publish(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			b.dropped++
		}
	}
	if b.sinkCh != nil {
		select {
		case b.sinkCh <- event:
		default:
			b.dropped++
		}
	}
}

// sinkLoop 在后台消费镜像队列。外部镜像失败只记日志，不影响主流程。
func (b *Bus) sinkLoop() {
	defer close(b.sinkDone)
	for event := range b.sinkCh {
		if err := b.sink.Emit(context.Background(), event); err != nil {
			logger.L().Warn("事件镜像到外部 Sink 失败",
				slog.String("event_id", event.ID),
				slog.String("event_type", string(event.Type)),
				slog.Any("error", err),
			)
		}
	}
}

// Dropped 返回因订阅者缓冲满而被丢弃的事件总数。
func (b *Bus) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Close 关闭总线和所有订阅者通道，排空镜像队列后关闭外部 Sink。
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	for id, ch := range b.subscribers {
		delete(b.subscribers, id)
		close(ch)
	}
	sinkCh := b.sinkCh
	b.mu.Unlock()

	if sinkCh != nil {
		close(sinkCh)
		<-b.sinkDone
		return b.sink.Close()
	}
	return nil
}

var _ Publisher = (*Bus)(nil)
