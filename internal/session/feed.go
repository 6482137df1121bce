package session

import (
	"sync"

	"github.com/kode4food/caravan"
	"github.com/kode4food/caravan/message"
	"github.com/kode4food/caravan/topic"

	"github.com/kode4food/flowsession/pkg/api"
)

// changeFeed fans projection changes out to any number of subscribers
type changeFeed struct {
	topic topic.Topic[api.Change]
	prod  topic.Producer[api.Change]

	mu     sync.RWMutex
	closed bool
}

func newChangeFeed() *changeFeed {
	t := caravan.NewTopic[api.Change]()
	return &changeFeed{
		topic: t,
		prod:  t.NewProducer(),
	}
}

func (f *changeFeed) subscribe() topic.Consumer[api.Change] {
	return f.topic.NewConsumer()
}

func (f *changeFeed) publish(ch api.Change) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return
	}
	message.Send(f.prod, ch)
}

func (f *changeFeed) close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	f.prod.Close()
}
