package event

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBus_PublishFansOutToSubscribers(t *testing.T) {
	bus := NewBus()
	var completed, scrapped atomic.Int32

	bus.Subscribe(UnitCompleted, func(e Event) { completed.Add(1) })
	bus.Subscribe(UnitCompleted, func(e Event) { completed.Add(1) })
	bus.Subscribe(UnitScrapped, func(e Event) { scrapped.Add(1) })

	bus.Publish(Event{Type: UnitCompleted, Tick: 3})
	bus.Publish(Event{Type: TickCompleted, Tick: 3}) // no subscriber
	bus.Wait()

	assert.Equal(t, int32(2), completed.Load())
	assert.Equal(t, int32(0), scrapped.Load())
}

func TestBus_HandlerReceivesPayload(t *testing.T) {
	bus := NewBus()
	got := make(chan Event, 1)
	bus.Subscribe(DisruptionApplied, func(e Event) { got <- e })

	bus.Publish(Event{Type: DisruptionApplied, StationID: "A01_DOOR", Duration: 3})
	bus.Wait()

	e := <-got
	assert.Equal(t, "A01_DOOR", string(e.StationID))
	assert.Equal(t, int64(3), e.Duration)
}
