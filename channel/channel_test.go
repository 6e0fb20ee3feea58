package channel_test

import (
	"context"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/heureka/rabbitguard/channel"
	"github.com/heureka/rabbitguard/connection"
	"github.com/heureka/rabbitguard/rabbittest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestUnitNotInitialized(t *testing.T) {
	_, _, ch, _ := setup(t, false)

	tests := map[string]func() error{
		"assert queue": func() error {
			_, err := ch.AssertQueue("q", channel.DefaultQueueProperties())
			return err
		},
		"get queue": func() error {
			_, err := ch.GetQueueByName("q", channel.DefaultQueueProperties())
			return err
		},
		"fast reply queue": func() error {
			_, err := ch.InitFastReplyQueue(newCollector())
			return err
		},
		"consume": func() error {
			_, err := ch.InitConsumption("q", newCollector(), channel.ConsumeProperties{})
			return err
		},
		"cancel": func() error {
			return ch.CancelConsumption("tag")
		},
		"publish": func() error {
			return ch.PublishWithContext(context.Background(), "", "q", false, false, amqp.Publishing{})
		},
	}

	for name, call := range tests {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, call(), channel.ErrNotInitialized)
		})
	}
}

func TestUnitInit(t *testing.T) {
	createErr := errors.New("channel limit reached")

	tests := map[string]struct {
		failures []error
		wantErr  error
	}{
		"creates channel": {},
		"returns creation failure": {
			failures: []error{createErr},
			wantErr:  createErr,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			broker, _, ch, _ := setup(t, false)
			broker.FailChannels(tt.failures...)

			got, err := ch.Init(context.Background())
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, got)
				assert.Empty(t, broker.Last().Channels(), "should not retry")

				return
			}

			require.NoError(t, err)
			assert.Same(t, ch, got, "should return itself")
			assert.Len(t, broker.Last().Channels(), 1)
			assert.Empty(t, broker.Last().LastChannel().Declared(), "empty registry replays nothing")
		})
	}
}

func TestUnitInitWithoutConnection(t *testing.T) {
	conn := connection.New("amqp://localhost", connection.WithDialer(rabbittest.NewBroker().Dial))
	ch := channel.New(conn)

	_, err := ch.Init(context.Background())
	assert.ErrorIs(t, err, connection.ErrNotConnected)
}

func TestUnitAssertQueue(t *testing.T) {
	broker, _, ch, _ := setup(t, true)

	props := channel.QueueProperties{Durable: true, Args: amqp.Table{"x-max-length": int32(10)}}
	queue, err := ch.AssertQueue("orders", props)
	require.NoError(t, err)
	assert.Equal(t, "orders", queue.Name)

	declared := broker.Last().LastChannel().Declared()
	require.Len(t, declared, 1)
	assert.Equal(t, "orders", declared[0].Requested)
	assert.True(t, declared[0].Durable)
	assert.Equal(t, amqp.Table{"x-max-length": int32(10)}, declared[0].Args)

	generated, err := ch.AssertQueue("", channel.QueueProperties{Exclusive: true})
	require.NoError(t, err)
	assert.NotEmpty(t, generated.Name, "broker should name the queue")

	assert.Equal(t, []amqp.Queue{queue, generated}, ch.Queues())
}

func TestUnitAssertQueueRedeclare(t *testing.T) {
	broker, _, ch, _ := setup(t, true)

	_, err := ch.AssertQueue("a", channel.QueueProperties{Durable: false})
	require.NoError(t, err)
	_, err = ch.AssertQueue("b", channel.DefaultQueueProperties())
	require.NoError(t, err)
	_, err = ch.AssertQueue("a", channel.QueueProperties{Durable: true, AutoDelete: true})
	require.NoError(t, err)

	assert.Len(t, ch.Queues(), 2, "should not duplicate queue")

	_, err = ch.Init(context.Background())
	require.NoError(t, err)

	declared := broker.Last().LastChannel().Declared()
	require.Len(t, declared, 2)
	assert.Equal(t, "a", declared[0].Requested, "should keep original position")
	assert.True(t, declared[0].Durable, "should replay overwritten properties")
	assert.True(t, declared[0].AutoDelete, "should replay overwritten properties")
	assert.Equal(t, "b", declared[1].Requested)
}

func TestUnitAssertQueueByGeneratedName(t *testing.T) {
	broker, _, ch, reconnected := setup(t, true)

	_, err := ch.AssertQueue("", channel.QueueProperties{Exclusive: true})
	require.NoError(t, err)

	broker.Last().Break(&amqp.Error{Code: amqp.ConnectionForced, Reason: "broker shutdown"})
	waitFor(t, reconnected)

	current := ch.Queues()[0].Name
	got, err := ch.AssertQueue(current, channel.QueueProperties{Exclusive: true, AutoDelete: true})
	require.NoError(t, err)
	assert.Equal(t, current, got.Name)
	assert.Equal(t, []amqp.Queue{{Name: current}}, ch.Queues(), "should overwrite the generated queue record")

	broker.Last().Break(&amqp.Error{Code: amqp.ConnectionForced, Reason: "broker shutdown"})
	waitFor(t, reconnected)

	declared := broker.Last().LastChannel().Declared()
	require.Len(t, declared, 1, "should replay the queue once")
	assert.Empty(t, declared[0].Requested, "should let the broker name it again")
	assert.True(t, declared[0].AutoDelete, "should replay overwritten properties")
}

func TestUnitInitReplayFailure(t *testing.T) {
	declareErr := errors.New("access refused")
	broker, _, ch, _ := setup(t, true)

	_, err := ch.AssertQueue("a", channel.DefaultQueueProperties())
	require.NoError(t, err)
	_, err = ch.AssertQueue("", channel.QueueProperties{Exclusive: true})
	require.NoError(t, err)
	before := ch.Queues()
	previous := broker.Last().LastChannel()

	broker.FailDeclares(nil, declareErr)
	_, err = ch.Init(context.Background())
	assert.ErrorIs(t, err, declareErr)

	failed := broker.Last().LastChannel()
	require.NotSame(t, previous, failed)
	assert.True(t, failed.IsClosed(), "should close the incomplete channel")
	assert.False(t, previous.IsClosed(), "should keep the previous channel")
	assert.Equal(t, before, ch.Queues(), "should not record queues of the incomplete channel")

	_, err = ch.AssertQueue("b", channel.DefaultQueueProperties())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "", "b"}, previous.DeclaredNames(), "should keep using the previous channel")
}

func TestUnitInitReplaysInOrder(t *testing.T) {
	broker, _, ch, _ := setup(t, true)

	for _, name := range []string{"second", "first", "third"} {
		_, err := ch.AssertQueue(name, channel.DefaultQueueProperties())
		require.NoError(t, err)
	}

	_, err := ch.Init(context.Background())
	require.NoError(t, err)

	channels := broker.Last().Channels()
	require.Len(t, channels, 2)
	assert.True(t, channels[0].IsClosed(), "should discard previous channel")
	assert.Equal(t, []string{"second", "first", "third"}, channels[1].DeclaredNames())
}

func TestUnitGetQueueByName(t *testing.T) {
	broker, _, ch, _ := setup(t, true)

	queue, err := ch.GetQueueByName("missing", channel.DefaultQueueProperties())
	require.NoError(t, err)
	assert.Equal(t, "missing", queue.Name)

	declared := broker.Last().LastChannel().Declared()
	require.Len(t, declared, 1, "should declare missing queue")
	assert.Equal(t, "missing", declared[0].Requested)
	assert.True(t, declared[0].Durable, "should declare with given properties")

	again, err := ch.GetQueueByName("missing", channel.QueueProperties{Exclusive: true})
	require.NoError(t, err)
	assert.Equal(t, queue, again)
	assert.Len(t, broker.Last().LastChannel().Declared(), 1, "should not declare known queue")
}

func TestUnitGetQueueByNameEqualsAssert(t *testing.T) {
	brokerA, _, byName, _ := setup(t, true)
	brokerB, _, asserted, _ := setup(t, true)

	_, err := byName.GetQueueByName("q", channel.DefaultQueueProperties())
	require.NoError(t, err)
	_, err = asserted.AssertQueue("q", channel.DefaultQueueProperties())
	require.NoError(t, err)

	assert.Equal(t, brokerB.Last().LastChannel().Declared(), brokerA.Last().LastChannel().Declared())
	assert.Equal(t, asserted.Queues(), byName.Queues())
}

func TestUnitInitFastReplyQueue(t *testing.T) {
	broker, _, ch, _ := setup(t, true)
	processor := newCollector()

	first, err := ch.InitFastReplyQueue(processor)
	require.NoError(t, err)
	second, err := ch.InitFastReplyQueue(newCollector())
	require.NoError(t, err)

	assert.Equal(t, first, second, "should return the same queue")

	amqpCh := broker.Last().LastChannel()
	declared := amqpCh.Declared()
	require.Len(t, declared, 1, "should declare once")
	assert.Empty(t, declared[0].Requested, "should let broker name the queue")
	assert.True(t, declared[0].Exclusive)
	assert.False(t, declared[0].Durable)

	consumers := amqpCh.Consumers()
	require.Len(t, consumers, 1, "should register one consumer")
	assert.Equal(t, first.Name, consumers[0].Queue)
	assert.True(t, consumers[0].AutoAck, "should consume without acknowledgements")

	require.True(t, amqpCh.Deliver(first.Name, []byte("reply")))
	assert.Equal(t, "reply", processor.next(t))

	_, err = ch.GetQueueByName(first.Name, channel.DefaultQueueProperties())
	require.NoError(t, err)
	assert.Len(t, amqpCh.Declared(), 1, "should find fast reply queue by its name")
}

func TestUnitInitConsumption(t *testing.T) {
	tests := map[string]struct {
		queue   string
		tag     string
		wantErr error
	}{
		"generated tag": {
			queue: "jobs",
		},
		"given tag": {
			queue: "jobs",
			tag:   "worker-1",
		},
		"unknown queue": {
			queue:   "nope",
			wantErr: channel.ErrUnknownQueue,
		},
		"empty queue name": {
			queue:   "",
			wantErr: channel.ErrUnknownQueue,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			broker, _, ch, _ := setup(t, true)

			_, err := ch.AssertQueue("jobs", channel.DefaultQueueProperties())
			require.NoError(t, err)

			processor := newCollector()
			tag, err := ch.InitConsumption(tt.queue, processor, channel.ConsumeProperties{Tag: tt.tag})
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Empty(t, broker.Last().LastChannel().Consumers())

				return
			}

			require.NoError(t, err)
			assert.NotEmpty(t, tag)
			if tt.tag != "" {
				assert.Equal(t, tt.tag, tag)
			}

			consumers := broker.Last().LastChannel().Consumers()
			require.Len(t, consumers, 1)
			assert.Equal(t, tag, consumers[0].Tag)
			assert.False(t, consumers[0].AutoAck)

			require.True(t, broker.Last().LastChannel().Deliver("jobs", []byte("job")))
			assert.Equal(t, "job", processor.next(t))
		})
	}
}

func TestUnitInitConsumptionDuplicateTag(t *testing.T) {
	_, _, ch, _ := setup(t, true)

	_, err := ch.AssertQueue("jobs", channel.DefaultQueueProperties())
	require.NoError(t, err)

	_, err = ch.InitConsumption("jobs", newCollector(), channel.ConsumeProperties{Tag: "worker"})
	require.NoError(t, err)

	_, err = ch.InitConsumption("jobs", newCollector(), channel.ConsumeProperties{Tag: "worker"})
	assert.ErrorIs(t, err, channel.ErrDuplicateConsumer)
}

func TestUnitInitConsumptionByGeneratedName(t *testing.T) {
	broker, _, ch, _ := setup(t, true)

	queue, err := ch.AssertQueue("", channel.QueueProperties{Exclusive: true})
	require.NoError(t, err)

	_, err = ch.InitConsumption(queue.Name, newCollector(), channel.ConsumeProperties{})
	require.NoError(t, err)

	consumers := broker.Last().LastChannel().Consumers()
	require.Len(t, consumers, 1)
	assert.Equal(t, queue.Name, consumers[0].Queue)
}

func TestUnitReplayAfterReconnect(t *testing.T) {
	broker, conn, ch, _ := setup(t, true)

	_, err := ch.AssertQueue("a", channel.DefaultQueueProperties())
	require.NoError(t, err)
	_, err = ch.AssertQueue("b", channel.DefaultQueueProperties())
	require.NoError(t, err)

	processor := newCollector()
	tag, err := ch.InitConsumption("b", processor, channel.ConsumeProperties{})
	require.NoError(t, err)

	replyProcessor := newCollector()
	reply, err := ch.InitFastReplyQueue(replyProcessor)
	require.NoError(t, err)

	consumersOnReconnect := make(chan []rabbittest.Consumption, 1)
	require.NoError(t, conn.On(connection.EventReconnect, func(error) {
		consumersOnReconnect <- broker.Last().LastChannel().Consumers()
	}))

	old := broker.Last()
	old.Break(&amqp.Error{Code: amqp.ConnectionForced, Reason: "broker shutdown"})

	var replayed []rabbittest.Consumption
	select {
	case replayed = <-consumersOnReconnect:
	case <-time.After(time.Second):
		t.Fatal("not reconnected")
	}

	require.NotSame(t, old, broker.Last())

	amqpCh := broker.Last().LastChannel()
	require.Len(t, replayed, 2, "consumers should be active before reconnect is emitted")
	assert.Equal(t, []string{"a", "b", ""}, amqpCh.DeclaredNames())
	assert.Equal(t, tag, replayed[0].Tag, "should keep consumer tag")
	assert.Equal(t, "b", replayed[0].Queue)

	queues := ch.Queues()
	require.Len(t, queues, 3)
	assert.NotEqual(t, reply.Name, queues[2].Name, "fast reply queue gets a new name")
	assert.Equal(t, queues[2].Name, replayed[1].Queue, "should consume from the new name")

	require.True(t, amqpCh.Deliver("b", []byte("after")))
	assert.Equal(t, "after", processor.next(t))

	require.True(t, amqpCh.Deliver(queues[2].Name, []byte("reply")))
	assert.Equal(t, "reply", replyProcessor.next(t))
}

func TestUnitNoReplayBeforeInit(t *testing.T) {
	broker, _, _, reconnected := setup(t, false)

	broker.Last().Break(&amqp.Error{Code: amqp.ConnectionForced})
	waitFor(t, reconnected)

	assert.Empty(t, broker.Last().Channels(), "should not create channel for uninitialized manager")
}

func TestUnitChannelErrorIsVisibilityOnly(t *testing.T) {
	errs := make(chan error, 1)
	broker, _, ch, _ := setup(t, true, channel.WithOnError(func(err error) {
		errs <- err
	}))

	_, err := ch.AssertQueue("a", channel.DefaultQueueProperties())
	require.NoError(t, err)

	fault := &amqp.Error{Code: amqp.PreconditionFailed, Reason: "inequivalent arg"}
	broker.Last().LastChannel().Break(fault)

	select {
	case got := <-errs:
		assert.Equal(t, fault, got)
	case <-time.After(time.Second):
		t.Fatal("channel error not reported")
	}

	assert.Len(t, broker.Last().Channels(), 1, "should not re-create channel")
	assert.Equal(t, 1, broker.Dials(), "should not reconnect")
}

func TestUnitProcessorError(t *testing.T) {
	errs := make(chan error, 1)
	broker, _, ch, _ := setup(t, true, channel.WithOnError(func(err error) {
		errs <- err
	}))

	_, err := ch.AssertQueue("a", channel.DefaultQueueProperties())
	require.NoError(t, err)

	_, err = ch.InitConsumption("a", channel.ProcessFunc(func(ctx context.Context, deliveries <-chan amqp.Delivery) error {
		for range deliveries {
			return assert.AnError
		}

		return nil
	}), channel.ConsumeProperties{})
	require.NoError(t, err)

	require.True(t, broker.Last().LastChannel().Deliver("a", []byte("boom")))

	select {
	case got := <-errs:
		assert.ErrorIs(t, got, assert.AnError)
	case <-time.After(time.Second):
		t.Fatal("processor error not reported")
	}
}

func TestUnitProcessorErrorAcrossReconnects(t *testing.T) {
	const reconnects = 5

	errs := make(chan error, reconnects+1)
	broker, _, ch, reconnected := setup(t, true, channel.WithOnError(func(err error) {
		select {
		case errs <- err:
		default:
		}
	}))

	_, err := ch.AssertQueue("", channel.QueueProperties{Exclusive: true})
	require.NoError(t, err)
	first := ch.Queues()[0].Name

	_, err = ch.InitConsumption(first, channel.ProcessFunc(func(ctx context.Context, deliveries <-chan amqp.Delivery) error {
		for range deliveries {
		}

		return assert.AnError
	}), channel.ConsumeProperties{})
	require.NoError(t, err)

	for i := 0; i < reconnects; i++ {
		broker.Last().Break(&amqp.Error{Code: amqp.ConnectionForced, Reason: "broker shutdown"})
		waitFor(t, reconnected)

		select {
		case got := <-errs:
			assert.ErrorIs(t, got, assert.AnError)
		case <-time.After(time.Second):
			t.Fatal("processor error not reported")
		}
	}

	assert.Len(t, broker.Last().LastChannel().Consumers(), 1, "consumer should follow every replay")
}

func TestUnitCancelConsumption(t *testing.T) {
	broker, _, ch, _ := setup(t, true)

	_, err := ch.AssertQueue("a", channel.DefaultQueueProperties())
	require.NoError(t, err)
	tag, err := ch.InitConsumption("a", newCollector(), channel.ConsumeProperties{})
	require.NoError(t, err)

	require.NoError(t, ch.CancelConsumption(tag))
	assert.ErrorIs(t, ch.CancelConsumption(tag), channel.ErrUnknownConsumer)

	consumers := broker.Last().LastChannel().Consumers()
	require.Len(t, consumers, 1)
	assert.True(t, consumers[0].Cancelled)

	_, err = ch.Init(context.Background())
	require.NoError(t, err)
	assert.Empty(t, broker.Last().LastChannel().Consumers(), "cancelled consumer should not be replayed")
}

func TestUnitQOS(t *testing.T) {
	broker, _, ch, _ := setup(t, true, channel.WithQOS(10, 0, false))

	assert.Equal(t, &rabbittest.QoS{PrefetchCount: 10}, broker.Last().LastChannel().QoS())

	_, err := ch.Init(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &rabbittest.QoS{PrefetchCount: 10}, broker.Last().LastChannel().QoS(), "should apply to every channel")
}

func TestUnitPublishWithContext(t *testing.T) {
	broker, _, ch, _ := setup(t, true)

	msg := amqp.Publishing{ContentType: "application/json", Body: []byte(`{}`)}
	require.NoError(t, ch.PublishWithContext(context.Background(), "events", "created", true, false, msg))

	assert.Equal(t, []rabbittest.Publishing{{
		Exchange:  "events",
		Key:       "created",
		Mandatory: true,
		Msg:       msg,
	}}, broker.Last().LastChannel().Published())
}

func TestUnitClose(t *testing.T) {
	broker, _, ch, reconnected := setup(t, true)

	_, err := ch.AssertQueue("a", channel.DefaultQueueProperties())
	require.NoError(t, err)
	_, err = ch.InitConsumption("a", newCollector(), channel.ConsumeProperties{})
	require.NoError(t, err)

	require.NoError(t, ch.Close())
	require.NoError(t, ch.Close(), "should be idempotent")
	assert.True(t, broker.Last().LastChannel().IsClosed())

	_, err = ch.AssertQueue("b", channel.DefaultQueueProperties())
	assert.ErrorIs(t, err, channel.ErrClosed)
	_, err = ch.Init(context.Background())
	assert.ErrorIs(t, err, channel.ErrClosed)

	broker.Last().Break(&amqp.Error{Code: amqp.ConnectionForced})
	waitFor(t, reconnected)
	assert.Empty(t, broker.Last().Channels(), "closed manager should not be restored")
}

// setup connects to the in-memory broker and creates channel manager, initialized if asked to.
// Returned chan receives on every reconnection.
func setup(t *testing.T, initialize bool, ops ...channel.Option) (*rabbittest.Broker, *connection.Manager, *channel.Manager, <-chan struct{}) {
	t.Helper()

	broker := rabbittest.NewBroker()
	reconnected := make(chan struct{}, 8)

	conn, err := connection.New(
		"amqp://localhost",
		connection.WithDialer(broker.Dial),
		connection.WithTimer(rabbittest.NewTimer()),
		connection.WithOnReconnect(func(error) {
			reconnected <- struct{}{}
		}),
	).Connect(context.Background())
	require.NoError(t, err)

	ch := channel.New(conn, ops...)

	t.Cleanup(func() {
		assert.NoError(t, ch.Close())
		assert.NoError(t, conn.Close())
	})

	if initialize {
		_, err := ch.Init(context.Background())
		require.NoError(t, err)
	}

	return broker, conn, ch, reconnected
}

func waitFor(t *testing.T, c <-chan struct{}) {
	t.Helper()

	select {
	case <-c:
	case <-time.After(time.Second):
		t.Fatal("timed out")
	}
}

// collector is a processor forwarding delivery bodies.
type collector struct {
	bodies chan string
}

func newCollector() *collector {
	return &collector{bodies: make(chan string, 16)}
}

func (c *collector) Process(_ context.Context, deliveries <-chan amqp.Delivery) error {
	for d := range deliveries {
		c.bodies <- string(d.Body)
	}

	return nil
}

func (c *collector) next(t *testing.T) string {
	t.Helper()

	select {
	case body := <-c.bodies:
		return body
	case <-time.After(time.Second):
		t.Fatal("no delivery processed")
		return ""
	}
}
