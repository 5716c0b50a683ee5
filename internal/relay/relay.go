package relay

import (
	"context"
	"sync"
	"time"

	"github.com/weiawesome/roomchat/internal/hub"
	"github.com/weiawesome/roomchat/pkg/log"
	"github.com/weiawesome/roomchat/pkg/pubsub"
)

const publishTimeout = 3 * time.Second

type outbound struct {
	room string
	data []byte
}

// Relay fans room broadcasts out to other instances over pub/sub and feeds
// their broadcasts into the local hub. Events carry the publishing
// instance's id so an instance never re-delivers its own broadcasts.
type Relay struct {
	ps         pubsub.PubSub
	hub        *hub.Hub
	instanceID string
	out        chan outbound
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

func New(ps pubsub.PubSub, h *hub.Hub, instanceID string) *Relay {
	return &Relay{
		ps:         ps,
		hub:        h,
		instanceID: instanceID,
		out:        make(chan outbound, 1024),
	}
}

// Forward implements hub.Forwarder.
func (r *Relay) Forward(room string, data []byte) {
	select {
	case r.out <- outbound{room: room, data: data}:
	default:
		l := log.L()
		l.Warn().Str(log.FieldRoom, room).Msg("relay queue full, dropping broadcast")
	}
}

func (r *Relay) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)

	events, err := r.ps.SubscribePattern(ctx, pubsub.PatternRoomRelay)
	if err != nil {
		cancel()
		return err
	}
	r.cancel = cancel

	r.wg.Add(2)
	go r.publishLoop(ctx)
	go r.receiveLoop(ctx, events)

	l := log.L()
	l.Info().Str(log.FieldInstance, r.instanceID).Msg("relay started")
	return nil
}

func (r *Relay) publishLoop(ctx context.Context) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-r.out:
			event := pubsub.NewEvent(pubsub.EventRoomBroadcast, msg.room, r.instanceID, msg.data)
			pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
			err := r.ps.Publish(pubCtx, pubsub.RoomRelayChannel(msg.room), event)
			cancel()
			if err != nil {
				l := log.L()
				l.Error().Err(err).Str(log.FieldRoom, msg.room).Msg("failed to relay broadcast")
			}
		}
	}
}

func (r *Relay) receiveLoop(ctx context.Context, events <-chan *pubsub.Event) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			if event.Type != pubsub.EventRoomBroadcast || event.Origin == r.instanceID {
				continue
			}
			r.hub.DeliverRemote(event.Room, event.Payload)
		}
	}
}

func (r *Relay) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	r.wg.Wait()
	if err := r.ps.Close(); err != nil {
		l := log.L()
		l.Warn().Err(err).Msg("failed to close relay pubsub")
	}
}
