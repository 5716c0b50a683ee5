package presence

import (
	"context"

	"github.com/weiawesome/roomchat/internal/domain"
)

// Mirror publishes roster snapshots outside the process. Publish must not
// block; snapshots for one room are applied in the order published.
type Mirror interface {
	Publish(room string, roster domain.Roster)
	Start(ctx context.Context) error
	Stop()
}

// NopMirror discards every snapshot.
type NopMirror struct{}

func (NopMirror) Publish(string, domain.Roster) {}

func (NopMirror) Start(context.Context) error { return nil }

func (NopMirror) Stop() {}
