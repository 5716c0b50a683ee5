package pubsub

import (
	"fmt"
	"strings"
)

const (
	// ChannelRoomRelay carries one room's broadcasts between instances.
	ChannelRoomRelay = "chat:room:%s:to_relay"

	// PatternRoomRelay matches every room relay channel.
	PatternRoomRelay = "chat:room:*:to_relay"

	channelPrefix = "chat:room:"
	channelSuffix = ":to_relay"
)

const EventRoomBroadcast = "room_broadcast"

func RoomRelayChannel(room string) string {
	return fmt.Sprintf(ChannelRoomRelay, room)
}

// RoomFromChannel extracts the room name from a relay channel. Room names
// may contain colons.
func RoomFromChannel(channel string) (string, error) {
	if !strings.HasPrefix(channel, channelPrefix) || !strings.HasSuffix(channel, channelSuffix) {
		return "", fmt.Errorf("not a room relay channel: %q", channel)
	}
	room := strings.TrimSuffix(strings.TrimPrefix(channel, channelPrefix), channelSuffix)
	if room == "" {
		return "", fmt.Errorf("empty room in channel %q", channel)
	}
	return room, nil
}
