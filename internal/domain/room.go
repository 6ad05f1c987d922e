package domain

// ChannelName is the media room every participant of a call joins.
type ChannelName string

const channelPrefix = "chat_"

// ChannelNameFor derives the room name from the chat, so both sides agree on it
// without exchanging anything.
func ChannelNameFor(chatID ChatID) ChannelName {
	return ChannelName(channelPrefix + string(chatID))
}
