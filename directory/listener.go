package directory

import "github.com/aperturetechnology/MEGAchat/remote"

// RoomListener receives room-level notifications. Implementations run on the
// engine loop and must not block.
type RoomListener interface {
	OnRoomAdded(chatID remote.Handle)
	OnRoomRemoved(chatID remote.Handle)
	OnTitleChanged(chatID remote.Handle, title string)
	OnChatModeChanged(chatID remote.Handle, public bool)
	OnExcludedFromChat(chatID remote.Handle)
	OnRejoinedChat(chatID remote.Handle)
	OnArchivedChanged(chatID remote.Handle, archived bool)
}

// ContactListener receives contact-level notifications.
type ContactListener interface {
	OnContactAdded(userID remote.Handle)
	OnContactRemoved(userID remote.Handle)
	OnVisibilityChanged(userID remote.Handle, v remote.Visibility)
}

// NopRoomListener ignores every notification. Embed it to implement only a
// subset of RoomListener.
type NopRoomListener struct{}

func (NopRoomListener) OnRoomAdded(remote.Handle)                 {}
func (NopRoomListener) OnRoomRemoved(remote.Handle)               {}
func (NopRoomListener) OnTitleChanged(remote.Handle, string)      {}
func (NopRoomListener) OnChatModeChanged(remote.Handle, bool)     {}
func (NopRoomListener) OnExcludedFromChat(remote.Handle)          {}
func (NopRoomListener) OnRejoinedChat(remote.Handle)              {}
func (NopRoomListener) OnArchivedChanged(remote.Handle, bool)     {}

// NopContactListener ignores every notification.
type NopContactListener struct{}

func (NopContactListener) OnContactAdded(remote.Handle)                      {}
func (NopContactListener) OnContactRemoved(remote.Handle)                    {}
func (NopContactListener) OnVisibilityChanged(remote.Handle, remote.Visibility) {}
