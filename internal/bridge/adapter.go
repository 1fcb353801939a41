// Package bridge translates transport events into store actions. The
// transport and the store never import each other.
package bridge

import (
	"github.com/schoolhub/schoolhub/internal/logging"
	"github.com/schoolhub/schoolhub/internal/notifications"
	"github.com/schoolhub/schoolhub/internal/realtime"
	"github.com/schoolhub/schoolhub/internal/store"
)

// DataChange is a server-side data mutation announced over the push channel.
type DataChange struct {
	Kind realtime.MessageType
	realtime.DataChangePayload
}

// Adapter feeds a Dispatcher from transport callbacks.
type Adapter struct {
	Dispatcher store.Dispatcher
	// OnData receives data_insert, data_update and data_delete pushes.
	OnData     func(DataChange)
	Normalizer notifications.Normalizer
	Logger     *logging.Logger
}

// HandleMessage maps one inbound message to at most one action.
func (a *Adapter) HandleMessage(msg realtime.Message) {
	log := logging.OrDefault(a.Logger)

	switch msg.Type {
	case realtime.TypeNotification:
		n, err := a.Normalizer.FromPayload(msg.Payload)
		if err != nil {
			log.Warn("Dropping notification push: %v", err)
			return
		}
		a.Dispatcher.Dispatch(store.AddNotification{Notification: n})

	case realtime.TypeSystemAlert:
		alert, err := a.Normalizer.AlertFromPayload(msg.Payload)
		if err != nil {
			log.Warn("Dropping system alert: %v", err)
			return
		}
		a.Dispatcher.Dispatch(store.AddSystemAlert{Alert: alert})

	case realtime.TypeNotificationRead:
		var p realtime.MarkReadPayload
		if err := msg.Decode(&p); err != nil || p.NotificationID == "" {
			log.Warn("Bad notification_read payload")
			return
		}
		a.Dispatcher.Dispatch(store.MarkRead{ID: p.NotificationID})

	case realtime.TypeNotificationsReadAll:
		a.Dispatcher.Dispatch(store.MarkAllRead{})

	case realtime.TypeDataInsert, realtime.TypeDataUpdate, realtime.TypeDataDelete:
		if a.OnData == nil {
			return
		}
		var p realtime.DataChangePayload
		if err := msg.Decode(&p); err != nil {
			log.Debug("Bad %s payload: %v", msg.Type, err)
			return
		}
		a.OnData(DataChange{Kind: msg.Type, DataChangePayload: p})
	}
}

// HandleStatus mirrors a transport state into the store.
func (a *Adapter) HandleStatus(state notifications.ConnectionState) {
	a.Dispatcher.Dispatch(store.SetConnectionStatus{Status: state})
}
