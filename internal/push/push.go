// Package push delivers web push notifications, used to ring the other
// room participants when an offer lands while their tab is in the
// background. Delivery is best effort; signaling never depends on it.
package push

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/peerbridge/peerbridge/internal/models"

	webpush "github.com/SherClockHolmes/webpush-go"
	"gorm.io/gorm"
)

var ErrSubscriptionNotFound = errors.New("push subscription not found")

type VAPIDKeys struct {
	PublicKey  string
	PrivateKey string
	Subject    string
}

type Notifier struct {
	db     *gorm.DB
	keys   VAPIDKeys
	logger *slog.Logger
}

func NewNotifier(db *gorm.DB, keys VAPIDKeys, logger *slog.Logger) *Notifier {
	return &Notifier{db: db, keys: keys, logger: logger}
}

func (n *Notifier) PublicKey() string {
	return n.keys.PublicKey
}

// Subscribe replaces the user's subscription with the given one. A browser
// re-subscribing after a service worker update supersedes the old endpoint.
func (n *Notifier) Subscribe(userID, endpoint, p256dh, auth string) (*models.PushSubscription, error) {
	if err := n.db.Where("user_id = ?", userID).Delete(&models.PushSubscription{}).Error; err != nil {
		return nil, fmt.Errorf("drop old subscriptions: %w", err)
	}
	sub := &models.PushSubscription{
		UserID:   userID,
		Endpoint: endpoint,
		P256DH:   p256dh,
		Auth:     auth,
	}
	if err := n.db.Create(sub).Error; err != nil {
		return nil, fmt.Errorf("store subscription: %w", err)
	}
	return sub, nil
}

func (n *Notifier) Unsubscribe(userID, endpoint string) error {
	result := n.db.Where("user_id = ? AND endpoint = ?", userID, endpoint).
		Delete(&models.PushSubscription{})
	if result.Error != nil {
		return fmt.Errorf("delete subscription: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

// Notify sends a notification to every subscription the user has. Endpoints
// that report themselves gone are removed from the table.
func (n *Notifier) Notify(userID, title, body string, data map[string]any) {
	var subs []models.PushSubscription
	if err := n.db.Where("user_id = ?", userID).Find(&subs).Error; err != nil {
		n.logger.Warn("push subscription lookup failed", "user_id", userID, "error", err)
		return
	}
	if len(subs) == 0 {
		return
	}

	payload, err := json.Marshal(map[string]any{
		"title": title,
		"body":  body,
		"data":  data,
	})
	if err != nil {
		n.logger.Warn("push payload marshal failed", "error", err)
		return
	}

	for _, sub := range subs {
		resp, err := webpush.SendNotification(payload, &webpush.Subscription{
			Endpoint: sub.Endpoint,
			Keys: webpush.Keys{
				P256dh: sub.P256DH,
				Auth:   sub.Auth,
			},
		}, &webpush.Options{
			Subscriber:      n.keys.Subject,
			VAPIDPublicKey:  n.keys.PublicKey,
			VAPIDPrivateKey: n.keys.PrivateKey,
			TTL:             30,
		})
		if err != nil {
			n.logger.Warn("push send failed", "user_id", userID, "error", err)
			continue
		}
		if resp.StatusCode == 404 || resp.StatusCode == 410 {
			// Endpoint is gone; stop sending to it.
			n.db.Delete(&sub)
		}
		resp.Body.Close()
	}
}

// NotifyIncomingCall rings a user about an offer waiting in a room.
func (n *Notifier) NotifyIncomingCall(userID, roomID, roomName, fromUser string) {
	title := "Incoming call"
	body := fmt.Sprintf("%s is calling in %s", fromUser, roomName)
	n.Notify(userID, title, body, map[string]any{
		"room_id": roomID,
		"at":      time.Now().UnixNano(),
	})
}
