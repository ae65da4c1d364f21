// Package notify persists user notifications and delivers them over push
// (SNS) and email (SES). Persistence is the contract; delivery is best
// effort and recorded on the row when it succeeds.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	apperrors "companion-workers/internal/common/errors"
	"companion-workers/internal/common/logger"
	"companion-workers/internal/common/validation"
	"companion-workers/internal/models"
	"companion-workers/internal/store"

	"github.com/google/uuid"
)

const (
	ChannelPush  = "push"
	ChannelEmail = "email"
)

// Pusher fans a notification out to the user's devices.
type Pusher interface {
	PublishToUser(ctx context.Context, userID, subject, message string, attrs map[string]string) (string, error)
}

// Emailer sends a plain-text email.
type Emailer interface {
	SendText(ctx context.Context, to, subject, body string) (string, error)
}

// Directory resolves where a user can be reached.
type Directory interface {
	LookupContact(ctx context.Context, userID string) (models.Contact, error)
}

// Publisher emits the notification_created change event.
type Publisher interface {
	Publish(ctx context.Context, ev models.ChangeEvent) error
}

// emailTypes are worth an email on top of the push.
var emailTypes = map[models.NotificationType]bool{
	models.NotificationMatchAccepted:    true,
	models.NotificationDecisionRequired: true,
	models.NotificationWithdrawal:       true,
	models.NotificationCoolingEnded:     true,
	models.NotificationEndResolved:      true,
	models.NotificationJourneyComplete:  true,
}

type Deps struct {
	Store     store.NotificationStore
	Push      Pusher
	Email     Emailer
	Directory Directory
	Publisher Publisher
	Clock     func() time.Time
}

type Dispatcher struct {
	deps   Deps
	logger logger.Logger
}

func NewDispatcher(deps Deps, log logger.Logger) *Dispatcher {
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	return &Dispatcher{deps: deps, logger: logger.ForComponent(log, "notify")}
}

// CreateNotification stores the notification and then attempts delivery.
// Only a failed insert is an error.
func (d *Dispatcher) CreateNotification(ctx context.Context, req models.NotificationRequest) (*models.Notification, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	n := &models.Notification{
		ID:          uuid.NewString(),
		UserID:      req.UserID,
		Type:        req.Type,
		Title:       req.Title,
		Message:     req.Message,
		ReferenceID: req.ReferenceID,
		Status:      "created",
		CreatedAt:   d.deps.Clock().UTC(),
	}
	if err := d.deps.Store.InsertNotification(ctx, n); err != nil {
		return nil, store.Translate(err, "notification", n.ID)
	}

	if d.deps.Publisher != nil {
		ev, err := models.NewChangeEvent(models.TableNotifications, models.OpInsert, n.ID, n, n.UserID)
		if err == nil {
			err = d.deps.Publisher.Publish(ctx, ev)
		}
		if err != nil {
			d.logger.Warn("notification event not published", map[string]interface{}{"notificationId": n.ID, "error": err.Error()})
		}
	}

	if _, err := d.Deliver(ctx, n); err != nil {
		d.logger.Warn("notification delivery incomplete", map[string]interface{}{
			"notificationId": n.ID,
			"type":           string(n.Type),
			"error":          err.Error(),
		})
	}
	return n, nil
}

type pushPayload struct {
	NotificationID string                  `json:"notificationId"`
	Type           models.NotificationType `json:"type"`
	Title          string                  `json:"title"`
	Message        string                  `json:"message"`
	ReferenceID    string                  `json:"referenceId,omitempty"`
}

// Deliver sends n over every configured channel and marks it delivered on
// the channels that succeeded. The error joins the channel failures.
func (d *Dispatcher) Deliver(ctx context.Context, n *models.Notification) ([]string, error) {
	var (
		channels []string
		errs     []error
	)

	if d.deps.Push != nil {
		body, _ := json.Marshal(pushPayload{
			NotificationID: n.ID, Type: n.Type, Title: n.Title, Message: n.Message, ReferenceID: n.ReferenceID,
		})
		if _, err := d.deps.Push.PublishToUser(ctx, n.UserID, n.Title, string(body), map[string]string{"type": string(n.Type)}); err != nil {
			errs = append(errs, fmt.Errorf("push: %w", err))
		} else {
			channels = append(channels, ChannelPush)
		}
	}

	if d.deps.Email != nil && d.deps.Directory != nil && emailTypes[n.Type] {
		if err := d.email(ctx, n); err != nil {
			errs = append(errs, fmt.Errorf("email: %w", err))
		} else {
			channels = append(channels, ChannelEmail)
		}
	}

	if len(channels) > 0 {
		at := d.deps.Clock().UTC()
		if err := d.deps.Store.MarkDelivered(ctx, n.ID, channels, at); err != nil {
			errs = append(errs, store.Translate(err, "notification", n.ID))
		} else {
			n.Channels = channels
			n.Status = "delivered"
			n.DeliveredAt = &at
		}
	}
	return channels, errors.Join(errs...)
}

func (d *Dispatcher) email(ctx context.Context, n *models.Notification) error {
	contact, err := d.deps.Directory.LookupContact(ctx, n.UserID)
	if err != nil {
		return err
	}
	if contact.Email == "" {
		return apperrors.NewValidationFailedError("user has no email address")
	}
	greeting := "Hello"
	if contact.DisplayName != "" {
		greeting += " " + contact.DisplayName
	}
	body := fmt.Sprintf("%s,\n\n%s\n", greeting, n.Message)
	_, err = d.deps.Email.SendText(ctx, contact.Email, n.Title, body)
	return err
}
