package notification

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"bloodlink-backend/internal/logger"
	"bloodlink-backend/internal/model"
)

// NotificationSender defines the interface for sending a web push notification.
type NotificationSender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is a real implementation of NotificationSender using the webpush library.
type WebPushSender struct{}

// Send sends a notification using the webpush library.
func (s *WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// pushPayload is the JSON document delivered to the browser.
type pushPayload struct {
	ID         int64                      `json:"id"`
	Type       model.NotificationType     `json:"type"`
	Priority   model.NotificationPriority `json:"priority"`
	Title      string                     `json:"title"`
	Body       string                     `json:"body"`
	DeliveryID *int64                     `json:"deliveryId,omitempty"`
}

// WorkerPool pushes stored notifications to their recipient's browser
// subscriptions.
type WorkerPool struct {
	size    int
	jobs    chan int64
	db      *gorm.DB
	webpush *webpush.Options
	sender  NotificationSender
	log     *zap.Logger
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(size int, db *gorm.DB, webpushOptions *webpush.Options, log *zap.Logger) *WorkerPool {
	if size < 1 {
		size = 1
	}
	return &WorkerPool{
		size:    size,
		jobs:    make(chan int64, size*64),
		db:      db,
		webpush: webpushOptions,
		sender:  &WebPushSender{},
		log:     logger.OrNop(log).Named("push"),
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		go wp.worker(ctx, i)
	}
}

func (wp *WorkerPool) worker(ctx context.Context, id int) {
	wp.log.Debug("worker started", zap.Int("worker", id))
	for {
		select {
		case notificationID := <-wp.jobs:
			wp.pushNotification(ctx, notificationID)
		case <-ctx.Done():
			wp.log.Debug("worker shutting down", zap.Int("worker", id))
			return
		}
	}
}

// Dispatch queues a notification for push. Push is best-effort: when the
// queue is full the job is dropped and the stored row remains.
func (wp *WorkerPool) Dispatch(notificationID int64) {
	select {
	case wp.jobs <- notificationID:
	default:
		wp.log.Warn("push queue full, dropping notification", zap.Int64("notification_id", notificationID))
	}
}

// Jobs returns the jobs channel for testing.
func (wp *WorkerPool) Jobs() chan int64 {
	return wp.jobs
}

func (wp *WorkerPool) pushNotification(ctx context.Context, notificationID int64) {
	var n model.Notification
	if err := wp.db.WithContext(ctx).First(&n, notificationID).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			wp.log.Error("failed to load notification", zap.Int64("notification_id", notificationID), zap.Error(err))
		}
		return
	}

	var subscriptions []model.PushSubscription
	if err := wp.db.WithContext(ctx).Where("user_id = ?", n.UserID).Find(&subscriptions).Error; err != nil {
		wp.log.Error("failed to fetch subscriptions", zap.Int64("user_id", n.UserID), zap.Error(err))
		return
	}
	if len(subscriptions) == 0 {
		return
	}

	payload, err := json.Marshal(pushPayload{
		ID:         n.ID,
		Type:       n.Type,
		Priority:   n.Priority,
		Title:      n.Title,
		Body:       n.Message,
		DeliveryID: n.DeliveryID,
	})
	if err != nil {
		wp.log.Error("failed to encode push payload", zap.Int64("notification_id", n.ID), zap.Error(err))
		return
	}

	for _, sub := range subscriptions {
		wp.sendNotification(ctx, sub, payload)
	}
}

// sendNotification sends a single web push notification.
func (wp *WorkerPool) sendNotification(ctx context.Context, sub model.PushSubscription, payload []byte) {
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}

	resp, err := wp.sender.Send(payload, wpSub, wp.webpush)
	if err != nil {
		wp.log.Warn("push send failed", zap.String("endpoint", sub.Endpoint), zap.Error(err))
		return
	}
	defer resp.Body.Close()

	// Expired subscription
	if resp.StatusCode == http.StatusGone {
		wp.log.Info("subscription expired, deleting", zap.String("endpoint", sub.Endpoint))
		if err := wp.db.WithContext(ctx).Delete(&sub).Error; err != nil {
			wp.log.Error("failed to delete expired subscription", zap.String("endpoint", sub.Endpoint), zap.Error(err))
		}
	}
}
