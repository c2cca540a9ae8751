package service

import (
	"context"

	"github.com/harborchat/harbor/internal/model"
	"github.com/harborchat/harbor/internal/repository"
)

type INotificationService interface {
	List(ctx context.Context, recipientID string, unreadOnly bool) ([]*model.Notification, error)
	MarkRead(ctx context.Context, notificationID, recipientID string) error
	MarkAllRead(ctx context.Context, recipientID string) (int64, error)
}

type NotificationService struct {
	notificationRepo repository.INotificationRepository
}

func NewNotificationService(notificationRepo repository.INotificationRepository) INotificationService {
	return &NotificationService{notificationRepo: notificationRepo}
}

func (s *NotificationService) List(ctx context.Context, recipientID string, unreadOnly bool) ([]*model.Notification, error) {
	notifications, err := s.notificationRepo.ListByRecipient(ctx, recipientID, unreadOnly)
	if err != nil {
		return nil, WrapTransient("failed to list notifications", err)
	}
	return notifications, nil
}

func (s *NotificationService) MarkRead(ctx context.Context, notificationID, recipientID string) error {
	affected, err := s.notificationRepo.MarkRead(ctx, notificationID, recipientID)
	if err != nil {
		return WrapTransient("failed to mark notification read", err)
	}
	if affected == 0 {
		return NewError(KindNotFound, "notification not found")
	}
	return nil
}

func (s *NotificationService) MarkAllRead(ctx context.Context, recipientID string) (int64, error) {
	affected, err := s.notificationRepo.MarkAllRead(ctx, recipientID)
	if err != nil {
		return 0, WrapTransient("failed to mark notifications read", err)
	}
	return affected, nil
}
