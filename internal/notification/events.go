package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/admitly/chat-core/internal/apperr"
	"github.com/admitly/chat-core/internal/messaging"
	"github.com/admitly/chat-core/internal/protocol"
)

// ApplicationEvent describes an application created or changed by the
// application service.
type ApplicationEvent struct {
	ApplicationID    string `json:"applicationId"`
	StudentUserID    string `json:"studentUserId"`
	UniversityUserID string `json:"universityUserId"`
	Status           string `json:"status"`
	InitiatedBy      string `json:"initiatedBy"`
}

// AccessRequestEvent describes a new access request.
type AccessRequestEvent struct {
	AccessRequestID string `json:"accessRequestId"`
	RequesterUserID string `json:"requesterUserId"`
	TargetUserID    string `json:"targetUserId"`
}

func (e ApplicationEvent) validate() error {
	if e.ApplicationID == "" || e.StudentUserID == "" || e.UniversityUserID == "" {
		return apperr.New(apperr.ErrInvalidRequest, "application event is missing ids")
	}
	return nil
}

// ApplicationCreated notifies the university of a new application.
func (s *Service) ApplicationCreated(ctx context.Context, evt ApplicationEvent) error {
	if err := evt.validate(); err != nil {
		return err
	}
	_, err := s.Enqueue(ctx, evt.UniversityUserID, TypeApplication, evt.ApplicationID)
	return err
}

// ApplicationUpdated pushes application:update to both participants and
// queues a status_update for whoever did not make the change.
func (s *Service) ApplicationUpdated(ctx context.Context, evt ApplicationEvent) error {
	if err := evt.validate(); err != nil {
		return err
	}
	participants := []string{evt.StudentUserID, evt.UniversityUserID}
	s.fanout.EmitToUsers(participants, protocol.TypeApplicationUpdate, protocol.ApplicationUpdateMsg{
		ApplicationID: evt.ApplicationID,
		Status:        evt.Status,
		InitiatedBy:   evt.InitiatedBy,
	})

	var recipients []string
	for _, p := range participants {
		if p != evt.InitiatedBy {
			recipients = append(recipients, p)
		}
	}
	s.notifyAll(ctx, recipients, TypeStatusUpdate, evt.ApplicationID)
	return nil
}

// AccessRequested notifies the target of an access request.
func (s *Service) AccessRequested(ctx context.Context, evt AccessRequestEvent) error {
	if evt.TargetUserID == "" || evt.AccessRequestID == "" {
		return apperr.New(apperr.ErrInvalidRequest, "access request event is missing ids")
	}
	_, err := s.Enqueue(ctx, evt.TargetUserID, TypeAccessRequest, evt.AccessRequestID)
	return err
}

// Subscriber delivers raw payloads published on a subject.
type Subscriber interface {
	SubscribeSubject(subject string, handler func(data []byte)) error
}

// Bridge feeds application and access-request events published by the CRUD
// services into the Service.
type Bridge struct {
	svc     *Service
	timeout time.Duration
}

// NewBridge creates a Bridge for svc.
func NewBridge(svc *Service) *Bridge {
	return &Bridge{svc: svc, timeout: 5 * time.Second}
}

// Start subscribes to the event subjects.
func (b *Bridge) Start(sub Subscriber) error {
	routes := map[string]func(context.Context, []byte) error{
		messaging.SubjectApplicationCreated: b.onApplicationCreated,
		messaging.SubjectApplicationUpdated: b.onApplicationUpdated,
		messaging.SubjectAccessRequested:    b.onAccessRequested,
	}
	for subject, handle := range routes {
		subject, handle := subject, handle
		err := sub.SubscribeSubject(subject, func(data []byte) {
			ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
			defer cancel()
			if err := handle(ctx, data); err != nil {
				log.Printf("notification: %s: %v", subject, err)
			}
		})
		if err != nil {
			return fmt.Errorf("notification: subscribe %s: %w", subject, err)
		}
	}
	return nil
}

func (b *Bridge) onApplicationCreated(ctx context.Context, data []byte) error {
	var evt ApplicationEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return b.svc.ApplicationCreated(ctx, evt)
}

func (b *Bridge) onApplicationUpdated(ctx context.Context, data []byte) error {
	var evt ApplicationEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return b.svc.ApplicationUpdated(ctx, evt)
}

func (b *Bridge) onAccessRequested(ctx context.Context, data []byte) error {
	var evt AccessRequestEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return b.svc.AccessRequested(ctx, evt)
}
