package task

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/dupwatch/internal/clock"
)

// Service is the business boundary for task operations. Every mutation
// goes through it so the Registry is invalidated exactly once per change.
type Service struct {
	store    Store
	registry *Registry
	clock    clock.Clock
	logger   log.Logger
}

// NewService creates a task Service.
func NewService(store Store, registry *Registry, clk clock.Clock, logger log.Logger) *Service {
	if store == nil || registry == nil {
		panic(xerrors.New("task store and registry are required"))
	}
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Service{store: store, registry: registry, clock: clk, logger: logger}
}

// CreateTask validates and persists a new active task.
func (s *Service) CreateTask(ctx context.Context, ownerID, label string, conversationIDs []string, windowHours int, method Method) (*Task, error) {
	ownerID = strings.TrimSpace(ownerID)
	label = strings.TrimSpace(label)
	if ownerID == "" {
		return nil, fmt.Errorf("%w: owner is required", ErrInvalid)
	}
	if err := validateLabel(label); err != nil {
		return nil, err
	}
	convs, err := normalizeConversations(conversationIDs)
	if err != nil {
		return nil, err
	}
	if windowHours == 0 {
		windowHours = DefaultWindowHours
	}
	if err := validateWindow(windowHours); err != nil {
		return nil, err
	}
	if method, err = ParseMethod(string(method)); err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	t, err := s.store.CreateTask(ctx, &Task{
		OwnerID:         ownerID,
		Label:           label,
		ConversationIDs: convs,
		WindowHours:     windowHours,
		Method:          method,
		Active:          true,
		CreatedAt:       now,
		UpdatedAt:       now,
	})
	if err != nil {
		return nil, err
	}
	s.registry.Invalidate(ownerID)

	s.logger.Info(ctx, "task created",
		"task_id", t.ID,
		"owner_id", ownerID,
		"label", label,
		"conversations", len(convs),
		"window_hours", windowHours,
		"method", method,
	)
	return t, nil
}

// UpdateTask applies u to the task with the given id.
func (s *Service) UpdateTask(ctx context.Context, id int64, u *Update) (*Task, error) {
	if id <= 0 {
		return nil, fmt.Errorf("%w: task id %d", ErrInvalid, id)
	}
	if u == nil || u.Empty() {
		return nil, fmt.Errorf("%w: nothing to update", ErrInvalid)
	}
	if u.Label != nil {
		l := strings.TrimSpace(*u.Label)
		if err := validateLabel(l); err != nil {
			return nil, err
		}
		u.Label = &l
	}
	if u.ConversationIDs != nil {
		convs, err := normalizeConversations(u.ConversationIDs)
		if err != nil {
			return nil, err
		}
		u.ConversationIDs = convs
	}
	if u.WindowHours != nil {
		if err := validateWindow(*u.WindowHours); err != nil {
			return nil, err
		}
	}
	if u.Method != nil {
		m, err := ParseMethod(string(*u.Method))
		if err != nil {
			return nil, err
		}
		u.Method = &m
	}

	t, err := s.store.UpdateTask(ctx, id, u, s.clock.Now().UTC())
	if err != nil {
		return nil, err
	}
	s.registry.Invalidate(t.OwnerID)

	s.logger.Info(ctx, "task updated", "task_id", t.ID, "owner_id", t.OwnerID, "label", t.Label, "active", t.Active)
	return t, nil
}

// SetActive toggles whether a task is monitored.
func (s *Service) SetActive(ctx context.Context, id int64, active bool) (*Task, error) {
	return s.UpdateTask(ctx, id, &Update{Active: &active})
}

// DeleteTask removes the owner's task by label along with its message
// history.
func (s *Service) DeleteTask(ctx context.Context, ownerID, label string) (*Task, error) {
	t, err := s.store.DeleteTask(ctx, strings.TrimSpace(ownerID), strings.TrimSpace(label))
	if err != nil {
		return nil, err
	}
	s.registry.Invalidate(t.OwnerID)

	s.logger.Info(ctx, "task deleted", "task_id", t.ID, "owner_id", t.OwnerID, "label", t.Label)
	return t, nil
}

// GetTask returns the task with the given id.
func (s *Service) GetTask(ctx context.Context, id int64) (*Task, error) {
	t, ok, err := s.store.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return t, nil
}

// ListTasks returns the owner's tasks through the Registry.
func (s *Service) ListTasks(ctx context.Context, ownerID string) ([]*Task, error) {
	return s.registry.ForOwner(ctx, ownerID)
}

// FindTask returns the owner's task with the given label.
func (s *Service) FindTask(ctx context.Context, ownerID, label string) (*Task, error) {
	tasks, err := s.registry.ForOwner(ctx, strings.TrimSpace(ownerID))
	if err != nil {
		return nil, err
	}
	label = strings.TrimSpace(label)
	for _, t := range tasks {
		if t.Label == label {
			return t, nil
		}
	}
	return nil, ErrNotFound
}

// ApplySeed creates every seeded task whose label the owner does not
// already hold. It returns the number of tasks created.
func (s *Service) ApplySeed(ctx context.Context, seed []SeedTask) (int, error) {
	created := 0
	var errs []error
	for _, st := range seed {
		m, err := ParseMethod(st.Method)
		if err != nil {
			errs = append(errs, fmt.Errorf("seed %s/%s: %w", st.Owner, st.Label, err))
			continue
		}
		_, err = s.CreateTask(ctx, st.Owner, st.Label, st.Conversations, st.WindowHours, m)
		switch {
		case err == nil:
			created++
		case errors.Is(err, ErrDuplicateLabel):
			// already present, seeding is create-only
		default:
			errs = append(errs, fmt.Errorf("seed %s/%s: %w", st.Owner, st.Label, err))
		}
	}
	return created, errors.Join(errs...)
}
