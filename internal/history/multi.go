package history

import (
	"context"
	"errors"
	"time"
)

// Multi fans writes out to every backend and serves reads from the
// first one that answers. The first backend is primary: its results
// and counts win.
type Multi []Store

// NewMulti builds a fan-out store. At least one backend is required.
func NewMulti(stores ...Store) (Multi, error) {
	if len(stores) == 0 {
		return nil, errors.New("history: no backends configured")
	}
	return Multi(stores), nil
}

func (m Multi) AddMessage(ctx context.Context, sessionID, content string) (string, error) {
	var id string
	var errs []error
	for i, s := range m {
		got, err := s.AddMessage(ctx, sessionID, content)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if i == 0 || id == "" {
			id = got
		}
	}
	if id == "" {
		return "", errors.Join(errs...)
	}
	return id, nil
}

func (m Multi) GetMessage(ctx context.Context, msgID string) (*Record, error) {
	var errs []error
	for _, s := range m {
		rec, err := s.GetMessage(ctx, msgID)
		if err == nil {
			return rec, nil
		}
		errs = append(errs, err)
	}
	return nil, errors.Join(errs...)
}

func (m Multi) GetMessagesBySession(ctx context.Context, sessionID string) ([]Record, error) {
	var errs []error
	for _, s := range m {
		recs, err := s.GetMessagesBySession(ctx, sessionID)
		if err == nil {
			return recs, nil
		}
		errs = append(errs, err)
	}
	return nil, errors.Join(errs...)
}

func (m Multi) DelMessages(ctx context.Context, msgID, sessionID string) error {
	var errs []error
	for _, s := range m {
		if err := s.DelMessages(ctx, msgID, sessionID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) CleanMessages(ctx context.Context, before time.Duration) (int, error) {
	var count int
	var errs []error
	for i, s := range m {
		n, err := s.CleanMessages(ctx, before)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if i == 0 {
			count = n
		}
	}
	return count, errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
