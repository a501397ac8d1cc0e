package snapshot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// MultiSink 并发写入多个存储，任一失败即整体失败。
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink 组合存储，忽略 nil。只有一个存储时直接返回它。
func NewMultiSink(sinks ...Sink) Sink {
	var kept []Sink
	for _, s := range sinks {
		if s != nil {
			kept = append(kept, s)
		}
	}
	switch len(kept) {
	case 0:
		return nil
	case 1:
		return kept[0]
	}
	return &MultiSink{sinks: kept}
}

func (m *MultiSink) Name() string {
	names := make([]string, len(m.sinks))
	for i, s := range m.sinks {
		names[i] = s.Name()
	}
	return strings.Join(names, "+")
}

// Save 所有存储都会被尝试，返回合并后的错误。
func (m *MultiSink) Save(ctx context.Context, snap Snapshot) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	for _, s := range m.sinks {
		g.Go(func() error {
			if err := s.Save(ctx, snap); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
				mu.Unlock()
				return err
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}
