package feature

import (
	"context"
	"fmt"
	"sync"

	"github.com/NordCoder/Cronus/internal/domain/feature"
)

const (
	SourceStatic = "static"
	SourceDB     = "db"
)

type Config struct {
	Source      string  `mapstructure:"source"`
	EnableAll   bool    `mapstructure:"enable_all"`
	EnabledOrgs []int64 `mapstructure:"enabled_orgs"`
}

// New builds the gate for flag from config. repo is only consulted for the db source.
func New(cfg Config, repo feature.Repo, flag string) (feature.Gate, error) {
	switch cfg.Source {
	case SourceStatic, "":
		return NewStatic(cfg.EnableAll, cfg.EnabledOrgs...), nil
	case SourceDB:
		if repo == nil {
			return nil, fmt.Errorf("feature source %q needs a repository", cfg.Source)
		}
		return DBGate{Repo: repo, Flag: flag}, nil
	default:
		return nil, fmt.Errorf("unknown feature source %q", cfg.Source)
	}
}

// Static enables a fixed set of organizations, or all of them.
type Static struct {
	all  bool
	orgs map[int64]struct{}
}

func NewStatic(all bool, orgs ...int64) Static {
	s := Static{all: all, orgs: make(map[int64]struct{}, len(orgs))}
	for _, id := range orgs {
		s.orgs[id] = struct{}{}
	}
	return s
}

func (s Static) IsEnabled(_ context.Context, organizationID int64) (bool, error) {
	if s.all {
		return true, nil
	}
	_, ok := s.orgs[organizationID]
	return ok, nil
}

type DBGate struct {
	Repo feature.Repo
	Flag string
}

func (g DBGate) IsEnabled(ctx context.Context, organizationID int64) (bool, error) {
	return g.Repo.IsEnabled(ctx, organizationID, g.Flag)
}

// Memo caches answers, errors included, for the lifetime of one run.
type Memo struct {
	gate feature.Gate

	mu    sync.Mutex
	cache map[int64]memoEntry
}

type memoEntry struct {
	enabled bool
	err     error
}

func Memoize(g feature.Gate) *Memo {
	return &Memo{gate: g, cache: make(map[int64]memoEntry)}
}

func (m *Memo) IsEnabled(ctx context.Context, organizationID int64) (bool, error) {
	m.mu.Lock()
	e, ok := m.cache[organizationID]
	m.mu.Unlock()
	if ok {
		return e.enabled, e.err
	}

	enabled, err := m.gate.IsEnabled(ctx, organizationID)
	m.mu.Lock()
	m.cache[organizationID] = memoEntry{enabled: enabled, err: err}
	m.mu.Unlock()
	return enabled, err
}
