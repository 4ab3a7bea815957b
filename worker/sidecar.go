package worker

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// SidecarSpawner spawns the bundled sidecar called Name, resolving its executable on every spawn
// so that a binary replaced by an update is picked up by the next session.
type SidecarSpawner struct {
	Name string
	// Path skips resolution when set.
	Path         string
	Args         []string
	Env          []string
	ResolveOpts  []ResolveOption
	Log          *zap.SugaredLogger
	ReapTimeout  time.Duration
	DrainTimeout time.Duration
}

func (s *SidecarSpawner) Spawn(ctx context.Context) (Handle, error) {
	path := s.Path
	if path == "" {
		var err error
		path, err = ResolveSidecar(s.Name, s.ResolveOpts...)
		if err != nil {
			return nil, err
		}
	}
	log := s.Log
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	exec := &ExecSpawner{
		Command:      path,
		Args:         s.Args,
		Env:          s.Env,
		Log:          log.Named(s.Name),
		ReapTimeout:  s.ReapTimeout,
		DrainTimeout: s.DrainTimeout,
	}
	return exec.Spawn(ctx)
}
