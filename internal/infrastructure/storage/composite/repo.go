package composite

import (
	"context"
	"errors"

	"spreadarb/internal/application/port"
	"spreadarb/internal/domain/model"
)

// Repo 把写操作扇出到所有仓储，单个仓储失败不影响其它仓储
type Repo struct {
	repos []port.Repository
}

func New(repos ...port.Repository) *Repo {
	// nil repos are allowed; filter in constructor for safety
	out := make([]port.Repository, 0, len(repos))
	for _, r := range repos {
		if r != nil {
			out = append(out, r)
		}
	}
	return &Repo{repos: out}
}

// Len 已挂载的仓储数量
func (r *Repo) Len() int { return len(r.repos) }

func (r *Repo) Record(ctx context.Context, ev model.Event) error {
	var errs []error
	for _, repo := range r.repos {
		if err := repo.Record(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Repo) UpsertLatestPrice(ctx context.Context, s model.PriceSample) error {
	var errs []error
	for _, repo := range r.repos {
		if err := repo.UpsertLatestPrice(ctx, s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close 关闭全部仓储
func (r *Repo) Close() error {
	var errs []error
	for _, repo := range r.repos {
		if err := repo.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var _ port.Repository = (*Repo)(nil)
