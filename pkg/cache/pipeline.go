package cache

import (
	"context"
	"time"
)

// cmdKind tags one of the closed set of pipeline command variants.
// Commands are dispatched explicitly in Pipeline.Exec; there is no
// name-based dynamic dispatch.
type cmdKind uint8

const (
	cmdGet cmdKind = iota
	cmdSet
	cmdSetEx
	cmdDel
	cmdExists
	cmdIncr
	cmdDecr
	cmdIncrByFloat
	cmdExpire
	cmdZAdd
	cmdZRem
	cmdZRemRangeByScore
	cmdZCard
	cmdHSet
)

// command is one queued pipeline command with its arguments.
type command struct {
	kind    cmdKind
	key     string
	value   string
	ttl     time.Duration
	delta   float64
	min     float64
	max     float64
	members []Z
	remove  []string
	fields  map[string]string
}

// Result is the outcome of a single pipeline command. Val holds the
// command's native return value (string, int64, float64, bool, or nil).
type Result struct {
	Val any
	Err error
}

// Pipeline queues commands for batched execution against a Store.
//
// Exec runs the queued commands sequentially, not atomically: other callers
// may interleave between commands, and a command failure does not abort or
// roll back the batch. Each command yields its own Result so partial failure
// is observable.
type Pipeline struct {
	store *Store
	cmds  []command
}

// Pipeline returns a new empty command batch for this store.
func (s *Store) Pipeline() *Pipeline {
	return &Pipeline{store: s}
}

// Len returns the number of queued commands.
func (p *Pipeline) Len() int {
	return len(p.cmds)
}

// Get queues a Get command.
func (p *Pipeline) Get(key string) *Pipeline {
	p.cmds = append(p.cmds, command{kind: cmdGet, key: key})
	return p
}

// Set queues a Set command.
func (p *Pipeline) Set(key, value string) *Pipeline {
	p.cmds = append(p.cmds, command{kind: cmdSet, key: key, value: value})
	return p
}

// SetEx queues a SetEx command.
func (p *Pipeline) SetEx(key, value string, ttl time.Duration) *Pipeline {
	p.cmds = append(p.cmds, command{kind: cmdSetEx, key: key, value: value, ttl: ttl})
	return p
}

// Del queues a Del command for a single key.
func (p *Pipeline) Del(key string) *Pipeline {
	p.cmds = append(p.cmds, command{kind: cmdDel, key: key})
	return p
}

// Exists queues an Exists command.
func (p *Pipeline) Exists(key string) *Pipeline {
	p.cmds = append(p.cmds, command{kind: cmdExists, key: key})
	return p
}

// Incr queues an Incr command.
func (p *Pipeline) Incr(key string) *Pipeline {
	p.cmds = append(p.cmds, command{kind: cmdIncr, key: key})
	return p
}

// Decr queues a Decr command.
func (p *Pipeline) Decr(key string) *Pipeline {
	p.cmds = append(p.cmds, command{kind: cmdDecr, key: key})
	return p
}

// IncrByFloat queues an IncrByFloat command.
func (p *Pipeline) IncrByFloat(key string, delta float64) *Pipeline {
	p.cmds = append(p.cmds, command{kind: cmdIncrByFloat, key: key, delta: delta})
	return p
}

// Expire queues an Expire command.
func (p *Pipeline) Expire(key string, ttl time.Duration) *Pipeline {
	p.cmds = append(p.cmds, command{kind: cmdExpire, key: key, ttl: ttl})
	return p
}

// ZAdd queues a ZAdd command.
func (p *Pipeline) ZAdd(key string, members ...Z) *Pipeline {
	p.cmds = append(p.cmds, command{kind: cmdZAdd, key: key, members: members})
	return p
}

// ZRem queues a ZRem command.
func (p *Pipeline) ZRem(key string, members ...string) *Pipeline {
	p.cmds = append(p.cmds, command{kind: cmdZRem, key: key, remove: members})
	return p
}

// ZRemRangeByScore queues a ZRemRangeByScore command.
func (p *Pipeline) ZRemRangeByScore(key string, min, max float64) *Pipeline {
	p.cmds = append(p.cmds, command{kind: cmdZRemRangeByScore, key: key, min: min, max: max})
	return p
}

// ZCard queues a ZCard command.
func (p *Pipeline) ZCard(key string) *Pipeline {
	p.cmds = append(p.cmds, command{kind: cmdZCard, key: key})
	return p
}

// HSet queues an HSet command.
func (p *Pipeline) HSet(key string, fields map[string]string) *Pipeline {
	p.cmds = append(p.cmds, command{kind: cmdHSet, key: key, fields: fields})
	return p
}

// Exec runs all queued commands in order and returns one Result per
// command. Errors are collected, never short-circuited. The queue is
// cleared so the pipeline can be reused.
func (p *Pipeline) Exec(ctx context.Context) []Result {
	results := make([]Result, len(p.cmds))

	for i, cmd := range p.cmds {
		results[i] = p.store.execCommand(ctx, cmd)
	}

	p.cmds = p.cmds[:0]
	return results
}

// execCommand dispatches one tagged command to its store operation.
func (s *Store) execCommand(ctx context.Context, cmd command) Result {
	switch cmd.kind {
	case cmdGet:
		v, err := s.Get(ctx, cmd.key)
		return Result{Val: v, Err: err}
	case cmdSet:
		return Result{Err: s.Set(ctx, cmd.key, cmd.value)}
	case cmdSetEx:
		return Result{Err: s.SetEx(ctx, cmd.key, cmd.value, cmd.ttl)}
	case cmdDel:
		n, err := s.Del(ctx, cmd.key)
		return Result{Val: int64(n), Err: err}
	case cmdExists:
		ok, err := s.Exists(ctx, cmd.key)
		return Result{Val: ok, Err: err}
	case cmdIncr:
		n, err := s.Incr(ctx, cmd.key)
		return Result{Val: n, Err: err}
	case cmdDecr:
		n, err := s.Decr(ctx, cmd.key)
		return Result{Val: n, Err: err}
	case cmdIncrByFloat:
		f, err := s.IncrByFloat(ctx, cmd.key, cmd.delta)
		return Result{Val: f, Err: err}
	case cmdExpire:
		ok, err := s.Expire(ctx, cmd.key, cmd.ttl)
		return Result{Val: ok, Err: err}
	case cmdZAdd:
		n, err := s.ZAdd(ctx, cmd.key, cmd.members...)
		return Result{Val: int64(n), Err: err}
	case cmdZRem:
		n, err := s.ZRem(ctx, cmd.key, cmd.remove...)
		return Result{Val: int64(n), Err: err}
	case cmdZRemRangeByScore:
		n, err := s.ZRemRangeByScore(ctx, cmd.key, cmd.min, cmd.max)
		return Result{Val: int64(n), Err: err}
	case cmdZCard:
		n, err := s.ZCard(ctx, cmd.key)
		return Result{Val: n, Err: err}
	case cmdHSet:
		return Result{Err: s.HSet(ctx, cmd.key, cmd.fields)}
	default:
		return Result{Err: ErrWrongType}
	}
}
