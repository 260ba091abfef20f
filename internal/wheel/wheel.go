// Copyright (c) 2026 Keyward Team
// Keyward - minion key lifecycle manager
// This source code is licensed under the MIT license found in the LICENSE file.

// Package wheel exposes the key operations as named functions taking
// keyword arguments, for callers that drive keyward programmatically.
package wheel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/toeirei/keyward/internal/core"
	"github.com/toeirei/keyward/internal/crypto/ssh"
	"github.com/toeirei/keyward/internal/engine"
	"github.com/toeirei/keyward/internal/match"
	"github.com/toeirei/keyward/internal/model"
)

// Kwargs are the keyword arguments of a call.
type Kwargs map[string]any

// Func is one dispatchable function.
type Func func(ctx context.Context, kw Kwargs) (any, error)

// ErrUnknownFunction is returned by Call for a name not in the table.
var ErrUnknownFunction = errors.New("unknown wheel function")

// Dispatcher maps function names to operations on a Services.
type Dispatcher struct {
	svc   *core.Services
	funcs map[string]Func
}

// New returns a dispatcher bound to svc.
func New(svc *core.Services) *Dispatcher {
	d := &Dispatcher{svc: svc}
	d.funcs = map[string]Func{
		"key.list":        d.list,
		"key.list_all":    d.listAll,
		"key.name_match":  d.nameMatch,
		"key.glob_match":  d.globMatch,
		"key.accept":      d.accept,
		"key.accept_dict": d.acceptDict,
		"key.reject":      d.reject,
		"key.reject_dict": d.rejectDict,
		"key.delete":      d.delete,
		"key.delete_dict": d.deleteDict,
		"key.key_str":     d.keyStr,
		"key.finger":      d.finger,
		"key.finger_all":  d.fingerAll,
		"key.gen":         d.gen,
		"key.gen_accept":  d.genAccept,
	}
	return d
}

// Names lists the registered functions, sorted.
func (d *Dispatcher) Names() []string {
	out := make([]string, 0, len(d.funcs))
	for n := range d.funcs {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Call runs the function fun with kw.
func (d *Dispatcher) Call(ctx context.Context, fun string, kw Kwargs) (any, error) {
	f, ok := d.funcs[fun]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFunction, fun)
	}
	if kw == nil {
		kw = Kwargs{}
	}
	return f(ctx, kw)
}

// ParseArgs turns "key=value" arguments into Kwargs. Values that look like
// JSON objects or arrays are decoded. Everything else stays a string, so
// ids such as "007" reach the engine unchanged; flags are parsed on use.
func ParseArgs(args []string) (Kwargs, error) {
	kw := Kwargs{}
	for _, a := range args {
		k, v, ok := strings.Cut(a, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("argument %q is not key=value", a)
		}
		switch {
		case strings.HasPrefix(v, "{") || strings.HasPrefix(v, "["):
			var decoded any
			if err := json.Unmarshal([]byte(v), &decoded); err != nil {
				return nil, fmt.Errorf("argument %s: %w", k, err)
			}
			kw[k] = decoded
		default:
			kw[k] = v
		}
	}
	return kw, nil
}

func (kw Kwargs) ids(name string) []string {
	switch v := kw[name].(type) {
	case string:
		return match.Split(v)
	case []string:
		return v
	case []any:
		var out []string
		for _, x := range v {
			out = append(out, fmt.Sprint(x))
		}
		return out
	case nil:
		return nil
	default:
		return []string{fmt.Sprint(v)}
	}
}

func (kw Kwargs) str(name, def string) string {
	if v, ok := kw[name]; ok && v != nil {
		return fmt.Sprint(v)
	}
	return def
}

func (kw Kwargs) flag(name string) bool {
	switch v := kw[name].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	}
	return false
}

func (kw Kwargs) listing(name string) (model.Listing, error) {
	raw, ok := kw[name]
	if !ok {
		return nil, fmt.Errorf("missing argument %q", name)
	}
	if l, ok := raw.(model.Listing); ok {
		return l, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var l model.Listing
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("argument %q is not a key listing: %w", name, err)
	}
	return l, nil
}

func (kw Kwargs) spec(name string, exact bool) (match.Spec, error) {
	ids := kw.ids(name)
	if len(ids) == 0 {
		return nil, fmt.Errorf("missing argument %q", name)
	}
	if exact {
		return match.ExactSpec(ids), nil
	}
	return match.GlobSpec(ids), nil
}

func (d *Dispatcher) list(_ context.Context, kw Kwargs) (any, error) {
	return match.ByState(d.svc.Store, kw.str("match", "all"))
}

func (d *Dispatcher) listAll(context.Context, Kwargs) (any, error) {
	return d.svc.Store.AllKeys()
}

func (d *Dispatcher) nameMatch(_ context.Context, kw Kwargs) (any, error) {
	return match.Exact(d.svc.Store, kw.ids("match")...)
}

func (d *Dispatcher) globMatch(_ context.Context, kw Kwargs) (any, error) {
	return match.Glob(d.svc.Store, kw.ids("match")...)
}

func (d *Dispatcher) accept(ctx context.Context, kw Kwargs) (any, error) {
	spec, err := kw.spec("match", false)
	if err != nil {
		return nil, err
	}
	return listingOf(d.svc.Engine.Accept(ctx, spec, engine.AcceptOptions{
		IncludeRejected: kw.flag("include_rejected"),
		IncludeDenied:   kw.flag("include_denied"),
	}))
}

func (d *Dispatcher) acceptDict(ctx context.Context, kw Kwargs) (any, error) {
	l, err := kw.listing("match")
	if err != nil {
		return nil, err
	}
	return listingOf(d.svc.Engine.Accept(ctx, match.DictSpec(l), engine.AcceptOptions{
		IncludeRejected: kw.flag("include_rejected"),
		IncludeDenied:   kw.flag("include_denied"),
	}))
}

func (d *Dispatcher) reject(ctx context.Context, kw Kwargs) (any, error) {
	spec, err := kw.spec("match", false)
	if err != nil {
		return nil, err
	}
	return listingOf(d.svc.Engine.Reject(ctx, spec, engine.RejectOptions{
		IncludeAccepted: kw.flag("include_accepted"),
		IncludeDenied:   kw.flag("include_denied"),
	}))
}

func (d *Dispatcher) rejectDict(ctx context.Context, kw Kwargs) (any, error) {
	l, err := kw.listing("match")
	if err != nil {
		return nil, err
	}
	return listingOf(d.svc.Engine.Reject(ctx, match.DictSpec(l), engine.RejectOptions{
		IncludeAccepted: kw.flag("include_accepted"),
		IncludeDenied:   kw.flag("include_denied"),
	}))
}

func (d *Dispatcher) delete(ctx context.Context, kw Kwargs) (any, error) {
	spec, err := kw.spec("match", false)
	if err != nil {
		return nil, err
	}
	return listingOf(d.svc.Engine.Delete(ctx, spec))
}

func (d *Dispatcher) deleteDict(ctx context.Context, kw Kwargs) (any, error) {
	l, err := kw.listing("match")
	if err != nil {
		return nil, err
	}
	return listingOf(d.svc.Engine.Delete(ctx, match.DictSpec(l)))
}

func (d *Dispatcher) keyStr(_ context.Context, kw Kwargs) (any, error) {
	spec, err := kw.spec("match", false)
	if err != nil {
		return nil, err
	}
	return d.svc.Inspector.KeyString(spec)
}

func (d *Dispatcher) finger(_ context.Context, kw Kwargs) (any, error) {
	spec, err := kw.spec("match", false)
	if err != nil {
		return nil, err
	}
	return d.svc.Inspector.Finger(spec, kw.str("hash_type", d.svc.HashType()))
}

func (d *Dispatcher) fingerAll(_ context.Context, kw Kwargs) (any, error) {
	return d.svc.Inspector.FingerAll(kw.str("hash_type", d.svc.HashType()))
}

// gen returns a fresh key pair without storing it.
func (d *Dispatcher) gen(_ context.Context, kw Kwargs) (any, error) {
	kp, err := ssh.Generate(kw.str("id_", ""), "")
	if err != nil {
		return nil, err
	}
	return map[string]string{"pub": kp.Public, "priv": kp.Private}, nil
}

func (d *Dispatcher) genAccept(ctx context.Context, kw Kwargs) (any, error) {
	id := kw.str("id_", "")
	if id == "" {
		return nil, fmt.Errorf("missing argument %q", "id_")
	}
	kp, err := d.svc.GenAccept(ctx, id, kw.flag("force"))
	if err != nil {
		return nil, err
	}
	return map[string]string{"pub": kp.Public, "priv": kp.Private}, nil
}

// listingOf reduces an engine result to its post-transition listing. The
// error is non-nil only when every id failed.
func listingOf(res *model.Result, err error) (any, error) {
	if err != nil {
		return nil, err
	}
	if err := engine.FailedError(res); err != nil {
		return nil, err
	}
	return res.Listing, nil
}
