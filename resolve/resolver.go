package resolve

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/liamcoop/timecontrol/astro"
	"github.com/liamcoop/timecontrol/daytime"
	"github.com/liamcoop/timecontrol/expression"
	"github.com/liamcoop/timecontrol/internal/logger"
	"github.com/liamcoop/timecontrol/kvstore"
)

const defaultMultiplier = 60000

// Locale carries the time zone and accepted time-of-day layouts.
type Locale struct {
	Location     *time.Location
	ClockLayouts []string
}

// Options configure a Resolver.
type Options struct {
	Locale      Locale
	Location    astro.Location
	Astro       astro.Service
	Expressions *expression.Evaluator
	// Store backs flow/global lookups; may be nil
	Store  kvstore.Store
	Logger *slog.Logger
	Rand   *rand.Rand
	// Env looks up environment values; defaults to os.LookupEnv
	Env func(string) (string, bool)
}

// Resolver resolves properties. The random cache is owned by the resolver (one per
// node); per-event state travels in Context.
type Resolver struct {
	locale Locale
	loc    astro.Location
	astro  astro.Service
	exprs  *expression.Evaluator
	store  kvstore.Store
	env    func(string) (string, bool)
	random *RandomCache
	log    *slog.Logger
}

// New creates a resolver
func New(opts Options) *Resolver {
	if opts.Locale.Location == nil {
		opts.Locale.Location = time.Local
	}
	if opts.Env == nil {
		opts.Env = os.LookupEnv
	}
	return &Resolver{
		locale: opts.Locale,
		loc:    opts.Location,
		astro:  opts.Astro,
		exprs:  opts.Expressions,
		store:  opts.Store,
		env:    opts.Env,
		random: NewRandomCache(opts.Rand),
		log:    logger.OrDefault(opts.Logger, "resolve"),
	}
}

// Locale returns the resolver's locale.
func (r *Resolver) Locale() Locale {
	return r.locale
}

// Random returns the per-node random cache for persistence.
func (r *Resolver) Random() *RandomCache {
	return r.random
}

// Value resolves p. On failure the policy is, in order: last good value from
// c.Temp (logged), the WithDefault value, nil when NoError is set, else a
// *ResolutionError. Every success is written to c.Temp.
func (r *Resolver) Value(p Property, c *Context, opts ...Option) (any, error) {
	return r.resolve(p, c, collect(opts), func(v any) (any, error) { return v, nil })
}

// Float resolves p as a number under the same failure policy as Value.
func (r *Resolver) Float(p Property, c *Context, opts ...Option) (float64, error) {
	v, err := r.resolve(p, c, collect(opts), func(v any) (any, error) { return ToFloat(v) })
	if err != nil || v == nil {
		return 0, err
	}
	return ToFloat(v)
}

// Time resolves the boundary instant of ts and applies its offset.
func (r *Resolver) Time(ts TimeSpec, c *Context) (time.Time, error) {
	base := ts.Base()
	v, err := r.resolve(base, c, policy{}, func(v any) (any, error) {
		return ToTime(v, c.Now, r.locale.ClockLayouts)
	})
	if err != nil {
		return time.Time{}, err
	}
	t := v.(time.Time)

	if ts.HasOffset() {
		off, err := r.Float(Property{Type: ts.OffsetType, Value: ts.Offset}, c)
		if err != nil {
			return time.Time{}, fmt.Errorf("offset: %w", err)
		}
		mult := ts.Multiplier
		if mult == 0 {
			mult = defaultMultiplier
		}
		t = t.Add(time.Duration(off*mult) * time.Millisecond)
	}
	return t, nil
}

func (r *Resolver) resolve(p Property, c *Context, pol policy, convert func(any) (any, error)) (any, error) {
	if p.IsZero() {
		if pol.hasDefault {
			return pol.def, nil
		}
		return nil, nil
	}

	raw, err := r.lookup(p, c)
	if err == nil && raw == nil {
		err = ErrUnresolved
	}
	if err == nil {
		v, cerr := convert(raw)
		if cerr == nil {
			c.Temp.Set(p.Key(), raw)
			return v, nil
		}
		err = cerr
	}

	if cached, ok := c.Temp.Get(p.Key()); ok {
		if v, cerr := convert(cached); cerr == nil {
			logger.WarnFallback(r.log, p.Key(), err)
			return v, nil
		}
	}
	if pol.hasDefault {
		return pol.def, nil
	}
	if pol.noError {
		return nil, nil
	}
	return nil, &ResolutionError{Kind: p.Type, Value: p.Value, Err: err}
}

func (r *Resolver) lookup(p Property, c *Context) (any, error) {
	now := c.Now
	switch p.Type {
	case KindNum:
		return ToFloat(p.Value)
	case KindStr:
		return p.Value, nil
	case KindBool:
		return strconv.ParseBool(strings.TrimSpace(p.Value))
	case KindJSON:
		var v any
		if err := json.Unmarshal([]byte(p.Value), &v); err != nil {
			return nil, fmt.Errorf("invalid json: %w", err)
		}
		return v, nil
	case KindDate:
		return now.Time, nil
	case KindMsg:
		return r.lookupMsg(p.Value, c)
	case KindFlow, KindGlobal:
		return r.lookupStore(string(p.Type), p.Value, c)
	case KindEnv:
		v, ok := r.env(p.Value)
		if !ok {
			return nil, fmt.Errorf("environment variable %s not set", p.Value)
		}
		return v, nil
	case KindEntered:
		return daytime.ParseClock(p.Value, now.Time, r.locale.ClockLayouts)
	case KindSunTime:
		return r.sunTime(p.Value, now)
	case KindMoonTime:
		return r.moonTime(p.Value, now)
	case KindSunAzimuth, KindSunElevation:
		if r.astro == nil {
			return nil, errNoAstro
		}
		pos, err := r.astro.SunPosition(now.Time, r.loc.Latitude, r.loc.Longitude)
		if err != nil {
			return nil, err
		}
		if p.Type == KindSunAzimuth {
			return pos.Azimuth, nil
		}
		return pos.Altitude, nil
	case KindMoonAzimuth, KindMoonElevation:
		if r.astro == nil {
			return nil, errNoAstro
		}
		pos, err := r.astro.MoonPosition(now.Time, r.loc.Latitude, r.loc.Longitude)
		if err != nil {
			return nil, err
		}
		if p.Type == KindMoonAzimuth {
			return pos.Azimuth, nil
		}
		return pos.Altitude, nil
	case KindMoonIllumination:
		if r.astro == nil {
			return nil, errNoAstro
		}
		ill, err := r.astro.MoonIllumination(now.Time)
		if err != nil {
			return nil, err
		}
		return ill.Fraction, nil
	case KindOddDay:
		return now.OddDay, nil
	case KindEvenDay:
		return !now.OddDay, nil
	case KindOddWeek:
		return now.OddWeek, nil
	case KindEvenWeek:
		return !now.OddWeek, nil
	case KindRandomCachedDay, KindRandomCachedWeek:
		lo, hi, err := ParseRange(p.Value)
		if err != nil {
			return nil, err
		}
		if p.Type == KindRandomCachedDay {
			return r.random.Get("day:"+p.Value, now.DayID, lo, hi), nil
		}
		return r.random.Get("week:"+p.Value, daytime.WeekKey(now.Time), lo, hi), nil
	case KindExpr:
		if r.exprs == nil {
			return nil, errors.New("no expression evaluator configured")
		}
		return r.exprs.Eval(p.Value, expression.Vars{
			Msg:     c.Msg,
			Payload: c.Payload,
			Topic:   c.Topic,
			Now:     now.Time,
		})
	default:
		return nil, fmt.Errorf("unsupported property type %q", p.Type)
	}
}

var errNoAstro = errors.New("no astronomical service configured")

func (r *Resolver) lookupMsg(path string, c *Context) (any, error) {
	switch path {
	case "payload":
		return c.Payload, nil
	case "topic":
		return c.Topic, nil
	}
	v, ok := lookupPath(c.Msg, path)
	if !ok {
		return nil, fmt.Errorf("msg.%s not found", path)
	}
	return v, nil
}

func (r *Resolver) lookupStore(scope, path string, c *Context) (any, error) {
	if r.store == nil {
		return nil, fmt.Errorf("no %s store configured", scope)
	}
	v, ok, err := kvstore.GetValue(c.context(), r.store, scope, path)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%s.%s not found", scope, path)
	}
	return v, nil
}

func (r *Resolver) sunTime(name string, now daytime.Now) (any, error) {
	if r.astro == nil {
		return nil, errNoAstro
	}
	times, err := r.astro.SunTimes(now.Time, r.loc.Latitude, r.loc.Longitude, r.loc.Height)
	if err != nil {
		return nil, err
	}
	ev, ok := times[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", astro.ErrUnknownTime, name)
	}
	if !ev.Valid {
		return nil, fmt.Errorf("sun time %s is not valid on %s", name, now.Time.Format("2006-01-02"))
	}
	return ev.Value, nil
}

func (r *Resolver) moonTime(name string, now daytime.Now) (any, error) {
	if r.astro == nil {
		return nil, errNoAstro
	}
	mt, err := r.astro.MoonTimes(now.Time, r.loc.Latitude, r.loc.Longitude)
	if err != nil {
		return nil, err
	}
	var t time.Time
	switch strings.ToLower(name) {
	case "rise":
		t = mt.Rise
	case "set":
		t = mt.Set
	default:
		return nil, fmt.Errorf("%w: moon %s", astro.ErrUnknownTime, name)
	}
	if t.IsZero() {
		return nil, fmt.Errorf("no moon %s on %s", name, now.Time.Format("2006-01-02"))
	}
	return t, nil
}
