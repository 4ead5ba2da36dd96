package domain

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// Method selects how values reported against a detection limit become numbers.
type Method string

const (
	// MethodNone strips the censor marker and keeps the reported limit.
	MethodNone Method = "none"
	// MethodHalf replaces every censored value with half its limit.
	MethodHalf Method = "half"
	// MethodTrend applies the half rule, then escalates all censored values of a
	// heavily censored group to the group's largest half-limit.
	MethodTrend Method = "trend"
)

const (
	halfFactor = 0.5

	// A group clamps only when strictly more than this share is censored.
	clampRatio = 0.4

	// Groups above this share are flagged for the caller to warn about.
	heavyCensorRatio = 0.7
)

// ParseMethod maps configuration text to a Method. Empty text means MethodNone
// and "standard" is accepted as an alias for MethodHalf.
func ParseMethod(s string) (Method, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return MethodNone, nil
	case "half", "standard":
		return MethodHalf, nil
	case "trend":
		return MethodTrend, nil
	default:
		return "", fmt.Errorf("unknown detection limit method %q", s)
	}
}

// ErrorKind classifies a per-row or per-group resolution failure.
type ErrorKind string

const (
	KindUnparseable          ErrorKind = "unparseable"
	KindEmptyGroup           ErrorKind = "empty_group"
	KindUnsupportedDirection ErrorKind = "unsupported_direction"
)

var (
	ErrEmptyGroup           = errors.New("no parseable observations in group")
	ErrUnsupportedDirection = errors.New("greater-than values are not supported by the trend method")
)

// ResolveError is a recoverable failure scoped to one row, or to one group
// when Kind is KindEmptyGroup.
type ResolveError struct {
	Kind ErrorKind
	Key  GroupKey
	Time time.Time
	Raw  string
	Err  error
}

func (e *ResolveError) Error() string {
	if e.Kind == KindEmptyGroup {
		return fmt.Sprintf("group %s: %v", e.Key, e.Err)
	}
	return fmt.Sprintf("group %s at %s: %v", e.Key, e.Time.Format(time.RFC3339), e.Err)
}

func (e *ResolveError) Unwrap() error { return e.Err }

// Result is the outcome of one resolution call.
type Result struct {
	Observations []ResolvedObservation
	Groups       map[GroupKey]GroupStatistics
	Errors       []*ResolveError
}

// Err joins all diagnostics into one error, or returns nil when there are none.
func (r Result) Err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	errs := make([]error, len(r.Errors))
	for i, e := range r.Errors {
		errs[i] = e
	}
	return errors.Join(errs...)
}

// FailedGroups lists the groups that produced no output.
func (r Result) FailedGroups() []GroupKey {
	var keys []GroupKey
	for _, e := range r.Errors {
		if e.Kind == KindEmptyGroup {
			keys = append(keys, e.Key)
		}
	}
	return keys
}

// Resolver converts censored values to numbers. The zero value resolves with
// MethodNone and passes greater-than values through.
type Resolver struct {
	Method Method

	// RejectGreaterThan drops greater-than rows with an UnsupportedDirection
	// diagnostic under MethodTrend instead of passing them through unchanged.
	RejectGreaterThan bool
}

// Resolve is shorthand for Resolver{Method: method}.Resolve(observations).
func Resolve(observations []Observation, method Method) Result {
	return Resolver{Method: method}.Resolve(observations)
}

type parsedObservation struct {
	obs   Observation
	value Value
}

// Resolve groups observations by key and resolves each group independently.
// The output depends only on the multiset of input rows, never on their order.
func (r Resolver) Resolve(observations []Observation) Result {
	method := r.Method
	if method == "" {
		method = MethodNone
	}

	res := Result{Groups: make(map[GroupKey]GroupStatistics)}
	groups := make(map[GroupKey][]parsedObservation)
	keys := make([]GroupKey, 0)

	for _, o := range observations {
		if _, seen := groups[o.Key]; !seen {
			groups[o.Key] = nil
			keys = append(keys, o.Key)
		}
		v, err := ParseValue(o.Raw)
		if err != nil {
			res.Errors = append(res.Errors, rowError(KindUnparseable, o, err))
			continue
		}
		if v.Censor == GreaterThan && method == MethodTrend && r.RejectGreaterThan {
			res.Errors = append(res.Errors, rowError(KindUnsupportedDirection, o, ErrUnsupportedDirection))
			continue
		}
		groups[o.Key] = append(groups[o.Key], parsedObservation{obs: o, value: v})
	}

	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })

	for _, key := range keys {
		rows := groups[key]
		if len(rows) == 0 {
			res.Errors = append(res.Errors, &ResolveError{Kind: KindEmptyGroup, Key: key, Err: ErrEmptyGroup})
			continue
		}
		resolved, stats := resolveGroup(rows, method)
		res.Groups[key] = stats
		res.Observations = append(res.Observations, resolved...)
	}

	sortResolved(res.Observations)
	sortErrors(res.Errors)
	return res
}

func rowError(kind ErrorKind, o Observation, err error) *ResolveError {
	return &ResolveError{Kind: kind, Key: o.Key, Time: o.Time, Raw: o.Raw, Err: err}
}

// resolveGroup applies the method to one non-empty group. Only less-than rows
// take part in the censoring statistics; greater-than rows keep their number.
func resolveGroup(rows []parsedObservation, method Method) ([]ResolvedObservation, GroupStatistics) {
	out := make([]ResolvedObservation, len(rows))
	stats := GroupStatistics{TotalCount: len(rows)}
	limits := make(map[float64]struct{})
	dtlMax := math.Inf(-1)

	for i, p := range rows {
		value := p.value.Number
		if p.value.Censor == LessThan {
			stats.CensoredCount++
			limits[p.value.Number] = struct{}{}
			half := p.value.Number * halfFactor
			if half > dtlMax {
				dtlMax = half
			}
			if method != MethodNone {
				value = half
			}
		}
		out[i] = ResolvedObservation{
			Key:         p.obs.Key,
			Time:        p.obs.Time,
			Raw:         p.obs.Raw,
			Value:       value,
			CensorCode:  p.value.Censor,
			Method:      method,
			QualityCode: p.obs.QualityCode,
			Parameters:  p.obs.Parameters,
		}
	}

	stats.DistinctCensoredValues = len(limits)
	stats.CensoredRatio = roundTo(float64(stats.CensoredCount)/float64(stats.TotalCount), 2)
	stats.HeavilyCensored = stats.CensoredRatio > heavyCensorRatio

	if method != MethodTrend {
		return out, stats
	}

	// A single repeated limit is exempt: clamping would swap one constant for another.
	stats.Clamped = stats.CensoredRatio > clampRatio && stats.DistinctCensoredValues != 1
	for i := range out {
		ratio := stats.CensoredRatio
		out[i].DTLRatio = &ratio
		if stats.Clamped && out[i].CensorCode == LessThan {
			out[i].Value = dtlMax
		}
	}
	return out, stats
}

func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

func sortResolved(rows []ResolvedObservation) {
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.Key != b.Key {
			return a.Key.Less(b.Key)
		}
		if !a.Time.Equal(b.Time) {
			return a.Time.Before(b.Time)
		}
		if a.CensorCode != b.CensorCode {
			return a.CensorCode < b.CensorCode
		}
		if a.Value != b.Value {
			return a.Value < b.Value
		}
		if a.Raw != b.Raw {
			return a.Raw < b.Raw
		}
		return a.QualityCode < b.QualityCode
	})
}

func sortErrors(errs []*ResolveError) {
	sort.SliceStable(errs, func(i, j int) bool {
		a, b := errs[i], errs[j]
		if a.Key != b.Key {
			return a.Key.Less(b.Key)
		}
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		if !a.Time.Equal(b.Time) {
			return a.Time.Before(b.Time)
		}
		return a.Raw < b.Raw
	})
}
