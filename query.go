package agentmemdb

import (
	"sort"
	"strings"
)

// Overfetch multipliers for the query evaluator's K' = top_k * M policy.
// M must be at least 4 regardless of filter shape; a query with no filter
// beyond the reward floor rarely rejects candidates, so it gets the
// floor, while any other filter can reject arbitrarily many candidates
// and gets a larger multiplier before falling back to the refill loop.
const (
	overfetchMultiplierPlain     = 4
	overfetchMultiplierSelective = 8
)

// QueryOptions parameterizes a similarity query: the embedding to search
// for, how many results to return, and a set of optional filter
// predicates every returned episode must satisfy.
type QueryOptions struct {
	QueryEmbedding []float32
	MinReward      float32
	TopK           int

	TagsAny      []string
	TagsAll      []string
	TaskIDPrefix *string
	TimeAfter    *int64
	TimeBefore   *int64
	Source       *string
	UserID       *string
}

// NewQueryOptions builds the minimal QueryOptions: a query embedding,
// minimum reward floor, and top_k. Use the With* methods to add filters.
func NewQueryOptions(queryEmbedding []float32, minReward float32, topK int) QueryOptions {
	return QueryOptions{QueryEmbedding: queryEmbedding, MinReward: minReward, TopK: topK}
}

func (o QueryOptions) WithTagsAny(tags []string) QueryOptions { o.TagsAny = tags; return o }
func (o QueryOptions) WithTagsAll(tags []string) QueryOptions { o.TagsAll = tags; return o }

func (o QueryOptions) WithTaskIDPrefix(prefix string) QueryOptions {
	o.TaskIDPrefix = &prefix
	return o
}

func (o QueryOptions) WithTimeAfter(ts int64) QueryOptions {
	o.TimeAfter = &ts
	return o
}

func (o QueryOptions) WithTimeBefore(ts int64) QueryOptions {
	o.TimeBefore = &ts
	return o
}

func (o QueryOptions) WithSource(source string) QueryOptions {
	o.Source = &source
	return o
}

func (o QueryOptions) WithUserID(userID string) QueryOptions {
	o.UserID = &userID
	return o
}

// hasSelectiveFilter reports whether opts carries any predicate beyond
// the reward floor, matching the original implementation's choice of a
// larger overfetch multiplier whenever a filter could reject candidates.
func (o QueryOptions) hasSelectiveFilter() bool {
	return o.TagsAny != nil || o.TagsAll != nil || o.TaskIDPrefix != nil ||
		o.TimeAfter != nil || o.TimeBefore != nil || o.Source != nil || o.UserID != nil
}

// matches reports whether ep satisfies every predicate in o.
func (o QueryOptions) matches(ep *Episode) bool {
	if ep.Reward < o.MinReward {
		return false
	}
	if o.TagsAny != nil && !tagsIntersect(o.TagsAny, ep.Tags) {
		return false
	}
	if o.TagsAll != nil && !tagsSuperset(ep.Tags, o.TagsAll) {
		return false
	}
	if o.TaskIDPrefix != nil && !strings.HasPrefix(ep.TaskID, *o.TaskIDPrefix) {
		return false
	}
	if o.TimeAfter != nil {
		if ep.Timestamp == nil || *ep.Timestamp < *o.TimeAfter {
			return false
		}
	}
	if o.TimeBefore != nil {
		if ep.Timestamp == nil || *ep.Timestamp > *o.TimeBefore {
			return false
		}
	}
	if o.Source != nil && (ep.Source == nil || *ep.Source != *o.Source) {
		return false
	}
	if o.UserID != nil && (ep.UserID == nil || *ep.UserID != *o.UserID) {
		return false
	}
	return true
}

func tagsIntersect(want, have []string) bool {
	set := make(map[string]struct{}, len(have))
	for _, t := range have {
		set[t] = struct{}{}
	}
	for _, t := range want {
		if _, ok := set[t]; ok {
			return true
		}
	}
	return false
}

func tagsSuperset(have, want []string) bool {
	set := make(map[string]struct{}, len(have))
	for _, t := range have {
		set[t] = struct{}{}
	}
	for _, t := range want {
		if _, ok := set[t]; !ok {
			return false
		}
	}
	return true
}

// scoredEpisode pairs a resolved episode with its squared distance to
// the query vector, for sorting.
type scoredEpisode struct {
	distSq float32
	ep     *Episode
}

// sortCandidates orders by (distance ascending, timestamp descending with
// undefined last, id ascending for total order) — the recency tie-break
// rule.
func sortCandidates(cands []scoredEpisode) {
	sort.Slice(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.distSq != b.distSq {
			return a.distSq < b.distSq
		}
		ta, tb := tsOrMin(a.ep.Timestamp), tsOrMin(b.ep.Timestamp)
		if ta != tb {
			return ta > tb
		}
		return a.ep.ID < b.ep.ID
	})
}

func tsOrMin(ts *int64) int64 {
	if ts == nil {
		return minInt64
	}
	return *ts
}

const minInt64 = -1 << 63
