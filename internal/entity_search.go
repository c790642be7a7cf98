package internal

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/lychee-technology/duplex"
	"go.uber.org/zap"
)

// Search returns records whose name_normalized starts with the normalized
// term, ascending, capped at limit. Search never fails on Cache errors; it
// returns an empty result instead.
func (s *searchableEntity) Search(ctx context.Context, term string, limit int) ([]duplex.Record, error) {
	prefix := NormalizeText(strings.TrimSpace(term))
	if utf8.RuneCountInString(prefix) < s.f.search.MinTermLength {
		return emptyRecords(), nil
	}
	if limit <= 0 {
		limit = s.f.search.DefaultLimit
	}

	start := time.Now()
	recs, err := s.search(ctx, prefix, limit)
	EmitSearchLatency(ctx, s.name, time.Since(start).Milliseconds(), len(recs))
	return recs, err
}

func (s *searchableEntity) search(ctx context.Context, prefix string, limit int) ([]duplex.Record, error) {
	if !s.cacheEnabled() {
		if s.cacheOnly {
			return emptyRecords(), nil
		}
		return s.searchPrimary(ctx, prefix, limit)
	}

	upper := prefix + SearchSentinel
	recs, err := s.f.cache.Query(ctx, s.name, duplex.Query{
		Field:     duplex.FieldNameNormalized,
		GTE:       &prefix,
		LTE:       &upper,
		OrderBy:   duplex.FieldNameNormalized,
		SortOrder: duplex.SortOrderAsc,
		Limit:     limit,
	})
	if err != nil {
		if errors.Is(err, duplex.ErrIndexMissing) {
			zap.S().Warnw("search index missing, returning no results", "entity", s.name, "field", duplex.FieldNameNormalized)
			return emptyRecords(), nil
		}
		err = s.cacheErr(err, "")
		s.logSwallowed("search failed", "", err)
		return emptyRecords(), nil
	}
	s.cacheOK()
	return nonNil(recs), nil
}

// searchPrimary scans Primary when the Cache is disabled.
func (s *searchableEntity) searchPrimary(ctx context.Context, prefix string, limit int) ([]duplex.Record, error) {
	all, err := s.primary.List(ctx, s.name)
	if err != nil {
		return nil, s.primaryErr(err, "")
	}
	type hit struct {
		key string
		rec duplex.Record
	}
	hits := make([]hit, 0)
	for _, rec := range all {
		key, ok := rec[duplex.FieldNameNormalized].(string)
		if !ok {
			name, hasName := rec.Name()
			if !hasName {
				continue
			}
			key = NormalizeText(name)
		}
		if strings.HasPrefix(key, prefix) {
			hits = append(hits, hit{key: key, rec: rec})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].key < hits[j].key })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]duplex.Record, len(hits))
	for i, h := range hits {
		out[i] = h.rec
	}
	return out, nil
}
