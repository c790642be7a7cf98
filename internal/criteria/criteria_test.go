package criteria

import (
	"testing"
	"time"

	"github.com/lychee-technology/duplex"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatcher_Match(t *testing.T) {
	rec := duplex.Record{
		"status":      "ativo",
		"total":       float64(30),
		"paid":        true,
		"date":        "2024-06-01T10:00:00Z",
		"birth_date":  "1990-02-03",
		"client":      map[string]any{"address": map[string]any{"city": "Recife"}},
		"flat.dotted": "literal",
	}

	tests := []struct {
		name     string
		criteria duplex.Criteria
		want     bool
	}{
		{"empty criteria", duplex.Criteria{}, true},
		{"equal string", duplex.Criteria{"status": "ativo"}, true},
		{"different string", duplex.Criteria{"status": "cancelado"}, false},
		{"membership", duplex.Criteria{"status": []any{"pendente", "ativo"}}, true},
		{"typed membership", duplex.Criteria{"status": []string{"pendente"}}, false},
		{"numbers across types", duplex.Criteria{"total": 30}, true},
		{"number against string", duplex.Criteria{"total": "30"}, false},
		{"bool", duplex.Criteria{"paid": true}, true},
		{"date truncated", duplex.Criteria{"date": "2024-06-01"}, true},
		{"date from time", duplex.Criteria{"date": time.Date(2024, 6, 1, 23, 0, 0, 0, time.UTC)}, true},
		{"suffix date field", duplex.Criteria{"birth_date": "1990-02-03T00:00:00Z"}, true},
		{"date membership", duplex.Criteria{"date": []any{"2024-05-31", "2024-06-01"}}, true},
		{"nested path", duplex.Criteria{"client.address.city": "Recife"}, true},
		{"literal key wins", duplex.Criteria{"flat.dotted": "literal"}, true},
		{"missing field", duplex.Criteria{"employee_id": "e1"}, false},
		{"all must match", duplex.Criteria{"status": "ativo", "paid": false}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := New(tt.criteria, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, m.Match(rec))
		})
	}
}

func TestMatcher_DeclaredDateFields(t *testing.T) {
	rec := duplex.Record{"starts_at": "2024-06-01T08:00:00Z"}

	plain, err := New(duplex.Criteria{"starts_at": "2024-06-01"}, nil)
	require.NoError(t, err)
	assert.False(t, plain.Match(rec))

	dated, err := New(duplex.Criteria{"starts_at": "2024-06-01"}, []string{"starts_at"})
	require.NoError(t, err)
	assert.True(t, dated.Match(rec))
	assert.True(t, dated.IsDateField("client.created_date"))
}

func TestNew_RejectsEmptyField(t *testing.T) {
	_, err := New(duplex.Criteria{" ": 1}, nil)
	var de *duplex.Error
	require.ErrorAs(t, err, &de)
	assert.Equal(t, duplex.ErrCodeInvalidCriteria, de.Code)
}

func TestApply_KeepsOrder(t *testing.T) {
	recs := []duplex.Record{
		{"id": "1", "status": "ativo"},
		{"id": "2", "status": "pendente"},
		{"id": "3", "status": "cancelado"},
		{"id": "4", "status": "ativo"},
		{"id": "5", "status": "finalizado"},
	}
	out, err := Apply(recs, duplex.Criteria{"status": []any{"ativo", "pendente"}}, nil)
	require.NoError(t, err)

	got := make([]string, 0, len(out))
	for _, r := range out {
		got = append(got, r.ID())
	}
	assert.Equal(t, []string{"1", "2", "4"}, got)
}

func TestValueAtPath(t *testing.T) {
	doc := map[string]any{"a": duplex.Record{"b": map[string]any{"c": 1}}}

	assert.Equal(t, 1, ValueAtPath(doc, "a.b.c"))
	assert.Nil(t, ValueAtPath(doc, "a.x.c"))
	assert.Nil(t, ValueAtPath(doc, "a.b.c.d"))
}
