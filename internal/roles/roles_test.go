package roles

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAudience(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    []string
		wantErr bool
	}{
		{name: "both expands", in: "both", want: []string{Faculty, Student}},
		{name: "single", in: "hod", want: []string{HOD}},
		{name: "list with spaces", in: " Student , admin ", want: []string{Admin, Student}},
		{name: "all", in: "all", want: []string{Admin, Faculty, HOD, Student}},
		{name: "both plus hod", in: "both,hod", want: []string{Faculty, HOD, Student}},
		{name: "unknown", in: "parent", wantErr: true},
		{name: "empty", in: " , ", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := ParseAudience(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, a.Roles())
			assert.False(t, a.Has(Both))
		})
	}
}

func TestValid(t *testing.T) {
	for _, r := range All {
		assert.True(t, Valid(r))
	}
	assert.False(t, Valid(Both))
	assert.False(t, Valid(""))
	assert.Equal(t, []string{Student}, NewAudience(Student, "bogus", Both).Roles())
}
