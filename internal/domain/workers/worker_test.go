package workers

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWorker_MatchesCategory(t *testing.T) {
	w := Worker{Specializations: []Specialization{
		{Category: "Plumbing", SubCategory: "Pipe Fitting"},
		{Category: "Home Cleaning"},
	}}

	assert.True(t, w.MatchesCategory(""))
	assert.True(t, w.MatchesCategory("plumbing"))
	assert.True(t, w.MatchesCategory("PIPE"))
	assert.True(t, w.MatchesCategory("cleaning"))
	assert.False(t, w.MatchesCategory("electrical"))

	assert.False(t, Worker{}.MatchesCategory("plumbing"))
}

func TestWorker_Name(t *testing.T) {
	assert.Equal(t, "Asha Rao", Worker{FirstName: "Asha", LastName: "Rao"}.Name())
	assert.Equal(t, "Asha", Worker{FirstName: "Asha"}.Name())
}
