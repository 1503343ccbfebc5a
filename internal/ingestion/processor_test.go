package ingestion

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanText(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "", want: ""},
		{in: "  plain   text\n\twith   gaps ", want: "plain text with gaps"},
		{in: "<p>Great app</p><p>but slow</p>", want: "Great app but slow"},
		{in: "line one<br>line two", want: "line one line two"},
		{in: "Fees &amp; charges", want: "Fees & charges"},
		{in: "see https://example.com/help now", want: "see now"},
		{in: "visit www.example.com today", want: "visit today"},
		{in: "love it 😍🔥 a lot", want: "love it a lot"},
		{in: "ऐप बहुत धीमा है", want: "ऐप बहुत धीमा है"},
		{in: "mail me at jane.doe@example.com", want: "mail me at [REDACTED]"},
		{in: "call +1 415 555 0132 for help", want: "call [REDACTED] for help"},
		{in: "lost 2500 rupees", want: "lost 2500 rupees"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, CleanText(tt.in), "input %q", tt.in)
	}
}

func TestProcessValidatesAndDeduplicates(t *testing.T) {
	raws := []RawReview{
		{ReviewID: "1", Text: "Crashes <b>every</b> time", Rating: 1, Date: "2024-03-04T10:00:00Z"},
		{ReviewID: "", Text: "no id", Rating: 3, Date: "2024-03-04T10:00:00Z"},
		{ReviewID: "3", Text: "😍😍", Rating: 5, Date: "2024-03-04T10:00:00Z"},
		{ReviewID: "4", Text: "rating too high", Rating: 6, Date: "2024-03-04T10:00:00Z"},
		{ReviewID: "5", Text: "bad date", Rating: 2, Date: "last tuesday"},
		{ReviewID: "1", Text: "duplicate id", Rating: 2, Date: "2024-03-05"},
		{ReviewID: " 7 ", Title: "Meh", Text: "fine I guess", Rating: 3, Date: "2024-03-06T08:00:00", ProductTag: "groww"},
	}

	reviews, summary := NewProcessor().Process(raws)

	assert.Equal(t, ValidationSummary{Total: 7, Accepted: 2, Rejected: 4, Duplicates: 1}, summary)
	require.Len(t, reviews, 2)

	assert.Equal(t, "1", reviews[0].ID)
	assert.Equal(t, "Crashes every time", reviews[0].Text)
	assert.Equal(t, time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC), reviews[0].PostedAt)

	assert.Equal(t, "7", reviews[1].ID)
	assert.Equal(t, "Meh", reviews[1].Title)
	assert.Equal(t, "groww", reviews[1].Source)
	assert.Equal(t, time.Date(2024, 3, 6, 8, 0, 0, 0, time.UTC), reviews[1].PostedAt)
}

func TestParseDate(t *testing.T) {
	for _, v := range []string{"2024-03-04T10:00:00Z", "2024-03-04T10:00:00.123+05:30", "2024-03-04 10:00:00", "2024-03-04"} {
		_, err := ParseDate(v)
		assert.NoError(t, err, v)
	}
	_, err := ParseDate("")
	assert.Error(t, err)
	_, err = ParseDate("04/03/2024")
	assert.Error(t, err)
}

func TestLoadPath(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	write("week_2024-03-11.json", `[{"review_id":"b","text":"second week","rating":4,"date":"2024-03-12"}]`)
	write("week_2024-03-04.json", `[{"review_id":"a","text":"first week","rating":2,"date":"2024-03-05"}]`)
	write("notes.json", `[{"review_id":"ignored"}]`)

	p := NewProcessor()

	raws, err := p.LoadPath(dir)
	require.NoError(t, err)
	require.Len(t, raws, 2)
	assert.Equal(t, "a", raws[0].ReviewID)
	assert.Equal(t, "b", raws[1].ReviewID)

	single, err := p.LoadPath(filepath.Join(dir, "notes.json"))
	require.NoError(t, err)
	assert.Len(t, single, 1)

	_, err = p.LoadPath(t.TempDir())
	require.ErrorIs(t, err, ErrNoInput)

	write("week_2024-03-18.json", `{not json`)
	_, err = p.LoadPath(dir)
	require.Error(t, err)
}
