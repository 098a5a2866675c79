package transcribe

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitIntoLines(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{name: "empty", text: "", want: []string{}},
		{name: "whitespace only", text: "  \n\t ", want: []string{}},
		{name: "single sentence no punctuation", text: "just one bar", want: []string{"just one bar"}},
		{name: "two sentences", text: "Bar one. Bar two.", want: []string{"Bar one.", "Bar two."}},
		{name: "mixed punctuation", text: "Yo! Who's that? It's me.", want: []string{"Yo!", "Who's that?", "It's me."}},
		{name: "trailing punctuation", text: "Drop it. ", want: []string{"Drop it."}},
		{name: "newline separators", text: "Line one.\nLine two!\n\nLine three?", want: []string{"Line one.", "Line two!", "Line three?"}},
		{name: "punctuation without space stays", text: "3.14 is pi. Mr.Smith rhymes", want: []string{"3.14 is pi.", "Mr.Smith rhymes"}},
		{name: "repeated punctuation", text: "Wait!! What?! Okay.", want: []string{"Wait!!", "What?!", "Okay."}},
		{name: "leading whitespace", text: "   Start here. End there.", want: []string{"Start here.", "End there."}},
		{name: "lone punctuation segment", text: "a. . b", want: []string{"a.", ".", "b"}},
		{name: "no-break space", text: "Bar one.\u00a0Bar two.", want: []string{"Bar one.", "Bar two."}},
		{name: "vertical tab", text: "Bar one.\vBar two.", want: []string{"Bar one.", "Bar two."}},
		{name: "line separator", text: "Bar one.\u2028Bar two.", want: []string{"Bar one.", "Bar two."}},
		{name: "paragraph separator", text: "Bar one!\u2029Bar two.", want: []string{"Bar one!", "Bar two."}},
		{name: "ideographic space", text: "Bar one?\u3000Bar two.", want: []string{"Bar one?", "Bar two."}},
		{name: "next line", text: "Bar one.\u0085Bar two.", want: []string{"Bar one.", "Bar two."}},
		{name: "byte order mark", text: "\uFEFFBar one.\uFEFFBar two.\uFEFF", want: []string{"Bar one.", "Bar two."}},
		{name: "mixed unicode run", text: "Bar one. \u00a0\u2003 Bar two.", want: []string{"Bar one.", "Bar two."}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SplitIntoLines(tt.text))
		})
	}
}

func TestSplitIntoLinesReturnsTrimmedNonEmpty(t *testing.T) {
	inputs := []string{
		"",
		"Hello.   World!  ",
		" . ! ? ",
		"No punctuation at all",
		"One.\tTwo.\r\nThree.",
	}
	for _, in := range inputs {
		for _, line := range SplitIntoLines(in) {
			assert.NotEmpty(t, line)
			assert.Equal(t, strings.TrimSpace(line), line)
		}
	}
}

func TestSplitIntoLinesSentenceCount(t *testing.T) {
	for n := 1; n <= 6; n++ {
		sentences := make([]string, n)
		for i := range sentences {
			sentences[i] = "bar number " + strings.Repeat("x", i+1) + string(".!?"[i%3])
		}
		text := strings.Join(sentences, " ")
		assert.Len(t, SplitIntoLines(text), n, text)
	}
}

func TestSplitIntoLinesReconstructsText(t *testing.T) {
	text := "  I came to spit.   Heat on the beat!\nNo retreat?  "
	lines := SplitIntoLines(text)
	assert.Equal(t, strings.Join(strings.Fields(text), " "), strings.Join(lines, " "))
}

func TestSplitIntoLinesIsPure(t *testing.T) {
	text := "Bar one. Bar two! Bar three?"
	assert.Equal(t, SplitIntoLines(text), SplitIntoLines(text))
}
