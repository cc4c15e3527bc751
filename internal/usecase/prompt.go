package usecase

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"
)

//go:embed templates/*.tmpl
var templatesFS embed.FS

var promptTemplates = template.Must(template.ParseFS(templatesFS, "templates/*.tmpl"))

// BuildQuestionPrompt renders the clarifying-question prompt for the given
// specialist persona and initial project description.
func BuildQuestionPrompt(specialist, requirements string) (string, error) {
	return renderTemplate("question_generation.tmpl", struct {
		Specialist   string
		Requirements string
	}{Specialist: specialist, Requirements: requirements})
}

// BuildSynthesisPrompt renders the SRS-synthesis prompt over the flattened
// conversation transcript. The one-shot flow passes the bare requirement
// statement as the conversation.
func BuildSynthesisPrompt(specialist, conversation string) (string, error) {
	return renderTemplate("srs_synthesis.tmpl", struct {
		Specialist   string
		Conversation string
	}{Specialist: specialist, Conversation: conversation})
}

func renderTemplate(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := promptTemplates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("usecase: render %s: %w", name, err)
	}
	return buf.String(), nil
}

// ParseQuestionList splits a raw model response into one question per line.
// Lines are trimmed, blanks dropped, order preserved, duplicates kept. An
// empty result means the model produced nothing usable.
func ParseQuestionList(raw string) []string {
	var questions []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		questions = append(questions, line)
	}
	return questions
}

var markdownStripper = strings.NewReplacer("*", "", "#", "")

// Normalize strips literal '*' and '#' characters the model may still emit
// despite the plain-text instructions. It is a blunt character strip, not a
// markdown parser: every other character passes through unchanged.
func Normalize(raw string) string {
	return markdownStripper.Replace(raw)
}
