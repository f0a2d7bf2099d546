// Package scoring grades submitted answers against an exam definition.
//
// Grading is a pure function of its inputs. It performs no I/O and reads
// neither the clock nor a random source, so the same exam and answers always
// produce the same result.
package scoring

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/stemsi/exstem-session/internal/model"
)

// NotAnsweredText is the answer text of a question without a usable answer.
const NotAnsweredText = "not answered"

// ErrInvalidExam is returned when an exam cannot be graded.
var ErrInvalidExam = errors.New("exam has no questions")

// ParsePolicy parses the configured multiple-choice policy.
func ParsePolicy(raw string) (model.ScoringPolicy, error) {
	switch model.ScoringPolicy(strings.ToLower(strings.TrimSpace(raw))) {
	case "", model.ScoringPolicyExact:
		return model.ScoringPolicyExact, nil
	case model.ScoringPolicyPartial:
		return model.ScoringPolicyPartial, nil
	default:
		return "", fmt.Errorf("unknown scoring policy %q", raw)
	}
}

// Engine grades submissions under one multiple-choice policy.
type Engine struct {
	policy model.ScoringPolicy
}

// NewEngine creates an Engine. An unknown policy falls back to exact match.
func NewEngine(policy model.ScoringPolicy) *Engine {
	if policy != model.ScoringPolicyPartial {
		policy = model.ScoringPolicyExact
	}
	return &Engine{policy: policy}
}

// Policy returns the multiple-choice policy in effect.
func (e *Engine) Policy() model.ScoringPolicy {
	return e.policy
}

// Grade scores answers against exam. Questions are graded in definition order.
// Missing, empty or malformed answers score zero and never fail the grading.
func (e *Engine) Grade(exam *model.Exam, answers model.Answers) (*model.ScoreResult, error) {
	if exam == nil || len(exam.Questions) == 0 {
		return nil, ErrInvalidExam
	}

	res := &model.ScoreResult{
		TotalQuestions: len(exam.Questions),
		Details:        make([]model.AnswerDetail, 0, len(exam.Questions)),
		Policy:         e.policy,
	}

	score := decimal.Zero
	maxScore := decimal.Zero

	for i := range exam.Questions {
		q := &exam.Questions[i]
		detail := e.gradeQuestion(q, string(answers[q.ID]))

		if detail.UserAnswer != "" {
			res.AnsweredQuestions++
		}
		if detail.IsCorrect {
			res.CorrectAnswers++
		}

		score = score.Add(decimal.NewFromFloat(detail.Points))
		maxScore = maxScore.Add(decimal.NewFromFloat(detail.MaxPoints))
		res.Details = append(res.Details, detail)
	}

	res.Score = score.Round(1).InexactFloat64()
	res.TotalScore = maxScore.Round(2).InexactFloat64()
	return res, nil
}

func (e *Engine) gradeQuestion(q *model.Question, raw string) model.AnswerDetail {
	options := optionsWithIDs(q.Options)
	qType := model.NormalizeQuestionType(string(q.Type))

	correct := make([]string, 0, len(options))
	for _, o := range options {
		if o.IsCorrect {
			correct = append(correct, o.ID)
		}
	}

	selected := ParseSelection(raw)
	detail := model.AnswerDetail{
		QuestionID:       q.ID,
		QuestionText:     q.Content,
		UserAnswer:       strings.Join(selected, ","),
		CorrectOptionIDs: correct,
		MaxPoints:        round2(q.Points()),
	}

	if len(selected) == 0 {
		detail.AnswerText = NotAnsweredText
		return detail
	}

	detail.AnswerText = answerText(options, selected)
	detail.IsCorrect = isCorrect(qType, correct, selected)

	switch {
	case detail.IsCorrect:
		detail.Points = round2(q.Points())
	case qType == model.QuestionTypeMultipleChoice && e.policy == model.ScoringPolicyPartial:
		detail.Points = partialPoints(q.Points(), correct, selected)
	}
	return detail
}

// ParseSelection splits a comma-joined answer into distinct, trimmed option
// ids in submission order.
func ParseSelection(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	seen := make(map[string]struct{}, len(parts))
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		id := strings.TrimSpace(p)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func isCorrect(qType model.QuestionType, correct, selected []string) bool {
	switch qType {
	case model.QuestionTypeMultipleChoice:
		return sameSet(correct, selected)
	default:
		return len(correct) == 1 && len(selected) == 1 && correct[0] == selected[0]
	}
}

// partialPoints applies the proportional penalty for wrong selections. Every
// correct option must have been selected; otherwise the question scores zero.
func partialPoints(points float64, correct, selected []string) float64 {
	if len(correct) == 0 {
		return 0
	}
	want := toSet(correct)
	hits, wrong := 0, 0
	for _, id := range selected {
		if _, ok := want[id]; ok {
			hits++
		} else {
			wrong++
		}
	}
	if hits < len(correct) {
		return 0
	}

	ratio := decimal.NewFromInt(int64(wrong)).Div(decimal.NewFromInt(int64(len(correct))))
	factor := decimal.NewFromInt(1).Sub(ratio)
	if factor.IsNegative() {
		return 0
	}
	return decimal.NewFromFloat(points).Mul(factor).Round(2).InexactFloat64()
}

// answerText renders the selected options as "A. text, B. text" following
// definition order. Ids that match no option are listed verbatim.
func answerText(options []model.Option, selected []string) string {
	chosen := toSet(selected)
	parts := make([]string, 0, len(selected))
	for i, o := range options {
		if _, ok := chosen[o.ID]; ok {
			parts = append(parts, fmt.Sprintf("%s. %s", optionLabel(i), o.Text))
			delete(chosen, o.ID)
		}
	}
	for _, id := range selected {
		if _, ok := chosen[id]; ok {
			parts = append(parts, id)
		}
	}
	return strings.Join(parts, ", ")
}

func optionLabel(i int) string {
	if i < 26 {
		return string(rune('A' + i))
	}
	return fmt.Sprintf("%d", i+1)
}

// optionsWithIDs returns the options, copying them only when some option lacks
// an id. The definition itself is never modified.
func optionsWithIDs(options []model.Option) []model.Option {
	for i := range options {
		if options[i].ID == "" {
			out := make([]model.Option, len(options))
			copy(out, options)
			for j := range out {
				if out[j].ID == "" {
					out[j].ID = model.LegacyOptionID(j)
				}
			}
			return out
		}
	}
	return options
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := toSet(a)
	for _, id := range b {
		if _, ok := set[id]; !ok {
			return false
		}
	}
	return true
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func round2(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}
