package bench

import (
	"context"
	"fmt"
	"regexp"
	"strconv"

	"github.com/rotisserie/eris"

	"github.com/sells-group/intellimesh/internal/llm"
)

const relevancePrompt = `
You are an expert evaluator. Given the user query and the system answer, first explain step by step how relevant the answer is to the query, then rate the relevance on a scale from 1 to 5, where:
1 = Completely irrelevant
2 = Slightly relevant
3 = Moderately relevant
4 = Mostly relevant
5 = Highly relevant

Query: %s
Answer: %s

First, explain your reasoning. Then, on a new line, respond with only the number (1 to 5).
`

const faithfulnessPrompt = `
You are an expert evaluator. Given the system answer and the supporting context, first explain step by step how faithful the answer is to the context. A faithful answer only contains information present in the context, and does not hallucinate or contradict the context. Then, rate the faithfulness on a scale from 1 to 5, where:
1 = Completely unfaithful (hallucinated, contradicts context)
2 = Slightly faithful
3 = Moderately faithful
4 = Mostly faithful
5 = Fully faithful (all info is in the context)

Context: %s
Answer: %s

First, explain your reasoning. Then, on a new line, respond with only the number (1 to 5).
`

// MaxScore is the top of the judge scale.
const MaxScore = 5

var scoreDigit = regexp.MustCompile(`\b[1-5]\b`)

// Judge grades answers with a completion model.
type Judge struct {
	llm llm.Completer
}

// NewJudge creates a Judge backed by c.
func NewJudge(c llm.Completer) *Judge {
	return &Judge{llm: c}
}

// Relevance rates how well answer addresses query.
func (j *Judge) Relevance(ctx context.Context, query, answer string) (int, error) {
	return j.grade(ctx, fmt.Sprintf(relevancePrompt, query, answer))
}

// Faithfulness rates how closely answer sticks to the support text.
func (j *Judge) Faithfulness(ctx context.Context, support, answer string) (int, error) {
	return j.grade(ctx, fmt.Sprintf(faithfulnessPrompt, support, answer))
}

func (j *Judge) grade(ctx context.Context, prompt string) (int, error) {
	out, err := j.llm.Complete(ctx, prompt)
	if err != nil {
		return 1, eris.Wrap(err, "bench: judge")
	}
	return Score(out), nil
}

// Score returns the last standalone digit 1-5 in out, or 1 when there is none.
func Score(out string) int {
	matches := scoreDigit.FindAllString(out, -1)
	if len(matches) == 0 {
		return 1
	}
	n, _ := strconv.Atoi(matches[len(matches)-1])
	return n
}
