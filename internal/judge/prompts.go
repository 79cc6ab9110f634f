package judge

import (
	"fmt"
	"strings"
)

const maxPromptContext = 4000

const candidatePrompt = `You are grading a customer-support answer before it is published as an FAQ entry.

Question:
%s

Answer:
%s

Source material:
%s

Score each dimension from 0.0 to 1.0:
- groundedness: every claim is supported by the source material
- helpfulness: the answer resolves the question
- clarity: the answer is easy to read
- completeness: nothing important is missing
- relevance: the answer addresses this question and not another

Reply with only a JSON object:
{"groundedness": 0.0, "helpfulness": 0.0, "clarity": 0.0, "completeness": 0.0, "relevance": 0.0}`

const responsePrompt = `You are evaluating a site assistant's reply in a regression test.

Question:
%s

Assistant reply (routing decision %s):
%s

Retrieved sources:
%s

Reference answer (may be empty):
%s

Score each dimension from 0.0 to 1.0:
- groundedness: the reply is supported by the retrieved sources
- helpfulness: the reply helps the user
- accuracy: the reply agrees with the reference answer, or is factually sound when there is none

Reply with only a JSON object:
{"groundedness": 0.0, "helpfulness": 0.0, "accuracy": 0.0}`

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func buildCandidatePrompt(req CandidateRequest) string {
	return fmt.Sprintf(candidatePrompt, req.Question, req.Answer, truncate(req.Context, maxPromptContext))
}

func buildResponsePrompt(req ResponseRequest) string {
	sources := truncate(strings.Join(req.Sources, "\n---\n"), maxPromptContext)
	return fmt.Sprintf(responsePrompt, req.Question, req.Decision, req.Answer, sources, req.ExpectedAnswer)
}
