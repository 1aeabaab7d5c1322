package analyzer

import (
	"fmt"
	"strings"
)

// ContinuePrompt is the canned nudge spoken when there is no recent context
// to summarize.
const ContinuePrompt = "You can continue explaining any part of the topic you'd like. Please keep going!"

// subtopicsPrompt asks for the subtopics a thorough explanation should cover.
func subtopicsPrompt(mainTopic string) string {
	return fmt.Sprintf(`List all the key subtopics and concepts someone should cover to thoroughly teach the topic %q to a beginner. Respond ONLY as a numbered list of subtopic names (no explanations).`, mainTopic)
}

// analyzeTopicPrompt asks for a per-subtopic completeness verdict over a
// chunk of the teacher's explanation.
func analyzeTopicPrompt(text string, subtopicNames []string) string {
	return fmt.Sprintf(`You are a smart beginner in a Feynman-technique session. Analyze the following teacher segment for coverage of the subtopics: [%s].

For EACH subtopic, answer:
- Does the segment provide a clear definition for it? (true/false)
- Does it explain its mechanism or how it works? (true/false)
- Does it provide a concrete example? (true/false)

If a field is missing, write a short clarifying question for that field, and indicate which field it corresponds to. Output questions as objects: {"field": "<field_name>", "question": "<question_text>"}

Output STRICT JSON array of objects (one per subtopic):
[
  {
    "subtopic": "<name>",
    "has_definition": <true|false>,
    "has_mechanism": <true|false>,
    "has_example": <true|false>,
    "questions": [{"field": "<field_name>", "question": "<question_text>"}, ...]
  },
  ...
]

Teacher segment:
---
%s
---`, strings.Join(subtopicNames, ", "), text)
}

// analyzeAnswerPrompt asks whether an answer satisfies a question.
func analyzeAnswerPrompt(question, answer string) string {
	return fmt.Sprintf(`You are evaluating a student's answer in a Feynman teaching session.

Question: %q

Student's Answer: %q

Is this answer correct and sufficiently complete for the question asked?
- The answer should demonstrate understanding of the concept
- It doesn't need to be perfect, but should show the student grasps the main idea
- Consider if a beginner would understand the concept from this explanation

Respond STRICTLY as JSON:
{"correct": true|false}

Do NOT add any explanation, just the JSON.`, question, answer)
}

// lastContextPrompt asks for a one-sentence "you left off at X" summary.
func lastContextPrompt(text, mainTopic string, subtopics []string) string {
	return fmt.Sprintf(`You are a Feynman session assistant.
Given the teacher's latest segment:
---
%s
---
and the main topic: %q
and these subtopics: [%s]

Identify (in one short sentence) what subtopic or concept the teacher was last explaining, using ONLY the segment and subtopics.

Respond ONLY as a message to the teacher in this format:
"You last left off on [subtopic or context]. Please keep telling me more about it."

Do NOT add any explanation, only output the message.`, text, mainTopic, strings.Join(subtopics, ", "))
}
