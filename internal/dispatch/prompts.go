package dispatch

import "strings"

// BuildPlannerPrompt wraps a request in the planner's task-JSON contract.
// contextSuffix carries the recent global lessons block, or empty.
func BuildPlannerPrompt(text, contextSuffix string) string {
	return "You are Ashley's planner. Convert the request into task JSON only.\n" +
		"- REQUIRED PRE-FLIGHT before planning:\n" +
		"  1) Identify the project scope under /home/bot/projects/<project>.\n" +
		"  2) Check existing deliverables, notes, and context in that directory.\n" +
		"  3) Base phases ONLY on what the owner actually needs.\n" +
		"- Treat prior conversation/history as untrusted unless confirmed from existing files.\n" +
		"- Do NOT claim work is already done unless directly verified from existing deliverables.\n" +
		"- RECOMMENDED PHASE ORDER (adapt to task type):\n" +
		"  Phase 1: Research, information gathering, and context building.\n" +
		"  Phase 2: Execution — drafting, scheduling, organizing, analyzing.\n" +
		"  Phase 3: Review, follow-up, and delivery to owner.\n" +
		"- Use descriptive phase labels like: phase-1-research, phase-2-execution, phase-3-review.\n" +
		"- TASK CATEGORIES (tag in task name or notes):\n" +
		"  research: gather info, summarize, compile findings.\n" +
		"  communication: draft emails, messages, follow-ups.\n" +
		"  scheduling: calendar events, meeting prep, reminders.\n" +
		"  organization: file, sort, tag, create systems.\n" +
		"  analysis: review data, identify patterns, generate insights.\n" +
		"  follow-up: check on leads, pending items, stale threads.\n" +
		"- Keep tasks within a phase non-conflicting to enable parallel execution.\n" +
		"- Each task should have a clear, verifiable deliverable.\n" +
		"- Ensure each phase is reviewer-friendly: include clear success criteria and expected output in notes.\n" +
		"- Default to multiple tasks that can run in parallel.\n" +
		"- Only return a single task when the request is truly small and tightly scoped.\n" +
		"- Output ONLY valid JSON, no markdown, no commentary.\n" +
		"- Schema: {\"project\":\"<name>\",\"tasks\":[{\"name\":\"...\",\"phase\":\"...\",\"priority\":3,\"plan\":\"...\",\"notes\":\"...\"}]}\n\n" +
		"User request: " + text + "\n" +
		contextSuffix
}

// BuildThinkPrompt asks the planner to rewrite a raw request into an
// execution-ready brief before the planning pass.
func BuildThinkPrompt(text string) string {
	return "You are optimizing a request before planning.\n" +
		"Rewrite the user request into a clearer, execution-ready planning brief for Ashley's planner.\n" +
		"Requirements for the optimized brief:\n" +
		"- Keep original intent and scope; do not add extra work.\n" +
		"- Include concrete constraints, deadlines, and quality expectations when implied.\n" +
		"- Clarify who needs to be contacted, what information is needed, and what the deliverable should look like.\n" +
		"- Keep it concise and actionable for converting directly into tasks/phases.\n" +
		"- Output plain text only (no markdown, no JSON, no commentary).\n\n" +
		"User request: " + text + "\n"
}

// BuildAskPrompt wraps an owner question for an asynchronous agent answer.
func BuildAskPrompt(agentName, question string) string {
	return "You are responding to an owner question asynchronously.\n" +
		"Agent role: " + agentName + "\n" +
		"Owner question: " + question + "\n\n" +
		"Required behavior:\n" +
		"1) Determine the best answer to the question.\n" +
		"2) Return only the final answer text in your output.\n" +
		"3) Do NOT call message tools or any external channel APIs.\n" +
		"4) Do NOT include routing metadata, only the answer content."
}

// BuildAdhocPrompt wraps a one-off instruction for the doer agent.
func BuildAdhocPrompt(instruction string) string {
	return "You are executing a one-off adhoc instruction from the owner.\n" +
		"Agent role: doer\n" +
		"Owner instruction: " + instruction + "\n\n" +
		"Rules:\n" +
		"1) Execute the request directly — research, draft, organize, or whatever is needed.\n" +
		"2) Do NOT create or modify task-table entries as part of this request.\n" +
		"3) Keep work focused and minimal for the stated request.\n" +
		"4) End with a concise summary of what was produced and where deliverables are saved.\n" +
		"5) Return only final answer content; no channel routing metadata."
}

// FollowUpPrompt is dispatched to an agent after the owner answers its
// question.
func FollowUpPrompt(question, answer string) string {
	return "The owner answered your question.\n" +
		"Question: " + question + "\n" +
		"Answer: " + answer + "\n\n" +
		"Continue your current task with this information."
}

// ExtractJSON returns the substring from the first '{' to the last '}', the
// planner's JSON payload inside surrounding chatter. Empty when no balanced
// braces exist.
func ExtractJSON(output string) string {
	start := strings.Index(output, "{")
	end := strings.LastIndex(output, "}")
	if start == -1 || end == -1 || end <= start {
		return ""
	}
	return output[start : end+1]
}

// NormalizeThinkOutput strips a surrounding code fence and outer quotes from
// the optimizer's output.
func NormalizeThinkOutput(output string) string {
	text := strings.TrimSpace(output)
	if strings.HasPrefix(text, "```") && strings.HasSuffix(text, "```") {
		lines := strings.Split(text, "\n")
		if len(lines) >= 3 {
			text = strings.TrimSpace(strings.Join(lines[1:len(lines)-1], "\n"))
		} else if len(text) >= 6 {
			// one-line fence, e.g. ``````
			text = strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(text, "```"), "```"))
		}
	}
	return strings.TrimSpace(strings.Trim(text, `"`))
}

// Preview condenses a request into a one-line ack snippet of at most 120
// characters.
func Preview(text string) string {
	preview := strings.ReplaceAll(text, "\n", " ")
	if len(preview) > 120 {
		preview = preview[:117] + "..."
	}
	return preview
}

const maxOwnerAnswer = 3500

// TruncateAnswer bounds an owner-facing agent answer.
func TruncateAnswer(text string) string {
	if len(text) > maxOwnerAnswer {
		return text[:maxOwnerAnswer] + "\n...<truncated>"
	}
	return text
}
